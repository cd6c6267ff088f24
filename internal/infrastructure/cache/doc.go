// Package cache is the shared state store for device presence and
// inbound message deduplication, backed by Redis.
//
// Key layout:
//
//	presence:status:{deviceId}     "online" | "offline"   no TTL
//	presence:heartbeat:{deviceId}  epoch milliseconds     TTL = heartbeat timeout
//	msg:dedup:{messageId}          "1"                    TTL = dedup window
//
// The store may be shared by several service instances. Every failure is
// wrapped in ErrUnavailable so callers can degrade without inspecting
// Redis error types.
package cache
