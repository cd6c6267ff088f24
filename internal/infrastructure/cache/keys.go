package cache

import (
	"strconv"
	"strings"
)

// Key layout shared with every other instance reading the store.
const (
	statusPrefix    = "presence:status:"
	heartbeatPrefix = "presence:heartbeat:"
	dedupPrefix     = "msg:dedup:"
)

// StatusKey holds "online" or "offline" for a device. It has no TTL.
func StatusKey(deviceID int64) string {
	return statusPrefix + strconv.FormatInt(deviceID, 10)
}

// HeartbeatKey holds the epoch-millisecond time of the last heartbeat.
// Its TTL equals the heartbeat timeout.
func HeartbeatKey(deviceID int64) string {
	return heartbeatPrefix + strconv.FormatInt(deviceID, 10)
}

// DedupKey marks an inbound message id as already seen.
func DedupKey(messageID string) string {
	return dedupPrefix + messageID
}

// deviceIDFromKey parses the trailing device id of a presence key.
func deviceIDFromKey(key, prefix string) (int64, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
