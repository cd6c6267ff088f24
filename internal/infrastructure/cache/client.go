package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/therapy-core/internal/infrastructure/config"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 200

// Client is the shared state store used for presence and inbound
// deduplication. Every call is bounded by the configured operation timeout.
//
// Thread Safety:
//   - All methods are safe for concurrent use; go-redis pools connections.
type Client struct {
	rdb       redis.UniversalClient
	opTimeout time.Duration
}

// Connect opens a Redis client and verifies it with PING.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: Redis settings from config.yaml
//
// Returns:
//   - *Client: Ready-to-use store
//   - error: ErrUnavailable if the server cannot be reached
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
	})

	c := New(rdb, time.Duration(cfg.OpTimeout)*time.Second)
	if err := c.Ping(ctx); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return c, nil
}

// New wraps an existing go-redis client. A zero opTimeout leaves calls
// bounded only by the caller's context.
func New(rdb redis.UniversalClient, opTimeout time.Duration) *Client {
	return &Client{rdb: rdb, opTimeout: opTimeout}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	return nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Ping checks that the store answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// HealthCheck is Ping under the name the API health endpoint expects.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx)
}

// SetStatus records a device's cached presence status with no expiry.
func (c *Client) SetStatus(ctx context.Context, deviceID int64, status string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, StatusKey(deviceID), status, 0).Err(); err != nil {
		return unavailable("set status", err)
	}
	return nil
}

// Status returns a device's cached presence status, or ErrMiss.
func (c *Client) Status(ctx context.Context, deviceID int64) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	v, err := c.rdb.Get(ctx, StatusKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", unavailable("get status", err)
	}
	return v, nil
}

// TouchHeartbeat stores the heartbeat time and resets its expiry to ttl.
func (c *Client) TouchHeartbeat(ctx context.Context, deviceID int64, at time.Time, ttl time.Duration) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Set(ctx, HeartbeatKey(deviceID), at.UnixMilli(), ttl).Err(); err != nil {
		return unavailable("set heartbeat", err)
	}
	return nil
}

// ClearHeartbeat removes a device's heartbeat key. Missing keys are not an error.
func (c *Client) ClearHeartbeat(ctx context.Context, deviceID int64) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.rdb.Del(ctx, HeartbeatKey(deviceID)).Err(); err != nil {
		return unavailable("delete heartbeat", err)
	}
	return nil
}

// Heartbeats scans every heartbeat key and returns the recorded times by
// device id. Keys that expire mid-scan or hold garbage are skipped.
func (c *Client) Heartbeats(ctx context.Context) (map[int64]time.Time, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	keys, err := c.scan(ctx, heartbeatPrefix+"*")
	if err != nil {
		return nil, err
	}

	out := make(map[int64]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("read heartbeats", err)
	}
	for i, key := range keys {
		id, ok := deviceIDFromKey(key, heartbeatPrefix)
		if !ok {
			continue
		}
		s, ok := values[i].(string)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out[id] = time.UnixMilli(ms)
	}
	return out, nil
}

// OnlineDevices returns the ids whose cached status is "online".
func (c *Client) OnlineDevices(ctx context.Context) ([]int64, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	keys, err := c.scan(ctx, statusPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("read statuses", err)
	}

	var ids []int64
	for i, key := range keys {
		if s, ok := values[i].(string); !ok || s != "online" {
			continue
		}
		if id, ok := deviceIDFromKey(key, statusPrefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SetIfAbsent sets key to a sentinel with the given TTL only if it does not
// already exist. It reports whether this call created the key.
func (c *Client) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	created, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return created, nil
}

func (c *Client) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan "+match, err)
	}
	return keys, nil
}
