package presence

import (
	"context"
	"slices"
	"time"

	"github.com/nerrad567/therapy-core/internal/device"
)

// Offliner forces a device offline. Implemented by Reconciler.
type Offliner interface {
	ForceOffline(ctx context.Context, deviceID int64, reason Reason)
}

// HeartbeatSweep finds devices the cache believes are online whose
// heartbeat is missing or older than the timeout.
type HeartbeatSweep struct {
	cache    Cache
	offliner Offliner
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// NewHeartbeatSweep creates a heartbeat sweep.
//
// Parameters:
//   - cache: Shared state store holding status and heartbeat keys
//   - offliner: Receives ForceOffline for each stale device
//   - timeout: Heartbeat age after which a device is considered gone
//   - interval: Time between sweep cycles
func NewHeartbeatSweep(cache Cache, offliner Offliner, timeout, interval time.Duration) *HeartbeatSweep {
	return &HeartbeatSweep{
		cache:    cache,
		offliner: offliner,
		timeout:  timeout,
		interval: interval,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the sweep.
func (s *HeartbeatSweep) SetLogger(logger Logger) {
	s.logger = logger
}

// Run sweeps every interval until ctx is cancelled.
func (s *HeartbeatSweep) Run(ctx context.Context) error {
	return runEvery(ctx, s.interval, func(ctx context.Context) { s.SweepOnce(ctx) })
}

// SweepOnce runs a single cycle and returns the devices it forced offline.
//
// The cycle is skipped when the cache does not answer a ping, so a cache
// outage never looks like every device timing out at once.
func (s *HeartbeatSweep) SweepOnce(ctx context.Context) []int64 {
	if err := s.cache.Ping(ctx); err != nil {
		s.logger.Warn("heartbeat sweep skipped: cache unavailable", "error", err)
		return nil
	}

	beats, err := s.cache.Heartbeats(ctx)
	if err != nil {
		s.logger.Warn("heartbeat sweep: reading heartbeats failed", "error", err)
		return nil
	}
	online, err := s.cache.OnlineDevices(ctx)
	if err != nil {
		s.logger.Warn("heartbeat sweep: reading online devices failed", "error", err)
		return nil
	}

	now := s.now()
	var stale []int64
	for id, at := range beats {
		if now.Sub(at) > s.timeout {
			stale = append(stale, id)
		}
	}
	for _, id := range online {
		if _, ok := beats[id]; !ok {
			// Key expired or never written.
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)
	stale = slices.Compact(stale)

	for _, id := range stale {
		s.logger.Info("heartbeat timeout", "device_id", id)
		s.offliner.ForceOffline(ctx, id, ReasonHeartbeatTimeout)
	}
	return stale
}

// LivenessSweep cross-checks every device believed online against the
// session registry.
//
// The candidate set is the union of cache-online and durable-online
// devices, so a device left online in the database by a crashed process is
// healed on the first cycle after restart. A cycle that cannot reach the
// cache does nothing, like the heartbeat sweep.
type LivenessSweep struct {
	cache    Cache
	devices  device.Repository
	sessions Sessions
	offliner Offliner
	interval time.Duration
	logger   Logger
}

// NewLivenessSweep creates a liveness sweep.
func NewLivenessSweep(cache Cache, devices device.Repository, sessions Sessions, offliner Offliner, interval time.Duration) *LivenessSweep {
	return &LivenessSweep{
		cache:    cache,
		devices:  devices,
		sessions: sessions,
		offliner: offliner,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the sweep.
func (s *LivenessSweep) SetLogger(logger Logger) {
	s.logger = logger
}

// Run sweeps every interval until ctx is cancelled. The first cycle runs
// immediately.
func (s *LivenessSweep) Run(ctx context.Context) error {
	s.SweepOnce(ctx)
	return runEvery(ctx, s.interval, func(ctx context.Context) { s.SweepOnce(ctx) })
}

// SweepOnce runs a single cycle and returns the devices it forced offline.
func (s *LivenessSweep) SweepOnce(ctx context.Context) []int64 {
	if err := s.cache.Ping(ctx); err != nil {
		s.logger.Warn("liveness sweep skipped: cache unavailable", "error", err)
		return nil
	}
	candidates, err := s.cache.OnlineDevices(ctx)
	if err != nil {
		s.logger.Warn("liveness sweep skipped: reading cache failed", "error", err)
		return nil
	}

	if closed := s.sessions.SweepClosed(); len(closed) > 0 {
		s.logger.Debug("pruned closed sessions", "devices", closed)
	}
	if devs, err := s.devices.ListByStatus(ctx, device.StatusOnline); err != nil {
		s.logger.Warn("liveness sweep: reading durable records failed", "error", err)
	} else {
		for _, d := range devs {
			candidates = append(candidates, d.ID)
		}
	}
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	var lost []int64
	for _, id := range candidates {
		if s.sessions.IsLive(id) {
			continue
		}
		lost = append(lost, id)
		s.logger.Info("no live session for online device", "device_id", id)
		s.offliner.ForceOffline(ctx, id, ReasonConnectionLost)
	}
	return lost
}

// runEvery calls fn on each tick until ctx is cancelled.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
