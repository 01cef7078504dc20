package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Health status values reported by the monitor.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// BucketHealth tracks the health status of a single registered bucket.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type BucketHealth struct {
	LastCheck        time.Time // Timestamp of the last ping attempt
	LastHealthy      time.Time // Timestamp of the last successful ping
	Bucket           string    // Bucket name
	Status           string    // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed pings
}

// HealthConfig tunes a HealthMonitor. Zero fields take the defaults.
type HealthConfig struct {
	Interval    time.Duration // How often every bucket is pinged (default 10s)
	Timeout     time.Duration // Bound on a single ping (default 2s)
	MaxFailures int           // Consecutive failures before a bucket is unhealthy (default 3)
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	return c
}

// HealthMonitor periodically pings every bucket in a Registry and tracks
// which ones answer. Buckets that are disconnected stop being tracked on the
// next round.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	reg         *Registry
	buckets     map[string]*BucketHealth
	onUnhealthy func(bucket string)
	cfg         HealthConfig
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewHealthMonitor creates a monitor for reg. Call Start to begin checking.
//
// Example:
//
//	monitor := registry.NewHealthMonitor(reg, registry.HealthConfig{Interval: 5 * time.Second})
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewHealthMonitor(reg *Registry, cfg HealthConfig) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		reg:     reg,
		buckets: make(map[string]*BucketHealth),
		cfg:     cfg.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a bucket transitions to
// unhealthy. The callback runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(bucket string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// Start checks every bucket immediately and then once per interval.
// It blocks until ctx is done or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()
	if h.ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.reg.log.Info("health monitor started", zap.Duration("interval", h.cfg.Interval))

	h.CheckNow(ctx)
	for {
		select {
		case <-ticker.C:
			h.CheckNow(ctx)
		case <-ctx.Done():
			h.reg.log.Info("health monitor stopping", zap.Error(ctx.Err()))
			return
		case <-h.ctx.Done():
			h.reg.log.Info("health monitor stopping")
			return
		}
	}
}

// Stop cancels a running Start and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// CheckNow pings every registered bucket once, concurrently, and waits for
// the results.
func (h *HealthMonitor) CheckNow(ctx context.Context) {
	entries := h.reg.snapshot()

	var wg sync.WaitGroup
	for name, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
			defer cancel()
			h.record(name, e.Conn.Ping(pctx))
		}()
	}
	wg.Wait()

	// Forget buckets that were disconnected
	h.mu.Lock()
	for name := range h.buckets {
		if _, ok := entries[name]; !ok {
			delete(h.buckets, name)
			h.reg.metrics.BucketRemoved(name)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) record(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	health, ok := h.buckets[name]
	if !ok {
		health = &BucketHealth{Bucket: name, Status: StatusUnknown, LastHealthy: now}
		h.buckets[name] = health
	}
	health.LastCheck = now

	if err != nil {
		health.ConsecutiveFails++
		h.reg.log.Warn("bucket ping failed",
			zap.String("bucket", name),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("max_failures", h.cfg.MaxFailures),
			zap.Error(err))

		if health.ConsecutiveFails >= h.cfg.MaxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.reg.metrics.SetBucketHealthy(name, false)
			h.reg.log.Error("bucket marked unhealthy",
				zap.String("bucket", name),
				zap.Int("failures", health.ConsecutiveFails))
			if h.onUnhealthy != nil {
				go h.onUnhealthy(name)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.reg.log.Info("bucket recovered", zap.String("bucket", name))
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = now
	h.reg.metrics.SetBucketHealthy(name, true)
}

// BucketHealth returns a copy of the named bucket's health, or nil if it is
// not being tracked.
func (h *HealthMonitor) BucketHealth(name string) *BucketHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.buckets[name]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// AllBucketHealth returns a copy of every tracked bucket's health.
func (h *HealthMonitor) AllBucketHealth() map[string]*BucketHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*BucketHealth, len(h.buckets))
	for name, health := range h.buckets {
		c := *health
		out[name] = &c
	}
	return out
}

// IsHealthy reports whether the named bucket answered its last ping.
// Untracked buckets are not healthy.
func (h *HealthMonitor) IsHealthy(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.buckets[name]
	return ok && health.Status == StatusHealthy
}
