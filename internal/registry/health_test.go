package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/metrics"
	"github.com/dreamware/cbfront/internal/transport"
	"github.com/dreamware/cbfront/internal/transport/memory"
)

// flakyBucket fails Ping while down is set
type flakyBucket struct {
	transport.Bucket
	down *atomic.Bool
}

func (b flakyBucket) Ping(ctx context.Context) error {
	if b.down.Load() {
		return errors.New("ping timeout")
	}
	return b.Bucket.Ping(ctx)
}

type flakyConnector struct {
	inner *memory.Cluster
	mu    sync.Mutex
	down  map[string]*atomic.Bool
}

func newFlakyConnector(names ...string) *flakyConnector {
	return &flakyConnector{inner: newMemory(names...), down: make(map[string]*atomic.Bool)}
}

func (c *flakyConnector) Open(ctx context.Context, cfg cluster.BucketConfig) (transport.Bucket, error) {
	b, err := c.inner.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	flag := &atomic.Bool{}
	c.down[cfg.Name] = flag
	return flakyBucket{Bucket: b, down: flag}, nil
}

// healthGauge keeps the last health value reported per bucket
type healthGauge struct {
	metrics.Metrics
	mu      sync.Mutex
	healthy map[string]bool
}

func newHealthGauge() *healthGauge {
	return &healthGauge{Metrics: metrics.Nop(), healthy: make(map[string]bool)}
}

func (g *healthGauge) SetBucketHealthy(bucket string, healthy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthy[bucket] = healthy
}

func (g *healthGauge) BucketRemoved(bucket string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.healthy, bucket)
}

func (g *healthGauge) snapshot() map[string]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]bool, len(g.healthy))
	for k, v := range g.healthy {
		out[k] = v
	}
	return out
}

func (c *flakyConnector) setDown(name string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[name].Store(down)
}

func TestHealthMonitorTransitions(t *testing.T) {
	conn := newFlakyConnector("users", "orders")
	reg, err := New(context.Background(), config("users", "orders"), conn)
	require.NoError(t, err)

	m := NewHealthMonitor(reg, HealthConfig{MaxFailures: 2})
	unhealthy := make(chan string, 4)
	m.SetOnUnhealthy(func(bucket string) { unhealthy <- bucket })

	ctx := context.Background()
	m.CheckNow(ctx)
	assert.True(t, m.IsHealthy("users"))
	assert.True(t, m.IsHealthy("orders"))

	conn.setDown("orders", true)
	m.CheckNow(ctx)
	h := m.BucketHealth("orders")
	require.NotNil(t, h)
	assert.Equal(t, 1, h.ConsecutiveFails)
	assert.Equal(t, StatusHealthy, h.Status, "one failure is below the threshold")

	m.CheckNow(ctx)
	assert.False(t, m.IsHealthy("orders"))
	assert.Equal(t, StatusUnhealthy, m.BucketHealth("orders").Status)

	select {
	case got := <-unhealthy:
		assert.Equal(t, "orders", got)
	case <-time.After(time.Second):
		t.Fatal("unhealthy callback not invoked")
	}

	// Further failures do not repeat the callback
	m.CheckNow(ctx)
	select {
	case got := <-unhealthy:
		t.Fatalf("unexpected second callback for %s", got)
	case <-time.After(50 * time.Millisecond):
	}

	conn.setDown("orders", false)
	m.CheckNow(ctx)
	h = m.BucketHealth("orders")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Zero(t, h.ConsecutiveFails)
}

func TestHealthMonitorForgetsDisconnected(t *testing.T) {
	reg, err := New(context.Background(), config("users", "orders"), newMemory("users", "orders"))
	require.NoError(t, err)

	m := NewHealthMonitor(reg, HealthConfig{})
	m.CheckNow(context.Background())
	assert.Len(t, m.AllBucketHealth(), 2)

	require.NoError(t, reg.Disconnect(context.Background(), "orders"))
	m.CheckNow(context.Background())

	all := m.AllBucketHealth()
	assert.Len(t, all, 1)
	assert.Contains(t, all, "users")
	assert.Nil(t, m.BucketHealth("orders"))
	assert.False(t, m.IsHealthy("orders"))
}

func TestHealthMetricClearedOnDisconnect(t *testing.T) {
	gauge := newHealthGauge()
	reg, err := New(context.Background(), config("users", "orders"), newMemory("users", "orders"), WithMetrics(gauge))
	require.NoError(t, err)

	m := NewHealthMonitor(reg, HealthConfig{})
	m.CheckNow(context.Background())
	assert.Equal(t, map[string]bool{"users": true, "orders": true}, gauge.snapshot())

	require.NoError(t, reg.Disconnect(context.Background(), "orders"))
	assert.Equal(t, map[string]bool{"users": true}, gauge.snapshot())

	m.CheckNow(context.Background())
	assert.Equal(t, map[string]bool{"users": true}, gauge.snapshot())
}

func TestHealthMonitorStartStop(t *testing.T) {
	reg, err := New(context.Background(), config("users"), newMemory("users"))
	require.NoError(t, err)

	m := NewHealthMonitor(reg, HealthConfig{Interval: 10 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.IsHealthy("users") }, time.Second, 5*time.Millisecond)

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestHealthConfigDefaults(t *testing.T) {
	cfg := HealthConfig{}.withDefaults()
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxFailures)
}
