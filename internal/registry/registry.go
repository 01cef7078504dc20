// Package registry owns the bucket connections of one cluster and the
// operation bindings built over them.
// See doc.go for complete package documentation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/cbfront/internal/bucket"
	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/metrics"
	"github.com/dreamware/cbfront/internal/transport"
)

// DefaultOpenConcurrency bounds how many buckets are opened at once.
const DefaultOpenConcurrency = 8

// Entry pairs an opened bucket connection with its operation binding.
// Entries are created once during New and never modified afterwards.
type Entry struct {
	// Conn is the opened, authenticated channel to the bucket.
	Conn *bucket.Connection

	// Binding holds the entry points bound to Conn.
	// It always references the same connection as Conn.
	Binding *bucket.Binding
}

// Registry maps bucket names to their connection and binding, serving as
// the single owner of every bucket handle opened for a cluster.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               Registry                   │
//	├──────────────────────────────────────────┤
//	│  entries: map[bucket]→(Conn, Binding)    │
//	│  mu: RWMutex for thread safety           │
//	├──────────────────────────────────────────┤
//	│  "users" → Conn{timeout 2.5s} → Binding  │
//	│  "orders" → Conn{default}     → Binding  │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - Lookup, Names and Len take the read lock
//   - Disconnect and Close take the write lock to remove entries
//   - Transport handles are closed after the lock is released
//
// Lifecycle:
// Entries are populated by New and only ever removed, by Disconnect or
// Close. A removed bucket can not be re-added to the same registry.
type Registry struct {
	// entries maps bucket names to their connection and binding.
	entries map[string]*Entry

	// mu guards entries. Disconnect holds the write lock while the entry
	// is removed so no Lookup can observe a half-removed bucket.
	mu sync.RWMutex

	log     *zap.Logger
	metrics metrics.Metrics
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	log             *zap.Logger
	metrics         metrics.Metrics
	openConcurrency int
}

// WithLogger sets the logger used for open, duplicate and disconnect events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithOpenConcurrency bounds how many buckets are opened in parallel.
func WithOpenConcurrency(n int) Option {
	return func(o *options) { o.openConcurrency = n }
}

// New validates cfg, opens every configured bucket through connector and
// binds its operations.
//
// Construction process:
//  1. Validate cfg; any problem is returned as a *cluster.ConfigError
//  2. Skip duplicate bucket names, keeping the first occurrence
//  3. Open the remaining buckets concurrently, each bounded by the
//     configured open timeout
//  4. Bind operations for every bucket that opened
//
// Parameters:
//   - ctx: Bounds the whole construction; cancelling it aborts pending opens
//   - cfg: Cluster configuration, treated as immutable
//   - connector: Transport used to open bucket handles
//
// Returns:
//   - The registry and nil when every bucket opened
//   - The registry and the joined *cluster.ConnectionError values when some
//     buckets failed; failed buckets are not registered
//   - nil and the joined errors when no bucket opened
//
// Example:
//
//	reg, err := registry.New(ctx, cfg, couchbase.NewConnector(*cfg))
//	if reg == nil {
//	    return err
//	}
//	if err != nil {
//	    log.Warn("some buckets are unavailable", zap.Error(err))
//	}
func New(ctx context.Context, cfg *cluster.Config, connector transport.Connector, opts ...Option) (*Registry, error) {
	o := options{
		log:             zap.NewNop(),
		metrics:         metrics.Nop(),
		openConcurrency: DefaultOpenConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, errors.New("registry: no connector supplied")
	}

	r := &Registry{
		entries: make(map[string]*Entry, len(cfg.Buckets)),
		log:     o.log,
		metrics: o.metrics,
	}

	buckets := r.dedupe(cfg.Buckets)
	conns := make([]*bucket.Connection, len(buckets))
	errs := make([]error, len(buckets))
	openTimeout := cfg.EffectiveOpenTimeout()

	var g errgroup.Group
	if o.openConcurrency > 0 {
		g.SetLimit(o.openConcurrency)
	}
	for i, bc := range buckets {
		g.Go(func() error {
			conns[i], errs[i] = r.open(ctx, connector, bc, openTimeout)
			return nil
		})
	}
	_ = g.Wait()

	for i, conn := range conns {
		if conn == nil {
			continue
		}
		r.entries[buckets[i].Name] = &Entry{Conn: conn, Binding: bucket.Bind(conn)}
	}
	r.metrics.SetBucketsRegistered(len(r.entries))

	err := errors.Join(errs...)
	if len(r.entries) == 0 {
		return nil, err
	}
	return r, err
}

// dedupe drops repeated bucket names, keeping the first occurrence.
func (r *Registry) dedupe(in []cluster.BucketConfig) []cluster.BucketConfig {
	seen := make(map[string]int, len(in))
	out := make([]cluster.BucketConfig, 0, len(in))
	for i, b := range in {
		if first, dup := seen[b.Name]; dup {
			r.log.Warn("duplicate bucket in configuration, keeping first",
				zap.String("bucket", b.Name),
				zap.Int("index", i),
				zap.Int("first_index", first))
			continue
		}
		seen[b.Name] = i
		out = append(out, b)
	}
	return out
}

func (r *Registry) open(ctx context.Context, connector transport.Connector, cfg cluster.BucketConfig, timeout time.Duration) (*bucket.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	handle, err := connector.Open(ctx, cfg)
	if err != nil {
		r.metrics.BucketOpened(cfg.Name, false)
		r.log.Warn("bucket open failed",
			zap.String("bucket", cfg.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, &cluster.ConnectionError{Bucket: cfg.Name, Cause: err}
	}

	r.metrics.BucketOpened(cfg.Name, true)
	r.log.Info("bucket opened",
		zap.String("bucket", cfg.Name),
		zap.Duration("operation_timeout", cfg.OperationTimeout),
		zap.Duration("elapsed", time.Since(start)))
	return bucket.NewConnection(cfg, handle), nil
}

// Lookup returns the entry registered under name.
//
// Returns:
//   - The entry on success
//   - *cluster.UnknownBucketError naming the registered buckets otherwise
//
// Thread Safety:
// Takes the read lock; concurrent lookups do not block each other.
func (r *Registry) Lookup(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[name]; ok {
		return e, nil
	}
	return nil, &cluster.UnknownBucketError{Bucket: name, Registered: r.namesLocked()}
}

// Names returns the registered bucket names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered buckets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Disconnect removes the named bucket and closes its transport handle.
//
// The entry is removed under the write lock, so once Disconnect starts no
// Lookup for name can succeed. The handle is then closed without holding
// the lock. Operations already in flight on the handle may fail with a
// closed-bucket error.
//
// Returns:
//   - *cluster.UnknownBucketError if name is not registered
//   - The transport's close error, if any; the bucket is unregistered
//     either way
func (r *Registry) Disconnect(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		err := &cluster.UnknownBucketError{Bucket: name, Registered: r.namesLocked()}
		r.mu.Unlock()
		return err
	}
	delete(r.entries, name)
	remaining := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetBucketsRegistered(remaining)
	r.metrics.BucketRemoved(name)
	r.log.Info("bucket disconnected", zap.String("bucket", name))

	if err := e.Conn.Close(ctx); err != nil {
		return fmt.Errorf("close bucket %q: %w", name, err)
	}
	return nil
}

// Close disconnects every registered bucket and returns the joined close
// errors.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	r.metrics.SetBucketsRegistered(0)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := entries[name].Conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %q: %w", name, err))
		}
	}
	if len(entries) > 0 {
		r.log.Info("registry closed", zap.Int("buckets", len(entries)))
	}
	return errors.Join(errs...)
}

// snapshot returns the current entries keyed by name.
func (r *Registry) snapshot() map[string]*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
