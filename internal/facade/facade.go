// Package facade is the public entry point of cbfront. Every call names a
// bucket; the facade resolves it through the registry and forwards the
// arguments to that bucket's bound operation.
//
// A call against a bucket that is not registered fails synchronously with
// *cluster.UnknownBucketError before any goroutine or transport call is
// started. Every other failure is delivered through the returned future.
package facade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/cbfront/internal/bucket"
	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/future"
	"github.com/dreamware/cbfront/internal/metrics"
	"github.com/dreamware/cbfront/internal/registry"
	"github.com/dreamware/cbfront/internal/transport"
)

// OpDisconnect and OpManager name the administrative calls in metrics.
const (
	OpDisconnect = "disconnect"
	OpManager    = "manager"
)

// Facade dispatches document and query calls to named buckets.
// It is safe for concurrent use.
type Facade struct {
	reg      *registry.Registry
	log      *zap.Logger
	metrics  metrics.Metrics
	inflight future.Group
}

// Option configures a Facade.
type Option func(*options)

type options struct {
	log     *zap.Logger
	metrics metrics.Metrics
}

// WithLogger sets the logger. Open passes it on to the registry.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink. Open passes it on to the registry.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop(), metrics: metrics.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns a Facade over an existing registry.
func New(reg *registry.Registry, opts ...Option) *Facade {
	o := buildOptions(opts)
	return &Facade{reg: reg, log: o.log, metrics: o.metrics}
}

// Open builds the registry for cfg and returns a Facade over it. The error
// semantics are those of registry.New: a non-nil Facade may come with the
// joined errors of buckets that failed to open.
func Open(ctx context.Context, cfg *cluster.Config, connector transport.Connector, opts ...Option) (*Facade, error) {
	o := buildOptions(opts)
	reg, err := registry.New(ctx, cfg, connector,
		registry.WithLogger(o.log),
		registry.WithMetrics(o.metrics))
	if reg == nil {
		return nil, err
	}
	return &Facade{reg: reg, log: o.log, metrics: o.metrics}, err
}

// Registry returns the registry the facade dispatches through.
func (f *Facade) Registry() *registry.Registry {
	return f.reg
}

// dispatch resolves name and starts call on its binding. The outcome is
// recorded once the future settles.
func dispatch[T any](f *Facade, name, op string, call func(*bucket.Binding) *future.Future[T]) (*future.Future[T], error) {
	e, err := f.reg.Lookup(name)
	if err != nil {
		f.metrics.UnknownBucket(op)
		f.log.Debug("call for unknown bucket", zap.String("bucket", name), zap.String("op", op))
		return nil, err
	}

	start := time.Now()
	fut := call(e.Binding)

	settled := make(chan struct{})
	if !f.inflight.Track(settled) {
		f.log.Debug("operation started while closing", zap.String("bucket", name), zap.String("op", op))
	}
	fut.OnDone(func(_ T, err error) {
		defer close(settled)
		f.metrics.ObserveOperation(name, op, time.Since(start), err)
		if err != nil {
			f.log.Debug("operation failed",
				zap.String("bucket", name),
				zap.String("op", op),
				zap.Error(err))
		}
	})
	return fut, nil
}

// GetDoc reads key from bucket.
func (f *Facade) GetDoc(ctx context.Context, bucketName, key string) (*future.Future[cluster.Document], error) {
	return dispatch(f, bucketName, bucket.OpGet, func(b *bucket.Binding) *future.Future[cluster.Document] {
		return b.Get(ctx, key)
	})
}

// UpsertDoc writes value under key, creating or overwriting it.
func (f *Facade) UpsertDoc(ctx context.Context, bucketName, key string, value any) (*future.Future[cluster.Result], error) {
	return dispatch(f, bucketName, bucket.OpUpsert, func(b *bucket.Binding) *future.Future[cluster.Result] {
		return b.Upsert(ctx, key, value)
	})
}

// InsertDoc writes value under key. The future fails with
// cluster.ErrDuplicateKey if key already exists.
func (f *Facade) InsertDoc(ctx context.Context, bucketName, key string, value any) (*future.Future[cluster.Result], error) {
	return dispatch(f, bucketName, bucket.OpInsert, func(b *bucket.Binding) *future.Future[cluster.Result] {
		return b.Insert(ctx, key, value)
	})
}

// ReplaceDoc overwrites an existing key. The future fails with
// cluster.ErrNotFound if key is absent.
func (f *Facade) ReplaceDoc(ctx context.Context, bucketName, key string, value any) (*future.Future[cluster.Result], error) {
	return dispatch(f, bucketName, bucket.OpReplace, func(b *bucket.Binding) *future.Future[cluster.Result] {
		return b.Replace(ctx, key, value)
	})
}

// RemoveDoc deletes key. The future fails with cluster.ErrNotFound if key
// is absent.
func (f *Facade) RemoveDoc(ctx context.Context, bucketName, key string) (*future.Future[cluster.Result], error) {
	return dispatch(f, bucketName, bucket.OpRemove, func(b *bucket.Binding) *future.Future[cluster.Result] {
		return b.Remove(ctx, key)
	})
}

// GetMultiDocs reads every key. Missing keys are reported per key in the
// result; any other failure fails the whole future.
func (f *Facade) GetMultiDocs(ctx context.Context, bucketName string, keys []string) (*future.Future[cluster.MultiResult], error) {
	return dispatch(f, bucketName, bucket.OpGetMulti, func(b *bucket.Binding) *future.Future[cluster.MultiResult] {
		return b.GetMulti(ctx, keys)
	})
}

// Query runs statement against bucket's query engine. A statement the
// engine can not parse fails the future with cluster.ErrQuerySyntax.
func (f *Facade) Query(ctx context.Context, bucketName, statement string) (*future.Future[[]cluster.Row], error) {
	return dispatch(f, bucketName, bucket.OpQuery, func(b *bucket.Binding) *future.Future[[]cluster.Row] {
		return b.Query(ctx, statement)
	})
}

// GetBucketManager returns the administrative interface of bucket.
func (f *Facade) GetBucketManager(bucketName string) (transport.BucketManager, error) {
	e, err := f.reg.Lookup(bucketName)
	if err != nil {
		f.metrics.UnknownBucket(OpManager)
		return nil, err
	}
	return e.Conn.Manager(), nil
}

// DisconnectBucket unregisters bucket and closes its connection. Every
// later call naming it fails with *cluster.UnknownBucketError.
func (f *Facade) DisconnectBucket(ctx context.Context, bucketName string) error {
	err := f.reg.Disconnect(ctx, bucketName)
	if cluster.IsUnknownBucket(err) {
		f.metrics.UnknownBucket(OpDisconnect)
	}
	return err
}

// Buckets returns the registered bucket names in sorted order.
func (f *Facade) Buckets() []string {
	return f.reg.Names()
}

// Close waits for in-flight operations to settle, or for ctx to be done,
// and then disconnects every bucket. Calls racing with Close are not waited
// for; once the registry is closed they fail with *cluster.UnknownBucketError.
func (f *Facade) Close(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		f.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		f.log.Warn("closing with operations still in flight", zap.Error(ctx.Err()))
	}
	return f.reg.Close(ctx)
}
