package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/storage"
	"github.com/dreamware/cbfront/internal/transport"
)

type bucket struct {
	name    string
	state   *bucketState
	opDelay time.Duration
	closed  atomic.Bool
}

var _ transport.Bucket = (*bucket)(nil)

func (b *bucket) Name() string { return b.name }

// begin applies the call timeout and the simulated latency.
func (b *bucket) begin(ctx context.Context, opts transport.Options) (context.CancelFunc, error) {
	if b.closed.Load() {
		return nil, transport.ErrBucketClosed
	}
	ctx, cancel := transport.WithTimeout(ctx, opts)
	if b.opDelay > 0 {
		select {
		case <-time.After(b.opDelay):
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

func mapErr(key string, err error) error {
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return fmt.Errorf("%w: %s", cluster.ErrNotFound, key)
	case errors.Is(err, storage.ErrKeyExists):
		return fmt.Errorf("%w: %s", cluster.ErrDuplicateKey, key)
	}
	return err
}

func (b *bucket) Get(ctx context.Context, key string, opts transport.Options) (cluster.Document, error) {
	cancel, err := b.begin(ctx, opts)
	if err != nil {
		return cluster.Document{}, err
	}
	defer cancel()

	entry, err := b.state.store.Get(key)
	if err != nil {
		return cluster.Document{}, mapErr(key, err)
	}
	return cluster.Document{Key: key, Value: entry.Value, CAS: entry.CAS}, nil
}

func (b *bucket) mutate(ctx context.Context, key string, opts transport.Options, fn func() (uint64, error)) (cluster.Result, error) {
	cancel, err := b.begin(ctx, opts)
	if err != nil {
		return cluster.Result{}, err
	}
	defer cancel()

	cas, err := fn()
	if err != nil {
		return cluster.Result{}, mapErr(key, err)
	}
	return cluster.Result{Key: key, CAS: cas}, nil
}

func (b *bucket) Insert(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error) {
	return b.mutate(ctx, key, opts, func() (uint64, error) {
		return b.state.store.Insert(key, value)
	})
}

func (b *bucket) Upsert(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error) {
	return b.mutate(ctx, key, opts, func() (uint64, error) {
		return b.state.store.Upsert(key, value)
	})
}

func (b *bucket) Replace(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error) {
	return b.mutate(ctx, key, opts, func() (uint64, error) {
		return b.state.store.Replace(key, value, 0)
	})
}

func (b *bucket) Remove(ctx context.Context, key string, opts transport.Options) (cluster.Result, error) {
	return b.mutate(ctx, key, opts, func() (uint64, error) {
		return b.state.store.Remove(key, 0)
	})
}

func (b *bucket) Query(ctx context.Context, stmt string, opts transport.Options) ([]cluster.Row, error) {
	cancel, err := b.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer cancel()

	st, err := parseStatement(stmt)
	if err != nil {
		return nil, err
	}
	return st.execute(b.name, b.state.store)
}

func (b *bucket) Manager() transport.BucketManager {
	return &manager{b: b}
}

func (b *bucket) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return transport.ErrBucketClosed
	}
	return ctx.Err()
}

func (b *bucket) Close(context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return transport.ErrBucketClosed
	}
	return nil
}

type manager struct {
	b *bucket
}

func (m *manager) Info(ctx context.Context) (cluster.BucketInfo, error) {
	if m.b.closed.Load() {
		return cluster.BucketInfo{}, transport.ErrBucketClosed
	}
	return m.b.state.info, ctx.Err()
}

func (m *manager) Flush(ctx context.Context) error {
	if m.b.closed.Load() {
		return transport.ErrBucketClosed
	}
	if !m.b.state.info.FlushEnabled {
		return errors.New("flush is disabled for this bucket")
	}
	m.b.state.store.Flush()
	return ctx.Err()
}
