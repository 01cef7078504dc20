package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/future"
	"github.com/dreamware/cbfront/internal/transport"
)

// MultiGetConcurrency bounds the point reads a single GetMulti runs at once.
const MultiGetConcurrency = 16

// Operation names used in errors and metrics.
const (
	OpGet      = "get"
	OpGetMulti = "getMulti"
	OpInsert   = "insert"
	OpUpsert   = "upsert"
	OpReplace  = "replace"
	OpRemove   = "remove"
	OpQuery    = "query"
)

// Binding is the fixed set of operation entry points for one bucket.
// Values passed to the mutation entry points are encoded as JSON;
// json.RawMessage is sent as is.
type Binding struct {
	Get      func(ctx context.Context, key string) *future.Future[cluster.Document]
	GetMulti func(ctx context.Context, keys []string) *future.Future[cluster.MultiResult]
	Insert   func(ctx context.Context, key string, value any) *future.Future[cluster.Result]
	Upsert   func(ctx context.Context, key string, value any) *future.Future[cluster.Result]
	Replace  func(ctx context.Context, key string, value any) *future.Future[cluster.Result]
	Remove   func(ctx context.Context, key string) *future.Future[cluster.Result]
	Query    func(ctx context.Context, statement string) *future.Future[[]cluster.Row]

	conn  *Connection
	stats *OperationStats
}

// OperationStats tracks operation counts for one binding
type OperationStats struct {
	Gets      uint64 // Number of get operations
	MultiGets uint64 // Number of getMulti operations
	Inserts   uint64 // Number of insert operations
	Upserts   uint64 // Number of upsert operations
	Replaces  uint64 // Number of replace operations
	Removes   uint64 // Number of remove operations
	Queries   uint64 // Number of query operations
	Failures  uint64 // Number of operations whose future was rejected
}

// Bind builds the entry points for conn. It performs no I/O.
func Bind(conn *Connection) *Binding {
	b := &Binding{conn: conn, stats: &OperationStats{}}
	h := conn.handle

	b.Get = func(ctx context.Context, key string) *future.Future[cluster.Document] {
		return run(b, ctx, OpGet, &b.stats.Gets, func(ctx context.Context, opts transport.Options) (cluster.Document, error) {
			return h.Get(ctx, key, opts)
		})
	}

	b.GetMulti = func(ctx context.Context, keys []string) *future.Future[cluster.MultiResult] {
		keys = append([]string(nil), keys...)
		return run(b, ctx, OpGetMulti, &b.stats.MultiGets, func(ctx context.Context, opts transport.Options) (cluster.MultiResult, error) {
			return getMulti(ctx, conn.Name, h, keys, opts)
		})
	}

	b.Insert = mutation(b, OpInsert, &b.stats.Inserts, h.Insert)
	b.Upsert = mutation(b, OpUpsert, &b.stats.Upserts, h.Upsert)
	b.Replace = mutation(b, OpReplace, &b.stats.Replaces, h.Replace)

	b.Remove = func(ctx context.Context, key string) *future.Future[cluster.Result] {
		return run(b, ctx, OpRemove, &b.stats.Removes, func(ctx context.Context, opts transport.Options) (cluster.Result, error) {
			return h.Remove(ctx, key, opts)
		})
	}

	b.Query = func(ctx context.Context, statement string) *future.Future[[]cluster.Row] {
		if strings.TrimSpace(statement) == "" {
			atomic.AddUint64(&b.stats.Queries, 1)
			atomic.AddUint64(&b.stats.Failures, 1)
			return future.Rejected[[]cluster.Row](cluster.NewOperationError(conn.Name, OpQuery,
				fmt.Errorf("%w: empty statement", cluster.ErrQuerySyntax)))
		}
		return run(b, ctx, OpQuery, &b.stats.Queries, func(ctx context.Context, opts transport.Options) ([]cluster.Row, error) {
			return h.Query(ctx, statement, opts)
		})
	}

	return b
}

// Connection returns the connection the binding closes over.
func (b *Binding) Connection() *Connection {
	return b.conn
}

// Stats returns a snapshot of the operation counters
func (b *Binding) Stats() OperationStats {
	return OperationStats{
		Gets:      atomic.LoadUint64(&b.stats.Gets),
		MultiGets: atomic.LoadUint64(&b.stats.MultiGets),
		Inserts:   atomic.LoadUint64(&b.stats.Inserts),
		Upserts:   atomic.LoadUint64(&b.stats.Upserts),
		Replaces:  atomic.LoadUint64(&b.stats.Replaces),
		Removes:   atomic.LoadUint64(&b.stats.Removes),
		Queries:   atomic.LoadUint64(&b.stats.Queries),
		Failures:  atomic.LoadUint64(&b.stats.Failures),
	}
}

// run counts the call and starts fn on a context detached from the
// caller's cancellation.
func run[T any](b *Binding, ctx context.Context, op string, counter *uint64,
	fn func(context.Context, transport.Options) (T, error)) *future.Future[T] {
	atomic.AddUint64(counter, 1)
	ctx = context.WithoutCancel(ctx)
	opts := b.conn.options()

	return future.Go(func() (T, error) {
		v, err := fn(ctx, opts)
		if err != nil {
			atomic.AddUint64(&b.stats.Failures, 1)
			var zero T
			return zero, cluster.NewOperationError(b.conn.Name, op, err)
		}
		return v, nil
	})
}

type writeFunc func(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error)

func mutation(b *Binding, op string, counter *uint64, write writeFunc) func(context.Context, string, any) *future.Future[cluster.Result] {
	return func(ctx context.Context, key string, value any) *future.Future[cluster.Result] {
		raw, err := encode(value)
		if err != nil {
			atomic.AddUint64(counter, 1)
			atomic.AddUint64(&b.stats.Failures, 1)
			return future.Rejected[cluster.Result](cluster.NewOperationError(b.conn.Name, op, err))
		}
		return run(b, ctx, op, counter, func(ctx context.Context, opts transport.Options) (cluster.Result, error) {
			return write(ctx, key, raw, opts)
		})
	}
}

func encode(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("value is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	case nil:
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}

func getMulti(ctx context.Context, name string, h transport.Bucket, keys []string, opts transport.Options) (cluster.MultiResult, error) {
	out := make(cluster.MultiResult, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MultiGetConcurrency)
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		g.Go(func() error {
			doc, err := h.Get(gctx, key, opts)
			var entry cluster.MultiEntry
			switch {
			case err == nil:
				entry.Doc = &doc
			case errors.Is(err, cluster.ErrNotFound):
				entry.Err = cluster.NewOperationError(name, OpGet, err)
			default:
				return fmt.Errorf("get %q: %w", key, err)
			}
			mu.Lock()
			out[key] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
