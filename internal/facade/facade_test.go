package facade

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/future"
	"github.com/dreamware/cbfront/internal/transport"
	"github.com/dreamware/cbfront/internal/transport/memory"
)

// countingBucket counts every data call that reaches the transport
type countingBucket struct {
	transport.Bucket
	calls *atomic.Int64
}

func (b countingBucket) Get(ctx context.Context, key string, opts transport.Options) (cluster.Document, error) {
	b.calls.Add(1)
	return b.Bucket.Get(ctx, key, opts)
}

func (b countingBucket) Insert(ctx context.Context, key string, v json.RawMessage, opts transport.Options) (cluster.Result, error) {
	b.calls.Add(1)
	return b.Bucket.Insert(ctx, key, v, opts)
}

func (b countingBucket) Upsert(ctx context.Context, key string, v json.RawMessage, opts transport.Options) (cluster.Result, error) {
	b.calls.Add(1)
	return b.Bucket.Upsert(ctx, key, v, opts)
}

func (b countingBucket) Replace(ctx context.Context, key string, v json.RawMessage, opts transport.Options) (cluster.Result, error) {
	b.calls.Add(1)
	return b.Bucket.Replace(ctx, key, v, opts)
}

func (b countingBucket) Remove(ctx context.Context, key string, opts transport.Options) (cluster.Result, error) {
	b.calls.Add(1)
	return b.Bucket.Remove(ctx, key, opts)
}

func (b countingBucket) Query(ctx context.Context, stmt string, opts transport.Options) ([]cluster.Row, error) {
	b.calls.Add(1)
	return b.Bucket.Query(ctx, stmt, opts)
}

type countingConnector struct {
	inner *memory.Cluster
	calls atomic.Int64
}

func (c *countingConnector) Open(ctx context.Context, cfg cluster.BucketConfig) (transport.Bucket, error) {
	b, err := c.inner.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return countingBucket{Bucket: b, calls: &c.calls}, nil
}

// recordingMetrics keeps the events the facade reports
type recordingMetrics struct {
	mu       sync.Mutex
	ops      []string
	unknown  []string
	opened   map[string]bool
	nBuckets int
}

func (m *recordingMetrics) ObserveOperation(bucket, op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, bucket+"/"+op+"/"+cluster.Code(err))
}

func (m *recordingMetrics) UnknownBucket(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknown = append(m.unknown, op)
}

func (m *recordingMetrics) BucketOpened(bucket string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened == nil {
		m.opened = make(map[string]bool)
	}
	m.opened[bucket] = ok
}

func (m *recordingMetrics) SetBucketsRegistered(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nBuckets = n
}

func (m *recordingMetrics) SetBucketHealthy(string, bool) {}
func (m *recordingMetrics) BucketRemoved(string)          {}

func (m *recordingMetrics) snapshot() (ops, unknown []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...), append([]string(nil), m.unknown...)
}

type fixture struct {
	f       *Facade
	mem     *memory.Cluster
	conn    *countingConnector
	metrics *recordingMetrics
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	mem := memory.NewCluster()
	cfg := &cluster.Config{ConnectionString: "memory://test"}
	for _, n := range names {
		mem.CreateBucket(n, "")
		cfg.Buckets = append(cfg.Buckets, cluster.BucketConfig{Name: n})
	}
	conn := &countingConnector{inner: mem}
	m := &recordingMetrics{}
	f, err := Open(context.Background(), cfg, conn, WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return &fixture{f: f, mem: mem, conn: conn, metrics: m}
}

func TestOpenRegistersAllBuckets(t *testing.T) {
	fx := newFixture(t, "users", "orders")
	assert.Equal(t, []string{"orders", "users"}, fx.f.Buckets())
	assert.Equal(t, 2, fx.metrics.nBuckets)
	assert.True(t, fx.metrics.opened["users"])
}

func TestOpenConfigError(t *testing.T) {
	f, err := Open(context.Background(), &cluster.Config{}, memory.NewCluster())
	assert.Nil(t, f)
	var ce *cluster.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestOpenPartial(t *testing.T) {
	mem := memory.NewCluster()
	mem.CreateBucket("users", "")
	cfg := &cluster.Config{
		ConnectionString: "memory://",
		Buckets:          []cluster.BucketConfig{{Name: "users"}, {Name: "missing"}},
	}
	f, err := Open(context.Background(), cfg, mem)
	require.NotNil(t, f)
	var ce *cluster.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "missing", ce.Bucket)
	assert.Equal(t, []string{"users"}, f.Buckets())

	_, err = f.GetDoc(context.Background(), "missing", "k")
	assert.True(t, cluster.IsUnknownBucket(err))
}

// TestUnknownBucketIsSynchronous checks every dispatch method fails before
// reaching the transport
func TestUnknownBucketIsSynchronous(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()
	f := fx.f

	calls := map[string]func() (any, error){
		"get":      func() (any, error) { return f.GetDoc(ctx, "ghost", "k") },
		"upsert":   func() (any, error) { return f.UpsertDoc(ctx, "ghost", "k", 1) },
		"insert":   func() (any, error) { return f.InsertDoc(ctx, "ghost", "k", 1) },
		"replace":  func() (any, error) { return f.ReplaceDoc(ctx, "ghost", "k", 1) },
		"remove":   func() (any, error) { return f.RemoveDoc(ctx, "ghost", "k") },
		"getMulti": func() (any, error) { return f.GetMultiDocs(ctx, "ghost", []string{"k"}) },
		"query":    func() (any, error) { return f.Query(ctx, "ghost", "SELECT * FROM ghost") },
		"manager":  func() (any, error) { return f.GetBucketManager("ghost") },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			_, err := call()
			var ub *cluster.UnknownBucketError
			require.ErrorAs(t, err, &ub)
			assert.Equal(t, "ghost", ub.Bucket)
			assert.Equal(t, []string{"users"}, ub.Registered)
		})
	}

	assert.Zero(t, fx.conn.calls.Load(), "no transport call for an unknown bucket")
	_, unknown := fx.metrics.snapshot()
	assert.Len(t, unknown, len(calls))
}

func TestFuturesAreNilForUnknownBucket(t *testing.T) {
	fx := newFixture(t, "users")
	fut, err := fx.f.GetDoc(context.Background(), "ghost", "k")
	assert.Error(t, err)
	assert.Nil(t, fut)
}

func TestUpsertThenGet(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()

	fut, err := fx.f.UpsertDoc(ctx, "users", "u1", map[string]any{"name": "alice", "age": 30})
	require.NoError(t, err)
	res, err := fut.Await(ctx)
	require.NoError(t, err)

	get, err := fx.f.GetDoc(ctx, "users", "u1")
	require.NoError(t, err)
	doc, err := get.Await(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice","age":30}`, string(doc.Value))
	assert.Equal(t, res.CAS, doc.CAS)
}

func TestOperationErrors(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()

	fut, err := fx.f.InsertDoc(ctx, "users", "k", "v")
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() (*cluster.Result, error)
		want error
	}{
		{"insert existing", func() (*cluster.Result, error) { return await(fx.f.InsertDoc(ctx, "users", "k", "v2")) }, cluster.ErrDuplicateKey},
		{"replace missing", func() (*cluster.Result, error) { return await(fx.f.ReplaceDoc(ctx, "users", "nope", "v")) }, cluster.ErrNotFound},
		{"remove missing", func() (*cluster.Result, error) { return await(fx.f.RemoveDoc(ctx, "users", "nope")) }, cluster.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			assert.ErrorIs(t, err, tt.want)
			var oe *cluster.OperationError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, "users", oe.Bucket)
			assert.False(t, cluster.IsUnknownBucket(err))
		})
	}
}

func await[T any](fut *future.Future[T], err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	v, err := fut.Await(context.Background())
	return &v, err
}

func TestGetMultiMixed(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()

	for _, k := range []string{"a", "c"} {
		_, err := await(fx.f.UpsertDoc(ctx, "users", k, k))
		require.NoError(t, err)
	}

	fut, err := fx.f.GetMultiDocs(ctx, "users", []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	res, err := fut.Await(ctx)
	require.NoError(t, err)

	assert.Len(t, res, 4)
	assert.Len(t, res.Found(), 2)
	assert.ElementsMatch(t, []string{"b", "d"}, res.Missing())
	assert.ErrorIs(t, res["b"].Err, cluster.ErrNotFound)
}

func TestQuery(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()

	_, err := await(fx.f.UpsertDoc(ctx, "users", "u1", map[string]any{"name": "alice"}))
	require.NoError(t, err)

	fut, err := fx.f.Query(ctx, "users", "SELECT name FROM users WHERE name = 'alice'")
	require.NoError(t, err)
	rows, err := fut.Await(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"name":"alice"}`, string(rows[0]))

	fut, err = fx.f.Query(ctx, "users", "SELECT name FROM users WHERE")
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	assert.ErrorIs(t, err, cluster.ErrQuerySyntax)
}

func TestEmptyQueryNeedsNoIO(t *testing.T) {
	fx := newFixture(t, "users")
	before := fx.conn.calls.Load()

	fut, err := fx.f.Query(context.Background(), "users", "")
	require.NoError(t, err)
	_, err = fut.Await(context.Background())
	assert.ErrorIs(t, err, cluster.ErrQuerySyntax)
	assert.Equal(t, before, fx.conn.calls.Load())
}

func TestDisconnectBucket(t *testing.T) {
	fx := newFixture(t, "users", "orders")
	ctx := context.Background()

	require.NoError(t, fx.f.DisconnectBucket(ctx, "users"))
	assert.Equal(t, []string{"orders"}, fx.f.Buckets())

	before := fx.conn.calls.Load()
	_, err := fx.f.GetDoc(ctx, "users", "k")
	assert.True(t, cluster.IsUnknownBucket(err))
	_, err = fx.f.UpsertDoc(ctx, "users", "k", 1)
	assert.True(t, cluster.IsUnknownBucket(err))
	_, err = fx.f.GetBucketManager("users")
	assert.True(t, cluster.IsUnknownBucket(err))
	assert.Equal(t, before, fx.conn.calls.Load())

	err = fx.f.DisconnectBucket(ctx, "users")
	assert.True(t, cluster.IsUnknownBucket(err))

	// The other bucket is untouched
	_, err = await(fx.f.UpsertDoc(ctx, "orders", "o1", 1))
	assert.NoError(t, err)
}

func TestBucketManager(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()

	_, err := await(fx.f.UpsertDoc(ctx, "users", "k", 1))
	require.NoError(t, err)

	mgr, err := fx.f.GetBucketManager("users")
	require.NoError(t, err)
	info, err := mgr.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "users", info.Name)

	require.NoError(t, mgr.Flush(ctx))
	assert.Equal(t, 0, fx.mem.Store("users").Stats().Keys)
}

func TestMetricsRecordedPerOperation(t *testing.T) {
	fx := newFixture(t, "users")
	ctx := context.Background()

	_, _ = await(fx.f.UpsertDoc(ctx, "users", "k", 1))
	_, _ = await(fx.f.GetDoc(ctx, "users", "missing"))

	require.Eventually(t, func() bool {
		ops, _ := fx.metrics.snapshot()
		return len(ops) == 2
	}, time.Second, 5*time.Millisecond)
	ops, _ := fx.metrics.snapshot()
	assert.ElementsMatch(t, []string{"users/upsert/ok", "users/get/not_found"}, ops)
}

func TestCloseDrainsInFlight(t *testing.T) {
	mem := memory.NewCluster(memory.WithOperationDelay(50*time.Millisecond), memory.WithAutoCreate())
	cfg := &cluster.Config{ConnectionString: "memory://", Buckets: []cluster.BucketConfig{{Name: "users"}}}
	f, err := Open(context.Background(), cfg, mem)
	require.NoError(t, err)

	fut, err := f.UpsertDoc(context.Background(), "users", "k", 1)
	require.NoError(t, err)

	require.NoError(t, f.Close(context.Background()))
	_, ok, err := fut.Result()
	assert.True(t, ok, "Close returns after in-flight work settles")
	assert.NoError(t, err)
	assert.Empty(t, f.Buckets())
}

func TestCloseConcurrentWithDispatch(t *testing.T) {
	for round := 0; round < 50; round++ {
		mem := memory.NewCluster(memory.WithAutoCreate())
		cfg := &cluster.Config{ConnectionString: "memory://", Buckets: []cluster.BucketConfig{{Name: "a"}}}
		f, err := Open(context.Background(), cfg, mem)
		require.NoError(t, err)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					fut, err := f.GetDoc(context.Background(), "a", "k")
					if err != nil {
						assert.True(t, cluster.IsUnknownBucket(err))
						continue
					}
					_, _ = fut.Await(context.Background())
				}
			}()
		}

		time.Sleep(time.Millisecond)
		require.NoError(t, f.Close(context.Background()))
		close(stop)
		wg.Wait()
		assert.Empty(t, f.Buckets())
	}
}
