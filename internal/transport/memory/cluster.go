// Package memory emulates a document cluster in process. It implements
// transport.Connector so the registry, façade and gateway can run without a
// real cluster, and it lets tests inject open failures and latency.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/storage"
	"github.com/dreamware/cbfront/internal/transport"
)

// Cluster is a set of named in-memory buckets.
type Cluster struct {
	mu         sync.RWMutex
	buckets    map[string]*bucketState
	openErrs   map[string]error
	openDelay  time.Duration
	opDelay    time.Duration
	autoCreate bool
}

type bucketState struct {
	password string
	store    *storage.MemoryStore
	info     cluster.BucketInfo
	opens    int
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithOpenDelay makes every Open wait d before completing.
func WithOpenDelay(d time.Duration) Option {
	return func(c *Cluster) { c.openDelay = d }
}

// WithOperationDelay makes every document and query operation wait d.
func WithOperationDelay(d time.Duration) Option {
	return func(c *Cluster) { c.opDelay = d }
}

// WithAutoCreate creates unknown buckets on first Open instead of failing
// with transport.ErrBucketNotFound.
func WithAutoCreate() Option {
	return func(c *Cluster) { c.autoCreate = true }
}

// NewCluster creates an empty cluster.
func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		buckets:  make(map[string]*bucketState),
		openErrs: make(map[string]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateBucket adds a bucket. A non-empty password must be presented by Open.
func (c *Cluster) CreateBucket(name, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createLocked(name, password)
}

func (c *Cluster) createLocked(name, password string) *bucketState {
	st := &bucketState{
		password: password,
		store:    storage.NewMemoryStore(),
		info: cluster.BucketInfo{
			Name:         name,
			Type:         "memory",
			RAMQuotaMB:   100,
			FlushEnabled: true,
		},
	}
	c.buckets[name] = st
	return st
}

// FailOpen makes subsequent Opens of name fail with err. A nil err clears it.
func (c *Cluster) FailOpen(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.openErrs, name)
		return
	}
	c.openErrs[name] = err
}

// Store returns the backing store of a bucket, or nil.
func (c *Cluster) Store(name string) storage.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.buckets[name]; ok {
		return st.store
	}
	return nil
}

// Opens reports how many times name was successfully opened.
func (c *Cluster) Opens(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.buckets[name]; ok {
		return st.opens
	}
	return 0
}

// Open implements transport.Connector.
func (c *Cluster) Open(ctx context.Context, cfg cluster.BucketConfig) (transport.Bucket, error) {
	if c.openDelay > 0 {
		select {
		case <-time.After(c.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.openErrs[cfg.Name]; err != nil {
		return nil, err
	}
	st, ok := c.buckets[cfg.Name]
	if !ok {
		if !c.autoCreate {
			return nil, fmt.Errorf("%w: %s", transport.ErrBucketNotFound, cfg.Name)
		}
		st = c.createLocked(cfg.Name, cfg.Password)
	}
	if st.password != "" && st.password != cfg.Password {
		return nil, fmt.Errorf("%w: bucket %s", transport.ErrAuthentication, cfg.Name)
	}
	st.opens++

	return &bucket{
		name:    cfg.Name,
		state:   st,
		opDelay: c.opDelay,
	}, nil
}

var _ transport.Connector = (*Cluster)(nil)
