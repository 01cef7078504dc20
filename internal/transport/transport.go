// Package transport defines the boundary between the bucket registry and
// the external database service. Implementations live in subpackages:
// couchbase talks to a real cluster through the Couchbase Go SDK, memory
// emulates one in process.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dreamware/cbfront/internal/cluster"
)

var (
	// ErrBucketNotFound is returned by Open when the cluster has no such bucket
	ErrBucketNotFound = errors.New("bucket not found on cluster")

	// ErrAuthentication is returned by Open when the credential is rejected
	ErrAuthentication = errors.New("authentication failed")

	// ErrBucketClosed is returned by operations on a closed bucket handle
	ErrBucketClosed = errors.New("bucket handle is closed")
)

// Options carries per-call settings. A zero Timeout keeps the transport default.
type Options struct {
	Timeout time.Duration
}

// Connector opens authenticated bucket handles on one cluster.
type Connector interface {
	// Open connects to the named bucket and returns once it is ready to
	// serve operations or ctx is done.
	Open(ctx context.Context, cfg cluster.BucketConfig) (Bucket, error)
}

// Bucket is an opened channel to one bucket. Implementations must be safe
// for concurrent use. Errors for absent or duplicate keys and malformed
// statements wrap cluster.ErrNotFound, cluster.ErrDuplicateKey and
// cluster.ErrQuerySyntax respectively.
type Bucket interface {
	Name() string

	Get(ctx context.Context, key string, opts Options) (cluster.Document, error)
	Insert(ctx context.Context, key string, value json.RawMessage, opts Options) (cluster.Result, error)
	Upsert(ctx context.Context, key string, value json.RawMessage, opts Options) (cluster.Result, error)
	Replace(ctx context.Context, key string, value json.RawMessage, opts Options) (cluster.Result, error)
	Remove(ctx context.Context, key string, opts Options) (cluster.Result, error)

	// Query hands statement to the cluster's query engine.
	Query(ctx context.Context, statement string, opts Options) ([]cluster.Row, error)

	// Manager returns the administrative interface for this bucket.
	Manager() BucketManager

	// Ping checks that the bucket is reachable.
	Ping(ctx context.Context) error

	// Close releases the handle. Further operations fail with ErrBucketClosed.
	Close(ctx context.Context) error
}

// BucketManager exposes administrative operations on one bucket.
type BucketManager interface {
	Info(ctx context.Context) (cluster.BucketInfo, error)
	Flush(ctx context.Context) error
}

// WithTimeout derives a context bounded by opts.Timeout when it is set.
func WithTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}
