// Package cluster defines the data model shared by every layer of cbfront:
// the construction input describing a cluster and its buckets, the document
// and result types that flow through the façade, and the error taxonomy.
//
// # Configuration
//
// A Config names one cluster endpoint and a non-empty list of buckets:
//
//	cfg := cluster.Config{
//	    ConnectionString: "couchbase://10.0.0.1",
//	    Buckets: []cluster.BucketConfig{
//	        {Name: "users", Password: "secret", OperationTimeout: 2500 * time.Millisecond},
//	        {Name: "sessions"},
//	    },
//	}
//	if err := cfg.Validate(); err != nil {
//	    // err is a *cluster.ConfigError
//	}
//
// # Error Taxonomy
//
// Construction:
//   - *ConfigError: missing connection string, empty bucket list, unnamed bucket
//   - *ConnectionError: one bucket failed to open; other buckets are unaffected
//
// Dispatch:
//   - *UnknownBucketError: returned synchronously, before any I/O is scheduled
//   - *OperationError: delivered through the operation's future and wraps
//     the transport cause
//
// Operation-specific kinds are sentinels wrapped inside *OperationError:
//
//	_, err := fut.Await(ctx)
//	switch {
//	case errors.Is(err, cluster.ErrDuplicateKey):
//	case errors.Is(err, cluster.ErrNotFound):
//	case errors.Is(err, cluster.ErrQuerySyntax):
//	}
//
// Code maps any of these to a short stable string ("unknown_bucket",
// "not_found", ...) used for metric labels and HTTP error bodies.
package cluster
