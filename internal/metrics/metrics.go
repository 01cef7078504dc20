// Package metrics defines the instrumentation hooks used by the registry and
// the façade, with a no-op and a Prometheus implementation.
package metrics

import "time"

// Metrics receives operational events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// ObserveOperation records one completed operation on a bucket.
	ObserveOperation(bucket, op string, d time.Duration, err error)

	// UnknownBucket records a call rejected because its bucket is not registered.
	UnknownBucket(op string)

	// BucketOpened records the outcome of opening a bucket.
	BucketOpened(bucket string, ok bool)

	// SetBucketsRegistered reports how many buckets are currently registered.
	SetBucketsRegistered(n int)

	// SetBucketHealthy reports the health monitor's view of a bucket.
	SetBucketHealthy(bucket string, healthy bool)

	// BucketRemoved drops per-bucket state for a bucket that was disconnected.
	BucketRemoved(bucket string)
}

type nop struct{}

func (nop) ObserveOperation(string, string, time.Duration, error) {}
func (nop) UnknownBucket(string)                                  {}
func (nop) BucketOpened(string, bool)                             {}
func (nop) SetBucketsRegistered(int)                              {}
func (nop) SetBucketHealthy(string, bool)                         {}
func (nop) BucketRemoved(string)                                  {}

// Nop returns a Metrics that discards every event.
func Nop() Metrics { return nop{} }
