package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// Operation-specific failures. They arrive wrapped in an *OperationError
// and are matched with errors.Is.
var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("document already exists")
	ErrQuerySyntax  = errors.New("query syntax error")
)

// ConfigError reports missing or invalid construction input.
type ConfigError struct {
	Field  string
	Index  int
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "buckets" || e.Field == "operationTimeout" {
		return fmt.Sprintf("config: %s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ConnectionError reports a bucket that could not be opened.
type ConnectionError struct {
	Bucket string
	Cause  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open bucket %q: %v", e.Bucket, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// UnknownBucketError is returned synchronously for a call against a bucket
// that is not (or no longer) registered.
type UnknownBucketError struct {
	Bucket     string
	Registered []string
}

func (e *UnknownBucketError) Error() string {
	return fmt.Sprintf("no bucket connection for %q (registered: [%s])",
		e.Bucket, strings.Join(e.Registered, ", "))
}

// OperationError wraps a transport failure for one operation on one bucket.
type OperationError struct {
	Bucket string
	Op     string
	Cause  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on bucket %q: %v", e.Op, e.Bucket, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// NewOperationError wraps cause, or returns nil when cause is nil.
// An error that is already an *OperationError is returned unchanged.
func NewOperationError(bucket, op string, cause error) error {
	if cause == nil {
		return nil
	}
	var oe *OperationError
	if errors.As(cause, &oe) {
		return cause
	}
	return &OperationError{Bucket: bucket, Op: op, Cause: cause}
}

// IsUnknownBucket reports whether err is an *UnknownBucketError.
func IsUnknownBucket(err error) bool {
	var ub *UnknownBucketError
	return errors.As(err, &ub)
}

// Code returns a stable short name for err, used by metrics labels and the
// gateway's error bodies.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsUnknownBucket(err):
		return "unknown_bucket"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrQuerySyntax):
		return "query_syntax"
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return "config"
	}
	var conn *ConnectionError
	if errors.As(err, &conn) {
		return "connection"
	}
	return "operation_failed"
}
