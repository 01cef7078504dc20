// Package api defines the JSON bodies exchanged between the gateway and its
// clients, and the mapping between cbfront errors and HTTP responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dreamware/cbfront/internal/cluster"
)

// RequestIDHeader carries the request ID set by the client or the gateway.
const RequestIDHeader = "X-Request-ID"

// Error codes not produced by cluster.Code.
const (
	CodeBadRequest = "bad_request"
	CodeTimeout    = "timeout"
	CodeInternal   = "internal"
)

// ErrorBody is the body of every non-2xx gateway response.
type ErrorBody struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Bucket     string   `json:"bucket,omitempty"`
	Op         string   `json:"op,omitempty"`
	Registered []string `json:"registered,omitempty"`
}

// BucketsResponse lists the registered buckets.
type BucketsResponse struct {
	Buckets []string `json:"buckets"`
}

// MultiRequest asks for several keys of one bucket.
type MultiRequest struct {
	Keys []string `json:"keys"`
}

// MultiResponse reports a multi-key read. Every requested key appears in
// exactly one of Found or Missing.
type MultiResponse struct {
	Found   map[string]cluster.Document `json:"found"`
	Missing []string                    `json:"missing"`
}

// QueryRequest carries a statement for the bucket's query engine.
type QueryRequest struct {
	Statement string `json:"statement"`
}

// QueryResponse carries the rows of a query.
type QueryResponse struct {
	Rows []json.RawMessage `json:"rows"`
}

// HealthResponse is the gateway's health view. Buckets maps each registered
// bucket to its monitor status.
type HealthResponse struct {
	Status  string            `json:"status"`
	Buckets map[string]string `json:"buckets,omitempty"`
}

// NewErrorBody describes err for the wire.
func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{Error: err.Error(), Code: cluster.Code(err)}

	var ub *cluster.UnknownBucketError
	var oe *cluster.OperationError
	switch {
	case errors.As(err, &ub):
		body.Bucket = ub.Bucket
		body.Registered = ub.Registered
	case errors.As(err, &oe):
		body.Bucket = oe.Bucket
		body.Op = oe.Op
	}
	return body
}

// BadRequest describes a malformed request.
func BadRequest(format string, args ...any) ErrorBody {
	return ErrorBody{Error: fmt.Sprintf(format, args...), Code: CodeBadRequest}
}

// Status returns the HTTP status for an error code.
func Status(code string) int {
	switch code {
	case "unknown_bucket", "not_found":
		return http.StatusNotFound
	case "duplicate_key":
		return http.StatusConflict
	case "query_syntax", CodeBadRequest, "config":
		return http.StatusBadRequest
	case "operation_failed", "connection":
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Err rebuilds a cbfront error from a decoded body, so callers on the far
// side of the gateway can use errors.Is and errors.As as they would locally.
func (b ErrorBody) Err() error {
	switch b.Code {
	case "unknown_bucket":
		return &cluster.UnknownBucketError{Bucket: b.Bucket, Registered: b.Registered}
	case "not_found":
		return b.operation(cluster.ErrNotFound)
	case "duplicate_key":
		return b.operation(cluster.ErrDuplicateKey)
	case "query_syntax":
		return b.operation(cluster.ErrQuerySyntax)
	case "operation_failed":
		return b.operation(nil)
	}
	return &RemoteError{Body: b}
}

func (b ErrorBody) operation(kind error) error {
	cause := error(&RemoteError{Body: b})
	if kind != nil {
		cause = fmt.Errorf("%w: %w", kind, cause)
	}
	return &cluster.OperationError{Bucket: b.Bucket, Op: b.Op, Cause: cause}
}

// RemoteError is a failure reported by the gateway.
type RemoteError struct {
	Body ErrorBody
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway: %s (%s)", e.Body.Error, e.Body.Code)
}
