package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/cbfront/internal/cluster"
)

func TestNewErrorBody(t *testing.T) {
	t.Run("unknown bucket", func(t *testing.T) {
		body := NewErrorBody(&cluster.UnknownBucketError{Bucket: "ghost", Registered: []string{"a"}})
		assert.Equal(t, "unknown_bucket", body.Code)
		assert.Equal(t, "ghost", body.Bucket)
		assert.Equal(t, []string{"a"}, body.Registered)
	})

	t.Run("operation error", func(t *testing.T) {
		err := cluster.NewOperationError("users", "insert", fmt.Errorf("%w: k", cluster.ErrDuplicateKey))
		body := NewErrorBody(err)
		assert.Equal(t, "duplicate_key", body.Code)
		assert.Equal(t, "users", body.Bucket)
		assert.Equal(t, "insert", body.Op)
		assert.Equal(t, err.Error(), body.Error)
	})
}

func TestStatus(t *testing.T) {
	tests := map[string]int{
		"unknown_bucket":   http.StatusNotFound,
		"not_found":        http.StatusNotFound,
		"duplicate_key":    http.StatusConflict,
		"query_syntax":     http.StatusBadRequest,
		CodeBadRequest:     http.StatusBadRequest,
		"operation_failed": http.StatusBadGateway,
		CodeTimeout:        http.StatusGatewayTimeout,
		CodeInternal:       http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, Status(code), code)
	}
}

// TestErrRoundTrip checks that a local error crosses the wire with its kind
func TestErrRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", cluster.NewOperationError("u", "get", cluster.ErrNotFound), cluster.ErrNotFound},
		{"duplicate", cluster.NewOperationError("u", "insert", cluster.ErrDuplicateKey), cluster.ErrDuplicateKey},
		{"syntax", cluster.NewOperationError("u", "query", cluster.ErrQuerySyntax), cluster.ErrQuerySyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewErrorBody(tt.err).Err()
			assert.ErrorIs(t, got, tt.kind)
			var oe *cluster.OperationError
			require.ErrorAs(t, got, &oe)
			assert.Equal(t, "u", oe.Bucket)
			assert.False(t, cluster.IsUnknownBucket(got))
		})
	}

	got := NewErrorBody(&cluster.UnknownBucketError{Bucket: "x", Registered: []string{"a", "b"}}).Err()
	var ub *cluster.UnknownBucketError
	require.ErrorAs(t, got, &ub)
	assert.Equal(t, []string{"a", "b"}, ub.Registered)

	failed := NewErrorBody(cluster.NewOperationError("u", "get", errors.New("timeout"))).Err()
	assert.Equal(t, "operation_failed", cluster.Code(failed))

	bad := BadRequest("missing %s", "keys").Err()
	var re *RemoteError
	require.ErrorAs(t, bad, &re)
	assert.Equal(t, CodeBadRequest, re.Body.Code)
	assert.Contains(t, bad.Error(), "missing keys")
}
