// Package client talks to a cbfront gateway over HTTP. Errors reported by
// the gateway are rebuilt into the cbfront error types, so
// cluster.IsUnknownBucket and errors.Is against the cluster sentinels work
// on the client side too.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/cbfront/internal/api"
	"github.com/dreamware/cbfront/internal/cluster"
)

// Client is a gateway client. It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the gateway at baseURL, e.g. "http://localhost:8091".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func docPath(bucket, key string) string {
	return "/buckets/" + url.PathEscape(bucket) + "/docs/" + url.PathEscape(key)
}

func bucketPath(bucket, suffix string) string {
	return "/buckets/" + url.PathEscape(bucket) + suffix
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(api.RequestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb api.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Code == "" {
			return fmt.Errorf("http %s %s: %d", method, path, resp.StatusCode)
		}
		return eb.Err()
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health returns the gateway's health view.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Buckets lists the registered buckets.
func (c *Client) Buckets(ctx context.Context) ([]string, error) {
	var out api.BucketsResponse
	if err := c.do(ctx, http.MethodGet, "/buckets", nil, &out); err != nil {
		return nil, err
	}
	return out.Buckets, nil
}

// Get reads one document.
func (c *Client) Get(ctx context.Context, bucket, key string) (cluster.Document, error) {
	var out cluster.Document
	err := c.do(ctx, http.MethodGet, docPath(bucket, key), nil, &out)
	return out, err
}

func (c *Client) write(ctx context.Context, method, bucket, key string, value json.RawMessage) (cluster.Result, error) {
	var out cluster.Result
	err := c.do(ctx, method, docPath(bucket, key), value, &out)
	return out, err
}

// Upsert creates or overwrites a document.
func (c *Client) Upsert(ctx context.Context, bucket, key string, value json.RawMessage) (cluster.Result, error) {
	return c.write(ctx, http.MethodPut, bucket, key, value)
}

// Insert creates a document that must not exist yet.
func (c *Client) Insert(ctx context.Context, bucket, key string, value json.RawMessage) (cluster.Result, error) {
	return c.write(ctx, http.MethodPost, bucket, key, value)
}

// Replace overwrites a document that must already exist.
func (c *Client) Replace(ctx context.Context, bucket, key string, value json.RawMessage) (cluster.Result, error) {
	return c.write(ctx, http.MethodPatch, bucket, key, value)
}

// Remove deletes a document.
func (c *Client) Remove(ctx context.Context, bucket, key string) (cluster.Result, error) {
	var out cluster.Result
	err := c.do(ctx, http.MethodDelete, docPath(bucket, key), nil, &out)
	return out, err
}

// GetMulti reads several keys of one bucket.
func (c *Client) GetMulti(ctx context.Context, bucket string, keys []string) (api.MultiResponse, error) {
	var out api.MultiResponse
	err := c.do(ctx, http.MethodPost, bucketPath(bucket, "/multi"), api.MultiRequest{Keys: keys}, &out)
	return out, err
}

// Query runs a statement on the bucket's query engine.
func (c *Client) Query(ctx context.Context, bucket, statement string) ([]cluster.Row, error) {
	var out api.QueryResponse
	if err := c.do(ctx, http.MethodPost, bucketPath(bucket, "/query"), api.QueryRequest{Statement: statement}, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// Info returns the bucket's settings.
func (c *Client) Info(ctx context.Context, bucket string) (cluster.BucketInfo, error) {
	var out cluster.BucketInfo
	err := c.do(ctx, http.MethodGet, bucketPath(bucket, "/manager"), nil, &out)
	return out, err
}

// Flush removes every document of the bucket.
func (c *Client) Flush(ctx context.Context, bucket string) error {
	return c.do(ctx, http.MethodPost, bucketPath(bucket, "/flush"), nil, nil)
}

// Disconnect unregisters the bucket on the gateway.
func (c *Client) Disconnect(ctx context.Context, bucket string) error {
	return c.do(ctx, http.MethodDelete, bucketPath(bucket, ""), nil, nil)
}
