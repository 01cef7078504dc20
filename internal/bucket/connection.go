package bucket

import (
	"context"
	"time"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/transport"
)

// Connection is one opened, authenticated channel to a named bucket.
type Connection struct {
	Name     string        // Bucket name, the registry key
	Timeout  time.Duration // Per-call timeout override; zero keeps the transport default
	OpenedAt time.Time     // When the bucket finished opening

	handle transport.Bucket
}

// NewConnection wraps an opened transport handle.
func NewConnection(cfg cluster.BucketConfig, handle transport.Bucket) *Connection {
	return &Connection{
		Name:     cfg.Name,
		Timeout:  cfg.OperationTimeout,
		OpenedAt: time.Now(),
		handle:   handle,
	}
}

// Handle returns the underlying transport bucket.
func (c *Connection) Handle() transport.Bucket {
	return c.handle
}

// Manager returns the bucket's administrative interface.
func (c *Connection) Manager() transport.BucketManager {
	return c.handle.Manager()
}

// Ping checks that the bucket still answers.
func (c *Connection) Ping(ctx context.Context) error {
	return c.handle.Ping(ctx)
}

// Close releases the transport handle.
func (c *Connection) Close(ctx context.Context) error {
	return c.handle.Close(ctx)
}

func (c *Connection) options() transport.Options {
	return transport.Options{Timeout: c.Timeout}
}
