// Package couchbase implements the transport on top of the Couchbase Go SDK.
//
// Each bucket gets its own SDK cluster handle so that per-bucket credentials
// can be honoured and a single bucket can be disconnected without touching
// the others. A bucket with a password authenticates as a user named after
// the bucket; other buckets use the cluster-wide credential.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/transport"
)

// Connector opens buckets on one cluster endpoint.
type Connector struct {
	connStr     string
	username    string
	password    string
	openTimeout time.Duration
	connect     func(string, gocb.ClusterOptions) (*gocb.Cluster, error)
}

// NewConnector returns a Connector for cfg's endpoint and cluster-wide credential.
func NewConnector(cfg cluster.Config) *Connector {
	return &Connector{
		connStr:     cfg.ConnectionString,
		username:    cfg.Username,
		password:    cfg.Password,
		openTimeout: cfg.EffectiveOpenTimeout(),
		connect:     gocb.Connect,
	}
}

var _ transport.Connector = (*Connector)(nil)

// credentials picks the user/password pair used to open b.
func (c *Connector) credentials(b cluster.BucketConfig) gocb.PasswordAuthenticator {
	if b.Password != "" {
		return gocb.PasswordAuthenticator{Username: b.Name, Password: b.Password}
	}
	return gocb.PasswordAuthenticator{Username: c.username, Password: c.password}
}

func (c *Connector) clusterOptions(b cluster.BucketConfig) gocb.ClusterOptions {
	opts := gocb.ClusterOptions{
		Authenticator: c.credentials(b),
	}
	opts.TimeoutsConfig.ConnectTimeout = c.openTimeout
	if b.OperationTimeout > 0 {
		opts.TimeoutsConfig.KVTimeout = b.OperationTimeout
		opts.TimeoutsConfig.QueryTimeout = b.OperationTimeout
		opts.TimeoutsConfig.ManagementTimeout = b.OperationTimeout
	}
	return opts
}

// waitBudget is the time WaitUntilReady may spend, bounded by ctx's deadline.
func (c *Connector) waitBudget(ctx context.Context) time.Duration {
	budget := c.openTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < budget {
			budget = left
		}
	}
	return budget
}

// Open implements transport.Connector.
func (c *Connector) Open(ctx context.Context, cfg cluster.BucketConfig) (transport.Bucket, error) {
	cl, err := c.connect(c.connStr, c.clusterOptions(cfg))
	if err != nil {
		return nil, mapOpenErr(err)
	}

	b := cl.Bucket(cfg.Name)
	budget := c.waitBudget(ctx)
	if budget <= 0 {
		_ = cl.Close(nil)
		return nil, context.DeadlineExceeded
	}
	if err := b.WaitUntilReady(budget, &gocb.WaitUntilReadyOptions{Context: ctx}); err != nil {
		_ = cl.Close(nil)
		return nil, mapOpenErr(err)
	}

	return &bucket{
		name:    cfg.Name,
		cluster: cl,
		bucket:  b,
		coll:    b.DefaultCollection(),
	}, nil
}

func mapOpenErr(err error) error {
	switch {
	case errors.Is(err, gocb.ErrBucketNotFound):
		return fmt.Errorf("%w: %w", transport.ErrBucketNotFound, err)
	case errors.Is(err, gocb.ErrAuthenticationFailure):
		return fmt.Errorf("%w: %w", transport.ErrAuthentication, err)
	}
	return err
}

// mapErr translates SDK errors into the cluster sentinels, keeping the SDK
// error in the chain.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return fmt.Errorf("%w: %w", cluster.ErrNotFound, err)
	case errors.Is(err, gocb.ErrDocumentExists):
		return fmt.Errorf("%w: %w", cluster.ErrDuplicateKey, err)
	case errors.Is(err, gocb.ErrParsingFailure):
		return fmt.Errorf("%w: %w", cluster.ErrQuerySyntax, err)
	}
	return err
}
