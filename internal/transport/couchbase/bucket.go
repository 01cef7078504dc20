package couchbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/couchbase/gocb/v2"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/transport"
)

type bucket struct {
	name    string
	cluster *gocb.Cluster
	bucket  *gocb.Bucket
	coll    *gocb.Collection
	closed  atomic.Bool
}

var _ transport.Bucket = (*bucket)(nil)

func (b *bucket) Name() string { return b.name }

func (b *bucket) Get(ctx context.Context, key string, opts transport.Options) (cluster.Document, error) {
	if b.closed.Load() {
		return cluster.Document{}, transport.ErrBucketClosed
	}
	res, err := b.coll.Get(key, &gocb.GetOptions{Timeout: opts.Timeout, Context: ctx})
	if err != nil {
		return cluster.Document{}, mapErr(err)
	}
	var raw json.RawMessage
	if err := res.Content(&raw); err != nil {
		return cluster.Document{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return cluster.Document{Key: key, Value: raw, CAS: uint64(res.Cas())}, nil
}

func mutation(key string, res *gocb.MutationResult, err error) (cluster.Result, error) {
	if err != nil {
		return cluster.Result{}, mapErr(err)
	}
	return cluster.Result{Key: key, CAS: uint64(res.Cas())}, nil
}

func (b *bucket) Insert(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error) {
	if b.closed.Load() {
		return cluster.Result{}, transport.ErrBucketClosed
	}
	res, err := b.coll.Insert(key, value, &gocb.InsertOptions{Timeout: opts.Timeout, Context: ctx})
	return mutation(key, res, err)
}

func (b *bucket) Upsert(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error) {
	if b.closed.Load() {
		return cluster.Result{}, transport.ErrBucketClosed
	}
	res, err := b.coll.Upsert(key, value, &gocb.UpsertOptions{Timeout: opts.Timeout, Context: ctx})
	return mutation(key, res, err)
}

func (b *bucket) Replace(ctx context.Context, key string, value json.RawMessage, opts transport.Options) (cluster.Result, error) {
	if b.closed.Load() {
		return cluster.Result{}, transport.ErrBucketClosed
	}
	res, err := b.coll.Replace(key, value, &gocb.ReplaceOptions{Timeout: opts.Timeout, Context: ctx})
	return mutation(key, res, err)
}

func (b *bucket) Remove(ctx context.Context, key string, opts transport.Options) (cluster.Result, error) {
	if b.closed.Load() {
		return cluster.Result{}, transport.ErrBucketClosed
	}
	res, err := b.coll.Remove(key, &gocb.RemoveOptions{Timeout: opts.Timeout, Context: ctx})
	return mutation(key, res, err)
}

func (b *bucket) Query(ctx context.Context, statement string, opts transport.Options) ([]cluster.Row, error) {
	if b.closed.Load() {
		return nil, transport.ErrBucketClosed
	}
	res, err := b.cluster.Query(statement, &gocb.QueryOptions{Timeout: opts.Timeout, Context: ctx})
	if err != nil {
		return nil, mapErr(err)
	}

	rows := make([]cluster.Row, 0)
	for res.Next() {
		var row json.RawMessage
		if err := res.Row(&row); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("decode row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		_ = res.Close()
		return nil, mapErr(err)
	}
	if err := res.Close(); err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

func (b *bucket) Manager() transport.BucketManager {
	return &manager{b: b}
}

func (b *bucket) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return transport.ErrBucketClosed
	}
	res, err := b.bucket.Ping(&gocb.PingOptions{
		ServiceTypes: []gocb.ServiceType{gocb.ServiceTypeKeyValue},
		Context:      ctx,
	})
	if err != nil {
		return err
	}
	return checkPing(res)
}

// checkPing fails on the first endpoint that did not answer ok.
func checkPing(res *gocb.PingResult) error {
	for svc, reports := range res.Services {
		for _, r := range reports {
			if r.State != gocb.PingStateOk {
				return fmt.Errorf("ping %v endpoint %s: %s %s", svc, r.Remote, pingStateName(r.State), r.Error)
			}
		}
	}
	return nil
}

func pingStateName(s gocb.PingState) string {
	switch s {
	case gocb.PingStateOk:
		return "ok"
	case gocb.PingStateTimeout:
		return "timeout"
	case gocb.PingStateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", uint(s))
}

func (b *bucket) Close(context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return transport.ErrBucketClosed
	}
	return b.cluster.Close(nil)
}

type manager struct {
	b *bucket
}

func (m *manager) Info(ctx context.Context) (cluster.BucketInfo, error) {
	if m.b.closed.Load() {
		return cluster.BucketInfo{}, transport.ErrBucketClosed
	}
	s, err := m.b.cluster.Buckets().GetBucket(m.b.name, &gocb.GetBucketOptions{Context: ctx})
	if err != nil {
		return cluster.BucketInfo{}, err
	}
	return cluster.BucketInfo{
		Name:         s.Name,
		Type:         string(s.BucketType),
		RAMQuotaMB:   s.RAMQuotaMB,
		NumReplicas:  s.NumReplicas,
		FlushEnabled: s.FlushEnabled,
	}, nil
}

func (m *manager) Flush(ctx context.Context) error {
	if m.b.closed.Load() {
		return transport.ErrBucketClosed
	}
	return m.b.cluster.Buckets().FlushBucket(m.b.name, &gocb.FlushBucketOptions{Context: ctx})
}
