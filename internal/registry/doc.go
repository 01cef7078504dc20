/*
Package registry builds and owns the bucket connections for one cluster.

# Overview

A Registry is created once from a cluster.Config. Construction opens every
configured bucket through a transport.Connector, binds the bucket's
operations and stores the pair under the bucket name. After construction the
registry only answers lookups and removes buckets on request; it never opens
new ones.

	reg, err := registry.New(ctx, cfg, connector,
	    registry.WithLogger(log),
	    registry.WithMetrics(m),
	)

# Partial Initialization

Buckets that fail to open are reported as *cluster.ConnectionError values
joined into the error returned by New. They are never registered, so a later
Lookup for them fails with *cluster.UnknownBucketError exactly like a name
that was never configured. New returns a nil registry only when no bucket
opened at all.

# Duplicate Names

When a bucket name appears more than once in the configuration the first
entry wins and each later duplicate is logged at warn level and skipped.

# Health Monitoring

HealthMonitor pings every registered bucket on an interval and marks a bucket
unhealthy after MaxFailures consecutive failed pings:

	monitor := registry.NewHealthMonitor(reg, registry.HealthConfig{
	    Interval:    5 * time.Second,
	    MaxFailures: 3,
	})
	monitor.SetOnUnhealthy(func(bucket string) {
	    log.Warn("bucket unhealthy", zap.String("bucket", bucket))
	})
	go monitor.Start(ctx)
	defer monitor.Stop()

The monitor reports only; it never disconnects a bucket.
*/
package registry
