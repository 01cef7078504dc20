package main

import (
	"strings"

	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/transport"
	"github.com/dreamware/cbfront/internal/transport/couchbase"
	"github.com/dreamware/cbfront/internal/transport/memory"
)

// memoryScheme selects the in-process cluster, for local development.
const memoryScheme = "memory://"

// newConnector picks the transport for cfg's connection string.
func newConnector(cfg cluster.Config) transport.Connector {
	if strings.HasPrefix(cfg.ConnectionString, memoryScheme) {
		return memory.NewCluster(memory.WithAutoCreate())
	}
	return couchbase.NewConnector(cfg)
}
