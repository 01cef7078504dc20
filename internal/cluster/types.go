package cluster

import (
	"encoding/json"
	"time"
)

// DefaultOpenTimeout bounds a single bucket open when Config.OpenTimeout is unset.
const DefaultOpenTimeout = 10 * time.Second

// Config identifies the cluster endpoint and the buckets to open on it.
// It is treated as immutable once handed to the registry.
type Config struct {
	// ConnectionString is the cluster endpoint, e.g. "couchbase://10.0.0.1".
	ConnectionString string `json:"cluster" mapstructure:"cluster"`

	// Username and Password authenticate buckets that carry no credential
	// of their own.
	Username string `json:"username,omitempty" mapstructure:"username"`
	Password string `json:"password,omitempty" mapstructure:"password"`

	// OpenTimeout bounds each bucket open; zero means DefaultOpenTimeout.
	OpenTimeout time.Duration `json:"openTimeout,omitempty" mapstructure:"openTimeout"`

	Buckets []BucketConfig `json:"buckets" mapstructure:"buckets"`
}

// BucketConfig describes one bucket to open. Name is the registry key.
type BucketConfig struct {
	Name     string `json:"bucket" mapstructure:"bucket"`
	Password string `json:"password,omitempty" mapstructure:"password"`

	// OperationTimeout overrides the transport's default per-operation
	// timeout. Zero keeps the transport default.
	OperationTimeout time.Duration `json:"operationTimeout,omitempty" mapstructure:"operationTimeout"`
}

// Validate checks the construction input. Every failure is a *ConfigError.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Field: "config", Reason: "no configuration supplied"}
	}
	if c.ConnectionString == "" {
		return &ConfigError{Field: "cluster", Reason: "connection string not supplied"}
	}
	if len(c.Buckets) == 0 {
		return &ConfigError{Field: "buckets", Reason: "at least one bucket must be configured"}
	}
	for i, b := range c.Buckets {
		if b.Name == "" {
			return &ConfigError{Field: "buckets", Index: i, Reason: "bucket name not supplied"}
		}
		if b.OperationTimeout < 0 {
			return &ConfigError{Field: "operationTimeout", Index: i, Reason: "must not be negative"}
		}
	}
	if c.OpenTimeout < 0 {
		return &ConfigError{Field: "openTimeout", Reason: "must not be negative"}
	}
	return nil
}

// EffectiveOpenTimeout returns OpenTimeout or DefaultOpenTimeout when unset.
func (c *Config) EffectiveOpenTimeout() time.Duration {
	if c.OpenTimeout > 0 {
		return c.OpenTimeout
	}
	return DefaultOpenTimeout
}

// Document is a stored value together with its CAS.
type Document struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	CAS   uint64          `json:"cas"`
}

// Result is the outcome of a mutation.
type Result struct {
	Key string `json:"key"`
	CAS uint64 `json:"cas"`
}

// Row is a single query result row as returned by the query engine.
type Row = json.RawMessage

// MultiEntry holds either the document read for a key or the per-key error.
type MultiEntry struct {
	Doc *Document
	Err error
}

// MultiResult maps every requested key to its outcome.
type MultiResult map[string]MultiEntry

// Found returns the documents that were read successfully.
func (m MultiResult) Found() map[string]Document {
	out := make(map[string]Document, len(m))
	for k, e := range m {
		if e.Err == nil && e.Doc != nil {
			out[k] = *e.Doc
		}
	}
	return out
}

// Missing returns the keys whose read failed.
func (m MultiResult) Missing() []string {
	var keys []string
	for k, e := range m {
		if e.Err != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// BucketInfo is the administrative view of a bucket.
type BucketInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	RAMQuotaMB   uint64 `json:"ramQuotaMB"`
	NumReplicas  uint32 `json:"numReplicas"`
	FlushEnabled bool   `json:"flushEnabled"`
}
