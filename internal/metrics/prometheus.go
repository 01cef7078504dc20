package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/cbfront/internal/cluster"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

type promMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	unknownBucket     *prometheus.CounterVec
	bucketOpens       *prometheus.CounterVec
	bucketsRegistered prometheus.Gauge
	bucketHealthy     *prometheus.GaugeVec
}

// NewPrometheus creates the cbfront collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) Metrics {
	m := &promMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cbfront_operations_total",
			Help: "Total number of bucket operations by result code",
		}, []string{"bucket", "op", "code"}),

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cbfront_operation_duration_seconds",
			Help:    "Bucket operation latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"bucket", "op"}),

		unknownBucket: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cbfront_unknown_bucket_total",
			Help: "Calls rejected because the bucket is not registered",
		}, []string{"op"}),

		bucketOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cbfront_bucket_opens_total",
			Help: "Bucket open attempts",
		}, []string{"bucket", "success"}),

		bucketsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cbfront_buckets_registered",
			Help: "Number of registered bucket connections",
		}),

		bucketHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cbfront_bucket_healthy",
			Help: "1 when the bucket answers health checks, 0 otherwise",
		}, []string{"bucket"}),
	}

	reg.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.unknownBucket,
		m.bucketOpens,
		m.bucketsRegistered,
		m.bucketHealthy,
	)

	return m
}

func (m *promMetrics) ObserveOperation(bucket, op string, d time.Duration, err error) {
	m.operationsTotal.WithLabelValues(bucket, op, cluster.Code(err)).Inc()
	m.operationDuration.WithLabelValues(bucket, op).Observe(d.Seconds())
}

func (m *promMetrics) UnknownBucket(op string) {
	m.unknownBucket.WithLabelValues(op).Inc()
}

func (m *promMetrics) BucketOpened(bucket string, ok bool) {
	m.bucketOpens.WithLabelValues(bucket, strconv.FormatBool(ok)).Inc()
}

func (m *promMetrics) SetBucketsRegistered(n int) {
	m.bucketsRegistered.Set(float64(n))
}

func (m *promMetrics) SetBucketHealthy(bucket string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.bucketHealthy.WithLabelValues(bucket).Set(v)
}

func (m *promMetrics) BucketRemoved(bucket string) {
	m.bucketHealthy.DeleteLabelValues(bucket)
}
