// Package metrics provides Prometheus metrics for RowStore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RowStore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Transaction metrics
	TxTotal    *prometheus.CounterVec
	TxDuration *prometheus.HistogramVec

	// Column access metrics
	ColumnReadsTotal  *prometheus.CounterVec
	ColumnWritesTotal *prometheus.CounterVec
	LinkListOpsTotal  *prometheus.CounterVec

	// Row lifecycle metrics
	RowsCreatedTotal prometheus.Counter
	RowsDeletedTotal prometheus.Counter
	TablesTotal      prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "code"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "rowstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Store metrics
	m.TxTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstore_transactions_total",
			Help: "Total number of finished write transactions",
		},
		[]string{"outcome"},
	)

	m.TxDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowstore_transaction_duration_seconds",
			Help:    "Duration of write transactions in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"outcome"},
	)

	m.ColumnReadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstore_column_reads_total",
			Help: "Total number of typed column reads",
		},
		[]string{"type"},
	)

	m.ColumnWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstore_column_writes_total",
			Help: "Total number of typed column writes",
		},
		[]string{"type"},
	)

	m.LinkListOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstore_linklist_operations_total",
			Help: "Total number of link list mutations",
		},
		[]string{"op"},
	)

	m.RowsCreatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstore_rows_created_total",
			Help: "Total number of rows created",
		},
	)

	m.RowsDeletedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstore_rows_deleted_total",
			Help: "Total number of rows deleted",
		},
	)

	m.TablesTotal = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "rowstore_tables",
			Help: "Number of tables in the open store",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "rowstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until stop is closed
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		case <-stop:
			return
		}
	}
}

// TrackGrpcRequest counts a request in flight until the returned func runs
func (m *Metrics) TrackGrpcRequest() (done func()) {
	if m == nil {
		return func() {}
	}
	m.GrpcRequestsInFlight.Inc()
	return m.GrpcRequestsInFlight.Dec
}

// RecordGrpcRequest records a finished gRPC request and its status code
func (m *Metrics) RecordGrpcRequest(method string, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, code).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTx records a finished write transaction
func (m *Metrics) RecordTx(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TxTotal.WithLabelValues(outcome).Inc()
	m.TxDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRead records a typed column read
func (m *Metrics) RecordRead(fieldType string) {
	if m == nil {
		return
	}
	m.ColumnReadsTotal.WithLabelValues(fieldType).Inc()
}

// RecordWrite records a typed column write
func (m *Metrics) RecordWrite(fieldType string) {
	if m == nil {
		return
	}
	m.ColumnWritesTotal.WithLabelValues(fieldType).Inc()
}

// RecordLinkListOp records a link list mutation
func (m *Metrics) RecordLinkListOp(op string) {
	if m == nil {
		return
	}
	m.LinkListOpsTotal.WithLabelValues(op).Inc()
}

// RecordRowCreated records a new row
func (m *Metrics) RecordRowCreated() {
	if m == nil {
		return
	}
	m.RowsCreatedTotal.Inc()
}

// RecordRowDeleted records a deleted row
func (m *Metrics) RecordRowDeleted() {
	if m == nil {
		return
	}
	m.RowsDeletedTotal.Inc()
}

// SetTables updates the table gauge
func (m *Metrics) SetTables(n int) {
	if m == nil {
		return
	}
	m.TablesTotal.Set(float64(n))
}
