// Package metrics exposes Prometheus counters for the client back office.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks uploads, client lifecycle events and proof downloads.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	Uploads         *prometheus.CounterVec
	UploadBytes     prometheus.Counter
	ClientsCreated  prometheus.Counter
	ClientsDeleted  prometheus.Counter
	ProofDownloads  prometheus.Counter
	BlobDeletes     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clients_uploads_total",
			Help: "Uploaded files by slot and outcome (stored, rejected, failed)",
		}, []string{"slot", "outcome"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "clients_upload_bytes_total",
			Help: "Bytes written to the blob store",
		}),
		ClientsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "clients_created_total",
			Help: "Total number of clients created",
		}),
		ClientsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "clients_deleted_total",
			Help: "Total number of clients deleted",
		}),
		ProofDownloads: f.NewCounter(prometheus.CounterOpts{
			Name: "clients_identity_proof_downloads_total",
			Help: "Identity proof downloads served",
		}),
		BlobDeletes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clients_blob_deletes_total",
			Help: "Stored file removals by outcome (deleted, missing, failed)",
		}, []string{"outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clients_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) IncrementUpload(slot, outcome string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(slot, outcome).Inc()
}

func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.UploadBytes.Add(float64(n))
}

func (m *Metrics) IncrementClientCreated() {
	if m == nil {
		return
	}
	m.ClientsCreated.Inc()
}

func (m *Metrics) IncrementClientDeleted() {
	if m == nil {
		return
	}
	m.ClientsDeleted.Inc()
}

func (m *Metrics) IncrementProofDownload() {
	if m == nil {
		return
	}
	m.ProofDownloads.Inc()
}

func (m *Metrics) IncrementBlobDelete(outcome string) {
	if m == nil {
		return
	}
	m.BlobDeletes.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the duration of a request. Call with time.Now()
// taken before the handler ran.
func (m *Metrics) ObserveRequest(method, route string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
