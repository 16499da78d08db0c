package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Input metrics
	LinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thawk_forensics_lines_total",
			Help: "Total number of timeline lines read",
		},
		[]string{"status"},
	)

	// Transformation metrics
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thawk_forensics_documents_total",
			Help: "Total number of documents produced",
		},
		[]string{"category", "outcome"},
	)

	RecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thawk_forensics_record_duration_seconds",
			Help:    "Time spent handling one timeline record, including handoff of its documents, in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	// Storage metrics
	BulkDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thawk_forensics_bulk_documents_total",
			Help: "Total number of documents acknowledged by the search backend",
		},
		[]string{"index", "status"},
	)

	TemplatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thawk_forensics_templates_total",
			Help: "Total number of index template provisioning attempts",
		},
		[]string{"status"},
	)

	// Dead letter metrics
	DLQWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thawk_forensics_dlq_writes_total",
			Help: "Total number of documents written to the dead letter queue",
		},
		[]string{"backend", "status"},
	)
)

// Label values.
const (
	StatusProcessed = "processed"
	StatusBlank     = "blank"
	StatusMalformed = "malformed"
	StatusIndexed   = "indexed"
	StatusFailed    = "failed"
	StatusOK        = "ok"

	OutcomeDocument = "document"
	OutcomeError    = "error"
)

// Server exposes /metrics until its context is cancelled.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
