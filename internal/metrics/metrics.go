package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Name:      "jobs_total",
		Help:      "Wallet jobs settled, by result (ok, failed, skipped, planned)",
	}, []string{"result"})

	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Subsystem: "oracle",
		Name:      "quotes_total",
		Help:      "Quotes served, by source tier",
	}, []string{"source"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Name:      "retries_total",
		Help:      "Transient failures that were retried, by operation",
	}, []string{"op"})

	ApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Subsystem: "precheck",
		Name:      "approvals_total",
		Help:      "Approval transactions confirmed, by step (reset, set)",
	}, []string{"step"})

	ShortfallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Subsystem: "precheck",
		Name:      "shortfalls_total",
		Help:      "Funding or authorization shortfalls detected, by asset",
	}, []string{"asset"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "provisioner",
		Name:      "job_duration_seconds",
		Help:      "Wall time of one wallet job",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	})
)

// Serve exposes /metrics on addr in the background. The caller owns shutdown.
func Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
		}
	}()
	return srv
}
