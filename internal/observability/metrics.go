// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Record metrics
	RecordsFetched   prometheus.Counter
	VerdictsTotal    *prometheus.CounterVec
	SubmissionsTotal *prometheus.CounterVec

	// Token metrics
	TokenOpsTotal *prometheus.CounterVec

	// Account stats as last reported by the oracle
	AccountValidCount   *prometheus.GaugeVec
	AccountInvalidCount *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "storkvalidator"
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of validation cycles by outcome",
		}, []string{"status"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of a validation cycle",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		RecordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "fetched_total",
			Help:      "Total number of signed records fetched from the oracle",
		}),
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "verdicts_total",
			Help:      "Local validity decisions by verdict",
		}, []string{"verdict"}),
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "submissions_total",
			Help:      "Validation submissions by result",
		}, []string{"result"}),
		TokenOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "operations_total",
			Help:      "Identity provider calls by operation and status",
		}, []string{"op", "status"}),
		AccountValidCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "valid_count",
			Help:      "Valid validations credited to the account",
		}, []string{"account"}),
		AccountInvalidCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "invalid_count",
			Help:      "Invalid validations credited to the account",
		}, []string{"account"}),
	}
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status(err)).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// AddRecordsFetched counts fetched records.
func (m *Metrics) AddRecordsFetched(n int) {
	if m == nil {
		return
	}
	m.RecordsFetched.Add(float64(n))
}

// ObserveVerdict counts one local decision.
func (m *Metrics) ObserveVerdict(valid bool) {
	if m == nil {
		return
	}
	verdict := "invalid"
	if valid {
		verdict = "valid"
	}
	m.VerdictsTotal.WithLabelValues(verdict).Inc()
}

// ObserveSubmission counts one submission attempt.
func (m *Metrics) ObserveSubmission(err error) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(status(err)).Inc()
}

// ObserveTokenOp counts one authenticate or refresh call.
func (m *Metrics) ObserveTokenOp(op string, err error) {
	if m == nil {
		return
	}
	m.TokenOpsTotal.WithLabelValues(op, status(err)).Inc()
}

// SetAccountStats records the oracle's counters for a masked account.
func (m *Metrics) SetAccountStats(account string, valid, invalid int64) {
	if m == nil {
		return
	}
	m.AccountValidCount.WithLabelValues(account).Set(float64(valid))
	m.AccountInvalidCount.WithLabelValues(account).Set(float64(invalid))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
