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
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_cycles_total",
		Help: "Reminder cycles by result (ok, aborted).",
	}, []string{"result"})

	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_decisions_total",
		Help: "Appointment classifications by decision.",
	}, []string{"decision"})

	RemindersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_dispatches_total",
		Help: "Reminder dispatch attempts by status.",
	}, []string{"status"})

	AppointmentErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminder_appointment_errors_total",
		Help: "Per-appointment errors (unknown customer, malformed start).",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminder_state_persist_failures_total",
		Help: "Failed writes of the notified-ID state file.",
	})

	NotifiedIDs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_notified_ids",
		Help: "Size of the notified-ID set after the last cycle.",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reminder_cycle_duration_seconds",
		Help:    "Wall time of a reminder cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

// PrometheusMetrics is the engine's view of the collectors above.
type PrometheusMetrics struct{}

func (PrometheusMetrics) CycleFinished(aborted bool, d time.Duration, notified int) {
	result := "ok"
	if aborted {
		result = "aborted"
	}
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(d.Seconds())
	if !aborted {
		NotifiedIDs.Set(float64(notified))
	}
}

func (PrometheusMetrics) Decision(decision string) {
	DecisionsTotal.WithLabelValues(decision).Inc()
}

func (PrometheusMetrics) Dispatch(status string) {
	RemindersTotal.WithLabelValues(status).Inc()
}

func (PrometheusMetrics) AppointmentError() {
	AppointmentErrors.Inc()
}

func (PrometheusMetrics) PersistFailed() {
	PersistFailures.Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
