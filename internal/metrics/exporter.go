package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes probe and echo activity as Prometheus metrics. Each
// Exporter owns its registry.
type Exporter struct {
	registry      *prometheus.Registry
	probes        *prometheus.CounterVec
	rtt           prometheus.Histogram
	stale         prometheus.Counter
	echoes        prometheus.Counter
	activeClients prometheus.Gauge
}

// NewExporter creates an Exporter with its metrics registered.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rttbench_probes_total",
			Help: "Probes issued, by outcome",
		}, []string{"outcome"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rttbench_rtt_microseconds",
			Help:    "Round trip time of matched probes in microseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 20),
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rttbench_stale_responses_total",
			Help: "Responses discarded because they matched no outstanding probe",
		}),
		echoes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rttbench_echo_messages_total",
			Help: "Requests echoed by the responder",
		}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rttbench_active_clients",
			Help: "Clients currently running their payload matrix",
		}),
	}
	e.registry.MustRegister(e.probes, e.rtt, e.stale, e.echoes, e.activeClients)
	return e
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// RecordProbe implements Recorder.
func (e *Exporter) RecordProbe(_ int, rtt time.Duration, err error, discarded int) {
	outcome := Classify(err)
	if outcome == OutcomeCancelled {
		return
	}
	e.probes.WithLabelValues(outcome).Inc()
	if outcome == OutcomeMatched {
		e.rtt.Observe(micros(rtt))
	}
	if discarded > 0 {
		e.stale.Add(float64(discarded))
	}
}

// RecordEcho counts one echoed request.
func (e *Exporter) RecordEcho(int) {
	e.echoes.Inc()
}

// ClientStarted increments the active client gauge.
func (e *Exporter) ClientStarted() {
	e.activeClients.Inc()
}

// ClientFinished decrements the active client gauge.
func (e *Exporter) ClientFinished() {
	e.activeClients.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Router returns a chi router exposing /metrics and /healthz.
func (e *Exporter) Router() chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", e.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

// Serve listens on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
