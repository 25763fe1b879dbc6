package main

import (
	"context"
	"time"

	"github.com/torosent/rttbench/internal/metrics"
	"github.com/torosent/rttbench/internal/tracing"
)

// observability holds the optional metrics endpoint and tracer of a run.
type observability struct {
	exporter *metrics.Exporter
	tracing  *tracing.Provider
}

// startObservability starts the Prometheus endpoint when --metrics-addr is
// set and the OTLP exporter when tracing is configured.
func (a *app) startObservability(ctx context.Context) (*observability, error) {
	o := &observability{}
	if a.cfg.MetricsAddr != "" {
		o.exporter = metrics.NewExporter()
		go func() {
			if err := o.exporter.Serve(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
				a.logger.Error("metrics endpoint failed", "addr", a.cfg.MetricsAddr, "error", err)
			}
		}()
	}
	tp, err := tracing.Init(ctx, a.cfg.Tracing)
	if err != nil {
		return nil, err
	}
	o.tracing = tp
	if tp.Enabled() {
		a.logger.Info("tracing enabled", "protocol", a.cfg.Tracing.Protocol)
	}
	return o, nil
}

func (o *observability) shutdown(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", "error", err)
	}
}

// recorder returns the probe recorders for a run: the local collector plus
// the Prometheus exporter when enabled.
func (o *observability) recorder(collector *metrics.Collector) metrics.Recorder {
	rs := metrics.Recorders{collector}
	if o.exporter != nil {
		rs = append(rs, o.exporter)
	}
	return rs
}
