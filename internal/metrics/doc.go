// Package metrics provides live probe metrics for RTT runs.
//
// The [Collector] aggregates probe outcomes overall and per payload size
// using HDR histograms, so progress lines and per-size log summaries can
// report percentiles while a run is in progress:
//
//	collector := metrics.NewCollector()
//	collector.RecordProbe(size, rtt, err, discarded)
//	snap := collector.SizeSnapshot(size)
//
// The [Exporter] mirrors the same outcomes as Prometheus metrics and serves
// them over HTTP:
//
//	exporter := metrics.NewExporter()
//	go exporter.Serve(ctx, ":9090", logger)
//
// Both implement [Recorder]; [Recorders] fans one outcome out to several.
// Probes cancelled by the caller are not counted.
//
// These metrics are observational only. The statistics reported by the
// analyze command are computed from the persisted artifacts.
package metrics
