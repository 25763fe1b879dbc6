// Package runner drives RTT measurements: sessions, clients and fleets.
//
// A [Session] measures one payload size. It issues WarmupCount probes and
// discards them, waits SettlePause, then issues MeasurementCount sequential
// probes. Every accepted round trip is appended to the [SampleSink] before the
// next probe starts:
//
//	session := &runner.Session{
//		Prober: probe.New(b, probe.Options{...}),
//		Sink:   writer,
//		Config: runner.DefaultSessionConfig(),
//	}
//	res, err := session.Run(ctx)
//
// A [Client] owns one bus connection, one session token, one request id
// sequence and one artifact, and runs a session per payload size in
// ascending order (see [PayloadSizes]).
//
// A [Fleet] runs many clients concurrently, bounded by MaxConcurrency. Each
// client gets its own connection through the [ClientFactory]; failures and
// panics are captured per client in [ClientRunResult] and never stop the
// others.
//
// # Pacing
//
// Probes run back to back by default. RatePerSecond spaces probe starts using
// either a token bucket ([ArrivalModelUniform]) or exponential inter-arrival
// times ([ArrivalModelPoisson]).
//
// # Connecting
//
// [OpenWithRetry] opens transports under a [RetryPolicy]; see
// [DefaultConnectPolicy].
package runner
