package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/config"
	"github.com/torosent/rttbench/internal/metrics"
	"github.com/torosent/rttbench/internal/output"
	"github.com/torosent/rttbench/internal/runner"
)

const progressInterval = time.Second

func (a *app) clientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run one client's payload matrix against an echo responder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClient(cmd.Context())
		},
	}
	config.RegisterFlags(cmd, config.ModeClient)
	return cmd
}

func (a *app) fleetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet [count]",
		Short: "Run many isolated clients concurrently",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("client count %q: %w", args[0], err)
				}
				a.cfg.Clients = n
			}
			return a.runFleet(cmd.Context())
		},
	}
	config.RegisterFlags(cmd, config.ModeFleet)
	return cmd
}

// clientSetup maps configuration onto what every client of the run shares.
func (a *app) clientSetup(recorder metrics.Recorder, obs *observability) runner.ClientSetup {
	cfg := a.cfg
	m := cfg.Measurement

	retry := runner.DefaultConnectPolicy()
	retry.MaxAttempts = cfg.Transport.ConnectRetries + 1

	return runner.ClientSetup{
		Transport: bus.Options{
			URL:            cfg.Transport.URL,
			MailboxSize:    cfg.Transport.MailboxSize,
			QoS:            byte(cfg.Transport.QoS),
			ConnectTimeout: cfg.Transport.ConnectTimeout,
		},
		Retry:        retry,
		Domain:       cfg.Domain,
		OutputDir:    cfg.OutputDir,
		Fsync:        cfg.Fsync,
		Sizes:        runner.PayloadSizes(m.MinExponent, m.MaxExponent),
		PollInterval: m.PollInterval,
		Session: runner.SessionConfig{
			WarmupCount:      m.WarmupCount,
			MeasurementCount: m.MeasurementCount,
			Timeout:          m.Timeout,
			SettlePause:      m.SettlePause,
			ProgressEvery:    m.ProgressEvery,
			RatePerSecond:    m.RatePerSecond,
			ArrivalModel:     toRunnerArrivalModel(m.ArrivalModel),
		},
		Recorder: recorder,
		Tracer:   obs.tracing.Tracer(),
		Logger:   a.logger,
	}
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch model {
	case config.ArrivalModelPoisson:
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}

func (a *app) startProgress(collector *metrics.Collector, active func() int) func() {
	if a.cfg.Quiet {
		return func() {}
	}
	progress := output.NewProgressReporter(collector, active, progressInterval, a.stdout)
	progress.Start()
	return progress.Stop
}

func (a *app) runClient(ctx context.Context) error {
	if err := a.cfg.Validate(config.ModeClient); err != nil {
		return err
	}
	obs, err := a.startObservability(ctx)
	if err != nil {
		return err
	}
	defer obs.shutdown(a)

	collector := metrics.NewCollector()
	setup := a.clientSetup(obs.recorder(collector), obs)

	client, err := setup.NewClient(ctx, a.cfg.ClientID)
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			return ierr
		}
		return err
	}

	stopProgress := a.startProgress(collector, nil)
	summary, runErr := client.Run(ctx)
	stopProgress()

	fmt.Fprintf(a.stdout, "Client %s: %d samples over %d payload sizes\n", summary.ClientID, summary.Samples, len(summary.Series))
	if summary.ArtifactPath != "" {
		fmt.Fprintf(a.stdout, "Artifact: %s\n", summary.ArtifactPath)
	}
	if len(summary.FailedSizes) > 0 {
		fmt.Fprintf(a.stdout, "Failed sizes: %v\n", summary.FailedSizes)
	}

	if ierr := interrupted(ctx); ierr != nil {
		return ierr
	}
	if runErr != nil {
		return runErr
	}
	if len(summary.FailedSizes) > 0 {
		return fmt.Errorf("%d payload sizes failed", len(summary.FailedSizes))
	}
	return nil
}

func (a *app) runFleet(ctx context.Context) error {
	if err := a.cfg.Validate(config.ModeFleet); err != nil {
		return err
	}
	obs, err := a.startObservability(ctx)
	if err != nil {
		return err
	}
	defer obs.shutdown(a)

	collector := metrics.NewCollector()
	setup := a.clientSetup(obs.recorder(collector), obs)
	tracker := metrics.NewClientTracker(obs.exporter)

	fleet := &runner.Fleet{
		Clients:        a.cfg.Clients,
		MaxConcurrency: a.cfg.MaxConcurrency,
		Factory:        setup.Factory(),
		Preflight:      setup.Preflight,
		Observer:       tracker,
		Logger:         a.logger,
	}

	a.logger.Info("starting fleet", "clients", fleet.Clients, "max_concurrency", fleet.MaxConcurrency, "transport", a.cfg.Transport.URL)
	stopProgress := a.startProgress(collector, tracker.Active)
	result, runErr := fleet.Run(ctx)
	stopProgress()

	if ierr := interrupted(ctx); ierr != nil {
		output.PrintFleetSummary(a.stdout, result)
		return ierr
	}
	if runErr != nil {
		return runErr
	}
	output.PrintFleetSummary(a.stdout, result)
	if failed := result.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d clients failed", failed, len(result.Results))
	}
	return nil
}
