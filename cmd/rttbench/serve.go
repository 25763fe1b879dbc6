package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/torosent/rttbench/internal/broker"
	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/config"
	"github.com/torosent/rttbench/internal/echo"
	"github.com/torosent/rttbench/internal/metrics"
	"github.com/torosent/rttbench/internal/runner"
)

func (a *app) serverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Echo every request back on the response topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServer(cmd.Context())
		},
	}
	config.RegisterFlags(cmd, config.ModeServer)
	return cmd
}

func (a *app) brokerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the WebSocket pub/sub broker used by ws:// transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBroker(cmd.Context())
		},
	}
	config.RegisterFlags(cmd, config.ModeBroker)
	return cmd
}

func (a *app) runServer(ctx context.Context) error {
	if err := a.cfg.Validate(config.ModeServer); err != nil {
		return err
	}
	obs, err := a.startObservability(ctx)
	if err != nil {
		return err
	}
	defer obs.shutdown(a)

	retry := runner.DefaultConnectPolicy()
	retry.MaxAttempts = a.cfg.Transport.ConnectRetries + 1
	b, err := runner.OpenWithRetry(ctx, bus.Options{
		URL:            a.cfg.Transport.URL,
		ClientID:       "echo",
		MailboxSize:    a.cfg.Transport.MailboxSize,
		QoS:            byte(a.cfg.Transport.QoS),
		ConnectTimeout: a.cfg.Transport.ConnectTimeout,
		Logger:         a.logger,
	}, retry, a.logger)
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			return ierr
		}
		return err
	}

	request, response := bus.Topics(a.cfg.Domain)
	opts := echo.Options{
		RequestTopic:  request,
		ResponseTopic: response,
		PollInterval:  a.cfg.Echo.PollInterval,
		LogEach:       a.cfg.Echo.LogEach,
		Logger:        a.logger,
	}
	if obs.exporter != nil {
		opts.OnEcho = obs.exporter.RecordEcho
	}
	if err := echo.New(b, opts).Run(ctx); err != nil {
		return err
	}
	return nil
}

func (a *app) runBroker(ctx context.Context) error {
	if err := a.cfg.Validate(config.ModeBroker); err != nil {
		return err
	}
	exporter := metrics.NewExporter()
	srv := broker.New(broker.Options{
		Addr:       a.cfg.Broker.Listen,
		SendBuffer: a.cfg.Broker.SendBuffer,
		Metrics:    exporter.Handler(),
		Logger:     a.logger,
	})
	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := exporter.Serve(ctx, a.cfg.MetricsAddr, a.logger); err != nil {
				a.logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}
	return srv.ListenAndServe(ctx)
}
