// Command rttbench measures publish/subscribe round-trip latency across a
// matrix of payload sizes and analyzes the recorded samples.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/rttbench/internal/config"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitNoData      = 2
	exitInterrupted = 130
)

// exitError carries a process exit status through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// app is shared by every subcommand. cfg is populated before RunE.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return exitCode(root.ExecuteContext(ctx), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && ee.code != exitInterrupted {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		if ee.code == exitInterrupted {
			fmt.Fprintln(stderr, "Interrupted")
		}
		return ee.code
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "Interrupted")
		return exitInterrupted
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitFailure
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "rttbench",
		Short:         "Pub/sub round-trip latency benchmark",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	config.RegisterPersistentFlags(root)
	root.AddCommand(
		a.clientCommand(),
		a.fleetCommand(),
		a.serverCommand(),
		a.brokerCommand(),
		a.analyzeCommand(),
	)
	return root
}

// load reads configuration for the invoked subcommand and installs the
// process logger.
func (a *app) load(cmd *cobra.Command) error {
	mode := config.Mode(cmd.Name())
	cfg, err := config.NewLoader().Load(cmd.Flags(), mode)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = setupLogging(a.stderr, cfg.LogLevel)
	if cfg.ConfigFile != "" {
		a.logger.Debug("loaded config file", "path", cfg.ConfigFile)
	}
	return nil
}

func setupLogging(w io.Writer, logLevel string) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// interrupted converts a cancelled run into exit status 130.
func interrupted(ctx context.Context) error {
	if ctx.Err() != nil {
		return withCode(exitInterrupted, ctx.Err())
	}
	return nil
}
