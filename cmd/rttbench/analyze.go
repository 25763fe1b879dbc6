package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/torosent/rttbench/internal/analysis"
	"github.com/torosent/rttbench/internal/config"
	"github.com/torosent/rttbench/internal/output"
	"github.com/torosent/rttbench/internal/threshold"
)

func (a *app) analyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [dir]",
		Short: "Aggregate sample artifacts into per-size RTT statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.Analysis.Dir = args[0]
			}
			return a.runAnalyze(cmd.Context())
		},
	}
	config.RegisterFlags(cmd, config.ModeAnalyze)
	return cmd
}

func (a *app) runAnalyze(ctx context.Context) error {
	cfg := a.cfg.Analysis
	if err := a.cfg.Validate(config.ModeAnalyze); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	report, err := analysis.Run(ctx, analysis.Options{
		Dir:              cfg.Dir,
		MinOutlierCount:  cfg.MinOutlierCount,
		AnomalyThreshold: cfg.AnomalyThreshold,
		Logger:           a.logger,
	})
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			return ierr
		}
		if errors.Is(err, analysis.ErrNoInput) || errors.Is(err, analysis.ErrNoUsableData) {
			if report != nil {
				output.PrintAnalysisReport(a.stderr, report)
			}
			return withCode(exitNoData, err)
		}
		return err
	}

	if err := a.printReport(a.stdout, cfg.Format, report); err != nil {
		return err
	}

	path, err := output.WriteReportFile(cfg.OutputDir, report)
	if err != nil {
		return err
	}
	a.logger.Info("report written", "path", path)

	var results []threshold.Result
	if len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(report)
		// Structured formats keep stdout machine readable.
		w := a.stdout
		if cfg.Format != config.FormatText {
			w = a.stderr
		}
		output.PrintThresholdResults(w, results)
	}

	if cfg.HTMLOutput != "" {
		if err := writeHTMLReport(cfg.HTMLOutput, report, results); err != nil {
			return err
		}
		a.logger.Info("HTML report written", "path", cfg.HTMLOutput)
	}

	if !threshold.AllPassed(results) {
		return errors.New("one or more thresholds failed")
	}
	return nil
}

func (a *app) printReport(w io.Writer, format string, report *analysis.Report) error {
	switch format {
	case config.FormatJSON:
		return output.PrintJSONReport(w, report)
	case config.FormatYAML:
		return output.PrintYAMLReport(w, report)
	default:
		output.PrintAnalysisReport(w, report)
		return nil
	}
}

func writeHTMLReport(path string, report *analysis.Report, results []threshold.Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create HTML report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create HTML report: %w", err)
	}
	if err := output.GenerateHTMLReport(f, report, results); err != nil {
		f.Close()
		return fmt.Errorf("generate HTML report: %w", err)
	}
	return f.Close()
}
