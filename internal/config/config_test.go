package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/rttbench/internal/config"
)

func newCommand(t *testing.T, mode config.Mode, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: string(mode)}
	config.RegisterPersistentFlags(cmd)
	config.RegisterFlags(cmd, mode)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return cmd
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cmd := newCommand(t, config.ModeClient)
	cfg, err := config.NewLoader().Load(cmd.Flags(), config.ModeClient)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := cfg.Measurement
	if m.WarmupCount != 50 || m.MeasurementCount != 1000 || m.Timeout != 5*time.Second {
		t.Fatalf("unexpected measurement defaults %+v", m)
	}
	if m.MinExponent != 0 || m.MaxExponent != 17 {
		t.Fatalf("unexpected exponent range %d..%d", m.MinExponent, m.MaxExponent)
	}
	if m.PollInterval != 100*time.Microsecond {
		t.Fatalf("unexpected poll interval %v", m.PollInterval)
	}
	if cfg.Analysis.AnomalyThreshold != 5 || cfg.Analysis.MinOutlierCount != 10 {
		t.Fatalf("unexpected analysis defaults %+v", cfg.Analysis)
	}
	if cfg.ConfigFile != "" {
		t.Fatalf("unexpected config file %q", cfg.ConfigFile)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "rttbench.yaml", `
log_level: DEBUG
domain: 2
client_id: edge-01
transport:
  url: " mqtt://broker:1883 "
  qos: 0
measurement:
  warmup: 5
  count: 20
  timeout: 250ms
  settle_pause: 0s
  max_exponent: 10
tracing:
  endpoint: collector:4317
  protocol: http
`)
	cmd := newCommand(t, config.ModeClient, "--config", path)
	cfg, err := config.NewLoader().Load(cmd.Flags(), config.ModeClient)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.LogLevel != "debug" || cfg.Domain != 2 || cfg.ClientID != "edge-01" {
		t.Fatalf("unexpected top-level settings %+v", cfg)
	}
	if cfg.Transport.URL != "mqtt://broker:1883" || cfg.Transport.QoS != 0 {
		t.Fatalf("unexpected transport %+v", cfg.Transport)
	}
	m := cfg.Measurement
	if m.WarmupCount != 5 || m.MeasurementCount != 20 || m.Timeout != 250*time.Millisecond || m.SettlePause != 0 || m.MaxExponent != 10 {
		t.Fatalf("unexpected measurement %+v", m)
	}
	if cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.Protocol != "http" {
		t.Fatalf("unexpected tracing %+v", cfg.Tracing)
	}
	if err := cfg.Validate(config.ModeClient); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadJSONFileAnalyze(t *testing.T) {
	path := writeFile(t, "rttbench.json", `{
  "analysis": {
    "dir": "results",
    "format": "YAML",
    "thresholds": ["rtt:p99<500"],
    "min_outlier_count": 20
  }
}`)
	cmd := newCommand(t, config.ModeAnalyze, "--config", path)
	cfg, err := config.NewLoader().Load(cmd.Flags(), config.ModeAnalyze)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := cfg.Analysis
	if a.Dir != "results" || a.Format != config.FormatYAML || a.MinOutlierCount != 20 {
		t.Fatalf("unexpected analysis %+v", a)
	}
	if len(a.Thresholds) != 1 || a.Thresholds[0] != "rtt:p99<500" {
		t.Fatalf("unexpected thresholds %v", a.Thresholds)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "rttbench.yaml", `
transport:
  url: redis://file:6379
measurement:
  count: 20
  warmup: 3
`)
	cmd := newCommand(t, config.ModeFleet, "--config", path, "--count", "40", "--transport", "memory://flags", "--max-concurrency", "4")
	cfg, err := config.NewLoader().Load(cmd.Flags(), config.ModeFleet)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Measurement.MeasurementCount != 40 {
		t.Fatalf("flag did not override file: %d", cfg.Measurement.MeasurementCount)
	}
	if cfg.Measurement.WarmupCount != 3 {
		t.Fatalf("file value lost: %d", cfg.Measurement.WarmupCount)
	}
	if cfg.Transport.URL != "memory://flags" || cfg.MaxConcurrency != 4 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cmd := newCommand(t, config.ModeClient, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := config.NewLoader().Load(cmd.Flags(), config.ModeClient); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateCollectsIssues(t *testing.T) {
	cfg := config.Default()
	cfg.Measurement.MeasurementCount = 0
	cfg.Measurement.MinExponent = 5
	cfg.Measurement.MaxExponent = 2
	cfg.Measurement.ArrivalModel = "bursty"
	cfg.Tracing.SampleRate = 2

	err := cfg.Validate(config.ModeClient)
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	issues := strings.Join(verr.Issues(), "\n")
	for _, want := range []string{
		"transport URL is required",
		"measurement count",
		"payload exponents",
		"arrival model",
		"client id is required",
		"sample rate",
	} {
		if !strings.Contains(issues, want) {
			t.Errorf("missing issue %q in:\n%s", want, issues)
		}
	}
}

func TestValidateRejectsZeroOutlierSettings(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*config.AnalysisConfig)
		issue string
	}{
		{"min outlier count", func(a *config.AnalysisConfig) { a.MinOutlierCount = 0 }, "min outlier count must be positive"},
		{"anomaly threshold", func(a *config.AnalysisConfig) { a.AnomalyThreshold = 0 }, "anomaly threshold must be greater than 0"},
		{"anomaly threshold above 100", func(a *config.AnalysisConfig) { a.AnomalyThreshold = 101 }, "anomaly threshold must be greater than 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.edit(&cfg.Analysis)
			err := cfg.Validate(config.ModeAnalyze)
			if err == nil || !strings.Contains(err.Error(), tt.issue) {
				t.Fatalf("expected %q, got %v", tt.issue, err)
			}
		})
	}
}

func TestValidateModes(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.URL = "memory://bench"

	if err := cfg.Validate(config.ModeServer); err != nil {
		t.Fatalf("server: %v", err)
	}
	if err := cfg.Validate(config.ModeBroker); err != nil {
		t.Fatalf("broker: %v", err)
	}
	if err := cfg.Validate(config.ModeAnalyze); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if err := cfg.Validate(config.ModeFleet); err != nil {
		t.Fatalf("fleet: %v", err)
	}

	cfg.Clients = 0
	if err := cfg.Validate(config.ModeFleet); err == nil {
		t.Fatal("expected fleet error for zero clients")
	}

	cfg.ClientID = "a/b"
	if err := cfg.Validate(config.ModeClient); err == nil || !strings.Contains(err.Error(), "path separators") {
		t.Fatalf("expected path separator error, got %v", err)
	}

	cfg.Analysis.Format = "xml"
	if err := cfg.Validate(config.ModeAnalyze); err == nil {
		t.Fatal("expected format error")
	}

	if err := cfg.Validate("bogus"); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestTracingEnabled(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if (config.TracingConfig{}).Enabled() {
		t.Fatal("expected tracing disabled without endpoint")
	}
	if !(config.TracingConfig{Endpoint: "localhost:4317"}).Enabled() {
		t.Fatal("expected tracing enabled with endpoint")
	}
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	if !(config.TracingConfig{}).Enabled() {
		t.Fatal("expected tracing enabled from environment")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.SendBuffer = 0
	err := cfg.Validate(config.ModeBroker)
	if err == nil || !strings.HasPrefix(err.Error(), "validation failed: ") {
		t.Fatalf("unexpected error %v", err)
	}
}
