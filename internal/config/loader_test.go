package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // int treated as seconds
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsFloat64(t *testing.T) {
	tests := []struct {
		input interface{}
		want  float64
	}{
		{2.5, 2.5},
		{"0.25", 0.25},
		{3, 3},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asFloat64(tt.input)
		if err != nil {
			t.Errorf("asFloat64(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asFloat64(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"log_level": "debug",
		"domain":    4,
		"clients":   8,
		"transport": map[string]interface{}{
			"url":             "redis://localhost:6379/0",
			"connect_timeout": "2s",
		},
		"measurement": map[interface{}]interface{}{
			"warmup":        10,
			"count":         200,
			"poll_interval": "250us",
			"arrival_model": "poisson",
		},
		"analysis": map[string]interface{}{
			"thresholds":        []interface{}{"rtt:p99<500", "outliers:rate<5"},
			"anomaly_threshold": 7.5,
		},
		"tracing": map[string]interface{}{
			"endpoint":    "localhost:4317",
			"sample_rate": "0.5",
		},
	}

	if err := applyConfigSettings(&cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Domain != 4 || cfg.Clients != 8 {
		t.Errorf("Domain/Clients = %d/%d, want 4/8", cfg.Domain, cfg.Clients)
	}
	if cfg.Transport.URL != "redis://localhost:6379/0" {
		t.Errorf("Transport.URL = %q", cfg.Transport.URL)
	}
	if cfg.Transport.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", cfg.Transport.ConnectTimeout)
	}
	if cfg.Transport.QoS != 1 {
		t.Errorf("QoS default lost: %d", cfg.Transport.QoS)
	}
	if cfg.Measurement.WarmupCount != 10 || cfg.Measurement.MeasurementCount != 200 {
		t.Errorf("unexpected counts %+v", cfg.Measurement)
	}
	if cfg.Measurement.PollInterval != 250*time.Microsecond {
		t.Errorf("PollInterval = %v, want 250µs", cfg.Measurement.PollInterval)
	}
	if cfg.Measurement.ArrivalModel != ArrivalModelPoisson {
		t.Errorf("ArrivalModel = %q, want poisson", cfg.Measurement.ArrivalModel)
	}
	if cfg.Measurement.Timeout != 5*time.Second {
		t.Errorf("Timeout default lost: %v", cfg.Measurement.Timeout)
	}
	if len(cfg.Analysis.Thresholds) != 2 || cfg.Analysis.AnomalyThreshold != 7.5 {
		t.Errorf("unexpected analysis %+v", cfg.Analysis)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("unexpected tracing %+v", cfg.Tracing)
	}
}

func TestApplyConfigSettingsRejectsBadTypes(t *testing.T) {
	cfg := Default()
	err := applyConfigSettings(&cfg, map[string]interface{}{
		"measurement": map[string]interface{}{"count": "many"},
	})
	if err == nil {
		t.Fatal("expected error for non-numeric count")
	}

	err = applyConfigSettings(&cfg, map[string]interface{}{"transport": "redis://x"})
	if err == nil {
		t.Fatal("expected error for non-map section")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "client"}
	RegisterPersistentFlags(cmd)
	RegisterFlags(cmd, ModeClient)

	if err := cmd.ParseFlags([]string{
		"--transport=mqtt://broker:1883",
		"--count=5",
		"--poll-interval=1ms",
		"--arrival-model=POISSON",
		"--log-level=warn",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg := Default()
	cfg.Measurement.WarmupCount = 7
	if err := applyFlagOverrides(&cfg, cmd.Flags(), ModeClient); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Transport.URL != "mqtt://broker:1883" {
		t.Errorf("URL = %q", cfg.Transport.URL)
	}
	if cfg.Measurement.MeasurementCount != 5 {
		t.Errorf("MeasurementCount = %d, want 5", cfg.Measurement.MeasurementCount)
	}
	if cfg.Measurement.WarmupCount != 7 {
		t.Errorf("unset flag overrode WarmupCount: %d", cfg.Measurement.WarmupCount)
	}
	if cfg.Measurement.PollInterval != time.Millisecond {
		t.Errorf("PollInterval = %v, want 1ms", cfg.Measurement.PollInterval)
	}
	if cfg.Measurement.ArrivalModel != ArrivalModelPoisson {
		t.Errorf("ArrivalModel = %q", cfg.Measurement.ArrivalModel)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestApplyFlagOverridesServerPollInterval(t *testing.T) {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	cmd := &cobra.Command{Use: "server"}
	RegisterFlags(cmd, ModeServer)
	fs.AddFlagSet(cmd.Flags())
	if err := fs.Parse([]string{"--poll-interval=5ms", "--log-each"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := Default()
	if err := applyFlagOverrides(&cfg, fs, ModeServer); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}
	if cfg.Echo.PollInterval != 5*time.Millisecond || !cfg.Echo.LogEach {
		t.Errorf("unexpected echo config %+v", cfg.Echo)
	}
	if cfg.Measurement.PollInterval != 100*time.Microsecond {
		t.Errorf("server flag leaked into measurement: %v", cfg.Measurement.PollInterval)
	}
}
