package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Mode identifies the subcommand a configuration is loaded for.
type Mode string

const (
	ModeClient  Mode = "client"
	ModeFleet   Mode = "fleet"
	ModeServer  Mode = "server"
	ModeBroker  Mode = "broker"
	ModeAnalyze Mode = "analyze"
)

// Report formats accepted by analyze.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config is the complete rttbench configuration. Each subcommand reads the
// sections relevant to it.
type Config struct {
	ConfigFile     string
	LogLevel       string
	MetricsAddr    string
	Quiet          bool
	ClientID       string
	Clients        int
	MaxConcurrency int
	Domain         int
	OutputDir      string
	Fsync          bool
	Transport      TransportConfig
	Measurement    MeasurementConfig
	Echo           EchoConfig
	Broker         BrokerConfig
	Analysis       AnalysisConfig
	Tracing        TracingConfig
}

// TransportConfig selects and tunes the message bus.
type TransportConfig struct {
	URL            string
	QoS            int
	MailboxSize    int
	ConnectTimeout time.Duration
	ConnectRetries int
}

// MeasurementConfig controls each client's payload matrix.
type MeasurementConfig struct {
	WarmupCount      int
	MeasurementCount int
	Timeout          time.Duration
	SettlePause      time.Duration
	ProgressEvery    int
	MinExponent      int
	MaxExponent      int
	PollInterval     time.Duration
	RatePerSecond    int
	ArrivalModel     ArrivalModel
}

// ArrivalModel selects how paced probes are spaced.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// EchoConfig controls the echo responder.
type EchoConfig struct {
	PollInterval time.Duration
	LogEach      bool
}

// BrokerConfig controls the WebSocket broker.
type BrokerConfig struct {
	Listen     string
	SendBuffer int
}

// AnalysisConfig controls the offline analyzer.
type AnalysisConfig struct {
	Dir              string
	OutputDir        string
	Format           string
	HTMLOutput       string
	Thresholds       []string
	MinOutlierCount  int
	AnomalyThreshold float64
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string
	Protocol    string // "grpc" or "http"
	ServiceName string
	SampleRate  float64
	Insecure    bool
}

// Enabled reports whether an OTLP endpoint is configured, either directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Clients:   1,
		OutputDir: ".",
		Transport: TransportConfig{
			QoS:            1,
			MailboxSize:    4096,
			ConnectTimeout: 10 * time.Second,
			ConnectRetries: 3,
		},
		Measurement: MeasurementConfig{
			WarmupCount:      50,
			MeasurementCount: 1000,
			Timeout:          5 * time.Second,
			SettlePause:      time.Second,
			ProgressEvery:    100,
			MinExponent:      0,
			MaxExponent:      17,
			PollInterval:     100 * time.Microsecond,
			ArrivalModel:     ArrivalModelUniform,
		},
		Echo: EchoConfig{
			PollInterval: time.Millisecond,
		},
		Broker: BrokerConfig{
			Listen:     ":8765",
			SendBuffer: 1024,
		},
		Analysis: AnalysisConfig{
			Dir:              ".",
			OutputDir:        ".",
			Format:           FormatText,
			MinOutlierCount:  10,
			AnomalyThreshold: 5.0,
		},
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
			Insecure:   true,
		},
	}
}

// ValidationError lists every configuration problem found.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the sections used by mode.
func (c Config) Validate(mode Mode) error {
	var issues []string

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			issues = append(issues, fmt.Sprintf("metrics address %q: %v", c.MetricsAddr, err))
		}
	}
	issues = append(issues, validateTracing(c.Tracing)...)

	switch mode {
	case ModeClient, ModeFleet:
		issues = append(issues, validateTransport(c.Transport, c.Domain)...)
		issues = append(issues, validateMeasurement(c.Measurement)...)
		if strings.TrimSpace(c.OutputDir) == "" {
			issues = append(issues, "output directory is required")
		}
		if mode == ModeClient && strings.TrimSpace(c.ClientID) == "" {
			issues = append(issues, "client id is required")
		}
		if mode == ModeClient && strings.ContainsAny(c.ClientID, `/\`) {
			issues = append(issues, fmt.Sprintf("client id %q must not contain path separators", c.ClientID))
		}
		if mode == ModeFleet {
			if c.Clients <= 0 {
				issues = append(issues, "client count must be greater than zero")
			}
			if c.MaxConcurrency < 0 {
				issues = append(issues, "max concurrency must be non-negative")
			}
		}
	case ModeServer:
		issues = append(issues, validateTransport(c.Transport, c.Domain)...)
		if c.Echo.PollInterval < 0 {
			issues = append(issues, "echo poll interval must be non-negative")
		}
	case ModeBroker:
		if strings.TrimSpace(c.Broker.Listen) == "" {
			issues = append(issues, "broker listen address is required")
		}
		if c.Broker.SendBuffer <= 0 {
			issues = append(issues, "broker send buffer must be greater than zero")
		}
	case ModeAnalyze:
		issues = append(issues, validateAnalysis(c.Analysis)...)
	default:
		issues = append(issues, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTransport(t TransportConfig, domain int) []string {
	var issues []string
	if strings.TrimSpace(t.URL) == "" {
		issues = append(issues, "transport URL is required")
	}
	if t.QoS < 0 || t.QoS > 2 {
		issues = append(issues, "qos must be 0, 1 or 2")
	}
	if t.MailboxSize < 0 {
		issues = append(issues, "mailbox size must be non-negative")
	}
	if t.ConnectTimeout < 0 {
		issues = append(issues, "connect timeout must be non-negative")
	}
	if t.ConnectRetries < 0 {
		issues = append(issues, "connect retries must be non-negative")
	}
	if domain < 0 {
		issues = append(issues, "domain must be non-negative")
	}
	return issues
}

func validateMeasurement(m MeasurementConfig) []string {
	var issues []string
	if m.WarmupCount < 0 {
		issues = append(issues, "warmup count must be non-negative")
	}
	if m.MeasurementCount <= 0 {
		issues = append(issues, "measurement count must be greater than zero")
	}
	if m.Timeout <= 0 {
		issues = append(issues, "timeout must be greater than zero")
	}
	if m.SettlePause < 0 {
		issues = append(issues, "settle pause must be non-negative")
	}
	if m.ProgressEvery <= 0 {
		issues = append(issues, "progress interval must be greater than zero")
	}
	if m.MinExponent < 0 || m.MaxExponent > 30 || m.MinExponent > m.MaxExponent {
		issues = append(issues, fmt.Sprintf("payload exponents must satisfy 0 <= min (%d) <= max (%d) <= 30", m.MinExponent, m.MaxExponent))
	}
	if m.PollInterval < 0 {
		issues = append(issues, "poll interval must be non-negative")
	}
	if m.RatePerSecond < 0 {
		issues = append(issues, "rate must be non-negative")
	}
	switch m.ArrivalModel {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model %q must be uniform or poisson", m.ArrivalModel))
	}
	return issues
}

func validateAnalysis(a AnalysisConfig) []string {
	var issues []string
	if strings.TrimSpace(a.Dir) == "" {
		issues = append(issues, "analysis directory is required")
	}
	switch a.Format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("format %q must be text, json or yaml", a.Format))
	}
	if a.MinOutlierCount <= 0 {
		issues = append(issues, "min outlier count must be positive")
	}
	if a.AnomalyThreshold <= 0 || a.AnomalyThreshold > 100 {
		issues = append(issues, "anomaly threshold must be greater than 0 and at most 100")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("trace protocol %q must be grpc or http", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "trace sample rate must be between 0.0 and 1.0")
	}
	return issues
}
