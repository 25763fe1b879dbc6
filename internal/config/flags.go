package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterPersistentFlags registers the flags shared by every subcommand.
func RegisterPersistentFlags(cmd *cobra.Command) {
	d := Default()
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")
	flags.String("log-level", d.LogLevel, "Log level: debug, info, warn or error")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	flags.String("trace-endpoint", "", "OTLP collector endpoint; tracing is off when empty")
	flags.String("trace-protocol", d.Tracing.Protocol, "OTLP protocol: grpc or http")
	flags.String("trace-service-name", "", "Service name reported to the tracing backend")
	flags.Float64("trace-sample-rate", d.Tracing.SampleRate, "Fraction of runs to trace (0.0 to 1.0)")
	flags.Bool("trace-insecure", d.Tracing.Insecure, "Disable TLS for the OTLP exporter")
}

// RegisterFlags registers the flags of the subcommand for mode.
func RegisterFlags(cmd *cobra.Command, mode Mode) {
	d := Default()
	flags := cmd.Flags()

	switch mode {
	case ModeClient, ModeFleet, ModeServer:
		registerTransportFlags(flags, d)
	}

	switch mode {
	case ModeClient, ModeFleet:
		if mode == ModeClient {
			flags.String("client-id", "", "Identifier of this client, used in the artifact name")
		} else {
			flags.Int("max-concurrency", 0, "Clients running at once (0 means all)")
		}
		flags.Int("warmup", d.Measurement.WarmupCount, "Discarded probes per payload size")
		flags.Int("count", d.Measurement.MeasurementCount, "Measured probes per payload size")
		flags.Duration("timeout", d.Measurement.Timeout, "Per-probe timeout")
		flags.Duration("settle", d.Measurement.SettlePause, "Pause between warmup and measurement")
		flags.Int("progress-every", d.Measurement.ProgressEvery, "Log progress every N probes")
		flags.Int("min-exp", d.Measurement.MinExponent, "Smallest payload size as a power of two")
		flags.Int("max-exp", d.Measurement.MaxExponent, "Largest payload size as a power of two")
		flags.Duration("poll-interval", d.Measurement.PollInterval, "Mailbox poll interval while waiting for a response")
		flags.IntP("rate", "r", 0, "Probes per second limit (0 means back to back)")
		flags.String("arrival-model", string(d.Measurement.ArrivalModel), "Arrival model when pacing probes (uniform or poisson)")
		flags.StringP("output-dir", "o", d.OutputDir, "Directory for sample artifacts")
		flags.Bool("fsync", false, "Sync each sample to disk as it is written")
		flags.BoolP("quiet", "q", false, "Suppress the live progress line")
	case ModeServer:
		flags.Duration("poll-interval", d.Echo.PollInterval, "Mailbox poll interval")
		flags.Bool("log-each", false, "Log every echoed request")
	case ModeBroker:
		flags.String("listen", d.Broker.Listen, "Address the broker listens on")
		flags.Int("send-buffer", d.Broker.SendBuffer, "Outbound frames buffered per connection")
	case ModeAnalyze:
		flags.String("dir", d.Analysis.Dir, "Directory containing sample artifacts")
		flags.StringP("output", "o", d.Analysis.OutputDir, "Directory for the text report")
		flags.String("format", d.Analysis.Format, "Console format: text, json or yaml")
		flags.String("html-output", "", "Also write an HTML report to this path")
		flags.StringSlice("threshold", nil, "Pass/fail threshold, e.g. rtt:64:p99<500 (repeatable)")
		flags.Int("min-outlier-count", d.Analysis.MinOutlierCount, "Only filter outliers when a size has more samples than this")
		flags.Float64("anomaly-threshold", d.Analysis.AnomalyThreshold, "Outlier percentage above which a size is flagged")
	}
}

func registerTransportFlags(flags *pflag.FlagSet, d Config) {
	flags.StringP("transport", "t", "", "Bus URL: memory://name, redis://, mqtt:// or ws://")
	flags.Int("domain", 0, "Topic domain; clients and responder must agree")
	flags.Int("qos", d.Transport.QoS, "MQTT quality of service")
	flags.Int("mailbox-size", d.Transport.MailboxSize, "Buffered inbound messages per subscription")
	flags.Duration("connect-timeout", d.Transport.ConnectTimeout, "Timeout for connecting to the bus")
	flags.Int("connect-retries", d.Transport.ConnectRetries, "Extra connection attempts on transport errors")
}

// applyFlagOverrides applies explicitly set flags to cfg, overriding values
// from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet, mode Mode) error {
	if err := overrideString(fs, "log-level", &cfg.LogLevel); err != nil {
		return err
	}
	if err := overrideString(fs, "metrics-addr", &cfg.MetricsAddr); err != nil {
		return err
	}
	if err := overrideString(fs, "trace-endpoint", &cfg.Tracing.Endpoint); err != nil {
		return err
	}
	if err := overrideString(fs, "trace-protocol", &cfg.Tracing.Protocol); err != nil {
		return err
	}
	if err := overrideString(fs, "trace-service-name", &cfg.Tracing.ServiceName); err != nil {
		return err
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if err := overrideBool(fs, "trace-insecure", &cfg.Tracing.Insecure); err != nil {
		return err
	}

	if err := overrideString(fs, "transport", &cfg.Transport.URL); err != nil {
		return err
	}
	if err := overrideInt(fs, "domain", &cfg.Domain); err != nil {
		return err
	}
	if err := overrideInt(fs, "qos", &cfg.Transport.QoS); err != nil {
		return err
	}
	if err := overrideInt(fs, "mailbox-size", &cfg.Transport.MailboxSize); err != nil {
		return err
	}
	if err := overrideDuration(fs, "connect-timeout", &cfg.Transport.ConnectTimeout); err != nil {
		return err
	}
	if err := overrideInt(fs, "connect-retries", &cfg.Transport.ConnectRetries); err != nil {
		return err
	}

	switch mode {
	case ModeClient, ModeFleet:
		if err := overrideString(fs, "client-id", &cfg.ClientID); err != nil {
			return err
		}
		if err := overrideInt(fs, "max-concurrency", &cfg.MaxConcurrency); err != nil {
			return err
		}
		m := &cfg.Measurement
		if err := overrideInt(fs, "warmup", &m.WarmupCount); err != nil {
			return err
		}
		if err := overrideInt(fs, "count", &m.MeasurementCount); err != nil {
			return err
		}
		if err := overrideDuration(fs, "timeout", &m.Timeout); err != nil {
			return err
		}
		if err := overrideDuration(fs, "settle", &m.SettlePause); err != nil {
			return err
		}
		if err := overrideInt(fs, "progress-every", &m.ProgressEvery); err != nil {
			return err
		}
		if err := overrideInt(fs, "min-exp", &m.MinExponent); err != nil {
			return err
		}
		if err := overrideInt(fs, "max-exp", &m.MaxExponent); err != nil {
			return err
		}
		if err := overrideDuration(fs, "poll-interval", &m.PollInterval); err != nil {
			return err
		}
		if err := overrideInt(fs, "rate", &m.RatePerSecond); err != nil {
			return err
		}
		if fs.Changed("arrival-model") {
			val, err := fs.GetString("arrival-model")
			if err != nil {
				return err
			}
			m.ArrivalModel = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
		}
		if err := overrideString(fs, "output-dir", &cfg.OutputDir); err != nil {
			return err
		}
		if err := overrideBool(fs, "fsync", &cfg.Fsync); err != nil {
			return err
		}
		if err := overrideBool(fs, "quiet", &cfg.Quiet); err != nil {
			return err
		}
	case ModeServer:
		if err := overrideDuration(fs, "poll-interval", &cfg.Echo.PollInterval); err != nil {
			return err
		}
		if err := overrideBool(fs, "log-each", &cfg.Echo.LogEach); err != nil {
			return err
		}
	case ModeBroker:
		if err := overrideString(fs, "listen", &cfg.Broker.Listen); err != nil {
			return err
		}
		if err := overrideInt(fs, "send-buffer", &cfg.Broker.SendBuffer); err != nil {
			return err
		}
	case ModeAnalyze:
		a := &cfg.Analysis
		if err := overrideString(fs, "dir", &a.Dir); err != nil {
			return err
		}
		if err := overrideString(fs, "output", &a.OutputDir); err != nil {
			return err
		}
		if err := overrideString(fs, "format", &a.Format); err != nil {
			return err
		}
		if err := overrideString(fs, "html-output", &a.HTMLOutput); err != nil {
			return err
		}
		if fs.Changed("threshold") {
			val, err := fs.GetStringSlice("threshold")
			if err != nil {
				return err
			}
			a.Thresholds = val
		}
		if err := overrideInt(fs, "min-outlier-count", &a.MinOutlierCount); err != nil {
			return err
		}
		if fs.Changed("anomaly-threshold") {
			val, err := fs.GetFloat64("anomaly-threshold")
			if err != nil {
				return err
			}
			a.AnomalyThreshold = val
		}
	}
	return nil
}

func overrideString(fs *pflag.FlagSet, name string, dst *string) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetString(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideInt(fs *pflag.FlagSet, name string, dst *int) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetInt(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideBool(fs *pflag.FlagSet, name string, dst *bool) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetBool(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideDuration(fs *pflag.FlagSet, name string, dst *time.Duration) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetDuration(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}
