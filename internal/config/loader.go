package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader builds a Config from defaults, an optional config file and flags,
// in increasing order of precedence.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the file named by --config, if any, then applies every flag the
// user set explicitly. The result is not validated.
func (Loader) Load(fs *pflag.FlagSet, mode Mode) (*Config, error) {
	cfg := Default()

	var configPath string
	if fs != nil && fs.Lookup("config") != nil {
		configPath = strings.TrimSpace(fs.Lookup("config").Value.String())
	}
	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := applyConfigSettings(&cfg, v.AllSettings()); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
		cfg.ConfigFile = configPath
	}

	if fs != nil {
		if err := applyFlagOverrides(&cfg, fs, mode); err != nil {
			return nil, err
		}
	}

	cfg.Transport.URL = strings.TrimSpace(cfg.Transport.URL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Analysis.Format = strings.ToLower(strings.TrimSpace(cfg.Analysis.Format))
	cfg.Measurement.ArrivalModel = ArrivalModel(strings.ToLower(strings.TrimSpace(string(cfg.Measurement.ArrivalModel))))
	return &cfg, nil
}

// applyConfigSettings applies settings decoded from a config file to cfg.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	m, a, tr := &cfg.Measurement, &cfg.Analysis, &cfg.Tracing
	return applyBindings(settings,
		bind(&cfg.LogLevel, asString, "log_level"),
		bind(&cfg.MetricsAddr, asString, "metrics_addr"),
		bind(&cfg.Quiet, asBool, "quiet"),
		bind(&cfg.ClientID, asString, "client_id"),
		bind(&cfg.Clients, asInt, "clients"),
		bind(&cfg.MaxConcurrency, asInt, "max_concurrency"),
		bind(&cfg.Domain, asInt, "domain"),
		bind(&cfg.OutputDir, asString, "output_dir"),
		bind(&cfg.Fsync, asBool, "fsync"),
		section("transport", func(s map[string]interface{}) error {
			return applyBindings(s,
				bind(&cfg.Transport.URL, asString, "url"),
				bind(&cfg.Transport.QoS, asInt, "qos"),
				bind(&cfg.Transport.MailboxSize, asInt, "mailbox_size"),
				bind(&cfg.Transport.ConnectTimeout, asDuration, "connect_timeout"),
				bind(&cfg.Transport.ConnectRetries, asInt, "connect_retries"),
			)
		}),
		section("measurement", func(s map[string]interface{}) error {
			return applyBindings(s,
				bind(&m.WarmupCount, asInt, "warmup", "warmup_count"),
				bind(&m.MeasurementCount, asInt, "count", "measurement_count"),
				bind(&m.Timeout, asDuration, "timeout"),
				bind(&m.SettlePause, asDuration, "settle_pause", "settle"),
				bind(&m.ProgressEvery, asInt, "progress_every"),
				bind(&m.MinExponent, asInt, "min_exponent", "min_exp"),
				bind(&m.MaxExponent, asInt, "max_exponent", "max_exp"),
				bind(&m.PollInterval, asDuration, "poll_interval"),
				bind(&m.RatePerSecond, asInt, "rate"),
				bind(&m.ArrivalModel, asArrivalModel, "arrival_model"),
			)
		}),
		section("echo", func(s map[string]interface{}) error {
			return applyBindings(s,
				bind(&cfg.Echo.PollInterval, asDuration, "poll_interval"),
				bind(&cfg.Echo.LogEach, asBool, "log_each"),
			)
		}),
		section("broker", func(s map[string]interface{}) error {
			return applyBindings(s,
				bind(&cfg.Broker.Listen, asString, "listen"),
				bind(&cfg.Broker.SendBuffer, asInt, "send_buffer"),
			)
		}),
		section("analysis", func(s map[string]interface{}) error {
			return applyBindings(s,
				bind(&a.Dir, asString, "dir"),
				bind(&a.OutputDir, asString, "output_dir", "output"),
				bind(&a.Format, asString, "format"),
				bind(&a.HTMLOutput, asString, "html_output"),
				bind(&a.Thresholds, asStringSlice, "thresholds"),
				bind(&a.MinOutlierCount, asInt, "min_outlier_count"),
				bind(&a.AnomalyThreshold, asFloat64, "anomaly_threshold"),
			)
		}),
		section("tracing", func(s map[string]interface{}) error {
			return applyBindings(s,
				bind(&tr.Endpoint, asString, "endpoint"),
				bind(&tr.Protocol, asString, "protocol"),
				bind(&tr.ServiceName, asString, "service_name"),
				bind(&tr.SampleRate, asFloat64, "sample_rate"),
				bind(&tr.Insecure, asBool, "insecure"),
			)
		}),
	)
}
