package runner

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/rttbench/internal/probe"
	"github.com/torosent/rttbench/internal/stats"
)

const (
	DefaultWarmupCount      = 50
	DefaultMeasurementCount = 1000
	DefaultTimeout          = 5 * time.Second
	DefaultSettlePause      = time.Second
	DefaultProgressEvery    = 100
)

// Prober issues a single RTT probe.
type Prober interface {
	Do(ctx context.Context, size int, id uint64, timeout time.Duration) (probe.Result, error)
}

// SampleSink persists accepted samples. Append must make the sample durable
// before returning.
type SampleSink interface {
	Append(s stats.Sample) error
	Path() string
	Close() error
}

// ArrivalModel selects how paced probe starts are spaced.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// SessionConfig configures one measurement session.
type SessionConfig struct {
	PayloadSize      int
	WarmupCount      int           // probes issued and discarded before measuring
	MeasurementCount int           // probes whose outcomes are recorded
	Timeout          time.Duration // per-probe response deadline
	SettlePause      time.Duration // wait between warmup and measurement
	ProgressEvery    int           // attempts between progress log lines
	RatePerSecond    int           // probe starts per second (0 means back to back)
	ArrivalModel     ArrivalModel
	LimiterFactory   func(rps int) *rate.Limiter // optional injection for tests
	PoissonSampler   func() float64              // optional injection for tests
}

// DefaultSessionConfig returns the standard warmup/measurement counts and timeouts.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WarmupCount:      DefaultWarmupCount,
		MeasurementCount: DefaultMeasurementCount,
		Timeout:          DefaultTimeout,
		SettlePause:      DefaultSettlePause,
		ProgressEvery:    DefaultProgressEvery,
		ArrivalModel:     ArrivalModelUniform,
	}
}

func (c *SessionConfig) normalize() {
	if c.WarmupCount < 0 {
		c.WarmupCount = 0
	}
	if c.MeasurementCount <= 0 {
		c.MeasurementCount = DefaultMeasurementCount
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SettlePause < 0 {
		c.SettlePause = 0
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.RatePerSecond < 0 {
		c.RatePerSecond = 0
	}
	if c.ArrivalModel == "" {
		c.ArrivalModel = ArrivalModelUniform
	}
	if c.LimiterFactory == nil {
		c.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Probes are sequential, so a burst of one spaces every start.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// IDSequence hands out request ids for one client, starting at 1.
type IDSequence struct {
	last atomic.Uint64
}

// Next returns the next id.
func (s *IDSequence) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently issued id, or 0.
func (s *IDSequence) Last() uint64 {
	return s.last.Load()
}
