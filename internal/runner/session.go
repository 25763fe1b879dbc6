package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/torosent/rttbench/internal/metrics"
	"github.com/torosent/rttbench/internal/probe"
	"github.com/torosent/rttbench/internal/stats"
)

// SeriesResult is the outcome of one measurement session.
type SeriesResult struct {
	PayloadSize int
	RTTs        []time.Duration // accepted round trips in attempt order
	Attempts    int             // measurement probes issued
	Timeouts    int
	Corrupted   int
	Discarded   int // stale or foreign responses skipped while waiting
	Stats       metrics.Snapshot
}

// SuccessRate returns the percentage of attempts that produced a sample.
func (r SeriesResult) SuccessRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(len(r.RTTs)) / float64(r.Attempts) * 100
}

// Session measures one payload size: warmup, settle pause, then sequential
// measurement probes whose accepted samples go straight to Sink.
type Session struct {
	Prober   Prober
	Sink     SampleSink
	IDs      *IDSequence
	Recorder metrics.Recorder
	Logger   *slog.Logger
	Config   SessionConfig
}

// Run executes the session. Zero successful probes is not an error. A
// transport failure aborts the session; context cancellation returns the data
// collected so far together with the context error.
func (s *Session) Run(ctx context.Context) (SeriesResult, error) {
	cfg := s.Config
	cfg.normalize()
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := s.IDs
	if ids == nil {
		ids = &IDSequence{}
	}
	collector := metrics.NewCollector()
	recorder := metrics.Recorders{collector, s.Recorder}
	pace := newPacer(cfg)
	size := cfg.PayloadSize

	result := SeriesResult{PayloadSize: size}
	finish := func(err error) (SeriesResult, error) {
		result.Stats = collector.SizeSnapshot(size)
		return result, err
	}

	for i := 0; i < cfg.WarmupCount; i++ {
		if err := pace.Wait(ctx); err != nil {
			return finish(err)
		}
		id := ids.Next()
		if _, err := s.Prober.Do(ctx, size, id, cfg.Timeout); err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			if fatal(err) {
				return finish(fmt.Errorf("warmup probe %d: %w", id, err))
			}
			logger.Debug("warmup probe failed", "id", id, "error", err)
		}
	}
	if cfg.WarmupCount > 0 {
		if err := sleep(ctx, cfg.SettlePause); err != nil {
			return finish(err)
		}
	}

	for attempt := 1; attempt <= cfg.MeasurementCount; attempt++ {
		if err := pace.Wait(ctx); err != nil {
			return finish(err)
		}
		id := ids.Next()
		res, err := s.Prober.Do(ctx, size, id, cfg.Timeout)
		if err != nil && ctx.Err() != nil {
			return finish(ctx.Err())
		}
		result.Attempts++
		result.Discarded += res.Discarded
		recorder.RecordProbe(size, res.RTT, err, res.Discarded)

		switch {
		case err == nil:
			if res.RTT <= 0 {
				logger.Debug("non-positive rtt dropped", "id", id, "attempt", attempt)
				break
			}
			sample := stats.Sample{
				PayloadSize: uint32(size),
				Sequence:    uint32(attempt),
				RTTMicros:   float64(res.RTT) / float64(time.Microsecond),
			}
			if s.Sink != nil {
				if err := s.Sink.Append(sample); err != nil {
					return finish(fmt.Errorf("persist sample %d: %w", attempt, err))
				}
			}
			result.RTTs = append(result.RTTs, res.RTT)
		case errors.Is(err, probe.ErrTimeout):
			result.Timeouts++
			logger.Warn("probe timed out", "id", id, "attempt", attempt, "timeout", cfg.Timeout)
		case errors.Is(err, probe.ErrCorrupted):
			result.Corrupted++
			logger.Error("payload corrupted", "id", id, "attempt", attempt, "error", err)
		default:
			return finish(fmt.Errorf("probe %d: %w", id, err))
		}

		if attempt%cfg.ProgressEvery == 0 {
			logger.Info("progress",
				"attempt", attempt,
				"of", cfg.MeasurementCount,
				"success_rate", fmt.Sprintf("%.1f%%", result.SuccessRate()),
			)
		}
	}
	return finish(nil)
}

// fatal reports whether a probe error ends the session.
func fatal(err error) bool {
	return !errors.Is(err, probe.ErrTimeout) && !errors.Is(err, probe.ErrCorrupted)
}
