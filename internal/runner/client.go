package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/clientmetrics"
	"github.com/torosent/rttbench/internal/metrics"
	"github.com/torosent/rttbench/internal/probe"
	"github.com/torosent/rttbench/internal/stats"
	"github.com/torosent/rttbench/internal/tracing"
)

const (
	DefaultMinExponent = 0
	DefaultMaxExponent = 17
)

// PayloadSizes returns the powers of two 2^minExp..2^maxExp in ascending order.
func PayloadSizes(minExp, maxExp int) []int {
	if minExp < 0 {
		minExp = 0
	}
	if maxExp < minExp {
		return nil
	}
	sizes := make([]int, 0, maxExp-minExp+1)
	for e := minExp; e <= maxExp; e++ {
		sizes = append(sizes, 1<<e)
	}
	return sizes
}

// ClientConfig configures a client's payload matrix.
type ClientConfig struct {
	Sizes         []int
	RequestTopic  string
	ResponseTopic string
	PollInterval  time.Duration
	Transport     string // reported on spans only
	Session       SessionConfig
}

// ClientSummary describes a finished client run.
type ClientSummary struct {
	ClientID     string
	SessionToken string
	ArtifactPath string
	Series       []SeriesResult
	Samples      int
	FailedSizes  []int
	Transport    clientmetrics.Snapshot
}

// Client runs the full payload matrix over its own bus connection. It owns
// Bus and Sink and releases both when Run returns.
type Client struct {
	ID       string
	Bus      bus.Bus
	Sink     SampleSink
	Config   ClientConfig
	Recorder metrics.Recorder
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Run measures every configured payload size in order. A failed size is
// logged and the matrix continues; cancellation stops it immediately. An
// error is returned when every size failed.
func (c *Client) Run(ctx context.Context) (summary ClientSummary, err error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client", c.ID)
	summary.ClientID = c.ID
	if c.Sink != nil {
		summary.ArtifactPath = c.Sink.Path()
	}
	defer func() {
		if c.Sink != nil {
			if cerr := c.Sink.Close(); cerr != nil {
				logger.Error("close artifact", "path", summary.ArtifactPath, "error", cerr)
				if err == nil {
					err = fmt.Errorf("close artifact: %w", cerr)
				}
			}
		}
		summary.Transport = c.Bus.Stats()
		logger.Debug("transport stats",
			"sent", summary.Transport.MessagesSent,
			"received", summary.Transport.MessagesReceived,
			"dropped", summary.Transport.Dropped,
			"undecodable", summary.Transport.Undecodable,
			"errors", summary.Transport.Errors)
		if cerr := c.Bus.Close(); cerr != nil {
			logger.Warn("close transport", "error", cerr)
		}
	}()

	ctx, span := tracing.StartClientSpan(ctx, c.Tracer, c.ID, c.Config.Transport)
	defer func() {
		tracing.EndSpan(span, err, tracing.AttrSamples.Int(summary.Samples))
	}()

	if err := c.Bus.Subscribe(ctx, c.Config.ResponseTopic); err != nil {
		return summary, fmt.Errorf("subscribe %s: %w", c.Config.ResponseTopic, err)
	}

	summary.SessionToken = uuid.NewString()
	p := probe.New(c.Bus, probe.Options{
		RequestTopic:  c.Config.RequestTopic,
		ResponseTopic: c.Config.ResponseTopic,
		Session:       summary.SessionToken,
		PollInterval:  c.Config.PollInterval,
	})
	ids := &IDSequence{}

	var lastErr error
	for _, size := range c.Config.Sizes {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		cfg := c.Config.Session
		cfg.PayloadSize = size
		sizeLogger := logger.With("size", size)
		sizeLogger.Info("measuring payload size", "warmup", cfg.WarmupCount, "count", cfg.MeasurementCount)

		sctx, sspan := tracing.StartSeriesSpan(ctx, c.Tracer, size)
		session := &Session{
			Prober:   p,
			Sink:     c.Sink,
			IDs:      ids,
			Recorder: c.Recorder,
			Logger:   sizeLogger,
			Config:   cfg,
		}
		res, serr := session.Run(sctx)
		tracing.EndSpan(sspan, serr,
			tracing.AttrSamples.Int(len(res.RTTs)),
			tracing.AttrTimeouts.Int(res.Timeouts),
			tracing.AttrCorrupted.Int(res.Corrupted),
		)
		summary.Series = append(summary.Series, res)
		summary.Samples += len(res.RTTs)

		if serr != nil {
			if errors.Is(serr, context.Canceled) || errors.Is(serr, context.DeadlineExceeded) {
				return summary, serr
			}
			sizeLogger.Error("payload size failed", "error", serr)
			summary.FailedSizes = append(summary.FailedSizes, size)
			lastErr = serr
			continue
		}
		logSeries(sizeLogger, res)
	}

	if n := len(c.Config.Sizes); n > 0 && len(summary.FailedSizes) == n {
		return summary, fmt.Errorf("all %d payload sizes failed: %w", n, lastErr)
	}
	return summary, nil
}

func logSeries(logger *slog.Logger, res SeriesResult) {
	if len(res.RTTs) == 0 {
		logger.Warn("no successful probes", "attempts", res.Attempts, "timeouts", res.Timeouts, "corrupted", res.Corrupted)
		return
	}
	values := make([]float64, len(res.RTTs))
	for i, rtt := range res.RTTs {
		values[i] = float64(rtt) / float64(time.Microsecond)
	}
	row := stats.Summarize(uint32(res.PayloadSize), values)
	logger.Info("payload size complete",
		"samples", row.Count,
		"attempts", res.Attempts,
		"timeouts", res.Timeouts,
		"corrupted", res.Corrupted,
		"min_us", fmt.Sprintf("%.1f", row.Min),
		"max_us", fmt.Sprintf("%.1f", row.Max),
		"mean_us", fmt.Sprintf("%.1f", row.Mean),
		"p50_us", fmt.Sprintf("%.1f", row.P50),
		"p99_us", fmt.Sprintf("%.1f", row.P99),
	)
}
