package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/metrics"
	"github.com/torosent/rttbench/internal/samples"
)

// ClientSetup holds what every client of a run shares: transport settings,
// artifact location and measurement configuration.
type ClientSetup struct {
	Transport    bus.Options
	Retry        RetryPolicy
	Domain       int
	OutputDir    string
	Fsync        bool
	Sizes        []int
	PollInterval time.Duration
	Session      SessionConfig
	Recorder     metrics.Recorder
	Tracer       trace.Tracer
	Logger       *slog.Logger
	Now          func() time.Time // optional injection for tests
}

func (s ClientSetup) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// NewClient opens a dedicated bus connection and artifact for clientID.
func (s ClientSetup) NewClient(ctx context.Context, clientID string) (*Client, error) {
	logger := s.logger().With("client", clientID)
	opts := s.Transport
	opts.ClientID = clientID
	opts.Logger = logger

	b, err := OpenWithRetry(ctx, opts, s.Retry, logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.URL, err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	w, err := samples.NewWriter(s.OutputDir, clientID, now(), samples.WithFsync(s.Fsync))
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	logger.Info("client ready", "artifact", w.Path(), "transport", opts.URL)

	request, response := bus.Topics(s.Domain)
	return &Client{
		ID:   clientID,
		Bus:  b,
		Sink: w,
		Config: ClientConfig{
			Sizes:         s.Sizes,
			RequestTopic:  request,
			ResponseTopic: response,
			PollInterval:  s.PollInterval,
			Transport:     opts.URL,
			Session:       s.Session,
		},
		Recorder: s.Recorder,
		Tracer:   s.Tracer,
		Logger:   s.logger(),
	}, nil
}

// Factory adapts NewClient to a ClientFactory.
func (s ClientSetup) Factory() ClientFactory {
	return s.NewClient
}

// Preflight verifies the transport is reachable and the response topic can be
// subscribed before any client starts.
func (s ClientSetup) Preflight(ctx context.Context) error {
	opts := s.Transport
	opts.ClientID = "preflight"
	opts.Logger = s.logger()
	b, err := OpenWithRetry(ctx, opts, s.Retry, s.logger())
	if err != nil {
		return err
	}
	defer b.Close()
	_, response := bus.Topics(s.Domain)
	return b.Subscribe(ctx, response)
}
