// Package echo implements the server side of the RTT protocol: every request
// is published back unchanged on the response topic.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/torosent/rttbench/internal/bus"
)

// DefaultPollInterval is the sleep between empty request polls.
const DefaultPollInterval = time.Millisecond

// Options configure a Responder.
type Options struct {
	RequestTopic  string
	ResponseTopic string
	PollInterval  time.Duration
	// LogEach logs every echoed request at debug level.
	LogEach bool
	Logger  *slog.Logger
	// OnEcho is invoked after each successful response publish.
	OnEcho func(size int)
}

func (o *Options) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats counts responder activity.
type Stats struct {
	Requests  int64 `json:"requests"`
	Responses int64 `json:"responses"`
	Errors    int64 `json:"errors"`
}

// Responder echoes requests until its context ends.
type Responder struct {
	bus  bus.Bus
	opts Options

	requests  atomic.Int64
	responses atomic.Int64
	errors    atomic.Int64
}

// New creates a Responder. The responder owns b and closes it when Run returns.
func New(b bus.Bus, opts Options) *Responder {
	opts.normalize()
	return &Responder{bus: b, opts: opts}
}

// Run subscribes to the request topic and echoes until ctx is cancelled.
// Cancellation is a clean shutdown and returns nil. A poll failure is fatal.
func (r *Responder) Run(ctx context.Context) error {
	defer r.bus.Close()
	logger := r.opts.Logger

	if err := r.bus.Subscribe(ctx, r.opts.RequestTopic); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.opts.RequestTopic, err)
	}
	logger.Info("echo responder ready", "request_topic", r.opts.RequestTopic, "response_topic", r.opts.ResponseTopic)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			r.logShutdown()
			return nil
		}
		msgs, err := r.bus.Poll(ctx, r.opts.RequestTopic)
		if err != nil {
			if ctx.Err() != nil {
				r.logShutdown()
				return nil
			}
			return fmt.Errorf("poll %s: %w", r.opts.RequestTopic, err)
		}
		if len(msgs) > 0 {
			r.echo(msgs)
			continue
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// echo publishes a batch in receipt order. It uses a background context so a
// shutdown that lands mid-batch still completes the batch's writes.
func (r *Responder) echo(batch []bus.Message) {
	for _, msg := range batch {
		r.requests.Add(1)
		if r.opts.LogEach {
			r.opts.Logger.Debug("echoing request", "id", msg.ID, "session", msg.Session, "size", len(msg.Payload))
		}
		resp := bus.Message{ID: msg.ID, Session: msg.Session, Payload: msg.Payload}
		if err := r.bus.Publish(context.Background(), r.opts.ResponseTopic, resp); err != nil {
			r.errors.Add(1)
			level := slog.LevelWarn
			if errors.Is(err, bus.ErrClosed) {
				level = slog.LevelDebug
			}
			r.opts.Logger.Log(context.Background(), level, "echo publish failed", "id", msg.ID, "error", err)
			continue
		}
		r.responses.Add(1)
		if r.opts.OnEcho != nil {
			r.opts.OnEcho(len(msg.Payload))
		}
	}
}

func (r *Responder) logShutdown() {
	s := r.Stats()
	r.opts.Logger.Info("echo responder stopped", "requests", s.Requests, "responses", s.Responses, "errors", s.Errors)
}

// Stats returns the responder counters.
func (r *Responder) Stats() Stats {
	return Stats{
		Requests:  r.requests.Load(),
		Responses: r.responses.Load(),
		Errors:    r.errors.Load(),
	}
}
