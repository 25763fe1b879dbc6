// Package probe performs a single request/response round trip over a bus and
// measures its elapsed time.
package probe

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/payload"
)

// DefaultPollInterval is the sleep between response polls.
const DefaultPollInterval = 100 * time.Microsecond

var (
	// ErrTimeout is returned when no matching response arrives in time.
	ErrTimeout = errors.New("probe timed out")
	// ErrCorrupted is returned when the matching response payload differs
	// from what was sent.
	ErrCorrupted = errors.New("response payload corrupted")
)

// CorruptionError describes a payload mismatch. It matches ErrCorrupted.
type CorruptionError struct {
	ID       uint64
	Sent     int
	Received int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("response %d payload corrupted: sent %d bytes, received %d bytes", e.ID, e.Sent, e.Received)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}

// Outcome is the terminal state of one probe.
type Outcome int

const (
	Sending Outcome = iota
	AwaitingResponse
	Matched
	TimedOut
	Corrupted
)

func (o Outcome) String() string {
	switch o {
	case Sending:
		return "sending"
	case AwaitingResponse:
		return "awaiting_response"
	case Matched:
		return "matched"
	case TimedOut:
		return "timed_out"
	case Corrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Result is the outcome of one probe. RTT is only meaningful when Outcome is
// Matched. Discarded counts responses that belonged to other requests.
type Result struct {
	ID        uint64
	Size      int
	Outcome   Outcome
	RTT       time.Duration
	Discarded int
}

// Options configure a Probe.
type Options struct {
	RequestTopic  string
	ResponseTopic string
	// Session is mirrored by the responder and scopes id matching to this
	// client's connection.
	Session string
	// PollInterval is the wait between empty polls. Zero yields the processor
	// instead of sleeping.
	PollInterval time.Duration
}

// Probe issues requests on a bus. A Probe is not safe for concurrent use;
// probes of one client are strictly sequential.
type Probe struct {
	bus  bus.Bus
	opts Options
}

// New creates a Probe. A negative poll interval selects the default.
func New(b bus.Bus, opts Options) *Probe {
	if opts.PollInterval < 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Probe{bus: b, opts: opts}
}

// Do publishes one request of size bytes with the given id and waits up to
// timeout for the matching response.
func (p *Probe) Do(ctx context.Context, size int, id uint64, timeout time.Duration) (Result, error) {
	res := Result{ID: id, Size: size, Outcome: Sending}
	data := payload.Create(size)
	req := bus.Message{ID: id, Session: p.opts.Session, Payload: data}

	t0 := time.Now()
	if err := p.bus.Publish(ctx, p.opts.RequestTopic, req); err != nil {
		return res, err
	}
	res.Outcome = AwaitingResponse

	for {
		msgs, err := p.bus.Poll(ctx, p.opts.ResponseTopic)
		if err != nil {
			return res, err
		}
		for i, msg := range msgs {
			if msg.Session != p.opts.Session || msg.ID != id {
				res.Discarded++
				continue
			}
			t1 := time.Now()
			// Anything queued behind the match is stale by construction.
			res.Discarded += len(msgs) - i - 1
			if t1.Sub(t0) > timeout {
				res.Discarded++
				res.Outcome = TimedOut
				return res, ErrTimeout
			}
			if !payload.Validate(data, msg.Payload) {
				res.Outcome = Corrupted
				return res, &CorruptionError{ID: id, Sent: len(data), Received: len(msg.Payload)}
			}
			res.Outcome = Matched
			res.RTT = t1.Sub(t0)
			return res, nil
		}

		if time.Since(t0) > timeout {
			res.Outcome = TimedOut
			return res, ErrTimeout
		}
		if err := p.wait(ctx); err != nil {
			return res, err
		}
	}
}

func (p *Probe) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.opts.PollInterval == 0 {
		runtime.Gosched()
		return nil
	}
	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
