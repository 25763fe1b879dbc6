package echo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/clientmetrics"
	"github.com/torosent/rttbench/internal/echo"
	"github.com/torosent/rttbench/internal/probe"
)

type fakeBus struct {
	mu         sync.Mutex
	batches    [][]bus.Message
	published  []bus.Message
	publishErr func(bus.Message) error
	pollErr    error
	closed     bool
}

func (f *fakeBus) Subscribe(context.Context, string) error { return nil }

func (f *fakeBus) Publish(_ context.Context, topic string, msg bus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		if err := f.publishErr(msg); err != nil {
			return err
		}
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeBus) Poll(context.Context, string) ([]bus.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		return b, nil
	}
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return nil, nil
}

func (f *fakeBus) Stats() clientmetrics.Snapshot { return clientmetrics.Snapshot{} }

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBus) snapshot() ([]bus.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.Message(nil), f.published...), f.closed
}

func runFor(t *testing.T, r *echo.Responder, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.Run(ctx)
}

func TestResponderEchoesBatchInReceiptOrder(t *testing.T) {
	f := &fakeBus{batches: [][]bus.Message{{
		{ID: 5, Session: "a", Payload: []byte{1}},
		{ID: 6, Session: "b", Payload: []byte{2, 3}},
		{ID: 7, Session: "a", Payload: []byte{}},
	}}}
	var sizes []int
	r := echo.New(f, echo.Options{
		RequestTopic:  "req",
		ResponseTopic: "resp",
		OnEcho:        func(size int) { sizes = append(sizes, size) },
	})
	if err := runFor(t, r, 30*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	published, closed := f.snapshot()
	if len(published) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(published))
	}
	for i, want := range []uint64{5, 6, 7} {
		if published[i].ID != want {
			t.Fatalf("response %d has id %d, want %d", i, published[i].ID, want)
		}
	}
	if published[1].Session != "b" || len(published[1].Payload) != 2 {
		t.Fatalf("response not mirrored: %+v", published[1])
	}
	if !closed {
		t.Fatal("responder did not close its bus")
	}
	if len(sizes) != 3 || sizes[1] != 2 {
		t.Fatalf("unexpected OnEcho sizes %v", sizes)
	}
	if s := r.Stats(); s.Requests != 3 || s.Responses != 3 || s.Errors != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestResponderCountsPublishFailures(t *testing.T) {
	f := &fakeBus{
		batches: [][]bus.Message{{{ID: 1}, {ID: 2}, {ID: 3}}},
		publishErr: func(m bus.Message) error {
			if m.ID == 2 {
				return &bus.TransportError{Op: "publish", Err: errors.New("queue full")}
			}
			return nil
		},
	}
	r := echo.New(f, echo.Options{RequestTopic: "req", ResponseTopic: "resp"})
	if err := runFor(t, r, 30*time.Millisecond); err != nil {
		t.Fatalf("publish failure must not be fatal: %v", err)
	}
	if s := r.Stats(); s.Requests != 3 || s.Responses != 2 || s.Errors != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestResponderPollFailureIsFatal(t *testing.T) {
	f := &fakeBus{pollErr: &bus.TransportError{Op: "poll", Err: bus.ErrClosed}}
	r := echo.New(f, echo.Options{RequestTopic: "req", ResponseTopic: "resp"})
	err := runFor(t, r, time.Second)
	if !bus.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, closed := f.snapshot(); !closed {
		t.Fatal("bus not closed after fatal poll error")
	}
}

func TestResponderServesProbesOverMemoryBroker(t *testing.T) {
	broker := bus.NewBroker()
	server := broker.Connect(bus.Options{})
	client := broker.Connect(bus.Options{})
	defer client.Close()

	req, resp := bus.Topics(3)
	r := echo.New(server, echo.Options{RequestTopic: req, ResponseTopic: resp, PollInterval: 100 * time.Microsecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for broker.Subscribers(req) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := client.Subscribe(ctx, resp); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	p := probe.New(client, probe.Options{RequestTopic: req, ResponseTopic: resp, Session: "echo-test", PollInterval: 50 * time.Microsecond})
	for id := uint64(1); id <= 10; id++ {
		if _, err := p.Do(ctx, 256, id, time.Second); err != nil {
			t.Fatalf("probe %d: %v", id, err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("responder returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("responder did not stop after cancellation")
	}
	if r.Stats().Responses != 10 {
		t.Fatalf("expected 10 responses, got %d", r.Stats().Responses)
	}
}
