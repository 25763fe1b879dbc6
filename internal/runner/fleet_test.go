package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/runner"
	"github.com/torosent/rttbench/internal/samples"
)

type countingObserver struct {
	started, finished, active, peak atomic.Int64
}

func (o *countingObserver) ClientStarted() {
	o.started.Add(1)
	n := o.active.Add(1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (o *countingObserver) ClientFinished() {
	o.finished.Add(1)
	o.active.Add(-1)
}

func TestFleetIsolatesFailures(t *testing.T) {
	startEcho(t, "runner-fleet", 0)
	setup := testSetup(t, "runner-fleet", []int{16}, 5)
	observer := &countingObserver{}

	fleet := &runner.Fleet{
		Clients:        4,
		MaxConcurrency: 2,
		Observer:       observer,
		Logger:         quiet,
		Factory: func(ctx context.Context, id string) (*runner.Client, error) {
			switch id {
			case "client_002":
				return nil, errors.New("no route to broker")
			case "client_003":
				panic("factory exploded")
			}
			return setup.NewClient(ctx, id)
		},
	}

	res, err := fleet.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res.Results))
	}
	for i, r := range res.Results {
		if want := runner.ClientID(i + 1); r.ClientID != want {
			t.Fatalf("result %d is %s, want %s", i, r.ClientID, want)
		}
	}
	if res.Failed() != 2 || res.Succeeded() != 2 {
		t.Fatalf("expected 2 failures, got %d", res.Failed())
	}

	setupFailure := res.Results[1]
	if setupFailure.Status != runner.StatusError || !strings.Contains(setupFailure.Error.Error(), "no route to broker") {
		t.Fatalf("unexpected setup failure result %+v", setupFailure)
	}
	panicked := res.Results[2]
	if panicked.Status != runner.StatusError || !strings.Contains(panicked.Error.Error(), "factory exploded") {
		t.Fatalf("unexpected panic result %+v", panicked)
	}

	paths := map[string]bool{}
	for _, r := range []runner.ClientRunResult{res.Results[0], res.Results[3]} {
		if r.Status != runner.StatusSuccess || r.Samples != 5 || r.ExecutionTime <= 0 {
			t.Fatalf("unexpected success result %+v", r)
		}
		loaded, err := samples.Load(r.ArtifactPath)
		if err != nil || len(loaded) != 5 {
			t.Fatalf("artifact %s: %d samples, err %v", r.ArtifactPath, len(loaded), err)
		}
		paths[r.ArtifactPath] = true
	}
	if len(paths) != 2 {
		t.Fatal("clients must write distinct artifacts")
	}

	if observer.started.Load() != 4 || observer.finished.Load() != 4 {
		t.Fatalf("observer saw %d/%d", observer.started.Load(), observer.finished.Load())
	}
	if observer.peak.Load() > 2 {
		t.Fatalf("concurrency limit exceeded: %d", observer.peak.Load())
	}
}

func TestFleetPreflightFailureAborts(t *testing.T) {
	var built atomic.Int64
	fleet := &runner.Fleet{
		Clients: 3,
		Logger:  quiet,
		Preflight: func(context.Context) error {
			return &bus.TransportError{Op: "connect", Err: errors.New("refused")}
		},
		Factory: func(context.Context, string) (*runner.Client, error) {
			built.Add(1)
			return nil, errors.New("unreachable")
		},
	}
	res, err := fleet.Run(context.Background())
	if err == nil || !bus.IsTransportError(err) {
		t.Fatalf("expected preflight transport error, got %v", err)
	}
	if built.Load() != 0 || len(res.Results) != 0 {
		t.Fatal("no client may start after a failed preflight")
	}
}

func TestFleetCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fleet := &runner.Fleet{
		Clients: 3,
		Logger:  quiet,
		Factory: func(context.Context, string) (*runner.Client, error) {
			return nil, errors.New("unreachable")
		},
	}
	res, err := fleet.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Results) != 3 || res.Failed() != 3 {
		t.Fatalf("every client must still be reported, got %+v", res.Results)
	}
}

func TestFleetPreflightWithSetup(t *testing.T) {
	setup := testSetup(t, "runner-preflight", []int{1}, 1)
	if err := setup.Preflight(context.Background()); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	setup.Transport.URL = "carrier-pigeon://nest"
	if err := setup.Preflight(context.Background()); !bus.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFleetValidation(t *testing.T) {
	if _, err := (&runner.Fleet{Clients: 0, Factory: func(context.Context, string) (*runner.Client, error) { return nil, nil }}).Run(context.Background()); err == nil {
		t.Fatal("expected an error for zero clients")
	}
	if _, err := (&runner.Fleet{Clients: 1}).Run(context.Background()); err == nil {
		t.Fatal("expected an error without a factory")
	}
}
