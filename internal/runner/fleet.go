package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is a client's terminal state.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ClientRunResult is produced once per client when its run terminates.
type ClientRunResult struct {
	ClientID      string
	Status        Status
	ExecutionTime time.Duration
	ArtifactPath  string
	Samples       int
	Error         error
}

// FleetResult collects every client's result, sorted by client id.
type FleetResult struct {
	Results   []ClientRunResult
	TotalTime time.Duration
}

// Failed returns the number of clients that ended in error.
func (r FleetResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != StatusSuccess {
			n++
		}
	}
	return n
}

// Succeeded returns the number of clients that completed.
func (r FleetResult) Succeeded() int {
	return len(r.Results) - r.Failed()
}

// ClientFactory builds a client with its own bus connection and sample sink.
type ClientFactory func(ctx context.Context, clientID string) (*Client, error)

// ClientObserver is notified as clients start and finish.
type ClientObserver interface {
	ClientStarted()
	ClientFinished()
}

// ClientID formats the id of the i-th client (1-based).
func ClientID(i int) string {
	return fmt.Sprintf("client_%03d", i)
}

// Fleet runs many independent clients concurrently. A client's failure or
// panic is captured in its result and never cancels its siblings.
type Fleet struct {
	Clients        int
	MaxConcurrency int // defaults to Clients
	Factory        ClientFactory
	// Preflight runs before any client starts; an error aborts the fleet.
	Preflight func(ctx context.Context) error
	Observer  ClientObserver
	Logger    *slog.Logger
}

// Run starts every client and waits for all of them. The result always holds
// one entry per client. The returned error is non-nil only when preflight
// fails or ctx was cancelled.
func (f *Fleet) Run(ctx context.Context) (FleetResult, error) {
	if f.Clients <= 0 {
		return FleetResult{}, fmt.Errorf("fleet needs at least one client, got %d", f.Clients)
	}
	if f.Factory == nil {
		return FleetResult{}, errors.New("fleet client factory is required")
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := f.MaxConcurrency
	if limit <= 0 || limit > f.Clients {
		limit = f.Clients
	}

	start := time.Now()
	if f.Preflight != nil {
		if err := f.Preflight(ctx); err != nil {
			return FleetResult{}, fmt.Errorf("preflight: %w", err)
		}
	}

	completions := make(chan ClientRunResult, f.Clients)
	collected := make(chan []ClientRunResult, 1)
	go func() {
		results := make([]ClientRunResult, 0, f.Clients)
		for res := range completions {
			if res.Status == StatusSuccess {
				logger.Info("client finished", "client", res.ClientID, "samples", res.Samples, "elapsed", res.ExecutionTime.Round(time.Millisecond))
			} else {
				logger.Error("client failed", "client", res.ClientID, "elapsed", res.ExecutionTime.Round(time.Millisecond), "error", res.Error)
			}
			results = append(results, res)
		}
		collected <- results
	}()

	logger.Info("starting fleet", "clients", f.Clients, "max_concurrency", limit)
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 1; i <= f.Clients; i++ {
		id := ClientID(i)
		if err := ctx.Err(); err != nil {
			completions <- ClientRunResult{ClientID: id, Status: StatusError, Error: err}
			continue
		}
		g.Go(func() error {
			completions <- f.runClient(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	close(completions)

	results := <-collected
	sort.Slice(results, func(i, j int) bool { return results[i].ClientID < results[j].ClientID })
	out := FleetResult{Results: results, TotalTime: time.Since(start)}
	return out, ctx.Err()
}

func (f *Fleet) runClient(ctx context.Context, id string) (res ClientRunResult) {
	res.ClientID = id
	start := time.Now()
	if f.Observer != nil {
		f.Observer.ClientStarted()
		defer f.Observer.ClientFinished()
	}
	defer func() {
		res.ExecutionTime = time.Since(start)
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Error = fmt.Errorf("client panicked: %v", r)
		}
	}()

	client, err := f.Factory(ctx, id)
	if err != nil {
		res.Status = StatusError
		res.Error = fmt.Errorf("setup: %w", err)
		return res
	}
	summary, err := client.Run(ctx)
	res.ArtifactPath = summary.ArtifactPath
	res.Samples = summary.Samples
	if err != nil {
		res.Status = StatusError
		res.Error = err
		return res
	}
	res.Status = StatusSuccess
	return res
}
