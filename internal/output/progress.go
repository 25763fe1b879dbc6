package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/rttbench/internal/metrics"
)

// ProgressSource supplies the figures shown on each progress line.
type ProgressSource interface {
	Snapshot() metrics.Snapshot
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   ProgressSource
	active   func() int
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	running  int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. active reports the number of running clients and may be nil.
func NewProgressReporter(source ProgressSource, active func() int, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		active:   active,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the progress line.
func (p *ProgressReporter) Stop() {
	p.ticker.Stop()
	if atomic.CompareAndSwapInt32(&p.running, 1, 2) {
		close(p.done)
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	snap := p.source.Snapshot()
	line := fmt.Sprintf("Probes: %d | Successes: %d | Timeouts: %d | Corrupted: %d | P50: %.0fus | P99: %.0fus",
		snap.Probes, snap.Successes, snap.Timeouts, snap.Corrupted, snap.P50LatencyUs, snap.P99LatencyUs)
	if p.active != nil {
		line += fmt.Sprintf(" | Active clients: %d", p.active())
	}
	return line
}
