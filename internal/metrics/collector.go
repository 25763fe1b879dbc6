package metrics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/probe"
)

// Probe outcome labels.
const (
	OutcomeMatched   = "matched"
	OutcomeTimeout   = "timeout"
	OutcomeCorrupted = "corrupted"
	OutcomeTransport = "transport_error"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Classify maps a probe error to its outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeMatched
	case errors.Is(err, probe.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, probe.ErrCorrupted):
		return OutcomeCorrupted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case bus.IsTransportError(err):
		return OutcomeTransport
	default:
		return OutcomeError
	}
}

// Recorder receives probe outcomes.
type Recorder interface {
	RecordProbe(size int, rtt time.Duration, err error, discarded int)
}

// Recorders fans one outcome out to several recorders. Nil entries are skipped.
type Recorders []Recorder

func (rs Recorders) RecordProbe(size int, rtt time.Duration, err error, discarded int) {
	for _, r := range rs {
		if r != nil {
			r.RecordProbe(size, rtt, err, discarded)
		}
	}
}

// Collector records probe outcomes in a thread-safe manner, overall and per
// payload size.
type Collector struct {
	mu      sync.Mutex
	overall *series
	bySize  map[int]*series
	start   time.Time
}

// series holds the counters and latency histogram of one scope.
type series struct {
	hist         *hdrhistogram.Histogram
	successes    int64
	timeouts     int64
	corrupted    int64
	failures     int64
	discarded    int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
}

func newSeries() *series {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &series{
		hist:         hdrhistogram.New(1, 60_000_000, 3),
		errorsByType: make(map[string]int64),
	}
}

// Snapshot is a point-in-time view of a Collector scope.
type Snapshot struct {
	Probes       int64         `json:"probes"`
	Successes    int64         `json:"successes"`
	Timeouts     int64         `json:"timeouts"`
	Corrupted    int64         `json:"corrupted"`
	Failures     int64         `json:"failures"`
	Discarded    int64         `json:"discarded"`
	MinLatency   time.Duration `json:"-"`
	MaxLatency   time.Duration `json:"-"`
	MeanLatency  time.Duration `json:"-"`
	P50Latency   time.Duration `json:"-"`
	P95Latency   time.Duration `json:"-"`
	P99Latency   time.Duration `json:"-"`
	Duration     time.Duration `json:"-"`
	ProbesPerSec float64       `json:"probes_per_sec"`

	// JSON-friendly microsecond fields.
	MinLatencyUs  float64          `json:"min_latency_us"`
	MaxLatencyUs  float64          `json:"max_latency_us"`
	MeanLatencyUs float64          `json:"mean_latency_us"`
	P50LatencyUs  float64          `json:"p50_latency_us"`
	P95LatencyUs  float64          `json:"p95_latency_us"`
	P99LatencyUs  float64          `json:"p99_latency_us"`
	Errors        map[string]int64 `json:"errors,omitempty"`
}

// SuccessRate returns the percentage of probes that matched.
func (s Snapshot) SuccessRate() float64 {
	if s.Probes == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Probes) * 100
}

func NewCollector() *Collector {
	return &Collector{
		overall: newSeries(),
		bySize:  make(map[int]*series),
		start:   time.Now(),
	}
}

// RecordProbe records one probe. Cancelled probes are not counted.
func (c *Collector) RecordProbe(size int, rtt time.Duration, err error, discarded int) {
	outcome := Classify(err)
	if outcome == OutcomeCancelled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.bySize[size]
	if !ok {
		s = newSeries()
		c.bySize[size] = s
	}
	c.overall.record(outcome, rtt, err, discarded)
	s.record(outcome, rtt, err, discarded)
}

func (s *series) record(outcome string, rtt time.Duration, err error, discarded int) {
	s.discarded += int64(discarded)
	switch outcome {
	case OutcomeMatched:
		s.successes++
		us := rtt.Microseconds()
		if us < s.hist.LowestTrackableValue() {
			us = s.hist.LowestTrackableValue()
		}
		if us > s.hist.HighestTrackableValue() {
			us = s.hist.HighestTrackableValue()
		}
		_ = s.hist.RecordValue(us)
		s.sumLatency += rtt
		if s.minLatency == 0 || rtt < s.minLatency {
			s.minLatency = rtt
		}
		if rtt > s.maxLatency {
			s.maxLatency = rtt
		}
		return
	case OutcomeTimeout:
		s.timeouts++
		s.errorsByType["Timeout"]++
	case OutcomeCorrupted:
		s.corrupted++
		s.errorsByType["Payload corrupted"]++
	default:
		s.failures++
		s.errorsByType[ErrorLabel(err)]++
	}
}

func (s *series) snapshot(elapsed time.Duration) Snapshot {
	snap := Snapshot{
		Successes:  s.successes,
		Timeouts:   s.timeouts,
		Corrupted:  s.corrupted,
		Failures:   s.failures,
		Discarded:  s.discarded,
		MinLatency: s.minLatency,
		MaxLatency: s.maxLatency,
		Duration:   elapsed,
	}
	snap.Probes = s.successes + s.timeouts + s.corrupted + s.failures
	if s.successes > 0 {
		snap.MeanLatency = time.Duration(int64(s.sumLatency) / s.successes)
	}
	if s.hist.TotalCount() > 0 {
		snap.P50Latency = time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond
		snap.P95Latency = time.Duration(s.hist.ValueAtQuantile(95)) * time.Microsecond
		snap.P99Latency = time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	snap.MinLatencyUs = micros(snap.MinLatency)
	snap.MaxLatencyUs = micros(snap.MaxLatency)
	snap.MeanLatencyUs = micros(snap.MeanLatency)
	snap.P50LatencyUs = micros(snap.P50Latency)
	snap.P95LatencyUs = micros(snap.P95Latency)
	snap.P99LatencyUs = micros(snap.P99Latency)
	if elapsed > 0 && snap.Probes > 0 {
		snap.ProbesPerSec = float64(snap.Probes) / elapsed.Seconds()
	}
	if len(s.errorsByType) > 0 {
		snap.Errors = make(map[string]int64, len(s.errorsByType))
		for k, v := range s.errorsByType {
			snap.Errors[k] = v
		}
	}
	return snap
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// Snapshot returns the aggregate over every payload size.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overall.snapshot(time.Since(c.start))
}

// SizeSnapshot returns the aggregate for one payload size.
func (c *Collector) SizeSnapshot(size int) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.bySize[size]
	if !ok {
		return Snapshot{}
	}
	return s.snapshot(time.Since(c.start))
}

// Sizes returns the recorded payload sizes in ascending order.
func (c *Collector) Sizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.bySize))
	for size := range c.bySize {
		out = append(out, size)
	}
	sort.Ints(out)
	return out
}
