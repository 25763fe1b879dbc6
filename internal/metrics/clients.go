package metrics

import "sync/atomic"

// ClientTracker counts running clients and mirrors the count to an optional
// Exporter.
type ClientTracker struct {
	active   atomic.Int64
	exporter *Exporter
}

// NewClientTracker returns a tracker. exporter may be nil.
func NewClientTracker(exporter *Exporter) *ClientTracker {
	return &ClientTracker{exporter: exporter}
}

func (t *ClientTracker) ClientStarted() {
	t.active.Add(1)
	if t.exporter != nil {
		t.exporter.ClientStarted()
	}
}

func (t *ClientTracker) ClientFinished() {
	t.active.Add(-1)
	if t.exporter != nil {
		t.exporter.ClientFinished()
	}
}

// Active returns the number of running clients.
func (t *ClientTracker) Active() int {
	return int(t.active.Load())
}
