package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/torosent/rttbench/internal/clientmetrics"
)

// mailbox is a bounded FIFO of decoded messages for one topic.
type mailbox struct {
	mu    sync.Mutex
	items []Message
	limit int
}

// push appends msg, evicting the oldest entry when full. It reports whether
// an entry was evicted.
func (m *mailbox) push(msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := false
	if m.limit > 0 && len(m.items) >= m.limit {
		copy(m.items, m.items[1:])
		m.items = m.items[:len(m.items)-1]
		evicted = true
	}
	m.items = append(m.items, msg)
	return evicted
}

func (m *mailbox) drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil
	}
	out := m.items
	m.items = nil
	return out
}

// endpoint is the receive side shared by every adapter: frames arrive from the
// transport, are decoded, and wait in a per-topic mailbox until polled.
type endpoint struct {
	mu        sync.RWMutex
	boxes     map[string]*mailbox
	limit     int
	metrics   *clientmetrics.ClientMetrics
	logger    *slog.Logger
	closed    bool
	fatal     error
	closeOnce sync.Once
}

func newEndpoint(limit int, logger *slog.Logger) *endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	m := clientmetrics.New()
	m.MarkConnected()
	return &endpoint{
		boxes:   make(map[string]*mailbox),
		limit:   limit,
		metrics: m,
		logger:  logger,
	}
}

// register creates the mailbox for topic. It reports false when the topic was
// already registered.
func (e *endpoint) register(topic string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.boxes[topic]; ok {
		return false
	}
	e.boxes[topic] = &mailbox{limit: e.limit}
	return true
}

// unregister drops the mailbox for topic so a failed subscription can be
// retried.
func (e *endpoint) unregister(topic string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.boxes, topic)
}

// topics returns the registered topic names in no particular order.
func (e *endpoint) topics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.boxes))
	for topic := range e.boxes {
		out = append(out, topic)
	}
	return out
}

func (e *endpoint) subscribed(topic string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.boxes[topic]
	return ok
}

// receive decodes frame and queues it for topic. Undecodable frames and frames
// for unknown topics are counted and dropped.
func (e *endpoint) receive(topic string, frame []byte) {
	msg, err := Unmarshal(frame)
	if err != nil {
		e.metrics.IncrementUndecodable()
		e.logger.Debug("dropping undecodable frame", "topic", topic, "bytes", len(frame), "error", err)
		return
	}
	e.mu.RLock()
	box, ok := e.boxes[topic]
	closed := e.closed
	e.mu.RUnlock()
	if !ok || closed {
		return
	}
	e.metrics.IncrementReceived(int64(len(frame)))
	if box.push(msg) {
		e.metrics.IncrementDropped()
	}
}

func (e *endpoint) poll(topic string) ([]Message, error) {
	e.mu.RLock()
	box, ok := e.boxes[topic]
	closed := e.closed
	fatal := e.fatal
	e.mu.RUnlock()
	if closed {
		return nil, &TransportError{Op: "poll", Err: ErrClosed}
	}
	if fatal != nil {
		return nil, &TransportError{Op: "poll", Err: fatal}
	}
	if !ok {
		return nil, &TransportError{Op: "poll", Err: fmt.Errorf("%s: %w", topic, ErrNotSubscribed)}
	}
	return box.drain(), nil
}

// fail records a connection-level error that subsequent polls surface.
func (e *endpoint) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal == nil && !e.closed {
		e.fatal = err
	}
	e.metrics.IncrementErrors()
}

// markClosed flips the endpoint to closed. It reports true only for the first call.
func (e *endpoint) markClosed() bool {
	first := false
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		first = true
	})
	return first
}

func (e *endpoint) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *endpoint) Stats() clientmetrics.Snapshot {
	return e.metrics.Snapshot()
}
