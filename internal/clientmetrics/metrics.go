// Package clientmetrics tracks traffic counters for a single bus connection.
package clientmetrics

import (
	"sync"
	"time"
)

// ClientMetrics tracks frame and byte statistics for one transport connection.
type ClientMetrics struct {
	mu           sync.Mutex
	connectTime  time.Time
	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
	errors       int64
	dropped      int64
	undecodable  int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the connection time.
func (m *ClientMetrics) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Now()
}

// IncrementSent counts one published frame of the given size.
func (m *ClientMetrics) IncrementSent(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
	m.bytesSent += bytes
}

// IncrementReceived counts one decoded frame of the given size.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesRecv++
	m.bytesRecv += bytes
}

// IncrementErrors increments the transport error counter.
func (m *ClientMetrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// IncrementDropped counts a message evicted from a full mailbox.
func (m *ClientMetrics) IncrementDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

// IncrementUndecodable counts a frame that failed to decode.
func (m *ClientMetrics) IncrementUndecodable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undecodable++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ConnectionDuration time.Duration `json:"connection_duration"`
	MessagesSent       int64         `json:"messages_sent"`
	MessagesReceived   int64         `json:"messages_received"`
	BytesSent          int64         `json:"bytes_sent"`
	BytesReceived      int64         `json:"bytes_received"`
	Errors             int64         `json:"errors"`
	Dropped            int64         `json:"dropped"`
	Undecodable        int64         `json:"undecodable"`
}

// Snapshot returns a consistent snapshot of all counters.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := time.Duration(0)
	if !m.connectTime.IsZero() {
		duration = time.Since(m.connectTime)
	}

	return Snapshot{
		ConnectionDuration: duration,
		MessagesSent:       m.messagesSent,
		MessagesReceived:   m.messagesRecv,
		BytesSent:          m.bytesSent,
		BytesReceived:      m.bytesRecv,
		Errors:             m.errors,
		Dropped:            m.dropped,
		Undecodable:        m.undecodable,
	}
}
