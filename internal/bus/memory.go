package bus

import (
	"context"
	"sync"
)

var (
	registryMu sync.Mutex
	registry   = map[string]*Broker{}
)

// Broker is an in-process publish/subscribe fan-out. Frames are encoded on
// publish and decoded per subscriber, so the memory transport exercises the
// same wire path as the network adapters.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*MemoryBus]struct{}
}

// NewBroker returns an isolated broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*MemoryBus]struct{})}
}

// LocalBroker returns the process-wide broker registered under name, creating
// it on first use. memory:// URLs resolve through this registry.
func LocalBroker(name string) *Broker {
	registryMu.Lock()
	defer registryMu.Unlock()
	b, ok := registry[name]
	if !ok {
		b = NewBroker()
		registry[name] = b
	}
	return b
}

// Connect opens a new independent connection to the broker.
func (b *Broker) Connect(opts Options) *MemoryBus {
	opts.normalize()
	return &MemoryBus{
		endpoint: newEndpoint(opts.MailboxSize, opts.Logger),
		broker:   b,
	}
}

// Subscribers returns how many connections are subscribed to topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Broker) subscribe(topic string, m *MemoryBus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*MemoryBus]struct{})
		b.subs[topic] = set
	}
	set[m] = struct{}{}
}

func (b *Broker) publish(topic string, frame []byte) {
	b.mu.RLock()
	targets := make([]*MemoryBus, 0, len(b.subs[topic]))
	for m := range b.subs[topic] {
		targets = append(targets, m)
	}
	b.mu.RUnlock()
	for _, m := range targets {
		m.receive(topic, frame)
	}
}

func (b *Broker) remove(m *MemoryBus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, set := range b.subs {
		delete(set, m)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
}

// MemoryBus is one connection to a Broker.
type MemoryBus struct {
	*endpoint
	broker *Broker
}

func (m *MemoryBus) Subscribe(ctx context.Context, topic string) error {
	if m.isClosed() {
		return &TransportError{Op: "subscribe", Err: ErrClosed}
	}
	if m.register(topic) {
		m.broker.subscribe(topic, m)
	}
	return nil
}

func (m *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if m.isClosed() {
		return &TransportError{Op: "publish", Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := Marshal(msg)
	m.metrics.IncrementSent(int64(len(frame)))
	m.broker.publish(topic, frame)
	return nil
}

func (m *MemoryBus) Poll(ctx context.Context, topic string) ([]Message, error) {
	return m.poll(topic)
}

func (m *MemoryBus) Close() error {
	if m.markClosed() {
		m.broker.remove(m)
	}
	return nil
}
