package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries frames over Redis PUBLISH/SUBSCRIBE channels. Each
// subscribed topic gets its own PubSub whose channel is bridged into the
// topic's mailbox by a goroutine.
type RedisBus struct {
	*endpoint
	client *redis.Client
	url    string

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	wg      sync.WaitGroup
}

func openRedis(ctx context.Context, raw string, opts Options) (*RedisBus, error) {
	ropts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, &TransportError{Op: "connect", URL: raw, Err: err}
	}
	ropts.DialTimeout = opts.ConnectTimeout
	if opts.ClientID != "" {
		ropts.ClientName = opts.ClientID
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &TransportError{Op: "connect", URL: raw, Err: err}
	}

	return &RedisBus{
		endpoint: newEndpoint(opts.MailboxSize, opts.Logger),
		client:   client,
		url:      raw,
	}, nil
}

func (r *RedisBus) Subscribe(ctx context.Context, topic string) (err error) {
	if r.isClosed() {
		return &TransportError{Op: "subscribe", Err: ErrClosed}
	}
	if !r.register(topic) {
		return nil
	}
	defer func() {
		if err != nil {
			r.unregister(topic)
		}
	}()

	pubsub := r.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so no early traffic is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		r.metrics.IncrementErrors()
		return &TransportError{Op: "subscribe", URL: r.url, Err: fmt.Errorf("%s: %w", topic, err)}
	}

	r.mu.Lock()
	r.pubsubs = append(r.pubsubs, pubsub)
	r.mu.Unlock()

	ch := pubsub.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ch {
			r.receive(msg.Channel, []byte(msg.Payload))
		}
	}()
	return nil
}

func (r *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	if r.isClosed() {
		return &TransportError{Op: "publish", Err: ErrClosed}
	}
	frame := Marshal(msg)
	if err := r.client.Publish(ctx, topic, frame).Err(); err != nil {
		r.metrics.IncrementErrors()
		return &TransportError{Op: "publish", URL: r.url, Err: err}
	}
	r.metrics.IncrementSent(int64(len(frame)))
	return nil
}

func (r *RedisBus) Poll(ctx context.Context, topic string) ([]Message, error) {
	return r.poll(topic)
}

func (r *RedisBus) Close() error {
	if !r.markClosed() {
		return nil
	}
	r.mu.Lock()
	pubsubs := r.pubsubs
	r.pubsubs = nil
	r.mu.Unlock()

	var firstErr error
	for _, ps := range pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.wg.Wait()
	if err := r.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
