// Package bus defines the publish/poll contract the RTT harness needs from a
// message transport, plus the adapters that implement it.
//
// Every adapter delivers decoded messages into per-topic mailboxes that Poll
// drains without blocking. A Bus is owned by exactly one client: request ids are
// only unique within a client, so connections are never shared.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/torosent/rttbench/internal/clientmetrics"
)

const (
	defaultMailboxSize    = 4096
	defaultConnectTimeout = 10 * time.Second
)

// DefaultQoS is the MQTT delivery level the command line uses.
const DefaultQoS byte = 1

// Message is the request/response record exchanged over the bus.
type Message struct {
	ID      uint64
	Session string
	Payload []byte
}

// Bus is a single client's connection to a publish/subscribe transport.
type Bus interface {
	// Subscribe declares interest in a topic. Messages published before the
	// subscription is established are not delivered.
	Subscribe(ctx context.Context, topic string) error
	// Publish sends msg on topic.
	Publish(ctx context.Context, topic string, msg Message) error
	// Poll returns every message received on topic since the previous call,
	// in receipt order. It never blocks waiting for traffic.
	Poll(ctx context.Context, topic string) ([]Message, error)
	// Stats reports the connection's traffic counters.
	Stats() clientmetrics.Snapshot
	// Close releases the connection.
	Close() error
}

// Options configure Open.
type Options struct {
	URL            string
	ClientID       string
	MailboxSize    int
	// QoS is the MQTT delivery level. The zero value is at-most-once (0);
	// values above 2 fall back to DefaultQoS. Other transports ignore it.
	QoS            byte
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

func (o *Options) normalize() {
	if o.MailboxSize <= 0 {
		o.MailboxSize = defaultMailboxSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.QoS > 2 {
		o.QoS = DefaultQoS
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Topics returns the request and response topic names for a transport domain.
func Topics(domain int) (request, response string) {
	prefix := fmt.Sprintf("rtt/%d", domain)
	return prefix + "/request", prefix + "/response"
}

// Open connects to the transport named by opts.URL. The scheme selects the
// adapter: memory, redis, mqtt/tcp/ssl, or ws/wss.
func Open(ctx context.Context, opts Options) (Bus, error) {
	opts.normalize()
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, &TransportError{Op: "connect", Err: fmt.Errorf("transport URL is empty")}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &TransportError{Op: "connect", URL: raw, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		name := u.Host
		if name == "" {
			name = strings.TrimPrefix(u.Opaque, "//")
		}
		return LocalBroker(name).Connect(opts), nil
	case "redis", "rediss":
		return openRedis(ctx, raw, opts)
	case "mqtt", "tcp", "ssl", "mqtts":
		return openMQTT(ctx, u, opts)
	case "ws", "wss":
		return openWebSocket(ctx, raw, opts)
	default:
		return nil, &TransportError{Op: "connect", URL: raw, Err: fmt.Errorf("unsupported transport scheme %q", u.Scheme)}
	}
}

// SupportedSchemes lists the URL schemes Open understands.
func SupportedSchemes() []string {
	return []string{"memory", "redis", "rediss", "mqtt", "mqtts", "tcp", "ssl", "ws", "wss"}
}
