package bus

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttDisconnectQuiesce = 250 // milliseconds

// MQTTBus carries frames over an MQTT broker.
type MQTTBus struct {
	*endpoint
	client  mqtt.Client
	qos     byte
	broker  string
	timeout time.Duration
}

// mqttBrokerURL rewrites mqtt:// and mqtts:// into the tcp:// and ssl:// forms
// paho expects and strips credentials from the address.
func mqttBrokerURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

func openMQTT(ctx context.Context, u *url.URL, opts Options) (*MQTTBus, error) {
	broker := mqttBrokerURL(u)
	ep := newEndpoint(opts.MailboxSize, opts.Logger)

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "rttbench"
	}

	m := &MQTTBus{
		endpoint: ep,
		qos:      opts.QoS,
		broker:   broker,
		timeout:  opts.ConnectTimeout,
	}
	copts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetWriteTimeout(opts.ConnectTimeout).
		SetKeepAlive(60 * time.Second).
		SetOnConnectHandler(m.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			ep.metrics.IncrementErrors()
			ep.logger.Warn("mqtt connection lost", "broker", broker, "client", clientID, "error", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			ep.logger.Info("mqtt reconnecting", "broker", broker, "client", clientID)
		})
	if u.User != nil {
		copts.SetUsername(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			copts.SetPassword(pw)
		}
	}

	m.client = mqtt.NewClient(copts)
	if err := m.wait(ctx, m.client.Connect()); err != nil {
		return nil, &TransportError{Op: "connect", URL: broker, Err: err}
	}
	return m, nil
}

// resubscribe runs after every successful connect. Sessions are clean, so a
// reconnected client has no subscriptions until every registered topic is
// subscribed again. A topic that cannot be restored fails the bus.
func (m *MQTTBus) resubscribe(c mqtt.Client) {
	for _, topic := range m.topics() {
		token := c.Subscribe(topic, m.qos, m.deliver(topic))
		err := fmt.Errorf("timed out after %s", m.timeout)
		if token.WaitTimeout(m.timeout) {
			err = token.Error()
		}
		if err != nil {
			m.logger.Error("mqtt resubscribe failed", "broker", m.broker, "topic", topic, "error", err)
			m.fail(fmt.Errorf("resubscribe %s: %w", topic, err))
			return
		}
		m.logger.Debug("mqtt resubscribed", "broker", m.broker, "topic", topic)
	}
}

func (m *MQTTBus) deliver(topic string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		m.receive(topic, msg.Payload())
	}
}

// wait blocks until token completes, the bus timeout elapses, or ctx ends.
func (m *MQTTBus) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", m.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTBus) Subscribe(ctx context.Context, topic string) error {
	if m.isClosed() {
		return &TransportError{Op: "subscribe", Err: ErrClosed}
	}
	if !m.register(topic) {
		return nil
	}
	if err := m.wait(ctx, m.client.Subscribe(topic, m.qos, m.deliver(topic))); err != nil {
		m.unregister(topic)
		m.metrics.IncrementErrors()
		return &TransportError{Op: "subscribe", URL: m.broker, Err: fmt.Errorf("%s: %w", topic, err)}
	}
	return nil
}

func (m *MQTTBus) Publish(ctx context.Context, topic string, msg Message) error {
	if m.isClosed() {
		return &TransportError{Op: "publish", Err: ErrClosed}
	}
	frame := Marshal(msg)
	if err := m.wait(ctx, m.client.Publish(topic, m.qos, false, frame)); err != nil {
		m.metrics.IncrementErrors()
		return &TransportError{Op: "publish", URL: m.broker, Err: err}
	}
	m.metrics.IncrementSent(int64(len(frame)))
	return nil
}

func (m *MQTTBus) Poll(ctx context.Context, topic string) ([]Message, error) {
	// While paho reconnects the topic is silent. A reconnect that cannot
	// restore the subscriptions fails the bus and surfaces here.
	return m.poll(topic)
}

func (m *MQTTBus) Close() error {
	if m.markClosed() {
		m.client.Disconnect(mqttDisconnectQuiesce)
	}
	return nil
}
