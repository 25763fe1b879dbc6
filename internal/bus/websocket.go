package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Broker protocol operations carried in JSON text frames. Published and
// delivered messages travel as binary frames holding a topic envelope.
const (
	OpSubscribe  = "subscribe"
	OpSubscribed = "subscribed"
	OpError      = "error"
)

// DefaultBrokerPath is the HTTP path the rttbench broker upgrades on.
const DefaultBrokerPath = "/ws"

// ControlFrame is a broker protocol text frame.
type ControlFrame struct {
	Op      string `json:"op"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

// WebSocketBus is a connection to an rttbench broker.
type WebSocketBus struct {
	*endpoint
	conn    *websocket.Conn
	url     string
	timeout time.Duration

	writeMu sync.Mutex
	acksMu  sync.Mutex
	acks    map[string]chan error
	done    chan struct{}
}

func openWebSocket(ctx context.Context, raw string, opts Options) (*WebSocketBus, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, &TransportError{Op: "connect", URL: raw, Err: err}
	}
	if target.Path == "" || target.Path == "/" {
		target.Path = DefaultBrokerPath
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := http.Header{}
	if opts.ClientID != "" {
		header.Set("X-Rttbench-Client", opts.ClientID)
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, &TransportError{Op: "connect", URL: target.String(), Err: err}
	}

	w := &WebSocketBus{
		endpoint: newEndpoint(opts.MailboxSize, opts.Logger),
		conn:     conn,
		url:      target.String(),
		timeout:  opts.ConnectTimeout,
		acks:     make(map[string]chan error),
		done:     make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

func (w *WebSocketBus) readLoop() {
	defer close(w.done)
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if !w.isClosed() {
				w.fail(err)
				w.logger.Warn("broker connection lost", "url", w.url, "error", err)
			}
			w.failAcks(err)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			topic, frame, err := UnmarshalEnvelope(data)
			if err != nil {
				w.metrics.IncrementUndecodable()
				continue
			}
			w.receive(topic, frame)
		case websocket.TextMessage:
			w.handleControl(data)
		}
	}
}

func (w *WebSocketBus) handleControl(data []byte) {
	op := gjson.GetBytes(data, "op").String()
	topic := gjson.GetBytes(data, "topic").String()
	switch op {
	case OpSubscribed:
		w.resolveAck(topic, nil)
	case OpError:
		reason := gjson.GetBytes(data, "message").String()
		w.logger.Warn("broker reported error", "topic", topic, "message", reason)
		if topic != "" {
			w.resolveAck(topic, fmt.Errorf("broker: %s", reason))
		}
	}
}

func (w *WebSocketBus) resolveAck(topic string, err error) {
	w.acksMu.Lock()
	ch, ok := w.acks[topic]
	delete(w.acks, topic)
	w.acksMu.Unlock()
	if ok {
		ch <- err
	}
}

func (w *WebSocketBus) failAcks(err error) {
	w.acksMu.Lock()
	pending := w.acks
	w.acks = make(map[string]chan error)
	w.acksMu.Unlock()
	for _, ch := range pending {
		ch <- err
	}
}

func (w *WebSocketBus) write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.WriteMessage(msgType, data)
}

func (w *WebSocketBus) Subscribe(ctx context.Context, topic string) (err error) {
	if w.isClosed() {
		return &TransportError{Op: "subscribe", Err: ErrClosed}
	}
	if !w.register(topic) {
		return nil
	}

	ack := make(chan error, 1)
	w.acksMu.Lock()
	w.acks[topic] = ack
	w.acksMu.Unlock()
	defer func() {
		if err != nil {
			w.acksMu.Lock()
			if w.acks[topic] == ack {
				delete(w.acks, topic)
			}
			w.acksMu.Unlock()
			w.unregister(topic)
		}
	}()

	frame, err := json.Marshal(ControlFrame{Op: OpSubscribe, Topic: topic})
	if err != nil {
		return err
	}
	if err := w.write(websocket.TextMessage, frame); err != nil {
		w.metrics.IncrementErrors()
		return &TransportError{Op: "subscribe", URL: w.url, Err: err}
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		if err != nil {
			return &TransportError{Op: "subscribe", URL: w.url, Err: err}
		}
		return nil
	case <-timer.C:
		return &TransportError{Op: "subscribe", URL: w.url, Err: fmt.Errorf("no acknowledgement for %s within %s", topic, w.timeout)}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WebSocketBus) Publish(ctx context.Context, topic string, msg Message) error {
	if w.isClosed() {
		return &TransportError{Op: "publish", Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := Marshal(msg)
	if err := w.write(websocket.BinaryMessage, MarshalEnvelope(topic, frame)); err != nil {
		w.metrics.IncrementErrors()
		return &TransportError{Op: "publish", URL: w.url, Err: err}
	}
	w.metrics.IncrementSent(int64(len(frame)))
	return nil
}

func (w *WebSocketBus) Poll(ctx context.Context, topic string) ([]Message, error) {
	return w.poll(topic)
}

// Close sends a close frame and waits for the reader to exit.
func (w *WebSocketBus) Close() error {
	if !w.markClosed() {
		return nil
	}
	w.writeMu.Lock()
	err := w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()
	closeErr := w.conn.Close()
	<-w.done
	if err != nil && err != websocket.ErrCloseSent {
		return err
	}
	return closeErr
}
