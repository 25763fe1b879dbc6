// Package broker implements a small WebSocket publish/subscribe broker so the
// client and echo processes can exchange messages without external
// infrastructure. It speaks the protocol of the bus package's ws adapter:
// JSON text frames for control operations and binary topic envelopes for
// traffic.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/torosent/rttbench/internal/bus"
)

const (
	defaultSendBuffer = 1024
	writeWait         = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options configure a Server.
type Options struct {
	Addr string
	// SendBuffer bounds the outbound queue of each connection. A subscriber
	// that falls this far behind loses messages.
	SendBuffer int
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

func (o *Options) normalize() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats is a snapshot of broker counters.
type Stats struct {
	Connections int64 `json:"connections"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Rejected    int64 `json:"rejected"`
}

// Server is the broker HTTP server.
type Server struct {
	opts     Options
	router   chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*peer]struct{}

	connections atomic.Int64
	published   atomic.Int64
	delivered   atomic.Int64
	dropped     atomic.Int64
	rejected    atomic.Int64
}

// New creates a Server.
func New(opts Options) *Server {
	opts.normalize()
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		subs:   make(map[string]map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(bus.DefaultBrokerPath, s.handleWebSocket)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	return r
}

// Handler returns the HTTP handler serving the broker.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on opts.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("broker listening", "addr", s.opts.Addr, "path", bus.DefaultBrokerPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.closeAll()
		return nil
	}
}

// Stats returns the current broker counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Published:   s.published.Load(),
		Delivered:   s.delivered.Load(),
		Dropped:     s.dropped.Load(),
		Rejected:    s.rejected.Load(),
	}
}

// Subscribers returns how many connections are subscribed to topic.
func (s *Server) Subscribers(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[topic])
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Stats())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	p := &peer{
		conn:   conn,
		client: r.Header.Get("X-Rttbench-Client"),
		send:   make(chan outbound, s.opts.SendBuffer),
		done:   make(chan struct{}),
	}
	s.connections.Add(1)
	s.logger.Debug("peer connected", "remote", r.RemoteAddr, "client", p.client)

	go s.writePump(p)
	s.readPump(p)

	s.unsubscribeAll(p)
	p.shutdown()
	s.connections.Add(-1)
	s.logger.Debug("peer disconnected", "remote", r.RemoteAddr, "client", p.client)
}

func (s *Server) readPump(p *peer) {
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			s.handleControl(p, data)
		case websocket.BinaryMessage:
			s.handlePublish(p, data)
		}
	}
}

func (s *Server) handleControl(p *peer, data []byte) {
	op := gjson.GetBytes(data, "op").String()
	topic := gjson.GetBytes(data, "topic").String()
	switch op {
	case bus.OpSubscribe:
		if topic == "" {
			s.rejected.Add(1)
			s.reply(p, bus.ControlFrame{Op: bus.OpError, Message: "subscribe requires a topic"})
			return
		}
		s.subscribe(p, topic)
		s.reply(p, bus.ControlFrame{Op: bus.OpSubscribed, Topic: topic})
	default:
		s.rejected.Add(1)
		s.reply(p, bus.ControlFrame{Op: bus.OpError, Topic: topic, Message: "unknown op " + op})
	}
}

func (s *Server) handlePublish(p *peer, data []byte) {
	topic, _, err := bus.UnmarshalEnvelope(data)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Debug("rejecting malformed envelope", "client", p.client, "error", err)
		return
	}
	s.published.Add(1)

	s.mu.RLock()
	targets := make([]*peer, 0, len(s.subs[topic]))
	for t := range s.subs[topic] {
		targets = append(targets, t)
	}
	s.mu.RUnlock()

	for _, t := range targets {
		if t.enqueue(outbound{msgType: websocket.BinaryMessage, data: data}) {
			s.delivered.Add(1)
		} else {
			s.dropped.Add(1)
		}
	}
}

func (s *Server) reply(p *peer, frame bus.ControlFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	p.enqueue(outbound{msgType: websocket.TextMessage, data: data})
}

func (s *Server) subscribe(p *peer, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[topic]
	if !ok {
		set = make(map[*peer]struct{})
		s.subs[topic] = set
	}
	set[p] = struct{}{}
}

func (s *Server) unsubscribeAll(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, set := range s.subs {
		delete(set, p)
		if len(set) == 0 {
			delete(s.subs, topic)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.RLock()
	peers := make(map[*peer]struct{})
	for _, set := range s.subs {
		for p := range set {
			peers[p] = struct{}{}
		}
	}
	s.mu.RUnlock()
	for p := range peers {
		_ = p.conn.Close()
	}
}

func (s *Server) writePump(p *peer) {
	for {
		select {
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(msg.msgType, msg.data); err != nil {
				_ = p.conn.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

type outbound struct {
	msgType int
	data    []byte
}

// peer is one broker connection. Only writePump writes to conn.
type peer struct {
	conn   *websocket.Conn
	client string
	send   chan outbound
	done   chan struct{}
	once   sync.Once
}

// enqueue queues msg without blocking. It reports false when the queue is full
// or the peer has gone away.
func (p *peer) enqueue(msg outbound) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

func (p *peer) shutdown() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
