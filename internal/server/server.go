package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/lotas/kurzfassung/internal/applog"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by Request when no extension is attached.
var ErrNotConnected = errors.New("server: extension not connected")

// Incoming message types.
const (
	TypeHello              = "hello"
	TypeRequest            = "request"
	TypeReply              = "reply"
	TypeContextMenuClicked = "contextMenu.clicked"
	TypePageSelection      = "page.selection"
	TypePageClick          = "page.click"
	TypeTabClosed          = "tab.closed"
)

// Outgoing actions.
const (
	ActionCreateMenu    = "contextMenus.create"
	ActionOpenPopup     = "action.openPopup"
	ActionQueryActive   = "tabs.queryActive"
	ActionOverlayRender = "overlay.render"
	ActionReply         = "reply"
)

// IncomingMsg is a message from the extension to the host.
type IncomingMsg struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	TabID int    `json:"tabId,omitempty"`

	// hello
	Version string `json:"version,omitempty"`

	// request
	Message *bus.Message `json:"message,omitempty"`

	// reply
	OK    *bool           `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Tab   json.RawMessage `json:"tab,omitempty"`

	// contextMenu.clicked
	MenuItemID    string `json:"menuItemId,omitempty"`
	SelectionText string `json:"selectionText,omitempty"`

	// page.selection, page.click
	Selection json.RawMessage `json:"selection,omitempty"`
	Target    string          `json:"target,omitempty"`
}

// MenuItem is a context-menu entry to create in the browser.
type MenuItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Contexts []string `json:"contexts"`
}

// OutgoingMsg is a command from the host to the extension.
type OutgoingMsg struct {
	ID     string     `json:"id"`
	Action string     `json:"action"`
	TabID  int        `json:"tabId,omitempty"`
	Menu   *MenuItem  `json:"menu,omitempty"`
	HTML   string     `json:"html,omitempty"`
	Reply  *bus.Reply `json:"reply,omitempty"`
}

type metrics struct {
	connected prometheus.Gauge
	received  *prometheus.CounterVec
	sent      *prometheus.CounterVec
}

// Server manages the WebSocket connection to the extension. Only one
// extension is attached at a time; a new connection replaces the old one.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg

	metrics        *metrics
	metricsHandler http.Handler
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 64),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Instrument registers connection metrics on reg and serves reg on /metrics.
func (s *Server) Instrument(reg *prometheus.Registry) error {
	m := &metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kurzfassung_extension_connected",
			Help: "1 while a browser extension is attached.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurzfassung_ws_messages_received_total",
			Help: "Messages received from the extension by type.",
		}, []string{"type"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kurzfassung_ws_messages_sent_total",
			Help: "Messages sent to the extension by action.",
		}, []string{"action"}),
	}
	for _, c := range []prometheus.Collector{m.connected, m.received, m.sent} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	s.mu.Lock()
	s.metrics = m
	s.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	s.mu.Unlock()
	return nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of incoming messages from the extension.
// Replies to Request calls are not delivered here.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a command to the connected extension. Without a connection the
// message is dropped.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	m := s.metrics
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Action, err)
	}
	if m != nil {
		m.sent.WithLabelValues(msg.Action).Inc()
	}
	return nil
}

// Request sends msg and waits for the extension's reply carrying the same id.
func (s *Server) Request(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	if !s.Connected() {
		return IncomingMsg{}, ErrNotConnected
	}

	msg.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)
	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, err
	}

	select {
	case reply := <-ch:
		if reply.OK != nil && !*reply.OK {
			return reply, fmt.Errorf("%s: %s", msg.Action, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return IncomingMsg{}, ctx.Err()
	}
}

// Reply answers a request the extension sent with id.
func (s *Server) Reply(id string, reply bus.Reply) error {
	return s.Send(OutgoingMsg{ID: id, Action: ActionReply, Reply: &reply})
}

// deliver routes a reply to its waiting Request. It reports whether one was
// waiting.
func (s *Server) deliver(msg IncomingMsg) bool {
	if msg.ID == "" {
		return false
	}
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

func (s *Server) setConnected(v float64) {
	if s.metrics != nil {
		s.metrics.connected.Set(v)
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("websocket accept: %v", err)
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(1 << 20) // selections are capped at 100k characters

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.setConnected(1)
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.connCtx = nil
				s.setConnected(0)
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type, "id", msg.ID)
			s.mu.Lock()
			if s.metrics != nil {
				s.metrics.received.WithLabelValues(msg.Type).Inc()
			}
			s.mu.Unlock()

			if msg.Type == TypeReply && s.deliver(msg) {
				continue
			}
			select {
			case s.msgs <- msg:
			default:
				applog.Info("ws.dropped", "type", msg.Type)
			}
		}
	})
}

// Mux serves the socket on / and metrics on /metrics when instrumented.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())
	s.mu.Lock()
	mh := s.metricsHandler
	s.mu.Unlock()
	if mh != nil {
		mux.Handle("/metrics", mh)
	}
	return mux
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: s.Mux()}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
