package viewer

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/registry"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Outbound event types.
const (
	EventAttach    = "attach"
	EventPlace     = "place"
	EventNotice    = "notice"
	EventSelection = "selection"
	EventBoard     = "board"
)

// Pick targets of inbound events.
const (
	TargetPiece = "piece"
	TargetField = "field"
	TargetNone  = "none"
)

// Event is sent to every connected viewer.
type Event struct {
	Type string `json:"type"`

	Handle   registry.Handle `json:"handle,omitempty"`
	Role     board.Role      `json:"role,omitempty"`
	Color    board.Color     `json:"color,omitempty"`
	Model    string          `json:"model,omitempty"`
	Scale    float64         `json:"scale,omitempty"`
	Position *board.Position `json:"position,omitempty"`
	Visible  *bool           `json:"visible,omitempty"`

	Message string `json:"message,omitempty"`

	Selected     *board.Square  `json:"selected,omitempty"`
	Destinations []board.Square `json:"destinations,omitempty"`

	FEN    string `json:"fen,omitempty"`
	Turn   string `json:"turn,omitempty"`
	Status string `json:"status,omitempty"`
}

// Input is a pick reported by a viewer: the 3-D object that was hit.
type Input struct {
	Type   string          `json:"type"`
	Target string          `json:"target"`
	Handle registry.Handle `json:"handle,omitempty"`
	X      float64         `json:"x,omitempty"`
	Z      float64         `json:"z,omitempty"`
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithWelcome sends msg as a notice to each viewer right after its replay.
func WithWelcome(msg string) Option {
	return func(h *Hub) { h.welcome = msg }
}

// Hub fans scene updates out to WebSocket viewers and collects their picks.
// It implements registry.Scene. Late joiners get the current scene replayed.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	attached map[registry.Handle]Event
	placed   map[registry.Handle]Event
	sticky   map[string]Event

	inputs       chan Input
	logger       *zap.Logger
	writeTimeout time.Duration
	sendBuffer   int
	welcome      string
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:      make(map[*client]struct{}),
		attached:     make(map[registry.Handle]Event),
		placed:       make(map[registry.Handle]Event),
		sticky:       make(map[string]Event),
		inputs:       make(chan Input, 64),
		logger:       zap.NewNop(),
		writeTimeout: 5 * time.Second,
		sendBuffer:   256,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Inputs delivers viewer picks in arrival order.
func (h *Hub) Inputs() <-chan Input { return h.inputs }

func (h *Hub) Attach(handle registry.Handle, p board.Piece, model string, scale float64) {
	ev := Event{Type: EventAttach, Handle: handle, Role: p.Role, Color: p.Color, Model: model, Scale: scale}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached[handle] = ev
	h.broadcastLocked(ev)
}

func (h *Hub) Place(handle registry.Handle, pos board.Position, visible bool) {
	p, v := pos, visible
	ev := Event{Type: EventPlace, Handle: handle, Position: &p, Visible: &v}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.placed[handle] = ev
	h.broadcastLocked(ev)
}

// Notice publishes a notification string. An empty message clears it.
func (h *Hub) Notice(msg string) {
	h.publishSticky(Event{Type: EventNotice, Message: msg})
}

// Selection publishes the selected square and its destinations.
func (h *Hub) Selection(sq board.Square, selected bool, dests []board.Square) {
	ev := Event{Type: EventSelection}
	if selected {
		s := sq
		ev.Selected = &s
		ev.Destinations = append([]board.Square(nil), dests...)
	}
	h.publishSticky(ev)
}

// Board publishes the serialized position and its status.
func (h *Hub) Board(fen string, turn board.Color, status string) {
	h.publishSticky(Event{Type: EventBoard, FEN: fen, Turn: string(turn), Status: status})
}

func (h *Hub) publishSticky(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sticky[ev.Type] = ev
	h.broadcastLocked(ev)
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcastLocked(ev Event) {
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("viewer_slow_client_dropped")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) replayLocked() []Event {
	handles := make([]string, 0, len(h.attached))
	for k := range h.attached {
		handles = append(handles, string(k))
	}
	sort.Strings(handles)

	out := make([]Event, 0, 2*len(handles)+len(h.sticky))
	for _, k := range handles {
		out = append(out, h.attached[registry.Handle(k)])
		if ev, ok := h.placed[registry.Handle(k)]; ok {
			out = append(out, ev)
		}
	}
	for _, t := range []string{EventBoard, EventSelection, EventNotice} {
		if ev, ok := h.sticky[t]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// ServeHTTP upgrades the request and serves one viewer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("viewer_accept_error", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: conn, send: make(chan Event, h.sendBuffer)}
	h.mu.Lock()
	replay := h.replayLocked()
	if h.welcome != "" {
		replay = append(replay, Event{Type: EventNotice, Message: h.welcome})
	}
	if len(replay) > h.sendBuffer {
		replay = replay[len(replay)-h.sendBuffer:]
	}
	for _, ev := range replay {
		c.send <- ev
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("viewer_connected", zap.String("remote", r.RemoteAddr), zap.Int("replayed", len(replay)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, c)
	}()

	h.readLoop(ctx, c)

	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
	cancel()
	<-done
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	h.logger.Info("viewer_disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var in Input
		if err := wsjson.Read(ctx, c.conn, &in); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				h.logger.Debug("viewer_read_error", zap.Error(err))
			}
			return
		}
		if in.Type != "pick" {
			continue
		}
		select {
		case h.inputs <- in:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				h.logger.Debug("viewer_write_error", zap.Error(err))
				return
			}
		}
	}
}
