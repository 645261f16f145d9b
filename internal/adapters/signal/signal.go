package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/app/session"
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// SessionView answers snapshot requests from tap clients.
type SessionView interface {
	Snapshot() session.Snapshot
}

// EventTap fans session activity out to every connected websocket client.
// It is the session's Observer.
type EventTap struct {
	mu        sync.RWMutex
	view      SessionView
	conns     map[*WsSignalConn]string
	readLimit int64
}

// NewEventTap returns a tap whose clients may send frames up to readLimit bytes.
// Zero leaves the websocket default.
func NewEventTap(readLimit int64) *EventTap {
	return &EventTap{conns: make(map[*WsSignalConn]string), readLimit: readLimit}
}

// Bind sets the session the tap reports on.
func (t *EventTap) Bind(view SessionView) {
	t.mu.Lock()
	t.view = view
	t.mu.Unlock()
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

type stateMsg struct {
	Type string       `json:"type"`
	From domain.State `json:"from"`
	To   domain.State `json:"to"`
}

type serverEventMsg struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event,omitempty"`
	Raw   string          `json:"raw,omitempty"`
}

type toolCallMsg struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments,omitempty"`
}

type snapshotMsg struct {
	Type    string           `json:"type"`
	Session session.Snapshot `json:"session"`
}

func (t *EventTap) OnStateChange(from, to domain.State) {
	t.broadcast(stateMsg{Type: "state", From: from, To: to})
}

func (t *EventTap) OnServerEvent(raw []byte) {
	msg := serverEventMsg{Type: "server_event"}
	if json.Valid(raw) {
		msg.Event = json.RawMessage(raw)
	} else {
		msg.Raw = string(raw)
	}
	t.broadcast(msg)
}

func (t *EventTap) OnToolCall(inv domain.ToolInvocation) {
	t.broadcast(toolCallMsg{Type: "tool_call", Name: inv.Name, CallID: inv.CallID, Arguments: inv.RawArguments})
}

func (t *EventTap) broadcast(v any) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for c, token := range t.conns {
		if err := sendJSON(c, v); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", token).Msg("tap send dropped")
		}
	}
}

func (t *EventTap) snapshot() (session.Snapshot, bool) {
	t.mu.RLock()
	view := t.view
	t.mu.RUnlock()
	if view == nil {
		return session.Snapshot{}, false
	}
	return view.Snapshot(), true
}

// Clients is the number of connected tap clients.
func (t *EventTap) Clients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (t *EventTap) HandleEvents(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if t.readLimit > 0 {
		ws.SetReadLimit(t.readLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	t.mu.Lock()
	t.conns[conn] = token
	t.mu.Unlock()

	t.handleSnapshot(conn)

	ctx, cancel := context.WithCancel(ctx)
	go t.writePump(ctx, conn)
	go t.readPump(ctx, cancel, token, conn)
}

func (t *EventTap) drop(c *WsSignalConn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
	c.Close()
}
