package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Handler fills the output payload for one invocation. It never fails:
// problems are written into out as an "error" field.
type Handler func(ctx context.Context, inv domain.ToolInvocation, out domain.ToolOutput)

// Sender delivers client events; protocol.Conn implements it.
type Sender interface {
	Send(protocol.ClientEvent) bool
}

// PositionSource is the collaborator behind get_iss_position.
type PositionSource interface {
	FetchPosition(ctx context.Context) (domain.Position, error)
}

// Dispatcher answers function calls with exactly one function_call_output each.
// One instance per session.
type Dispatcher struct {
	sid      string
	conn     Sender
	handlers map[string]Handler
	followUp map[string]bool

	mu       sync.Mutex
	pending  map[string]string
	answered map[string]struct{}
	unknown  int
}

func NewDispatcher(sid string, conn Sender, positions PositionSource) *Dispatcher {
	return &Dispatcher{
		sid:  sid,
		conn: conn,
		handlers: map[string]Handler{
			FocusPlanet:    defaultHandler,
			DisplayData:    defaultHandler,
			ResetCamera:    defaultHandler,
			ShowOrbit:      defaultHandler,
			ShowMoons:      defaultHandler,
			GetISSPosition: positionHandler(positions),
		},
		followUp: map[string]bool{
			GetISSPosition: true,
			DisplayData:    true,
		},
		pending:  make(map[string]string),
		answered: make(map[string]struct{}),
	}
}

func defaultHandler(context.Context, domain.ToolInvocation, domain.ToolOutput) {}

func positionHandler(src PositionSource) Handler {
	return func(ctx context.Context, inv domain.ToolInvocation, out domain.ToolOutput) {
		if src == nil {
			out["error"] = "position lookup not configured"
			return
		}
		pos, err := src.FetchPosition(ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "tools").Str("call_id", inv.CallID).Msg("position lookup failed")
			out["error"] = err.Error()
			return
		}
		out["issPosition"] = pos
	}
}

// Dispatch runs the handler for inv and sends its output, then a response.create
// for tools whose output alone would not prompt a new turn. It returns once both
// messages have been handed to the channel.
func (d *Dispatcher) Dispatch(ctx context.Context, inv domain.ToolInvocation) {
	logger := log.With().
		Str("module", "tools").
		Str("sid", d.sid).
		Str("tool", inv.Name).
		Str("call_id", inv.CallID).
		Logger()

	d.mu.Lock()
	if _, done := d.answered[inv.CallID]; done {
		d.mu.Unlock()
		logger.Warn().Msg("call already answered, dropping")
		return
	}
	d.pending[inv.CallID] = inv.Name
	handler, known := d.handlers[inv.Name]
	if !known {
		d.unknown++
		handler = defaultHandler
	}
	d.mu.Unlock()

	if !known {
		logger.Warn().Msg("unknown tool, replying with generic output")
	}
	logger.Info().Str("arguments", inv.RawArguments).Msg("tool call")

	out := domain.NewToolOutput(fmt.Sprintf("Tool call %s executed successfully.", inv.Name))
	handler(ctx, inv, out)

	payload, err := json.Marshal(out)
	if err != nil {
		logger.Error().Err(err).Msg("marshal tool output")
		payload = []byte(fmt.Sprintf(`{"response":%q,"error":%q}`, out["response"], err.Error()))
	}

	d.conn.Send(protocol.NewFunctionCallOutput(inv.CallID, string(payload)))
	if d.followUp[inv.Name] {
		d.conn.Send(protocol.NewResponseCreate())
	}

	d.mu.Lock()
	delete(d.pending, inv.CallID)
	d.answered[inv.CallID] = struct{}{}
	d.mu.Unlock()
}

// Pending returns a snapshot of in-flight call id -> tool name.
func (d *Dispatcher) Pending() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.pending))
	maps.Copy(out, d.pending)
	return out
}

// UnknownCalls counts invocations of names absent from the table.
func (d *Dispatcher) UnknownCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unknown
}
