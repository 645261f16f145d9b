package session

import (
	"context"

	"github.com/dkeye/VoiceAgent/internal/app/tools"
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/protocol"
	"github.com/rs/zerolog/log"
)

// controlLoop is the session's only subscription to the control channel.
// Events are handled one at a time, so a tool call is fully answered before
// the next response.done is looked at.
func (s *Session) controlLoop(
	ctx context.Context,
	gen uint64,
	ch core.ControlChannel,
	conn *protocol.Conn,
	dispatcher *tools.Dispatcher,
	done chan struct{},
) {
	defer close(done)
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "session.control").Msg("control loop ctx done")
			return
		case ev, ok := <-events:
			if !ok {
				s.endIfLive(gen, "control channel gone")
				return
			}
			switch ev.Kind {
			case core.ChannelOpen:
				s.onChannelOpen(gen, conn)
			case core.ChannelMessage:
				s.onMessage(ctx, ev.Data, dispatcher)
			case core.ChannelClosed:
				s.endIfLive(gen, "control channel closed")
				return
			}
		}
	}
}

func (s *Session) onChannelOpen(gen uint64, conn *protocol.Conn) {
	s.promote(gen, "control channel open")

	s.mu.Lock()
	if gen != s.gen || s.updateSent {
		s.mu.Unlock()
		return
	}
	s.updateSent = true
	s.mu.Unlock()

	conn.Send(protocol.NewSessionUpdate(tools.SessionConfig()))
	log.Info().Str("module", "session.control").Msg("session.update sent")
}

func (s *Session) onMessage(ctx context.Context, raw core.Frame, dispatcher *tools.Dispatcher) {
	if s.observer != nil {
		s.observer.OnServerEvent(raw)
	}
	typ, err := protocol.DecodeType(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "session.control").Msg("bad json from control channel")
		return
	}
	if typ != protocol.TypeResponseDone {
		return
	}
	done, err := protocol.DecodeResponseDone(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "session.control").Msg("bad response.done")
		return
	}
	inv, ok := done.ToolInvocation()
	if !ok {
		return
	}
	if s.observer != nil {
		s.observer.OnToolCall(inv)
	}
	dispatcher.Dispatch(ctx, inv)
}
