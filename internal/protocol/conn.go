package protocol

import (
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/rs/zerolog/log"
)

// Conn writes client events to a control channel.
// Failures are logged and the message dropped; nothing is queued.
type Conn struct {
	ch  core.ControlChannel
	sid string
}

func NewConn(ch core.ControlChannel, sid string) *Conn {
	return &Conn{ch: ch, sid: sid}
}

// Send reports whether ev reached the channel.
func (c *Conn) Send(ev ClientEvent) bool {
	b, err := Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "protocol").Str("sid", c.sid).Msg("send marshal")
		return false
	}
	if c.ch == nil {
		log.Error().Str("module", "protocol").Str("sid", c.sid).Str("type", ev.envelope().Type).Msg("send: no control channel")
		return false
	}
	if err := c.ch.Send(b); err != nil {
		log.Error().Err(err).Str("module", "protocol").Str("sid", c.sid).Str("type", ev.envelope().Type).Msg("send dropped")
		return false
	}
	log.Debug().Str("module", "protocol").Str("sid", c.sid).Str("type", ev.envelope().Type).Str("event_id", ev.envelope().EventID).Msg("sent")
	return true
}
