package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (t *EventTap) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (t *EventTap) readPump(ctx context.Context, cancel context.CancelFunc, token string, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", token).Msg("readPump closing")
		cancel()
		t.drop(c)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", token).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", token).Msg("readPump read error")
				return
			}
			t.handleSignal(token, c, data)
		}
	}
}

func (t *EventTap) handleSignal(token string, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		t.handlePing(c)
	case "snapshot":
		t.handleSnapshot(c)
	default:
		log.Warn().Str("module", "signal").Str("sid", token).Str("type", env.Type).Msg("unknown signal")
	}
}

func (t *EventTap) handlePing(c *WsSignalConn) {
	_ = sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}

func (t *EventTap) handleSnapshot(c *WsSignalConn) {
	snap, ok := t.snapshot()
	if !ok {
		return
	}
	_ = sendJSON(c, snapshotMsg{Type: "snapshot", Session: snap})
}

func sendJSON(c *WsSignalConn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return err
	}
	return c.TrySend(b)
}
