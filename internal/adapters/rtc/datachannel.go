package rtc

import (
	"fmt"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 64

// dataChannel turns pion's open/message/close callbacks into one ordered stream.
type dataChannel struct {
	dc     *webrtc.DataChannel
	events chan core.ChannelEvent
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	finished bool
}

func newDataChannel(dc *webrtc.DataChannel) *dataChannel {
	d := &dataChannel{
		dc:     dc,
		events: make(chan core.ChannelEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	dc.OnOpen(func() {
		log.Info().Str("module", "webrtc").Str("label", dc.Label()).Msg("data channel open")
		d.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := make(core.Frame, len(msg.Data))
		copy(data, msg.Data)
		d.emit(core.ChannelEvent{Kind: core.ChannelMessage, Data: data})
	})
	dc.OnClose(func() {
		log.Info().Str("module", "webrtc").Str("label", dc.Label()).Msg("data channel closed")
		d.emit(core.ChannelEvent{Kind: core.ChannelClosed})
		d.finish()
	})
	return d
}

func (d *dataChannel) emit(ev core.ChannelEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		return
	}
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func (d *dataChannel) finish() {
	d.once.Do(func() { close(d.done) })
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.finished {
		d.finished = true
		close(d.events)
	}
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) Events() <-chan core.ChannelEvent { return d.events }

func (d *dataChannel) Send(f core.Frame) error {
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("%w: %s is %s", domain.ErrChannelUnavailable, d.dc.Label(), d.dc.ReadyState())
	}
	if err := d.dc.SendText(string(f)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err)
	}
	return nil
}

func (d *dataChannel) Close() error {
	defer d.finish()
	return d.dc.Close()
}
