// Package rtc is the pion/webrtc implementation of the session's transport.
package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultGatherTimeout = 5 * time.Second

type Options struct {
	// GatherTimeout bounds SetLocalDescription's wait for ICE gathering.
	GatherTimeout time.Duration
	// PionLevel is the minimum level for pion's own log lines.
	PionLevel zerolog.Level
}

// PeerController owns one pion peer connection for one session.
type PeerController struct {
	pc     *webrtc.PeerConnection
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	sender   *webrtc.RTPSender
	onState  func(webrtc.PeerConnectionState)
	onRemote func(core.RemoteAudio)
}

func iceServers(relays domain.RelayConfig) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(relays))
	for _, r := range relays {
		s := webrtc.ICEServer{URLs: []string(r.URLs), Username: r.Username}
		if r.Credential != "" {
			s.Credential = r.Credential
		}
		out = append(out, s)
	}
	return out
}

func newAPI(opts Options) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(opts.PionLevel)
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewPeerFactory adapts NewPeerController to core.PeerFactory.
func NewPeerFactory(opts Options) core.PeerFactory {
	return func(relays domain.RelayConfig) (core.PeerConnection, error) {
		return NewPeerController(relays, opts)
	}
}

func NewPeerController(relays domain.RelayConfig, opts Options) (*PeerController, error) {
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = defaultGatherTimeout
	}
	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(relays)})
	if err != nil {
		return nil, err
	}
	c := &PeerController{
		pc:     pc,
		opts:   opts,
		logger: log.With().Str("module", "webrtc").Logger(),
	}
	c.watch()
	c.logger.Info().Int("relays", len(relays)).Msg("peer connection created")
	return c, nil
}

func (c *PeerController) watch() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	c.pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		c.logger.Debug().Str("gathering_state", s.String()).Msg("ICE gathering")
	})
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ev := c.logger.Debug()
		if cand.Typ == webrtc.ICECandidateTypeRelay {
			ev = c.logger.Info().Bool("relay", true)
		}
		ev.Str("type", cand.Typ.String()).
			Str("protocol", cand.Protocol.String()).
			Str("address", cand.Address).
			Uint16("port", cand.Port).
			Msg("ICE candidate")
	})
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		c.mu.Lock()
		fn := c.onRemote
		c.mu.Unlock()
		if fn != nil {
			fn(remoteAudio{track: track})
		}
	})
}

func (c *PeerController) usable() error {
	if c.closed {
		return domain.ErrPeerClosed
	}
	return nil
}

func (c *PeerController) AddAudioTrack(track core.LocalTrack) (core.AudioSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	if c.sender != nil {
		return nil, errors.New("audio sender already exists")
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	c.sender = sender
	go drainRTCP(sender)
	c.logger.Info().Str("track_id", track.ID()).Msg("audio sender added")
	return audioSender{sender: sender}, nil
}

// drainRTCP keeps interceptors fed until the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *PeerController) CreateControlChannel(label string) (core.ControlChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return newDataChannel(dc), nil
}

func (c *PeerController) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if c.sender == nil {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := core.RequireAudio(offer.SDP); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *PeerController) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	if err := c.usable(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return err
	}
	select {
	case <-gatherComplete:
	case <-time.After(c.opts.GatherTimeout):
		c.logger.Warn().Dur("timeout", c.opts.GatherTimeout).Msg("ICE gathering incomplete, sending what we have")
	}
	return nil
}

func (c *PeerController) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *PeerController) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *PeerController) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *PeerController) OnRemoteAudio(fn func(core.RemoteAudio)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

// Close is idempotent; callbacks are dropped before the pion connection closes.
func (c *PeerController) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.sender = nil
	c.onState = nil
	c.onRemote = nil
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

type audioSender struct {
	sender *webrtc.RTPSender
}

// ReplaceTrack swaps the outgoing source. A nil track sends nothing.
func (s audioSender) ReplaceTrack(track core.LocalTrack) error {
	return s.sender.ReplaceTrack(track)
}
