// Package session owns one live voice session at a time: its transport, its
// tracks, its control channel and the tool calls running over it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/app/media"
	"github.com/dkeye/VoiceAgent/internal/app/signaling"
	"github.com/dkeye/VoiceAgent/internal/app/tools"
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultChannelLabel = "oai-events"

var errStopRequested = errors.New("stop requested during start")

// Observer receives what the excluded UI layer would render.
// Calls are made without the session lock held.
type Observer interface {
	OnStateChange(from, to domain.State)
	OnServerEvent(raw []byte)
	OnToolCall(inv domain.ToolInvocation)
}

type Options struct {
	ChannelLabel string
	Observer     Observer
}

// Session is the single owner of the peer connection, the outbound sender and
// the control channel. At most one of each is alive at any time.
type Session struct {
	platform core.Platform
	label    string
	observer Observer

	mu            sync.Mutex
	state         domain.State
	gen           uint64 // bumps on every start and teardown; stale callbacks compare against it
	starting      bool
	stopRequested bool
	updateSent    bool

	cred       domain.SessionCredential
	ctx        context.Context
	cancel     context.CancelFunc
	pc         core.PeerConnection
	channel    core.ControlChannel
	media      *media.Manager
	dispatcher *tools.Dispatcher
	loopDone   chan struct{}
}

func New(platform core.Platform, opts Options) *Session {
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = DefaultChannelLabel
	}
	return &Session{
		platform: platform,
		label:    opts.ChannelLabel,
		observer: opts.Observer,
		state:    domain.StateIdle,
	}
}

// Start runs credential resolution through remote-description application.
// A start while not Idle, or while an earlier start is still unwinding, is a no-op. On failure every acquired resource is
// released, the session is back in Idle and the cause is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.StateIdle || s.starting {
		state := s.state
		s.mu.Unlock()
		log.Info().Str("module", "session").Str("state", state.String()).Msg("start ignored, session busy")
		return nil
	}
	s.gen++
	gen := s.gen
	s.state = domain.StateStarting
	s.starting = true
	s.stopRequested = false
	s.updateSent = false
	s.mu.Unlock()
	s.notify(domain.StateIdle, domain.StateStarting)

	err := s.start(ctx, gen)
	if err == nil {
		s.mu.Lock()
		s.starting = false
		stop := s.stopRequested
		s.mu.Unlock()
		if stop {
			s.teardown("stop requested")
		}
		return nil
	}

	// starting stays set until teardown is done so no other path races it.
	if errors.Is(err, errStopRequested) {
		log.Info().Str("module", "session").Msg("stop honoured after start step")
		s.teardown("stop requested")
		err = nil
	} else {
		log.Error().Err(err).Str("module", "session").Msg("start failed")
		s.transition(domain.StateError)
		s.teardown("start failed")
	}
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	return err
}

func (s *Session) start(ctx context.Context, gen uint64) error {
	if s.platform.Collab == nil || s.platform.Negotiator == nil || s.platform.NewPeer == nil {
		return fmt.Errorf("%w: session platform incomplete", domain.ErrConfigMissing)
	}

	cred, relays, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	sid := cred.SessionID
	logger := log.With().Str("module", "session").Str("sid", sid).Logger()
	logger.Info().Int("relays", len(relays)).Msg("credential and relays resolved")
	if err := s.checkpoint(); err != nil {
		return err
	}

	pc, err := s.platform.NewPeer(relays)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	mgr := media.NewManager(s.platform.Media, sid)
	mgr.Bind(pc)

	s.mu.Lock()
	s.cred = cred
	s.pc = pc
	s.media = mgr
	s.ctx = sessCtx
	s.cancel = cancel
	s.mu.Unlock()

	pc.OnStateChange(func(st webrtc.PeerConnectionState) { s.onPeerState(gen, st) })
	pc.OnRemoteAudio(func(ra core.RemoteAudio) { s.onRemoteAudio(gen, ra) })

	track, err := mgr.AcquireMicrophone(ctx)
	if err != nil {
		return err
	}
	if err := mgr.Attach(track); err != nil {
		return fmt.Errorf("attach microphone: %w", err)
	}
	if err := s.checkpoint(); err != nil {
		return err
	}
	s.transition(domain.StateNegotiating)

	ch, err := pc.CreateControlChannel(s.label)
	if err != nil {
		return fmt.Errorf("create control channel: %w", err)
	}
	conn := protocol.NewConn(ch, sid)
	dispatcher := tools.NewDispatcher(sid, conn, s.platform.Collab)
	done := make(chan struct{})

	s.mu.Lock()
	s.channel = ch
	s.dispatcher = dispatcher
	s.loopDone = done
	s.mu.Unlock()

	go s.controlLoop(sessCtx, gen, ch, conn, dispatcher, done)

	if err := signaling.NewExchange(s.platform.Negotiator, sid).Negotiate(ctx, pc, cred); err != nil {
		return err
	}
	logger.Info().Msg("negotiated, waiting for control channel")
	return s.checkpoint()
}

// resolve fetches the credential and the relay list concurrently.
func (s *Session) resolve(ctx context.Context) (domain.SessionCredential, domain.RelayConfig, error) {
	var (
		cred   domain.SessionCredential
		relays domain.RelayConfig
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.platform.Collab.FetchCredential(gctx)
		if err != nil {
			return err
		}
		cred = c
		return nil
	})
	g.Go(func() error {
		r, err := s.platform.Collab.FetchRelayServers(gctx)
		if err != nil {
			return err
		}
		relays = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.SessionCredential{}, nil, err
	}
	return cred, relays, nil
}

func (s *Session) checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested {
		return errStopRequested
	}
	return nil
}

// Stop tears the session down. From Idle it does nothing. While a start is in
// flight the stop is deferred until its current step settles.
func (s *Session) Stop() {
	s.mu.Lock()
	switch {
	case s.state == domain.StateIdle || s.state == domain.StateStopping:
		s.mu.Unlock()
		return
	case s.starting:
		s.stopRequested = true
		s.mu.Unlock()
		log.Info().Str("module", "session").Msg("stop deferred until start step settles")
		return
	}
	s.mu.Unlock()
	s.teardown("stop")
}

// teardown closes the channel and the transport, stops every track and clears
// all references, then returns to Idle. It runs the same way from any state.
func (s *Session) teardown(reason string) {
	s.mu.Lock()
	if s.state == domain.StateIdle || s.state == domain.StateStopping {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = domain.StateStopping
	s.gen++
	sid := s.cred.SessionID
	cancel, ch, pc, mgr, done := s.cancel, s.channel, s.pc, s.media, s.loopDone
	s.cred = domain.SessionCredential{}
	s.ctx, s.cancel = nil, nil
	s.pc, s.channel, s.media, s.dispatcher, s.loopDone = nil, nil, nil, nil, nil
	s.mu.Unlock()
	s.notify(from, domain.StateStopping)

	logger := log.With().Str("module", "session").Str("sid", sid).Str("reason", reason).Logger()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Warn().Err(err).Msg("control channel close")
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			logger.Warn().Err(err).Msg("peer connection close")
		}
	}
	if mgr != nil {
		mgr.Release()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.state = domain.StateIdle
	s.stopRequested = false
	s.updateSent = false
	s.mu.Unlock()
	s.notify(domain.StateStopping, domain.StateIdle)
	logger.Info().Msg("session stopped")
}

// promote moves a negotiated session to Active. Only the first trigger counts.
func (s *Session) promote(gen uint64, trigger string) {
	s.mu.Lock()
	if gen != s.gen || s.state != domain.StateNegotiating || s.stopRequested {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateActive
	sid := s.cred.SessionID
	s.mu.Unlock()
	s.notify(domain.StateNegotiating, domain.StateActive)
	log.Info().Str("module", "session").Str("sid", sid).Str("trigger", trigger).Msg("session active")
}

func (s *Session) onPeerState(gen uint64, st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.promote(gen, "transport connected")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.endIfLive(gen, "transport "+st.String())
	}
}

// endIfLive tears down a settled session whose transport or channel went away.
// Runs asynchronously so it never blocks a transport callback or the control loop.
// While a start is in flight it is turned into a deferred stop instead.
func (s *Session) endIfLive(gen uint64, reason string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.starting {
		s.stopRequested = true
		s.mu.Unlock()
		return
	}
	live := s.state == domain.StateActive || s.state == domain.StateNegotiating
	s.mu.Unlock()
	if live {
		log.Info().Str("module", "session").Str("reason", reason).Msg("session ended by remote side")
		go s.teardown(reason)
	}
}

func (s *Session) onRemoteAudio(gen uint64, ra core.RemoteAudio) {
	s.mu.Lock()
	if gen != s.gen || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx, sid := s.ctx, s.cred.SessionID
	s.mu.Unlock()

	if s.platform.Media == nil {
		return
	}
	sink, err := s.platform.Media.OpenSpeaker()
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("sid", sid).Msg("speaker unavailable, remote audio dropped")
		return
	}
	if sink == nil {
		return
	}
	go media.Play(ctx, sid, ra, sink)
}

func (s *Session) transition(to domain.State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.notify(from, to)
}

func (s *Session) notify(from, to domain.State) {
	log.Debug().Str("module", "session").Str("from", from.String()).Str("to", to.String()).Msg("state")
	if s.observer != nil {
		s.observer.OnStateChange(from, to)
	}
}

// Mute swaps the microphone for silence without renegotiating.
func (s *Session) Mute(ctx context.Context) error {
	mgr, err := s.liveMedia()
	if err != nil {
		return err
	}
	return mgr.Mute(ctx)
}

// Unmute captures the microphone again onto the same sender.
func (s *Session) Unmute(ctx context.Context) error {
	mgr, err := s.liveMedia()
	if err != nil {
		return err
	}
	return mgr.Unmute(ctx)
}

func (s *Session) liveMedia() (*media.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media == nil || (s.state != domain.StateActive && s.state != domain.StateNegotiating) {
		return nil, domain.ErrSessionInactive
	}
	return s.media, nil
}

func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	mgr := s.media
	s.mu.Unlock()
	return mgr != nil && mgr.Muted()
}

// PendingToolCalls maps in-flight call ids to tool names.
func (s *Session) PendingToolCalls() map[string]string {
	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()
	if d == nil {
		return map[string]string{}
	}
	return d.Pending()
}

// Snapshot is a read-only view for APIs.
type Snapshot struct {
	State     domain.State      `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
	Muted     bool              `json:"muted"`
	Pending   map[string]string `json:"pending_tool_calls"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{State: s.state, SessionID: s.cred.SessionID}
	s.mu.Unlock()
	snap.Muted = s.Muted()
	snap.Pending = s.PendingToolCalls()
	return snap
}
