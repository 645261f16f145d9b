// Package media owns the local audio tracks of a session and the single
// outbound audio sender they are attached to.
package media

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/rs/zerolog/log"
)

type TrackState int32

const (
	TrackStateReleased TrackState = iota
	TrackStateLive
	TrackStateMuted
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateMuted:
		return "muted"
	default:
		return "released"
	}
}

// Manager substitutes tracks on one sender instead of renegotiating.
type Manager struct {
	devices core.MediaDevices
	sid     string

	mu     sync.Mutex
	pc     core.PeerConnection
	sender core.AudioSender
	armed  core.LocalTrack
	held   []core.LocalTrack // every track not yet stopped, armed or not

	state atomic.Int32 // Zero by default (TrackStateReleased)
}

func NewManager(devices core.MediaDevices, sid string) *Manager {
	return &Manager{devices: devices, sid: sid}
}

// Bind sets the transport whose sender tracks are attached to.
func (m *Manager) Bind(pc core.PeerConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pc = pc
}

// AcquireMicrophone returns exactly one live capture track.
func (m *Manager) AcquireMicrophone(ctx context.Context) (core.LocalTrack, error) {
	if m.devices == nil {
		return nil, domain.ErrMediaUnavailable
	}
	tracks, err := m.devices.AcquireAudio(ctx)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		log.Error().Str("module", "media").Str("sid", m.sid).Msg("capture succeeded without an audio track")
		return nil, domain.ErrNoTrackProduced
	}
	for _, extra := range tracks[1:] {
		extra.Stop()
	}
	track := tracks[0]
	m.mu.Lock()
	m.held = append(m.held, track)
	m.mu.Unlock()
	log.Info().Str("module", "media").Str("sid", m.sid).Str("track_id", track.ID()).Msg("microphone acquired")
	return track, nil
}

// Attach puts track on the outbound sender, creating the sender on first use.
// The previously armed track is left running; callers decide whether to stop it.
func (m *Manager) Attach(track core.LocalTrack) error {
	_, err := m.swap(track)
	if err != nil {
		return err
	}
	m.state.Store(int32(TrackStateLive))
	return nil
}

func (m *Manager) swap(track core.LocalTrack) (core.LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return nil, domain.ErrSessionInactive
	}
	if !slices.Contains(m.held, track) {
		m.held = append(m.held, track)
	}
	if m.sender == nil {
		sender, err := m.pc.AddAudioTrack(track)
		if err != nil {
			return nil, err
		}
		m.sender = sender
	} else if err := m.sender.ReplaceTrack(track); err != nil {
		return nil, err
	}
	prev := m.armed
	m.armed = track
	log.Debug().Str("module", "media").Str("sid", m.sid).Str("track_id", track.ID()).Msg("track attached")
	return prev, nil
}

// Mute replaces the microphone with a synthesized silent track and stops the microphone.
// Media keeps flowing so the transport is never renegotiated.
func (m *Manager) Mute(ctx context.Context) error {
	if m.State() == TrackStateMuted {
		return nil
	}
	if m.devices == nil {
		return domain.ErrMediaUnavailable
	}
	silent, err := m.devices.NewSilentTrack()
	if err != nil {
		return err
	}
	prev, err := m.swap(silent)
	if err != nil {
		silent.Stop()
		m.forget(silent)
		return err
	}
	m.stop(prev)
	m.state.Store(int32(TrackStateMuted))
	log.Info().Str("module", "media").Str("sid", m.sid).Msg("microphone muted")
	return nil
}

// Unmute captures a fresh microphone track and substitutes it for the silent one.
func (m *Manager) Unmute(ctx context.Context) error {
	if m.State() == TrackStateLive {
		return nil
	}
	mic, err := m.AcquireMicrophone(ctx)
	if err != nil {
		return err
	}
	prev, err := m.swap(mic)
	if err != nil {
		m.stop(mic)
		return err
	}
	m.stop(prev)
	m.state.Store(int32(TrackStateLive))
	log.Info().Str("module", "media").Str("sid", m.sid).Msg("microphone unmuted")
	return nil
}

// Release stops every track still referenced and forgets the transport.
// Safe to call repeatedly.
func (m *Manager) Release() {
	m.mu.Lock()
	held := m.held
	m.held = nil
	m.armed = nil
	m.sender = nil
	m.pc = nil
	m.mu.Unlock()

	for _, t := range held {
		t.Stop()
	}
	m.state.Store(int32(TrackStateReleased))
	if len(held) > 0 {
		log.Info().Str("module", "media").Str("sid", m.sid).Int("tracks", len(held)).Msg("tracks released")
	}
}

func (m *Manager) stop(t core.LocalTrack) {
	if t == nil {
		return
	}
	t.Stop()
	m.forget(t)
}

func (m *Manager) forget(t core.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = slices.DeleteFunc(m.held, func(h core.LocalTrack) bool { return h == t })
	if m.armed == t {
		m.armed = nil
	}
}

func (m *Manager) State() TrackState { return TrackState(m.state.Load()) }

func (m *Manager) Muted() bool { return m.State() == TrackStateMuted }

// Sender is the outbound sender, nil until the first Attach.
func (m *Manager) Sender() core.AudioSender {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sender
}

// Armed is the track currently carried by the sender.
func (m *Manager) Armed() core.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Held counts tracks that have not been stopped yet.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
