package core

import (
	"context"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

// MediaDevices is the platform's audio hardware.
type MediaDevices interface {
	// AcquireAudio asks for microphone capture. Fails with domain.ErrMediaUnavailable
	// when there is no capture API and domain.ErrPermissionDenied when refused.
	AcquireAudio(ctx context.Context) ([]LocalTrack, error)
	// NewSilentTrack synthesizes a zero-amplitude audio track.
	NewSilentTrack() (LocalTrack, error)
	// OpenSpeaker returns a sink for remote audio, or nil when playback is not wanted.
	OpenSpeaker() (AudioSink, error)
}

// Collaborators are the thin external endpoints around a session.
type Collaborators interface {
	FetchCredential(ctx context.Context) (domain.SessionCredential, error)
	FetchRelayServers(ctx context.Context) (domain.RelayConfig, error)
	FetchPosition(ctx context.Context) (domain.Position, error)
}

// Negotiator posts the local offer to the remote negotiation endpoint and returns the answer SDP.
type Negotiator interface {
	Exchange(ctx context.Context, offerSDP, token string) (string, error)
}

// Platform bundles every capability a session needs from the outside world,
// so tests can swap media and network for fakes.
type Platform struct {
	Media      MediaDevices
	Collab     Collaborators
	Negotiator Negotiator
	NewPeer    PeerFactory
}
