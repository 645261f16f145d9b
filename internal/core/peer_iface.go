package core

import (
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the transport owned by exactly one session.
// After Close it refuses further use.
type PeerConnection interface {
	// AddAudioTrack creates the outbound audio sender. Called once per connection.
	AddAudioTrack(LocalTrack) (AudioSender, error)
	// CreateControlChannel opens the auxiliary JSON channel. Must precede CreateOffer.
	CreateControlChannel(label string) (ControlChannel, error)
	// CreateOffer requests audio reception and fails with domain.ErrMissingAudioSection
	// when the produced description has no audio media section.
	CreateOffer() (webrtc.SessionDescription, error)
	// SetLocalDescription returns once candidate gathering has settled.
	SetLocalDescription(webrtc.SessionDescription) error
	// LocalDescription is the applied local description including gathered candidates, or nil.
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(webrtc.SessionDescription) error
	// OnStateChange reports connectivity for observability and failure detection.
	OnStateChange(func(webrtc.PeerConnectionState))
	// OnRemoteAudio fires when the remote peer's audio track arrives.
	OnRemoteAudio(func(RemoteAudio))
	Close() error
}

// PeerFactory builds a fresh transport for one session from the resolved relay list.
type PeerFactory func(relays domain.RelayConfig) (PeerConnection, error)
