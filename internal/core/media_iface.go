package core

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is an outbound audio track (live microphone or synthetic silence).
// Stop releases whatever capture source feeds it and must be safe to call twice.
type LocalTrack interface {
	webrtc.TrackLocal
	Stop()
}

// AudioSender is the single outbound audio path of a peer connection.
// Substituting the track never changes the sender itself.
type AudioSender interface {
	ReplaceTrack(LocalTrack) error
}

// RemoteAudio is the audio track received from the remote peer.
type RemoteAudio interface {
	ID() string
	ReadPacket() (*rtp.Packet, error)
}

// AudioSink plays remote audio on the local device.
type AudioSink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}
