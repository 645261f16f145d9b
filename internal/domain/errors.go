package domain

import "errors"

var (
	ErrConfigMissing = errors.New("required configuration missing")

	ErrMediaUnavailable = errors.New("media capture unavailable")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoTrackProduced  = errors.New("media capture produced no audio track")

	ErrCredentialUnavailable = errors.New("session credential unavailable")
	ErrRelayUnavailable      = errors.New("relay servers unavailable")

	ErrMissingAudioSection = errors.New("offer has no audio section")
	ErrNegotiationFailed   = errors.New("negotiation failed")
	ErrPeerClosed          = errors.New("peer connection closed")

	ErrChannelUnavailable = errors.New("control channel unavailable")
	ErrSessionInactive    = errors.New("no active session")
)
