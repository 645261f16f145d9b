// Package domain contains entity without logic, just meta-data
package domain

import (
	"encoding/json"
	"errors"
)

var ErrBadRelayURLs = errors.New("relay urls must be a string or a list of strings")

// SessionCredential is the one-shot bearer token for a single negotiation.
// Never persisted; dropped on stop.
type SessionCredential struct {
	Token     string
	SessionID string
}

// RelayServer is one ICE server entry as returned by the relay resolver.
type RelayServer struct {
	URLs       RelayURLs `json:"urls"`
	Username   string    `json:"username,omitempty"`
	Credential string    `json:"credential,omitempty"`
}

// RelayConfig is the ordered relay list handed verbatim to the transport.
type RelayConfig []RelayServer

// RelayURLs accepts both `"urls": "turn:..."` and `"urls": ["turn:..."]`.
type RelayURLs []string

func (u *RelayURLs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = RelayURLs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return ErrBadRelayURLs
	}
	*u = RelayURLs(many)
	return nil
}

// Position is a latitude/longitude pair from the position lookup.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
