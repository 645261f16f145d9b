// Package signaling runs the single offer/answer round of a session against
// the remote negotiation endpoint.
package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Exchange struct {
	negotiator core.Negotiator
	sid        string
}

func NewExchange(n core.Negotiator, sid string) *Exchange {
	return &Exchange{negotiator: n, sid: sid}
}

// Negotiate creates and guards the offer, posts it with the session's bearer token
// and applies the answer. Local audio must already be attached to pc.
func (e *Exchange) Negotiate(ctx context.Context, pc core.PeerConnection, cred domain.SessionCredential) error {
	logger := log.With().Str("module", "signaling").Str("sid", e.sid).Logger()

	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := core.RequireAudio(offer.SDP); err != nil {
		logger.Error().Err(err).Msg("offer rejected before sending")
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	sdp := offer.SDP
	if local := pc.LocalDescription(); local != nil && local.SDP != "" {
		sdp = local.SDP
	}

	logger.Info().Msg("sending offer")
	answer, err := e.negotiator.Exchange(ctx, sdp, cred.Token)
	if err != nil {
		if !errors.Is(err, domain.ErrNegotiationFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
		}
		return err
	}
	logger.Info().Msg("received answer")

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("%w: set remote description: %v", domain.ErrNegotiationFailed, err)
	}
	return nil
}
