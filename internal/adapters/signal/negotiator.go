package signal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/rs/zerolog/log"
)

// HTTPNegotiator posts an SDP offer to the realtime endpoint and reads back the answer.
type HTTPNegotiator struct {
	url    string
	model  string
	client *http.Client
}

func NewHTTPNegotiator(url, model string, timeout time.Duration) *HTTPNegotiator {
	return &HTTPNegotiator{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNegotiator) Exchange(ctx context.Context, offerSDP, token string) (string, error) {
	var answer, upstream string
	err := requests.URL(n.url).
		Client(n.client).
		Param("model", n.model).
		Bearer(token).
		ContentType("application/sdp").
		BodyBytes([]byte(offerSDP)).
		AddValidator(requests.ValidatorHandler(requests.DefaultValidator, requests.ToString(&upstream))).
		ToString(&answer).
		Fetch(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("upstream", upstream).Msg("negotiation request failed")
		if upstream != "" {
			return "", fmt.Errorf("%w: %v: %s", domain.ErrNegotiationFailed, err, strings.TrimSpace(upstream))
		}
		return "", fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty answer", domain.ErrNegotiationFailed)
	}
	return answer, nil
}
