// Package broker is the small backend that keeps provider keys off the client:
// it mints session credentials, resolves relay servers and looks up the position.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/go-resty/resty/v2"
)

// UpstreamError carries a provider's non-2xx answer back to the caller.
type UpstreamError struct {
	Source string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("error from %s: %s", e.Source, e.Body)
}

type Upstream struct {
	cfg  *config.Config
	http *resty.Client
}

// NewUpstream uses hc for every provider call; nil means a default client.
func NewUpstream(cfg *config.Config, hc *http.Client) *Upstream {
	var c *resty.Client
	if hc != nil {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New()
	}
	return &Upstream{cfg: cfg, http: c.SetTimeout(cfg.RequestTimeout)}
}

// MintSession asks the realtime provider for an ephemeral session and returns its JSON as is.
func (u *Upstream) MintSession(ctx context.Context) (json.RawMessage, error) {
	if u.cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not found", domain.ErrConfigMissing)
	}
	resp, err := u.http.R().
		SetContext(ctx).
		SetAuthToken(u.cfg.OpenAIAPIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"model": u.cfg.Model, "voice": u.cfg.Voice}).
		Post(u.cfg.OpenAISessionsURL)
	if err != nil {
		return nil, fmt.Errorf("error making request to OpenAI: %w", err)
	}
	if resp.IsError() {
		return nil, &UpstreamError{Source: "OpenAI API", Status: resp.StatusCode(), Body: resp.String()}
	}
	return json.RawMessage(resp.Body()), nil
}

// TurnServers returns the relay provider's ICE server list as is.
func (u *Upstream) TurnServers(ctx context.Context) (json.RawMessage, error) {
	if u.cfg.TurnDomain == "" || u.cfg.TurnAPIKey == "" {
		return nil, fmt.Errorf("%w: TURN server configuration missing", domain.ErrConfigMissing)
	}
	resp, err := u.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", u.cfg.TurnAPIKey).
		Get(fmt.Sprintf("https://%s/api/v1/turn/credentials", u.cfg.TurnDomain))
	if err != nil {
		return nil, fmt.Errorf("error making request to TURN server: %w", err)
	}
	if resp.IsError() {
		return nil, &UpstreamError{Source: "TURN server", Status: resp.StatusCode(), Body: resp.String()}
	}
	return json.RawMessage(resp.Body()), nil
}

type positionResponse struct {
	Message     string         `json:"message"`
	ISSPosition map[string]any `json:"iss_position"`
}

// Position returns the provider's iss_position object.
func (u *Upstream) Position(ctx context.Context) (map[string]any, error) {
	if u.cfg.PositionURL == "" {
		return nil, fmt.Errorf("%w: position_url", domain.ErrConfigMissing)
	}
	var out positionResponse
	resp, err := u.http.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get(u.cfg.PositionURL)
	if err != nil {
		return nil, fmt.Errorf("fetch ISS position: %w", err)
	}
	if resp.IsError() {
		return nil, &UpstreamError{Source: "position service", Status: resp.StatusCode(), Body: "failed to fetch ISS position"}
	}
	if out.ISSPosition == nil {
		return nil, fmt.Errorf("fetch ISS position: no iss_position in response")
	}
	return out.ISSPosition, nil
}
