// Package collab talks to the broker that mints credentials, resolves relays
// and looks up the tracked position.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

type sessionResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (c *Client) FetchCredential(ctx context.Context) (domain.SessionCredential, error) {
	var out sessionResponse
	resp, err := c.http.R().SetContext(ctx).ForceContentType("application/json").SetResult(&out).Get("/session")
	if err != nil {
		return domain.SessionCredential{}, fmt.Errorf("%w: %v", domain.ErrCredentialUnavailable, err)
	}
	if resp.IsError() {
		log.Error().Str("module", "collab").Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("credential request rejected")
		return domain.SessionCredential{}, fmt.Errorf("%w: status %d", domain.ErrCredentialUnavailable, resp.StatusCode())
	}
	if out.ClientSecret.Value == "" {
		return domain.SessionCredential{}, fmt.Errorf("%w: empty token", domain.ErrCredentialUnavailable)
	}
	log.Info().Str("module", "collab").Str("sid", out.ID).Msg("credential minted")
	return domain.SessionCredential{Token: out.ClientSecret.Value, SessionID: out.ID}, nil
}

// FetchRelayServers returns the relay list in broker order. A body that is not
// a JSON array, whatever its declared content type, is ErrRelayUnavailable.
func (c *Client) FetchRelayServers(ctx context.Context) (domain.RelayConfig, error) {
	var out domain.RelayConfig
	resp, err := c.http.R().SetContext(ctx).ForceContentType("application/json").SetResult(&out).Get("/turn")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}
	if resp.IsError() {
		log.Error().Str("module", "collab").Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("relay request rejected")
		return nil, fmt.Errorf("%w: status %d", domain.ErrRelayUnavailable, resp.StatusCode())
	}
	if out == nil {
		return nil, fmt.Errorf("%w: no relay list in response", domain.ErrRelayUnavailable)
	}
	return out, nil
}

// FetchPosition accepts coordinates as JSON numbers or numeric strings.
func (c *Client) FetchPosition(ctx context.Context) (domain.Position, error) {
	var out map[string]any
	resp, err := c.http.R().SetContext(ctx).ForceContentType("application/json").SetResult(&out).Get("/iss")
	if err != nil {
		return domain.Position{}, err
	}
	if resp.IsError() {
		return domain.Position{}, fmt.Errorf("position lookup: status %d", resp.StatusCode())
	}
	return ParsePosition(out)
}

func ParsePosition(m map[string]any) (domain.Position, error) {
	if m["latitude"] == nil || m["longitude"] == nil {
		return domain.Position{}, errors.New("position lookup: coordinates missing")
	}
	lat, err := cast.ToFloat64E(m["latitude"])
	if err != nil {
		return domain.Position{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := cast.ToFloat64E(m["longitude"])
	if err != nil {
		return domain.Position{}, fmt.Errorf("longitude: %w", err)
	}
	return domain.Position{Latitude: lat, Longitude: lon}, nil
}
