package signal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAnswer = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"

func TestExchangePostsOfferWithBearer(t *testing.T) {
	var gotAuth, gotType, gotModel, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, testAnswer)
	}))
	defer srv.Close()

	n := NewHTTPNegotiator(srv.URL, "gpt-realtime", time.Second)
	answer, err := n.Exchange(context.Background(), "offer-sdp", "ek_123")
	require.NoError(t, err)

	assert.Equal(t, testAnswer, answer)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer ek_123", gotAuth)
	assert.Equal(t, "application/sdp", gotType)
	assert.Equal(t, "gpt-realtime", gotModel)
	assert.Equal(t, "offer-sdp", gotBody)
}

func TestExchangeServerErrorIsNegotiationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNegotiator(srv.URL, "gpt-realtime", time.Second)
	_, err := n.Exchange(context.Background(), "offer-sdp", "ek_123")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestExchangeEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewHTTPNegotiator(srv.URL, "m", time.Second).Exchange(context.Background(), "offer", "t")
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
}

func TestExchangeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPNegotiator(url, "m", time.Second).Exchange(context.Background(), "offer", "t")
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
}
