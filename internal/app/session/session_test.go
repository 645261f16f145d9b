package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/core/coretest"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type transition struct{ from, to domain.State }

type observer struct {
	mu     sync.Mutex
	states []transition
	events [][]byte
	calls  []domain.ToolInvocation

	// hook runs after each recorded transition, outside the lock.
	hook func(from, to domain.State)
}

func (o *observer) OnStateChange(from, to domain.State) {
	o.mu.Lock()
	o.states = append(o.states, transition{from, to})
	hook := o.hook
	o.mu.Unlock()
	if hook != nil {
		hook(from, to)
	}
}

func (o *observer) OnServerEvent(raw []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, raw)
}

func (o *observer) OnToolCall(inv domain.ToolInvocation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, inv)
}

func (o *observer) path() []domain.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := []domain.State{}
	for _, tr := range o.states {
		out = append(out, tr.to)
	}
	return out
}

func (o *observer) toolCalls() []domain.ToolInvocation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ToolInvocation(nil), o.calls...)
}

type harness struct {
	sess   *Session
	dev    *coretest.Devices
	collab *coretest.Collab
	neg    *coretest.Negotiator
	obs    *observer

	mu    sync.Mutex
	peers []*coretest.Peer
}

func newHarness() *harness {
	h := &harness{
		dev: &coretest.Devices{},
		collab: &coretest.Collab{
			Cred:     domain.SessionCredential{Token: "ek_1", SessionID: "sess_1"},
			Relays:   domain.RelayConfig{{URLs: domain.RelayURLs{"stun:relay.example:80"}}},
			Position: domain.Position{Latitude: 1, Longitude: 2},
		},
		neg: &coretest.Negotiator{},
		obs: &observer{},
	}
	platform := core.Platform{
		Media:      h.dev,
		Collab:     h.collab,
		Negotiator: h.neg,
		NewPeer: func(relays domain.RelayConfig) (core.PeerConnection, error) {
			p := coretest.NewPeer()
			p.Relays = relays
			h.mu.Lock()
			h.peers = append(h.peers, p)
			h.mu.Unlock()
			return p, nil
		},
	}
	h.sess = New(platform, Options{Observer: h.obs})
	return h
}

func (h *harness) peer(t *testing.T) *coretest.Peer {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.peers)
	return h.peers[len(h.peers)-1]
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *harness) activate(t *testing.T) *coretest.Channel {
	t.Helper()
	require.NoError(t, h.sess.Start(context.Background()))
	require.Equal(t, domain.StateNegotiating, h.sess.State())
	ch := h.peer(t).Channel
	require.NotNil(t, ch)
	ch.Open()
	require.Eventually(t, func() bool { return h.sess.State() == domain.StateActive }, waitFor, 5*time.Millisecond)
	return ch
}

func sentTypes(t *testing.T, ch *coretest.Channel) []string {
	t.Helper()
	var out []string
	for _, raw := range ch.Sent() {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env.Type)
	}
	return out
}

func TestStartStopCycleLeavesNothingRunning(t *testing.T) {
	h := newHarness()
	ch := h.activate(t)
	pc := h.peer(t)

	assert.Equal(t, h.collab.Relays, pc.Relays)
	assert.Equal(t, []string{"ek_1"}, h.neg.Tokens)
	assert.Equal(t, "oai-events", ch.Label())
	assert.Equal(t, 1, h.dev.Live())

	h.sess.Stop()

	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.Zero(t, h.dev.Live())
	assert.True(t, pc.Closed())
	assert.True(t, ch.Closed())
	assert.False(t, h.sess.Muted())
	assert.Empty(t, h.sess.PendingToolCalls())
	assert.Equal(t, []domain.State{
		domain.StateStarting, domain.StateNegotiating, domain.StateActive,
		domain.StateStopping, domain.StateIdle,
	}, h.obs.path())
	assert.Empty(t, h.sess.Snapshot().SessionID)
}

func TestRestartAfterStopUsesFreshTransport(t *testing.T) {
	h := newHarness()
	h.activate(t)
	h.sess.Stop()
	h.activate(t)

	assert.Equal(t, 2, h.peerCount())
	assert.Equal(t, 2, h.neg.Calls())
	assert.Equal(t, 1, h.dev.Live())
	h.sess.Stop()
	assert.Zero(t, h.dev.Live())
}

func TestSessionUpdateSentOnceOnOpen(t *testing.T) {
	h := newHarness()
	ch := h.activate(t)
	ch.Open()
	ch.Deliver(`{"type":"session.updated"}`)

	require.Eventually(t, func() bool {
		h.obs.mu.Lock()
		defer h.obs.mu.Unlock()
		return len(h.obs.events) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []string{"session.update"}, sentTypes(t, ch))

	var update struct {
		Session struct {
			Tools        []map[string]any `json:"tools"`
			Instructions string           `json:"instructions"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(ch.Sent()[0], &update))
	assert.Len(t, update.Session.Tools, 6)
	assert.NotEmpty(t, update.Session.Instructions)
	h.sess.Stop()
}

func TestToolCallAnsweredOverControlChannel(t *testing.T) {
	h := newHarness()
	ch := h.activate(t)

	ch.Deliver(`{"type":"response.done","response":{"id":"r1","status":"completed","output":[
		{"type":"function_call","name":"get_iss_position","arguments":"{}","call_id":"call_iss"}]}}`)

	require.Eventually(t, func() bool { return len(ch.Sent()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"session.update", "conversation.item.create", "response.create"}, sentTypes(t, ch))

	var item struct {
		Item struct {
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}
	require.NoError(t, json.Unmarshal(ch.Sent()[1], &item))
	assert.Equal(t, "call_iss", item.Item.CallID)
	assert.JSONEq(t, `{"response":"Tool call get_iss_position executed successfully.","issPosition":{"latitude":1,"longitude":2}}`, item.Item.Output)

	calls := h.obs.toolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_iss_position", calls[0].Name)
	h.sess.Stop()
}

func TestNonResponseEventsAreIgnored(t *testing.T) {
	h := newHarness()
	ch := h.activate(t)

	ch.Deliver(`{"type":"response.audio_transcript.delta","delta":"hi"}`)
	ch.Deliver(`not json`)
	ch.Deliver(`{"type":"response.done","response":{"output":[{"type":"message"}]}}`)

	require.Eventually(t, func() bool {
		h.obs.mu.Lock()
		defer h.obs.mu.Unlock()
		return len(h.obs.events) == 3
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"session.update"}, sentTypes(t, ch))
	assert.Equal(t, domain.StateActive, h.sess.State())
	h.sess.Stop()
}

func TestStartIsReentrant(t *testing.T) {
	h := newHarness()
	h.collab.Gate = make(chan struct{})
	h.collab.Entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.sess.Start(context.Background()) }()
	<-h.collab.Entered

	require.NoError(t, h.sess.Start(context.Background()))
	assert.Equal(t, domain.StateStarting, h.sess.State())
	assert.Equal(t, 1, h.collab.CredentialFetches())

	close(h.collab.Gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.collab.CredentialFetches())
	assert.Equal(t, 1, h.peerCount())
	assert.Equal(t, 1, h.neg.Calls())
	assert.Equal(t, domain.StateNegotiating, h.sess.State())
	h.sess.Stop()
	assert.Zero(t, h.dev.Live())
}

func TestStartWhileFailedStartUnwindsIsIgnored(t *testing.T) {
	h := newHarness()
	h.neg.Err = errors.New("HTTP 500")

	var (
		once  sync.Once
		inner error
	)
	h.obs.hook = func(_, to domain.State) {
		if to != domain.StateIdle {
			return
		}
		once.Do(func() { inner = h.sess.Start(context.Background()) })
	}

	err := h.sess.Start(context.Background())

	require.ErrorIs(t, err, domain.ErrNegotiationFailed)
	require.NoError(t, inner)
	assert.Equal(t, 1, h.collab.CredentialFetches())
	assert.Equal(t, 1, h.peerCount())
	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.Zero(t, h.dev.Live())

	h.obs.mu.Lock()
	h.obs.hook = nil
	h.obs.mu.Unlock()
	h.neg.Err = nil
	require.NoError(t, h.sess.Start(context.Background()))
	assert.Equal(t, 2, h.collab.CredentialFetches())
	h.sess.Stop()
}

func TestStopWhileSecondStartResolvesIsHonoured(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sess.Start(context.Background()))
	h.sess.Stop()
	require.Equal(t, domain.StateIdle, h.sess.State())

	h.collab.Gate = make(chan struct{})
	h.collab.Entered = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.sess.Start(context.Background()) }()
	<-h.collab.Entered

	h.sess.Stop()
	assert.Equal(t, domain.StateStarting, h.sess.State())
	close(h.collab.Gate)
	require.NoError(t, <-done)

	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.Equal(t, 1, h.peerCount())
	assert.Zero(t, h.dev.Live())
}

func TestStopDuringStartIsDeferred(t *testing.T) {
	h := newHarness()
	h.collab.Gate = make(chan struct{})
	h.collab.Entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.sess.Start(context.Background()) }()
	<-h.collab.Entered

	h.sess.Stop()
	assert.Equal(t, domain.StateStarting, h.sess.State())

	close(h.collab.Gate)
	require.NoError(t, <-done)

	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.Zero(t, h.peerCount(), "stop honoured before the transport was built")
	assert.Zero(t, h.dev.Live())
	assert.Zero(t, h.neg.Calls())
}

func TestNegotiationFailureCleansUp(t *testing.T) {
	h := newHarness()
	h.neg.Err = errors.New("HTTP 500")

	err := h.sess.Start(context.Background())

	require.ErrorIs(t, err, domain.ErrNegotiationFailed)
	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.Zero(t, h.dev.Live(), "microphone released")
	assert.True(t, h.peer(t).Closed())
	assert.True(t, h.peer(t).Channel.Closed())
	assert.Equal(t, []domain.State{
		domain.StateStarting, domain.StateNegotiating, domain.StateError,
		domain.StateStopping, domain.StateIdle,
	}, h.obs.path())
}

func TestResolverFailuresAbortStart(t *testing.T) {
	for name, mutate := range map[string]func(*coretest.Collab){
		"credential": func(c *coretest.Collab) { c.CredErr = domain.ErrCredentialUnavailable },
		"relays":     func(c *coretest.Collab) { c.RelayErr = domain.ErrRelayUnavailable },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			mutate(h.collab)

			err := h.sess.Start(context.Background())

			assert.Error(t, err)
			assert.Equal(t, domain.StateIdle, h.sess.State())
			assert.Zero(t, h.peerCount())
			assert.Zero(t, h.neg.Calls())
		})
	}
}

func TestPermissionDeniedReleasesTransport(t *testing.T) {
	h := newHarness()
	h.dev.AcquireErr = domain.ErrPermissionDenied

	err := h.sess.Start(context.Background())

	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.True(t, h.peer(t).Closed())
	assert.Zero(t, h.neg.Calls())
}

func TestStopWhenIdleDoesNothing(t *testing.T) {
	h := newHarness()
	h.sess.Stop()
	h.sess.Stop()
	assert.Equal(t, domain.StateIdle, h.sess.State())
	assert.Empty(t, h.obs.path())
}

func TestMuteRequiresLiveSession(t *testing.T) {
	h := newHarness()
	assert.ErrorIs(t, h.sess.Mute(context.Background()), domain.ErrSessionInactive)
	assert.ErrorIs(t, h.sess.Unmute(context.Background()), domain.ErrSessionInactive)
}

func TestMuteSwapsTracksWithoutRenegotiating(t *testing.T) {
	h := newHarness()
	h.activate(t)
	pc := h.peer(t)

	require.NoError(t, h.sess.Mute(context.Background()))
	assert.True(t, h.sess.Muted())
	require.NoError(t, h.sess.Unmute(context.Background()))
	assert.False(t, h.sess.Muted())

	assert.Equal(t, 1, pc.AddCalls)
	assert.Equal(t, 1, h.neg.Calls())
	assert.Len(t, pc.Sender.Replaced, 2)

	h.sess.Stop()
	assert.Zero(t, h.dev.Live())
}

func TestTransportFailureEndsActiveSession(t *testing.T) {
	h := newHarness()
	h.activate(t)
	pc := h.peer(t)

	pc.FireState(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, func() bool { return h.sess.State() == domain.StateIdle }, waitFor, 5*time.Millisecond)
	assert.True(t, pc.Closed())
	assert.Zero(t, h.dev.Live())
}

func TestConnectedTransportPromotes(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sess.Start(context.Background()))
	h.peer(t).FireState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, domain.StateActive, h.sess.State())
	h.sess.Stop()
}

func TestRemoteChannelCloseEndsSession(t *testing.T) {
	h := newHarness()
	ch := h.activate(t)

	ch.RemoteClose()

	require.Eventually(t, func() bool { return h.sess.State() == domain.StateIdle }, waitFor, 5*time.Millisecond)
	assert.Zero(t, h.dev.Live())
}

func TestStaleCallbacksAfterStopAreIgnored(t *testing.T) {
	h := newHarness()
	h.activate(t)
	old := h.peer(t)
	h.sess.Stop()
	h.activate(t)

	old.FireState(webrtc.PeerConnectionStateFailed)
	old.FireState(webrtc.PeerConnectionStateConnected)

	assert.Never(t, func() bool { return h.sess.State() != domain.StateActive }, 100*time.Millisecond, 10*time.Millisecond)
	h.sess.Stop()
}

func TestRemoteAudioIsPlayed(t *testing.T) {
	h := newHarness()
	sink := &coretest.Sink{}
	h.dev.Sink = sink
	h.activate(t)

	h.peer(t).FireRemoteAudio(&coretest.Remote{Packets: []*rtp.Packet{{Payload: []byte{1}}, {Payload: []byte{2}}}})

	require.Eventually(t, sink.Closed, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, sink.Count())
	h.sess.Stop()
}

func TestIncompletePlatformIsConfigError(t *testing.T) {
	s := New(core.Platform{}, Options{})
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
	assert.Equal(t, domain.StateIdle, s.State())
}
