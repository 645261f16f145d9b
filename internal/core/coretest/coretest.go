// Package coretest provides in-memory implementations of the core interfaces
// for tests that must not touch audio hardware or the network.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	AudioOffer = "v=0\r\no=- 4215 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:111 opus/48000/2\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\nc=IN IP4 0.0.0.0\r\n"
	DataOnlyOffer = "v=0\r\no=- 4215 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\nc=IN IP4 0.0.0.0\r\n"
	Answer = "v=0\r\no=- 99 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:111 opus/48000/2\r\n"
)

var trackSeq atomic.Int64

// Track is a LocalTrack that only records being stopped.
type Track struct {
	*webrtc.TrackLocalStaticSample
	stops atomic.Int32
}

func NewTrack(prefix string) *Track {
	id := fmt.Sprintf("%s-%d", prefix, trackSeq.Add(1))
	t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "test")
	if err != nil {
		panic(err)
	}
	return &Track{TrackLocalStaticSample: t}
}

func (t *Track) Stop()         { t.stops.Add(1) }
func (t *Track) Stopped() bool { return t.stops.Load() > 0 }

// Devices hands out Tracks and keeps every one it produced.
type Devices struct {
	mu         sync.Mutex
	AcquireErr error
	// PerAcquire is how many tracks each AcquireAudio returns; default 1.
	PerAcquire int
	SilentErr  error
	Sink       core.AudioSink

	Mics    []*Track
	Silents []*Track
}

func (d *Devices) AcquireAudio(ctx context.Context) ([]core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	n := d.PerAcquire
	if n == 0 {
		n = 1
	}
	if n < 0 {
		return nil, nil
	}
	out := make([]core.LocalTrack, 0, n)
	for range n {
		t := NewTrack("mic")
		d.Mics = append(d.Mics, t)
		out = append(out, t)
	}
	return out, nil
}

func (d *Devices) NewSilentTrack() (core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SilentErr != nil {
		return nil, d.SilentErr
	}
	t := NewTrack("silence")
	d.Silents = append(d.Silents, t)
	return t, nil
}

func (d *Devices) OpenSpeaker() (core.AudioSink, error) { return d.Sink, nil }

// Live counts produced tracks that were never stopped.
func (d *Devices) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range append(append([]*Track{}, d.Mics...), d.Silents...) {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

type Sender struct {
	mu       sync.Mutex
	Replaced []core.LocalTrack
	Err      error
}

func (s *Sender) ReplaceTrack(t core.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Replaced = append(s.Replaced, t)
	return nil
}

// Channel is a ControlChannel driven by the test.
type Channel struct {
	label  string
	events chan core.ChannelEvent

	mu     sync.Mutex
	open   bool
	closed bool
	sent   [][]byte
}

func NewChannel(label string) *Channel {
	return &Channel{label: label, events: make(chan core.ChannelEvent, 64)}
}

func (c *Channel) Label() string                    { return c.label }
func (c *Channel) Events() <-chan core.ChannelEvent { return c.events }

func (c *Channel) Send(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return domain.ErrChannelUnavailable
	}
	c.sent = append(c.sent, append([]byte(nil), f...))
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.open = false
		close(c.events)
	}
	return nil
}

func (c *Channel) push(ev core.ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// Open simulates the remote side opening the channel.
func (c *Channel) Open() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.push(core.ChannelEvent{Kind: core.ChannelOpen})
}

// Deliver simulates one inbound message.
func (c *Channel) Deliver(raw string) {
	c.push(core.ChannelEvent{Kind: core.ChannelMessage, Data: core.Frame(raw)})
}

// RemoteClose simulates the remote side closing the channel.
func (c *Channel) RemoteClose() {
	c.push(core.ChannelEvent{Kind: core.ChannelClosed})
	_ = c.Close()
}

func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Peer is a PeerConnection that records every call.
type Peer struct {
	mu sync.Mutex

	Offer          string
	OfferErr       error
	RemoteErr      error
	Sender         *Sender
	AddCalls       int
	Channel        *Channel
	Local, Remote  *webrtc.SessionDescription
	Relays         domain.RelayConfig
	closed         bool
	onState        func(webrtc.PeerConnectionState)
	onRemoteAudio  func(core.RemoteAudio)
	ChannelCreated chan struct{}
}

func NewPeer() *Peer {
	return &Peer{Offer: AudioOffer, Sender: &Sender{}, ChannelCreated: make(chan struct{})}
}

var errClosed = errors.New("fake peer closed")

func (p *Peer) AddAudioTrack(t core.LocalTrack) (core.AudioSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errClosed
	}
	p.AddCalls++
	return p.Sender, nil
}

func (p *Peer) CreateControlChannel(label string) (core.ControlChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errClosed
	}
	p.Channel = NewChannel(label)
	close(p.ChannelCreated)
	return p.Channel, nil
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OfferErr != nil {
		return webrtc.SessionDescription{}, p.OfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.Offer}, nil
}

func (p *Peer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Local = &d
	return nil
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Local
}

func (p *Peer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	p.Remote = &d
	return nil
}

func (p *Peer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *Peer) OnRemoteAudio(fn func(core.RemoteAudio)) {
	p.mu.Lock()
	p.onRemoteAudio = fn
	p.mu.Unlock()
}

// FireState invokes the registered state callback like a transport would.
func (p *Peer) FireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// FireRemoteAudio invokes the registered remote audio callback.
func (p *Peer) FireRemoteAudio(ra core.RemoteAudio) {
	p.mu.Lock()
	fn := p.onRemoteAudio
	p.mu.Unlock()
	if fn != nil {
		fn(ra)
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Collab serves fixed collaborator answers.
type Collab struct {
	Cred        domain.SessionCredential
	CredErr     error
	Relays      domain.RelayConfig
	RelayErr    error
	Position    domain.Position
	PositionErr error

	// Gate, when set, blocks FetchCredential until it is closed.
	Gate chan struct{}
	// Entered is closed once FetchCredential starts waiting on Gate.
	Entered chan struct{}

	credCalls atomic.Int32
	entered   sync.Once
}

func (c *Collab) FetchCredential(ctx context.Context) (domain.SessionCredential, error) {
	c.credCalls.Add(1)
	if c.Gate != nil {
		if c.Entered != nil {
			c.entered.Do(func() { close(c.Entered) })
		}
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return domain.SessionCredential{}, ctx.Err()
		}
	}
	return c.Cred, c.CredErr
}

// CredentialFetches counts FetchCredential calls.
func (c *Collab) CredentialFetches() int { return int(c.credCalls.Load()) }

func (c *Collab) FetchRelayServers(context.Context) (domain.RelayConfig, error) {
	return c.Relays, c.RelayErr
}

func (c *Collab) FetchPosition(context.Context) (domain.Position, error) {
	return c.Position, c.PositionErr
}

// Negotiator answers every offer with Answer unless Err is set.
type Negotiator struct {
	mu     sync.Mutex
	Err    error
	Offers []string
	Tokens []string
}

func (n *Negotiator) Exchange(ctx context.Context, offerSDP, token string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Offers = append(n.Offers, offerSDP)
	n.Tokens = append(n.Tokens, token)
	if n.Err != nil {
		return "", n.Err
	}
	return Answer, nil
}

func (n *Negotiator) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Offers)
}

// Remote is RemoteAudio replaying a fixed packet list, then ErrRemoteEnded.
type Remote struct {
	mu      sync.Mutex
	Packets []*rtp.Packet
}

var ErrRemoteEnded = errors.New("remote track ended")

func (r *Remote) ID() string { return "remote-audio" }

func (r *Remote) ReadPacket() (*rtp.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Packets) == 0 {
		return nil, ErrRemoteEnded
	}
	p := r.Packets[0]
	r.Packets = r.Packets[1:]
	return p, nil
}

// Sink collects written packets.
type Sink struct {
	mu      sync.Mutex
	Written []*rtp.Packet
	closed  bool
}

func (s *Sink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Written = append(s.Written, p)
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Written)
}
