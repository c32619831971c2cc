// Package webrtc carries data channels over a pion/webrtc PeerConnection,
// one RTCDataChannel per channel.
package webrtc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/progrium/dchan-go/transport"
)

// ErrFailed is the reason reported when the peer connection fails.
var ErrFailed = errors.New("webrtc: peer connection failed")

// NewAPI returns a webrtc API that logs through lf.
func NewAPI(lf logging.LoggerFactory) *webrtc.API {
	s := webrtc.SettingEngine{}
	if lf != nil {
		s.LoggerFactory = lf
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(s))
}

// Offer creates a peer connection and an offer for it, waiting for ICE
// gathering so the offer carries every candidate.
func Offer(api *webrtc.API, cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	peer, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	// An offer needs at least one data channel to negotiate SCTP. A
	// negotiated channel is never announced to the remote peer.
	negotiated := true
	var id uint16
	if _, err := peer.CreateDataChannel("", &webrtc.DataChannelInit{Negotiated: &negotiated, ID: &id}); err != nil {
		peer.Close()
		return nil, err
	}
	offer, err := peer.CreateOffer(nil)
	if err != nil {
		peer.Close()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(offer); err != nil {
		peer.Close()
		return nil, err
	}
	<-gathered
	return peer, nil
}

// Answer creates a peer connection answering offer.
func Answer(api *webrtc.API, cfg webrtc.Configuration, offer webrtc.SessionDescription) (*webrtc.PeerConnection, error) {
	peer, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	if err := peer.SetRemoteDescription(offer); err != nil {
		peer.Close()
		return nil, err
	}
	answer, err := peer.CreateAnswer(nil)
	if err != nil {
		peer.Close()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(answer); err != nil {
		peer.Close()
		return nil, err
	}
	<-gathered
	return peer, nil
}

// EncodeSDP returns desc as base64 encoded JSON, convenient for copying
// between terminals.
func EncodeSDP(desc *webrtc.SessionDescription) (string, error) {
	b, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// DecodeSDP reverses EncodeSDP. Whitespace is ignored.
func DecodeSDP(s string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	b, err := base64.URLEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return desc, err
	}
	err = json.Unmarshal(b, &desc)
	return desc, err
}

// Conn is a transport.Conn over a PeerConnection. It takes over the
// peer connection's OnDataChannel and OnConnectionStateChange handlers.
type Conn struct {
	peer *webrtc.PeerConnection
	ann  transport.Announcer

	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once
}

var _ transport.Conn = (*Conn)(nil)

// New returns a transport.Conn over peer.
func New(peer *webrtc.PeerConnection) *Conn {
	c := &Conn{
		peer: peer,
		done: make(chan struct{}),
	}
	peer.OnDataChannel(func(d *webrtc.DataChannel) {
		c.ann.Announce(newHandle(d))
	})
	peer.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.finish(ErrFailed)
		case webrtc.PeerConnectionStateClosed:
			c.finish(nil)
		}
	})
	return c
}

func (c *Conn) CreateChannel(ctx context.Context, label string, opts transport.ChannelOptions) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	d, err := c.peer.CreateDataChannel(label, dataChannelInit(opts))
	if err != nil {
		return nil, err
	}
	return newHandle(d), nil
}

func dataChannelInit(opts transport.ChannelOptions) *webrtc.DataChannelInit {
	if opts == (transport.ChannelOptions{}) {
		return nil
	}
	ordered := !opts.Unordered
	dci := &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: opts.MaxRetransmits,
	}
	if opts.MaxPacketLifeTime != nil {
		ms := uint16(opts.MaxPacketLifeTime.Milliseconds())
		dci.MaxPacketLifeTime = &ms
	}
	if opts.Protocol != "" {
		dci.Protocol = &opts.Protocol
	}
	return dci
}

func (c *Conn) OnChannel(fn func(transport.Handle)) {
	c.ann.Set(fn)
}

func (c *Conn) Close() error {
	err := c.peer.Close()
	c.finish(nil)
	return err
}

func (c *Conn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// handle adapts an RTCDataChannel. Its pion callbacks are installed once
// and forwarded to whatever is bound.
type handle struct {
	transport.Emitter
	d *webrtc.DataChannel
}

var (
	_ transport.Handle                 = (*handle)(nil)
	_ transport.BufferedAmountNotifier = (*handle)(nil)
)

func (h *handle) Options() transport.ChannelOptions {
	opts := transport.ChannelOptions{
		Unordered:      !h.d.Ordered(),
		MaxRetransmits: h.d.MaxRetransmits(),
		Protocol:       h.d.Protocol(),
	}
	if ms := h.d.MaxPacketLifeTime(); ms != nil {
		d := time.Duration(*ms) * time.Millisecond
		opts.MaxPacketLifeTime = &d
	}
	return opts
}

func newHandle(d *webrtc.DataChannel) *handle {
	h := &handle{d: d}
	d.OnOpen(h.EmitOpen)
	d.OnMessage(func(msg webrtc.DataChannelMessage) {
		h.EmitMessage(transport.Message{Data: msg.Data, IsString: msg.IsString})
	})
	d.OnClose(h.EmitClose)
	d.OnError(h.EmitError)
	return h
}

func (h *handle) Label() string {
	return h.d.Label()
}

func (h *handle) ReadyState() transport.ReadyState {
	return readyState(h.d.ReadyState())
}

func readyState(s webrtc.DataChannelState) transport.ReadyState {
	switch s {
	case webrtc.DataChannelStateOpen:
		return transport.Open
	case webrtc.DataChannelStateClosing:
		return transport.Closing
	case webrtc.DataChannelStateClosed:
		return transport.Closed
	default:
		return transport.Connecting
	}
}

func (h *handle) BufferedAmount() uint64 {
	return h.d.BufferedAmount()
}

func (h *handle) SetBufferedAmountLowThreshold(threshold uint64) {
	h.d.SetBufferedAmountLowThreshold(threshold)
}

func (h *handle) OnBufferedAmountLow(fn func()) {
	h.d.OnBufferedAmountLow(fn)
}

func (h *handle) Send(msg transport.Message) error {
	if msg.IsString {
		return h.d.SendText(string(msg.Data))
	}
	return h.d.Send(msg.Data)
}

func (h *handle) Close() error {
	return h.d.Close()
}
