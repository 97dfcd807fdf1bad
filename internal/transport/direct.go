package transport

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"packshare/internal/config"
	"packshare/internal/protocol"
	"packshare/internal/signalling"
)

const (
	RoleSharer   = "sharer"
	RoleReceiver = "receiver"
)

// Link is a protocol transport whose establishment can be awaited
type Link interface {
	protocol.Transport
	WaitForConnection(ctx context.Context, timeout time.Duration) error
}

// OfferLink is the sharer side of a direct link, pending the receiver's answer
type OfferLink interface {
	Link
	AcceptAnswer(answer string) error
}

// DirectLink is a peer connection carrying the protocol over one data channel
type DirectLink struct {
	*Channel
	peerConn  *webrtc.PeerConnection
	watcher   *ConnectionWatcher
	signaling *signalling.SignalingService
}

// WaitForConnection resolves on the first Connected or Failed state, or on timeout
func (l *DirectLink) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	return l.watcher.Wait(ctx, timeout)
}

// Watcher exposes the connection outcome signal
func (l *DirectLink) Watcher() *ConnectionWatcher {
	return l.watcher
}

// AcceptAnswer applies the receiver's encoded answer
func (l *DirectLink) AcceptAnswer(answer string) error {
	return l.signaling.AcceptAnswer(l.peerConn, answer)
}

// Close shuts the data channel and the peer connection
func (l *DirectLink) Close() error {
	_ = l.Channel.Close()
	if err := l.peerConn.Close(); err != nil {
		logrus.Warnf("Error closing peer connection: %v", err)
		return err
	}
	return nil
}

// DirectDialer negotiates direct links over STUN-only peer connections
type DirectDialer struct {
	config    *config.Config
	peers     *PeerService
	signaling *signalling.SignalingService
}

func NewDirectDialer(cfg *config.Config) *DirectDialer {
	return &DirectDialer{
		config:    cfg,
		peers:     NewPeerService(cfg),
		signaling: signalling.NewDefaultSignalingService(cfg),
	}
}

func (d *DirectDialer) newLink(role string) (*DirectLink, error) {
	pc, err := d.peers.CreatePeerConnection()
	if err != nil {
		return nil, err
	}

	link := &DirectLink{
		Channel:   NewChannel(d.config, role),
		peerConn:  pc,
		watcher:   NewConnectionWatcher(role),
		signaling: d.signaling,
	}
	d.peers.SetupConnectionStateHandler(pc, link.watcher, link.Channel.shutdown)
	return link, nil
}

// Offer opens a sharer link and returns it with the encoded offer
func (d *DirectDialer) Offer(ctx context.Context) (OfferLink, string, error) {
	link, err := d.newLink(RoleSharer)
	if err != nil {
		return nil, "", err
	}

	offer, dc, err := d.signaling.CreateOffer(ctx, link.peerConn)
	if err != nil {
		_ = link.peerConn.Close()
		return nil, "", err
	}
	link.Attach(dc)

	return link, offer, nil
}

// Answer validates the encoded offer, opens a receiver link and returns it with the encoded answer
func (d *DirectDialer) Answer(ctx context.Context, offer string) (Link, string, error) {
	if _, err := signalling.DecodeSignal(offer, signalling.SDPTypeOffer); err != nil {
		return nil, "", err
	}

	link, err := d.newLink(RoleReceiver)
	if err != nil {
		return nil, "", err
	}
	link.SetupReceiverDataChannel(link.peerConn)

	answer, err := d.signaling.CreateAnswer(ctx, link.peerConn, offer)
	if err != nil {
		_ = link.peerConn.Close()
		return nil, "", err
	}

	return link, answer, nil
}
