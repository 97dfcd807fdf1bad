// Package signalling builds and consumes the offer/answer descriptors used to
// negotiate a direct connection, and optionally relays the answer back through
// a mailbox.
package signalling

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"packshare/internal/config"
	"packshare/pkg/types"
)

// DataChannelLabel names the single ordered channel carrying the protocol
const DataChannelLabel = "ft"

// SDPHandler defines the interface for WebRTC SDP operations
type SDPHandler interface {
	CreateOffer(ctx context.Context, peerConn *webrtc.PeerConnection) (*Signal, error)
	CreateAnswer(ctx context.Context, peerConn *webrtc.PeerConnection, offer *Signal) (*Signal, error)
}

// SignalingService produces the offer and answer descriptors for a direct connection
type SignalingService struct {
	sdp SDPHandler
}

func NewSignalingService(sdp SDPHandler) *SignalingService {
	return &SignalingService{sdp: sdp}
}

func NewDefaultSignalingService(cfg *config.Config) *SignalingService {
	return NewSignalingService(&WebRTCHandler{ICETimeout: cfg.WebRTC.ICEGatherTimeout})
}

// CreateOffer opens the protocol data channel on peerConn and returns the
// encoded offer together with the channel handle
func (s *SignalingService) CreateOffer(ctx context.Context, peerConn *webrtc.PeerConnection) (string, *webrtc.DataChannel, error) {
	ordered := true
	dc, err := peerConn.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to create data channel: %v", types.ErrConnection, err)
	}

	offer, err := s.sdp.CreateOffer(ctx, peerConn)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrConnection, err)
	}

	encoded, err := offer.Encode()
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode offer: %w", err)
	}
	return encoded, dc, nil
}

// CreateAnswer consumes an encoded offer and returns the encoded answer
func (s *SignalingService) CreateAnswer(ctx context.Context, peerConn *webrtc.PeerConnection, encodedOffer string) (string, error) {
	offer, err := DecodeSignal(encodedOffer, SDPTypeOffer)
	if err != nil {
		return "", err
	}

	answer, err := s.sdp.CreateAnswer(ctx, peerConn, offer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrConnection, err)
	}

	encoded, err := answer.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode answer: %w", err)
	}
	return encoded, nil
}

// AcceptAnswer applies an encoded answer to the offering peer connection
func (s *SignalingService) AcceptAnswer(peerConn *webrtc.PeerConnection, encodedAnswer string) error {
	answer, err := DecodeSignal(encodedAnswer, SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := ApplyRemote(peerConn, answer); err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	return nil
}

// AnswerMailbox carries the receiver's answer back to the sharer
type AnswerMailbox interface {
	PostAnswer(ctx context.Context, shareCode, answer string) error
	WaitForAnswer(ctx context.Context, shareCode string) (string, error)
	DeleteSession(ctx context.Context, shareCode string) error
}

func pollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}
