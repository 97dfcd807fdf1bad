package signalling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// WebRTCHandler implements SDPHandler for pion peer connections
type WebRTCHandler struct {
	ICETimeout time.Duration
}

// candidateCollector records local candidates as they are gathered
type candidateCollector struct {
	mu         sync.Mutex
	candidates []string
}

func collectCandidates(peerConn *webrtc.PeerConnection) *candidateCollector {
	c := &candidateCollector{}
	peerConn.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		c.mu.Lock()
		c.candidates = append(c.candidates, candidate.ToJSON().Candidate)
		c.mu.Unlock()
	})
	return c
}

func (c *candidateCollector) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.candidates...)
}

// CreateOffer creates and sets an SDP offer, then waits for gathering
func (h *WebRTCHandler) CreateOffer(ctx context.Context, peerConn *webrtc.PeerConnection) (*Signal, error) {
	collector := collectCandidates(peerConn)
	gathered := webrtc.GatheringCompletePromise(peerConn)

	offer, err := peerConn.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := peerConn.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	if err := h.WaitForICEGathering(ctx, gathered); err != nil {
		return nil, err
	}
	return localSignal(peerConn, SDPTypeOffer, collector)
}

// CreateAnswer applies a remote offer, creates and sets the answer, then waits for gathering
func (h *WebRTCHandler) CreateAnswer(ctx context.Context, peerConn *webrtc.PeerConnection, offer *Signal) (*Signal, error) {
	collector := collectCandidates(peerConn)
	gathered := webrtc.GatheringCompletePromise(peerConn)

	if err := ApplyRemote(peerConn, offer); err != nil {
		return nil, err
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := peerConn.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	if err := h.WaitForICEGathering(ctx, gathered); err != nil {
		return nil, err
	}
	return localSignal(peerConn, SDPTypeAnswer, collector)
}

// WaitForICEGathering waits for ICE gathering to complete. Running out of
// ICETimeout is not an error: the description simply carries fewer candidates.
func (h *WebRTCHandler) WaitForICEGathering(ctx context.Context, gathered <-chan struct{}) error {
	timeout := h.ICETimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-gathered:
		return nil
	case <-timer.C:
		logrus.WithFields(logrus.Fields{"timeout": timeout}).Warn("ICE gathering timed out, continuing with partial candidates")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyRemote sets the remote description and adds any candidates not already in its SDP
func ApplyRemote(peerConn *webrtc.PeerConnection, remote *Signal) error {
	desc, err := remote.SessionDescription()
	if err != nil {
		return err
	}
	if err := peerConn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	for _, candidate := range remote.ICECandidates {
		if candidate == "" || strings.Contains(remote.SDP, candidate) {
			continue
		}
		if err := peerConn.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
			logrus.WithFields(logrus.Fields{"candidate": candidate}).Warnf("Failed to add remote ICE candidate: %v", err)
		}
	}
	return nil
}

func localSignal(peerConn *webrtc.PeerConnection, sdpType string, collector *candidateCollector) (*Signal, error) {
	local := peerConn.LocalDescription()
	if local == nil {
		return nil, fmt.Errorf("local description is nil after ICE gathering")
	}
	return &Signal{
		SDP:           local.SDP,
		SDPType:       sdpType,
		ICECandidates: collector.list(),
	}, nil
}
