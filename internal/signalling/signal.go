package signalling

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"packshare/pkg/types"
	"packshare/pkg/utils"
)

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// Signal is the one-shot description of one side's connection parameters
type Signal struct {
	SDP           string   `json:"sdp"`
	SDPType       string   `json:"sdp_type"`
	ICECandidates []string `json:"ice_candidates"`
}

// Encode serializes the signal as base64(JSON)
func (s *Signal) Encode() (string, error) {
	return utils.Encode(s)
}

// DecodeSignal parses a base64(JSON) signal and checks it carries an SDP of the expected type
func DecodeSignal(encoded, wantType string) (*Signal, error) {
	sig, err := utils.Decode[Signal](encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signaling blob: %v", types.ErrValidation, err)
	}
	if sig.SDP == "" {
		return nil, fmt.Errorf("%w: signaling blob has no sdp", types.ErrValidation)
	}
	if wantType != "" && sig.SDPType != wantType {
		return nil, fmt.Errorf("%w: expected %s, got %q", types.ErrValidation, wantType, sig.SDPType)
	}
	return &sig, nil
}

// SessionDescription converts the signal for pion
func (s *Signal) SessionDescription() (webrtc.SessionDescription, error) {
	switch s.SDPType {
	case SDPTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}, nil
	case SDPTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unknown sdp_type %q", types.ErrValidation, s.SDPType)
	}
}
