package signalling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshare/pkg/types"
)

func TestSignalRoundTrip(t *testing.T) {
	sig := &Signal{SDP: "v=0\r\n", SDPType: SDPTypeOffer, ICECandidates: []string{"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}
	enc, err := sig.Encode()
	require.NoError(t, err)

	out, err := DecodeSignal(enc, SDPTypeOffer)
	require.NoError(t, err)
	assert.Equal(t, sig, out)

	desc, err := out.SessionDescription()
	require.NoError(t, err)
	assert.Equal(t, "offer", desc.Type.String())
}

func TestDecodeSignalRejects(t *testing.T) {
	_, err := DecodeSignal("!!", "")
	assert.ErrorIs(t, err, types.ErrValidation)

	noSDP, err := (&Signal{SDPType: SDPTypeOffer}).Encode()
	require.NoError(t, err)
	_, err = DecodeSignal(noSDP, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	answer, err := (&Signal{SDP: "v=0", SDPType: SDPTypeAnswer}).Encode()
	require.NoError(t, err)
	_, err = DecodeSignal(answer, SDPTypeOffer)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = (&Signal{SDP: "v=0", SDPType: "pranswer"}).SessionDescription()
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestWaitForICEGatheringTimeoutIsNotFatal(t *testing.T) {
	h := &WebRTCHandler{ICETimeout: 20 * time.Millisecond}
	never := make(chan struct{})

	start := time.Now()
	require.NoError(t, h.WaitForICEGathering(context.Background(), never))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitForICEGatheringContextCancel(t *testing.T) {
	h := &WebRTCHandler{ICETimeout: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.WaitForICEGathering(ctx, make(chan struct{})), context.Canceled)
}

func TestMemoryMailbox(t *testing.T) {
	m := NewMemoryMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		answer, err := m.WaitForAnswer(ctx, "code")
		assert.NoError(t, err)
		got <- answer
	}()

	require.NoError(t, m.PostAnswer(ctx, "code", "answer-blob"))
	assert.Equal(t, "answer-blob", <-got)

	require.NoError(t, m.DeleteSession(ctx, "code"))
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err := m.WaitForAnswer(short, "code")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
