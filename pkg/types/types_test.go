package types

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareInfoRoundTrip(t *testing.T) {
	info := &ShareInfo{
		PeerID:        "peer-1",
		Addresses:     []string{"blob"},
		EncryptionKey: "key",
		ShareCode:     "code",
	}

	enc, err := info.Encode()
	require.NoError(t, err)

	out, err := DecodeShareInfo(enc)
	require.NoError(t, err)
	assert.Equal(t, info, out)
}

func TestDecodeShareInfoInvalid(t *testing.T) {
	encode := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.StdEncoding.EncodeToString(b)
	}

	cases := map[string]string{
		"empty":         "",
		"not base64":    "@@@@",
		"not json":      base64.StdEncoding.EncodeToString([]byte("{nope")),
		"missing peer":  encode(map[string]any{"addresses": []string{"a"}, "encryption_key": "k", "share_code": "c"}),
		"missing addr":  encode(map[string]any{"peer_id": "p", "addresses": []string{}, "encryption_key": "k", "share_code": "c"}),
		"missing key":   encode(map[string]any{"peer_id": "p", "addresses": []string{"a"}, "share_code": "c"}),
		"missing code":  encode(map[string]any{"peer_id": "p", "addresses": []string{"a"}, "encryption_key": "k"}),
		"blank address": encode(map[string]any{"peer_id": "p", "addresses": []string{""}, "encryption_key": "k", "share_code": "c"}),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeShareInfo(input)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestTransferProgressMonotonic(t *testing.T) {
	var p TransferProgress
	assert.Equal(t, StatusConnecting, p.Status)

	assert.True(t, p.SetStatus(StatusTransferring, ""))
	assert.False(t, p.SetStatus(StatusConnecting, ""))
	assert.Equal(t, StatusTransferring, p.Status)

	assert.True(t, p.SetStatus(StatusFailed, "connection timeout"))
	assert.False(t, p.SetStatus(StatusCompleted, ""))
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "Failed(connection timeout)", p.Describe())
}

func TestCompletedIsSticky(t *testing.T) {
	p := TransferProgress{Status: StatusCompleted}
	assert.False(t, p.SetStatus(StatusFailed, "late"))
	assert.Empty(t, p.FailureReason)
}

func TestManifestTotalBytes(t *testing.T) {
	m := PackManifest{Files: []FileMetadata{{Size: 10}, {Size: 0}, {Size: 5}}}
	assert.Equal(t, uint64(15), m.TotalBytes())
}
