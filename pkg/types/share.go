package types

import (
	"fmt"

	"packshare/pkg/utils"
)

// ShareInfo is the connection descriptor handed to the receiver out-of-band
type ShareInfo struct {
	PeerID        string   `json:"peer_id"`
	Addresses     []string `json:"addresses"`
	EncryptionKey string   `json:"encryption_key"`
	ShareCode     string   `json:"share_code"`
}

// Encode serializes the descriptor as base64(JSON)
func (s *ShareInfo) Encode() (string, error) {
	return utils.Encode(s)
}

// DecodeShareInfo parses a base64(JSON) descriptor and checks required fields
func DecodeShareInfo(encoded string) (*ShareInfo, error) {
	info, err := utils.Decode[ShareInfo](encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid connection string: %v", ErrValidation, err)
	}

	switch {
	case info.PeerID == "":
		return nil, fmt.Errorf("%w: connection string has no peer_id", ErrValidation)
	case info.ShareCode == "":
		return nil, fmt.Errorf("%w: connection string has no share_code", ErrValidation)
	case info.EncryptionKey == "":
		return nil, fmt.Errorf("%w: connection string has no encryption_key", ErrValidation)
	case len(info.Addresses) == 0 || info.Addresses[0] == "":
		return nil, fmt.Errorf("%w: connection string has no address", ErrValidation)
	}

	return &info, nil
}

// ShareSession is the display-oriented view of an active share
type ShareSession struct {
	ShareCode          string `json:"share_code"`
	EncryptionKey      string `json:"encryption_key"`
	PackName           string `json:"pack_name"`
	Mode               string `json:"mode"`
	ConnectionString   string `json:"connection_string"`
	DisplayCode        string `json:"display_code"` // "Code: XXXX", safe to show on screen
	TransfersCompleted int    `json:"transfers_completed"`
	Active             bool   `json:"active"`
}
