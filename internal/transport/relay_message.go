package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"packshare/internal/cryptobox"
	"packshare/internal/protocol"
	"packshare/pkg/types"
)

// RelayType discriminates the relay wire messages
type RelayType string

const (
	RelayJoin             RelayType = "Join"
	RelayPackInfo         RelayType = "PackInfo"
	RelayRequestPackInfo  RelayType = "RequestPackInfo"
	RelayChunkRequest     RelayType = "ChunkRequest"
	RelayChunkData        RelayType = "ChunkData"
	RelayTransferComplete RelayType = "TransferComplete"
	RelayError            RelayType = "Error"
	RelayPing             RelayType = "Ping"
)

// RelayMessage is the tagged union published on a broker topic. Only the
// fields of the variant named by Type are set.
type RelayMessage struct {
	Type RelayType `json:"type"`
	Room string    `json:"room"`
	From string    `json:"from,omitempty"`
	To   string    `json:"to,omitempty"`

	// Join
	InstanceID string `json:"instance_id,omitempty"`
	Role       string `json:"role,omitempty"`

	// PackInfo: AEAD-encrypted packInfoPayload
	PackJSON string `json:"pack_json,omitempty"`

	// ChunkRequest, ChunkData
	Filename    string `json:"filename,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	Data        string `json:"data,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	FileHash    string `json:"file_hash,omitempty"`

	// Error
	Message string `json:"message,omitempty"`
}

// packInfoPayload is the plaintext sealed into RelayMessage.PackJSON
type packInfoPayload struct {
	Pack        *types.PackManifest `json:"pack"`
	ChunkSize   int                 `json:"chunk_size,omitempty"`
	Compression string              `json:"compression,omitempty"`
}

// toRelay wraps a protocol message for publishing
func toRelay(msg protocol.Message, room, from string, key []byte) (RelayMessage, error) {
	out := RelayMessage{Room: room, From: from, To: msg.To}

	switch msg.Type {
	case protocol.MsgRequestPackInfo:
		out.Type = RelayRequestPackInfo
	case protocol.MsgPackInfo:
		plain, err := json.Marshal(packInfoPayload{Pack: msg.Pack, ChunkSize: msg.ChunkSize, Compression: msg.Compression})
		if err != nil {
			return RelayMessage{}, fmt.Errorf("failed to marshal pack info: %w", err)
		}
		sealed, err := cryptobox.EncryptString(plain, key)
		if err != nil {
			return RelayMessage{}, fmt.Errorf("failed to encrypt pack info: %w", err)
		}
		out.Type = RelayPackInfo
		out.To = ""
		out.PackJSON = sealed
	case protocol.MsgRequestChunk:
		out.Type = RelayChunkRequest
		out.Filename = msg.Filename
		out.ChunkIndex = msg.Index
	case protocol.MsgChunk:
		out.Type = RelayChunkData
		out.Filename = msg.Filename
		out.ChunkIndex = msg.Index
		out.Data = base64.StdEncoding.EncodeToString(msg.Data)
		out.TotalChunks = msg.TotalChunks
		out.FileHash = msg.FileHash
	case protocol.MsgTransferComplete:
		out.Type = RelayTransferComplete
	case protocol.MsgError:
		out.Type = RelayError
		out.Message = msg.Error
	default:
		return RelayMessage{}, fmt.Errorf("no relay form for message type %q", msg.Type)
	}
	return out, nil
}

// fromRelay unwraps a relay message. ok is false for control variants that
// carry no protocol message.
func fromRelay(rm RelayMessage, key []byte) (msg protocol.Message, ok bool, err error) {
	msg = protocol.Message{From: rm.From, To: rm.To}

	switch rm.Type {
	case RelayJoin, RelayPing:
		return protocol.Message{}, false, nil
	case RelayRequestPackInfo:
		msg.Type = protocol.MsgRequestPackInfo
	case RelayPackInfo:
		plain, err := cryptobox.DecryptString(rm.PackJSON, key)
		if err != nil {
			return protocol.Message{}, false, fmt.Errorf("failed to decrypt pack info: %w", err)
		}
		var payload packInfoPayload
		if err := json.Unmarshal(plain, &payload); err != nil || payload.Pack == nil {
			return protocol.Message{}, false, fmt.Errorf("invalid pack info payload")
		}
		msg.Type = protocol.MsgPackInfo
		msg.Pack = payload.Pack
		msg.ChunkSize = payload.ChunkSize
		msg.Compression = payload.Compression
	case RelayChunkRequest:
		msg.Type = protocol.MsgRequestChunk
		msg.Filename = rm.Filename
		msg.Index = rm.ChunkIndex
	case RelayChunkData:
		data, err := base64.StdEncoding.DecodeString(rm.Data)
		if err != nil {
			return protocol.Message{}, false, fmt.Errorf("invalid chunk data encoding: %w", err)
		}
		msg.Type = protocol.MsgChunk
		msg.Filename = rm.Filename
		msg.Index = rm.ChunkIndex
		msg.Data = data
		msg.TotalChunks = rm.TotalChunks
		msg.FileHash = rm.FileHash
	case RelayTransferComplete:
		msg.Type = protocol.MsgTransferComplete
	case RelayError:
		msg.Type = protocol.MsgError
		msg.Error = rm.Message
	default:
		return protocol.Message{}, false, fmt.Errorf("unknown relay message type %q", rm.Type)
	}
	return msg, true, nil
}
