package protocol

import (
	"encoding/json"
	"fmt"

	"packshare/pkg/types"
)

// MessageType represents the type of message exchanged between sharer and receiver
type MessageType string

const (
	MsgRequestPackInfo  MessageType = "RequestPackInfo"
	MsgPackInfo         MessageType = "PackInfo"
	MsgRequestChunk     MessageType = "RequestChunk"
	MsgChunk            MessageType = "Chunk"
	MsgTransferComplete MessageType = "TransferComplete"
	MsgError            MessageType = "Error"
)

// Message is the single wire frame of the chunk protocol. Only the fields
// relevant to Type are populated.
type Message struct {
	Type MessageType `json:"type"`

	// Routing on transports shared by several peers; empty on direct links
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// PackInfo
	Pack        *types.PackManifest `json:"pack,omitempty"`
	ChunkSize   int                 `json:"chunk_size,omitempty"`
	Compression string              `json:"compression,omitempty"`

	// RequestChunk, Chunk
	Filename    string `json:"filename,omitempty"`
	Index       int    `json:"index"`
	Data        []byte `json:"data,omitempty"` // AEAD ciphertext, base64 on the wire
	TotalChunks int    `json:"total_chunks,omitempty"`
	FileHash    string `json:"file_hash,omitempty"`

	// Error
	Error string `json:"error,omitempty"`
}

// SerializeMessage converts a Message to bytes for transmission
func SerializeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// DeserializeMessage converts bytes back to a Message and rejects unknown kinds
func DeserializeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to deserialize message: %w", err)
	}

	switch msg.Type {
	case MsgRequestPackInfo, MsgPackInfo, MsgRequestChunk, MsgChunk, MsgTransferComplete, MsgError:
	default:
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}

	if msg.Type == MsgPackInfo && msg.Pack == nil {
		return Message{}, fmt.Errorf("pack info without pack")
	}
	if (msg.Type == MsgRequestChunk || msg.Type == MsgChunk) && (msg.Filename == "" || msg.Index < 0) {
		return Message{}, fmt.Errorf("%s without filename or index", msg.Type)
	}
	return msg, nil
}
