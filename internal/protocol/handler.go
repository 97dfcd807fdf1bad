package protocol

import "packshare/pkg/types"

// MessageHandler defines the interface for handling messages and channel lifecycle events.
// Sharer and Receiver implement it on top of the generic Session.
type MessageHandler interface {
	HandleMessage(msg Message) error

	OnChannelReady() error
	OnChannelClosed()
}

// Sender is the outbound half of a Session handed to handlers
type Sender interface {
	Send(msg Message) error
}

// SharerState represents the current state of the sharer in the transfer protocol
type SharerState int

const (
	SharerWaitingForRequest SharerState = iota
	SharerServing
	SharerCompleted
	SharerClosed
)

// String returns the string representation of SharerState
func (s SharerState) String() string {
	switch s {
	case SharerWaitingForRequest:
		return "WaitingForRequest"
	case SharerServing:
		return "Serving"
	case SharerCompleted:
		return "Completed"
	case SharerClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ReceiverState represents the current state of the receiver in the transfer protocol
type ReceiverState int

const (
	ReceiverInitializing ReceiverState = iota
	ReceiverWaitingForPackInfo
	ReceiverReceivingData
	ReceiverCompleted
	ReceiverError
)

// String returns the string representation of ReceiverState
func (r ReceiverState) String() string {
	switch r {
	case ReceiverInitializing:
		return "Initializing"
	case ReceiverWaitingForPackInfo:
		return "WaitingForPackInfo"
	case ReceiverReceivingData:
		return "ReceivingData"
	case ReceiverCompleted:
		return "Completed"
	case ReceiverError:
		return "Error"
	default:
		return "Unknown"
	}
}

// EventKind identifies a receiver progress event
type EventKind int

const (
	EventPackInfo EventKind = iota
	EventChunkReceived
	EventFileComplete
	EventComplete
	EventError
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventPackInfo:
		return "PackInfo"
	case EventChunkReceived:
		return "ChunkReceived"
	case EventFileComplete:
		return "FileComplete"
	case EventComplete:
		return "Complete"
	case EventError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event reports receiver progress to whoever owns the download record
type Event struct {
	Kind     EventKind
	Pack     *types.PackManifest // EventPackInfo
	Filename string              // EventChunkReceived, EventFileComplete
	Bytes    uint64              // EventChunkReceived: plaintext bytes in the chunk
	Err      string              // EventError
}

// Terminal reports whether no event follows this one
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}
