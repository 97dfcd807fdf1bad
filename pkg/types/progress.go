package types

import "fmt"

// TransferStatus is the receiver-side lifecycle state of a download
type TransferStatus int

const (
	StatusConnecting TransferStatus = iota
	StatusTransferring
	StatusCompleted
	StatusFailed
)

// String returns the string representation of TransferStatus
func (s TransferStatus) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusTransferring:
		return "Transferring"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MarshalText lets JSON consumers see the status name
func (s TransferStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transition is allowed
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransferProgress is the pollable progress record of one download
type TransferProgress struct {
	CurrentFile      string         `json:"current_file"`
	FilesCompleted   int            `json:"files_completed"`
	TotalFiles       int            `json:"total_files"`
	BytesTransferred uint64         `json:"bytes_transferred"`
	TotalBytes       uint64         `json:"total_bytes"`
	Status           TransferStatus `json:"status"`
	FailureReason    string         `json:"failure_reason,omitempty"`
}

// SetStatus moves the status forward. Backward moves and any move out of a
// terminal state are refused and reported as false.
func (p *TransferProgress) SetStatus(status TransferStatus, reason string) bool {
	if p.Status.IsTerminal() || status < p.Status {
		return false
	}
	p.Status = status
	if status == StatusFailed {
		p.FailureReason = reason
	}
	return true
}

// Describe renders the status for display, including the failure reason
func (p TransferProgress) Describe() string {
	if p.Status == StatusFailed && p.FailureReason != "" {
		return fmt.Sprintf("Failed(%s)", p.FailureReason)
	}
	return p.Status.String()
}
