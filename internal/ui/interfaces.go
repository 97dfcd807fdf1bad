package ui

import (
	"context"

	"packshare/pkg/types"
)

// InteractiveUI defines the interface for user interactions
type InteractiveUI interface {
	// ShowMessage displays a message to the user
	ShowMessage(message string)

	// ShowShare displays the code and descriptor of a new share
	ShowShare(session types.ShareSession)

	// ShowAnswer displays the answer the receiver hands back to the sharer
	ShowAnswer(answer string)

	// Prompt asks for one line of input
	Prompt(ctx context.Context, prompt string) (string, error)
}

// ProgressDisplay renders polled transfer progress
type ProgressDisplay interface {
	Update(progress types.TransferProgress)
	Finish(progress types.TransferProgress)
}
