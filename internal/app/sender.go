package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"packshare/internal/manager"
	"packshare/internal/ui"
)

// SenderOptions configures the share flow
type SenderOptions struct {
	Name        string
	Description string
	Creator     string
	FilePaths   []string
	Relay       bool
	// AwaitAnswer prompts for the receiver's answer on the console. Off when
	// a mailbox delivers answers.
	AwaitAnswer bool
	// Once stops sharing after the first completed transfer
	Once bool
	// PollInterval controls how often the share session is checked
	PollInterval time.Duration
}

// SenderApp shares a pack until interrupted
type SenderApp struct {
	manager ShareManager
	ui      ui.InteractiveUI
}

// NewSenderApp creates a new sender application
func NewSenderApp(mgr ShareManager, console ui.InteractiveUI) *SenderApp {
	return &SenderApp{manager: mgr, ui: console}
}

// Run starts the share and serves it until ctx ends, or until the first
// completed transfer when opts.Once is set
func (s *SenderApp) Run(ctx context.Context, opts *SenderOptions) error {
	if len(opts.FilePaths) == 0 {
		return fmt.Errorf("at least one file is required")
	}

	mode := manager.ModeDirect
	if opts.Relay {
		mode = manager.ModeRelay
	}

	info, err := s.manager.StartSharing(ctx, manager.ShareRequest{
		Name:        opts.Name,
		Description: opts.Description,
		Creator:     opts.Creator,
		FilePaths:   opts.FilePaths,
		Mode:        mode,
	})
	if err != nil {
		return fmt.Errorf("failed to start sharing: %w", err)
	}
	defer s.manager.StopSharing(info.ShareCode)

	session, err := s.manager.GetShareSession(info.ShareCode)
	if err != nil {
		return err
	}
	s.ui.ShowShare(session)

	if mode == manager.ModeDirect && opts.AwaitAnswer {
		if err := s.acceptAnswer(ctx, info.ShareCode); err != nil {
			return err
		}
	}

	s.ui.ShowMessage("Sharing. Press Ctrl+C to stop.")
	return s.serve(ctx, info.ShareCode, opts)
}

// acceptAnswer prompts until the receiver's answer applies cleanly
func (s *SenderApp) acceptAnswer(ctx context.Context, code string) error {
	for {
		answer, err := s.ui.Prompt(ctx, "Paste the receiver's answer: ")
		if err != nil {
			return fmt.Errorf("failed to read answer: %w", err)
		}
		if answer == "" {
			continue
		}
		if err := s.manager.AcceptAnswer(ctx, code, answer); err != nil {
			s.ui.ShowMessage(fmt.Sprintf("Invalid answer: %v", err))
			continue
		}
		return nil
	}
}

// serve reports completed transfers until the share should end
func (s *SenderApp) serve(ctx context.Context, code string, opts *SenderOptions) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	completed := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}

		session, err := s.manager.GetShareSession(code)
		if err != nil {
			return err
		}
		if session.TransfersCompleted > completed {
			completed = session.TransfersCompleted
			s.ui.ShowMessage(fmt.Sprintf("Transfer completed (%d so far)", completed))
			logrus.WithField("share_code", code).Infof("Receiver finished, %d transfers completed", completed)
			if opts.Once {
				return nil
			}
		}
	}
}
