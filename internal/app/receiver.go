package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"packshare/internal/reporter"
	"packshare/internal/ui"
	"packshare/pkg/types"
	"packshare/pkg/utils"
)

// maxCodeLength separates bare share codes from descriptors
const maxCodeLength = 32

// ReceiverOptions configures the receive flow
type ReceiverOptions struct {
	// Source is a connection string or, for relay shares, a bare share code
	Source    string
	OutputDir string
	// ShowAnswer prints the direct-mode answer for manual delivery
	ShowAnswer   bool
	PollInterval time.Duration
}

// ReceiverApp downloads one pack
type ReceiverApp struct {
	manager  ReceiveManager
	ui       ui.InteractiveUI
	progress ui.ProgressDisplay
}

// NewReceiverApp creates a new receiver application
func NewReceiverApp(mgr ReceiveManager, console ui.InteractiveUI, progress ui.ProgressDisplay) *ReceiverApp {
	return &ReceiverApp{manager: mgr, ui: console, progress: progress}
}

// Run starts the download and blocks until it ends
func (r *ReceiverApp) Run(ctx context.Context, opts *ReceiverOptions) error {
	source := strings.TrimSpace(opts.Source)
	if source == "" {
		return fmt.Errorf("%w: connection string or share code is required", types.ErrValidation)
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("%w: output directory is required", types.ErrValidation)
	}

	r.ui.ShowMessage(fmt.Sprintf("Preparing to receive into: %s", opts.OutputDir))

	var start func(context.Context, string, string) (*managerTicket, error)
	if isBareCode(source) && r.manager.ValidateConnectionString(source) != nil {
		start = r.startCode
	} else {
		start = r.startDescriptor
	}

	ticket, err := start(ctx, source, opts.OutputDir)
	if err != nil {
		return err
	}
	defer r.manager.ClearDownload(ticket.code)

	if ticket.answer != "" && opts.ShowAnswer {
		r.ui.ShowAnswer(ticket.answer)
	}

	final, err := reporter.NewProgressReporter(r.manager, r.progress, opts.PollInterval).Run(ctx, ticket.code)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logrus.WithField("share_code", ticket.code).Info("Receive cancelled")
		}
		return err
	}
	if final.Status == types.StatusFailed {
		return fmt.Errorf("transfer failed: %s", final.FailureReason)
	}

	r.ui.ShowMessage(fmt.Sprintf("Received %d files into %s", final.FilesCompleted, opts.OutputDir))
	return nil
}

type managerTicket struct {
	code   string
	answer string
}

func (r *ReceiverApp) startDescriptor(ctx context.Context, connStr, outputDir string) (*managerTicket, error) {
	t, err := r.manager.StartReceiving(ctx, connStr, outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to start receiving: %w", err)
	}
	return &managerTicket{code: t.ShareCode, answer: t.Answer}, nil
}

func (r *ReceiverApp) startCode(ctx context.Context, code, outputDir string) (*managerTicket, error) {
	t, err := r.manager.StartReceivingCode(ctx, code, outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to join share %s: %w", code, err)
	}
	return &managerTicket{code: t.ShareCode}, nil
}

// isBareCode reports whether s looks like a share code rather than a descriptor
func isBareCode(s string) bool {
	return len(s) <= maxCodeLength && utils.SanitizeCode(s) == s
}
