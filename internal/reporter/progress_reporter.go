package reporter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"packshare/internal/ui"
	"packshare/pkg/types"
)

// ProgressSource is polled for a download's progress
type ProgressSource interface {
	GetTransferProgress(code string) (types.TransferProgress, error)
}

// ProgressReporter polls a ProgressSource and feeds a display until the
// download ends
type ProgressReporter struct {
	source   ProgressSource
	display  ui.ProgressDisplay
	interval time.Duration
}

// NewProgressReporter creates a reporter polling at interval
func NewProgressReporter(source ProgressSource, display ui.ProgressDisplay, interval time.Duration) *ProgressReporter {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &ProgressReporter{source: source, display: display, interval: interval}
}

// Run blocks until the download reaches a terminal status or ctx ends and
// returns the last progress seen
func (pr *ProgressReporter) Run(ctx context.Context, code string) (types.TransferProgress, error) {
	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	var last types.TransferProgress
	for {
		progress, err := pr.source.GetTransferProgress(code)
		if err != nil {
			return last, err
		}
		last = progress

		if progress.Status.IsTerminal() {
			pr.display.Finish(progress)
			return progress, nil
		}
		pr.display.Update(progress)

		select {
		case <-ctx.Done():
			logrus.Debug("Progress reporting stopped: context cancelled")
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
