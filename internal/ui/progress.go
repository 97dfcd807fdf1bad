package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"packshare/pkg/types"
	"packshare/pkg/utils"
)

// ProgressUI renders download progress as a byte progress bar
type ProgressUI struct {
	bar       *progressbar.ProgressBar
	out       io.Writer
	operation string
	total     uint64
	startTime time.Time
}

// NewProgressUI creates a progress UI writing to stderr
func NewProgressUI(operation string) *ProgressUI {
	return NewProgressUIWithWriter(operation, os.Stderr)
}

// NewProgressUIWithWriter creates a progress UI writing to out
func NewProgressUIWithWriter(operation string, out io.Writer) *ProgressUI {
	return &ProgressUI{out: out, operation: operation}
}

// initProgressBar creates the bar once the pack size is known
func (p *ProgressUI) initProgressBar(total uint64) {
	p.total = total
	p.startTime = time.Now()
	p.bar = progressbar.NewOptions64(int64(total),
		progressbar.OptionSetDescription(p.operation),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// Update moves the bar to the polled progress
func (p *ProgressUI) Update(progress types.TransferProgress) {
	if progress.Status == types.StatusConnecting {
		return
	}
	if p.bar == nil {
		p.initProgressBar(progress.TotalBytes)
	}

	_ = p.bar.Set64(int64(progress.BytesTransferred))
	if progress.CurrentFile != "" {
		p.bar.Describe(fmt.Sprintf("%s %s [%d/%d]", p.operation, progress.CurrentFile, progress.FilesCompleted+1, progress.TotalFiles))
	}
}

// Finish completes the bar and prints a summary for terminal progress
func (p *ProgressUI) Finish(progress types.TransferProgress) {
	p.Update(progress)
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.ShowTransferSummary(progress)
}

// ShowTransferSummary displays a summary of the finished transfer
func (p *ProgressUI) ShowTransferSummary(progress types.TransferProgress) {
	elapsed := time.Duration(0)
	if !p.startTime.IsZero() {
		elapsed = time.Since(p.startTime)
	}
	throughput := 0.0
	if elapsed.Seconds() > 0 {
		throughput = float64(progress.BytesTransferred) / elapsed.Seconds() / (1024 * 1024)
	}

	fmt.Fprintf(p.out, "\n=============================================\n")
	fmt.Fprintf(p.out, "Transfer %s\n", progress.Describe())
	fmt.Fprintf(p.out, "+ Files: %d/%d\n", progress.FilesCompleted, progress.TotalFiles)
	fmt.Fprintf(p.out, "+ Bytes: %s/%s\n", utils.FormatFileSize(progress.BytesTransferred), utils.FormatFileSize(progress.TotalBytes))
	fmt.Fprintf(p.out, "+ Transfer time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(p.out, "+ Average throughput: %.2f MB/s\n", throughput)
	fmt.Fprintf(p.out, "=============================================\n")
}
