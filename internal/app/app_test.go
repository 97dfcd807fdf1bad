package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshare/internal/manager"
	"packshare/pkg/types"
)

type fakeUI struct {
	mu       sync.Mutex
	messages []string
	answers  []string
	shown    []string
	inputs   []string
}

func (f *fakeUI) ShowMessage(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeUI) ShowShare(session types.ShareSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, session.ShareCode)
}

func (f *fakeUI) ShowAnswer(answer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer)
}

func (f *fakeUI) Prompt(ctx context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return "", errors.New("no more input")
	}
	line := f.inputs[0]
	f.inputs = f.inputs[1:]
	return line, nil
}

type nopDisplay struct{}

func (nopDisplay) Update(types.TransferProgress) {}
func (nopDisplay) Finish(types.TransferProgress) {}

type fakeShareManager struct {
	mu        sync.Mutex
	req       manager.ShareRequest
	accepted  []string
	stopped   []string
	completed int
}

func (f *fakeShareManager) StartSharing(_ context.Context, req manager.ShareRequest) (*types.ShareInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = req
	return &types.ShareInfo{ShareCode: "sharecode123"}, nil
}

func (f *fakeShareManager) GetShareSession(code string) (types.ShareSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.ShareSession{ShareCode: code, TransfersCompleted: f.completed}, nil
}

func (f *fakeShareManager) AcceptAnswer(_ context.Context, _ string, answer string) error {
	if answer != "good" {
		return types.ErrValidation
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, answer)
	return nil
}

func (f *fakeShareManager) StopSharing(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, code)
}

func TestSenderAppRunOnce(t *testing.T) {
	mgr := &fakeShareManager{completed: 1}
	console := &fakeUI{inputs: []string{"", "bad", "good"}}

	err := NewSenderApp(mgr, console).Run(context.Background(), &SenderOptions{
		Name:         "pack",
		FilePaths:    []string{"a.bin"},
		AwaitAnswer:  true,
		Once:         true,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, manager.ModeDirect, mgr.req.Mode)
	assert.Equal(t, []string{"good"}, mgr.accepted)
	assert.Equal(t, []string{"sharecode123"}, mgr.stopped)
	assert.Equal(t, []string{"sharecode123"}, console.shown)
	assert.Contains(t, strings.Join(console.messages, "\n"), "Invalid answer")
}

func TestSenderAppRelaySkipsAnswer(t *testing.T) {
	mgr := &fakeShareManager{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewSenderApp(mgr, &fakeUI{}).Run(ctx, &SenderOptions{
		FilePaths:    []string{"a.bin"},
		Relay:        true,
		AwaitAnswer:  true,
		PollInterval: time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, manager.ModeRelay, mgr.req.Mode)
	assert.Empty(t, mgr.accepted)
	assert.Equal(t, []string{"sharecode123"}, mgr.stopped)
}

func TestSenderAppRequiresFiles(t *testing.T) {
	err := NewSenderApp(&fakeShareManager{}, &fakeUI{}).Run(context.Background(), &SenderOptions{})
	assert.Error(t, err)
}

type fakeReceiveManager struct {
	viaCode       string
	viaDescriptor string
	final         types.TransferProgress
	cleared       []string
}

func (f *fakeReceiveManager) ValidateConnectionString(connStr string) error {
	if strings.HasPrefix(connStr, "descriptor") {
		return nil
	}
	return types.ErrValidation
}

func (f *fakeReceiveManager) StartReceiving(_ context.Context, connStr, _ string) (*manager.ReceiveTicket, error) {
	f.viaDescriptor = connStr
	return &manager.ReceiveTicket{ShareCode: "code", Answer: "answer"}, nil
}

func (f *fakeReceiveManager) StartReceivingCode(_ context.Context, code, _ string) (*manager.ReceiveTicket, error) {
	f.viaCode = code
	return &manager.ReceiveTicket{ShareCode: code}, nil
}

func (f *fakeReceiveManager) GetTransferProgress(string) (types.TransferProgress, error) {
	return f.final, nil
}

func (f *fakeReceiveManager) ClearDownload(code string) {
	f.cleared = append(f.cleared, code)
}

func TestReceiverAppByCode(t *testing.T) {
	mgr := &fakeReceiveManager{final: types.TransferProgress{Status: types.StatusCompleted, FilesCompleted: 2}}
	console := &fakeUI{}

	err := NewReceiverApp(mgr, console, nopDisplay{}).Run(context.Background(), &ReceiverOptions{
		Source:       " abcDEF123_-x ",
		OutputDir:    "out",
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "abcDEF123_-x", mgr.viaCode)
	assert.Empty(t, mgr.viaDescriptor)
	assert.Empty(t, console.answers)
	assert.Equal(t, []string{"abcDEF123_-x"}, mgr.cleared)
}

func TestReceiverAppByDescriptorShowsAnswer(t *testing.T) {
	mgr := &fakeReceiveManager{final: types.TransferProgress{Status: types.StatusCompleted}}
	console := &fakeUI{}

	err := NewReceiverApp(mgr, console, nopDisplay{}).Run(context.Background(), &ReceiverOptions{
		Source:       "descriptor-" + strings.Repeat("x", 64),
		OutputDir:    "out",
		ShowAnswer:   true,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, mgr.viaDescriptor)
	assert.Equal(t, []string{"answer"}, console.answers)
}

func TestReceiverAppReportsFailure(t *testing.T) {
	mgr := &fakeReceiveManager{final: types.TransferProgress{Status: types.StatusFailed, FailureReason: "hash mismatch"}}

	err := NewReceiverApp(mgr, &fakeUI{}, nopDisplay{}).Run(context.Background(), &ReceiverOptions{
		Source:       "descriptor-" + strings.Repeat("x", 64),
		OutputDir:    "out",
		PollInterval: time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestReceiverAppValidatesOptions(t *testing.T) {
	app := NewReceiverApp(&fakeReceiveManager{}, &fakeUI{}, nopDisplay{})
	assert.ErrorIs(t, app.Run(context.Background(), &ReceiverOptions{OutputDir: "out"}), types.ErrValidation)
	assert.ErrorIs(t, app.Run(context.Background(), &ReceiverOptions{Source: "abc"}), types.ErrValidation)
}
