package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"packshare/internal/config"
	"packshare/pkg/types"
)

// ConnectionFailureError reports a peer connection that failed or closed
// before it ever connected
type ConnectionFailureError struct {
	State   webrtc.PeerConnectionState
	Role    string
	Message string
}

func (e *ConnectionFailureError) Error() string {
	return fmt.Sprintf("connection failed in %s state for %s: %s", e.State.String(), e.Role, e.Message)
}

// Unwrap lets callers match the failure with errors.Is(err, types.ErrConnection)
func (e *ConnectionFailureError) Unwrap() error {
	return types.ErrConnection
}

// PeerService manages WebRTC peer connection lifecycle
type PeerService struct {
	config *config.Config
}

// NewPeerService creates a new peer service with the given configuration
func NewPeerService(cfg *config.Config) *PeerService {
	return &PeerService{config: cfg}
}

// CreatePeerConnection creates a new peer connection using only the configured STUN servers
func (p *PeerService) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.WebRTC.ICEServerList(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create peer connection: %v", types.ErrConnection, err)
	}
	return pc, nil
}

// SetupConnectionStateHandler routes connection state changes to the watcher
// and calls onDown once the connection fails or closes
func (p *PeerService) SetupConnectionStateHandler(peerConn *webrtc.PeerConnection, watcher *ConnectionWatcher, onDown func()) {
	logger := logrus.WithFields(logrus.Fields{"role": watcher.role})
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.WithFields(logrus.Fields{"state": state.String()}).Info("Peer connection state changed")
		watcher.Notify(state)

		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			if onDown != nil {
				onDown()
			}
		}
	})
}

// ConnectionWatcher turns repeated connection state callbacks into a single
// outcome. The first Connected, Failed or Closed state wins and later states
// are ignored.
type ConnectionWatcher struct {
	role string
	once sync.Once
	done chan struct{}
	err  error
}

func NewConnectionWatcher(role string) *ConnectionWatcher {
	return &ConnectionWatcher{role: role, done: make(chan struct{})}
}

// Notify feeds one connection state into the watcher
func (w *ConnectionWatcher) Notify(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		w.signal(nil)
	case webrtc.PeerConnectionStateFailed:
		w.signal(&ConnectionFailureError{State: state, Role: w.role, Message: "peer connection failed"})
	case webrtc.PeerConnectionStateClosed:
		w.signal(&ConnectionFailureError{State: state, Role: w.role, Message: "peer connection closed"})
	}
}

func (w *ConnectionWatcher) signal(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

// Wait blocks until the outcome is known, timeout elapses or ctx ends
func (w *ConnectionWatcher) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.err
	case <-timer.C:
		return fmt.Errorf("%w: connection not established within %s", types.ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
