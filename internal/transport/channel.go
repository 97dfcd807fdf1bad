package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"packshare/internal/config"
	"packshare/internal/protocol"
)

// Channel adapts a WebRTC data channel to protocol.Transport with flow control
type Channel struct {
	config *config.Config
	logger *logrus.Entry

	dcMutex     sync.RWMutex
	dataChannel *webrtc.DataChannel

	readyCh         chan struct{}
	readyOnce       sync.Once
	bufferControlCh chan struct{}
	incomingMsgCh   chan []byte

	doneCh       chan struct{}
	shutdownOnce sync.Once
}

// NewChannel creates a channel with no data channel attached yet
func NewChannel(cfg *config.Config, role string) *Channel {
	return &Channel{
		config:          cfg,
		logger:          logrus.WithFields(logrus.Fields{"role": role}),
		readyCh:         make(chan struct{}),
		bufferControlCh: make(chan struct{}, 1),
		incomingMsgCh:   make(chan []byte, 256),
		doneCh:          make(chan struct{}),
	}
}

// Attach binds an existing data channel, as created by the offering side
func (c *Channel) Attach(dataChannel *webrtc.DataChannel) {
	c.dcMutex.Lock()
	c.dataChannel = dataChannel
	c.dcMutex.Unlock()
	c.setupDataChannelHandlers(dataChannel)
}

// SetupReceiverDataChannel configures the channel to adopt the remote data channel
func (c *Channel) SetupReceiverDataChannel(peerConn *webrtc.PeerConnection) {
	peerConn.OnDataChannel(func(dataChannel *webrtc.DataChannel) {
		c.logger.Infof("Received data channel: %s", dataChannel.Label())
		c.Attach(dataChannel)
	})
}

// setupDataChannelHandlers configures WebRTC data channel event handlers
func (c *Channel) setupDataChannelHandlers(dataChannel *webrtc.DataChannel) {
	dataChannel.OnOpen(func() {
		c.logger.Infof("Data channel opened: %s", dataChannel.Label())
		c.readyOnce.Do(func() { close(c.readyCh) })
	})

	dataChannel.OnClose(func() {
		c.logger.Info("Data channel closed")
		c.shutdown()
	})

	dataChannel.OnError(func(err error) {
		c.logger.Warnf("Data channel error: %v", err)
		c.shutdown()
	})

	dataChannel.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.incomingMsgCh <- msg.Data:
		case <-c.doneCh:
		}
	})

	dataChannel.SetBufferedAmountLowThreshold(c.config.WebRTC.BufferedAmountLowThreshold)
	dataChannel.OnBufferedAmountLow(func() {
		select {
		case c.bufferControlCh <- struct{}{}:
		default:
		}
	})
}

// Send writes one message, waiting for the send buffer to drain if needed
func (c *Channel) Send(data []byte) error {
	select {
	case <-c.doneCh:
		return protocol.ErrTransportClosed
	default:
	}

	c.dcMutex.RLock()
	dataChannel := c.dataChannel
	c.dcMutex.RUnlock()
	if dataChannel == nil {
		return fmt.Errorf("data channel not established")
	}

	if err := c.handleFlowControl(dataChannel); err != nil {
		return err
	}
	if err := dataChannel.Send(data); err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	return nil
}

// handleFlowControl manages WebRTC buffer flow control
func (c *Channel) handleFlowControl(dataChannel *webrtc.DataChannel) error {
	if dataChannel.BufferedAmount() <= c.config.WebRTC.MaxBufferedAmount {
		return nil
	}

	select {
	case <-c.bufferControlCh:
		return nil
	case <-c.doneCh:
		return protocol.ErrTransportClosed
	case <-time.After(30 * time.Second):
		return fmt.Errorf("flow control timeout - WebRTC channel may be dead")
	}
}

func (c *Channel) Messages() <-chan []byte {
	return c.incomingMsgCh
}

func (c *Channel) Ready() <-chan struct{} {
	return c.readyCh
}

func (c *Channel) Done() <-chan struct{} {
	return c.doneCh
}

// Close gracefully closes the data channel
func (c *Channel) Close() error {
	c.dcMutex.RLock()
	dataChannel := c.dataChannel
	c.dcMutex.RUnlock()

	if dataChannel != nil && dataChannel.ReadyState() == webrtc.DataChannelStateOpen {
		if err := dataChannel.GracefulClose(); err != nil {
			c.logger.Warnf("Error during graceful close: %v", err)
		}
	}

	c.shutdown()
	return nil
}

func (c *Channel) shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.doneCh)
	})
}
