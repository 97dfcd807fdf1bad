// Package protocol implements the pull-based chunk transfer protocol shared by
// the direct and relay transports.
package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session binds a Transport to the protocol framing. It is the Sender handed
// to handlers and runs the inbound loop.
type Session struct {
	transport Transport
	sendMu    sync.Mutex
	logger    *logrus.Entry
}

// NewSession wraps t; fields are attached to every log line of the session
func NewSession(t Transport, fields logrus.Fields) *Session {
	return &Session{
		transport: t,
		logger:    logrus.WithFields(fields),
	}
}

// Send serializes msg and hands it to the transport. Safe for concurrent use.
func (s *Session) Send(msg Message) error {
	data, err := SerializeMessage(msg)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.transport.Send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	s.logger.WithFields(logrus.Fields{"type": msg.Type, "file": msg.Filename, "index": msg.Index}).Debug("Sent message")
	return nil
}

// Run waits for the transport to become ready, notifies handler and then
// dispatches inbound messages until the transport closes or ctx ends.
// Malformed messages and handler errors are logged and dropped.
func (s *Session) Run(ctx context.Context, handler MessageHandler) error {
	select {
	case <-s.transport.Ready():
	case <-s.transport.Done():
		handler.OnChannelClosed()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := handler.OnChannelReady(); err != nil {
		s.logger.Warnf("Handler OnChannelReady error: %v", err)
	}

	for {
		select {
		case data := <-s.transport.Messages():
			s.dispatch(handler, data)
		case <-s.transport.Done():
			s.drain(handler)
			handler.OnChannelClosed()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain delivers messages that arrived before the transport shut down
func (s *Session) drain(handler MessageHandler) {
	for {
		select {
		case data := <-s.transport.Messages():
			s.dispatch(handler, data)
		default:
			return
		}
	}
}

func (s *Session) dispatch(handler MessageHandler, data []byte) {
	msg, err := DeserializeMessage(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"bytes": len(data)}).Warnf("Dropping malformed message: %v", err)
		return
	}

	s.logger.WithFields(logrus.Fields{"type": msg.Type, "file": msg.Filename, "index": msg.Index}).Debug("Received message")
	if err := handler.HandleMessage(msg); err != nil {
		s.logger.WithFields(logrus.Fields{"type": msg.Type}).Warnf("Error handling message: %v", err)
	}
}
