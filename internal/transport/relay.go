package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"packshare/internal/config"
	"packshare/internal/protocol"
	"packshare/pkg/types"
	"packshare/pkg/utils"
)

// BrokerEvent is one frame of a broker subscription stream
type BrokerEvent struct {
	ID      string `json:"id,omitempty"`
	Time    int64  `json:"time,omitempty"`
	Event   string `json:"event"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	BrokerEventOpen      = "open"
	BrokerEventKeepalive = "keepalive"
	BrokerEventMessage   = "message"
)

// RelayDialer joins broker topics on behalf of one local instance
type RelayDialer struct {
	config     config.RelayConfig
	client     *http.Client
	instanceID string
}

func NewRelayDialer(cfg config.RelayConfig, instanceID string) *RelayDialer {
	return &RelayDialer{
		config:     cfg,
		client:     &http.Client{Timeout: cfg.PublishTimeout},
		instanceID: instanceID,
	}
}

// BrokerURL returns the configured broker base URL
func (d *RelayDialer) BrokerURL() string {
	return d.config.BrokerURL
}

// Join subscribes to the topic derived from shareCode and announces this
// instance. The returned link is ready once the broker confirms the subscription.
func (d *RelayDialer) Join(ctx context.Context, brokerURL, shareCode, role string, key []byte) (Link, error) {
	if brokerURL == "" {
		brokerURL = d.config.BrokerURL
	}
	base, err := url.Parse(strings.TrimRight(brokerURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid broker URL %q", types.ErrValidation, brokerURL)
	}

	topic := utils.TopicForCode(d.config.TopicPrefix, shareCode)
	wsURL := *base
	wsURL.Scheme = map[string]string{"http": "ws", "https": "wss"}[base.Scheme]
	wsURL.Path = base.Path + "/" + topic + "/ws"

	wsConfig, err := websocket.NewConfig(wsURL.String(), base.String())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subscribe URL: %v", types.ErrValidation, err)
	}
	conn, err := wsConfig.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to subscribe to broker: %v", types.ErrConnection, err)
	}

	t := &RelayTransport{
		client:     d.client,
		publishURL: base.String() + "/" + topic,
		topic:      topic,
		instanceID: d.instanceID,
		role:       role,
		key:        key,
		conn:       conn,
		incoming:   make(chan []byte, 256),
		outgoing:   make(chan RelayMessage, 256),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		published:  make(chan struct{}),
		logger: logrus.WithFields(logrus.Fields{
			"topic": topic,
			"role":  role,
			"peer":  d.instanceID,
		}),
	}

	go t.readLoop()
	go t.publishLoop()

	t.enqueue(RelayMessage{Type: RelayJoin, Room: topic, From: d.instanceID, InstanceID: d.instanceID, Role: role})
	return t, nil
}

// RelayTransport carries protocol messages over a public broker topic.
// Inbound frames arrive on a subscription socket; outbound frames are queued
// and published one HTTP request at a time.
type RelayTransport struct {
	client     *http.Client
	publishURL string
	topic      string
	instanceID string
	role       string
	key        []byte
	conn       *websocket.Conn
	logger     *logrus.Entry

	incoming  chan []byte
	outgoing  chan RelayMessage
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	published chan struct{}
}

// Topic returns the broker topic this transport is subscribed to
func (t *RelayTransport) Topic() string {
	return t.topic
}

// Send translates a serialized protocol message and queues it for publishing
func (t *RelayTransport) Send(data []byte) error {
	msg, err := protocol.DeserializeMessage(data)
	if err != nil {
		return err
	}
	rm, err := toRelay(msg, t.topic, t.instanceID, t.key)
	if err != nil {
		return err
	}
	return t.enqueue(rm)
}

func (t *RelayTransport) enqueue(rm RelayMessage) error {
	select {
	case <-t.done:
		return protocol.ErrTransportClosed
	default:
	}

	select {
	case t.outgoing <- rm:
		return nil
	case <-t.done:
		return protocol.ErrTransportClosed
	}
}

func (t *RelayTransport) Messages() <-chan []byte {
	return t.incoming
}

func (t *RelayTransport) Ready() <-chan struct{} {
	return t.ready
}

func (t *RelayTransport) Done() <-chan struct{} {
	return t.done
}

// WaitForConnection resolves once the broker has confirmed the subscription
func (t *RelayTransport) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.ready:
		return nil
	case <-t.done:
		return fmt.Errorf("%w: broker subscription closed", types.ErrConnection)
	case <-timer.C:
		return fmt.Errorf("%w: broker subscription not confirmed within %s", types.ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the subscription. Messages already queued are still published.
func (t *RelayTransport) Close() error {
	t.shutdown()
	select {
	case <-t.published:
	case <-time.After(t.client.Timeout):
	}
	return nil
}

func (t *RelayTransport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

// readLoop unwraps broker events into protocol messages
func (t *RelayTransport) readLoop() {
	defer t.shutdown()

	for {
		var frame string
		if err := websocket.Message.Receive(t.conn, &frame); err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warnf("Broker subscription ended: %v", err)
			}
			return
		}

		var event BrokerEvent
		if err := json.Unmarshal([]byte(frame), &event); err != nil {
			t.logger.Debugf("Dropping non-JSON broker frame: %v", err)
			continue
		}

		switch event.Event {
		case BrokerEventOpen:
			t.readyOnce.Do(func() { close(t.ready) })
		case BrokerEventKeepalive:
		case BrokerEventMessage:
			t.handlePayload(event.Message)
		default:
			t.logger.Debugf("Ignoring broker event %q", event.Event)
		}
	}
}

// handlePayload filters one payload and hands it to the protocol layer.
// Foreign traffic, our own echoes and frames for other peers are dropped.
func (t *RelayTransport) handlePayload(text string) {
	var rm RelayMessage
	if err := json.Unmarshal([]byte(text), &rm); err != nil || rm.Type == "" {
		t.logger.Debug("Dropping foreign payload")
		return
	}
	if rm.Room != t.topic || rm.From == t.instanceID || (rm.To != "" && rm.To != t.instanceID) {
		return
	}

	msg, ok, err := fromRelay(rm, t.key)
	if err != nil {
		t.logger.WithFields(logrus.Fields{"type": rm.Type}).Warnf("Dropping relay message: %v", err)
		return
	}
	if !ok {
		t.logger.WithFields(logrus.Fields{"type": rm.Type, "from": rm.From}).Debug("Relay control message")
		return
	}

	data, err := protocol.SerializeMessage(msg)
	if err != nil {
		t.logger.Warnf("Dropping relay message: %v", err)
		return
	}

	select {
	case t.incoming <- data:
	case <-t.done:
	}
}

// publishLoop drains the outbound queue. After shutdown it flushes whatever
// is still queued, then stops.
func (t *RelayTransport) publishLoop() {
	defer close(t.published)

	for {
		select {
		case rm := <-t.outgoing:
			t.publish(rm)
		case <-t.done:
			for {
				select {
				case rm := <-t.outgoing:
					t.publish(rm)
				default:
					return
				}
			}
		}
	}
}

func (t *RelayTransport) publish(rm RelayMessage) {
	body, err := json.Marshal(rm)
	if err != nil {
		t.logger.Warnf("Failed to marshal relay message: %v", err)
		return
	}

	resp, err := t.client.Post(t.publishURL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.logger.WithFields(logrus.Fields{"type": rm.Type}).Warnf("Publish failed: %v", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		t.logger.WithFields(logrus.Fields{"type": rm.Type, "status": resp.StatusCode}).Warn("Broker rejected publish")
		return
	}
	t.logger.WithFields(logrus.Fields{"type": rm.Type, "index": rm.ChunkIndex}).Debug("Published")
}
