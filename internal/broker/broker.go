// Package broker is a small ntfy-compatible publish/subscribe server:
// POST /<topic> publishes, GET /<topic>/ws subscribes.
package broker

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const maxMessageBytes = 64 * 1024

var topicPattern = regexp.MustCompile(`^[-_A-Za-z0-9]{1,64}$`)

// Event is one frame delivered to subscribers
type Event struct {
	ID      string `json:"id"`
	Time    int64  `json:"time"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Message string `json:"message,omitempty"`
}

type subscriber struct {
	events chan Event
}

// Broker fans published messages out to every subscriber of a topic
type Broker struct {
	keepalive time.Duration
	logger    *logrus.Entry

	mu     sync.Mutex
	topics map[string]map[*subscriber]struct{}
}

// New creates a broker sending keepalive events at the given interval
func New(keepalive time.Duration) *Broker {
	if keepalive <= 0 {
		keepalive = 45 * time.Second
	}
	return &Broker{
		keepalive: keepalive,
		logger:    logrus.WithFields(logrus.Fields{"component": "broker"}),
		topics:    make(map[string]map[*subscriber]struct{}),
	}
}

// Handler returns the HTTP handler serving publish and subscribe endpoints
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{topic}", b.handlePublish)
	mux.HandleFunc("PUT /{topic}", b.handlePublish)
	mux.Handle("GET /{topic}/ws", websocket.Server{
		Handler: b.handleSubscribe,
		// Any origin may subscribe, as with the public service
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
	})
	return mux
}

// Subscribers returns the number of live subscriptions on topic
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func newEvent(kind, topic, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Time:    time.Now().Unix(),
		Event:   kind,
		Topic:   topic,
		Message: message,
	}
}

func (b *Broker) handlePublish(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	if !topicPattern.MatchString(topic) {
		http.Error(w, "invalid topic", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	event := newEvent("message", topic, string(body))
	delivered := b.publish(event)
	b.logger.WithFields(logrus.Fields{"topic": topic, "bytes": len(body), "subscribers": delivered}).Debug("Published")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(event)
}

// publish delivers event to every current subscriber of its topic
func (b *Broker) publish(event Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for sub := range b.topics[event.Topic] {
		select {
		case sub.events <- event:
			delivered++
		default:
			b.logger.WithFields(logrus.Fields{"topic": event.Topic}).Warn("Subscriber too slow, dropping message")
		}
	}
	return delivered
}

func (b *Broker) subscribe(topic string) *subscriber {
	sub := &subscriber{events: make(chan Event, 1024)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*subscriber]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub
}

func (b *Broker) unsubscribe(topic string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics[topic], sub)
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

func (b *Broker) handleSubscribe(conn *websocket.Conn) {
	defer conn.Close()

	topic := conn.Request().PathValue("topic")
	if !topicPattern.MatchString(topic) {
		return
	}

	sub := b.subscribe(topic)
	defer b.unsubscribe(topic, sub)
	logger := b.logger.WithFields(logrus.Fields{"topic": topic})
	logger.Debug("Subscriber joined")

	// Subscribers never send; a read error means the client went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard string
		for websocket.Message.Receive(conn, &discard) == nil {
		}
	}()

	if err := websocket.JSON.Send(conn, newEvent("open", topic, "")); err != nil {
		return
	}

	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()

	for {
		var event Event
		select {
		case event = <-sub.events:
		case <-ticker.C:
			event = newEvent("keepalive", topic, "")
		case <-gone:
			logger.Debug("Subscriber left")
			return
		}
		if err := websocket.JSON.Send(conn, event); err != nil {
			logger.Debugf("Subscriber write failed: %v", err)
			return
		}
	}
}
