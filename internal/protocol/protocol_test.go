package protocol

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshare/internal/config"
	"packshare/internal/cryptobox"
	"packshare/internal/processor"
	"packshare/pkg/types"
)

type fixture struct {
	manifest *types.PackManifest
	sources  map[string]string
	contents map[string][]byte
	key      []byte
}

func newFixture(t *testing.T, files map[string]int) *fixture {
	t.Helper()
	dir := t.TempDir()

	var paths []string
	contents := make(map[string][]byte)
	for name, size := range files {
		data := make([]byte, size)
		_, err := rand.Read(data)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0644))
		paths = append(paths, path)
		contents[name] = data
	}

	manifest, sources, err := processor.NewFileService(true).BuildManifest("pack", "test pack", "tester", paths)
	require.NoError(t, err)

	key, err := cryptobox.GenerateKey()
	require.NoError(t, err)

	return &fixture{manifest: manifest, sources: sources, contents: contents, key: key}
}

// startPair runs a sharer and a receiver session over an in-memory pipe
func startPair(t *testing.T, f *fixture, sharerOpts SharerOptions, recvOpts ReceiverOptions, wrap func(Transport) Transport) (*Receiver, *Sharer, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sharerEnd, receiverEnd := NewPipe()
	if wrap != nil {
		sharerEnd = wrap(sharerEnd)
	}

	sharerSession := NewSession(sharerEnd, logrus.Fields{"side": "sharer"})
	sharer := NewSharer(sharerSession, f.manifest, f.sources, f.key, sharerOpts, nil)
	go sharerSession.Run(ctx, sharer)

	receiverSession := NewSession(receiverEnd, logrus.Fields{"side": "receiver"})
	receiver := NewReceiver(ctx, receiverSession, f.key, recvOpts)
	go receiverSession.Run(ctx, receiver)

	return receiver, sharer, cancel
}

func waitTerminal(t *testing.T, r *Receiver) (Event, []Event) {
	t.Helper()
	var seen []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-r.Events():
			seen = append(seen, ev)
			if ev.Terminal() {
				return ev, seen
			}
		case <-timeout:
			t.Fatalf("no terminal event, saw %d events", len(seen))
		}
	}
}

func TestTransferSingleFile(t *testing.T) {
	f := newFixture(t, map[string]int{"mod.pak": 100 * 1024})
	out := t.TempDir()

	r, _, _ := startPair(t, f, SharerOptions{ChunkSize: 16384}, ReceiverOptions{OutputDir: out, VerifyHashes: true}, nil)
	last, events := waitTerminal(t, r)
	require.Equal(t, EventComplete, last.Kind, last.Err)

	got, err := os.ReadFile(filepath.Join(out, "mod.pak"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(f.contents["mod.pak"], got))

	var chunks int
	var received uint64
	for _, ev := range events {
		if ev.Kind == EventChunkReceived {
			chunks++
			received += ev.Bytes
		}
	}
	assert.Equal(t, 7, chunks)
	assert.Equal(t, uint64(100*1024), received)
	assert.Equal(t, EventPackInfo, events[0].Kind)
	assert.Equal(t, ReceiverCompleted, r.State())
}

func TestTransferMultipleFilesWithCompression(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 5000, "b.utoc": 0, "c.ucas": 40000})
	out := t.TempDir()

	r, sharer, _ := startPair(t, f,
		SharerOptions{ChunkSize: 4096, Compression: config.CompressionLZ4},
		ReceiverOptions{OutputDir: out, VerifyHashes: true}, nil)

	last, events := waitTerminal(t, r)
	require.Equal(t, EventComplete, last.Kind, last.Err)

	for name, want := range f.contents {
		got, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err, name)
		assert.True(t, bytes.Equal(want, got), name)
	}

	var completed []string
	for _, ev := range events {
		if ev.Kind == EventFileComplete {
			completed = append(completed, ev.Filename)
		}
	}
	var order []string
	for _, file := range f.manifest.Files {
		order = append(order, file.Filename)
	}
	assert.Equal(t, order, completed)

	assert.Eventually(t, func() bool { return sharer.State() == SharerCompleted }, 2*time.Second, 10*time.Millisecond)
}

func TestEmptyPackCompletesImmediately(t *testing.T) {
	key, err := cryptobox.GenerateKey()
	require.NoError(t, err)
	f := &fixture{manifest: &types.PackManifest{Name: "empty"}, sources: map[string]string{}, key: key}

	r, _, _ := startPair(t, f, SharerOptions{}, ReceiverOptions{OutputDir: t.TempDir()}, nil)
	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventComplete, last.Kind)
}

func TestHashMismatchFails(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 3000})
	f.manifest.Files[0].Hash = processor.Checksum([]byte("something else"))
	out := t.TempDir()

	r, _, _ := startPair(t, f, SharerOptions{ChunkSize: 1024}, ReceiverOptions{OutputDir: out, VerifyHashes: true}, nil)
	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventError, last.Kind)
	assert.Contains(t, last.Err, "hash mismatch")

	_, err := os.Stat(filepath.Join(out, "a.pak"))
	assert.True(t, os.IsNotExist(err))
}

func TestTraversalFilenameRejected(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 10})
	f.manifest.Files[0].Filename = "../escape.pak"

	r, _, _ := startPair(t, f, SharerOptions{}, ReceiverOptions{OutputDir: t.TempDir()}, nil)
	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventError, last.Kind)
	assert.Contains(t, last.Err, "invalid filename")
}

func TestWrongKeyFailsWithoutRetries(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sharerEnd, receiverEnd := NewPipe()
	sharerSession := NewSession(sharerEnd, nil)
	go sharerSession.Run(ctx, NewSharer(sharerSession, f.manifest, f.sources, f.key, SharerOptions{}, nil))

	otherKey, err := cryptobox.GenerateKey()
	require.NoError(t, err)
	receiverSession := NewSession(receiverEnd, nil)
	r := NewReceiver(ctx, receiverSession, otherKey, ReceiverOptions{OutputDir: t.TempDir()})
	go receiverSession.Run(ctx, r)

	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventError, last.Kind)
}

// dropFirst discards the first n outbound messages of the wrapped transport
type dropFirst struct {
	Transport
	mu      sync.Mutex
	remains int
}

func (d *dropFirst) Send(data []byte) error {
	d.mu.Lock()
	drop := d.remains > 0
	if drop {
		d.remains--
	}
	d.mu.Unlock()
	if drop {
		return nil
	}
	return d.Transport.Send(data)
}

func TestRequestTimeoutRecoversLostReply(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 2048})
	out := t.TempDir()

	// Lose the sharer's PackInfo and first chunk; the receiver re-requests both.
	wrap := func(tr Transport) Transport { return &dropFirst{Transport: tr, remains: 2} }
	r, _, _ := startPair(t, f, SharerOptions{ChunkSize: 1024},
		ReceiverOptions{OutputDir: out, VerifyHashes: true, RequestTimeout: 50 * time.Millisecond, MaxRetries: 3}, wrap)

	last, _ := waitTerminal(t, r)
	require.Equal(t, EventComplete, last.Kind, last.Err)

	got, err := os.ReadFile(filepath.Join(out, "a.pak"))
	require.NoError(t, err)
	assert.Equal(t, f.contents["a.pak"], got)
}

func TestRequestTimeoutGivesUp(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 10})
	wrap := func(tr Transport) Transport { return &dropFirst{Transport: tr, remains: 100} }

	r, _, _ := startPair(t, f, SharerOptions{},
		ReceiverOptions{OutputDir: t.TempDir(), RequestTimeout: 20 * time.Millisecond, MaxRetries: 2}, wrap)

	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventError, last.Kind)
	assert.Contains(t, last.Err, "after 3 attempts")
}

// scriptedSender records what a handler sends
type scriptedSender struct {
	mu   sync.Mutex
	sent []Message
}

func (s *scriptedSender) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *scriptedSender) last() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func TestSharerRejectsBadRequests(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 10})
	sender := &scriptedSender{}
	sharer := NewSharer(sender, f.manifest, f.sources, f.key, SharerOptions{ChunkSize: 4}, nil)

	err := sharer.HandleMessage(Message{Type: MsgRequestChunk, Filename: "nope.pak"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, MsgError, sender.last().Type)

	err = sharer.HandleMessage(Message{Type: MsgRequestChunk, Filename: "a.pak", Index: 3})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, MsgError, sender.last().Type)

	require.NoError(t, sharer.HandleMessage(Message{Type: MsgRequestChunk, Filename: "a.pak", Index: 2}))
	chunk := sender.last()
	assert.Equal(t, MsgChunk, chunk.Type)
	assert.Equal(t, 3, chunk.TotalChunks)
	plain, err := cryptobox.Decrypt(chunk.Data, f.key)
	require.NoError(t, err)
	assert.Equal(t, f.contents["a.pak"][8:], plain)
}

func TestSharerCountsCompletions(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 1})
	var count int
	sharer := NewSharer(&scriptedSender{}, f.manifest, f.sources, f.key, SharerOptions{}, func() { count++ })

	require.NoError(t, sharer.HandleMessage(Message{Type: MsgTransferComplete}))
	require.NoError(t, sharer.HandleMessage(Message{Type: MsgTransferComplete}))
	assert.Equal(t, 2, count)
}

func TestSessionDropsMalformedMessages(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pak": 100})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sharerEnd, receiverEnd := NewPipe()
	sharerSession := NewSession(sharerEnd, nil)
	go sharerSession.Run(ctx, NewSharer(sharerSession, f.manifest, f.sources, f.key, SharerOptions{}, nil))

	// Foreign traffic reaches the sharer before the real receiver starts.
	for _, junk := range [][]byte{
		[]byte("not json"),
		[]byte(`{"type":"Bogus"}`),
		[]byte(`{"type":"PackInfo"}`),
		[]byte(`{"type":"RequestChunk","index":0}`),
	} {
		require.NoError(t, receiverEnd.Send(junk))
	}

	receiverSession := NewSession(receiverEnd, nil)
	r := NewReceiver(ctx, receiverSession, f.key, ReceiverOptions{OutputDir: t.TempDir()})
	go receiverSession.Run(ctx, r)

	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventComplete, last.Kind, last.Err)
}

func TestReceiverFailsWhenChannelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := NewPipe()
	session := NewSession(b, nil)
	r := NewReceiver(ctx, session, make([]byte, 32), ReceiverOptions{OutputDir: t.TempDir()})
	go session.Run(ctx, r)

	// Read the RequestPackInfo then hang up.
	select {
	case <-a.Messages():
	case <-time.After(2 * time.Second):
		t.Fatal("no request from receiver")
	}
	require.NoError(t, a.Close())

	last, _ := waitTerminal(t, r)
	assert.Equal(t, EventError, last.Kind)
}

func TestDeserializeMessage(t *testing.T) {
	_, err := DeserializeMessage([]byte(`{"type":"Chunk","filename":"a","index":-1}`))
	assert.Error(t, err)

	msg, err := DeserializeMessage([]byte(`{"type":"RequestPackInfo"}`))
	require.NoError(t, err)
	assert.Equal(t, MsgRequestPackInfo, msg.Type)
}
