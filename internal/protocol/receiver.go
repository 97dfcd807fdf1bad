package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"packshare/internal/config"
	"packshare/internal/cryptobox"
	"packshare/internal/processor"
	"packshare/pkg/types"
	"packshare/pkg/utils"
)

// ReceiverOptions tunes how a receiver pulls a pack
type ReceiverOptions struct {
	OutputDir    string
	VerifyHashes bool
	// RequestTimeout re-sends the outstanding request when no reply arrives
	// in time. Zero disables re-requests.
	RequestTimeout time.Duration
	MaxRetries     int
}

// Receiver pulls a pack one file and one chunk at a time and writes each
// completed file under the output directory
type Receiver struct {
	ctx    context.Context
	sender Sender
	key    []byte
	opts   ReceiverOptions
	events chan Event
	logger *logrus.Entry

	mu          sync.Mutex
	state       ReceiverState
	pack        *types.PackManifest
	peer        string
	chunkSize   int
	compression string
	fileIdx     int
	asm         *processor.Assembler
	outstanding Message
	retries     int
	timer       *time.Timer
	timerSeq    uint64
}

// NewReceiver creates a receiver. Events are delivered until ctx ends.
func NewReceiver(ctx context.Context, sender Sender, key []byte, opts ReceiverOptions) *Receiver {
	return &Receiver{
		ctx:    ctx,
		sender: sender,
		key:    key,
		opts:   opts,
		events: make(chan Event, 256),
		logger: logrus.WithFields(logrus.Fields{"role": "receiver", "output": opts.OutputDir}),
		state:  ReceiverInitializing,
	}
}

// Events returns the progress event stream
func (r *Receiver) Events() <-chan Event {
	return r.events
}

// State returns the current receiver state
func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnChannelReady asks the sharer for the pack
func (r *Receiver) OnChannelReady() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != ReceiverInitializing {
		return nil
	}
	r.state = ReceiverWaitingForPackInfo
	r.logger.Info("Channel ready, requesting pack info")
	return r.request(Message{Type: MsgRequestPackInfo})
}

// OnChannelClosed fails the transfer if it had not finished
func (r *Receiver) OnChannelClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail("channel closed before transfer completed")
}

// HandleMessage processes incoming messages
func (r *Receiver) HandleMessage(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case MsgPackInfo:
		return r.handlePackInfo(msg)
	case MsgChunk:
		return r.handleChunk(msg)
	case MsgError:
		if r.peer != "" && msg.From != r.peer {
			return nil
		}
		r.fail("sharer error: " + msg.Error)
		return nil
	default:
		r.logger.Debugf("Receiver ignoring message type: %s", msg.Type)
		return nil
	}
}

func (r *Receiver) handlePackInfo(msg Message) error {
	if r.state != ReceiverWaitingForPackInfo {
		r.logger.Debug("Ignoring duplicate pack info")
		return nil
	}

	for _, f := range msg.Pack.Files {
		if _, err := utils.SafeJoin(r.opts.OutputDir, f.Filename); err != nil {
			r.fail(fmt.Sprintf("invalid filename in pack: %v", err))
			return err
		}
	}

	compression := msg.Compression
	if compression == "" {
		compression = config.CompressionNone
	}
	if compression != config.CompressionNone && compression != config.CompressionLZ4 {
		r.fail(fmt.Sprintf("unsupported compression %q", compression))
		return nil
	}

	r.pack = msg.Pack
	r.peer = msg.From
	r.chunkSize = msg.ChunkSize
	if r.chunkSize <= 0 {
		r.chunkSize = processor.DefaultChunkSize
	}
	r.compression = compression
	r.state = ReceiverReceivingData
	r.stopTimer()

	r.logger.WithFields(logrus.Fields{
		"pack":       r.pack.Name,
		"files":      len(r.pack.Files),
		"chunk_size": r.chunkSize,
	}).Info("Received pack info")
	r.emit(Event{Kind: EventPackInfo, Pack: r.pack})

	if len(r.pack.Files) == 0 {
		r.finish()
		return nil
	}
	return r.startFile(0)
}

func (r *Receiver) startFile(i int) error {
	r.fileIdx = i
	f := r.pack.Files[i]
	r.asm = processor.NewAssembler(f.Filename, processor.ChunkCount(f.Size, r.chunkSize))
	return r.request(Message{Type: MsgRequestChunk, To: r.peer, Filename: f.Filename, Index: 0})
}

func (r *Receiver) handleChunk(msg Message) error {
	if r.state != ReceiverReceivingData {
		return nil
	}

	current := r.pack.Files[r.fileIdx]
	if r.peer != "" && msg.From != r.peer {
		return nil
	}
	if msg.Filename != current.Filename || msg.Index != r.outstanding.Index || r.asm.Has(msg.Index) {
		r.logger.WithFields(logrus.Fields{"file": msg.Filename, "index": msg.Index}).Debug("Dropping unexpected chunk")
		return nil
	}

	plain, err := cryptobox.Decrypt(msg.Data, r.key)
	if err == nil && r.compression == config.CompressionLZ4 {
		plain, err = processor.Decompress(plain)
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{"file": msg.Filename, "index": msg.Index}).Warnf("Rejecting chunk: %v", err)
		r.retry()
		return err
	}

	if err := r.asm.Add(msg.Index, plain); err != nil {
		r.fail(err.Error())
		return err
	}
	r.stopTimer()
	r.emit(Event{Kind: EventChunkReceived, Filename: current.Filename, Bytes: uint64(len(plain))})

	if !r.asm.Complete() {
		return r.request(Message{Type: MsgRequestChunk, To: r.peer, Filename: current.Filename, Index: msg.Index + 1})
	}
	return r.finishFile(current)
}

func (r *Receiver) finishFile(meta types.FileMetadata) error {
	data, err := r.asm.Bytes()
	if err != nil {
		r.fail(err.Error())
		return err
	}
	r.asm.Reset()

	if uint64(len(data)) != meta.Size {
		r.fail(fmt.Sprintf("size mismatch for %s: got %d, want %d", meta.Filename, len(data), meta.Size))
		return nil
	}
	if r.opts.VerifyHashes && meta.Hash != "" && processor.Checksum(data) != meta.Hash {
		r.fail(fmt.Sprintf("hash mismatch for %s", meta.Filename))
		return nil
	}

	path, err := utils.SafeJoin(r.opts.OutputDir, meta.Filename)
	if err != nil {
		r.fail(err.Error())
		return err
	}
	if err := processor.WriteFile(path, data); err != nil {
		r.fail(err.Error())
		return err
	}

	r.logger.WithFields(logrus.Fields{"file": meta.Filename, "bytes": len(data)}).Info("File complete")
	r.emit(Event{Kind: EventFileComplete, Filename: meta.Filename})

	if r.fileIdx+1 < len(r.pack.Files) {
		return r.startFile(r.fileIdx + 1)
	}
	r.finish()
	return nil
}

func (r *Receiver) finish() {
	r.state = ReceiverCompleted
	r.stopTimer()
	if err := r.sender.Send(Message{Type: MsgTransferComplete, To: r.peer}); err != nil {
		r.logger.Warnf("Failed to send transfer complete: %v", err)
	}
	r.logger.Info("Transfer complete")
	r.emit(Event{Kind: EventComplete})
}

// fail moves to the error state once; later calls are ignored
func (r *Receiver) fail(reason string) {
	if r.state == ReceiverCompleted || r.state == ReceiverError {
		return
	}
	r.state = ReceiverError
	r.stopTimer()
	r.logger.Errorf("Transfer failed: %s", reason)
	r.emit(Event{Kind: EventError, Err: reason})
}

// request sends msg as the new outstanding request
func (r *Receiver) request(msg Message) error {
	r.outstanding = msg
	r.retries = 0
	if err := r.sender.Send(msg); err != nil {
		r.fail(err.Error())
		return err
	}
	r.armTimer()
	return nil
}

// retry re-sends the outstanding request or fails once retries are spent
func (r *Receiver) retry() {
	r.retries++
	if r.retries > r.opts.MaxRetries {
		r.fail(fmt.Sprintf("no valid reply to %s %s#%d after %d attempts",
			r.outstanding.Type, r.outstanding.Filename, r.outstanding.Index, r.retries))
		return
	}

	r.logger.WithFields(logrus.Fields{
		"file":    r.outstanding.Filename,
		"index":   r.outstanding.Index,
		"attempt": r.retries,
	}).Warn("Re-sending request")
	if err := r.sender.Send(r.outstanding); err != nil {
		r.fail(err.Error())
		return
	}
	r.armTimer()
}

func (r *Receiver) armTimer() {
	r.stopTimer()
	if r.opts.RequestTimeout <= 0 {
		return
	}
	r.timerSeq++
	seq := r.timerSeq
	r.timer = time.AfterFunc(r.opts.RequestTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if seq != r.timerSeq || r.state == ReceiverCompleted || r.state == ReceiverError {
			return
		}
		r.retry()
	})
}

func (r *Receiver) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerSeq++
}

func (r *Receiver) emit(ev Event) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}
