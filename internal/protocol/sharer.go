package protocol

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"packshare/internal/config"
	"packshare/internal/cryptobox"
	"packshare/internal/processor"
	"packshare/pkg/types"
)

// SharerOptions tunes how a sharer serves chunks
type SharerOptions struct {
	ChunkSize   int
	Compression string
}

// Sharer answers pack-info and chunk requests for one pack
type Sharer struct {
	sender   Sender
	manifest *types.PackManifest
	sources  map[string]string
	files    map[string]types.FileMetadata
	key      []byte
	opts     SharerOptions
	logger   *logrus.Entry

	// onComplete fires each time a receiver reports TransferComplete
	onComplete func()

	mu    sync.Mutex
	state SharerState
}

// NewSharer creates a sharer serving manifest from the given source paths
func NewSharer(sender Sender, manifest *types.PackManifest, sources map[string]string, key []byte, opts SharerOptions, onComplete func()) *Sharer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = processor.DefaultChunkSize
	}
	if opts.Compression == "" {
		opts.Compression = config.CompressionNone
	}

	files := make(map[string]types.FileMetadata, len(manifest.Files))
	for _, f := range manifest.Files {
		files[f.Filename] = f
	}

	return &Sharer{
		sender:     sender,
		manifest:   manifest,
		sources:    sources,
		files:      files,
		key:        key,
		opts:       opts,
		onComplete: onComplete,
		logger:     logrus.WithFields(logrus.Fields{"role": "sharer", "pack": manifest.Name}),
		state:      SharerWaitingForRequest,
	}
}

// State returns the current sharer state
func (s *Sharer) State() SharerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sharer) setState(state SharerState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// OnChannelReady is called when the transport is ready
func (s *Sharer) OnChannelReady() error {
	s.logger.Info("Channel ready, waiting for receiver requests")
	return nil
}

// OnChannelClosed is called when the transport closes
func (s *Sharer) OnChannelClosed() {
	s.logger.Info("Channel closed")
	s.setState(SharerClosed)
}

// HandleMessage processes incoming messages
func (s *Sharer) HandleMessage(msg Message) error {
	switch msg.Type {
	case MsgRequestPackInfo:
		return s.handleRequestPackInfo(msg)
	case MsgRequestChunk:
		return s.handleRequestChunk(msg)
	case MsgTransferComplete:
		s.logger.Info("Receiver reported transfer complete")
		s.setState(SharerCompleted)
		if s.onComplete != nil {
			s.onComplete()
		}
		return nil
	case MsgError:
		s.logger.Warnf("Receiver reported error: %s", msg.Error)
		return nil
	default:
		s.logger.Debugf("Sharer ignoring message type: %s", msg.Type)
		return nil
	}
}

func (s *Sharer) handleRequestPackInfo(msg Message) error {
	s.setState(SharerServing)
	return s.sender.Send(Message{
		Type:        MsgPackInfo,
		To:          msg.From,
		Pack:        s.manifest,
		ChunkSize:   s.opts.ChunkSize,
		Compression: s.opts.Compression,
	})
}

func (s *Sharer) handleRequestChunk(msg Message) error {
	meta, ok := s.files[msg.Filename]
	path, hasSource := s.sources[msg.Filename]
	if !ok || !hasSource {
		return s.replyError(msg, fmt.Errorf("%w: unknown file %q", types.ErrNotFound, msg.Filename))
	}

	total := processor.ChunkCount(meta.Size, s.opts.ChunkSize)
	if msg.Index < 0 || msg.Index >= total {
		return s.replyError(msg, fmt.Errorf("%w: chunk %d of %q out of range", types.ErrValidation, msg.Index, msg.Filename))
	}

	data, err := processor.ReadChunk(path, msg.Index, s.opts.ChunkSize)
	if err != nil {
		return s.replyError(msg, err)
	}

	if s.opts.Compression == config.CompressionLZ4 {
		if data, err = processor.Compress(data); err != nil {
			return s.replyError(msg, err)
		}
	}

	sealed, err := cryptobox.Encrypt(data, s.key)
	if err != nil {
		return s.replyError(msg, err)
	}

	s.setState(SharerServing)
	return s.sender.Send(Message{
		Type:        MsgChunk,
		To:          msg.From,
		Filename:    msg.Filename,
		Index:       msg.Index,
		Data:        sealed,
		TotalChunks: total,
		FileHash:    meta.Hash,
	})
}

// replyError tells the requester why a request failed and returns the cause
func (s *Sharer) replyError(req Message, cause error) error {
	if err := s.sender.Send(Message{Type: MsgError, To: req.From, Error: cause.Error()}); err != nil {
		return fmt.Errorf("%v (reply failed: %w)", cause, err)
	}
	return cause
}
