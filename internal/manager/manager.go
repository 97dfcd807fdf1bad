// Package manager owns every active share and download of one process and
// ties the transports, the chunk protocol and the progress records together.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"packshare/internal/config"
	"packshare/internal/cryptobox"
	"packshare/internal/history"
	"packshare/internal/processor"
	"packshare/internal/protocol"
	"packshare/internal/signalling"
	"packshare/internal/transport"
	"packshare/pkg/types"
	"packshare/pkg/utils"
)

// Mode selects how a share is delivered
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// relayAddressPrefix marks a descriptor address as a relay broker URL
const relayAddressPrefix = "relay:"

// DirectDialer negotiates direct links
type DirectDialer interface {
	Offer(ctx context.Context) (transport.OfferLink, string, error)
	Answer(ctx context.Context, offer string) (transport.Link, string, error)
}

// RelayDialer joins broker topics
type RelayDialer interface {
	BrokerURL() string
	Join(ctx context.Context, brokerURL, shareCode, role string, key []byte) (transport.Link, error)
}

// HistoryRecorder receives share and download records
type HistoryRecorder interface {
	Record(e history.Entry) error
}

// ShareRequest describes a pack to share
type ShareRequest struct {
	Name        string
	Description string
	Creator     string
	FilePaths   []string
	Mode        Mode
}

// ReceiveTicket is returned to a receiver once its link is set up.
// Answer is the encoded direct-mode answer for the sharer; empty in relay mode.
type ReceiveTicket struct {
	ShareCode string
	Answer    string
}

type activeShare struct {
	session  types.ShareSession
	manifest *types.PackManifest
	link     transport.Link
	offer    transport.OfferLink // nil in relay mode
	cancel   context.CancelFunc
}

type activeDownload struct {
	mode      Mode
	outputDir string
	progress  types.TransferProgress
	packName  string
	link      transport.Link
	cancel    context.CancelFunc
}

// Manager holds the share and download maps. The lock is only held for map
// and progress record access, never across network waits.
type Manager struct {
	config     *config.Config
	instanceID string
	files      *processor.FileService
	direct     DirectDialer
	relay      RelayDialer
	mailbox    signalling.AnswerMailbox
	history    HistoryRecorder

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	shares    map[string]*activeShare
	downloads map[string]*activeDownload
}

// Option configures a Manager
type Option func(*Manager)

// WithDirectDialer replaces the pion-backed direct dialer
func WithDirectDialer(d DirectDialer) Option {
	return func(m *Manager) { m.direct = d }
}

// WithRelayDialer replaces the broker-backed relay dialer
func WithRelayDialer(d RelayDialer) Option {
	return func(m *Manager) { m.relay = d }
}

// WithMailbox enables automatic answer delivery for direct shares
func WithMailbox(mb signalling.AnswerMailbox) Option {
	return func(m *Manager) { m.mailbox = mb }
}

// WithHistory records shares and finished downloads
func WithHistory(h HistoryRecorder) Option {
	return func(m *Manager) { m.history = h }
}

// WithInstanceID fixes the local peer id
func WithInstanceID(id string) Option {
	return func(m *Manager) { m.instanceID = id }
}

// New creates a Manager. Dialers not supplied as options are built from cfg.
func New(cfg *config.Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     cfg,
		instanceID: uuid.NewString(),
		files:      processor.NewFileService(cfg.Transfer.VerifyHashes),
		ctx:        ctx,
		cancel:     cancel,
		shares:     make(map[string]*activeShare),
		downloads:  make(map[string]*activeDownload),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.direct == nil {
		m.direct = transport.NewDirectDialer(cfg)
	}
	if m.relay == nil {
		m.relay = transport.NewRelayDialer(cfg.Relay, m.instanceID)
	}
	return m
}

// LocalPeerID returns this instance's peer id
func (m *Manager) LocalPeerID() string {
	return m.instanceID
}

// reserveCode picks an unused share code and holds its slot until the share
// is fully set up or released
func (m *Manager) reserveCode(packName string, mode Mode) (string, error) {
	for {
		code, err := utils.GenerateShareCode()
		if err != nil {
			return "", err
		}

		m.mu.Lock()
		if _, taken := m.shares[code]; !taken {
			m.shares[code] = &activeShare{session: types.ShareSession{ShareCode: code, PackName: packName, Mode: string(mode)}}
			m.mu.Unlock()
			return code, nil
		}
		m.mu.Unlock()
	}
}

func (m *Manager) releaseCode(code string) {
	m.mu.Lock()
	delete(m.shares, code)
	m.mu.Unlock()
}

// StartSharing builds the manifest, opens a link in the requested mode and
// starts serving the pack on it. The returned descriptor is handed to the
// receiver out-of-band.
func (m *Manager) StartSharing(ctx context.Context, req ShareRequest) (*types.ShareInfo, error) {
	if req.Mode == "" {
		req.Mode = ModeDirect
	}
	if req.Mode != ModeDirect && req.Mode != ModeRelay {
		return nil, fmt.Errorf("%w: unknown share mode %q", types.ErrValidation, req.Mode)
	}
	if len(req.FilePaths) == 0 {
		return nil, fmt.Errorf("%w: no files to share", types.ErrValidation)
	}

	manifest, sources, err := m.files.BuildManifest(req.Name, req.Description, req.Creator, req.FilePaths)
	if err != nil {
		return nil, err
	}

	code, err := m.reserveCode(manifest.Name, req.Mode)
	if err != nil {
		return nil, err
	}

	var (
		key       []byte
		link      transport.Link
		offer     transport.OfferLink
		address   string
		chunkSize int
	)
	switch req.Mode {
	case ModeDirect:
		key, err = cryptobox.GenerateKey()
		if err == nil {
			offer, address, err = m.direct.Offer(ctx)
			link = offer
		}
		chunkSize = m.config.WebRTC.ChunkSize
	case ModeRelay:
		key, err = cryptobox.DeriveKeyFromCode(code)
		if err == nil {
			link, err = m.relay.Join(ctx, "", code, transport.RoleSharer, key)
		}
		address = relayAddressPrefix + m.relay.BrokerURL()
		chunkSize = m.config.Relay.ChunkSize
	}
	if err != nil {
		m.releaseCode(code)
		return nil, fmt.Errorf("failed to open %s share: %w", req.Mode, err)
	}

	info := &types.ShareInfo{
		PeerID:        m.instanceID,
		Addresses:     []string{address},
		EncryptionKey: cryptobox.EncodeKey(key),
		ShareCode:     code,
	}
	connStr, err := info.Encode()
	if err != nil {
		m.releaseCode(code)
		_ = link.Close()
		return nil, fmt.Errorf("failed to encode connection string: %w", err)
	}

	sessCtx, cancel := context.WithCancel(m.ctx)
	share := &activeShare{
		session: types.ShareSession{
			ShareCode:        code,
			EncryptionKey:    info.EncryptionKey,
			PackName:         manifest.Name,
			Mode:             string(req.Mode),
			ConnectionString: connStr,
			DisplayCode:      "Code: " + code,
			Active:           true,
		},
		manifest: manifest,
		link:     link,
		offer:    offer,
		cancel:   cancel,
	}

	m.mu.Lock()
	m.shares[code] = share
	m.mu.Unlock()

	fields := logrus.Fields{"share_code": code, "mode": req.Mode, "role": transport.RoleSharer}
	session := protocol.NewSession(link, fields)
	sharer := protocol.NewSharer(session, manifest, sources, key, protocol.SharerOptions{
		ChunkSize:   chunkSize,
		Compression: m.config.Transfer.Compression,
	}, func() { m.countCompleted(code) })

	go func() {
		if err := session.Run(sessCtx, sharer); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithFields(fields).Warnf("Share session ended: %v", err)
		}
	}()
	if offer != nil && m.mailbox != nil {
		go m.awaitAnswer(sessCtx, code, offer)
	}

	m.record(history.Entry{
		Kind:      history.KindShare,
		ShareCode: code,
		PackName:  manifest.Name,
		Mode:      string(req.Mode),
		Status:    "Started",
		Files:     len(manifest.Files),
		Bytes:     manifest.TotalBytes(),
	})
	logrus.WithFields(fields).Infof("Sharing %q (%d files, %s)", manifest.Name, len(manifest.Files), utils.FormatFileSize(manifest.TotalBytes()))

	return info, nil
}

func (m *Manager) countCompleted(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shares[code]; ok {
		s.session.TransfersCompleted++
	}
}

// awaitAnswer applies the answer posted to the mailbox for a direct share
func (m *Manager) awaitAnswer(ctx context.Context, code string, offer transport.OfferLink) {
	logger := logrus.WithField("share_code", code)

	answer, err := m.mailbox.WaitForAnswer(ctx, code)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("No answer from mailbox: %v", err)
		}
		return
	}
	if err := offer.AcceptAnswer(answer); err != nil {
		logger.Warnf("Failed to apply mailbox answer: %v", err)
	} else {
		logger.Info("Applied answer from mailbox")
	}
	if err := m.mailbox.DeleteSession(context.Background(), code); err != nil {
		logger.Debugf("Failed to delete mailbox session: %v", err)
	}
}

// AcceptAnswer applies a receiver's answer to a pending direct share
func (m *Manager) AcceptAnswer(ctx context.Context, code, answer string) error {
	m.mu.Lock()
	share, ok := m.shares[code]
	m.mu.Unlock()
	if !ok || share.link == nil {
		return fmt.Errorf("%w: no share with code %s", types.ErrNotFound, code)
	}
	if share.offer == nil {
		return fmt.Errorf("%w: share %s is a relay share and takes no answer", types.ErrValidation, code)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return share.offer.AcceptAnswer(answer)
}

// StopSharing removes the share and closes its link in the background.
// Unknown codes are ignored.
func (m *Manager) StopSharing(code string) {
	m.mu.Lock()
	share, ok := m.shares[code]
	if ok && share.link != nil {
		delete(m.shares, code)
	}
	m.mu.Unlock()
	if !ok || share.link == nil {
		return
	}

	share.cancel()
	go func() {
		if err := share.link.Close(); err != nil {
			logrus.WithField("share_code", code).Debugf("Error closing share link: %v", err)
		}
	}()

	m.record(history.Entry{
		Kind:      history.KindShare,
		ShareCode: code,
		PackName:  share.session.PackName,
		Mode:      share.session.Mode,
		Status:    "Stopped",
		Detail:    fmt.Sprintf("%d transfers completed", share.session.TransfersCompleted),
	})
	logrus.WithField("share_code", code).Info("Stopped sharing")
}

// IsSharing reports whether code names an active share
func (m *Manager) IsSharing(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[code]
	return ok && s.session.Active
}

// GetShareSession returns a snapshot of the share
func (m *Manager) GetShareSession(code string) (types.ShareSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[code]
	if !ok || !s.session.Active {
		return types.ShareSession{}, fmt.Errorf("%w: no share with code %s", types.ErrNotFound, code)
	}
	return s.session, nil
}

// ListShares returns snapshots of all active shares ordered by code
func (m *Manager) ListShares() []types.ShareSession {
	m.mu.Lock()
	sessions := make([]types.ShareSession, 0, len(m.shares))
	for _, s := range m.shares {
		if s.session.Active {
			sessions = append(sessions, s.session)
		}
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ShareCode < sessions[j].ShareCode })
	return sessions
}

// ValidateConnectionString checks a descriptor without touching the network
func (m *Manager) ValidateConnectionString(connStr string) error {
	_, _, err := decodeDescriptor(connStr)
	return err
}

func decodeDescriptor(connStr string) (*types.ShareInfo, []byte, error) {
	info, err := types.DecodeShareInfo(connStr)
	if err != nil {
		return nil, nil, err
	}
	key, err := cryptobox.DecodeKey(info.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}

	address := info.Addresses[0]
	if strings.HasPrefix(address, relayAddressPrefix) {
		if strings.TrimPrefix(address, relayAddressPrefix) == "" {
			return nil, nil, fmt.Errorf("%w: relay descriptor has no broker URL", types.ErrValidation)
		}
		return info, key, nil
	}
	if _, err := signalling.DecodeSignal(address, signalling.SDPTypeOffer); err != nil {
		return nil, nil, err
	}
	return info, key, nil
}

// StartReceiving decodes the descriptor, opens the matching link and starts
// pulling the pack into outputDir. Setup failures are returned; anything
// later is reported through GetTransferProgress.
func (m *Manager) StartReceiving(ctx context.Context, connStr, outputDir string) (*ReceiveTicket, error) {
	info, key, err := decodeDescriptor(connStr)
	if err != nil {
		return nil, err
	}

	address := info.Addresses[0]
	if strings.HasPrefix(address, relayAddressPrefix) {
		return m.receiveRelay(ctx, strings.TrimPrefix(address, relayAddressPrefix), info.ShareCode, key, outputDir)
	}

	dest, err := m.prepareDownload(info.ShareCode, outputDir)
	if err != nil {
		return nil, err
	}

	link, answer, err := m.direct.Answer(ctx, address)
	if err != nil {
		m.releaseDownload(info.ShareCode)
		return nil, fmt.Errorf("failed to answer offer: %w", err)
	}

	if m.mailbox != nil {
		if err := m.mailbox.PostAnswer(ctx, info.ShareCode, answer); err != nil {
			logrus.WithField("share_code", info.ShareCode).Warnf("Failed to post answer to mailbox: %v", err)
		}
	}

	m.startDownload(info.ShareCode, ModeDirect, dest, key, link)
	return &ReceiveTicket{ShareCode: info.ShareCode, Answer: answer}, nil
}

// StartReceivingCode joins a relay share by its bare share code
func (m *Manager) StartReceivingCode(ctx context.Context, code, outputDir string) (*ReceiveTicket, error) {
	code = utils.SanitizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty share code", types.ErrValidation)
	}
	key, err := cryptobox.DeriveKeyFromCode(code)
	if err != nil {
		return nil, err
	}
	return m.receiveRelay(ctx, "", code, key, outputDir)
}

func (m *Manager) receiveRelay(ctx context.Context, brokerURL, code string, key []byte, outputDir string) (*ReceiveTicket, error) {
	dest, err := m.prepareDownload(code, outputDir)
	if err != nil {
		return nil, err
	}

	link, err := m.relay.Join(ctx, brokerURL, code, transport.RoleReceiver, key)
	if err != nil {
		m.releaseDownload(code)
		return nil, fmt.Errorf("failed to join relay: %w", err)
	}

	m.startDownload(code, ModeRelay, dest, key, link)
	return &ReceiveTicket{ShareCode: code}, nil
}

// prepareDownload resolves the output directory and reserves the code. A
// finished download under the same code is replaced; a running one is not.
func (m *Manager) prepareDownload(code, outputDir string) (string, error) {
	dest, err := utils.ResolveDestinationPath(outputDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if dl, ok := m.downloads[code]; ok {
		if !dl.progress.Status.IsTerminal() {
			return "", fmt.Errorf("%w: already receiving %s", types.ErrValidation, code)
		}
		if dl.cancel != nil {
			dl.cancel()
		}
	}
	m.downloads[code] = &activeDownload{outputDir: dest, progress: types.TransferProgress{Status: types.StatusConnecting}}
	return dest, nil
}

func (m *Manager) releaseDownload(code string) {
	m.mu.Lock()
	if dl, ok := m.downloads[code]; ok && dl.link == nil {
		delete(m.downloads, code)
	}
	m.mu.Unlock()
}

// startDownload attaches the receiver protocol to link and spawns the
// session loop, the event drain and the connection watcher
func (m *Manager) startDownload(code string, mode Mode, outputDir string, key []byte, link transport.Link) {
	sessCtx, cancel := context.WithCancel(m.ctx)

	m.mu.Lock()
	dl, ok := m.downloads[code]
	if !ok {
		dl = &activeDownload{progress: types.TransferProgress{Status: types.StatusConnecting}}
		m.downloads[code] = dl
	}
	dl.mode = mode
	dl.outputDir = outputDir
	dl.link = link
	dl.cancel = cancel
	m.mu.Unlock()

	requestTimeout, maxRetries := m.config.WebRTC.RequestTimeout, m.config.WebRTC.MaxRetries
	if mode == ModeRelay {
		requestTimeout, maxRetries = m.config.Relay.RequestTimeout, m.config.Relay.MaxRetries
	}

	fields := logrus.Fields{"share_code": code, "mode": mode, "role": transport.RoleReceiver}
	session := protocol.NewSession(link, fields)
	receiver := protocol.NewReceiver(sessCtx, session, key, protocol.ReceiverOptions{
		OutputDir:      outputDir,
		VerifyHashes:   m.config.Transfer.VerifyHashes,
		RequestTimeout: requestTimeout,
		MaxRetries:     maxRetries,
	})

	go func() {
		if err := session.Run(sessCtx, receiver); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithFields(fields).Warnf("Receive session ended: %v", err)
		}
	}()
	go m.drainEvents(sessCtx, code, dl, receiver.Events())
	go m.watchConnection(sessCtx, code, dl)

	logrus.WithFields(fields).Infof("Receiving into %s", outputDir)
}

// watchConnection fails the download if the link is not established in time
func (m *Manager) watchConnection(ctx context.Context, code string, dl *activeDownload) {
	timeout := m.config.WebRTC.ConnectTimeout
	err := dl.link.WaitForConnection(ctx, timeout)
	if err == nil {
		logrus.WithField("share_code", code).Info("Connection established")
		return
	}
	if ctx.Err() != nil {
		return
	}

	reason := err.Error()
	if errors.Is(err, types.ErrTimeout) {
		reason = fmt.Sprintf("connection not established within %s", timeout)
	}
	if m.finish(code, dl, func(p *types.TransferProgress) bool {
		return p.SetStatus(types.StatusFailed, reason)
	}) {
		logrus.WithField("share_code", code).Errorf("Download failed: %s", reason)
	}
}

// drainEvents folds receiver events into the download's progress record
func (m *Manager) drainEvents(ctx context.Context, code string, dl *activeDownload, events <-chan protocol.Event) {
	for {
		select {
		case ev := <-events:
			m.applyEvent(code, dl, ev)
			if ev.Terminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) applyEvent(code string, dl *activeDownload, ev protocol.Event) {
	logger := logrus.WithField("share_code", code)

	switch ev.Kind {
	case protocol.EventPackInfo:
		m.update(dl, func(p *types.TransferProgress) {
			p.TotalFiles = len(ev.Pack.Files)
			p.TotalBytes = ev.Pack.TotalBytes()
			if len(ev.Pack.Files) > 0 {
				p.CurrentFile = ev.Pack.Files[0].Filename
			}
			p.SetStatus(types.StatusTransferring, "")
			dl.packName = ev.Pack.Name
		})
	case protocol.EventChunkReceived:
		m.update(dl, func(p *types.TransferProgress) {
			p.CurrentFile = ev.Filename
			p.BytesTransferred += ev.Bytes
		})
	case protocol.EventFileComplete:
		m.update(dl, func(p *types.TransferProgress) {
			p.FilesCompleted++
		})
	case protocol.EventComplete:
		if m.finish(code, dl, func(p *types.TransferProgress) bool {
			p.CurrentFile = ""
			return p.SetStatus(types.StatusCompleted, "")
		}) {
			logger.Info("Download completed")
		}
	case protocol.EventError:
		if m.finish(code, dl, func(p *types.TransferProgress) bool {
			return p.SetStatus(types.StatusFailed, ev.Err)
		}) {
			logger.Errorf("Download failed: %s", ev.Err)
		}
	}
}

// update mutates a non-terminal progress record under the lock
func (m *Manager) update(dl *activeDownload, fn func(p *types.TransferProgress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dl.progress.Status.IsTerminal() {
		return
	}
	fn(&dl.progress)
}

// finish applies a terminal transition. When it takes effect the link is
// closed and the outcome recorded; false means the download had already ended.
func (m *Manager) finish(code string, dl *activeDownload, fn func(p *types.TransferProgress) bool) bool {
	m.mu.Lock()
	if dl.progress.Status.IsTerminal() || !fn(&dl.progress) {
		m.mu.Unlock()
		return false
	}
	snapshot := dl.progress
	entry := history.Entry{
		Kind:      history.KindDownload,
		ShareCode: code,
		PackName:  dl.packName,
		Mode:      string(dl.mode),
		Status:    snapshot.Status.String(),
		Detail:    snapshot.FailureReason,
		OutputDir: dl.outputDir,
		Files:     snapshot.FilesCompleted,
		Bytes:     snapshot.BytesTransferred,
	}
	link := dl.link
	m.mu.Unlock()

	if link != nil {
		go func() {
			if err := link.Close(); err != nil {
				logrus.WithField("share_code", code).Debugf("Error closing download link: %v", err)
			}
		}()
	}
	m.record(entry)
	return true
}

// IsReceiving reports whether code names a download that has not ended
func (m *Manager) IsReceiving(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.downloads[code]
	return ok && !dl.progress.Status.IsTerminal()
}

// GetTransferProgress returns a snapshot of the download's progress
func (m *Manager) GetTransferProgress(code string) (types.TransferProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.downloads[code]
	if !ok {
		return types.TransferProgress{}, fmt.Errorf("%w: no download with code %s", types.ErrNotFound, code)
	}
	return dl.progress, nil
}

// ClearDownload forgets a download, closing its link if still open
func (m *Manager) ClearDownload(code string) {
	m.mu.Lock()
	dl, ok := m.downloads[code]
	delete(m.downloads, code)
	m.mu.Unlock()
	if !ok {
		return
	}

	if dl.cancel != nil {
		dl.cancel()
	}
	if dl.link != nil {
		go func() { _ = dl.link.Close() }()
	}
}

// Close stops every share and download
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	var links []transport.Link
	for code, s := range m.shares {
		if s.link != nil {
			links = append(links, s.link)
		}
		delete(m.shares, code)
	}
	for code, dl := range m.downloads {
		if dl.link != nil {
			links = append(links, dl.link)
		}
		delete(m.downloads, code)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, link := range links {
		wg.Add(1)
		go func(l transport.Link) {
			defer wg.Done()
			_ = l.Close()
		}(link)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logrus.Warn("Timed out closing links")
	}
	return nil
}

func (m *Manager) record(e history.Entry) {
	if m.history == nil {
		return
	}
	if err := m.history.Record(e); err != nil {
		logrus.Warnf("Failed to record history: %v", err)
	}
}
