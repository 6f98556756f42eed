package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/mailsync/internal/bodystore"
	"github.com/nhle/mailsync/internal/imap"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// State is the service's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

// String returns the state's name for status output.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Event is a status message for the UI layer: model.HeaderProgress or
// model.DownloadStats.
type Event any

// ServiceStatus is the aggregate view exposed to the UI layer.
type ServiceStatus struct {
	State     State
	Downloads model.DownloadStats

	// CurrentFolders maps account ID to the folder currently header-syncing.
	CurrentFolders map[string]string
}

// emptyQueueBackoff is how long a body-download loop sleeps after finding
// the queue empty, so it notices new work without busy-looping.
const emptyQueueBackoff = 2 * time.Second

// assumedAvgMessageKB is the message size assumed by bandwidth throttling.
const assumedAvgMessageKB = 100

// Service orchestrates the sync worker across folders and accounts: full
// syncs, the body-download worker pool, periodic auto-sync, and cooperative
// pause/resume/stop.
type Service struct {
	store    store.Store
	bodies   *bodystore.Store
	dialer   imap.Dialer
	worker   *Worker
	cfg      model.SyncConfig
	accounts []model.AccountConfig
	log      *slog.Logger

	gate   *Gate
	events chan Event
	wg     gosync.WaitGroup

	mu      gosync.Mutex
	state   State
	current map[string]string
	started bool
}

// NewService builds the orchestrator over the given collaborators.
func NewService(
	s store.Store,
	bodies *bodystore.Store,
	dialer imap.Dialer,
	cfg model.SyncConfig,
	accounts []model.AccountConfig,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	gate := NewGate()
	return &Service{
		store:    s,
		bodies:   bodies,
		dialer:   dialer,
		worker:   NewWorker(s, bodies, gate, log),
		cfg:      cfg,
		accounts: accounts,
		log:      log,
		gate:     gate,
		events:   make(chan Event, 64),
		current:  make(map[string]string),
	}
}

// Events returns the service's status event stream. Events are dropped
// rather than blocking the engine when no one is listening.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Start recovers crashed state, sweeps orphaned bodies, and launches the
// body-download loops and the auto-sync timer.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.state = StateRunning
	s.mu.Unlock()

	// Items left processing by a previous process are stale claims.
	if err := s.store.ResetProcessingDownloads(ctx); err != nil {
		return fmt.Errorf("recovering download queue: %w", err)
	}

	s.sweepOrphanedBodies(ctx)

	workers := s.cfg.MaxConcurrentDownloads
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.downloadLoop(i)
	}

	s.wg.Add(1)
	go s.autoSyncLoop()

	s.log.Info("sync service started",
		"download_workers", workers,
		"auto_sync_interval", s.cfg.AutoSyncInterval(),
	)
	return nil
}

// StartFullSync header-syncs every configured folder of the account in
// order, honoring pause and stop at folder boundaries. Folder failures are
// logged and skipped; the next auto-sync cycle retries them.
func (s *Service) StartFullSync(ctx context.Context, accountID string) error {
	account, err := s.account(accountID)
	if err != nil {
		return err
	}
	return s.syncFolders(ctx, account, account.Folders)
}

// Pause suspends new work at the next batch boundary. In-flight network
// calls complete first.
func (s *Service) Pause() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StatePaused
	}
	s.mu.Unlock()
	s.gate.Pause()
}

// Resume wakes paused loops.
func (s *Service) Resume() {
	s.mu.Lock()
	if s.state == StatePaused {
		s.state = StateRunning
	}
	s.mu.Unlock()
	s.gate.Resume()
}

// Stop is terminal: it releases every loop at its next boundary and waits
// for all of them, so no worker is orphaned.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.gate.Stop()
	s.wg.Wait()
	s.log.Info("sync service stopped")
}

// Status returns the aggregate service view.
func (s *Service) Status(ctx context.Context) (ServiceStatus, error) {
	downloads, err := s.store.DownloadCounts(ctx)
	if err != nil {
		return ServiceStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]string, len(s.current))
	for k, v := range s.current {
		current[k] = v
	}
	return ServiceStatus{
		State:          s.state,
		Downloads:      downloads,
		CurrentFolders: current,
	}, nil
}

// syncFolders runs the header sync sequentially over the given folder
// paths with one connection.
func (s *Service) syncFolders(
	ctx context.Context,
	account model.AccountConfig,
	folders []string,
) error {
	client, err := s.dialer.Dial(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("dialing account %s: %w", account.ID, err)
	}
	defer func() { _ = client.Logout() }()

	for _, path := range folders {
		if !s.gate.Wait() {
			return nil
		}

		s.setCurrent(account.ID, path)
		result := s.worker.SyncFolderHeaders(ctx, client, account.ID, path, s.emitProgress)
		s.setCurrent(account.ID, "")

		if result.Stopped {
			return nil
		}
		if !result.Success {
			s.log.Warn("folder sync failed, continuing",
				"account", account.ID, "folder", path, "error", result.Error,
			)
		}
	}
	return nil
}

// autoSyncLoop periodically re-syncs folders whose last sync is older than
// the configured interval, or that have never synced.
func (s *Service) autoSyncLoop() {
	defer s.wg.Done()

	interval := s.cfg.AutoSyncInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gate.Stopped():
			return
		case <-ticker.C:
		}

		if !s.gate.Wait() {
			return
		}

		ctx := context.Background()
		cutoff := time.Now().Add(-interval)
		for _, account := range s.accounts {
			stale, err := s.store.FoldersNeedingSync(ctx, account.ID, cutoff)
			if err != nil {
				s.log.Error("listing stale folders", "account", account.ID, "error", err)
				continue
			}
			if len(stale) == 0 {
				continue
			}

			paths := make([]string, len(stale))
			for i, f := range stale {
				paths[i] = f.Path
			}
			if err := s.syncFolders(ctx, account, paths); err != nil {
				s.log.Error("auto-sync failed", "account", account.ID, "error", err)
			}
		}
	}
}

// downloadLoop drains the download queue: dequeue, throttle, fetch, then
// complete or fail. An empty queue backs the loop off briefly so it picks
// up new work without an external wake signal.
func (s *Service) downloadLoop(n int) {
	defer s.wg.Done()

	ctx := context.Background()
	clients := make(map[string]imap.Client)
	defer func() {
		for _, c := range clients {
			_ = c.Logout()
		}
	}()

	for {
		if !s.gate.Wait() {
			return
		}

		item, err := s.store.DequeueDownload(ctx)
		if err != nil {
			s.log.Error("dequeuing download", "worker", n, "error", err)
			if !s.sleep(emptyQueueBackoff) {
				return
			}
			continue
		}
		if item == nil {
			if !s.sleep(emptyQueueBackoff) {
				return
			}
			continue
		}

		s.throttle()
		s.processDownload(ctx, clients, item)
		s.emitDownloadStats(ctx)
	}
}

// processDownload fetches one queued body and records the outcome.
func (s *Service) processDownload(
	ctx context.Context,
	clients map[string]imap.Client,
	item *model.DownloadItem,
) {
	email, err := s.store.GetEmailByID(ctx, item.EmailID)
	if err != nil {
		// The row is gone (folder invalidated or message expunged);
		// nothing left to download.
		if cerr := s.store.CompleteDownload(ctx, item.ID); cerr != nil {
			s.log.Error("completing stale download", "item", item.ID, "error", cerr)
		}
		return
	}

	folder, err := s.store.GetFolderByID(ctx, email.FolderID)
	if err != nil {
		s.failDownload(ctx, item, fmt.Sprintf("folder lookup: %v", err))
		return
	}

	client, ok := clients[folder.AccountID]
	if !ok {
		client, err = s.dialer.Dial(ctx, folder.AccountID)
		if err != nil {
			s.failDownload(ctx, item, fmt.Sprintf("dial: %v", err))
			return
		}
		clients[folder.AccountID] = client
	}

	result := s.worker.SyncEmailBody(ctx, client, folder.AccountID, folder.Path, email.UID, email.ID)
	if result.Success {
		if err := s.store.CompleteDownload(ctx, item.ID); err != nil {
			s.log.Error("completing download", "item", item.ID, "error", err)
		}
		return
	}

	// Reconnect next time; the failure may have broken the session.
	_ = client.Logout()
	delete(clients, folder.AccountID)

	s.failDownload(ctx, item, result.Error)
}

// failDownload records a failed attempt against the item's retry budget.
func (s *Service) failDownload(ctx context.Context, item *model.DownloadItem, msg string) {
	canRetry, err := s.store.FailDownload(ctx, item.ID, s.cfg.DownloadMaxRetries)
	if err != nil {
		s.log.Error("recording download failure", "item", item.ID, "error", err)
		return
	}
	if canRetry {
		s.log.Warn("body download failed, will retry",
			"email", item.EmailID, "retry", item.RetryCount+1, "error", msg,
		)
	} else {
		s.log.Error("body download failed terminally", "email", item.EmailID, "error", msg)
	}
}

// throttle sleeps long enough that fetching one assumed-average-size
// message stays under the configured bandwidth cap.
func (s *Service) throttle() {
	if s.cfg.BandwidthLimitKBps <= 0 {
		return
	}
	delay := time.Duration(assumedAvgMessageKB) * time.Second / time.Duration(s.cfg.BandwidthLimitKBps)
	s.sleep(delay)
}

// sleep waits for d, returning false if the service stops first.
func (s *Service) sleep(d time.Duration) bool {
	select {
	case <-s.gate.Stopped():
		return false
	case <-time.After(d):
		return true
	}
}

// sweepOrphanedBodies removes body files no email row references, e.g.
// bodies saved just before a crash or left behind by folder invalidation.
func (s *Service) sweepOrphanedBodies(ctx context.Context) {
	refs, err := s.store.ListAllBodyRefs(ctx)
	if err != nil {
		s.log.Warn("listing body refs for sweep", "error", err)
		return
	}
	valid := make(map[string]bool, len(refs))
	for _, ref := range refs {
		valid[ref] = true
	}
	removed, err := s.bodies.Sweep(valid)
	if err != nil {
		s.log.Warn("sweeping body store", "error", err)
		return
	}
	if removed > 0 {
		s.log.Info("swept orphaned bodies", "removed", removed)
	}
}

func (s *Service) account(accountID string) (model.AccountConfig, error) {
	for _, a := range s.accounts {
		if a.ID == accountID {
			return a, nil
		}
	}
	return model.AccountConfig{}, fmt.Errorf("unknown account %q", accountID)
}

func (s *Service) setCurrent(accountID, folder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if folder == "" {
		delete(s.current, accountID)
	} else {
		s.current[accountID] = folder
	}
}

// emitProgress forwards header-sync progress to the event stream.
func (s *Service) emitProgress(p model.HeaderProgress) {
	s.emit(p)
}

// emitDownloadStats pushes a fresh queue aggregate after each download.
func (s *Service) emitDownloadStats(ctx context.Context) {
	stats, err := s.store.DownloadCounts(ctx)
	if err != nil {
		return
	}
	s.emit(stats)
}

// emit sends without blocking; slow or absent consumers lose events, never
// stall the engine.
func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
