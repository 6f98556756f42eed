package ops

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/mailsync/internal/bodystore"
	"github.com/nhle/mailsync/internal/imap"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// drainBatchSize is how many queued operations one drain pass claims.
const drainBatchSize = 5

// Worker drains the operation queue on a fixed interval, replaying each
// mutation against the server. Success commits local side effects; transient
// failure retries within the item's budget; exhausted retries trigger a
// rollback of the local mutation from the item's snapshot.
type Worker struct {
	store  store.Store
	bodies *bodystore.Store
	dialer imap.Dialer
	log    *slog.Logger

	pollInterval time.Duration
	failures     chan model.OperationFailure

	mu      gosync.Mutex
	started bool
	stopCh  chan struct{}
	wg      gosync.WaitGroup
}

// NewWorker builds the operation worker.
func NewWorker(
	s store.Store,
	bodies *bodystore.Store,
	dialer imap.Dialer,
	pollInterval time.Duration,
	log *slog.Logger,
) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:        s,
		bodies:       bodies,
		dialer:       dialer,
		log:          log,
		pollInterval: pollInterval,
		failures:     make(chan model.OperationFailure, 16),
		stopCh:       make(chan struct{}),
	}
}

// Failures returns the rollback notification stream for the UI layer.
// Notifications are dropped rather than blocking the worker when no one is
// listening.
func (w *Worker) Failures() <-chan model.OperationFailure {
	return w.failures
}

// Start recovers crashed state and launches the drain loop, with one
// immediate drain before the first tick.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	// Items left processing by a previous process are stale claims.
	if err := w.store.ResetProcessingOperations(ctx); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop()

	w.log.Info("operation worker started", "poll_interval", w.pollInterval)
	return nil
}

// Stop halts the drain loop and waits for any in-flight pass to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("operation worker stopped")
}

// Stats returns the mutation-queue aggregate.
func (w *Worker) Stats(ctx context.Context) (model.OperationStats, error) {
	return w.store.OperationCounts(ctx)
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.drainOnce(context.Background())
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.drainOnce(context.Background())
		}
	}
}

// drainOnce claims and processes one batch of pending operations in FIFO
// order. Connections are shared across the batch, one per account.
func (w *Worker) drainOnce(ctx context.Context) {
	items, err := w.store.DequeueOperations(ctx, drainBatchSize)
	if err != nil {
		w.log.Error("dequeuing operations", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	clients := make(map[string]imap.Client)
	defer func() {
		for _, c := range clients {
			_ = c.Logout()
		}
	}()

	for _, op := range items {
		w.process(ctx, clients, op)
	}
}

// process replays one operation and records the outcome.
func (w *Worker) process(ctx context.Context, clients map[string]imap.Client, op model.Operation) {
	serverUIDs, localUIDs := partitionUIDs(op.UIDs)

	folder, err := w.store.GetFolderByPath(ctx, op.AccountID, op.FolderPath)
	if err != nil {
		// The local folder vanished (cache invalidation); there is no
		// local state left to reconcile and nothing to replay against.
		w.log.Warn("operation folder missing locally, completing",
			"op", op.ID, "folder", op.FolderPath,
		)
		w.complete(ctx, op.ID)
		return
	}

	// Placeholder UIDs never had a server identity; an operation touching
	// only placeholders already had its full effect locally.
	if len(serverUIDs) == 0 {
		if isDelete(op.Type) {
			w.purge(ctx, folder.ID, localUIDs)
		}
		w.complete(ctx, op.ID)
		return
	}

	client, ok := clients[op.AccountID]
	if !ok {
		client, err = w.dialer.Dial(ctx, op.AccountID)
		if err != nil {
			w.handleFailure(ctx, op, folder.ID, err)
			return
		}
		clients[op.AccountID] = client
	}

	if err := w.replay(ctx, client, op, serverUIDs); err != nil {
		if imap.IsNotFound(err) {
			// The remote folder is gone; the local mutation already
			// reflects user intent and the remote target is moot.
			w.log.Info("remote mailbox gone, completing without replay",
				"op", op.ID, "type", op.Type, "folder", op.FolderPath,
			)
			w.commitSuccess(ctx, op, folder.ID, serverUIDs, localUIDs)
			return
		}

		// The session may be broken; reconnect on the next item.
		_ = client.Logout()
		delete(clients, op.AccountID)

		w.handleFailure(ctx, op, folder.ID, err)
		return
	}

	w.commitSuccess(ctx, op, folder.ID, serverUIDs, localUIDs)
}

// replay dispatches one operation to the protocol client. The mailbox is
// opened read-write since every operation type mutates it.
func (w *Worker) replay(
	ctx context.Context,
	client imap.Client,
	op model.Operation,
	serverUIDs []int64,
) error {
	if _, err := client.OpenMailbox(ctx, op.FolderPath, false); err != nil {
		return err
	}

	switch op.Type {
	case model.OpFlagAdd:
		return client.SetFlags(ctx, serverUIDs, op.Flags, true)
	case model.OpFlagRemove:
		return client.SetFlags(ctx, serverUIDs, op.Flags, false)
	case model.OpMove:
		return client.MoveMessages(ctx, serverUIDs, op.TargetFolderPath)
	case model.OpDeleteTrash:
		if trash := w.trashPath(ctx, op.AccountID); trash != "" && trash != op.FolderPath {
			return client.MoveMessages(ctx, serverUIDs, trash)
		}
		return client.DeleteMessages(ctx, serverUIDs)
	case model.OpDeletePermanent:
		return client.DeleteMessages(ctx, serverUIDs)
	default:
		// Validate() keeps unknown types out of the queue.
		return nil
	}
}

// commitSuccess marks the operation completed and applies its local
// commit-side effects: deletes purge the soft-deleted rows, moves drop
// their placeholders (the next target-folder sync re-materializes them
// under their real server UIDs).
func (w *Worker) commitSuccess(
	ctx context.Context,
	op model.Operation,
	folderID string,
	serverUIDs, localUIDs []int64,
) {
	switch {
	case isDelete(op.Type):
		w.purge(ctx, folderID, append(serverUIDs, localUIDs...))
	case op.Type == model.OpMove && op.Snapshot != nil && op.Snapshot.Move != nil:
		refs, err := w.store.DeleteEmailsByIDs(ctx, op.Snapshot.Move.EmailIDs)
		if err != nil {
			w.log.Error("dropping move placeholders", "op", op.ID, "error", err)
		} else if err := w.bodies.RemoveAll(refs); err != nil {
			w.log.Warn("removing moved bodies", "op", op.ID, "error", err)
		}
		w.refreshCountsByPath(ctx, op.AccountID, op.TargetFolderPath)
	}

	if _, _, err := w.store.RefreshFolderCounts(ctx, folderID); err != nil {
		w.log.Warn("refreshing folder counts", "folder", folderID, "error", err)
	}

	w.complete(ctx, op.ID)
	w.log.Debug("operation replayed", "op", op.ID, "type", op.Type, "uids", len(op.UIDs))
}

// handleFailure retries within the item's budget and rolls back once it is
// exhausted.
func (w *Worker) handleFailure(ctx context.Context, op model.Operation, folderID string, cause error) {
	canRetry, err := w.store.FailOperation(ctx, op.ID, cause.Error())
	if err != nil {
		w.log.Error("recording operation failure", "op", op.ID, "error", err)
		return
	}
	if canRetry {
		w.log.Warn("operation failed, will retry",
			"op", op.ID, "type", op.Type, "retry", op.RetryCount+1, "error", cause,
		)
		return
	}

	w.log.Error("operation failed terminally, rolling back",
		"op", op.ID, "type", op.Type, "folder", op.FolderPath, "error", cause,
	)
	w.rollback(ctx, op, folderID)

	w.notifyFailure(model.OperationFailure{
		OperationType: op.Type,
		FolderPath:    op.FolderPath,
		AffectedCount: len(op.UIDs),
		Error:         cause.Error(),
	})
}

// rollback restores the local state an operation mutated, using its
// snapshot. A rollback failure is a permanent desynchronization only a full
// resync can repair; it is logged at high severity and never re-queued,
// since there is no well-defined next action.
func (w *Worker) rollback(ctx context.Context, op model.Operation, folderID string) {
	var err error

	switch op.Type {
	case model.OpDeleteTrash, model.OpDeletePermanent:
		err = w.store.UnmarkEmailsDeleted(ctx, folderID, op.UIDs)

	case model.OpMove:
		if op.Snapshot == nil || op.Snapshot.Move == nil {
			w.log.Error("move rollback impossible: no snapshot",
				"op", op.ID, "rollback_failed", true,
			)
			return
		}
		err = w.store.RestoreEmails(ctx, *op.Snapshot.Move)
		if err == nil {
			w.refreshCountsByPath(ctx, op.AccountID, op.TargetFolderPath)
		}

	case model.OpFlagAdd, model.OpFlagRemove:
		if op.Snapshot == nil || op.Snapshot.Flags == nil {
			w.log.Error("flag rollback impossible: no snapshot",
				"op", op.ID, "rollback_failed", true,
			)
			return
		}
		for emailID, flags := range op.Snapshot.Flags.OriginalFlags {
			if ferr := w.store.SetEmailFlags(ctx, emailID, flags); ferr != nil && err == nil {
				err = ferr
			}
		}
	}

	if err != nil {
		w.log.Error("rollback failed; full resync required to repair",
			"op", op.ID, "type", op.Type, "error", err, "rollback_failed", true,
		)
		return
	}

	if _, _, err := w.store.RefreshFolderCounts(ctx, folderID); err != nil {
		w.log.Warn("refreshing folder counts after rollback", "folder", folderID, "error", err)
	}
}

// purge hard-deletes confirmed-deleted rows and their cached bodies.
func (w *Worker) purge(ctx context.Context, folderID string, uids []int64) {
	if len(uids) == 0 {
		return
	}
	refs, err := w.store.PurgeEmails(ctx, folderID, uids)
	if err != nil {
		w.log.Error("purging deleted emails", "folder", folderID, "error", err)
		return
	}
	if err := w.bodies.RemoveAll(refs); err != nil {
		w.log.Warn("removing purged bodies", "folder", folderID, "error", err)
	}
}

// trashPath finds the account's trash folder path, if one is known locally.
func (w *Worker) trashPath(ctx context.Context, accountID string) string {
	folders, err := w.store.ListFolders(ctx, accountID)
	if err != nil {
		return ""
	}
	for _, f := range folders {
		if f.SpecialUse == model.SpecialUseTrash {
			return f.Path
		}
	}
	return ""
}

func (w *Worker) refreshCountsByPath(ctx context.Context, accountID, path string) {
	folder, err := w.store.GetFolderByPath(ctx, accountID, path)
	if err != nil {
		return
	}
	if _, _, err := w.store.RefreshFolderCounts(ctx, folder.ID); err != nil {
		w.log.Warn("refreshing folder counts", "folder", path, "error", err)
	}
}

func (w *Worker) complete(ctx context.Context, id string) {
	if err := w.store.CompleteOperation(ctx, id); err != nil {
		w.log.Error("completing operation", "op", id, "error", err)
	}
}

// notifyFailure sends without blocking; a slow consumer loses notifications,
// never stalls the worker.
func (w *Worker) notifyFailure(f model.OperationFailure) {
	select {
	case w.failures <- f:
	default:
	}
}

// partitionUIDs splits a UID list into server UIDs (positive) and local
// placeholder UIDs (negative), which must never be sent to the server.
func partitionUIDs(uids []int64) (server, local []int64) {
	for _, uid := range uids {
		if uid > 0 {
			server = append(server, uid)
		} else {
			local = append(local, uid)
		}
	}
	return server, local
}

func isDelete(t model.OpType) bool {
	return t == model.OpDeleteTrash || t == model.OpDeletePermanent
}
