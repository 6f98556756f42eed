package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhle/mailsync/internal/bodystore"
	"github.com/nhle/mailsync/internal/imap"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// headerBatchSize is how many headers are fetched and inserted per batch
// during a folder sync. Progress is reported and the gate is checked at
// each batch boundary.
const headerBatchSize = 100

// ProgressFunc receives incremental header-sync progress. May be nil.
type ProgressFunc func(model.HeaderProgress)

// HeaderSyncResult is the terminal outcome of one folder's header sync.
// Errors never escape the worker as Go errors; orchestration code sequences
// folders on results alone.
type HeaderSyncResult struct {
	Success     bool
	Stopped     bool
	NewMessages int
	Error       string
}

// BodySyncResult is the terminal outcome of one message's body fetch.
type BodySyncResult struct {
	Success bool
	Error   string
}

// Worker performs one folder's header reconciliation and one message's body
// fetch. It holds no queue state of its own; everything durable lives in
// the store.
type Worker struct {
	store  store.Store
	bodies *bodystore.Store
	gate   *Gate
	log    *slog.Logger
}

// NewWorker builds a sync worker. A nil gate means never pause or stop.
func NewWorker(s store.Store, bodies *bodystore.Store, gate *Gate, log *slog.Logger) *Worker {
	if gate == nil {
		gate = NewGate()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: s, bodies: bodies, gate: gate, log: log}
}

// SyncFolderHeaders reconciles one folder's local header set against the
// server: resolves the folder row, invalidates the cache on a UID-validity
// change, deletes rows the server expunged, fetches and inserts headers for
// new UIDs in batches, enqueues body fetches, and refreshes folder counts.
//
// The client must be connected and authenticated for the folder's account;
// the worker selects the mailbox itself.
func (w *Worker) SyncFolderHeaders(
	ctx context.Context,
	client imap.Client,
	accountID, folderPath string,
	progress ProgressFunc,
) HeaderSyncResult {
	folder, err := w.store.GetOrCreateFolder(ctx, model.Folder{
		AccountID:  accountID,
		Path:       folderPath,
		SpecialUse: specialUseForPath(folderPath),
	})
	if err != nil {
		return w.headerFailure(accountID, "", folderPath, progress, err)
	}

	emit := func(status string, total, synced int) {
		if progress == nil {
			return
		}
		pct := 100
		if total > 0 {
			pct = synced * 100 / total
		}
		progress(model.HeaderProgress{
			AccountID:  accountID,
			FolderID:   folder.ID,
			FolderPath: folderPath,
			Type:       "header",
			Status:     status,
			Progress:   pct,
			Total:      total,
			Synced:     synced,
		})
	}

	status, err := client.OpenMailbox(ctx, folderPath, true)
	if err != nil {
		return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
	}

	// A UID-validity change means every cached UID is from a dead epoch:
	// drop the folder's messages and bodies before diffing anything.
	if folder.UIDValidity != nil && *folder.UIDValidity != status.UIDValidity {
		w.log.Info("uid validity changed, invalidating folder",
			"folder", folderPath,
			"old", *folder.UIDValidity,
			"new", status.UIDValidity,
		)
		if _, err := w.store.InvalidateFolder(ctx, folder.ID, status.UIDValidity); err != nil {
			return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
		}
		if err := w.bodies.RemoveFolder(accountID, folder.ID); err != nil {
			w.log.Warn("removing invalidated bodies", "folder", folderPath, "error", err)
		}
	} else if folder.UIDValidity == nil {
		if err := w.store.SetFolderUIDValidity(ctx, folder.ID, status.UIDValidity); err != nil {
			return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
		}
	}

	serverUIDs, err := client.SearchAllUIDs(ctx)
	if err != nil {
		return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
	}

	localUIDs, err := w.store.ListEmailUIDs(ctx, folder.ID)
	if err != nil {
		return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
	}

	serverSet := make(map[int64]bool, len(serverUIDs))
	for _, uid := range serverUIDs {
		serverSet[uid] = true
	}
	localSet := make(map[int64]bool, len(localUIDs))

	// Local UIDs absent from the server were expunged remotely; reconcile
	// immediately. Negative placeholders have no server identity and are
	// never candidates.
	var gone []int64
	for _, uid := range localUIDs {
		localSet[uid] = true
		if uid > 0 && !serverSet[uid] {
			gone = append(gone, uid)
		}
	}
	if len(gone) > 0 {
		refs, err := w.store.DeleteEmailsByUIDs(ctx, folder.ID, gone)
		if err != nil {
			return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
		}
		if err := w.bodies.RemoveAll(refs); err != nil {
			w.log.Warn("removing expunged bodies", "folder", folderPath, "error", err)
		}
	}

	var newUIDs []int64
	for _, uid := range serverUIDs {
		if !localSet[uid] {
			newUIDs = append(newUIDs, uid)
		}
	}

	if len(newUIDs) == 0 {
		if err := w.finishFolder(ctx, folder); err != nil {
			return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
		}
		emit("completed", 0, 0)
		return HeaderSyncResult{Success: true}
	}

	total := len(newUIDs)
	synced := 0
	emit("syncing", total, 0)

	for start := 0; start < total; start += headerBatchSize {
		if !w.gate.Wait() {
			return HeaderSyncResult{Stopped: true, NewMessages: synced}
		}

		end := start + headerBatchSize
		if end > total {
			end = total
		}

		headers, err := client.FetchHeaders(ctx, newUIDs[start:end])
		if err != nil {
			return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
		}

		emails := make([]model.Email, 0, len(headers))
		for _, h := range headers {
			emails = append(emails, model.Email{
				FolderID:      folder.ID,
				UID:           h.UID,
				MessageID:     h.MessageID,
				Subject:       h.Subject,
				From:          h.From,
				To:            h.To,
				Cc:            h.Cc,
				Date:          h.Date,
				Flags:         h.Flags,
				HasAttachment: h.HasAttachment,
				Size:          h.Size,
				SyncStatus:    model.SyncStatusPending,
			})
		}
		if err := w.store.InsertEmails(ctx, emails); err != nil {
			return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
		}

		synced += len(headers)
		emit("syncing", total, synced)
	}

	// Enqueue body fetches for everything still pending, not only this
	// pass's inserts; earlier failed or interrupted syncs get picked up.
	pending, err := w.store.PendingBodyEmails(ctx, folder.ID)
	if err != nil {
		return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
	}
	reqs := make([]model.DownloadRequest, 0, len(pending))
	for _, e := range pending {
		reqs = append(reqs, model.DownloadRequest{
			EmailID:  e.ID,
			Priority: DownloadPriority(e.Date, folder.SpecialUse),
		})
	}
	if err := w.store.EnqueueDownloadBatch(ctx, reqs); err != nil {
		return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
	}

	if err := w.finishFolder(ctx, folder); err != nil {
		return w.headerFailure(accountID, folder.ID, folderPath, progress, err)
	}

	emit("completed", total, synced)
	w.log.Info("folder headers synced",
		"folder", folderPath, "new", synced, "expunged", len(gone),
	)
	return HeaderSyncResult{Success: true, NewMessages: synced}
}

// SyncEmailBody fetches one message's raw body, persists it to the body
// store, and extracts text and attachment metadata onto the email row.
// Retry policy is the download queue's concern, not this call's.
func (w *Worker) SyncEmailBody(
	ctx context.Context,
	client imap.Client,
	accountID, folderPath string,
	uid int64,
	emailID string,
) BodySyncResult {
	folder, err := w.store.GetFolderByPath(ctx, accountID, folderPath)
	if err != nil {
		return w.bodyFailure(ctx, emailID, fmt.Errorf("folder not found: %s", folderPath))
	}

	if _, err := client.OpenMailbox(ctx, folderPath, true); err != nil {
		return w.bodyFailure(ctx, emailID, err)
	}

	raw, err := client.FetchRawMessage(ctx, uid)
	if err != nil {
		return w.bodyFailure(ctx, emailID, err)
	}
	if raw == nil {
		return w.bodyFailure(ctx, emailID, fmt.Errorf("message uid %d not found in %s", uid, folderPath))
	}

	ref, err := w.bodies.Save(accountID, folder.ID, raw)
	if err != nil {
		return w.bodyFailure(ctx, emailID, err)
	}

	text, attachments := parseBody(raw)
	if err := w.store.SetEmailBody(ctx, emailID, ref, text, attachments); err != nil {
		// The body file is orphaned now; the startup sweep reclaims it.
		return w.bodyFailure(ctx, emailID, err)
	}

	w.log.Debug("body synced", "email", emailID, "uid", uid, "bytes", len(raw))
	return BodySyncResult{Success: true}
}

// finishFolder refreshes counts and the last-sync stamp after a successful
// header pass.
func (w *Worker) finishFolder(ctx context.Context, folder *model.Folder) error {
	if _, _, err := w.store.RefreshFolderCounts(ctx, folder.ID); err != nil {
		return err
	}
	return w.store.SetFolderLastSync(ctx, folder.ID, time.Now())
}

// headerFailure logs, emits a terminal error progress event, and converts
// the error into a result.
func (w *Worker) headerFailure(
	accountID, folderID, folderPath string,
	progress ProgressFunc,
	err error,
) HeaderSyncResult {
	w.log.Error("header sync failed", "folder", folderPath, "error", err)
	if progress != nil {
		progress(model.HeaderProgress{
			AccountID:  accountID,
			FolderID:   folderID,
			FolderPath: folderPath,
			Type:       "header",
			Status:     "error",
			Error:      err.Error(),
		})
	}
	return HeaderSyncResult{Success: false, Error: err.Error()}
}

// bodyFailure marks the email errored and converts the error into a result.
func (w *Worker) bodyFailure(ctx context.Context, emailID string, err error) BodySyncResult {
	if emailID != "" {
		if serr := w.store.SetEmailSyncStatus(ctx, emailID, model.SyncStatusError); serr != nil {
			w.log.Warn("marking email errored", "email", emailID, "error", serr)
		}
	}
	return BodySyncResult{Success: false, Error: err.Error()}
}

// specialUseForPath infers a folder's special use from its path. Servers
// that advertise special-use attributes would override this; the common
// names cover the rest.
func specialUseForPath(path string) string {
	name := path
	for _, delim := range []string{"/", "."} {
		if i := strings.LastIndex(name, delim); i >= 0 {
			name = name[i+1:]
		}
	}

	switch strings.ToLower(name) {
	case "inbox":
		return model.SpecialUseInbox
	case "sent", "sent messages", "sent items":
		return model.SpecialUseSent
	case "drafts":
		return model.SpecialUseDrafts
	case "trash", "deleted messages":
		return model.SpecialUseTrash
	case "archive", "archives":
		return model.SpecialUseArchive
	case "junk", "spam":
		return model.SpecialUseJunk
	default:
		return model.SpecialUseNone
	}
}
