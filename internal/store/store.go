package store

import (
	"context"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// Store defines the persistence interface for folders, emails, and the two
// work queues. It is the single synchronization point between the download
// side and the mutation side of the engine; the two never talk directly.
type Store interface {
	// === Folders ===

	// GetOrCreateFolder looks up the folder for (AccountID, Path),
	// creating it from the given template if absent.
	GetOrCreateFolder(ctx context.Context, folder model.Folder) (*model.Folder, error)
	GetFolderByID(ctx context.Context, id string) (*model.Folder, error)
	GetFolderByPath(ctx context.Context, accountID, path string) (*model.Folder, error)
	ListFolders(ctx context.Context, accountID string) ([]model.Folder, error)

	// FoldersNeedingSync returns the account's folders whose last_sync_at
	// is null or older than the cutoff.
	FoldersNeedingSync(ctx context.Context, accountID string, cutoff time.Time) ([]model.Folder, error)

	// SetFolderUIDValidity stores a folder's UID-validity epoch.
	SetFolderUIDValidity(ctx context.Context, folderID string, uidValidity uint32) error

	// InvalidateFolder deletes every cached email in the folder (UIDs are
	// no longer comparable after a UID-validity change), stores the new
	// epoch, and returns the body references of the deleted rows so the
	// caller can remove the cached raw bodies.
	InvalidateFolder(ctx context.Context, folderID string, newValidity uint32) ([]string, error)

	// RefreshFolderCounts recomputes and persists the folder's total and
	// unread counts, excluding soft-deleted rows.
	RefreshFolderCounts(ctx context.Context, folderID string) (total, unread int, err error)
	SetFolderLastSync(ctx context.Context, folderID string, t time.Time) error

	// === Emails ===

	// InsertEmails bulk-inserts new header rows in a single transaction.
	InsertEmails(ctx context.Context, emails []model.Email) error
	GetEmailByID(ctx context.Context, id string) (*model.Email, error)
	GetEmailsByUIDs(ctx context.Context, folderID string, uids []int64) ([]model.Email, error)
	ListEmailUIDs(ctx context.Context, folderID string) ([]int64, error)

	// DeleteEmailsByUIDs removes rows for UIDs no longer present on the
	// server, returning their body references for cleanup.
	DeleteEmailsByUIDs(ctx context.Context, folderID string, uids []int64) ([]string, error)

	// SetEmailBody records a fetched body: its body store reference, the
	// extracted text, and attachment metadata, and flips the email to
	// synced.
	SetEmailBody(ctx context.Context, emailID, bodyRef, bodyText string, attachments []model.Attachment) error
	SetEmailSyncStatus(ctx context.Context, emailID, status string) error
	SetEmailFlags(ctx context.Context, emailID string, flags []string) error
	GetAttachments(ctx context.Context, emailID string) ([]model.Attachment, error)

	// MarkEmailsDeleted / UnmarkEmailsDeleted toggle the local soft-delete
	// mark. PurgeEmails hard-deletes rows once the server has confirmed,
	// returning body references for cleanup.
	MarkEmailsDeleted(ctx context.Context, folderID string, uids []int64) error
	UnmarkEmailsDeleted(ctx context.Context, folderID string, uids []int64) error
	PurgeEmails(ctx context.Context, folderID string, uids []int64) ([]string, error)

	// DeleteEmailsByIDs removes rows by ID, returning body references for
	// cleanup. Used to drop move placeholders once the server confirms.
	DeleteEmailsByIDs(ctx context.Context, ids []string) ([]string, error)

	// MoveEmailsLocal reassigns rows to the target folder with fresh
	// negative placeholder UIDs (no server identity yet). RestoreEmails
	// reverses a move using the operation's snapshot.
	MoveEmailsLocal(ctx context.Context, emailIDs []string, targetFolderID string) error
	RestoreEmails(ctx context.Context, snap model.MoveSnapshot) error

	// PendingBodyEmails returns emails in the folder whose body has not
	// been fetched yet.
	PendingBodyEmails(ctx context.Context, folderID string) ([]model.Email, error)

	// ListAllBodyRefs returns every body reference recorded on any email,
	// used to sweep orphaned files out of the body store.
	ListAllBodyRefs(ctx context.Context) ([]string, error)

	// === Download queue ===

	// EnqueueDownload inserts a pending item, or raises the priority of an
	// existing pending/processing item for the same email to the max of
	// the two.
	EnqueueDownload(ctx context.Context, emailID string, priority int) (*model.DownloadItem, error)
	EnqueueDownloadBatch(ctx context.Context, reqs []model.DownloadRequest) error

	// DequeueDownloads atomically claims up to n pending items in
	// priority order (ties broken oldest-first), flipping them to
	// processing. Two concurrent callers never receive the same item.
	DequeueDownloads(ctx context.Context, n int) ([]model.DownloadItem, error)

	// DequeueDownload claims the single highest-priority pending item, or
	// nil when the queue is empty.
	DequeueDownload(ctx context.Context) (*model.DownloadItem, error)
	CompleteDownload(ctx context.Context, id string) error

	// FailDownload increments the retry count; below maxRetries the item
	// returns to pending and the call reports true, otherwise the item
	// goes terminal and the call reports false.
	FailDownload(ctx context.Context, id string, maxRetries int) (bool, error)

	// ResetProcessingDownloads reverts every processing item to pending;
	// called once at startup since processing cannot survive a crash.
	ResetProcessingDownloads(ctx context.Context) error
	DownloadCounts(ctx context.Context) (model.DownloadStats, error)

	// === Operation queue ===

	EnqueueOperation(ctx context.Context, op model.Operation) (*model.Operation, error)

	// DequeueOperations atomically claims up to n pending operations in
	// FIFO order by creation time.
	DequeueOperations(ctx context.Context, n int) ([]model.Operation, error)
	CompleteOperation(ctx context.Context, id string) error

	// FailOperation increments the retry count; below the item's own
	// max_retries the item returns to pending and the call reports true,
	// otherwise the item is marked failed with the error retained.
	FailOperation(ctx context.Context, id, errMsg string) (bool, error)
	ResetProcessingOperations(ctx context.Context) error
	OperationCounts(ctx context.Context) (model.OperationStats, error)

	Close() error
}
