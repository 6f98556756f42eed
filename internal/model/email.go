package model

import "time"

// SyncStatus tracks how far a message has progressed through synchronization.
// A message starts as pending (headers only), becomes synced once its body is
// cached locally, deleted when soft-deleted awaiting server confirmation, and
// error when its body download failed terminally.
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusDeleted = "deleted"
	SyncStatusError   = "error"
)

// Special-use folder roles. Used by the priority policy and by clients to
// locate the trash folder for soft deletes.
const (
	SpecialUseInbox   = "inbox"
	SpecialUseSent    = "sent"
	SpecialUseDrafts  = "drafts"
	SpecialUseTrash   = "trash"
	SpecialUseArchive = "archive"
	SpecialUseJunk    = "junk"
	SpecialUseNone    = ""
)

// Folder is the local record of one remote mailbox under an account.
// (AccountID, Path) is unique.
type Folder struct {
	// ID is the internal unique identifier for this folder.
	ID string `json:"id"`

	// AccountID identifies the owning account.
	AccountID string `json:"account_id"`

	// Name is the display name (last path component).
	Name string `json:"name"`

	// Path is the full mailbox path on the wire (e.g. "INBOX.Work").
	Path string `json:"path"`

	// Delimiter is the server's hierarchy delimiter.
	Delimiter string `json:"delimiter"`

	// SpecialUse is one of the SpecialUse* constants, or empty.
	SpecialUse string `json:"special_use"`

	// UIDValidity is the last known UID-validity epoch for this folder.
	// Nil until the folder has been opened at least once. A change in this
	// value invalidates every cached message in the folder.
	UIDValidity *uint32 `json:"uid_validity"`

	// LastSyncAt is when headers for this folder were last reconciled.
	LastSyncAt *time.Time `json:"last_sync_at"`

	// TotalCount and UnreadCount are cached message counts, excluding
	// soft-deleted rows.
	TotalCount  int `json:"total_count"`
	UnreadCount int `json:"unread_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Email is one remote message's cached metadata plus, once downloaded, a
// reference to its locally stored raw body.
//
// UID is the message's identifier within its folder for the folder's current
// UID-validity epoch. A negative UID marks a locally created placeholder (for
// example the optimistic half of a move) that has no server identity yet;
// negative UIDs must never be sent to the server.
type Email struct {
	ID       string `json:"id"`
	FolderID string `json:"folder_id"`
	UID      int64  `json:"uid"`

	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Cc        []string  `json:"cc"`
	Date      time.Time `json:"date"`
	Flags     []string  `json:"flags"`

	HasAttachment bool  `json:"has_attachment"`
	Size          int64 `json:"size"`

	// BodyRef is the body store reference for the raw message, empty until
	// the body has been fetched.
	BodyRef string `json:"body_ref"`

	// BodyText is the extracted plain-text content, truncated to a fixed
	// cap. Empty until the body has been fetched and parsed.
	BodyText string `json:"body_text"`

	SyncStatus string `json:"sync_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Seen reports whether the message carries the \Seen flag.
func (e *Email) Seen() bool {
	for _, f := range e.Flags {
		if f == "\\Seen" {
			return true
		}
	}
	return false
}

// Attachment is the stored metadata of one attachment of a cached message.
// The attachment content itself lives inside the raw body in the body store.
type Attachment struct {
	ID       string `json:"id"`
	EmailID  string `json:"email_id"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}
