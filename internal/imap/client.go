package imap

import (
	"context"
	"time"
)

// MailboxStatus is what OpenMailbox reports about the selected mailbox.
type MailboxStatus struct {
	UIDValidity uint32
	NumMessages uint32
}

// Header carries one message's envelope-level metadata as fetched from the
// server. UID is always positive here; negative UIDs exist only locally.
type Header struct {
	UID           int64
	MessageID     string
	Subject       string
	From          string
	To            []string
	Cc            []string
	Date          time.Time
	Flags         []string
	HasAttachment bool
	Size          int64
}

// Client is the protocol surface the synchronization engine consumes. One
// client holds one authenticated connection with at most one mailbox
// selected at a time. Implementations classify failures as *Error so
// callers can dispatch on Kind without inspecting error text.
type Client interface {
	// OpenMailbox selects the mailbox at path, read-only when readOnly is
	// set, and reports its UID-validity epoch.
	OpenMailbox(ctx context.Context, path string, readOnly bool) (*MailboxStatus, error)

	// SearchAllUIDs returns every UID in the selected mailbox.
	SearchAllUIDs(ctx context.Context) ([]int64, error)

	// FetchHeaders fetches envelope metadata for the given UIDs.
	FetchHeaders(ctx context.Context, uids []int64) ([]Header, error)

	// FetchRawMessage fetches one message's full raw body, or nil if the
	// message no longer exists.
	FetchRawMessage(ctx context.Context, uid int64) ([]byte, error)

	// CloseMailbox deselects the current mailbox.
	CloseMailbox(ctx context.Context) error

	// SetFlags adds (add=true) or removes flags on the given UIDs in the
	// selected mailbox.
	SetFlags(ctx context.Context, uids []int64, flags []string, add bool) error

	// DeleteMessages flags the given UIDs deleted and expunges them.
	DeleteMessages(ctx context.Context, uids []int64) error

	// MoveMessages moves the given UIDs to the target mailbox.
	MoveMessages(ctx context.Context, uids []int64, targetPath string) error

	// Logout ends the session and releases the connection.
	Logout() error
}

// Dialer produces authenticated clients for an account. The engine dials a
// fresh client per sync pass or worker loop rather than sharing one
// connection across goroutines.
type Dialer interface {
	Dial(ctx context.Context, accountID string) (Client, error)
}
