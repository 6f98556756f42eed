package model

import "time"

// Download queue item statuses. Pending and processing are non-terminal;
// completed and error are terminal.
const (
	DownloadStatusPending    = "pending"
	DownloadStatusProcessing = "processing"
	DownloadStatusCompleted  = "completed"
	DownloadStatusError      = "error"
)

// DownloadItem is one persisted unit of body-fetch work. At most one
// non-terminal item exists per email; re-enqueuing raises the priority of the
// existing item instead of duplicating it.
type DownloadItem struct {
	ID         string    `json:"id"`
	EmailID    string    `json:"email_id"`
	Priority   int       `json:"priority"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// DownloadRequest is the enqueue shape for a batch insert into the
// download queue.
type DownloadRequest struct {
	EmailID  string
	Priority int
}
