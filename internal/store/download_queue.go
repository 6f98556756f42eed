package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// EnqueueDownload inserts a pending body-fetch item for the email, or — if a
// pending/processing item for that email already exists — raises its
// priority to the max of the two and returns it. The single connection makes
// the check-and-set atomic with respect to concurrent enqueuers.
func (s *SQLiteStore) EnqueueDownload(
	ctx context.Context,
	emailID string,
	priority int,
) (*model.DownloadItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := activeDownloadForEmail(ctx, tx, emailID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if item != nil {
		if priority > item.Priority {
			if _, err := tx.ExecContext(ctx,
				"UPDATE download_queue SET priority = ? WHERE id = ?",
				priority, item.ID,
			); err != nil {
				return nil, fmt.Errorf("raising download priority: %w", err)
			}
			item.Priority = priority
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing download enqueue: %w", err)
		}
		return item, nil
	}

	fresh := model.DownloadItem{
		ID:        uuid.New().String(),
		EmailID:   emailID,
		Priority:  priority,
		Status:    model.DownloadStatusPending,
		CreatedAt: nowUTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO download_queue (id, email_id, priority, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		fresh.ID, fresh.EmailID, fresh.Priority, fresh.Status, fresh.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("enqueuing download for email %s: %w", emailID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing download enqueue: %w", err)
	}
	return &fresh, nil
}

// EnqueueDownloadBatch bulk-inserts pending items, skipping emails that
// already have a pending or processing entry.
func (s *SQLiteStore) EnqueueDownloadBatch(
	ctx context.Context,
	reqs []model.DownloadRequest,
) error {
	if len(reqs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// The partial unique index on (email_id) for non-terminal rows turns
	// duplicates into conflicts we ignore.
	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR IGNORE INTO download_queue
			(id, email_id, priority, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return fmt.Errorf("preparing download batch insert: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for _, r := range reqs {
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), r.EmailID, r.Priority,
			model.DownloadStatusPending, now,
		); err != nil {
			return fmt.Errorf("enqueuing download for email %s: %w", r.EmailID, err)
		}
	}

	return tx.Commit()
}

// DequeueDownloads atomically claims up to n pending items in priority order
// (ties broken oldest-first), flipping them to processing before returning.
// The select and flip run in one transaction on the single connection, so
// two concurrent dequeuers never receive the same item.
func (s *SQLiteStore) DequeueDownloads(
	ctx context.Context,
	n int,
) ([]model.DownloadItem, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryxContext(ctx, `
		SELECT id, email_id, priority, status, retry_count, created_at
		FROM download_queue
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting pending downloads: %w", err)
	}

	var items []model.DownloadItem
	for rows.Next() {
		var item model.DownloadItem
		if err := rows.Scan(
			&item.ID, &item.EmailID, &item.Priority,
			&item.Status, &item.RetryCount, &item.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning download item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading pending downloads: %w", err)
	}
	rows.Close()

	if len(items) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
		items[i].Status = model.DownloadStatusProcessing
	}

	query, args, err := sqlx.In(
		"UPDATE download_queue SET status = 'processing' WHERE id IN (?)", ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building claim update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("claiming download items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing download dequeue: %w", err)
	}
	return items, nil
}

// DequeueDownload claims the single highest-priority pending item, or nil
// when the queue is empty.
func (s *SQLiteStore) DequeueDownload(ctx context.Context) (*model.DownloadItem, error) {
	items, err := s.DequeueDownloads(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// CompleteDownload marks an item terminally completed.
func (s *SQLiteStore) CompleteDownload(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE download_queue SET status = 'completed' WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("completing download %s: %w", id, err)
	}
	return nil
}

// FailDownload increments the item's retry count. Below maxRetries the item
// returns to pending for re-draining and the call reports true; otherwise
// the item goes terminal and the call reports false.
func (s *SQLiteStore) FailDownload(
	ctx context.Context,
	id string,
	maxRetries int,
) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var retryCount int
	if err := tx.GetContext(ctx, &retryCount,
		"SELECT retry_count FROM download_queue WHERE id = ?", id,
	); err != nil {
		return false, fmt.Errorf("reading download %s: %w", id, err)
	}

	retryCount++
	canRetry := retryCount < maxRetries

	status := model.DownloadStatusError
	if canRetry {
		status = model.DownloadStatusPending
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE download_queue SET status = ?, retry_count = ? WHERE id = ?",
		status, retryCount, id,
	); err != nil {
		return false, fmt.Errorf("failing download %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing download failure: %w", err)
	}
	return canRetry, nil
}

// ResetProcessingDownloads reverts every processing item to pending.
// Called once at startup: processing state cannot have survived a crash.
func (s *SQLiteStore) ResetProcessingDownloads(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE download_queue SET status = 'pending' WHERE status = 'processing'",
	)
	if err != nil {
		return fmt.Errorf("resetting processing downloads: %w", err)
	}
	return nil
}

// DownloadCounts returns queue depth by state.
func (s *SQLiteStore) DownloadCounts(ctx context.Context) (model.DownloadStats, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT status, COUNT(*) FROM download_queue GROUP BY status",
	)
	if err != nil {
		return model.DownloadStats{}, fmt.Errorf("counting download queue: %w", err)
	}
	defer rows.Close()

	var stats model.DownloadStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.DownloadStats{}, fmt.Errorf("scanning download counts: %w", err)
		}
		switch status {
		case model.DownloadStatusPending:
			stats.Pending = count
		case model.DownloadStatusProcessing:
			stats.Processing = count
		case model.DownloadStatusCompleted:
			stats.Synced = count
		case model.DownloadStatusError:
			stats.Error = count
		}
		stats.Total += count
	}

	return stats, rows.Err()
}

// activeDownloadForEmail finds the email's pending or processing item.
func activeDownloadForEmail(
	ctx context.Context,
	tx *sqlx.Tx,
	emailID string,
) (*model.DownloadItem, error) {
	var item model.DownloadItem
	err := tx.QueryRowxContext(ctx, `
		SELECT id, email_id, priority, status, retry_count, created_at
		FROM download_queue
		WHERE email_id = ? AND status IN ('pending', 'processing')`,
		emailID,
	).Scan(
		&item.ID, &item.EmailID, &item.Priority,
		&item.Status, &item.RetryCount, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up active download for email %s: %w", emailID, err)
	}
	return &item, nil
}
