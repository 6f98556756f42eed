package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// EnqueueOperation appends a mutation to the write-ahead operation log.
// The item's local side effect is assumed to have been applied already;
// the worker replays it against the server in FIFO order.
func (s *SQLiteStore) EnqueueOperation(
	ctx context.Context,
	op model.Operation,
) (*model.Operation, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Status == "" {
		op.Status = model.OperationStatusPending
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = 3
	}
	now := nowUTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	uidsJSON, err := marshalInt64s(op.UIDs)
	if err != nil {
		return nil, err
	}
	flagsJSON, err := marshalStrings(op.Flags)
	if err != nil {
		return nil, err
	}
	snapJSON, err := model.EncodeSnapshot(op.Snapshot)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operation_queue (
			id, account_id, op_type, folder_path, target_folder_path,
			uids, flags, original_data, status,
			retry_count, max_retries, error_msg,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.AccountID, string(op.Type), op.FolderPath, op.TargetFolderPath,
		uidsJSON, flagsJSON, snapJSON, op.Status,
		op.RetryCount, op.MaxRetries, op.ErrorMsg,
		op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueuing %s operation: %w", op.Type, err)
	}

	return &op, nil
}

// DequeueOperations atomically claims up to n pending operations in FIFO
// order by creation time, flipping them to processing. Replay order matters:
// a move followed by a flag change on the same message must reach the server
// in that sequence.
func (s *SQLiteStore) DequeueOperations(
	ctx context.Context,
	n int,
) ([]model.Operation, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryxContext(ctx, `
		SELECT * FROM operation_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting pending operations: %w", err)
	}

	var ops []model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading pending operations: %w", err)
	}
	rows.Close()

	if len(ops) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(ops))
	for i := range ops {
		ids[i] = ops[i].ID
		ops[i].Status = model.OperationStatusProcessing
	}

	query, args, err := sqlx.In(
		"UPDATE operation_queue SET status = 'processing', updated_at = ? WHERE id IN (?)",
		nowUTC(), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building claim update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("claiming operations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing operation dequeue: %w", err)
	}
	return ops, nil
}

// CompleteOperation marks an operation terminally completed.
func (s *SQLiteStore) CompleteOperation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE operation_queue SET status = 'completed', updated_at = ? WHERE id = ?",
		nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("completing operation %s: %w", id, err)
	}
	return nil
}

// FailOperation increments the operation's retry count, retaining the error
// message. Below the item's max_retries the item returns to pending and the
// call reports true; otherwise it is marked failed (terminal) and the call
// reports false, signaling the caller to roll back.
func (s *SQLiteStore) FailOperation(ctx context.Context, id, errMsg string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	if err := tx.QueryRowxContext(ctx,
		"SELECT retry_count, max_retries FROM operation_queue WHERE id = ?", id,
	).Scan(&retryCount, &maxRetries); err != nil {
		return false, fmt.Errorf("reading operation %s: %w", id, err)
	}

	retryCount++
	canRetry := retryCount < maxRetries

	status := model.OperationStatusFailed
	if canRetry {
		status = model.OperationStatusPending
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE operation_queue
		SET status = ?, retry_count = ?, error_msg = ?, updated_at = ?
		WHERE id = ?`,
		status, retryCount, errMsg, nowUTC(), id,
	); err != nil {
		return false, fmt.Errorf("failing operation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing operation failure: %w", err)
	}
	return canRetry, nil
}

// ResetProcessingOperations reverts every processing operation to pending.
// Called once at startup after a crash or unclean shutdown.
func (s *SQLiteStore) ResetProcessingOperations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operation_queue SET status = 'pending', updated_at = ?
		WHERE status = 'processing'`,
		nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("resetting processing operations: %w", err)
	}
	return nil
}

// OperationCounts returns mutation-queue depth by state plus the most recent
// error message among failed items.
func (s *SQLiteStore) OperationCounts(ctx context.Context) (model.OperationStats, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT status, COUNT(*) FROM operation_queue GROUP BY status",
	)
	if err != nil {
		return model.OperationStats{}, fmt.Errorf("counting operation queue: %w", err)
	}
	defer rows.Close()

	var stats model.OperationStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.OperationStats{}, fmt.Errorf("scanning operation counts: %w", err)
		}
		switch status {
		case model.OperationStatusPending:
			stats.Pending = count
		case model.OperationStatusProcessing:
			stats.Processing = count
		case model.OperationStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return model.OperationStats{}, err
	}

	if stats.Failed > 0 {
		err = s.db.GetContext(ctx, &stats.LastError, `
			SELECT error_msg FROM operation_queue
			WHERE status = 'failed'
			ORDER BY updated_at DESC LIMIT 1`,
		)
		if err != nil {
			return model.OperationStats{}, fmt.Errorf("reading last operation error: %w", err)
		}
	}

	return stats, nil
}

// scanOperation scans an operation row from a sqlx.Rows result set.
func scanOperation(rows *sqlx.Rows) (model.Operation, error) {
	var (
		op        model.Operation
		opType    string
		uidsJSON  string
		flagsJSON string
		snapJSON  string
	)

	err := rows.Scan(
		&op.ID, &op.AccountID, &opType, &op.FolderPath, &op.TargetFolderPath,
		&uidsJSON, &flagsJSON, &snapJSON, &op.Status,
		&op.RetryCount, &op.MaxRetries, &op.ErrorMsg,
		&op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return model.Operation{}, fmt.Errorf("scanning operation row: %w", err)
	}

	op.Type = model.OpType(opType)
	if op.UIDs, err = unmarshalInt64s(uidsJSON); err != nil {
		return model.Operation{}, err
	}
	if op.Flags, err = unmarshalStrings(flagsJSON); err != nil {
		return model.Operation{}, err
	}
	if op.Snapshot, err = model.DecodeSnapshot(snapJSON); err != nil {
		return model.Operation{}, err
	}

	return op, nil
}
