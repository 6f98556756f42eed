package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// InsertEmails bulk-inserts new header rows in a single transaction with a
// prepared statement, avoiding one round-trip per row. Missing IDs and
// sync statuses are filled in.
func (s *SQLiteStore) InsertEmails(ctx context.Context, emails []model.Email) error {
	if len(emails) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO emails (
			id, folder_id, uid, message_id, subject,
			from_addr, to_addrs, cc_addrs, date, flags,
			has_attachment, size, body_ref, body_text, sync_status,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing email insert: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for _, e := range emails {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.SyncStatus == "" {
			e.SyncStatus = model.SyncStatusPending
		}

		toJSON, err := marshalStrings(e.To)
		if err != nil {
			return err
		}
		ccJSON, err := marshalStrings(e.Cc)
		if err != nil {
			return err
		}
		flagsJSON, err := marshalStrings(e.Flags)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			e.ID, e.FolderID, e.UID, e.MessageID, e.Subject,
			e.From, toJSON, ccJSON, e.Date.UTC(), flagsJSON,
			boolToInt(e.HasAttachment), e.Size, e.BodyRef, e.BodyText, e.SyncStatus,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting email uid %d: %w", e.UID, err)
		}
	}

	return tx.Commit()
}

// GetEmailByID retrieves a single email by ID.
func (s *SQLiteStore) GetEmailByID(ctx context.Context, id string) (*model.Email, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM emails WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying email %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying email %s: %w", id, err)
		}
		return nil, fmt.Errorf("email %s not found", id)
	}

	e, err := scanEmail(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEmailsByUIDs retrieves the folder's emails with the given UIDs.
func (s *SQLiteStore) GetEmailsByUIDs(
	ctx context.Context,
	folderID string,
	uids []int64,
) ([]model.Email, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM emails WHERE folder_id = ? AND uid IN (?) ORDER BY uid",
		folderID, uids,
	)
	if err != nil {
		return nil, fmt.Errorf("building uid query: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying emails by uid: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}

	return emails, rows.Err()
}

// ListEmailUIDs returns every UID cached for the folder, including negative
// placeholders.
func (s *SQLiteStore) ListEmailUIDs(ctx context.Context, folderID string) ([]int64, error) {
	var uids []int64
	err := s.db.SelectContext(ctx, &uids,
		"SELECT uid FROM emails WHERE folder_id = ? ORDER BY uid", folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing uids for folder %s: %w", folderID, err)
	}
	return uids, nil
}

// DeleteEmailsByUIDs removes the folder's rows with the given UIDs (server
// expunged them), returning their body references for cleanup.
func (s *SQLiteStore) DeleteEmailsByUIDs(
	ctx context.Context,
	folderID string,
	uids []int64,
) ([]string, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(
		"SELECT body_ref FROM emails WHERE folder_id = ? AND uid IN (?) AND body_ref != ''",
		folderID, uids,
	)
	if err != nil {
		return nil, fmt.Errorf("building body ref query: %w", err)
	}
	var bodyRefs []string
	if err := tx.SelectContext(ctx, &bodyRefs, query, args...); err != nil {
		return nil, fmt.Errorf("collecting body refs: %w", err)
	}

	query, args, err = sqlx.In(
		"DELETE FROM emails WHERE folder_id = ? AND uid IN (?)",
		folderID, uids,
	)
	if err != nil {
		return nil, fmt.Errorf("building delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("deleting emails: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing email delete: %w", err)
	}
	return bodyRefs, nil
}

// DeleteEmailsByIDs removes rows by ID, returning body references for
// cleanup.
func (s *SQLiteStore) DeleteEmailsByIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(
		"SELECT body_ref FROM emails WHERE id IN (?) AND body_ref != ''", ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building body ref query: %w", err)
	}
	var bodyRefs []string
	if err := tx.SelectContext(ctx, &bodyRefs, query, args...); err != nil {
		return nil, fmt.Errorf("collecting body refs: %w", err)
	}

	query, args, err = sqlx.In("DELETE FROM emails WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("building delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("deleting emails: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing email delete: %w", err)
	}
	return bodyRefs, nil
}

// SetEmailBody records a fetched body and flips the email to synced.
// Attachment metadata rows are replaced in the same transaction.
func (s *SQLiteStore) SetEmailBody(
	ctx context.Context,
	emailID, bodyRef, bodyText string,
	attachments []model.Attachment,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE emails SET
			body_ref = ?, body_text = ?, has_attachment = ?,
			sync_status = ?, updated_at = ?
		WHERE id = ?`,
		bodyRef, bodyText, boolToInt(len(attachments) > 0),
		model.SyncStatusSynced, nowUTC(), emailID,
	)
	if err != nil {
		return fmt.Errorf("storing body for email %s: %w", emailID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("email %s not found", emailID)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM attachments WHERE email_id = ?", emailID,
	); err != nil {
		return fmt.Errorf("clearing attachments for email %s: %w", emailID, err)
	}

	for _, a := range attachments {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, email_id, filename, mime_type, size)
			VALUES (?, ?, ?, ?, ?)`,
			a.ID, emailID, a.Filename, a.MIMEType, a.Size,
		); err != nil {
			return fmt.Errorf("inserting attachment %s: %w", a.Filename, err)
		}
	}

	return tx.Commit()
}

// SetEmailSyncStatus updates a single email's sync status.
func (s *SQLiteStore) SetEmailSyncStatus(ctx context.Context, emailID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE emails SET sync_status = ?, updated_at = ? WHERE id = ?",
		status, nowUTC(), emailID,
	)
	if err != nil {
		return fmt.Errorf("setting sync status for email %s: %w", emailID, err)
	}
	return nil
}

// SetEmailFlags replaces a single email's flag list.
func (s *SQLiteStore) SetEmailFlags(ctx context.Context, emailID string, flags []string) error {
	flagsJSON, err := marshalStrings(flags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE emails SET flags = ?, updated_at = ? WHERE id = ?",
		flagsJSON, nowUTC(), emailID,
	)
	if err != nil {
		return fmt.Errorf("setting flags for email %s: %w", emailID, err)
	}
	return nil
}

// GetAttachments retrieves the stored attachment metadata for an email.
func (s *SQLiteStore) GetAttachments(ctx context.Context, emailID string) ([]model.Attachment, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM attachments WHERE email_id = ? ORDER BY filename", emailID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attachments for email %s: %w", emailID, err)
	}
	defer rows.Close()

	var attachments []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Filename, &a.MIMEType, &a.Size); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// MarkEmailsDeleted sets the soft-delete mark on the folder's rows with the
// given UIDs. The rows stay in place until the server confirms the delete.
func (s *SQLiteStore) MarkEmailsDeleted(ctx context.Context, folderID string, uids []int64) error {
	return s.setStatusByUIDs(ctx, folderID, uids, model.SyncStatusDeleted, "")
}

// UnmarkEmailsDeleted reverses the soft-delete mark: rows with a cached body
// return to synced, the rest to pending.
func (s *SQLiteStore) UnmarkEmailsDeleted(ctx context.Context, folderID string, uids []int64) error {
	if len(uids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE emails SET
			sync_status = CASE WHEN body_ref != '' THEN 'synced' ELSE 'pending' END,
			updated_at = ?
		WHERE folder_id = ? AND uid IN (?) AND sync_status = 'deleted'`,
		nowUTC(), folderID, uids,
	)
	if err != nil {
		return fmt.Errorf("building unmark query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("unmarking deleted emails: %w", err)
	}
	return nil
}

// PurgeEmails hard-deletes soft-deleted rows once the server has confirmed
// the delete, returning body references for cleanup.
func (s *SQLiteStore) PurgeEmails(
	ctx context.Context,
	folderID string,
	uids []int64,
) ([]string, error) {
	return s.DeleteEmailsByUIDs(ctx, folderID, uids)
}

// MoveEmailsLocal reassigns rows to the target folder, giving each a fresh
// negative placeholder UID since it has no server identity there yet.
func (s *SQLiteStore) MoveEmailsLocal(
	ctx context.Context,
	emailIDs []string,
	targetFolderID string,
) error {
	if len(emailIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Placeholder UIDs count down from the lowest one already present.
	var minUID int64
	err = tx.GetContext(ctx, &minUID,
		"SELECT COALESCE(MIN(uid), 0) FROM emails WHERE folder_id = ?",
		targetFolderID,
	)
	if err != nil {
		return fmt.Errorf("finding placeholder uid for folder %s: %w", targetFolderID, err)
	}
	next := minUID
	if next > 0 {
		next = 0
	}

	now := nowUTC()
	for _, id := range emailIDs {
		next--
		if _, err := tx.ExecContext(ctx,
			"UPDATE emails SET folder_id = ?, uid = ?, updated_at = ? WHERE id = ?",
			targetFolderID, next, now, id,
		); err != nil {
			return fmt.Errorf("moving email %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// RestoreEmails reverses a local move using the operation's snapshot,
// putting each row back in its original folder with its original UID.
func (s *SQLiteStore) RestoreEmails(ctx context.Context, snap model.MoveSnapshot) error {
	if len(snap.EmailIDs) != len(snap.OriginalUIDs) {
		return fmt.Errorf(
			"move snapshot mismatch: %d emails, %d uids",
			len(snap.EmailIDs), len(snap.OriginalUIDs),
		)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	for i, id := range snap.EmailIDs {
		if _, err := tx.ExecContext(ctx,
			"UPDATE emails SET folder_id = ?, uid = ?, updated_at = ? WHERE id = ?",
			snap.OriginalFolderID, snap.OriginalUIDs[i], now, id,
		); err != nil {
			return fmt.Errorf("restoring email %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// PendingBodyEmails returns emails in the folder whose body has not been
// fetched yet, oldest first.
func (s *SQLiteStore) PendingBodyEmails(
	ctx context.Context,
	folderID string,
) ([]model.Email, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT * FROM emails
		WHERE folder_id = ? AND sync_status = 'pending' AND body_ref = ''
		ORDER BY date`,
		folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending emails: %w", err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}

	return emails, rows.Err()
}

// ListAllBodyRefs returns every recorded body reference, for sweeping
// orphaned files out of the body store.
func (s *SQLiteStore) ListAllBodyRefs(ctx context.Context) ([]string, error) {
	var refs []string
	err := s.db.SelectContext(ctx, &refs,
		"SELECT body_ref FROM emails WHERE body_ref != ''",
	)
	if err != nil {
		return nil, fmt.Errorf("listing body refs: %w", err)
	}
	return refs, nil
}

// setStatusByUIDs updates sync_status for the folder's rows with the given
// UIDs; onlyFrom, when non-empty, limits the update to rows currently in
// that status.
func (s *SQLiteStore) setStatusByUIDs(
	ctx context.Context,
	folderID string,
	uids []int64,
	status, onlyFrom string,
) error {
	if len(uids) == 0 {
		return nil
	}

	q := "UPDATE emails SET sync_status = ?, updated_at = ? WHERE folder_id = ? AND uid IN (?)"
	args := []interface{}{status, nowUTC(), folderID, uids}
	if onlyFrom != "" {
		q += " AND sync_status = ?"
		args = append(args, onlyFrom)
	}

	query, inArgs, err := sqlx.In(q, args...)
	if err != nil {
		return fmt.Errorf("building status update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, inArgs...); err != nil {
		return fmt.Errorf("updating sync status: %w", err)
	}
	return nil
}

// scanEmail scans an email row from a sqlx.Rows result set.
func scanEmail(rows *sqlx.Rows) (model.Email, error) {
	var (
		e             model.Email
		toJSON        string
		ccJSON        string
		flagsJSON     string
		hasAttachment int
	)

	err := rows.Scan(
		&e.ID, &e.FolderID, &e.UID, &e.MessageID, &e.Subject,
		&e.From, &toJSON, &ccJSON, &e.Date, &flagsJSON,
		&hasAttachment, &e.Size, &e.BodyRef, &e.BodyText, &e.SyncStatus,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return model.Email{}, fmt.Errorf("scanning email row: %w", err)
	}

	e.HasAttachment = hasAttachment != 0
	if e.To, err = unmarshalStrings(toJSON); err != nil {
		return model.Email{}, err
	}
	if e.Cc, err = unmarshalStrings(ccJSON); err != nil {
		return model.Email{}, err
	}
	if e.Flags, err = unmarshalStrings(flagsJSON); err != nil {
		return model.Email{}, err
	}

	return e, nil
}
