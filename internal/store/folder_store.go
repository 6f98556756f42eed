package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// GetOrCreateFolder looks up the folder for (AccountID, Path), creating it
// from the given template if absent.
func (s *SQLiteStore) GetOrCreateFolder(
	ctx context.Context,
	folder model.Folder,
) (*model.Folder, error) {
	existing, err := s.GetFolderByPath(ctx, folder.AccountID, folder.Path)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if folder.ID == "" {
		folder.ID = uuid.New().String()
	}
	if folder.Name == "" {
		folder.Name = lastPathComponent(folder.Path, folder.Delimiter)
	}
	now := nowUTC()
	folder.CreatedAt = now
	folder.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO folders (
			id, account_id, name, path, delimiter, special_use,
			uid_validity, last_sync_at, total_count, unread_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		folder.ID, folder.AccountID, folder.Name, folder.Path,
		folder.Delimiter, folder.SpecialUse,
		folder.UIDValidity, folder.LastSyncAt,
		folder.TotalCount, folder.UnreadCount,
		folder.CreatedAt, folder.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating folder %s: %w", folder.Path, err)
	}

	return &folder, nil
}

// GetFolderByID retrieves a single folder by ID.
func (s *SQLiteStore) GetFolderByID(
	ctx context.Context,
	id string,
) (*model.Folder, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM folders WHERE id = ?", id)
	folder, err := scanFolderRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting folder %s: %w", id, err)
	}
	return &folder, nil
}

// GetFolderByPath retrieves a folder by its (account, path) key.
// Returns sql.ErrNoRows (wrapped) when absent.
func (s *SQLiteStore) GetFolderByPath(
	ctx context.Context,
	accountID, path string,
) (*model.Folder, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM folders WHERE account_id = ? AND path = ?",
		accountID, path,
	)
	folder, err := scanFolderRow(row)
	if err != nil {
		return nil, fmt.Errorf("getting folder %s/%s: %w", accountID, path, err)
	}
	return &folder, nil
}

// ListFolders retrieves all folders for an account ordered by path.
func (s *SQLiteStore) ListFolders(
	ctx context.Context,
	accountID string,
) ([]model.Folder, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM folders WHERE account_id = ? ORDER BY path",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying folders: %w", err)
	}
	defer rows.Close()

	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}

	return folders, rows.Err()
}

// FoldersNeedingSync returns the account's folders whose last_sync_at is
// null or older than the cutoff, ordered by path.
func (s *SQLiteStore) FoldersNeedingSync(
	ctx context.Context,
	accountID string,
	cutoff time.Time,
) ([]model.Folder, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT * FROM folders
		WHERE account_id = ? AND (last_sync_at IS NULL OR last_sync_at < ?)
		ORDER BY path`,
		accountID, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying stale folders: %w", err)
	}
	defer rows.Close()

	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}

	return folders, rows.Err()
}

// SetFolderUIDValidity stores a folder's UID-validity epoch.
func (s *SQLiteStore) SetFolderUIDValidity(
	ctx context.Context,
	folderID string,
	uidValidity uint32,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE folders SET uid_validity = ?, updated_at = ? WHERE id = ?",
		uidValidity, nowUTC(), folderID,
	)
	if err != nil {
		return fmt.Errorf("setting uid_validity for folder %s: %w", folderID, err)
	}
	return nil
}

// InvalidateFolder deletes every cached email in the folder and stores the
// new UID-validity epoch. The delete cascades to attachments and download
// queue entries. Returns the body references of the deleted rows so the
// caller can remove cached raw bodies.
func (s *SQLiteStore) InvalidateFolder(
	ctx context.Context,
	folderID string,
	newValidity uint32,
) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var bodyRefs []string
	err = tx.SelectContext(ctx, &bodyRefs,
		"SELECT body_ref FROM emails WHERE folder_id = ? AND body_ref != ''",
		folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("collecting body refs for folder %s: %w", folderID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM emails WHERE folder_id = ?", folderID,
	); err != nil {
		return nil, fmt.Errorf("invalidating folder %s: %w", folderID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE folders
		SET uid_validity = ?, total_count = 0, unread_count = 0, updated_at = ?
		WHERE id = ?`,
		newValidity, nowUTC(), folderID,
	); err != nil {
		return nil, fmt.Errorf("storing new uid_validity for folder %s: %w", folderID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing folder invalidation: %w", err)
	}
	return bodyRefs, nil
}

// RefreshFolderCounts recomputes and persists the folder's total and unread
// counts. Soft-deleted rows are excluded from both.
func (s *SQLiteStore) RefreshFolderCounts(
	ctx context.Context,
	folderID string,
) (int, int, error) {
	var total, unread int

	err := s.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM emails
		WHERE folder_id = ? AND sync_status != 'deleted'`,
		folderID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("counting emails in folder %s: %w", folderID, err)
	}

	err = s.db.GetContext(ctx, &unread, `
		SELECT COUNT(*) FROM emails
		WHERE folder_id = ? AND sync_status != 'deleted'
		AND flags NOT LIKE '%\Seen%'`,
		folderID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("counting unread in folder %s: %w", folderID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE folders SET total_count = ?, unread_count = ?, updated_at = ?
		WHERE id = ?`,
		total, unread, nowUTC(), folderID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("updating counts for folder %s: %w", folderID, err)
	}

	return total, unread, nil
}

// SetFolderLastSync records when the folder's headers were last reconciled.
func (s *SQLiteStore) SetFolderLastSync(
	ctx context.Context,
	folderID string,
	t time.Time,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE folders SET last_sync_at = ?, updated_at = ? WHERE id = ?",
		t.UTC(), nowUTC(), folderID,
	)
	if err != nil {
		return fmt.Errorf("setting last_sync_at for folder %s: %w", folderID, err)
	}
	return nil
}

// lastPathComponent returns the display name for a mailbox path.
func lastPathComponent(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	if i := strings.LastIndex(path, delimiter); i >= 0 {
		return path[i+len(delimiter):]
	}
	return path
}

// scanFolder scans a folder row from a sqlx.Rows result set.
func scanFolder(rows *sqlx.Rows) (model.Folder, error) {
	var (
		f           model.Folder
		uidValidity sql.NullInt64
		lastSyncAt  sql.NullTime
	)

	err := rows.Scan(
		&f.ID, &f.AccountID, &f.Name, &f.Path, &f.Delimiter, &f.SpecialUse,
		&uidValidity, &lastSyncAt, &f.TotalCount, &f.UnreadCount,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return model.Folder{}, fmt.Errorf("scanning folder row: %w", err)
	}

	applyFolderNullables(&f, uidValidity, lastSyncAt)
	return f, nil
}

// scanFolderRow scans a single folder row from a sqlx.Row.
func scanFolderRow(row *sqlx.Row) (model.Folder, error) {
	var (
		f           model.Folder
		uidValidity sql.NullInt64
		lastSyncAt  sql.NullTime
	)

	err := row.Scan(
		&f.ID, &f.AccountID, &f.Name, &f.Path, &f.Delimiter, &f.SpecialUse,
		&uidValidity, &lastSyncAt, &f.TotalCount, &f.UnreadCount,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return model.Folder{}, err
	}

	applyFolderNullables(&f, uidValidity, lastSyncAt)
	return f, nil
}

func applyFolderNullables(f *model.Folder, uidValidity sql.NullInt64, lastSyncAt sql.NullTime) {
	if uidValidity.Valid {
		v := uint32(uidValidity.Int64)
		f.UIDValidity = &v
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		f.LastSyncAt = &t
	}
}
