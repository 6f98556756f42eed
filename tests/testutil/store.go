package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedFolder creates a folder row for tests.
func SeedFolder(t *testing.T, s store.Store, accountID, path string) *model.Folder {
	t.Helper()

	folder, err := s.GetOrCreateFolder(context.Background(), model.Folder{
		AccountID: accountID,
		Name:      path,
		Path:      path,
		Delimiter: "/",
	})
	if err != nil {
		t.Fatalf("seeding folder %s: %v", path, err)
	}
	return folder
}

// SeedEmails inserts minimal pending-body emails with the given UIDs into
// the folder and returns them.
func SeedEmails(t *testing.T, s store.Store, folder *model.Folder, uids ...int64) []model.Email {
	t.Helper()

	now := time.Now().UTC()
	emails := make([]model.Email, 0, len(uids))
	for _, uid := range uids {
		emails = append(emails, model.Email{
			ID:         uuid.NewString(),
			FolderID:   folder.ID,
			UID:        uid,
			MessageID:  fmt.Sprintf("<%d@test.local>", uid),
			Subject:    fmt.Sprintf("message %d", uid),
			From:       "sender@test.local",
			Date:       now,
			Flags:      []string{},
			SyncStatus: model.SyncStatusPending,
		})
	}
	if err := s.InsertEmails(context.Background(), emails); err != nil {
		t.Fatalf("seeding emails: %v", err)
	}
	return emails
}
