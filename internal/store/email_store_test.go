package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/tests/testutil"
)

func TestInvalidateFolderDropsEmailsAndReturnsBodyRefs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	folder := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, s, folder, 1, 2, 3)

	if err := s.SetFolderUIDValidity(ctx, folder.ID, 100); err != nil {
		t.Fatalf("set uid validity: %v", err)
	}
	if err := s.SetEmailBody(ctx, emails[0].ID, "acct-1/f/a.eml", "hello", nil); err != nil {
		t.Fatalf("set body: %v", err)
	}
	if err := s.SetEmailBody(ctx, emails[1].ID, "acct-1/f/b.eml", "world", nil); err != nil {
		t.Fatalf("set body: %v", err)
	}

	refs, err := s.InvalidateFolder(ctx, folder.ID, 200)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("returned %d body refs, want 2", len(refs))
	}

	uids, err := s.ListEmailUIDs(ctx, folder.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("folder still has %d emails after invalidation", len(uids))
	}

	got, err := s.GetFolderByID(ctx, folder.ID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if got.UIDValidity == nil || *got.UIDValidity != 200 {
		t.Fatalf("uid validity = %v, want 200", got.UIDValidity)
	}
}

func TestRefreshFolderCountsExcludesDeletedAndSeen(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	folder := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, s, folder, 1, 2, 3, 4)

	// Two read, two unread; then one unread message is soft-deleted.
	if err := s.SetEmailFlags(ctx, emails[0].ID, []string{"\\Seen"}); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	if err := s.SetEmailFlags(ctx, emails[1].ID, []string{"\\Seen", "\\Flagged"}); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	if err := s.MarkEmailsDeleted(ctx, folder.ID, []int64{3}); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	total, unread, err := s.RefreshFolderCounts(ctx, folder.ID)
	if err != nil {
		t.Fatalf("refresh counts: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if unread != 1 {
		t.Errorf("unread = %d, want 1", unread)
	}

	got, err := s.GetFolderByID(ctx, folder.ID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if got.TotalCount != 3 || got.UnreadCount != 1 {
		t.Errorf("persisted counts = %d/%d, want 3/1", got.TotalCount, got.UnreadCount)
	}
}

func TestMarkUnmarkAndPurgeEmails(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	folder := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, s, folder, 10, 11)

	if err := s.SetEmailBody(ctx, emails[0].ID, "acct-1/f/10.eml", "text", nil); err != nil {
		t.Fatalf("set body: %v", err)
	}

	if err := s.MarkEmailsDeleted(ctx, folder.ID, []int64{10, 11}); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	for _, e := range emails {
		got, err := s.GetEmailByID(ctx, e.ID)
		if err != nil {
			t.Fatalf("get email: %v", err)
		}
		if got.SyncStatus != model.SyncStatusDeleted {
			t.Errorf("uid %d status = %s, want deleted", e.UID, got.SyncStatus)
		}
	}

	// Rollback path: the email with a cached body goes back to synced,
	// the header-only one back to pending.
	if err := s.UnmarkEmailsDeleted(ctx, folder.ID, []int64{10, 11}); err != nil {
		t.Fatalf("unmark deleted: %v", err)
	}
	withBody, err := s.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if withBody.SyncStatus != model.SyncStatusSynced {
		t.Errorf("restored status = %s, want synced", withBody.SyncStatus)
	}
	headerOnly, err := s.GetEmailByID(ctx, emails[1].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if headerOnly.SyncStatus != model.SyncStatusPending {
		t.Errorf("restored status = %s, want pending", headerOnly.SyncStatus)
	}

	refs, err := s.PurgeEmails(ctx, folder.ID, []int64{10, 11})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(refs) != 1 || refs[0] != "acct-1/f/10.eml" {
		t.Errorf("purge refs = %v, want [acct-1/f/10.eml]", refs)
	}
	uids, err := s.ListEmailUIDs(ctx, folder.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("%d emails survived the purge", len(uids))
	}
}

func TestMoveEmailsLocalAssignsNegativePlaceholders(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	archive := testutil.SeedFolder(t, s, "acct-1", "Archive")
	emails := testutil.SeedEmails(t, s, inbox, 42, 43)

	ids := []string{emails[0].ID, emails[1].ID}
	if err := s.MoveEmailsLocal(ctx, ids, archive.ID); err != nil {
		t.Fatalf("move: %v", err)
	}

	for _, id := range ids {
		got, err := s.GetEmailByID(ctx, id)
		if err != nil {
			t.Fatalf("get email: %v", err)
		}
		if got.FolderID != archive.ID {
			t.Errorf("email %s folder = %s, want archive", id, got.FolderID)
		}
		if got.UID >= 0 {
			t.Errorf("email %s uid = %d, want negative placeholder", id, got.UID)
		}
	}

	// Moving more rows keeps placeholder UIDs unique within the folder.
	more := testutil.SeedEmails(t, s, inbox, 44)
	if err := s.MoveEmailsLocal(ctx, []string{more[0].ID}, archive.ID); err != nil {
		t.Fatalf("second move: %v", err)
	}
	uids, err := s.ListEmailUIDs(ctx, archive.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	seen := make(map[int64]bool)
	for _, uid := range uids {
		if seen[uid] {
			t.Fatalf("duplicate placeholder uid %d", uid)
		}
		seen[uid] = true
	}
}

func TestRestoreEmailsReversesMove(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	archive := testutil.SeedFolder(t, s, "acct-1", "Archive")
	emails := testutil.SeedEmails(t, s, inbox, 42)

	snap := model.MoveSnapshot{
		EmailIDs:         []string{emails[0].ID},
		OriginalFolderID: inbox.ID,
		OriginalUIDs:     []int64{42},
	}

	if err := s.MoveEmailsLocal(ctx, snap.EmailIDs, archive.ID); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := s.RestoreEmails(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := s.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if got.FolderID != inbox.ID {
		t.Errorf("folder = %s, want inbox", got.FolderID)
	}
	if got.UID != 42 {
		t.Errorf("uid = %d, want 42", got.UID)
	}
}

func TestDeleteEmailsByUIDsSkipsOtherFolders(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	archive := testutil.SeedFolder(t, s, "acct-1", "Archive")
	testutil.SeedEmails(t, s, inbox, 1, 2)
	testutil.SeedEmails(t, s, archive, 1)

	if _, err := s.DeleteEmailsByUIDs(ctx, inbox.ID, []int64{1}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	inboxUIDs, err := s.ListEmailUIDs(ctx, inbox.ID)
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if len(inboxUIDs) != 1 || inboxUIDs[0] != 2 {
		t.Errorf("inbox uids = %v, want [2]", inboxUIDs)
	}

	archiveUIDs, err := s.ListEmailUIDs(ctx, archive.ID)
	if err != nil {
		t.Fatalf("list archive: %v", err)
	}
	if len(archiveUIDs) != 1 {
		t.Errorf("archive uids = %v, want untouched [1]", archiveUIDs)
	}
}

func TestPendingBodyEmailsAndSetEmailBody(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	folder := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, s, folder, 1, 2)

	pending, err := s.PendingBodyEmails(ctx, folder.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	atts := []model.Attachment{{
		Filename: "report.pdf",
		MIMEType: "application/pdf",
		Size:     2048,
	}}
	if err := s.SetEmailBody(ctx, emails[0].ID, "acct-1/f/1.eml", "body text", atts); err != nil {
		t.Fatalf("set body: %v", err)
	}

	pending, err = s.PendingBodyEmails(ctx, folder.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].UID != 2 {
		t.Fatalf("pending after body = %v, want just uid 2", pending)
	}

	got, err := s.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if got.SyncStatus != model.SyncStatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
	if got.BodyRef != "acct-1/f/1.eml" || got.BodyText != "body text" {
		t.Errorf("body ref/text = %q/%q", got.BodyRef, got.BodyText)
	}

	stored, err := s.GetAttachments(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get attachments: %v", err)
	}
	if len(stored) != 1 || stored[0].Filename != "report.pdf" {
		t.Errorf("attachments = %v, want report.pdf", stored)
	}
}

func TestFoldersNeedingSync(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	stale := testutil.SeedFolder(t, s, "acct-1", "INBOX")
	fresh := testutil.SeedFolder(t, s, "acct-1", "Archive")
	never := testutil.SeedFolder(t, s, "acct-1", "Sent")
	testutil.SeedFolder(t, s, "acct-2", "INBOX")

	now := time.Now().UTC()
	if err := s.SetFolderLastSync(ctx, stale.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("set last sync: %v", err)
	}
	if err := s.SetFolderLastSync(ctx, fresh.ID, now); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	folders, err := s.FoldersNeedingSync(ctx, "acct-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("folders needing sync: %v", err)
	}

	paths := make(map[string]bool, len(folders))
	for _, f := range folders {
		paths[f.Path] = true
	}
	if len(folders) != 2 || !paths[stale.Path] || !paths[never.Path] {
		t.Fatalf("needing sync = %v, want INBOX and Sent", paths)
	}
}
