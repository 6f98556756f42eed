package ops

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/bodystore"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/tests/testutil"
)

type opsFixture struct {
	store   *store.SQLiteStore
	bodies  *bodystore.Store
	client  *testutil.FakeClient
	dialer  *testutil.FakeDialer
	mutator *Mutator
	worker  *Worker
}

func newFixture(t *testing.T) *opsFixture {
	t.Helper()

	s := testutil.NewTestStore(t)
	bodies, err := bodystore.New(t.TempDir())
	if err != nil {
		t.Fatalf("creating body store: %v", err)
	}
	client := testutil.NewFakeClient()
	dialer := &testutil.FakeDialer{Client: client}

	return &opsFixture{
		store:   s,
		bodies:  bodies,
		client:  client,
		dialer:  dialer,
		mutator: NewMutator(s, 3),
		worker:  NewWorker(s, bodies, dialer, time.Second, nil),
	}
}

// drainToTerminal drains until the queue has no pending work, bounded so a
// broken retry loop fails the test instead of hanging it.
func (f *opsFixture) drainToTerminal(t *testing.T) {
	t.Helper()

	for i := 0; i < 10; i++ {
		f.worker.drainOnce(context.Background())
		stats, err := f.store.OperationCounts(context.Background())
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		if stats.Pending == 0 && stats.Processing == 0 {
			return
		}
	}
	t.Fatal("queue never drained")
}

func TestMutatorDeleteToTrashMarksLocallyAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, f.store, inbox, 101, 102)

	op, err := f.mutator.DeleteToTrash(ctx, "acct-1", "INBOX", []int64{101, 102})
	if err != nil {
		t.Fatalf("delete to trash: %v", err)
	}
	if op.Type != model.OpDeleteTrash {
		t.Errorf("type = %s, want delete_trash", op.Type)
	}

	for _, e := range emails {
		got, err := f.store.GetEmailByID(ctx, e.ID)
		if err != nil {
			t.Fatalf("get email: %v", err)
		}
		if got.SyncStatus != model.SyncStatusDeleted {
			t.Errorf("uid %d status = %s, want deleted", e.UID, got.SyncStatus)
		}
	}

	stats, err := f.store.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("pending operations = %d, want 1", stats.Pending)
	}
}

func TestMutatorMoveCreatesPlaceholdersAndSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	archive := testutil.SeedFolder(t, f.store, "acct-1", "Archive")
	emails := testutil.SeedEmails(t, f.store, inbox, 42)

	op, err := f.mutator.Move(ctx, "acct-1", "INBOX", "Archive", []int64{42})
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	if op.Snapshot == nil || op.Snapshot.Move == nil {
		t.Fatal("move operation has no snapshot")
	}
	snap := op.Snapshot.Move
	if snap.OriginalFolderID != inbox.ID {
		t.Errorf("snapshot folder = %s, want inbox", snap.OriginalFolderID)
	}
	if len(snap.OriginalUIDs) != 1 || snap.OriginalUIDs[0] != 42 {
		t.Errorf("snapshot uids = %v, want [42]", snap.OriginalUIDs)
	}

	moved, err := f.store.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if moved.FolderID != archive.ID {
		t.Errorf("email folder = %s, want archive", moved.FolderID)
	}
	if moved.UID >= 0 {
		t.Errorf("email uid = %d, want negative placeholder", moved.UID)
	}
}

func TestMutatorMoveRejectsUnknownTarget(t *testing.T) {
	f := newFixture(t)

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	testutil.SeedEmails(t, f.store, inbox, 1)

	if _, err := f.mutator.Move(context.Background(), "acct-1", "INBOX", "Nowhere", []int64{1}); err == nil {
		t.Fatal("move to unknown folder succeeded")
	}
}

func TestMutatorAddFlagsAppliesLocallyWithSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, f.store, inbox, 7)
	if err := f.store.SetEmailFlags(ctx, emails[0].ID, []string{"\\Flagged"}); err != nil {
		t.Fatalf("set flags: %v", err)
	}

	op, err := f.mutator.AddFlags(ctx, "acct-1", "INBOX", []int64{7}, []string{"\\Seen"})
	if err != nil {
		t.Fatalf("add flags: %v", err)
	}

	if op.Snapshot == nil || op.Snapshot.Flags == nil {
		t.Fatal("flag operation has no snapshot")
	}
	prior := op.Snapshot.Flags.OriginalFlags[emails[0].ID]
	if len(prior) != 1 || prior[0] != "\\Flagged" {
		t.Errorf("snapshot flags = %v, want [\\Flagged]", prior)
	}

	got, err := f.store.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if !got.Seen() {
		t.Errorf("flags = %v, want to include \\Seen", got.Flags)
	}
}

func TestWorkerReplaysFlagAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	testutil.SeedEmails(t, f.store, inbox, 7)
	f.client.AddMailbox("INBOX", 1)

	if _, err := f.mutator.AddFlags(ctx, "acct-1", "INBOX", []int64{7}, []string{"\\Seen"}); err != nil {
		t.Fatalf("add flags: %v", err)
	}

	f.worker.drainOnce(ctx)

	stats, err := f.store.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Pending != 0 || stats.Failed != 0 {
		t.Fatalf("pending=%d failed=%d, want 0/0", stats.Pending, stats.Failed)
	}

	found := false
	for _, call := range f.client.Calls {
		if strings.Contains(call, "setflags [7]") && strings.Contains(call, "add=true") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no flag replay call, calls = %v", f.client.Calls)
	}
}

func TestWorkerDeleteTrashMovesToTrashFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	if _, err := f.store.GetOrCreateFolder(ctx, model.Folder{
		AccountID:  "acct-1",
		Name:       "Trash",
		Path:       "Trash",
		Delimiter:  "/",
		SpecialUse: model.SpecialUseTrash,
	}); err != nil {
		t.Fatalf("create trash folder: %v", err)
	}
	testutil.SeedEmails(t, f.store, inbox, 101, 102)
	f.client.AddMailbox("INBOX", 1)

	if _, err := f.mutator.DeleteToTrash(ctx, "acct-1", "INBOX", []int64{101, 102}); err != nil {
		t.Fatalf("delete to trash: %v", err)
	}

	f.worker.drainOnce(ctx)

	moved := false
	for _, call := range f.client.Calls {
		if strings.Contains(call, "move [101 102] -> Trash") {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("messages were not moved to trash, calls = %v", f.client.Calls)
	}

	// Confirmed deletes purge the soft-deleted rows.
	uids, err := f.store.ListEmailUIDs(ctx, inbox.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("rows survived the purge: %v", uids)
	}
}

func TestWorkerDeleteFallsBackToExpunge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	testutil.SeedEmails(t, f.store, inbox, 5)
	f.client.AddMailbox("INBOX", 1)

	// No trash folder is known for the account, so the replay expunges.
	if _, err := f.mutator.DeleteToTrash(ctx, "acct-1", "INBOX", []int64{5}); err != nil {
		t.Fatalf("delete to trash: %v", err)
	}

	f.worker.drainOnce(ctx)

	expunged := false
	for _, call := range f.client.Calls {
		if strings.Contains(call, "delete [5]") {
			expunged = true
		}
	}
	if !expunged {
		t.Fatalf("messages were not expunged, calls = %v", f.client.Calls)
	}
}

func TestWorkerMoveSuccessDropsPlaceholders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	archive := testutil.SeedFolder(t, f.store, "acct-1", "Archive")
	emails := testutil.SeedEmails(t, f.store, inbox, 42)
	f.client.AddMailbox("INBOX", 1)

	if _, err := f.mutator.Move(ctx, "acct-1", "INBOX", "Archive", []int64{42}); err != nil {
		t.Fatalf("move: %v", err)
	}

	f.worker.drainOnce(ctx)

	// The placeholder row is dropped; the message re-materializes under
	// its real UID on the next target-folder sync.
	if _, err := f.store.GetEmailByID(ctx, emails[0].ID); err == nil {
		t.Fatal("placeholder row survived a confirmed move")
	}
	uids, err := f.store.ListEmailUIDs(ctx, archive.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("archive uids = %v, want empty until next sync", uids)
	}

	stats, err := f.store.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Failed != 0 || stats.Pending != 0 {
		t.Fatalf("failed=%d pending=%d, want 0/0", stats.Failed, stats.Pending)
	}
}

func TestWorkerMoveRollbackRestoresOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	testutil.SeedFolder(t, f.store, "acct-1", "Archive")
	emails := testutil.SeedEmails(t, f.store, inbox, 42)
	f.client.AddMailbox("INBOX", 1)
	f.client.Err = errors.New("connection reset")

	if _, err := f.mutator.Move(ctx, "acct-1", "INBOX", "Archive", []int64{42}); err != nil {
		t.Fatalf("move: %v", err)
	}

	f.drainToTerminal(t)

	got, err := f.store.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if got.FolderID != inbox.ID {
		t.Errorf("folder = %s, want inbox after rollback", got.FolderID)
	}
	if got.UID != 42 {
		t.Errorf("uid = %d, want 42 after rollback", got.UID)
	}

	stats, err := f.store.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
}

func TestWorkerDeleteRollbackNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, f.store, inbox, 101, 102)
	f.client.AddMailbox("INBOX", 1)
	f.client.Err = errors.New("server unavailable")

	if _, err := f.mutator.DeleteToTrash(ctx, "acct-1", "INBOX", []int64{101, 102}); err != nil {
		t.Fatalf("delete to trash: %v", err)
	}

	f.drainToTerminal(t)

	// Rollback restores the soft-deleted rows.
	for _, e := range emails {
		got, err := f.store.GetEmailByID(ctx, e.ID)
		if err != nil {
			t.Fatalf("get email: %v", err)
		}
		if got.SyncStatus == model.SyncStatusDeleted {
			t.Errorf("uid %d still marked deleted after rollback", e.UID)
		}
	}

	select {
	case failure := <-f.worker.Failures():
		if failure.OperationType != model.OpDeleteTrash {
			t.Errorf("failure type = %s, want delete_trash", failure.OperationType)
		}
		if failure.AffectedCount != 2 {
			t.Errorf("affected = %d, want 2", failure.AffectedCount)
		}
		if failure.FolderPath != "INBOX" {
			t.Errorf("folder = %s, want INBOX", failure.FolderPath)
		}
	default:
		t.Fatal("no rollback notification emitted")
	}

	select {
	case extra := <-f.worker.Failures():
		t.Fatalf("second notification emitted: %+v", extra)
	default:
	}
}

func TestWorkerFlagRollbackRestoresOriginalFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	emails := testutil.SeedEmails(t, f.store, inbox, 7)
	if err := f.store.SetEmailFlags(ctx, emails[0].ID, []string{"\\Flagged"}); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	f.client.AddMailbox("INBOX", 1)
	f.client.Err = errors.New("server unavailable")

	if _, err := f.mutator.AddFlags(ctx, "acct-1", "INBOX", []int64{7}, []string{"\\Seen"}); err != nil {
		t.Fatalf("add flags: %v", err)
	}

	f.drainToTerminal(t)

	got, err := f.store.GetEmailByID(ctx, emails[0].ID)
	if err != nil {
		t.Fatalf("get email: %v", err)
	}
	if len(got.Flags) != 1 || got.Flags[0] != "\\Flagged" {
		t.Errorf("flags = %v, want [\\Flagged] after rollback", got.Flags)
	}
}

func TestWorkerNotFoundCompletesWithoutReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inbox := testutil.SeedFolder(t, f.store, "acct-1", "INBOX")
	testutil.SeedEmails(t, f.store, inbox, 9)
	// The mailbox is not registered on the fake server: open reports it
	// gone, which is a terminal success, not a retry.

	if _, err := f.mutator.DeletePermanent(ctx, "acct-1", "INBOX", []int64{9}); err != nil {
		t.Fatalf("delete permanent: %v", err)
	}

	f.worker.drainOnce(ctx)

	stats, err := f.store.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Pending != 0 || stats.Failed != 0 {
		t.Fatalf("pending=%d failed=%d, want 0/0", stats.Pending, stats.Failed)
	}

	uids, err := f.store.ListEmailUIDs(ctx, inbox.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("rows survived, uids = %v", uids)
	}
}

func TestWorkerPlaceholderOnlyOperationStaysLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	archive := testutil.SeedFolder(t, f.store, "acct-1", "Archive")
	testutil.SeedEmails(t, f.store, archive, -1, -2)

	if _, err := f.mutator.DeletePermanent(ctx, "acct-1", "Archive", []int64{-1, -2}); err != nil {
		t.Fatalf("delete permanent: %v", err)
	}

	f.worker.drainOnce(ctx)

	// No server identity, no dial: the operation resolves entirely locally.
	if f.dialer.Dials != 0 {
		t.Errorf("dials = %d, want 0", f.dialer.Dials)
	}

	stats, err := f.store.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if stats.Pending != 0 || stats.Failed != 0 {
		t.Fatalf("pending=%d failed=%d, want 0/0", stats.Pending, stats.Failed)
	}

	uids, err := f.store.ListEmailUIDs(ctx, archive.ID)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if len(uids) != 0 {
		t.Fatalf("placeholder rows survived, uids = %v", uids)
	}
}
