package sync

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/bodystore"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/tests/testutil"
)

func newTestService(t *testing.T, client *testutil.FakeClient) (*Service, *testutil.FakeDialer) {
	t.Helper()

	s := testutil.NewTestStore(t)
	bodies, err := bodystore.New(t.TempDir())
	if err != nil {
		t.Fatalf("creating body store: %v", err)
	}
	dialer := &testutil.FakeDialer{Client: client}

	cfg := model.SyncConfig{
		AutoSyncIntervalMs:     300000,
		MaxConcurrentDownloads: 1,
		DownloadMaxRetries:     3,
	}
	accounts := []model.AccountConfig{{
		ID:      "acct-1",
		Host:    "imap.example.com",
		Folders: []string{"INBOX", "Archive"},
	}}

	svc := NewService(s, bodies, dialer, cfg, accounts, nil)
	t.Cleanup(svc.Stop)
	return svc, dialer
}

func TestServiceFullSyncThenBodyDownloads(t *testing.T) {
	client := testutil.NewFakeClient()
	inbox := client.AddMailbox("INBOX", 1,
		header(1, "first", time.Hour),
		header(2, "second", time.Hour),
	)
	inbox.Bodies[1] = []byte(plainMessage)
	inbox.Bodies[2] = []byte(plainMessage)
	client.AddMailbox("Archive", 1)

	svc, _ := newTestService(t, client)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.StartFullSync(ctx, "acct-1"); err != nil {
		t.Fatalf("full sync: %v", err)
	}

	// The download loop picks up the queued bodies in the background.
	deadline := time.After(5 * time.Second)
	for {
		status, err := svc.Status(ctx)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.Downloads.Synced == 2 && status.Downloads.Pending == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("downloads never finished: %+v", status.Downloads)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestServiceUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, testutil.NewFakeClient())
	if err := svc.StartFullSync(context.Background(), "nope"); err == nil {
		t.Fatal("full sync succeeded for an unknown account")
	}
}

func TestServiceStateTransitions(t *testing.T) {
	svc, _ := newTestService(t, testutil.NewFakeClient())
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != StateRunning {
		t.Fatalf("state = %s, want running", status.State)
	}

	svc.Pause()
	status, _ = svc.Status(ctx)
	if status.State != StatePaused {
		t.Fatalf("state = %s, want paused", status.State)
	}

	svc.Resume()
	status, _ = svc.Status(ctx)
	if status.State != StateRunning {
		t.Fatalf("state = %s, want running after resume", status.State)
	}

	svc.Stop()
	status, _ = svc.Status(ctx)
	if status.State != StateStopped {
		t.Fatalf("state = %s, want stopped", status.State)
	}

	// Stop is idempotent and terminal.
	svc.Stop()
	svc.Resume()
	status, _ = svc.Status(ctx)
	if status.State != StateStopped {
		t.Fatalf("state = %s, want stopped to stick", status.State)
	}
}

func TestServiceStartSweepsOrphanedBodies(t *testing.T) {
	s := testutil.NewTestStore(t)
	bodies, err := bodystore.New(t.TempDir())
	if err != nil {
		t.Fatalf("creating body store: %v", err)
	}

	// A body file with no referencing email row, e.g. saved right before
	// a crash.
	orphan, err := bodies.Save("acct-1", "folder-1", []byte("orphan"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	svc := NewService(s, bodies, &testutil.FakeDialer{Client: testutil.NewFakeClient()},
		model.SyncConfig{MaxConcurrentDownloads: 1}, nil, nil)
	t.Cleanup(svc.Stop)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := bodies.Read(orphan); err == nil {
		t.Fatal("orphaned body survived startup sweep")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:    "idle",
		StateRunning: "running",
		StatePaused:  "paused",
		StateStopped: "stopped",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
