package bodystore

import (
	"strings"
	"testing"
)

func TestSaveReadRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	raw := []byte("From: a@b\r\n\r\nhello")
	ref, err := s.Save("acct-1", "folder-1", raw)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(ref, "acct-1/folder-1/") || !strings.HasSuffix(ref, ".eml") {
		t.Errorf("ref = %q, want acct-1/folder-1/<uuid>.eml", ref)
	}

	got, err := s.Read(ref)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("read back %q, want %q", got, raw)
	}

	if err := s.Remove(ref); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Read(ref); err == nil {
		t.Fatal("read succeeded after remove")
	}

	// Removing again must be a no-op, not an error.
	if err := s.Remove(ref); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestRemoveAllContinuesPastMissing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ref1, err := s.Save("a", "f", []byte("one"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	ref2, err := s.Save("a", "f", []byte("two"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.RemoveAll([]string{ref1, "a/f/gone.eml", ref2}); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	for _, ref := range []string{ref1, ref2} {
		if _, err := s.Read(ref); err == nil {
			t.Errorf("%s survived RemoveAll", ref)
		}
	}
}

func TestRemoveFolder(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	doomed, err := s.Save("acct-1", "folder-1", []byte("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	kept, err := s.Save("acct-1", "folder-2", []byte("y"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.RemoveFolder("acct-1", "folder-1"); err != nil {
		t.Fatalf("remove folder: %v", err)
	}

	if _, err := s.Read(doomed); err == nil {
		t.Error("folder-1 body survived")
	}
	if _, err := s.Read(kept); err != nil {
		t.Errorf("folder-2 body lost: %v", err)
	}
}

func TestSweepRemovesOrphans(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	valid, err := s.Save("a", "f", []byte("referenced"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	orphan1, err := s.Save("a", "f", []byte("orphan"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	orphan2, err := s.Save("b", "g", []byte("orphan"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	removed, err := s.Sweep(map[string]bool{valid: true})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	if _, err := s.Read(valid); err != nil {
		t.Errorf("referenced body swept: %v", err)
	}
	for _, ref := range []string{orphan1, orphan2} {
		if _, err := s.Read(ref); err == nil {
			t.Errorf("orphan %s survived sweep", ref)
		}
	}
}
