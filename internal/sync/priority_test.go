package sync

import (
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

func TestRecencyPriorityTiers(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		age  time.Duration
		want int
	}{
		{"one hour old", time.Hour, 1000},
		{"just under a day", 23 * time.Hour, 1000},
		{"two days old", 48 * time.Hour, 500},
		{"just under a week", 6 * 24 * time.Hour, 500},
		{"two weeks old", 14 * 24 * time.Hour, 100},
		{"just under a month", 29 * 24 * time.Hour, 100},
		{"forty days old", 40 * 24 * time.Hour, 90},
		{"very old", 5 * 365 * 24 * time.Hour, 1},
	}

	for _, tc := range cases {
		got := RecencyPriority(now.Add(-tc.age), now)
		if got != tc.want {
			t.Errorf("%s: priority = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRecencyPriorityDecayNeverBelowFloor(t *testing.T) {
	now := time.Now()
	for days := 31; days < 300; days += 13 {
		date := now.Add(-time.Duration(days) * 24 * time.Hour)
		if got := RecencyPriority(date, now); got < 1 {
			t.Fatalf("priority at %d days = %d, below floor", days, got)
		}
	}
}

func TestFolderPriority(t *testing.T) {
	cases := []struct {
		specialUse string
		want       int
	}{
		{model.SpecialUseInbox, 1000},
		{model.SpecialUseSent, 500},
		{model.SpecialUseDrafts, 400},
		{model.SpecialUseTrash, 100},
		{model.SpecialUseArchive, 100},
		{model.SpecialUseNone, 100},
	}

	for _, tc := range cases {
		if got := FolderPriority(tc.specialUse); got != tc.want {
			t.Errorf("FolderPriority(%q) = %d, want %d", tc.specialUse, got, tc.want)
		}
	}
}

func TestDownloadPriorityFolderBeatsRecency(t *testing.T) {
	now := time.Now()

	// A month-old inbox message still outranks a fresh archived one.
	oldInbox := RecencyPriority(now.Add(-29*24*time.Hour), now) + FolderPriority(model.SpecialUseInbox)
	freshArchive := RecencyPriority(now.Add(-time.Hour), now) + FolderPriority(model.SpecialUseArchive)
	if oldInbox <= freshArchive {
		t.Errorf("old inbox = %d, fresh archive = %d; inbox should win", oldInbox, freshArchive)
	}
}
