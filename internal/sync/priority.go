package sync

import (
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// Recency priority tiers. Newer mail downloads first; beyond 30 days the
// priority decays by one per elapsed day with a floor of 1.
const (
	priorityUnder24h  = 1000
	priorityUnder7d   = 500
	priorityUnder30d  = 100
	priorityFloor     = 1
	priorityDecayBase = 100
)

// Folder priority added on top of recency, so a month-old inbox message
// still beats a fresh message in an archive folder.
const (
	folderPriorityInbox  = 1000
	folderPrioritySent   = 500
	folderPriorityDrafts = 400
	folderPriorityOther  = 100
)

// RecencyPriority returns the download priority tier for a message date,
// evaluated against now.
func RecencyPriority(date, now time.Time) int {
	age := now.Sub(date)
	switch {
	case age < 24*time.Hour:
		return priorityUnder24h
	case age < 7*24*time.Hour:
		return priorityUnder7d
	case age < 30*24*time.Hour:
		return priorityUnder30d
	}

	days := int(age / (24 * time.Hour))
	p := priorityDecayBase - (days - 30)
	if p < priorityFloor {
		p = priorityFloor
	}
	return p
}

// FolderPriority returns the additive priority for a folder's special use.
func FolderPriority(specialUse string) int {
	switch specialUse {
	case model.SpecialUseInbox:
		return folderPriorityInbox
	case model.SpecialUseSent:
		return folderPrioritySent
	case model.SpecialUseDrafts:
		return folderPriorityDrafts
	default:
		return folderPriorityOther
	}
}

// DownloadPriority combines recency and folder priority for one message.
func DownloadPriority(date time.Time, specialUse string) int {
	return RecencyPriority(date, time.Now()) + FolderPriority(specialUse)
}
