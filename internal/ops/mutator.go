// Package ops implements the local-first mutation pipeline: mutations apply
// to the local cache immediately and are recorded in a write-ahead operation
// queue, which a background worker replays against the server with bounded
// retry and rollback on permanent failure.
package ops

import (
	"context"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// Mutator applies user mutations optimistically to the local cache and
// enqueues them for replay. Every enqueued operation carries the snapshot
// needed to undo its local effect.
type Mutator struct {
	store      store.Store
	maxRetries int
}

// NewMutator builds a mutator. maxRetries bounds replay attempts per
// operation before rollback.
func NewMutator(s store.Store, maxRetries int) *Mutator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Mutator{store: s, maxRetries: maxRetries}
}

// DeleteToTrash soft-deletes the messages locally and enqueues a
// delete-to-trash replay. The rows are purged only after the server
// confirms.
func (m *Mutator) DeleteToTrash(
	ctx context.Context,
	accountID, folderPath string,
	uids []int64,
) (*model.Operation, error) {
	return m.enqueueDelete(ctx, accountID, folderPath, uids, model.OpDeleteTrash)
}

// DeletePermanent soft-deletes the messages locally and enqueues a
// permanent delete replay.
func (m *Mutator) DeletePermanent(
	ctx context.Context,
	accountID, folderPath string,
	uids []int64,
) (*model.Operation, error) {
	return m.enqueueDelete(ctx, accountID, folderPath, uids, model.OpDeletePermanent)
}

func (m *Mutator) enqueueDelete(
	ctx context.Context,
	accountID, folderPath string,
	uids []int64,
	opType model.OpType,
) (*model.Operation, error) {
	folder, err := m.store.GetFolderByPath(ctx, accountID, folderPath)
	if err != nil {
		return nil, err
	}

	if err := m.store.MarkEmailsDeleted(ctx, folder.ID, uids); err != nil {
		return nil, err
	}
	if _, _, err := m.store.RefreshFolderCounts(ctx, folder.ID); err != nil {
		return nil, err
	}

	return m.store.EnqueueOperation(ctx, model.Operation{
		AccountID:  accountID,
		Type:       opType,
		FolderPath: folderPath,
		UIDs:       uids,
		MaxRetries: m.maxRetries,
	})
}

// Move reassigns the messages to the target folder locally (with negative
// placeholder UIDs, since they have no server identity there yet) and
// enqueues a move replay carrying the snapshot needed to put them back.
func (m *Mutator) Move(
	ctx context.Context,
	accountID, folderPath, targetPath string,
	uids []int64,
) (*model.Operation, error) {
	folder, err := m.store.GetFolderByPath(ctx, accountID, folderPath)
	if err != nil {
		return nil, err
	}
	target, err := m.store.GetFolderByPath(ctx, accountID, targetPath)
	if err != nil {
		return nil, fmt.Errorf("target folder %s not synced locally: %w", targetPath, err)
	}

	emails, err := m.store.GetEmailsByUIDs(ctx, folder.ID, uids)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("no local messages for uids in %s", folderPath)
	}

	snap := model.MoveSnapshot{
		OriginalFolderID: folder.ID,
		EmailIDs:         make([]string, len(emails)),
		OriginalUIDs:     make([]int64, len(emails)),
	}
	for i, e := range emails {
		snap.EmailIDs[i] = e.ID
		snap.OriginalUIDs[i] = e.UID
	}

	if err := m.store.MoveEmailsLocal(ctx, snap.EmailIDs, target.ID); err != nil {
		return nil, err
	}
	if _, _, err := m.store.RefreshFolderCounts(ctx, folder.ID); err != nil {
		return nil, err
	}
	if _, _, err := m.store.RefreshFolderCounts(ctx, target.ID); err != nil {
		return nil, err
	}

	return m.store.EnqueueOperation(ctx, model.Operation{
		AccountID:        accountID,
		Type:             model.OpMove,
		FolderPath:       folderPath,
		TargetFolderPath: targetPath,
		UIDs:             uids,
		Snapshot:         &model.Snapshot{Move: &snap},
		MaxRetries:       m.maxRetries,
	})
}

// AddFlags applies the flags locally and enqueues a flag_add replay.
func (m *Mutator) AddFlags(
	ctx context.Context,
	accountID, folderPath string,
	uids []int64,
	flags []string,
) (*model.Operation, error) {
	return m.enqueueFlags(ctx, accountID, folderPath, uids, flags, true)
}

// RemoveFlags removes the flags locally and enqueues a flag_remove replay.
func (m *Mutator) RemoveFlags(
	ctx context.Context,
	accountID, folderPath string,
	uids []int64,
	flags []string,
) (*model.Operation, error) {
	return m.enqueueFlags(ctx, accountID, folderPath, uids, flags, false)
}

func (m *Mutator) enqueueFlags(
	ctx context.Context,
	accountID, folderPath string,
	uids []int64,
	flags []string,
	add bool,
) (*model.Operation, error) {
	folder, err := m.store.GetFolderByPath(ctx, accountID, folderPath)
	if err != nil {
		return nil, err
	}

	emails, err := m.store.GetEmailsByUIDs(ctx, folder.ID, uids)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("no local messages for uids in %s", folderPath)
	}

	snap := model.FlagSnapshot{OriginalFlags: make(map[string][]string, len(emails))}
	for _, e := range emails {
		snap.OriginalFlags[e.ID] = e.Flags

		var next []string
		if add {
			next = unionFlags(e.Flags, flags)
		} else {
			next = subtractFlags(e.Flags, flags)
		}
		if err := m.store.SetEmailFlags(ctx, e.ID, next); err != nil {
			return nil, err
		}
	}
	if _, _, err := m.store.RefreshFolderCounts(ctx, folder.ID); err != nil {
		return nil, err
	}

	opType := model.OpFlagAdd
	if !add {
		opType = model.OpFlagRemove
	}
	return m.store.EnqueueOperation(ctx, model.Operation{
		AccountID:  accountID,
		Type:       opType,
		FolderPath: folderPath,
		UIDs:       uids,
		Flags:      flags,
		Snapshot:   &model.Snapshot{Flags: &snap},
		MaxRetries: m.maxRetries,
	})
}

func unionFlags(current, add []string) []string {
	seen := make(map[string]bool, len(current)+len(add))
	var out []string
	for _, f := range current {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range add {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func subtractFlags(current, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, f := range remove {
		drop[f] = true
	}
	var out []string
	for _, f := range current {
		if !drop[f] {
			out = append(out, f)
		}
	}
	return out
}
