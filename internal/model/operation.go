package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpType identifies a user-initiated mutation kind.
type OpType string

const (
	OpDeleteTrash     OpType = "delete_trash"
	OpDeletePermanent OpType = "delete_permanent"
	OpMove            OpType = "move"
	OpFlagAdd         OpType = "flag_add"
	OpFlagRemove      OpType = "flag_remove"
)

// Operation queue item statuses. Pending and processing are non-terminal;
// completed and failed are terminal.
const (
	OperationStatusPending    = "pending"
	OperationStatusProcessing = "processing"
	OperationStatusCompleted  = "completed"
	OperationStatusFailed     = "failed"
)

// MoveSnapshot records what is needed to undo an optimistic move: the moved
// rows, the folder they came from, and the UIDs they held there.
type MoveSnapshot struct {
	EmailIDs         []string `json:"email_ids"`
	OriginalFolderID string   `json:"original_folder_id"`
	OriginalUIDs     []int64  `json:"original_uids"`
}

// FlagSnapshot records the prior flag set per affected email so a flag
// mutation can be reversed exactly.
type FlagSnapshot struct {
	// OriginalFlags maps email ID to the flag list before the mutation.
	OriginalFlags map[string][]string `json:"original_flags"`
}

// Snapshot is the original-state record carried by an operation for rollback.
// Exactly one variant is set, matching the operation type: Move for move
// operations, Flags for flag_add/flag_remove. Delete operations carry no
// snapshot; their rollback is un-marking the soft delete.
type Snapshot struct {
	Move  *MoveSnapshot `json:"move,omitempty"`
	Flags *FlagSnapshot `json:"flags,omitempty"`
}

// Operation is one persisted, not-yet-confirmed local mutation. Items are
// replayed against the server strictly in creation order.
type Operation struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Type      OpType `json:"type"`

	// FolderPath is the wire path of the folder the mutation applies to.
	FolderPath string `json:"folder_path"`

	// TargetFolderPath is set for move operations only.
	TargetFolderPath string `json:"target_folder_path"`

	// UIDs are the affected message UIDs in FolderPath. Negative values are
	// local placeholders with no server identity.
	UIDs []int64 `json:"uids"`

	// Flags is set for flag_add/flag_remove operations only.
	Flags []string `json:"flags"`

	// Snapshot is the original-state record for rollback, nil for deletes.
	Snapshot *Snapshot `json:"snapshot"`

	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	ErrorMsg   string `json:"error_msg"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the operation's fields are consistent with its type.
func (o *Operation) Validate() error {
	if len(o.UIDs) == 0 {
		return fmt.Errorf("operation %s: empty UID list", o.Type)
	}
	switch o.Type {
	case OpMove:
		if o.TargetFolderPath == "" {
			return fmt.Errorf("move operation: missing target folder")
		}
		if o.Snapshot == nil || o.Snapshot.Move == nil {
			return fmt.Errorf("move operation: missing move snapshot")
		}
	case OpFlagAdd, OpFlagRemove:
		if len(o.Flags) == 0 {
			return fmt.Errorf("%s operation: empty flag list", o.Type)
		}
		if o.Snapshot == nil || o.Snapshot.Flags == nil {
			return fmt.Errorf("%s operation: missing flag snapshot", o.Type)
		}
	case OpDeleteTrash, OpDeletePermanent:
		// No snapshot required.
	default:
		return fmt.Errorf("unknown operation type %q", o.Type)
	}
	return nil
}

// EncodeSnapshot serializes a snapshot for the operation_queue.original_data
// column. A nil snapshot encodes as the empty string.
func EncodeSnapshot(s *Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeSnapshot deserializes an original_data column value. The empty
// string decodes to nil.
func DecodeSnapshot(raw string) (*Snapshot, error) {
	if raw == "" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &s, nil
}
