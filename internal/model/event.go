package model

// HeaderProgress reports incremental progress of one folder's header sync.
// Status is "syncing", "completed", or "error".
type HeaderProgress struct {
	AccountID  string `json:"account_id"`
	FolderID   string `json:"folder_id"`
	FolderPath string `json:"folder_path"`
	Type       string `json:"type"` // always "header"
	Status     string `json:"status"`
	Progress   int    `json:"progress"` // percent, 0-100
	Total      int    `json:"total"`
	Synced     int    `json:"synced"`
	Error      string `json:"error,omitempty"`
}

// DownloadStats is the body-sync aggregate derived from download queue
// counts.
type DownloadStats struct {
	Total      int `json:"total"`
	Synced     int `json:"synced"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Error      int `json:"error"`
}

// OperationStats is the mutation-queue aggregate.
type OperationStats struct {
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Failed     int    `json:"failed"`
	LastError  string `json:"last_error,omitempty"`
}

// OperationFailure notifies the UI layer that a mutation was permanently
// rolled back.
type OperationFailure struct {
	OperationType OpType `json:"operation_type"`
	FolderPath    string `json:"folder_path"`
	AffectedCount int    `json:"affected_count"`
	Error         string `json:"error"`
}
