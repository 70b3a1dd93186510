package models

import (
	"encoding/json"
	"time"
)

// SyncStatus tracks whether a task's latest local state has been
// acknowledged by the remote authority.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncStatusError SyncStatus = "error"
)

// Operation names the kind of change recorded in a queue entry.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Completed    bool       `json:"completed"`
	IsDeleted    bool       `json:"is_deleted"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SyncStatus   SyncStatus `json:"sync_status"`
	ServerID     *string    `json:"server_id,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// TaskSnapshot is the wire/queue representation of a task's mutable
// fields at one point in time. Queue entries carry the snapshot taken
// at enqueue time; conflict verdicts carry the server's proposed one.
type TaskSnapshot struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	IsDeleted   bool      `json:"is_deleted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SnapshotOf captures the sync-relevant fields of a task.
func SnapshotOf(t *Task) TaskSnapshot {
	return TaskSnapshot{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		IsDeleted:   t.IsDeleted,
		UpdatedAt:   t.UpdatedAt,
	}
}

// SyncQueueItem is one pending change in the durable outbox. Entries
// are never deduplicated; several entries may reference the same task
// and are reconciled independently in creation order.
type SyncQueueItem struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	Operation    Operation       `json:"operation"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
	RetryCount   int             `json:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// SyncError describes one failed queue item within a sync pass.
type SyncError struct {
	TaskID    string    `json:"task_id"`
	Operation Operation `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncResult is the aggregate outcome of a single sync pass.
// Success is true iff no item failed; an offline pass reports
// Success=false with zero counts.
type SyncResult struct {
	Success     bool        `json:"success"`
	SyncedItems int         `json:"synced_items"`
	FailedItems int         `json:"failed_items"`
	Errors      []SyncError `json:"errors"`
}
