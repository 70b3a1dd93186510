package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"task-sync/internal/models"
	"task-sync/internal/repos"
)

type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// UpdateInput carries partial updates; nil fields are left untouched.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// TaskService owns the task lifecycle. Every successful mutation
// persists the new row state, marks the task pending, and appends
// exactly one outbox entry — all inside one transaction, so a row
// change without its queue entry (or the reverse) cannot be observed.
type TaskService struct {
	tasks *repos.TaskRepo
	queue *repos.QueueRepo
}

func NewTaskService(tasks *repos.TaskRepo, queue *repos.QueueRepo) *TaskService {
	return &TaskService{tasks: tasks, queue: queue}
}

func (s *TaskService) Create(in CreateInput) (*models.Task, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	now := time.Now().UTC()
	t := &models.Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Completed:   in.Completed,
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  models.SyncPending,
	}
	err := s.tasks.WithTx(func(tx *sql.Tx) error {
		if err := s.tasks.InsertTx(tx, t); err != nil {
			return err
		}
		return s.enqueueTx(tx, t, models.OpCreate)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies a partial update. Missing and soft-deleted tasks both
// report repos.ErrNotFound without enqueuing anything.
func (s *TaskService) Update(id string, in UpdateInput) (*models.Task, error) {
	var out *models.Task
	err := s.tasks.WithTx(func(tx *sql.Tx) error {
		t, err := s.tasks.GetByIDTx(tx, id)
		if err != nil {
			return err
		}
		if t.IsDeleted {
			return repos.ErrNotFound
		}
		if in.Title != nil {
			t.Title = *in.Title
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Completed != nil {
			t.Completed = *in.Completed
		}
		t.UpdatedAt = nextUpdateTime(t.UpdatedAt)
		t.SyncStatus = models.SyncPending
		if err := s.tasks.UpdateTx(tx, t); err != nil {
			return err
		}
		if err := s.enqueueTx(tx, t, models.OpUpdate); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete marks a task as deleted. The tombstone row stays in
// storage until the sync engine confirms the remote deletion.
func (s *TaskService) SoftDelete(id string) (bool, error) {
	deleted := false
	err := s.tasks.WithTx(func(tx *sql.Tx) error {
		t, err := s.tasks.GetByIDTx(tx, id)
		if err != nil {
			if errors.Is(err, repos.ErrNotFound) {
				return nil
			}
			return err
		}
		if t.IsDeleted {
			return nil
		}
		t.IsDeleted = true
		t.UpdatedAt = nextUpdateTime(t.UpdatedAt)
		t.SyncStatus = models.SyncPending
		if err := s.tasks.UpdateTx(tx, t); err != nil {
			return err
		}
		if err := s.enqueueTx(tx, t, models.OpDelete); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Get returns a task by id. Soft-deleted tasks return (nil, nil): the
// row still exists as a tombstone but is invisible to readers.
func (s *TaskService) Get(id string) (*models.Task, error) {
	t, err := s.tasks.GetByID(id)
	if err != nil {
		return nil, err
	}
	if t.IsDeleted {
		return nil, nil
	}
	return t, nil
}

// GetAny returns a task regardless of its tombstone state. Used by the
// sync engine when resolving conflicts.
func (s *TaskService) GetAny(id string) (*models.Task, error) {
	return s.tasks.GetByID(id)
}

func (s *TaskService) ListActive() ([]models.Task, error) {
	return s.tasks.ListActive()
}

func (s *TaskService) ListNeedingSync() ([]models.Task, error) {
	return s.tasks.ListNeedingSync()
}

// MarkSynced, MarkSyncError, ApplyResolved and ConfirmDeleted are the
// engine's write-back path. They never enqueue: sync-originated writes
// must not generate new outbox entries.

func (s *TaskService) MarkSynced(id string, serverID *string, syncedAt time.Time) error {
	return s.tasks.MarkSynced(id, serverID, syncedAt)
}

func (s *TaskService) MarkSyncError(id string) error {
	return s.tasks.MarkSyncError(id)
}

func (s *TaskService) ApplyResolved(id string, snap models.TaskSnapshot, serverID *string, syncedAt time.Time) error {
	return s.tasks.ApplyResolved(id, snap, serverID, syncedAt)
}

// ConfirmDeleted drops a tombstone once the remote acknowledged the
// deletion.
func (s *TaskService) ConfirmDeleted(id string) error {
	return s.tasks.HardDelete(id)
}

func (s *TaskService) enqueueTx(tx *sql.Tx, t *models.Task, op models.Operation) error {
	data, err := json.Marshal(models.SnapshotOf(t))
	if err != nil {
		return err
	}
	item := &models.SyncQueueItem{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Operation: op,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	return s.queue.InsertTx(tx, item)
}

// nextUpdateTime keeps updated_at strictly non-decreasing per task even
// when mutations land within the same clock tick.
func nextUpdateTime(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}
