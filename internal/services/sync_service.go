package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"task-sync/internal/logging"
	"task-sync/internal/models"
	"task-sync/internal/remote"
	"task-sync/internal/repos"
)

// Options bound the engine's interaction with the remote reconciler.
type Options struct {
	BatchSize    int
	ProbeTimeout time.Duration
	MaxRetries   int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 25
	}
	return o
}

// QueueStatus is a read-only view of the outbox and the last pass.
type QueueStatus struct {
	PendingItems  int                `json:"pending_items"`
	EligibleItems int                `json:"eligible_items"`
	LastResult    *models.SyncResult `json:"last_result,omitempty"`
	LastSyncAt    *time.Time         `json:"last_sync_at,omitempty"`
}

// SyncEngine drains the outbox in bounded batches, submits them to the
// remote reconciler, and applies the verdicts back onto the task store
// and the queue.
//
// Sync passes are serialized by an internal mutex: two overlapping
// passes could read the same queue entry before either consumes it.
type SyncEngine struct {
	mu sync.Mutex

	tasks  *TaskService
	queue  *repos.QueueRepo
	remote *remote.Client
	opts   Options
	log    *logging.Logger

	stateMu    sync.Mutex
	lastResult *models.SyncResult
	lastSyncAt *time.Time
}

func NewSyncEngine(tasks *TaskService, queue *repos.QueueRepo, client *remote.Client, opts Options, log *logging.Logger) *SyncEngine {
	return &SyncEngine{
		tasks:  tasks,
		queue:  queue,
		remote: client,
		opts:   opts.withDefaults(),
		log:    log,
	}
}

// Sync runs one reconciliation pass. Per-item failures are absorbed
// into the result; the returned error is non-nil only when local
// storage itself fails.
//
// The pass is idempotent with respect to a crashed predecessor: queue
// entry existence is the source of truth for "still pending", and
// entries already consumed are skipped without being counted.
func (e *SyncEngine) Sync(ctx context.Context) (models.SyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := models.SyncResult{Errors: []models.SyncError{}}

	probeCtx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	err := e.remote.Health(probeCtx)
	cancel()
	if err != nil {
		// Offline is a no-op pass, not an item failure. The queue is
		// left untouched.
		e.log.Warnf("sync: reconciler unreachable: %v", err)
		result.Success = false
		e.record(result)
		return result, nil
	}

	batch, err := e.queue.OldestBatch(e.opts.BatchSize, e.opts.MaxRetries)
	if err != nil {
		return result, fmt.Errorf("read sync queue: %w", err)
	}
	if len(batch) == 0 {
		result.Success = true
		e.record(result)
		return result, nil
	}

	resp, err := e.remote.PushBatch(ctx, batch, time.Now().UTC())
	if err != nil {
		// The batch is an atomic request/response unit: a transport
		// failure fails every item in it.
		if ferr := e.failBatch(batch, err, &result); ferr != nil {
			return result, ferr
		}
		e.record(result)
		return result, nil
	}

	verdicts := make(map[string]remote.ProcessedItem, len(resp.ProcessedItems))
	for _, v := range resp.ProcessedItems {
		verdicts[v.ClientID] = v
	}

	for _, item := range batch {
		v, ok := verdicts[item.ID]
		if !ok {
			if err := e.failItem(item, "no verdict returned for item", &result); err != nil {
				return result, err
			}
			continue
		}
		var err error
		switch v.Status {
		case remote.StatusSuccess:
			err = e.applySuccess(item, v, &result)
		case remote.StatusConflict:
			err = e.applyConflict(item, v, &result)
		default:
			msg := v.Error
			if msg == "" {
				msg = fmt.Sprintf("rejected with status %q", v.Status)
			}
			err = e.failItem(item, msg, &result)
		}
		if err != nil {
			return result, err
		}
	}

	result.Success = result.FailedItems == 0
	e.record(result)
	e.log.Infof("sync: pass complete synced=%d failed=%d", result.SyncedItems, result.FailedItems)
	return result, nil
}

func (e *SyncEngine) applySuccess(item models.SyncQueueItem, v remote.ProcessedItem, result *models.SyncResult) error {
	if item.Operation == models.OpDelete {
		if err := e.tasks.ConfirmDeleted(item.TaskID); err != nil {
			return fmt.Errorf("confirm deletion: %w", err)
		}
	} else {
		if err := e.tasks.MarkSynced(item.TaskID, v.ServerID, time.Now().UTC()); err != nil {
			return fmt.Errorf("mark task synced: %w", err)
		}
	}
	consumed, err := e.queue.Delete(item.ID)
	if err != nil {
		return fmt.Errorf("consume queue item: %w", err)
	}
	if consumed {
		// An entry already consumed by an interrupted earlier pass is
		// not counted again.
		result.SyncedItems++
	}
	return nil
}

func (e *SyncEngine) applyConflict(item models.SyncQueueItem, v remote.ProcessedItem, result *models.SyncResult) error {
	if v.ResolvedData == nil {
		return e.failItem(item, "conflict verdict without resolved data", result)
	}
	local, err := e.tasks.GetAny(item.TaskID)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return e.failItem(item, "conflicting task no longer exists locally", result)
		}
		return fmt.Errorf("load conflicting task: %w", err)
	}

	winner := resolveLastWriteWins(local, *v.ResolvedData)
	if err := e.tasks.ApplyResolved(item.TaskID, winner, v.ServerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("apply resolved task: %w", err)
	}
	consumed, err := e.queue.Delete(item.ID)
	if err != nil {
		return fmt.Errorf("consume queue item: %w", err)
	}
	if consumed {
		result.SyncedItems++
	}
	return nil
}

func (e *SyncEngine) failBatch(batch []models.SyncQueueItem, cause error, result *models.SyncResult) error {
	for _, item := range batch {
		if err := e.failItem(item, cause.Error(), result); err != nil {
			return err
		}
	}
	return nil
}

func (e *SyncEngine) failItem(item models.SyncQueueItem, message string, result *models.SyncResult) error {
	if err := e.queue.MarkFailed(item.ID, message); err != nil {
		return fmt.Errorf("mark queue item failed: %w", err)
	}
	if err := e.tasks.MarkSyncError(item.TaskID); err != nil {
		return fmt.Errorf("mark task errored: %w", err)
	}
	result.FailedItems++
	result.Errors = append(result.Errors, models.SyncError{
		TaskID:    item.TaskID,
		Operation: item.Operation,
		Error:     message,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Run triggers periodic sync passes until the context is cancelled.
func (e *SyncEngine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if res, err := e.Sync(ctx); err != nil {
				e.log.Errorf("sync: storage failure: %v", err)
			} else if !res.Success {
				e.log.Warnf("sync: pass unsuccessful synced=%d failed=%d", res.SyncedItems, res.FailedItems)
			}
		}
	}
}

// Status reports queue depth and the outcome of the last pass.
func (e *SyncEngine) Status() (QueueStatus, error) {
	pending, err := e.queue.Count()
	if err != nil {
		return QueueStatus{}, err
	}
	eligible, err := e.queue.CountEligible(e.opts.MaxRetries)
	if err != nil {
		return QueueStatus{}, err
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return QueueStatus{
		PendingItems:  pending,
		EligibleItems: eligible,
		LastResult:    e.lastResult,
		LastSyncAt:    e.lastSyncAt,
	}, nil
}

func (e *SyncEngine) record(result models.SyncResult) {
	now := time.Now().UTC()
	e.stateMu.Lock()
	e.lastResult = &result
	e.lastSyncAt = &now
	e.stateMu.Unlock()
}
