package repos

import (
	"database/sql"

	"task-sync/internal/models"
)

const queueColumns = `id, task_id, operation, data, created_at, retry_count, error_message`

// QueueRepo owns the sync_queue table (the durable outbox). Entries are
// appended by the task store on every mutation and consumed only by the
// sync engine after a confirmed verdict.
type QueueRepo struct {
	db *sql.DB
}

func NewQueueRepo(db *sql.DB) *QueueRepo {
	return &QueueRepo{db: db}
}

func (r *QueueRepo) InsertTx(tx *sql.Tx, item *models.SyncQueueItem) error {
	_, err := tx.Exec(`
		INSERT INTO sync_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.TaskID, item.Operation, string(item.Data),
		item.CreatedAt.UTC(), item.RetryCount, item.ErrorMessage)
	return err
}

// OldestBatch reads up to limit entries in creation order so that
// multiple operations on one task are reconciled causally. Entries at
// or past the retry cap stay in the queue but are no longer selected.
func (r *QueueRepo) OldestBatch(limit, maxRetries int) ([]models.SyncQueueItem, error) {
	rows, err := r.db.Query(`
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE retry_count < ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.SyncQueueItem, 0, limit)
	for rows.Next() {
		var it models.SyncQueueItem
		var data string
		if err := rows.Scan(&it.ID, &it.TaskID, &it.Operation, &data,
			&it.CreatedAt, &it.RetryCount, &it.ErrorMessage); err != nil {
			return nil, err
		}
		it.Data = []byte(data)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Delete consumes a queue entry. The reported bool is false when the
// entry was already gone, which lets a pass tolerate a partially
// applied predecessor without double-counting.
func (r *QueueRepo) Delete(id string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed increments the retry counter and records the failure
// reason. The entry stays queued for a later pass.
func (r *QueueRepo) MarkFailed(id, message string) error {
	_, err := r.db.Exec(`
		UPDATE sync_queue SET retry_count = retry_count + 1, error_message = ?
		WHERE id = ?
	`, message, id)
	return err
}

func (r *QueueRepo) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}

// CountEligible reports entries still under the retry cap.
func (r *QueueRepo) CountEligible(maxRetries int) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE retry_count < ?`, maxRetries).Scan(&n)
	return n, err
}

// ListForTask returns a task's pending entries in creation order.
func (r *QueueRepo) ListForTask(taskID string) ([]models.SyncQueueItem, error) {
	rows, err := r.db.Query(`
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE task_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.SyncQueueItem, 0)
	for rows.Next() {
		var it models.SyncQueueItem
		var data string
		if err := rows.Scan(&it.ID, &it.TaskID, &it.Operation, &data,
			&it.CreatedAt, &it.RetryCount, &it.ErrorMessage); err != nil {
			return nil, err
		}
		it.Data = []byte(data)
		items = append(items, it)
	}
	return items, rows.Err()
}
