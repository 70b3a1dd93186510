package repos

import (
	"database/sql"
	"errors"
	"time"

	"task-sync/internal/models"
)

var ErrNotFound = errors.New("not found")

const taskColumns = `id, title, description, completed, is_deleted, created_at, updated_at, sync_status, server_id, last_synced_at`

// TaskRepo owns the tasks table. Soft-deleted rows stay in storage as
// tombstones until the sync engine confirms the remote deletion.
type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) DB() *sql.DB {
	return r.db
}

func (r *TaskRepo) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *TaskRepo) GetByID(id string) (*models.Task, error) {
	row := r.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (r *TaskRepo) GetByIDTx(tx *sql.Tx, id string) (*models.Task, error) {
	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (r *TaskRepo) InsertTx(tx *sql.Tx, t *models.Task) error {
	_, err := tx.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, t.Completed, t.IsDeleted,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(), t.SyncStatus, t.ServerID, t.LastSyncedAt)
	return err
}

func (r *TaskRepo) UpdateTx(tx *sql.Tx, t *models.Task) error {
	res, err := tx.Exec(`
		UPDATE tasks SET
			title = ?, description = ?, completed = ?, is_deleted = ?,
			updated_at = ?, sync_status = ?
		WHERE id = ?
	`, t.Title, t.Description, t.Completed, t.IsDeleted, t.UpdatedAt.UTC(), t.SyncStatus, t.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepo) ListActive() ([]models.Task, error) {
	return r.list(`SELECT ` + taskColumns + ` FROM tasks WHERE is_deleted = 0 ORDER BY created_at ASC`)
}

// ListNeedingSync returns tasks whose latest state has not been
// acknowledged by the remote, tombstones included.
func (r *TaskRepo) ListNeedingSync() ([]models.Task, error) {
	return r.list(`SELECT ` + taskColumns + ` FROM tasks WHERE sync_status IN ('pending', 'error') ORDER BY created_at ASC`)
}

func (r *TaskRepo) list(query string) ([]models.Task, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// MarkSynced records remote acceptance. The server id is adopted only
// when one isn't already set; a nil serverID never clears an existing one.
func (r *TaskRepo) MarkSynced(id string, serverID *string, syncedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE tasks SET
			sync_status = 'synced',
			last_synced_at = ?,
			server_id = COALESCE(server_id, ?)
		WHERE id = ?
	`, syncedAt.UTC(), serverID, id)
	return err
}

func (r *TaskRepo) MarkSyncError(id string) error {
	_, err := r.db.Exec(`UPDATE tasks SET sync_status = 'error' WHERE id = ?`, id)
	return err
}

// ApplyResolved writes a conflict winner's field set onto the row and
// marks it synced. The task id never changes.
func (r *TaskRepo) ApplyResolved(id string, snap models.TaskSnapshot, serverID *string, syncedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE tasks SET
			title = ?, description = ?, completed = ?, is_deleted = ?,
			updated_at = ?, sync_status = 'synced',
			last_synced_at = ?, server_id = COALESCE(server_id, ?)
		WHERE id = ?
	`, snap.Title, snap.Description, snap.Completed, snap.IsDeleted,
		snap.UpdatedAt.UTC(), syncedAt.UTC(), serverID, id)
	return err
}

// HardDelete drops a tombstone row once the remote has confirmed the
// deletion.
func (r *TaskRepo) HardDelete(id string) error {
	_, err := r.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func scanTask(row interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var t models.Task
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.IsDeleted,
		&t.CreatedAt, &t.UpdatedAt, &t.SyncStatus, &t.ServerID, &t.LastSyncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanTaskFromRows(rows *sql.Rows) (*models.Task, error) {
	var t models.Task
	if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.IsDeleted,
		&t.CreatedAt, &t.UpdatedAt, &t.SyncStatus, &t.ServerID, &t.LastSyncedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
