package repos

import "database/sql"

// EnsureSchema creates the tasks and sync_queue tables if they don't
// exist. Safe to call multiple times.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		server_id TEXT,
		last_synced_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_sync_status ON tasks(sync_status);
	CREATE INDEX IF NOT EXISTS idx_tasks_deleted ON tasks(is_deleted);
	CREATE INDEX IF NOT EXISTS idx_queue_created ON sync_queue(created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_task ON sync_queue(task_id);
	`
	_, err := db.Exec(schema)
	return err
}
