package services

import "task-sync/internal/models"

// resolveLastWriteWins picks the surviving field set when both sides
// changed a task. A strictly newer server updated_at wins wholesale;
// ties and older server state keep the local version. There is no
// field-level merge.
func resolveLastWriteWins(local *models.Task, server models.TaskSnapshot) models.TaskSnapshot {
	if server.UpdatedAt.After(local.UpdatedAt) {
		server.ID = local.ID
		return server
	}
	return models.SnapshotOf(local)
}
