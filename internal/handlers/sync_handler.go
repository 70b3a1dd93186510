package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"task-sync/internal/services"
)

type SyncHandler struct {
	engine *services.SyncEngine
}

func NewSyncHandler(engine *services.SyncEngine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// TriggerSync runs one sync pass. Per-item failures come back inside
// the result body; only a storage failure produces a 500.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	result, err := h.engine.Sync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SyncHandler) SyncStatus(c *gin.Context) {
	status, err := h.engine.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
