package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"task-sync/internal/handlers"
	"task-sync/internal/logging"
	"task-sync/internal/middleware"
)

func NewRouter(log *logging.Logger, th *handlers.TaskHandler, sh *handlers.SyncHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/tasks", th.CreateTask)
		v1.GET("/tasks", th.ListTasks)
		v1.GET("/tasks/:id", th.GetTask)
		v1.PUT("/tasks/:id", th.UpdateTask)
		v1.DELETE("/tasks/:id", th.DeleteTask)
		v1.POST("/sync", sh.TriggerSync)
		v1.GET("/sync/status", sh.SyncStatus)
	}
	return r
}
