package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"task-sync/internal/config"
	"task-sync/internal/handlers"
	httpapi "task-sync/internal/http"
	"task-sync/internal/logging"
	"task-sync/internal/remote"
	"task-sync/internal/repos"
	"task-sync/internal/services"
)

func main() {
	// A missing .env file is fine; env vars still apply.
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		log.Errorf("open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repos.EnsureSchema(db); err != nil {
		log.Errorf("ensure schema: %v", err)
		os.Exit(1)
	}

	taskRepo := repos.NewTaskRepo(db)
	queueRepo := repos.NewQueueRepo(db)
	taskSvc := services.NewTaskService(taskRepo, queueRepo)
	reconciler := remote.NewClient(&http.Client{Timeout: 30 * time.Second}, cfg.RemoteBaseURL)
	engine := services.NewSyncEngine(taskSvc, queueRepo, reconciler, services.Options{
		BatchSize:    cfg.BatchSize,
		ProbeTimeout: cfg.ProbeTimeout,
		MaxRetries:   cfg.MaxRetries,
	}, log)

	th := handlers.NewTaskHandler(taskSvc)
	sh := handlers.NewSyncHandler(engine)
	router := httpapi.NewRouter(log, th, sh)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx, cfg.SyncInterval)

	addr := ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Infof("task-sync listening on %s (remote %s)", addr, cfg.RemoteBaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infof("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
}
