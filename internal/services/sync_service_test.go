package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"task-sync/internal/logging"
	"task-sync/internal/models"
	"task-sync/internal/remote"
	"task-sync/internal/repos"
)

func setupEngine(t *testing.T, baseURL string, opts Options) (*SyncEngine, *TaskService, *repos.QueueRepo) {
	t.Helper()
	svc, queue := setupStore(t)
	engine := NewSyncEngine(svc, queue, remote.NewClient(nil, baseURL), opts, logging.New("error"))
	return engine, svc, queue
}

func decodeBatch(t *testing.T, r *http.Request) remote.BatchRequest {
	t.Helper()
	var req remote.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode batch request: %v", err)
	}
	return req
}

func verdictsForAll(req remote.BatchRequest, status string, serverID *string, resolved *models.TaskSnapshot) remote.BatchResponse {
	var out remote.BatchResponse
	for _, it := range req.Items {
		out.ProcessedItems = append(out.ProcessedItems, remote.ProcessedItem{
			ClientID:     it.ID,
			Status:       status,
			ServerID:     serverID,
			ResolvedData: resolved,
		})
	}
	return out
}

func TestSyncOfflineLeavesQueueUntouched(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer ts.Close()

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	if _, err := svc.Create(CreateInput{Title: "offline"}); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.SyncedItems != 0 || res.FailedItems != 0 || len(res.Errors) != 0 {
		t.Fatalf("expected no-op offline pass, got %+v", res)
	}

	entries, err := queue.OldestBatch(10, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("queue must be untouched, got %d entries", len(entries))
	}
	if entries[0].RetryCount != 0 || entries[0].ErrorMessage != nil {
		t.Fatalf("offline pass must not touch entries: %+v", entries[0])
	}
}

func TestSyncSuccessConsumesQueue(t *testing.T) {
	var batchCalls int32
	serverID := "srv-1"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			atomic.AddInt32(&batchCalls, 1)
			req := decodeBatch(t, r)
			if len(req.Items) != 1 || req.Items[0].Operation != models.OpCreate {
				t.Fatalf("unexpected batch: %+v", req.Items)
			}
			if req.ClientTimestamp.IsZero() {
				t.Fatal("missing client timestamp")
			}
			_ = json.NewEncoder(w).Encode(verdictsForAll(req, remote.StatusSuccess, &serverID, nil))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	task, err := svc.Create(CreateInput{Title: "buy milk"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.SyncedItems != 1 || res.FailedItems != 0 {
		t.Fatalf("expected clean pass, got %+v", res)
	}

	got, err := svc.Get(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("expected synced status, got %s", got.SyncStatus)
	}
	if got.ServerID == nil || *got.ServerID != "srv-1" {
		t.Fatalf("expected server_id srv-1, got %v", got.ServerID)
	}
	if got.LastSyncedAt == nil {
		t.Fatal("expected last_synced_at to be set")
	}
	if n, _ := queue.Count(); n != 0 {
		t.Fatalf("expected empty queue, got %d entries", n)
	}

	// A consumed entry must never reappear in a later batch.
	res, err = engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("expected trivial success on empty queue, got %+v", res)
	}
	if got := atomic.LoadInt32(&batchCalls); got != 1 {
		t.Fatalf("expected exactly 1 batch call, got %d", got)
	}
}

func TestSyncConflictServerWins(t *testing.T) {
	engine, svc, queue, taskID := conflictFixture(t, time.Hour)

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.SyncedItems != 1 {
		t.Fatalf("expected resolved conflict to count as synced, got %+v", res)
	}

	got, err := svc.Get(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Completed || got.Title != "server title" {
		t.Fatalf("expected server snapshot to win, got %+v", got)
	}
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("expected synced status, got %s", got.SyncStatus)
	}
	if n, _ := queue.Count(); n != 0 {
		t.Fatalf("expected queue entry removed, got %d", n)
	}
}

func TestSyncConflictLocalWins(t *testing.T) {
	engine, svc, queue, taskID := conflictFixture(t, -time.Hour)

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.SyncedItems != 1 {
		t.Fatalf("expected resolved conflict to count as synced, got %+v", res)
	}

	got, err := svc.Get(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Completed || got.Title != "local title" {
		t.Fatalf("expected local snapshot to win, got %+v", got)
	}
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("expected synced status, got %s", got.SyncStatus)
	}
	if n, _ := queue.Count(); n != 0 {
		t.Fatalf("expected queue entry removed, got %d", n)
	}
}

// conflictFixture creates one local task and a reconciler that answers
// every batch with a conflict verdict whose resolved snapshot is offset
// from the local updated_at by serverOffset.
func conflictFixture(t *testing.T, serverOffset time.Duration) (*SyncEngine, *TaskService, *repos.QueueRepo, string) {
	t.Helper()

	var taskID string
	var localUpdatedAt time.Time
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			req := decodeBatch(t, r)
			resolved := &models.TaskSnapshot{
				ID:        taskID,
				Title:     "server title",
				Completed: true,
				UpdatedAt: localUpdatedAt.Add(serverOffset),
			}
			_ = json.NewEncoder(w).Encode(verdictsForAll(req, remote.StatusConflict, nil, resolved))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(ts.Close)

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	task, err := svc.Create(CreateInput{Title: "local title"})
	if err != nil {
		t.Fatal(err)
	}
	taskID = task.ID
	localUpdatedAt = task.UpdatedAt
	return engine, svc, queue, taskID
}

func TestBatchTransportFailureMarksWholeBatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	ids := make([]string, 0, 3)
	for _, title := range []string{"a", "b", "c"} {
		task, err := svc.Create(CreateInput{Title: title})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.SyncedItems != 0 || res.FailedItems != 3 {
		t.Fatalf("expected whole-batch failure, got %+v", res)
	}
	if len(res.Errors) != 3 {
		t.Fatalf("expected one error per item, got %d", len(res.Errors))
	}

	entries, err := queue.OldestBatch(10, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("failed entries must stay queued, got %d", len(entries))
	}
	for _, e := range entries {
		if e.RetryCount != 1 {
			t.Fatalf("expected retry_count 1, got %d", e.RetryCount)
		}
		if e.ErrorMessage == nil || *e.ErrorMessage == "" {
			t.Fatal("expected error_message to be recorded")
		}
	}
	for _, id := range ids {
		task, err := svc.GetAny(id)
		if err != nil {
			t.Fatal(err)
		}
		if task.SyncStatus != models.SyncStatusError {
			t.Fatalf("expected error status for %s, got %s", id, task.SyncStatus)
		}
	}
}

func TestConfirmedDeleteDropsTombstone(t *testing.T) {
	serverID := "srv-9"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			req := decodeBatch(t, r)
			_ = json.NewEncoder(w).Encode(verdictsForAll(req, remote.StatusSuccess, &serverID, nil))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	task, err := svc.Create(CreateInput{Title: "short-lived"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SoftDelete(task.ID); err != nil {
		t.Fatal(err)
	}
	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.SyncedItems != 1 {
		t.Fatalf("expected confirmed deletion, got %+v", res)
	}

	if _, err := svc.GetAny(task.ID); !errors.Is(err, repos.ErrNotFound) {
		t.Fatalf("expected tombstone to be dropped, got %v", err)
	}
	if n, _ := queue.Count(); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestConflictWithoutResolvedDataFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			req := decodeBatch(t, r)
			_ = json.NewEncoder(w).Encode(verdictsForAll(req, remote.StatusConflict, nil, nil))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	task, err := svc.Create(CreateInput{Title: "unresolvable"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.FailedItems != 1 {
		t.Fatalf("expected unresolved conflict to fail the item, got %+v", res)
	}

	entries, err := queue.ListForTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RetryCount != 1 {
		t.Fatalf("expected retained entry with retry_count 1, got %+v", entries)
	}
}

func TestUnrecognizedVerdictFailsItem(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			req := decodeBatch(t, r)
			resp := verdictsForAll(req, "rejected", nil, nil)
			resp.ProcessedItems[0].Error = "schema validation failed"
			_ = json.NewEncoder(w).Encode(resp)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	engine, svc, queue := setupEngine(t, ts.URL, Options{})
	task, err := svc.Create(CreateInput{Title: "rejected"})
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.FailedItems != 1 {
		t.Fatalf("expected rejection to fail the item, got %+v", res)
	}
	if res.Errors[0].Error != "schema validation failed" {
		t.Fatalf("expected server-supplied reason, got %q", res.Errors[0].Error)
	}

	entries, err := queue.ListForTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ErrorMessage == nil || *entries[0].ErrorMessage != "schema validation failed" {
		t.Fatalf("expected recorded rejection reason, got %+v", entries)
	}
}

func TestRetryCapParksExhaustedItems(t *testing.T) {
	var batchCalls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/batch":
			atomic.AddInt32(&batchCalls, 1)
			http.Error(w, `{"error":"still broken"}`, http.StatusBadGateway)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	engine, svc, _ := setupEngine(t, ts.URL, Options{MaxRetries: 1})
	if _, err := svc.Create(CreateInput{Title: "doomed"}); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.FailedItems != 1 {
		t.Fatalf("expected one failed item, got %+v", res)
	}

	// The exhausted entry is parked: still queued, no longer submitted.
	res, err = engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.FailedItems != 0 {
		t.Fatalf("expected parked item to be skipped, got %+v", res)
	}
	if got := atomic.LoadInt32(&batchCalls); got != 1 {
		t.Fatalf("expected exactly 1 batch call, got %d", got)
	}

	status, err := engine.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status.PendingItems != 1 || status.EligibleItems != 0 {
		t.Fatalf("expected 1 parked / 0 eligible, got %+v", status)
	}
}
