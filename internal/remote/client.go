package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"task-sync/internal/models"
)

// Verdict statuses reported per submitted queue item.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
)

// ProcessedItem is the server's verdict on one submitted queue item,
// matched back by the queue entry's id (not the task id, since one task
// may appear in several batches).
type ProcessedItem struct {
	ClientID     string               `json:"client_id"`
	Status       string               `json:"status"`
	ServerID     *string              `json:"server_id,omitempty"`
	ResolvedData *models.TaskSnapshot `json:"resolved_data,omitempty"`
	Error        string               `json:"error,omitempty"`
}

type BatchRequest struct {
	Items           []models.SyncQueueItem `json:"items"`
	ClientTimestamp time.Time              `json:"client_timestamp"`
}

type BatchResponse struct {
	ProcessedItems []ProcessedItem `json:"processed_items"`
}

// Client talks to the remote reconciler over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// Health probes the reconciler's liveness endpoint. Any 2xx within the
// context deadline counts as online.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reconciler health status %d", resp.StatusCode)
	}
	return nil
}

// PushBatch submits a batch of queue items in one request and returns
// the per-item verdicts.
func (c *Client) PushBatch(ctx context.Context, items []models.SyncQueueItem, clientTimestamp time.Time) (*BatchResponse, error) {
	var out BatchResponse
	if err := c.do(ctx, http.MethodPost, "/batch", BatchRequest{Items: items, ClientTimestamp: clientTimestamp}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if strings.TrimSpace(eb.Error) != "" {
			return fmt.Errorf("reconciler %d: %s", resp.StatusCode, eb.Error)
		}
		return fmt.Errorf("reconciler status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reconciler response: %w", err)
	}
	return nil
}
