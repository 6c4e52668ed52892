// Package meili writes extracted document text into a Meilisearch index:
// upsert keyed by document id, delete by filter for blocked documents.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	index      string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
	taskPoll   time.Duration

	ensureMu sync.Mutex
	ensured  bool
}

func New(baseURL, index, apiKey string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		index:      index,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
		taskPoll:   250 * time.Millisecond,
	}
}

func (c *Client) Upsert(ctx context.Context, entry domain.IndexEntry) error {
	if err := c.ensureIndex(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal([]domain.IndexEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}

	call := func(callCtx context.Context) error {
		url := fmt.Sprintf("%s/indexes/%s/documents", c.baseURL, c.index)
		taskUID, err := c.send(callCtx, http.MethodPost, url, payload, "upsert document")
		if err != nil {
			return err
		}
		return c.waitForTask(callCtx, taskUID, "upsert document")
	}
	return c.execute(ctx, "meili.upsert", call)
}

func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := c.ensureIndex(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"filter": fmt.Sprintf("id = %q", documentID),
	})
	if err != nil {
		return fmt.Errorf("marshal delete filter: %w", err)
	}

	call := func(callCtx context.Context) error {
		url := fmt.Sprintf("%s/indexes/%s/documents/delete", c.baseURL, c.index)
		taskUID, err := c.send(callCtx, http.MethodPost, url, payload, "delete by filter")
		if err != nil {
			return err
		}
		return c.waitForTask(callCtx, taskUID, "delete by filter")
	}
	return c.execute(ctx, "meili.delete", call)
}

// ensureIndex creates the index and declares id filterable. Filters only
// apply to attributes listed in filterableAttributes, so without the
// settings call every delete-by-filter task would fail.
func (c *Client) ensureIndex(ctx context.Context) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensured {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"uid":        c.index,
		"primaryKey": "id",
	})
	if err != nil {
		return fmt.Errorf("marshal create index: %w", err)
	}
	taskUID, err := c.send(ctx, http.MethodPost, c.baseURL+"/indexes", payload, "create index")
	if err == nil {
		err = c.waitForTask(ctx, taskUID, "create index")
	}
	if err != nil {
		// An already existing index is fine.
		if !strings.Contains(err.Error(), "index_already_exists") {
			return err
		}
	}

	settings, err := json.Marshal(map[string][]string{
		"filterableAttributes": {"id"},
	})
	if err != nil {
		return fmt.Errorf("marshal index settings: %w", err)
	}
	url := fmt.Sprintf("%s/indexes/%s/settings", c.baseURL, c.index)
	taskUID, err = c.send(ctx, http.MethodPatch, url, settings, "update settings")
	if err != nil {
		return err
	}
	if err := c.waitForTask(ctx, taskUID, "update settings"); err != nil {
		return err
	}

	c.ensured = true
	return nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor != nil {
		return c.executor.Execute(ctx, operation, call, classifyIndexError)
	}
	return call(ctx)
}

// send issues a write request and returns the uid of the queued task. The
// 202 the write endpoints answer with only means "enqueued".
func (c *Client) send(ctx context.Context, method, url string, payload []byte, operation string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "meili "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, domain.WrapError(domain.ErrTemporary, "meili "+operation, statusError(resp))
	}
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("meili %s: %w", operation, statusError(resp))
	}

	var task struct {
		TaskUID int64 `json:"taskUid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return 0, fmt.Errorf("decode %s task uid: %w", operation, err)
	}
	return task.TaskUID, nil
}

// waitForTask polls until the task settles. Success may only be reported
// once the index actually applied the write.
func (c *Client) waitForTask(ctx context.Context, uid int64, operation string) error {
	for {
		task, err := c.fetchTask(ctx, uid, operation)
		if err != nil {
			return err
		}
		switch task.Status {
		case "succeeded":
			return nil
		case "failed", "canceled":
			if task.Error.Code != "" {
				return fmt.Errorf("meili %s: task %d %s: %s: %s",
					operation, uid, task.Status, task.Error.Code, task.Error.Message)
			}
			return fmt.Errorf("meili %s: task %d %s", operation, uid, task.Status)
		}

		timer := time.NewTimer(c.taskPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type taskResult struct {
	Status string `json:"status"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) fetchTask(ctx context.Context, uid int64, operation string) (taskResult, error) {
	var out taskResult
	url := fmt.Sprintf("%s/tasks/%d", c.baseURL, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, fmt.Errorf("create %s task request: %w", operation, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, domain.WrapError(domain.ErrTemporary, "meili "+operation+" task", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return out, domain.WrapError(domain.ErrTemporary, "meili "+operation+" task", statusError(resp))
	}
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("meili %s task: %w", operation, statusError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s task status: %w", operation, err)
	}
	return out, nil
}

func classifyIndexError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("status %s", resp.Status)
	}
	return fmt.Errorf("status %s: %s", resp.Status, msg)
}
