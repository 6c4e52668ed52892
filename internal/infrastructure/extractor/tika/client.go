// Package tika talks to an Apache Tika server for text extraction.
// Failures are classified so the pipeline can tell durable breakage
// (denied or timed-out extraction, which blocks the document) from
// transient faults worth retrying.
package tika

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Extract(ctx context.Context, path string) (domain.ExtractionResult, error) {
	var result domain.ExtractionResult
	call := func(callCtx context.Context) error {
		text, err := c.extractText(callCtx, path)
		if err != nil {
			return err
		}
		result = domain.ExtractionResult{Text: text}
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "tika.extract", call, classifyExtractError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	return result, nil
}

func (c *Client) extractText(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/tika", file)
	if err != nil {
		return "", fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return "", domain.WrapError(domain.ErrAccessDenied, "tika extract", statusError(resp))
	case resp.StatusCode >= 500:
		return "", domain.WrapError(domain.ErrTemporary, "tika extract", statusError(resp))
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("tika extract status: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "read extract response", err)
	}
	return string(raw), nil
}

// classifyTransportError maps timeouts and refused connections to the
// durable extractor-timeout kind that triggers the blocking policy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrExtractorTimeout, "tika extract", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.WrapError(domain.ErrExtractorTimeout, "tika extract", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.WrapError(domain.ErrExtractorTimeout, "tika extract", err)
	}
	return domain.WrapError(domain.ErrTemporary, "tika extract", err)
}

func classifyExtractError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	// Durable classifications must reach the pipeline untouched; only
	// transient faults are retried at the transport level.
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
