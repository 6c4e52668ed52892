package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

type Config struct {
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
	RetryMaxWait  time.Duration
}

func (c Config) normalize() Config {
	out := c
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Minute
	}
	if out.RetryCount < 0 {
		out.RetryCount = 0
	}
	if out.RetryWaitTime <= 0 {
		out.RetryWaitTime = 500 * time.Millisecond
	}
	if out.RetryMaxWait < out.RetryWaitTime {
		out.RetryMaxWait = 5 * time.Second
	}
	return out
}

// Fetcher streams remote sources into staging files. Transient transport
// faults (network errors, 5xx, 429) are retried here; everything that
// survives the transport retries surfaces to the orchestrator.
type Fetcher struct {
	client *resty.Client
}

func New(cfg Config) *Fetcher {
	cfg = cfg.normalize()
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError ||
				r.StatusCode() == http.StatusTooManyRequests
		})
	return &Fetcher{client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, sourceURL, destPath string) (int64, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(sourceURL)
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "download source", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 2048))
		return 0, fmt.Errorf("download %s: unexpected status %s", sourceURL, resp.Status())
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}

	// Write through a partial file so a crashed download never leaves a
	// truncated artifact at the staging path.
	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	written, err := io.Copy(out, body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partPath)
		return 0, domain.WrapError(domain.ErrTemporary, "stream source body", err)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return 0, fmt.Errorf("finalize staging file: %w", err)
	}
	return written, nil
}
