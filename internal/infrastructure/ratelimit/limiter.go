// Package ratelimit serializes delivery calls across all worker processes
// to at most one per minimum interval. Coordination happens entirely
// through the shared key-value store; no in-process state is shared
// between workers.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/asmelnikov/docstream/internal/core/ports"
)

const (
	lockKey      = "docstream:deliver:lock"
	timestampKey = "docstream:deliver:last_send"
)

type Config struct {
	MinInterval  time.Duration
	LockTTL      time.Duration
	PollInterval time.Duration
}

func (c Config) normalize() Config {
	out := c
	if out.MinInterval <= 0 {
		out.MinInterval = 3 * time.Second
	}
	if out.LockTTL <= 0 {
		out.LockTTL = 10 * time.Second
	}
	// The lock must outlive the remainder sleep in waitHoldingLock or a
	// second worker could acquire it mid-wait.
	if out.LockTTL <= out.MinInterval {
		out.LockTTL = out.MinInterval + time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 100 * time.Millisecond
	}
	return out
}

type Limiter struct {
	kv     ports.KeyValueStore
	cfg    Config
	owner  string
	logger *slog.Logger

	// Fallback when the shared store is unreachable: a process-local
	// limiter with the same interval, so delivery degrades instead of
	// blocking indefinitely.
	local *rate.Limiter

	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	onWait func(time.Duration)
}

func New(kv ports.KeyValueStore, logger *slog.Logger, cfg Config) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	return &Limiter{
		kv:     kv,
		cfg:    cfg,
		owner:  uuid.NewString(),
		logger: logger,
		local:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetWaitObserver installs a hook recording how long callers waited.
func (l *Limiter) SetWaitObserver(fn func(time.Duration)) {
	l.onWait = fn
}

// Wait blocks until the caller owns the next delivery slot. Non-acquirers
// spin with a short sleep; there is no fairness guarantee, only eventual
// acquisition.
func (l *Limiter) Wait(ctx context.Context) error {
	started := l.now()
	defer func() {
		if l.onWait != nil {
			l.onWait(l.now().Sub(started))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		acquired, err := l.kv.SetNX(ctx, lockKey, l.owner, l.cfg.LockTTL)
		if err != nil {
			return l.waitLocal(ctx, err)
		}
		if !acquired {
			if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		return l.waitHoldingLock(ctx)
	}
}

func (l *Limiter) waitHoldingLock(ctx context.Context) error {
	defer func() {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.kv.Del(delCtx, lockKey); err != nil {
			// The TTL reclaims an undeleted lock.
			l.logger.Warn("release delivery lock", "error", err)
		}
	}()

	raw, err := l.kv.Get(ctx, timestampKey)
	if err != nil {
		return l.waitLocal(ctx, err)
	}
	if raw != "" {
		lastNanos, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			elapsed := l.now().Sub(time.Unix(0, lastNanos))
			if remaining := l.cfg.MinInterval - elapsed; remaining > 0 {
				if err := l.sleep(ctx, remaining); err != nil {
					return err
				}
			}
		}
	}

	// The store only offers SETNX, so the timestamp is replaced by a
	// delete-then-set under the exclusive lock.
	if err := l.kv.Del(ctx, timestampKey); err != nil {
		return l.waitLocal(ctx, err)
	}
	stamp := strconv.FormatInt(l.now().UnixNano(), 10)
	if _, err := l.kv.SetNX(ctx, timestampKey, stamp, 24*time.Hour); err != nil {
		return l.waitLocal(ctx, err)
	}
	return nil
}

// waitLocal degrades to the process-local limiter when the shared store is
// unreachable. Fail-safe, not fail-fast: a broken store slows delivery
// down instead of stopping it.
func (l *Limiter) waitLocal(ctx context.Context, cause error) error {
	l.logger.Warn("rate limiter store unreachable, using local fallback", "error", cause)
	if err := l.local.Wait(ctx); err != nil {
		return fmt.Errorf("local rate limit wait: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
