package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWrapErrorKeepsBothChains(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(ErrTemporary, "fetch source", cause)

	if !IsKind(err, ErrTemporary) {
		t.Fatalf("expected ErrTemporary kind, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause preserved in chain")
	}
}

func TestBlockingKinds(t *testing.T) {
	if !Blocking(WrapError(ErrAccessDenied, "extract", errors.New("encrypted"))) {
		t.Fatal("access denied blocks")
	}
	if !Blocking(WrapError(ErrExtractorTimeout, "extract", errors.New("timeout"))) {
		t.Fatal("extractor timeout blocks")
	}
	if !Blocking(WrapError(ErrEmptyContent, "parse", errors.New("empty extracted text"))) {
		t.Fatal("empty content blocks")
	}
	if Blocking(WrapError(ErrTemporary, "fetch", errors.New("reset"))) {
		t.Fatal("temporary errors must not block")
	}
	if Blocking(nil) {
		t.Fatal("nil never blocks")
	}
}

func TestRetryAfterUnwrapsThrottledError(t *testing.T) {
	err := fmt.Errorf("deliver: %w", &ThrottledError{RetryAfter: 9 * time.Second})
	wait, ok := RetryAfter(err)
	if !ok || wait != 9*time.Second {
		t.Fatalf("RetryAfter = %v %v", wait, ok)
	}

	if _, ok := RetryAfter(errors.New("plain")); ok {
		t.Fatal("plain errors carry no retry hint")
	}
}
