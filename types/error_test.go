package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrEmbeddingUnavailable, "embedding service down")
	if err.Error() != "[EMBEDDING_UNAVAILABLE] embedding service down" {
		t.Errorf("unexpected error string: %s", err.Error())
	}

	wrapped := NewError(ErrUpstreamError, "request failed").WithCause(errors.New("connection refused"))
	if wrapped.Error() != "[UPSTREAM_ERROR] request failed: connection refused" {
		t.Errorf("unexpected error string: %s", wrapped.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrIndexCorrupt, "bad snapshot").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewError(ErrRateLimited, "slow down").WithRetryable(true)
	if !IsRetryable(retryable) {
		t.Error("expected retryable")
	}

	// 包装之后仍可识别
	wrapped := fmt.Errorf("outer: %w", retryable)
	if !IsRetryable(wrapped) {
		t.Error("expected retryable through wrapping")
	}

	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError(ErrChunkTooSmall, "tiny"))

	if !IsCode(err, ErrChunkTooSmall) {
		t.Error("expected CHUNK_TOO_SMALL code")
	}
	if IsCode(err, ErrInvalidRequest) {
		t.Error("unexpected code match")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}
