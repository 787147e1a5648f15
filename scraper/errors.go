package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aluiziolira/go-scrape-catalog/browser"
)

var (
	// ErrParseMismatch marks markup that did not yield the expected structure.
	ErrParseMismatch = errors.New("parse mismatch")
	// ErrCorrelationMiss marks a detail result with no matching listing.
	ErrCorrelationMiss = errors.New("correlation miss")
)

// ErrFetchPanic wraps a panic recovered inside a detail fetch.
type ErrFetchPanic struct {
	Value any
}

func (e ErrFetchPanic) Error() string {
	return fmt.Sprintf("detail fetch panicked: %v", e.Value)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, browser.ErrSessionUnavailable) {
		return "session_unavailable"
	}
	if errors.Is(err, browser.ErrNavigationTimeout) {
		return "navigation_timeout"
	}
	if errors.Is(err, ErrParseMismatch) {
		return "parse_mismatch"
	}
	if errors.Is(err, ErrCorrelationMiss) {
		return "correlation_miss"
	}
	var panicErr ErrFetchPanic
	if errors.As(err, &panicErr) {
		return "panic"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	return "other"
}
