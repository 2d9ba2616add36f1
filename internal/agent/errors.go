package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/uiforge/pkg/models"
)

// Failure sentinels returned (wrapped) by the adapter and model services.
var (
	// ErrTransient is a network or service hiccup. Safe to retry.
	ErrTransient = errors.New("transient model failure")
	// ErrRateLimited means the caller must back off before retrying.
	ErrRateLimited = errors.New("rate limited")
	// ErrRejectedContent means the service declined to produce output.
	ErrRejectedContent = errors.New("content rejected")
	// ErrInvalidConfiguration is a caller error. No call was performed.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// RateLimitError carries the delay the service asked for, if any.
type RateLimitError struct {
	RetryAfter time.Duration
	Msg        string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Msg)
	}
	return "rate limited: " + e.Msg
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Transientf builds a retryable failure.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// Rejectedf builds a content-rejection failure.
func Rejectedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejectedContent, fmt.Sprintf(format, args...))
}

// Invalidf builds a configuration failure.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// RateLimited builds a rate-limit failure with an optional server-requested delay.
func RateLimited(retryAfter time.Duration, msg string) error {
	return &RateLimitError{RetryAfter: retryAfter, Msg: msg}
}

// RetryAfter extracts the server-requested delay from a rate-limit failure.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// KindOf classifies any error returned from a stage invocation.
func KindOf(err error) models.ErrorKind {
	var runErr *models.RunError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &runErr):
		return runErr.Kind
	case errors.Is(err, ErrInvalidConfiguration):
		return models.KindInvalidConfiguration
	case errors.Is(err, ErrRejectedContent):
		return models.KindRejectedContent
	case errors.Is(err, ErrRateLimited):
		return models.KindRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return models.KindTimeout
	case errors.Is(err, context.Canceled):
		return models.KindCanceled
	case errors.Is(err, ErrTransient):
		return models.KindTransient
	}
	return models.KindInternal
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
