package llm

import (
	"errors"
	"fmt"
	"strings"
)

// RateLimitError marks an upstream HTTP 429. The tick processor retries these
// exactly once after a jittered delay; every other provider error falls back
// to a canned line immediately.
type RateLimitError struct {
	// Provider is the label of the backend that rejected the call.
	Provider string

	// Err is the underlying SDK error.
	Err error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm: %s rate limited: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying SDK error.
func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err represents an upstream rate limit.
//
// Providers built in this module always wrap 429s in [RateLimitError];
// the textual check is a second net for backends (any-llm-go's non-OpenAI
// providers) whose SDKs surface the status only inside the message.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
