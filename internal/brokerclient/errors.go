package brokerclient

import (
	"errors"
	"fmt"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
)

// RateLimitError is a broker denial that will clear once the current minute
// window resets. The retry wrapper sleeps on ResetSeconds and re-invokes.
type RateLimitError struct {
	AppID        string
	ResetSeconds float64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("token rate limit exceeded for %s, window resets in %.1fs", e.AppID, e.ResetSeconds)
}

// RequestTooLargeError is a denial that cannot clear: the estimate alone
// exceeds the per-window ceiling. Never retried.
type RequestTooLargeError struct {
	AppID           string
	EstimatedTokens int
}

func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("request of %d estimated tokens for %s exceeds the per-window token ceiling", e.EstimatedTokens, e.AppID)
}

// DenialError translates a broker denial into the matching typed error, or
// nil for an admitted result.
func DenialError(appID string, estimatedTokens int, res broker.LockResult) error {
	if res.Allowed {
		return nil
	}
	switch res.Reason {
	case broker.ReasonTokenLimit:
		return &RequestTooLargeError{AppID: appID, EstimatedTokens: estimatedTokens}
	default:
		return &RateLimitError{AppID: appID, ResetSeconds: res.ResetSeconds}
	}
}

// IsRateLimit reports whether err is (or wraps) a retryable rate-limit denial.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
