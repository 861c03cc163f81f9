package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"temporary failure",
	"i/o timeout",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"too many requests",
}

// IsRetryableError reports whether a failed send is worth another attempt.
// Provider outages and timeouts are; bad recipients, missing templates and
// shutdown cancellation are not. A plain error from a custom sender is
// retried only when its message names a transport failure.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var lfErr *schema.LeadflowError
	if errors.As(err, &lfErr) {
		return lfErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff returns the wait before resend number attempt+1 (attempt is
// zero-based). Supports constant, linear and exponential backoff with an
// optional max_delay cap. An unparseable or empty delay yields 0.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}
	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = base
		for i := 0; i < attempt && delay < 365*24*time.Hour; i++ {
			delay *= 2
		}
	case "linear":
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if policy.MaxDelay != "" {
		if maxDelay, err := time.ParseDuration(policy.MaxDelay); err == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// canRetry reports whether a send that failed with err after attempts prior
// resends may be rescheduled under policy.
func canRetry(policy *schema.RetryPolicy, attempts int, err error) bool {
	if policy == nil || policy.Max <= 0 {
		return false
	}
	return attempts < policy.Max && IsRetryableError(err)
}
