package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

// DefaultMaxRetries is the default retry budget for rate-limited calls.
const DefaultMaxRetries = 5

// retryBuffer is added to every computed wait before retrying, so a retry
// never fires exactly at the edge of the advertised window.
const retryBuffer = 500 * time.Millisecond

// ErrRetriesExhausted is returned when the retry budget runs out while the
// backend keeps reporting rate limits. Distinct from a normal backend
// failure so callers can tell quota pressure from broken requests.
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// ErrNoResponse is returned when a completed run carries no
// assistant-authored text segment. Never retried.
var ErrNoResponse = errors.New("no response produced")

// tryAgainPattern extracts the explicit wait from rate-limit messages like
// "Rate limit reached ... Please try again in 1.234s."
var tryAgainPattern = regexp.MustCompile(`try again in ([0-9]*\.?[0-9]+)s`)

// Retrying wraps a Backend with rate-limit-aware retry. Only rate-limit
// conditions are retried; every other failure propagates immediately.
type Retrying struct {
	// Backend performs the actual submit cycle.
	Backend Backend
	// MaxRetries is the retry budget (default DefaultMaxRetries).
	MaxRetries int
	// OnLog emits progress messages (optional).
	OnLog func(format string, args ...any)

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (r *Retrying) log(format string, args ...any) {
	if r.OnLog != nil {
		r.OnLog(format, args...)
	}
}

func (r *Retrying) maxRetries() int {
	if r.MaxRetries > 0 {
		return r.MaxRetries
	}
	return DefaultMaxRetries
}

func (r *Retrying) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Call submits the prompt, retrying on rate limits, and returns the first
// assistant-authored text segment of the transcript.
func (r *Retrying) Call(ctx context.Context, prompt string) (string, error) {
	bo := &backoff.Backoff{
		Min:    time.Second,
		Max:    5 * time.Minute,
		Factor: 2,
	}
	maxRetries := r.maxRetries()

	for attempt := 0; ; attempt++ {
		run, err := r.Backend.Submit(ctx, prompt)

		var rateLimitMsg string
		switch {
		case err != nil:
			if !isRateLimitMessage(err.Error()) {
				return "", err
			}
			rateLimitMsg = err.Error()

		case run.Status != StatusCompleted:
			if run.Error == nil || !isRateLimitError(run.Error) {
				return "", terminalRunError(run)
			}
			rateLimitMsg = run.Error.Message

		default:
			return assistantText(run)
		}

		if attempt >= maxRetries {
			return "", fmt.Errorf("%w after %d retries: %s",
				ErrRetriesExhausted, maxRetries, truncate(rateLimitMsg, 300))
		}

		delay := retryDelay(rateLimitMsg, bo) + retryBuffer
		r.log("Rate limited, waiting %v before retry %d/%d", delay, attempt+1, maxRetries)
		if err := r.wait(ctx, delay); err != nil {
			return "", err
		}
	}
}

// isRateLimitError reports whether the run's failure info indicates a
// rate limit.
func isRateLimitError(re *RunError) bool {
	return strings.Contains(re.Code, "rate_limit") || isRateLimitMessage(re.Message)
}

// isRateLimitMessage reports whether an error message indicates a rate
// limit.
func isRateLimitMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "rate limit")
}

// retryDelay returns the wait advertised by the message if present,
// otherwise the next exponential backoff step.
func retryDelay(msg string, bo *backoff.Backoff) time.Duration {
	if m := tryAgainPattern.FindStringSubmatch(msg); len(m) > 1 {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return bo.Duration()
}

// terminalRunError describes a run that settled in a non-completed,
// non-retryable state.
func terminalRunError(run *Run) error {
	if run.Error != nil {
		return fmt.Errorf("run ended with status %s: %s: %s",
			run.Status, run.Error.Code, run.Error.Message)
	}
	return fmt.Errorf("run ended with status %s", run.Status)
}

// assistantText returns the newest assistant-authored text segment of the
// transcript (messages are newest-first).
func assistantText(run *Run) (string, error) {
	for _, m := range run.Messages {
		if m.Role == "assistant" && m.Text != "" {
			return m.Text, nil
		}
	}
	return "", ErrNoResponse
}
