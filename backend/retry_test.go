package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"
)

// fakeBackend replays a fixed sequence of outcomes.
type fakeBackend struct {
	outcomes []fakeOutcome
	calls    int
}

type fakeOutcome struct {
	run *Run
	err error
}

func (f *fakeBackend) Submit(ctx context.Context, prompt string) (*Run, error) {
	var o fakeOutcome
	if f.calls < len(f.outcomes) {
		o = f.outcomes[f.calls]
	} else {
		o = f.outcomes[len(f.outcomes)-1]
	}
	f.calls++
	return o.run, o.err
}

func completedRun(text string) *Run {
	return &Run{
		Status:   StatusCompleted,
		Messages: []Message{{Role: "assistant", Text: text}},
	}
}

func rateLimitedRun(msg string) *Run {
	return &Run{
		Status: StatusFailed,
		Error:  &RunError{Code: "rate_limit_exceeded", Message: msg},
	}
}

// newRetrying returns a client whose sleeps are recorded instead of slept.
func newRetrying(fb *fakeBackend, maxRetries int) (*Retrying, *[]time.Duration) {
	var waits []time.Duration
	r := &Retrying{
		Backend:    fb,
		MaxRetries: maxRetries,
		sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	return r, &waits
}

func TestCall_RetriesWithAdvertisedWait(t *testing.T) {
	fb := &fakeBackend{outcomes: []fakeOutcome{
		{run: rateLimitedRun("Rate limit reached. Please try again in 0.5s.")},
		{run: rateLimitedRun("Rate limit reached. Please try again in 0.5s.")},
		{run: completedRun(`{"a": "1"}`)},
	}}
	r, waits := newRetrying(fb, 5)

	text, err := r.Call(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if text != `{"a": "1"}` {
		t.Errorf("text = %q", text)
	}
	if fb.calls != 3 {
		t.Errorf("calls = %d, want 3", fb.calls)
	}
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want 2 entries", *waits)
	}
	for i, w := range *waits {
		if w < 500*time.Millisecond+retryBuffer {
			t.Errorf("wait %d = %v, want >= 0.5s + buffer", i, w)
		}
	}
}

func TestCall_ExhaustsRetryBudget(t *testing.T) {
	fb := &fakeBackend{outcomes: []fakeOutcome{
		{run: rateLimitedRun("Rate limit reached. Please try again in 0.001s.")},
	}}
	r, waits := newRetrying(fb, 5)

	_, err := r.Call(context.Background(), "prompt")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("error = %v, want ErrRetriesExhausted", err)
	}
	// 5 retries means 5 waits and 6 submit cycles.
	if len(*waits) != 5 {
		t.Errorf("waits = %d, want 5", len(*waits))
	}
	if fb.calls != 6 {
		t.Errorf("calls = %d, want 6", fb.calls)
	}
}

func TestCall_RateLimitFromSubmitError(t *testing.T) {
	fb := &fakeBackend{outcomes: []fakeOutcome{
		{err: errors.New("API returned status 429: Rate limit reached for requests")},
		{run: completedRun("ok")},
	}}
	r, waits := newRetrying(fb, 5)

	text, err := r.Call(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	// No advertised wait in the message: exponential backoff seeded at 1s.
	if len(*waits) != 1 || (*waits)[0] < time.Second+retryBuffer {
		t.Errorf("waits = %v, want one wait >= 1s + buffer", *waits)
	}
}

func TestCall_NonRateLimitErrorNotRetried(t *testing.T) {
	fb := &fakeBackend{outcomes: []fakeOutcome{
		{err: errors.New("API returned status 401: invalid key")},
	}}
	r, _ := newRetrying(fb, 5)

	if _, err := r.Call(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error")
	}
	if fb.calls != 1 {
		t.Errorf("calls = %d, want 1", fb.calls)
	}
}

func TestCall_TerminalRunFailureNotRetried(t *testing.T) {
	fb := &fakeBackend{outcomes: []fakeOutcome{
		{run: &Run{
			Status: StatusFailed,
			Error:  &RunError{Code: "server_error", Message: "something broke"},
		}},
	}}
	r, _ := newRetrying(fb, 5)

	_, err := r.Call(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("terminal failure must not be reported as exhausted retries")
	}
	if fb.calls != 1 {
		t.Errorf("calls = %d, want 1", fb.calls)
	}
}

func TestCall_NoAssistantMessage(t *testing.T) {
	fb := &fakeBackend{outcomes: []fakeOutcome{
		{run: &Run{
			Status:   StatusCompleted,
			Messages: []Message{{Role: "user", Text: "only the prompt"}},
		}},
	}}
	r, _ := newRetrying(fb, 5)

	_, err := r.Call(context.Background(), "prompt")
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("error = %v, want ErrNoResponse", err)
	}
	if fb.calls != 1 {
		t.Errorf("calls = %d, want 1 (not retried)", fb.calls)
	}
}

func TestAssistantText_NewestFirst(t *testing.T) {
	run := &Run{
		Status: StatusCompleted,
		Messages: []Message{
			{Role: "assistant", Text: "newest"},
			{Role: "user", Text: "prompt"},
			{Role: "assistant", Text: "older"},
		},
	}
	text, err := assistantText(run)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if text != "newest" {
		t.Errorf("text = %q, want newest", text)
	}
}

func TestRetryDelay_Parsing(t *testing.T) {
	bo := &backoff.Backoff{Min: time.Second, Max: 5 * time.Minute, Factor: 2}

	d := retryDelay("Please try again in 1.25s.", bo)
	if d != 1250*time.Millisecond {
		t.Errorf("delay = %v, want 1.25s", d)
	}

	// No advertised wait: falls back to exponential backoff (1s, 2s, ...).
	if d := retryDelay("slow down", bo); d != time.Second {
		t.Errorf("first backoff = %v, want 1s", d)
	}
	if d := retryDelay("slow down", bo); d != 2*time.Second {
		t.Errorf("second backoff = %v, want 2s", d)
	}
}
