// Package backend implements the translation backend: an assistant-style
// HTTP API that accepts a prompt, runs it to a terminal state, and returns
// a transcript of messages. The Retrying wrapper adds rate-limit-aware
// retry on top of a single Submit cycle.
package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Run terminal states reported by the backend.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
	StatusIncomplete = "incomplete"
)

// RunError is the machine-readable failure info attached to a
// non-completed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is one transcript entry. Text is the concatenated text content
// of the message.
type Message struct {
	Role string
	Text string
}

// Run is the outcome of one Submit cycle: a terminal status, the failure
// info if the run did not complete, and the transcript with the newest
// message first.
type Run struct {
	Status   string
	Error    *RunError
	Messages []Message
}

// Backend is one request/response cycle with the translation service.
type Backend interface {
	Submit(ctx context.Context, prompt string) (*Run, error)
}

// makeHTTPClient builds an HTTP client with optional proxy support.
// HTTP_PROXY/HTTPS_PROXY env vars are honored when no explicit proxy is set.
func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// truncate shortens s for inclusion in error messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
