package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the OpenAI API base.
const DefaultBaseURL = "https://api.openai.com/v1"

// defaultPollInterval is how often a pending run is re-checked.
const defaultPollInterval = time.Second

// Client talks to an OpenAI Assistants-compatible API. One Submit creates
// a thread with the prompt as the sole user message, starts a run against
// the configured assistant, polls until the run reaches a terminal state,
// and fetches the transcript.
type Client struct {
	// BaseURL is the API base URL (default DefaultBaseURL).
	BaseURL string
	// APIKey authenticates requests.
	APIKey string
	// AssistantID identifies the assistant to run.
	AssistantID string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the per-HTTP-request timeout (default 120s).
	Timeout time.Duration
	// PollInterval overrides the run polling interval (default 1s).
	PollInterval time.Duration

	// One Client is shared by every batch goroutine in a run, so the
	// lazily built HTTP client is guarded.
	clientOnce sync.Once
	httpClient *http.Client
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) client() *http.Client {
	c.clientOnce.Do(func() {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		c.httpClient = makeHTTPClient(c.Proxy, timeout)
	})
	return c.httpClient
}

func (c *Client) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// ---------------------------------------------------------------------------
// Wire types (Assistants v2)
// ---------------------------------------------------------------------------

type apiRun struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	LastError *RunError `json:"last_error"`
}

type apiMessageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// terminalStatuses are run states that end polling.
var terminalStatuses = map[string]bool{
	StatusCompleted:  true,
	StatusFailed:     true,
	StatusCancelled:  true,
	StatusExpired:    true,
	StatusIncomplete: true,
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

// Submit runs one prompt to a terminal state and returns the run outcome.
// Transport-level failures and non-2xx responses are returned as errors;
// a run that settles in a non-completed state is NOT an error here; the
// caller inspects Run.Status and Run.Error (the Retrying wrapper does).
func (c *Client) Submit(ctx context.Context, prompt string) (*Run, error) {
	run, err := c.createThreadAndRun(ctx, prompt)
	if err != nil {
		return nil, err
	}

	for !terminalStatuses[run.Status] {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval()):
		}

		run, err = c.getRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return nil, err
		}
	}

	out := &Run{Status: run.Status, Error: run.LastError}

	// Fetch the transcript even for non-completed runs: a failed run can
	// still carry partial messages worth attaching to error records.
	messages, err := c.listMessages(ctx, run.ThreadID)
	if err != nil {
		if run.Status == StatusCompleted {
			return nil, err
		}
		return out, nil
	}
	out.Messages = messages

	return out, nil
}

func (c *Client) createThreadAndRun(ctx context.Context, prompt string) (*apiRun, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	reqBody := struct {
		AssistantID string `json:"assistant_id"`
		Thread      struct {
			Messages []msg `json:"messages"`
		} `json:"thread"`
	}{AssistantID: c.AssistantID}
	reqBody.Thread.Messages = []msg{{Role: "user", Content: prompt}}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling run request: %w", err)
	}

	var run apiRun
	if err := c.do(ctx, "POST", "/threads/runs", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) getRun(ctx context.Context, threadID, runID string) (*apiRun, error) {
	var run apiRun
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.do(ctx, "GET", path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// listMessages returns the thread transcript, newest message first.
func (c *Client) listMessages(ctx context.Context, threadID string) ([]Message, error) {
	var list apiMessageList
	path := fmt.Sprintf("/threads/%s/messages?order=desc", threadID)
	if err := c.do(ctx, "GET", path, nil, &list); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(list.Data))
	for _, m := range list.Data {
		var text strings.Builder
		for _, part := range m.Content {
			if part.Type == "text" {
				text.WriteString(part.Text.Value)
			}
		}
		messages = append(messages, Message{Role: m.Role, Text: text.String()})
	}
	return messages, nil
}

// do performs one API request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}

	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, apiErrorMessage(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing API response: %w", err)
	}
	return nil
}

// apiErrorMessage extracts the error message from an API error body,
// falling back to the truncated raw body.
func apiErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return truncate(string(body), 500)
}
