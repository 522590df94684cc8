package taskview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"tasklist/domain"
)

// PublicTasksPath is the API route the view reads from.
const PublicTasksPath = "/api/tasks/public"

// Fetcher loads the tasks shown by a View.
type Fetcher interface {
	FetchTasks(ctx context.Context) ([]domain.Task, error)
}

// StatusError reports a non-2xx answer from the tasks API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tasks api returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client reads the public task list over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// FetchTasks issues one GET to PublicTasksPath and decodes the JSON array.
func (c *Client) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+PublicTasksPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}
