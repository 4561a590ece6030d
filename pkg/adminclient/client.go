// Package adminclient is the HTTP client rqmirrorctl uses to talk to a
// running rqmirrord's admin API (pkg/adminapi). Grounded on the teacher's
// pkg/apiclient.Client: same do/get/post skeleton, narrowed since the admin
// API carries no authentication (spec.md has no multi-tenant control plane
// to guard here).
package adminclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one rqmirrord admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client pointed at baseURL (e.g. "http://localhost:8090").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError represents an error response from the admin API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return &apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

// Entry mirrors pkg/adminapi's entryView JSON shape.
type Entry struct {
	Path          string    `json:"path"`
	ParentPath    string    `json:"parent_path"`
	Name          string    `json:"name"`
	Method        string    `json:"method"`
	DestPath      string    `json:"dest_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Retries       int       `json:"retries"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
}

// Stats mirrors pkg/adminapi's statsResponse JSON shape.
type Stats struct {
	PendingCount int `json:"pending_count"`
	ActiveCount  int `json:"active_count"`
}

// ListQueue fetches every pending entry (GET /queue).
func (c *Client) ListQueue() ([]Entry, error) {
	var entries []Entry
	if err := c.get("/queue", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListQueueForParent fetches the name→method mapping under parent
// (GET /queue/{parent}).
func (c *Client) ListQueueForParent(parent string) (map[string]string, error) {
	var result map[string]string
	if err := c.get("/queue/"+parent, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats fetches the queue/processor snapshot (GET /stats).
func (c *Client) Stats() (Stats, error) {
	var stats Stats
	err := c.get("/stats", &stats)
	return stats, err
}

// Purge triggers an out-of-band purge of poisoned entries
// (POST /queue/purge) and returns what was purged.
func (c *Client) Purge() ([]Entry, error) {
	var entries []Entry
	if err := c.post("/queue/purge", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
