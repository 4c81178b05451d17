// Package client provides an HTTP client for the roomsched status and
// diagnostics surfaces, used by the CLI.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to a running roomsched server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, ROOMSCHED_SERVER_URL is
// consulted, then localhost with the default port.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("ROOMSCHED_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8750"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status is the extraction-state snapshot returned by /api/status.
type Status struct {
	Running         bool      `json:"running"`
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	CurrentItem     string    `json:"current_item"`
	ProgressMessage string    `json:"progress_message"`
	ItemsExtracted  int       `json:"items_extracted"`
	Log             []string  `json:"log"`
}

// Diagnostics is the operational snapshot returned by /api/diagnostics.
type Diagnostics struct {
	InputMaxMtime   time.Time `json:"input_max_mtime"`
	InputFileCount  int       `json:"input_file_count"`
	HasBuilt        bool      `json:"has_built"`
	LastWasEmpty    bool      `json:"last_was_empty"`
	ArtifactExists  bool      `json:"artifact_exists"`
	ArtifactMtime   time.Time `json:"artifact_mtime"`
	ArtifactBytes   int64     `json:"artifact_bytes"`
	RebuildRequired bool      `json:"rebuild_required"`
	OwnsBackground  bool      `json:"owns_background"`
}

// Status fetches the current extraction state with the last logLines log
// lines (0 = server default).
func (c *Client) Status(ctx context.Context, logLines int) (*Status, error) {
	u := c.baseURL + "/api/status"
	if logLines > 0 {
		u += "?lines=" + url.QueryEscape(strconv.Itoa(logLines))
	}
	var s Status
	if err := c.getJSON(ctx, u, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Diagnostics fetches the coordinator health snapshot.
func (c *Client) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	var d Diagnostics
	if err := c.getJSON(ctx, c.baseURL+"/api/diagnostics", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// TriggerExtract starts a manual extraction pass. Returns an error when
// one is already running.
func (c *Client) TriggerExtract(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/extract", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trigger extract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("extraction already running")
	}
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("trigger extract: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("request %s: status %d: %s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
