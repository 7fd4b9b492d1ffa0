// Package reporter posts rebuild results to a control plane.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Status of a rebuild event.
const (
	StatusBuilt   = "built"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusRetry   = "retry"
)

// Event describes the outcome of one rebuild.
type Event struct {
	Coordinate string   `json:"coordinate"`
	Status     string   `json:"status"`
	Origin     string   `json:"origin,omitempty"`
	Method     string   `json:"method,omitempty"`
	Outputs    []string `json:"outputs,omitempty"`
	Installed  []string `json:"installed,omitempty"`
	Error      string   `json:"error,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Timestamp  int64    `json:"timestamp"`
}

// Log carries the tail of a failed build's output.
type Log struct {
	Coordinate string `json:"coordinate"`
	Content    string `json:"content"`
}

// Client posts to the control plane. A nil client or one without BaseURL
// drops everything.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c == nil || c.BaseURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Worker-Token", c.Token)
	}
	cli := c.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post %s status %s", path, resp.Status)
	}
	return nil
}

func (c *Client) PostEvent(ctx context.Context, ev Event) error {
	return c.post(ctx, "/api/events", ev)
}

func (c *Client) PostLog(ctx context.Context, l Log) error {
	return c.post(ctx, "/api/logs", l)
}

// Heartbeat tells the control plane a worker is alive.
type Heartbeat struct {
	WorkerID     string `json:"worker_id"`
	RunID        string `json:"run_id"`
	ActiveBuilds int    `json:"active_builds"`
	Parallelism  int    `json:"parallelism"`
	IntervalSec  int    `json:"heartbeat_interval_sec"`
}

func (c *Client) PostHeartbeat(ctx context.Context, hb Heartbeat) error {
	return c.post(ctx, "/api/worker/heartbeat", hb)
}
