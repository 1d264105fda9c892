package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrDaemonUnavailable indicates the daemon API could not be reached.
var ErrDaemonUnavailable = errors.New("daemon not reachable")

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the daemon listening at bind (host:port).
func NewClient(bind string) *Client {
	base := strings.TrimSpace(bind)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AddSources enqueues a batch of source locators.
func (c *Client) AddSources(ctx context.Context, sources []string) (AddSourcesResponse, error) {
	var resp AddSourcesResponse
	err := c.do(ctx, http.MethodPost, "/api/sources", AddSourcesRequest{Sources: sources}, &resp)
	return resp, err
}

// Process asks the daemon to start working the queue.
func (c *Client) Process(ctx context.Context) (ProcessResponse, error) {
	var resp ProcessResponse
	err := c.do(ctx, http.MethodPost, "/api/process", nil, &resp)
	return resp, err
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Queue lists queue items, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, statuses ...string) (QueueListResponse, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var resp QueueListResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Remove cancels or deletes the given queue items.
func (c *Client) Remove(ctx context.Context, ids []int64) (RemoveResponse, error) {
	var resp RemoveResponse
	err := c.do(ctx, http.MethodDelete, "/api/queue", RemoveRequest{IDs: ids}, &resp)
	return resp, err
}

// Clear deletes finished queue items in the given scope.
func (c *Client) Clear(ctx context.Context, scope string) (ClearResponse, error) {
	var resp ClearResponse
	err := c.do(ctx, http.MethodPost, "/api/queue/clear", ClearRequest{Scope: scope}, &resp)
	return resp, err
}

// Resolve submits a duplicate resolution for a parked item.
func (c *Client) Resolve(ctx context.Context, id int64, action string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queue/%d/resolve", id), ResolveRequest{Action: action}, nil)
}

// Transcript fetches a stored transcript by output name.
func (c *Client) Transcript(ctx context.Context, name string) (TranscriptResponse, error) {
	var resp TranscriptResponse
	err := c.do(ctx, http.MethodGet, "/api/results/"+url.PathEscape(name), nil, &resp)
	return resp, err
}
