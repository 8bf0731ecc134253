// Package client is an HTTP client for the session API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"foqus-orchestrator/api/rest/handlers"
	"foqus-orchestrator/core/models"

	"github.com/pkg/errors"
)

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the session API as one user
type Client struct {
	baseURL string
	user    string
	http    *http.Client
}

// New creates a client for the server at baseURL
func New(baseURL, user string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    &http.Client{Timeout: timeout},
	}
}

// SessionResult is the response to a bulk session operation
type SessionResult struct {
	Session   string   `json:"session"`
	Jobs      []string `json:"jobs"`
	Submitted int      `json:"submitted,omitempty"`
}

// JobSummary is one job as listed by the session endpoint
type JobSummary struct {
	ID         string          `json:"id"`
	State      models.JobState `json:"state"`
	Simulation string          `json:"simulation"`
	Create     int64           `json:"create"`
	Finished   string          `json:"finished,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// SessionJobs lists a session's jobs
type SessionJobs struct {
	ID   string       `json:"id"`
	Jobs []JobSummary `json:"jobs"`
}

// Summary counts a session's jobs by state
type Summary struct {
	ID     string         `json:"id"`
	States map[string]int `json:"states"`
	Jobs   struct {
		Total    int `json:"total"`
		Finished int `json:"finished"`
		Active   int `json:"active"`
	} `json:"jobs"`
}

// CreateSession allocates a new session id
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/session", nil, &out)
	return out.ID, err
}

// AppendJobs stages a JSON or YAML batch of job definitions and returns their ids
func (c *Client) AppendJobs(ctx context.Context, session string, batch []byte) ([]string, error) {
	var out struct {
		Jobs []string `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/session/"+url.PathEscape(session)+"/append", batch, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Start submits the session's staged and stopped jobs
func (c *Client) Start(ctx context.Context, session string) (*SessionResult, error) {
	return c.action(ctx, session, "start")
}

// Stop withdraws the session's submitted jobs
func (c *Client) Stop(ctx context.Context, session string) (*SessionResult, error) {
	return c.action(ctx, session, "stop")
}

// Kill terminates the session's active jobs
func (c *Client) Kill(ctx context.Context, session string) (*SessionResult, error) {
	return c.action(ctx, session, "kill")
}

func (c *Client) action(ctx context.Context, session, name string) (*SessionResult, error) {
	var out SessionResult
	if err := c.do(ctx, http.MethodPost, "/v1/session/"+url.PathEscape(session)+"/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs lists the session's jobs, optionally filtered to one state
func (c *Client) Jobs(ctx context.Context, session string, state models.JobState) (*SessionJobs, error) {
	path := "/v1/session/" + url.PathEscape(session)
	if state != "" {
		path += "?state=" + url.QueryEscape(string(state))
	}
	var out SessionJobs
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary fetches the session's state counts
func (c *Client) Summary(ctx context.Context, session string) (*Summary, error) {
	var out Summary
	if err := c.do(ctx, http.MethodGet, "/v1/session/"+url.PathEscape(session)+"/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestPage pages the session's unpaged finished jobs and returns the page number
func (c *Client) RequestPage(ctx context.Context, session string) (int, error) {
	var out struct {
		Page int `json:"page"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/session/"+url.PathEscape(session)+"/result", nil, &out)
	return out.Page, err
}

// GetPage fetches a previously written result page
func (c *Client) GetPage(ctx context.Context, session string, page int) (models.Page, error) {
	var out models.Page
	path := fmt.Sprintf("/v1/session/%s/result/%d", url.PathEscape(session), page)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if c.user != "" {
		req.Header.Set(handlers.UserHeader, c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var decoded struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}
