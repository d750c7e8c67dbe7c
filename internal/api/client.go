// Package api is the typed REST client for the sync server. Long-running
// operations (org refresh, commit, provisioning) only acknowledge here;
// their outcomes arrive via the event channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mistakeknot/orgsync/internal/model"
)

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// Client provides typed access to the sync server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
}

// New creates a REST client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(method, path, resp)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// listPage is one page of a paginated collection response. Some endpoints
// return a bare array instead.
type listPage[T any] struct {
	Results []T     `json:"results"`
	Next    *string `json:"next"`
}

func fetchList[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var out []T
	next := path
	q := query
	for next != "" {
		ctxReq, cancel := c.withTimeout(ctx)
		raw, err := c.getRaw(ctxReq, next, q)
		cancel()
		if err != nil {
			return nil, err
		}
		// Envelope first, bare array as fallback.
		var page listPage[T]
		if err := json.Unmarshal(raw, &page); err == nil && page.Results != nil {
			out = append(out, page.Results...)
			if page.Next == nil || *page.Next == "" {
				break
			}
			next = *page.Next
			q = nil // the next URL already carries its query
			continue
		}
		var bare []T
		if err := json.Unmarshal(raw, &bare); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		out = append(out, bare...)
		break
	}
	return out, nil
}

func (c *Client) getRaw(ctx context.Context, pathOrURL string, query url.Values) ([]byte, error) {
	u := pathOrURL
	if len(u) > 0 && u[0] == '/' {
		u = c.baseURL + u
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", pathOrURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeError(http.MethodGet, pathOrURL, resp)
	}
	return io.ReadAll(resp.Body)
}

// Project operations

// ListProjects fetches all projects, following pagination.
func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	return fetchList[model.Project](ctx, c, "/api/projects", nil)
}

// RefreshProjects asks the server to re-scan the user's repositories. The
// refreshed list arrives as a USER_REPOS_REFRESH event.
func (c *Client) RefreshProjects(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/projects/refresh", nil, nil, nil)
}

// Epic and task operations

// ListEpics fetches all epics under a project.
func (c *Client) ListEpics(ctx context.Context, projectID string) ([]model.Epic, error) {
	q := url.Values{"project": {projectID}}
	return fetchList[model.Epic](ctx, c, "/api/epics", q)
}

// ListTasks fetches all tasks under a project.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]model.Task, error) {
	q := url.Values{"project": {projectID}}
	return fetchList[model.Task](ctx, c, "/api/tasks", q)
}

// UpdateTask patches a task. Used by reassignment, which writes the
// assignment field directly and does not wait for a socket confirmation.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (model.Task, error) {
	var result model.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+id, nil, fields, &result); err != nil {
		return model.Task{}, err
	}
	return result, nil
}

// Org operations

// CreateOrgRequest is the body of an org creation call.
type CreateOrgRequest struct {
	Task    string        `json:"task,omitempty"`
	Epic    string        `json:"epic,omitempty"`
	Project string        `json:"project,omitempty"`
	OrgType model.OrgType `json:"org_type"`
}

// CreateOrg requests a new scratch org. The returned org is not yet ready;
// readiness arrives as a SCRATCH_ORG_PROVISION event.
func (c *Client) CreateOrg(ctx context.Context, req CreateOrgRequest) (model.Org, error) {
	var result model.Org
	if err := c.do(ctx, http.MethodPost, "/api/scratch-orgs", nil, req, &result); err != nil {
		return model.Org{}, err
	}
	return result, nil
}

// GetOrg fetches one org. found is false on a null not-found response.
func (c *Client) GetOrg(ctx context.Context, id string) (model.Org, bool, error) {
	ctxReq, cancel := c.withTimeout(ctx)
	defer cancel()
	raw, err := c.getRaw(ctxReq, "/api/scratch-orgs/"+id, nil)
	if err != nil {
		return model.Org{}, false, err
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return model.Org{}, false, nil
	}
	var org model.Org
	if err := json.Unmarshal(raw, &org); err != nil {
		return model.Org{}, false, fmt.Errorf("decode org: %w", err)
	}
	return org, true, nil
}

// DeleteOrg requests org deletion. Removal is confirmed either by the
// response's own success path or by a SCRATCH_ORG_DELETE event.
func (c *Client) DeleteOrg(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/scratch-orgs/"+id, nil, nil, nil)
}

// RefreshOrg asks the server to rebuild the org from the latest parent
// branch. The call only acknowledges; the outcome arrives as a
// SCRATCH_ORG_REFRESH or SCRATCH_ORG_REFRESH_FAILED event.
func (c *Client) RefreshOrg(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/scratch-orgs/"+id+"/refresh", nil, nil, nil)
}

// CheckOrgChanges triggers the asynchronous unsaved-changes check. Its
// completion is observed as the org's currently_refreshing_changes flag
// transitioning back to false in a SCRATCH_ORG_UPDATE event.
func (c *Client) CheckOrgChanges(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/scratch-orgs/"+id+"/refresh-changes", nil, nil, nil)
}

// CommitRequest captures selected org changes to version control.
type CommitRequest struct {
	Message string              `json:"commit_message"`
	Changes map[string][]string `json:"changes"`
}

// CommitOrg captures org changes. Acknowledge-only; the outcome arrives as
// a SCRATCH_ORG_COMMIT_CHANGES or SCRATCH_ORG_COMMIT_CHANGES_FAILED event.
func (c *Client) CommitOrg(ctx context.Context, id string, req CommitRequest) error {
	return c.do(ctx, http.MethodPost, "/api/scratch-orgs/"+id+"/commit", nil, req, nil)
}

// CanReassign asks whether an existing org may be transferred to a new
// assignee.
func (c *Client) CanReassign(ctx context.Context, taskID string, role model.OrgType, ghUID string) (bool, error) {
	body := map[string]any{"role": role, "gh_uid": ghUID}
	var result struct {
		CanReassign bool `json:"can_reassign"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+taskID+"/can-reassign", nil, body, &result); err != nil {
		return false, err
	}
	return result.CanReassign, nil
}
