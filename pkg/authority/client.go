package authority

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

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// Credentials configures the OAuth2 client-credentials grant used to reach the
// authority. An empty ClientID disables authentication.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Credentials       Credentials
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Log               *logrus.Entry
}

// Client is the REST implementation of Authority.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     *logrus.Entry
}

var _ Authority = (*Client)(nil)

// NewClient creates a REST authority client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("authority base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid authority base url %q: %w", opts.BaseURL, err)
	}

	var httpClient *http.Client
	if opts.HTTPClient != nil {
		shared := *opts.HTTPClient
		httpClient = &shared
	} else {
		httpClient = &http.Client{}
		if opts.Credentials.ClientID != "" {
			cc := clientcredentials.Config{
				ClientID:     opts.Credentials.ClientID,
				ClientSecret: opts.Credentials.ClientSecret,
				TokenURL:     opts.Credentials.TokenURL,
				Scopes:       opts.Credentials.Scopes,
			}
			// cc.Client refreshes tokens transparently
			httpClient = cc.Client(ctx)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = opts.Timeout
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.WithField("component", "authority"),
	}, nil
}

type remoteTask struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	Priority                string     `json:"priority"`
	Status                  string     `json:"status"`
	OwnerID                 string     `json:"owner_id,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	FrozenAt                *time.Time `json:"frozen_at,omitempty"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	DelayedAt               *time.Time `json:"delayed_at,omitempty"`
	FreezeReason            string     `json:"freeze_reason,omitempty"`
	HasPendingFreezeRequest bool       `json:"has_pending_freeze_request"`
	HasPendingCompletion    bool       `json:"has_pending_completion"`
	PendingReason           string     `json:"pending_reason,omitempty"`
}

func (r remoteTask) toModel() model.Task {
	t := model.Task{
		ID:           r.ID,
		Title:        r.Title,
		Priority:     model.Priority(strings.ToLower(r.Priority)),
		Status:       model.Status(strings.ToLower(r.Status)),
		OwnerID:      r.OwnerID,
		CreatedAt:    r.CreatedAt,
		FrozenAt:     r.FrozenAt,
		CompletedAt:  r.CompletedAt,
		DelayedAt:    r.DelayedAt,
		FreezeReason: r.FreezeReason,
	}
	switch {
	case r.HasPendingFreezeRequest:
		t.Approval = model.Approval{Kind: model.FreezeApproval, State: model.Pending, Reason: r.PendingReason}
	case r.HasPendingCompletion:
		t.Approval = model.Approval{Kind: model.CompletionApproval, State: model.Pending, Reason: r.PendingReason}
	}
	return t
}

func (c *Client) ListTasksByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	var remote []remoteTask
	path := "/tasks?status=" + url.QueryEscape(string(status))
	if err := c.do(ctx, "listTasksByStatus", http.MethodGet, path, "", nil, &remote); err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(remote))
	for _, r := range remote {
		t := r.toModel()
		if !t.Status.Valid() {
			c.log.WithField("task_id", r.ID).Warnf("skipping task with unknown status %q", r.Status)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (c *Client) CommitDelayed(ctx context.Context, taskID string) error {
	return c.do(ctx, "commitDelayed", http.MethodPost, taskPath(taskID, "delay"), taskID, nil, nil)
}

func (c *Client) SubmitFreezeRequest(ctx context.Context, taskID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, "submitFreezeRequest", http.MethodPost, taskPath(taskID, "freeze-requests"), taskID, body, nil)
}

func (c *Client) ApproveFreeze(ctx context.Context, taskID string) error {
	return c.do(ctx, "approveFreeze", http.MethodPost, taskPath(taskID, "freeze-requests/approve"), taskID, nil, nil)
}

func (c *Client) DenyFreeze(ctx context.Context, taskID string) error {
	return c.do(ctx, "denyFreeze", http.MethodPost, taskPath(taskID, "freeze-requests/deny"), taskID, nil, nil)
}

func (c *Client) Unfreeze(ctx context.Context, taskID string) error {
	return c.do(ctx, "unfreeze", http.MethodPost, taskPath(taskID, "unfreeze"), taskID, nil, nil)
}

func (c *Client) SubmitCompletion(ctx context.Context, taskID, notes string) error {
	body := map[string]string{"notes": notes}
	return c.do(ctx, "submitCompletion", http.MethodPost, taskPath(taskID, "completion-requests"), taskID, body, nil)
}

func (c *Client) ApproveCompletion(ctx context.Context, taskID string) error {
	return c.do(ctx, "approveCompletion", http.MethodPost, taskPath(taskID, "completion-requests/approve"), taskID, nil, nil)
}

func (c *Client) DenyCompletion(ctx context.Context, taskID string) error {
	return c.do(ctx, "denyCompletion", http.MethodPost, taskPath(taskID, "completion-requests/deny"), taskID, nil, nil)
}

func (c *Client) Reassign(ctx context.Context, taskID, ownerID string) error {
	body := map[string]string{"owner_id": ownerID}
	return c.do(ctx, "reassign", http.MethodPut, taskPath(taskID, "owner"), taskID, body, nil)
}

func taskPath(taskID, action string) string {
	return "/tasks/" + url.PathEscape(taskID) + "/" + action
}

func (c *Client) do(ctx context.Context, op, method, path, taskID string, body, out interface{}) error {
	log := c.log.WithFields(logrus.Fields{"operation": op, "task_id": taskID})

	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteError{Op: op, TaskID: taskID, Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &RemoteError{Op: op, TaskID: taskID, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return &RemoteError{Op: op, TaskID: taskID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("authority request failed")
		return &RemoteError{Op: op, TaskID: taskID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var decoded struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &decoded) == nil && decoded.Message != "" {
			msg = decoded.Message
		}
		log.WithField("status", resp.StatusCode).Warnf("authority rejected request: %s", msg)
		return &RemoteError{Op: op, TaskID: taskID, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Op: op, TaskID: taskID, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
