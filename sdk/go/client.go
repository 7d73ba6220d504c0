package brieflinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal briefline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Brief represents the API brief model (partial).
type Brief struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	Title         string         `json:"title"`
	Context       string         `json:"context"`
	Objective     string         `json:"objective"`
	Priority      string         `json:"priority"`
	Status        string         `json:"status"`
	Deadline      time.Time      `json:"deadline"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
	EstimatedCost float64        `json:"estimated_cost"`
	Outcome       string         `json:"outcome,omitempty"`
	ClubID        string         `json:"club_id"`
	TemplateID    string         `json:"template_id"`
	CreatedBy     string         `json:"created_by"`
}

// NewBrief is the content of a draft.
type NewBrief struct {
	ClubID        string         `json:"club_id"`
	TemplateID    string         `json:"template_id"`
	Title         string         `json:"title"`
	Context       string         `json:"context"`
	Objective     string         `json:"objective"`
	KPI           string         `json:"kpi,omitempty"`
	KPITarget     *float64       `json:"kpi_target,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Deadline      time.Time      `json:"deadline"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
	AssetLinks    []string       `json:"asset_links,omitempty"`
	EstimatedCost float64        `json:"estimated_cost,omitempty"`
	Crisis        bool           `json:"crisis,omitempty"`
}

// PolicyResult is the composite policy decision for a brief.
type PolicyResult struct {
	Rules []struct {
		ID       string `json:"id"`
		Message  string `json:"message"`
		Passed   bool   `json:"passed"`
		Severity string `json:"severity"`
	} `json:"rules"`
	AutoRejectReasons     []string `json:"auto_reject_reasons"`
	RequiresOwnerApproval bool     `json:"requires_owner_approval"`
	OwnerApprovalReasons  []string `json:"owner_approval_reasons"`
	EscalationType        string   `json:"escalation_type,omitempty"`
	CanAutoApprove        bool     `json:"can_auto_approve"`
	Warnings              []string `json:"warnings"`
	SuggestedPriority     string   `json:"suggested_priority"`
	SuggestedSLA          int      `json:"suggested_sla"`
	Alignment             struct {
		Applicable bool   `json:"applicable"`
		Score      int    `json:"score"`
		Label      string `json:"label,omitempty"`
	} `json:"alignment"`
}

// Task represents a production task.
type Task struct {
	ID            string    `json:"id"`
	BriefID       string    `json:"brief_id"`
	Status        string    `json:"status"`
	AssigneeID    string    `json:"assignee_id,omitempty"`
	SLADays       int       `json:"sla_days"`
	DueDate       time.Time `json:"due_date"`
	DeliveryCycle int       `json:"delivery_cycle"`
}

// Approval is one validator decision.
type Approval struct {
	ID          string `json:"id"`
	BriefID     string `json:"brief_id"`
	ValidatorID string `json:"validator_id"`
	Decision    string `json:"decision"`
	Notes       string `json:"notes,omitempty"`
	Priority    string `json:"priority,omitempty"`
	SLADays     int    `json:"sla_days,omitempty"`
}

// Decision is a validator action. Priority and SLADays are optional overrides.
type Decision struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
	Priority string `json:"priority,omitempty"`
	SLADays  int    `json:"sla_days,omitempty"`
}

// DecisionResult carries the task created by an approval.
type DecisionResult struct {
	Brief    Brief        `json:"brief"`
	Approval Approval     `json:"approval"`
	Task     *Task        `json:"task,omitempty"`
	Policy   PolicyResult `json:"policy"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateBrief stores a draft.
func (c *Client) CreateBrief(ctx context.Context, in NewBrief) (Brief, error) {
	var resp Brief
	err := c.do(ctx, http.MethodPost, "briefs", in, &resp)
	return resp, err
}

// SubmitBrief sends a draft to validation and returns the policy validators will see.
func (c *Client) SubmitBrief(ctx context.Context, briefID string) (Brief, PolicyResult, error) {
	var resp struct {
		Brief  Brief        `json:"brief"`
		Policy PolicyResult `json:"policy"`
	}
	err := c.do(ctx, http.MethodPost, briefPath(briefID, "submit"), nil, &resp)
	return resp.Brief, resp.Policy, err
}

// GetBrief fetches a brief by id.
func (c *Client) GetBrief(ctx context.Context, briefID string) (Brief, error) {
	var resp Brief
	err := c.do(ctx, http.MethodGet, briefPath(briefID, ""), nil, &resp)
	return resp, err
}

// CheckBrief evaluates the policy rules for a stored brief.
func (c *Client) CheckBrief(ctx context.Context, briefID string) (PolicyResult, error) {
	var resp PolicyResult
	err := c.do(ctx, http.MethodGet, briefPath(briefID, "policy"), nil, &resp)
	return resp, err
}

// Decide records a validator decision.
func (c *Client) Decide(ctx context.Context, briefID string, d Decision) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, briefPath(briefID, "decision"), d, &resp)
	return resp, err
}

// Tasks lists the production queue. mine restricts to the caller's tasks.
func (c *Client) Tasks(ctx context.Context, status string, mine bool) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if mine {
		q.Set("mine", "true")
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task. assigneeID may be empty.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status, notes, assigneeID string) (Task, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["notes"] = notes
	}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// TagOutcome records the outcome of a delivered brief.
func (c *Client) TagOutcome(ctx context.Context, briefID, outcome, note string) (Brief, error) {
	body := map[string]any{"outcome": outcome}
	if note != "" {
		body["outcome_note"] = note
	}
	var resp Brief
	err := c.do(ctx, http.MethodPost, briefPath(briefID, "outcome"), body, &resp)
	return resp, err
}

// EventsPage returns a page of the audit log, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func briefPath(id, action string) string {
	p := "briefs/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
