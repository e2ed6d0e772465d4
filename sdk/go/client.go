package conectasdk

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
)

// Client is a minimal Fatec Conecta HTTP API client.
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

// Submitter identifies who proposed an idea.
type Submitter struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Assignment binds an approved idea to a course and class.
type Assignment struct {
	Course    string `json:"course"`
	Class     string `json:"class"`
	Semester  string `json:"semester"`
	Professor string `json:"professor"`
}

// Idea represents the API idea model.
type Idea struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Category          string      `json:"category"`
	Priority          string      `json:"priority"`
	Submitter         Submitter   `json:"submitter"`
	Status            string      `json:"status"`
	MediatorNotes     string      `json:"mediator_notes,omitempty"`
	CoordinationNotes string      `json:"coordination_notes,omitempty"`
	Assignment        *Assignment `json:"assignment,omitempty"`
	CreatedAt         string      `json:"created_at"`
	UpdatedAt         string      `json:"updated_at"`
}

// Student identifies the owner of a project.
type Student struct {
	Name     string `json:"name"`
	Course   string `json:"course,omitempty"`
	Semester string `json:"semester,omitempty"`
}

// Project represents the API project model.
type Project struct {
	ID        string   `json:"id"`
	IdeaID    string   `json:"idea_id"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Priority  string   `json:"priority"`
	Status    string   `json:"status"`
	Progress  int      `json:"progress"`
	Student   *Student `json:"student,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// ProjectUpdate is one progress note on a project.
type ProjectUpdate struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// AssignResult pairs the assigned idea with its new project.
type AssignResult struct {
	Idea    Idea    `json:"idea"`
	Project Project `json:"project"`
}

// IdeaPage wraps paginated idea listings.
type IdeaPage struct {
	Items      []Idea `json:"items"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// ProjectPage wraps paginated project listings.
type ProjectPage struct {
	Items      []Project `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// ListFilters narrow idea and project listings.
type ListFilters struct {
	Status   string
	Category string
	Priority string
	Search   string
	Page     int
	PageSize int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitIdea submits a new community idea.
func (c *Client) SubmitIdea(ctx context.Context, title, description, category, priority string, submitter *Submitter) (Idea, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"category":    category,
	}
	if priority != "" {
		body["priority"] = priority
	}
	if submitter != nil {
		body["submitter"] = submitter
	}
	var resp Idea
	err := c.do(ctx, http.MethodPost, "v1/ideas", body, &resp)
	return resp, err
}

// GetIdea fetches an idea by id.
func (c *Client) GetIdea(ctx context.Context, id string) (Idea, error) {
	var resp Idea
	err := c.do(ctx, http.MethodGet, "v1/ideas/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListIdeas returns a page of ideas.
func (c *Client) ListIdeas(ctx context.Context, f ListFilters) (IdeaPage, error) {
	var resp IdeaPage
	err := c.do(ctx, http.MethodGet, "v1/ideas"+f.query(), nil, &resp)
	return resp, err
}

// Triage moves an idea to em_analise, aprovada or rejeitada.
func (c *Client) Triage(ctx context.Context, ideaID, target, notes string) (Idea, error) {
	body := map[string]any{"target": target}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Idea
	endpoint := fmt.Sprintf("v1/ideas/%s/triage", url.PathEscape(ideaID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Assign binds an approved idea to a course and creates its project.
func (c *Client) Assign(ctx context.Context, ideaID string, a Assignment) (AssignResult, error) {
	var resp AssignResult
	endpoint := fmt.Sprintf("v1/ideas/%s/assign", url.PathEscape(ideaID))
	err := c.do(ctx, http.MethodPost, endpoint, a, &resp)
	return resp, err
}

// ToBacklog returns an idea to pendente and removes its project.
func (c *Client) ToBacklog(ctx context.Context, ideaID string) (Idea, error) {
	var resp Idea
	endpoint := fmt.Sprintf("v1/ideas/%s/backlog", url.PathEscape(ideaID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v1/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListProjects returns a page of projects. Without credentials this hits
// the public tracker, which applies the configured default statuses.
func (c *Client) ListProjects(ctx context.Context, f ListFilters) (ProjectPage, error) {
	var resp ProjectPage
	err := c.do(ctx, http.MethodGet, "v1/projects"+f.query(), nil, &resp)
	return resp, err
}

// ClaimProject records the acting student as the project owner.
func (c *Client) ClaimProject(ctx context.Context, projectID string, s Student) (Project, error) {
	body := map[string]any{}
	if s.Name != "" {
		body["student_name"] = s.Name
	}
	if s.Course != "" {
		body["course"] = s.Course
	}
	if s.Semester != "" {
		body["semester"] = s.Semester
	}
	var resp Project
	endpoint := fmt.Sprintf("v1/projects/%s/claim", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// PostUpdate posts a progress note on a project.
func (c *Client) PostUpdate(ctx context.Context, projectID, message string) (ProjectUpdate, error) {
	body := map[string]any{"message": message}
	var resp ProjectUpdate
	endpoint := fmt.Sprintf("v1/projects/%s/updates", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListUpdates returns a project's updates, newest first.
func (c *Client) ListUpdates(ctx context.Context, projectID string) ([]ProjectUpdate, error) {
	var resp []ProjectUpdate
	endpoint := fmt.Sprintf("v1/projects/%s/updates", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetProgress sets a project's completion percentage.
func (c *Client) SetProgress(ctx context.Context, projectID string, value int) (Project, error) {
	body := map[string]any{"value": value}
	var resp Project
	endpoint := fmt.Sprintf("v1/projects/%s/progress", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// SetProjectStatus moves a project through its lifecycle.
func (c *Client) SetProjectStatus(ctx context.Context, projectID, status string) (Project, error) {
	body := map[string]any{"status": status}
	var resp Project
	endpoint := fmt.Sprintf("v1/projects/%s/status", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (f ListFilters) query() string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Priority != "" {
		q.Set("priority", f.Priority)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Page > 0 {
		q.Set("page", fmt.Sprintf("%d", f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", fmt.Sprintf("%d", f.PageSize))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
