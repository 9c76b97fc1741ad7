package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/catalogsync/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Kind    domain.ErrorKind
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

type errorBody struct {
	Error struct {
		Kind    domain.ErrorKind `json:"kind"`
		Message string           `json:"message"`
	} `json:"error"`
}

// Client talks to the catalogsync HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/") + "/api/v1")
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)
	return &Client{http: client}
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var apiErr errorBody
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return &APIError{Status: resp.StatusCode(), Kind: apiErr.Error.Kind, Message: msg}
	}
	return nil
}

// TriggerResult is the accepted-job response of the sync endpoints.
type TriggerResult struct {
	JobID  string           `json:"jobId"`
	Type   domain.SyncType  `json:"type"`
	Status domain.JobStatus `json:"status"`
}

// JobList is one page of sync jobs.
type JobList struct {
	Jobs  []domain.SyncJob `json:"jobs"`
	Total int              `json:"total"`
}

// JobErrorList is one page of row errors.
type JobErrorList struct {
	Errors []domain.SyncError `json:"errors"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// CollectionList is every registered collection.
type CollectionList struct {
	Collections []domain.Collection `json:"collections"`
	Total       int                 `json:"total"`
}

// DatasourceList is every configured datasource.
type DatasourceList struct {
	Datasources []domain.Datasource `json:"datasources"`
	Total       int                 `json:"total"`
}

func (c *Client) TriggerSync(ctx context.Context, req domain.TriggerSyncRequest) (*TriggerResult, error) {
	var out TriggerResult
	if err := c.do(ctx, http.MethodPost, "/sync/trigger", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Webhook(ctx context.Context, datasourceID string, keys []string) (*TriggerResult, error) {
	var out TriggerResult
	body := map[string]interface{}{"datasourceId": datasourceID, "recordIds": keys}
	if err := c.do(ctx, http.MethodPost, "/sync/webhook", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListJobs(ctx context.Context, datasourceID string, status domain.JobStatus, limit int) (*JobList, error) {
	var out JobList
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if datasourceID != "" {
		q.Set("datasourceId", datasourceID)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	path := "/sync/jobs?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches a job. A positive wait long-polls until the job is terminal
// or the server gives up waiting.
func (c *Client) GetJob(ctx context.Context, id string, wait time.Duration) (*domain.SyncJob, error) {
	var out domain.SyncJob
	path := "/sync/jobs/" + id
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/sync/jobs/"+id+"/cancel", nil, nil)
}

func (c *Client) JobErrors(ctx context.Context, id string, limit, offset int) (*JobErrorList, error) {
	var out JobErrorList
	path := fmt.Sprintf("/sync/jobs/%s/errors?limit=%d&offset=%d", id, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DetectDuplicates(ctx context.Context, req domain.DetectDuplicatesRequest) (*domain.DuplicateReport, error) {
	var out domain.DuplicateReport
	if err := c.do(ctx, http.MethodPost, "/duplicates/detect", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetReport(ctx context.Context, collection, name string) (*domain.DuplicateReport, error) {
	var out domain.DuplicateReport
	if err := c.do(ctx, http.MethodGet, "/duplicates/reports/"+collection+"/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Validate(ctx context.Context, req domain.ValidateProductRequest) (*domain.ValidationResult, error) {
	var out domain.ValidationResult
	if err := c.do(ctx, http.MethodPost, "/products/validate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCollections(ctx context.Context) (*CollectionList, error) {
	var out CollectionList
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCollection(ctx context.Context, name string) (*domain.Collection, error) {
	var out domain.Collection
	if err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCollection(ctx context.Context, spec domain.CollectionSpec) (*domain.Collection, error) {
	var out domain.Collection
	if err := c.do(ctx, http.MethodPost, "/collections", spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RefreshCollection(ctx context.Context, name string) (*domain.Collection, error) {
	var out domain.Collection
	if err := c.do(ctx, http.MethodPost, "/collections/"+name+"/refresh", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
}

func (c *Client) ListDatasources(ctx context.Context) (*DatasourceList, error) {
	var out DatasourceList
	if err := c.do(ctx, http.MethodGet, "/datasources", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDatasource(ctx context.Context, id string) (*domain.Datasource, error) {
	var out domain.Datasource
	if err := c.do(ctx, http.MethodGet, "/datasources/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
