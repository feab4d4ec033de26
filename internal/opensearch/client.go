// Package opensearch is the search index integration: a REST client for an
// OpenSearch cluster that implements contacts.Index.
//
// Documents are keyed by email. Every call carries its own deadline (point,
// bulk or clear timeout); a missing document is reported as
// contacts.ErrIndexNotFound and timeouts, transport failures, 429 and 5xx
// responses as contacts.IndexUnavailable errors.
package opensearch

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

	"github.com/ignite/emailfinder/internal/config"
	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/metrics"
	"github.com/ignite/emailfinder/internal/pkg/httpretry"
	"github.com/ignite/emailfinder/internal/query"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// Client is an OpenSearch REST client scoped to one index
type Client struct {
	baseURL    string
	index      string
	username   string
	password   string
	point      time.Duration
	bulk       time.Duration
	clear      time.Duration
	httpClient httpretry.HTTPDoer
}

var _ contacts.Index = (*Client)(nil)

// NewClient creates a new OpenSearch client
func NewClient(cfg config.OpenSearchConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		index:      cfg.Index,
		username:   cfg.Username,
		password:   cfg.Password,
		point:      orDefault(cfg.PointTimeout(), 10*time.Second),
		bulk:       orDefault(cfg.BulkTimeout(), 60*time.Second),
		clear:      orDefault(cfg.ClearTimeout(), 120*time.Second),
		httpClient: httpretry.NewRetryClient(&http.Client{}, cfg.MaxRetries),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

type response struct {
	status int
	body   []byte
}

// doRequest sends one request under its own deadline. Transport failures
// and retryable statuses come back as IndexUnavailable; other statuses are
// returned to the caller to interpret.
func (c *Client) doRequest(ctx context.Context, op string, timeout time.Duration, method, path string, body []byte, contentType string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IndexRequestsTotal.WithLabelValues(op, "unavailable").Inc()
		return nil, contacts.IndexUnavailable(fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IndexRequestsTotal.WithLabelValues(op, "unavailable").Inc()
		return nil, contacts.IndexUnavailable(fmt.Errorf("%s: reading response: %w", op, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.IndexRequestsTotal.WithLabelValues(op, "unavailable").Inc()
		return nil, contacts.IndexUnavailable(fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, truncate(data)))
	case resp.StatusCode == http.StatusNotFound:
		metrics.IndexRequestsTotal.WithLabelValues(op, "not_found").Inc()
	case resp.StatusCode >= 400:
		metrics.IndexRequestsTotal.WithLabelValues(op, "error").Inc()
	default:
		metrics.IndexRequestsTotal.WithLabelValues(op, "ok").Inc()
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) doJSON(ctx context.Context, op string, timeout time.Duration, method, path string, payload any) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
	}
	return c.doRequest(ctx, op, timeout, method, path, body, "application/json")
}

func apiError(op string, r *response) error {
	return fmt.Errorf("%s: API error (status %d): %s", op, r.status, truncate(r.body))
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func decode(r *response, v any) error {
	dec := json.NewDecoder(bytes.NewReader(r.body))
	dec.UseNumber()
	return dec.Decode(v)
}

func (c *Client) docPath(id string) string {
	return "/" + c.index + "/_doc/" + url.PathEscape(id)
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	r, err := c.doRequest(ctx, "ensure_index", c.point, http.MethodHead, "/"+c.index, nil, "")
	if err != nil {
		return err
	}
	if r.status == http.StatusOK {
		return nil
	}
	if r.status != http.StatusNotFound {
		return apiError("ensure_index", r)
	}
	r, err = c.doJSON(ctx, "create_index", c.point, http.MethodPut, "/"+c.index, Mapping())
	if err != nil {
		return err
	}
	if r.status >= 300 && !bytes.Contains(r.body, []byte("resource_already_exists_exception")) {
		return apiError("create_index", r)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string               `json:"_id"`
			Source domain.ContactRecord `json:"_source"`
			Sort   []any                `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Dups struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"dups"`
	} `json:"aggregations"`
}

func (c *Client) search(ctx context.Context, op string, body map[string]any) (*searchResponse, error) {
	r, err := c.doJSON(httpretry.Idempotent(ctx), op, c.point, http.MethodPost, "/"+c.index+"/_search", body)
	if err != nil {
		return nil, err
	}
	if r.status == http.StatusNotFound {
		return nil, contacts.IndexUnavailable(fmt.Errorf("%s: index %q does not exist", op, c.index))
	}
	if r.status >= 300 {
		return nil, apiError(op, r)
	}
	var sr searchResponse
	if err := decode(r, &sr); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return &sr, nil
}

func (c *Client) Search(ctx context.Context, plan query.Plan) (*query.Result, error) {
	sr, err := c.search(ctx, "search", SearchBody(plan))
	if err != nil {
		return nil, err
	}
	res := &query.Result{Total: sr.Hits.Total.Value, Hits: make([]query.Hit, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		res.Hits = append(res.Hits, query.Hit{ID: h.ID, Record: h.Source, Sort: h.Sort})
	}
	return res, nil
}

func (c *Client) Get(ctx context.Context, email string) (*domain.ContactRecord, error) {
	r, err := c.doRequest(ctx, "get", c.point, http.MethodGet, c.docPath(email), nil, "")
	if err != nil {
		return nil, err
	}
	if r.status == http.StatusNotFound {
		return nil, contacts.ErrIndexNotFound
	}
	if r.status >= 300 {
		return nil, apiError("get", r)
	}
	var doc struct {
		Found  bool                 `json:"found"`
		Source domain.ContactRecord `json:"_source"`
	}
	if err := decode(r, &doc); err != nil {
		return nil, fmt.Errorf("get: decoding response: %w", err)
	}
	if !doc.Found {
		return nil, contacts.ErrIndexNotFound
	}
	return &doc.Source, nil
}

// Put indexes rec under its email, replacing any previous document.
func (c *Client) Put(ctx context.Context, rec domain.ContactRecord) error {
	r, err := c.doJSON(ctx, "put", c.point, http.MethodPut, c.docPath(rec.Email), rec)
	if err != nil {
		return err
	}
	if r.status >= 300 {
		return apiError("put", r)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	r, err := c.doRequest(ctx, "delete", c.point, http.MethodDelete, c.docPath(id), nil, "")
	if err != nil {
		return err
	}
	if r.status == http.StatusNotFound {
		return contacts.ErrIndexNotFound
	}
	if r.status >= 300 {
		return apiError("delete", r)
	}
	return nil
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (c *Client) doBulk(ctx context.Context, op string, body []byte) (*contacts.BulkResult, error) {
	// Every bulk action names its _id, so a resend converges.
	r, err := c.doRequest(httpretry.Idempotent(ctx), op, c.bulk, http.MethodPost, "/_bulk", body, "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	if r.status >= 300 {
		return nil, apiError(op, r)
	}
	var br bulkResponse
	if err := decode(r, &br); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}

	res := &contacts.BulkResult{}
	for _, item := range br.Items {
		for _, o := range item {
			switch {
			case o.Status == http.StatusNotFound && o.Error == nil:
				res.NotFound = append(res.NotFound, o.ID)
			case o.Status >= 200 && o.Status < 300:
				res.Succeeded = append(res.Succeeded, o.ID)
			default:
				msg := fmt.Sprintf("status %d", o.Status)
				if o.Error != nil {
					msg = o.Error.Type + ": " + o.Error.Reason
				}
				res.Failed = append(res.Failed, contacts.ItemError{Email: o.ID, Error: msg})
			}
		}
	}
	return res, nil
}

func (c *Client) BulkDelete(ctx context.Context, ids []string) (*contacts.BulkResult, error) {
	if len(ids) == 0 {
		return &contacts.BulkResult{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		action := map[string]any{"delete": map[string]any{"_index": c.index, "_id": id}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("bulk_delete: encoding action: %w", err)
		}
	}
	return c.doBulk(ctx, "bulk_delete", buf.Bytes())
}

func (c *Client) BulkPut(ctx context.Context, recs []domain.ContactRecord) (*contacts.BulkResult, error) {
	if len(recs) == 0 {
		return &contacts.BulkResult{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		action := map[string]any{"index": map[string]any{"_index": c.index, "_id": rec.Email}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("bulk_put: encoding action: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("bulk_put: encoding document: %w", err)
		}
	}
	return c.doBulk(ctx, "bulk_put", buf.Bytes())
}

func (c *Client) FindByEmail(ctx context.Context, email string) ([]query.Hit, error) {
	sr, err := c.search(ctx, "find_by_email", map[string]any{
		"query": Render(query.Term{Field: domain.FieldEmail, Value: email}),
		"size":  100,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]query.Hit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, query.Hit{ID: h.ID, Record: h.Source})
	}
	return hits, nil
}

// DuplicateEmails aggregates on the email keyword to find emails held by
// more than one document (documents indexed under a legacy id).
func (c *Client) DuplicateEmails(ctx context.Context, limit int) ([]string, error) {
	sr, err := c.search(ctx, "duplicate_emails", map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"dups": map[string]any{
				"terms": map[string]any{"field": domain.FieldEmail, "min_doc_count": 2, "size": limit},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sr.Aggregations.Dups.Buckets))
	for _, b := range sr.Aggregations.Dups.Buckets {
		out = append(out, b.Key)
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context) (int64, error) {
	r, err := c.doRequest(ctx, "count", c.point, http.MethodGet, "/"+c.index+"/_count", nil, "")
	if err != nil {
		return 0, err
	}
	if r.status == http.StatusNotFound {
		return 0, nil
	}
	if r.status >= 300 {
		return 0, apiError("count", r)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := decode(r, &out); err != nil {
		return 0, fmt.Errorf("count: decoding response: %w", err)
	}
	return out.Count, nil
}

// ClearAll submits a delete_by_query over every document without waiting
// for completion.
func (c *Client) ClearAll(ctx context.Context) (string, error) {
	path := "/" + c.index + "/_delete_by_query?wait_for_completion=false&conflicts=proceed"
	r, err := c.doJSON(ctx, "clear_all", c.clear, http.MethodPost, path, map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
	})
	if err != nil {
		return "", err
	}
	if r.status >= 300 {
		return "", apiError("clear_all", r)
	}
	var out struct {
		Task string `json:"task"`
	}
	if err := decode(r, &out); err != nil {
		return "", fmt.Errorf("clear_all: decoding response: %w", err)
	}
	if out.Task == "" {
		return "", errors.New("clear_all: response carried no task id")
	}
	return out.Task, nil
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (*contacts.TaskStatus, error) {
	r, err := c.doRequest(ctx, "task_status", c.point, http.MethodGet, "/_tasks/"+url.PathEscape(taskID), nil, "")
	if err != nil {
		return nil, err
	}
	if r.status >= 300 {
		return nil, apiError("task_status", r)
	}
	var out struct {
		Completed bool `json:"completed"`
		Task      struct {
			Status struct {
				Total   int64 `json:"total"`
				Deleted int64 `json:"deleted"`
			} `json:"status"`
		} `json:"task"`
		Response struct {
			Failures []json.RawMessage `json:"failures"`
		} `json:"response"`
	}
	if err := decode(r, &out); err != nil {
		return nil, fmt.Errorf("task_status: decoding response: %w", err)
	}
	return &contacts.TaskStatus{
		Completed: out.Completed,
		Total:     out.Task.Status.Total,
		Deleted:   out.Task.Status.Deleted,
		Failures:  len(out.Response.Failures),
	}, nil
}
