package contacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/metrics"
	"github.com/ignite/emailfinder/internal/pagination"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/query"
	"github.com/ignite/emailfinder/internal/visibility"
)

// SearchRequest is one search call.
type SearchRequest struct {
	Filter   query.Filter
	Page     pagination.Request
	Entitled bool
}

// SearchResponse is a page of results as the caller may see it.
type SearchResponse struct {
	Success    bool                `json:"success"`
	Total      int64               `json:"total"`
	Count      int                 `json:"count"`
	Limit      int                 `json:"limit"`
	Mode       pagination.Mode     `json:"mode"`
	Data       []visibility.Result `json:"data"`
	NextCursor *string             `json:"next_cursor"`
	Page       int                 `json:"page,omitempty"`
	TotalPages int                 `json:"totalPages,omitempty"`
}

// CompanyPage is a company listing page with its masking tally.
type CompanyPage struct {
	SearchResponse
	NormalCount int `json:"normalCount"`
	MaskedCount int `json:"maskedCount"`
}

// Search runs a filtered, paginated query against the index and applies
// the visibility policy for the caller.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	params, err := s.opts.Pagination.Resolve(req.Page)
	if err != nil {
		return nil, pageError(err)
	}
	plan := params.Apply(query.Plan{Query: query.Build(req.Filter)})
	return s.runSearch(ctx, "search", req.Filter, plan, params, req.Entitled)
}

// ListByCompany lists the contacts of one company, newest first. Results
// are always subject to the visibility policy.
func (s *Service) ListByCompany(ctx context.Context, company string, page pagination.Request, entitled bool) (*CompanyPage, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, invalidInput(nil, "companyname is required")
	}
	page.SortField = domain.FieldCreatedAt
	page.SortOrder = "desc"
	if page.Cursor == "" && page.Page < 1 {
		page.Page = 1
	}

	params, err := s.opts.CompanyPagination.Resolve(page)
	if err != nil {
		return nil, pageError(err)
	}
	filter := query.Filter{CompanyName: company}
	plan := params.Apply(query.Plan{Query: query.PhrasePrefix{Field: domain.FieldCompanyName, Value: company}})

	resp, err := s.runSearch(ctx, "company", filter, plan, params, entitled)
	if err != nil {
		return nil, err
	}
	normal, masked := visibility.Counts(resp.Data)
	return &CompanyPage{SearchResponse: *resp, NormalCount: normal, MaskedCount: masked}, nil
}

func (s *Service) runSearch(ctx context.Context, scope string, f query.Filter, plan query.Plan, params pagination.Params, entitled bool) (*SearchResponse, error) {
	start := time.Now()
	mode := string(params.Mode)
	defer func() {
		metrics.SearchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()
	metrics.SearchTotal.WithLabelValues(mode).Inc()

	res, err := s.cachedSearch(ctx, scope, f, plan)
	if err != nil {
		return nil, err
	}

	records := res.Records()
	resp := &SearchResponse{
		Success: true,
		Total:   res.Total,
		Count:   len(records),
		Limit:   params.Limit,
		Mode:    params.Mode,
		Data:    s.opts.Visibility.Apply(records, entitled),
	}
	if params.Mode == pagination.ModeOffset {
		resp.Page = params.Page
		resp.TotalPages = int((res.Total + int64(params.Limit) - 1) / int64(params.Limit))
	}
	resp.NextCursor = params.Next(res.Hits)
	return resp, nil
}

// cachedSearch serves the pre-visibility result from the cache when the
// generation still matches, and fills the cache on a miss.
func (s *Service) cachedSearch(ctx context.Context, scope string, f query.Filter, plan query.Plan) (*query.Result, error) {
	key, kerr := s.cacheKey(ctx, scope, f, plan)
	if kerr != nil {
		metrics.SearchCacheTotal.WithLabelValues("error").Inc()
		logger.Warn("contacts: search cache unavailable", "error", kerr)
	}

	if key != "" {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.SearchCacheTotal.WithLabelValues("error").Inc()
			logger.Warn("contacts: search cache read failed", "error", err)
		case ok:
			var res query.Result
			if err := json.Unmarshal(raw, &res); err == nil {
				metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
				return &res, nil
			}
			metrics.SearchCacheTotal.WithLabelValues("error").Inc()
		default:
			metrics.SearchCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	res, err := s.index.Search(ctx, plan)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if raw, err := json.Marshal(res); err == nil {
			if err := s.cache.Set(ctx, key, raw); err != nil {
				logger.Warn("contacts: search cache write failed", "error", err)
			}
		}
	}
	return res, nil
}

func (s *Service) cacheKey(ctx context.Context, scope string, f query.Filter, plan query.Plan) (string, error) {
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(struct {
		Gen         int64           `json:"g"`
		Scope       string          `json:"sc"`
		Filter      query.Filter    `json:"f"`
		Sort        []query.SortKey `json:"s"`
		SearchAfter []any           `json:"sa,omitempty"`
		From        int             `json:"from"`
		Size        int             `json:"size"`
	}{gen, scope, f, plan.Sort, plan.SearchAfter, plan.From, plan.Size})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func pageError(err error) error {
	if errors.Is(err, pagination.ErrInvalidCursor) ||
		errors.Is(err, pagination.ErrInvalidSort) ||
		errors.Is(err, pagination.ErrWindowTooDeep) {
		return &Error{Kind: KindInvalidInput, Msg: "invalid pagination", Err: err}
	}
	return err
}
