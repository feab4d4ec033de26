package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ignite/emailfinder/internal/pagination"
	"github.com/ignite/emailfinder/internal/query"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// parsePageRequest reads limit, page, cursor and sort parameters. Missing
// values are left zero for the pagination engine to default; values that
// are present but not numbers are rejected.
func parsePageRequest(r *http.Request) (pagination.Request, error) {
	q := r.URL.Query()
	var req pagination.Request

	var err error
	if req.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return req, err
	}
	if req.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return req, err
	}

	req.Cursor = q.Get("cursor")
	if req.Cursor == "" {
		req.Cursor = q.Get("search_after")
	}
	req.SortField = strings.TrimSpace(q.Get("sort_field"))
	req.SortOrder = strings.ToLower(strings.TrimSpace(q.Get("sort_order")))
	return req, nil
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &contacts.Error{
			Kind:    contacts.KindInvalidInput,
			Msg:     name + " must be an integer",
			Details: map[string]string{name: raw},
		}
	}
	return n, nil
}

// parseFilter reads the comma-separated filter fields.
func parseFilter(r *http.Request) query.Filter {
	q := r.URL.Query()
	return query.Filter{
		Email:       q.Get("email"),
		CompanyName: q.Get("companyname"),
		Name:        q.Get("name"),
		Role:        q.Get("role"),
		Website:     q.Get("website"),
	}
}
