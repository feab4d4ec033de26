// Package pagination resolves page requests into keyset or offset windows
// over a totally ordered result set and mints the opaque cursors that
// carry a caller from one page to the next.
package pagination

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/query"
)

// Mode is how a page window is positioned.
type Mode string

const (
	ModeCursor Mode = "cursor"
	ModeOffset Mode = "offset"
)

// Tiebreaker is the unique field appended to every sort so the order is
// total even when many records share the primary sort value.
const Tiebreaker = domain.FieldEmail

var (
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidSort   = errors.New("invalid sort")
	ErrWindowTooDeep = errors.New("offset beyond result window")
)

// Request is the caller's raw paging input.
type Request struct {
	Limit     int
	Page      int
	Cursor    string
	SortField string
	SortOrder string
}

// Params is a resolved page window.
type Params struct {
	Mode        Mode
	Limit       int
	Page        int
	From        int
	Sort        []query.SortKey
	SearchAfter []any
}

// Engine holds the server-side paging limits.
type Engine struct {
	DefaultLimit     int
	MaxLimit         int
	DefaultSortField string
	SortableFields   []string
	MaxResultWindow  int
}

// Resolve validates a request and produces the page window. The first page
// of a request without page number or cursor is a cursor-mode page.
func (e Engine) Resolve(req Request) (Params, error) {
	sort, err := e.sortFor(req.SortField, req.SortOrder)
	if err != nil {
		return Params{}, err
	}

	p := Params{Limit: e.clamp(req.Limit), Sort: sort, Mode: ModeCursor}

	if req.Cursor != "" {
		values, err := DecodeCursor(req.Cursor, sort)
		if err != nil {
			return Params{}, err
		}
		p.SearchAfter = values
		return p, nil
	}

	if req.Page > 0 {
		p.Mode = ModeOffset
		p.Page = req.Page
		p.From = (req.Page - 1) * p.Limit
		if e.MaxResultWindow > 0 && p.From+p.Limit > e.MaxResultWindow {
			return Params{}, fmt.Errorf("%w: page %d with limit %d exceeds %d results, use the cursor",
				ErrWindowTooDeep, req.Page, p.Limit, e.MaxResultWindow)
		}
	}
	return p, nil
}

// Apply copies the window into a plan.
func (p Params) Apply(plan query.Plan) query.Plan {
	plan.Sort = p.Sort
	plan.Size = p.Limit
	plan.From = p.From
	plan.SearchAfter = p.SearchAfter
	return plan
}

// Next mints the cursor for the page after hits. It returns nil when the
// page is empty: an exhausted result set has no next position. The last
// hit's engine sort values are used when present, since the engine may sort
// on a derived value (a truncated keyword, a missing value) that differs
// from the stored field.
func (p Params) Next(hits []query.Hit) *string {
	if len(hits) == 0 {
		return nil
	}
	last := hits[len(hits)-1]
	values := last.Sort
	if len(values) != len(p.Sort) {
		values = SortValues(last.Record, p.Sort)
	}
	c := EncodeCursor(p.Sort, values)
	return &c
}

func (e Engine) clamp(limit int) int {
	if limit < 1 {
		limit = e.DefaultLimit
	}
	if e.MaxLimit > 0 && limit > e.MaxLimit {
		limit = e.MaxLimit
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (e Engine) sortFor(field, order string) ([]query.SortKey, error) {
	field = strings.ToLower(strings.TrimSpace(field))
	if field == "" {
		field = e.DefaultSortField
	}
	if field == "" {
		field = Tiebreaker
	}
	if !e.sortable(field) {
		return nil, fmt.Errorf("%w: field %q is not sortable", ErrInvalidSort, field)
	}

	var desc bool
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, fmt.Errorf("%w: order must be asc or desc", ErrInvalidSort)
	}

	keys := []query.SortKey{{Field: field, Desc: desc}}
	if field != Tiebreaker {
		keys = append(keys, query.SortKey{Field: Tiebreaker, Desc: desc})
	}
	return keys, nil
}

func (e Engine) sortable(field string) bool {
	if field == Tiebreaker {
		return true
	}
	for _, f := range e.SortableFields {
		if f == field {
			return true
		}
	}
	return false
}
