package query

import "github.com/ignite/emailfinder/internal/domain"

// SortKey is one element of a sort specification.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Plan is a fully resolved retrieval request: predicates, total sort order
// and either an offset window (From) or a keyset position (SearchAfter).
type Plan struct {
	Query       Node
	Sort        []SortKey
	SearchAfter []any
	From        int
	Size        int
}

// Hit is one matched record with the sort values it was ordered by.
type Hit struct {
	ID     string               `json:"id"`
	Record domain.ContactRecord `json:"record"`
	Sort   []any                `json:"sort,omitempty"`
}

// Result is what a search backend returns for a Plan.
type Result struct {
	Total int64 `json:"total"`
	Hits  []Hit `json:"hits"`
}

// Records returns the hit records in order.
func (r Result) Records() []domain.ContactRecord {
	out := make([]domain.ContactRecord, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Record
	}
	return out
}
