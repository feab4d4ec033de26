package opensearch

import (
	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/query"
)

// textFields are analyzed in the mapping and carry a ".keyword" sub-field
// for sorting and exact matching.
var textFields = map[string]bool{
	domain.FieldName:        true,
	domain.FieldRole:        true,
	domain.FieldCompanyName: true,
}

// Render converts a query tree into OpenSearch query DSL.
func Render(n query.Node) map[string]any {
	switch q := n.(type) {
	case nil, query.MatchAll:
		return map[string]any{"match_all": map[string]any{}}
	case query.Term:
		return map[string]any{"term": map[string]any{keywordField(q.Field): q.Value}}
	case query.Wildcard:
		return map[string]any{"wildcard": map[string]any{
			keywordField(q.Field): map[string]any{"value": q.Pattern, "case_insensitive": q.CaseInsensitive},
		}}
	case query.Prefix:
		return map[string]any{"prefix": map[string]any{
			keywordField(q.Field): map[string]any{"value": q.Value, "case_insensitive": q.CaseInsensitive},
		}}
	case query.PhrasePrefix:
		return map[string]any{"match_phrase_prefix": map[string]any{q.Field: q.Value}}
	case query.Bool:
		b := map[string]any{}
		if len(q.Must) > 0 {
			b["must"] = renderAll(q.Must)
		}
		if len(q.Filter) > 0 {
			b["filter"] = renderAll(q.Filter)
		}
		if len(q.Should) > 0 {
			b["should"] = renderAll(q.Should)
			min := q.MinimumShouldMatch
			if min < 1 {
				min = 1
			}
			b["minimum_should_match"] = min
		}
		return map[string]any{"bool": b}
	}
	return map[string]any{"match_all": map[string]any{}}
}

func renderAll(nodes []query.Node) []map[string]any {
	out := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		out[i] = Render(n)
	}
	return out
}

// keywordField maps a record field to the mapping field used for exact,
// wildcard, prefix and sort operations.
func keywordField(field string) string {
	if textFields[field] {
		return field + ".keyword"
	}
	return field
}

// SearchBody builds the _search request body for a plan.
func SearchBody(plan query.Plan) map[string]any {
	body := map[string]any{
		"query":            Render(plan.Query),
		"size":             plan.Size,
		"track_total_hits": true,
	}
	if len(plan.Sort) > 0 {
		sort := make([]map[string]any, len(plan.Sort))
		for i, k := range plan.Sort {
			order := "asc"
			if k.Desc {
				order = "desc"
			}
			sort[i] = map[string]any{keywordField(k.Field): map[string]any{"order": order}}
		}
		body["sort"] = sort
	}
	if len(plan.SearchAfter) > 0 {
		body["search_after"] = plan.SearchAfter
	} else if plan.From > 0 {
		body["from"] = plan.From
	}
	return body
}

// Mapping is the index definition created by EnsureIndex.
func Mapping() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	text := map[string]any{
		"type":   "text",
		"fields": map[string]any{"keyword": map[string]any{"type": "keyword", "ignore_above": 256}},
	}
	date := map[string]any{"type": "date"}
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"max_result_window": 10000},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				domain.FieldEmail:             keyword,
				domain.FieldName:              text,
				domain.FieldRole:              text,
				domain.FieldCompanyName:       text,
				domain.FieldWebsite:           keyword,
				domain.FieldWebsiteNormalized: keyword,
				domain.FieldLinkedIn:          keyword,
				"is_verified":                 map[string]any{"type": "boolean"},
				domain.FieldCreatedAt:         date,
				domain.FieldUpdatedAt:         date,
			},
		},
	}
}
