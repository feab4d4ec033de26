package opensearch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/query"
)

func renderJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		node query.Node
		want string
	}{
		{"nil", nil, `{"match_all":{}}`},
		{"term", query.Term{Field: domain.FieldEmail, Value: "a@x.com"}, `{"term":{"email":"a@x.com"}}`},
		{
			"wildcard on text field uses keyword",
			query.Wildcard{Field: domain.FieldName, Pattern: "*jan*", CaseInsensitive: true},
			`{"wildcard":{"name.keyword":{"case_insensitive":true,"value":"*jan*"}}}`,
		},
		{
			"prefix",
			query.Prefix{Field: domain.FieldRole, Value: "chief", CaseInsensitive: true},
			`{"prefix":{"role.keyword":{"case_insensitive":true,"value":"chief"}}}`,
		},
		{
			"phrase prefix stays on analyzed field",
			query.PhrasePrefix{Field: domain.FieldCompanyName, Value: "acme co"},
			`{"match_phrase_prefix":{"companyname":"acme co"}}`,
		},
		{
			"bool",
			query.Bool{
				Must:   []query.Node{query.Term{Field: domain.FieldWebsite, Value: "acme.com"}},
				Should: []query.Node{query.MatchAll{}},
			},
			`{"bool":{"minimum_should_match":1,"must":[{"term":{"website":"acme.com"}}],"should":[{"match_all":{}}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, renderJSON(t, Render(tt.node)))
		})
	}
}

func TestSearchBody_OffsetMode(t *testing.T) {
	body := SearchBody(query.Plan{
		Sort: []query.SortKey{{Field: domain.FieldCreatedAt, Desc: true}, {Field: domain.FieldEmail, Desc: true}},
		From: 50,
		Size: 25,
	})
	assert.JSONEq(t, `{
		"query": {"match_all": {}},
		"size": 25,
		"from": 50,
		"track_total_hits": true,
		"sort": [{"created_at": {"order": "desc"}}, {"email": {"order": "desc"}}]
	}`, renderJSON(t, body))
}
