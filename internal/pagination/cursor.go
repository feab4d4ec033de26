package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/query"
)

// cursorPayload is the self-describing body of a cursor token. It carries
// the sort it was minted under so a token cannot be replayed against a
// different ordering.
type cursorPayload struct {
	Sort   []query.SortKey `json:"s"`
	Values []any           `json:"v"`
}

// EncodeCursor returns an opaque token for the given sort-key tuple.
func EncodeCursor(sort []query.SortKey, values []any) string {
	b, _ := json.Marshal(cursorPayload{Sort: sort, Values: values})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token and checks it against the active sort.
func DecodeCursor(token string, sort []query.SortKey) ([]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p cursorPayload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidCursor)
	}

	if len(p.Sort) != len(sort) || len(p.Values) != len(sort) {
		return nil, fmt.Errorf("%w: expected %d sort values", ErrInvalidCursor, len(sort))
	}
	out := make([]any, len(sort))
	for i, k := range sort {
		if p.Sort[i] != k {
			return nil, fmt.Errorf("%w: minted for a different sort", ErrInvalidCursor)
		}
		v, err := coerce(k.Field, p.Values[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SortValues extracts the sort-key tuple of a record. Timestamps sort as
// epoch milliseconds, which is how the search index reports date sort values.
func SortValues(rec domain.ContactRecord, sort []query.SortKey) []any {
	out := make([]any, len(sort))
	for i, k := range sort {
		switch k.Field {
		case domain.FieldCreatedAt:
			out[i] = rec.CreatedAt.UnixMilli()
		case domain.FieldUpdatedAt:
			out[i] = rec.UpdatedAt.UnixMilli()
		default:
			out[i] = rec.FieldValue(k.Field)
		}
	}
	return out
}

// Compare orders two sort-key tuples under sort: negative when a comes
// first.
func Compare(a, b []any, sort []query.SortKey) int {
	for i, k := range sort {
		if i >= len(a) || i >= len(b) {
			break
		}
		c := compareValue(a[i], b[i])
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func isTimeField(field string) bool {
	return field == domain.FieldCreatedAt || field == domain.FieldUpdatedAt
}

func coerce(field string, v any) (any, error) {
	if isTimeField(field) {
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be numeric", ErrInvalidCursor, field)
		}
		ms, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidCursor, field)
		}
		return ms, nil
	}
	if v == nil {
		// The engine reports a missing sort value as null.
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidCursor, field)
	}
	return s, nil
}

func compareValue(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv := toInt64(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bs, _ := b.(string)
		return strings.Compare(av, bs)
	}
	return 0
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
