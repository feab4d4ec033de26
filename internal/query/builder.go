package query

import (
	"strings"

	"github.com/ignite/emailfinder/internal/domain"
)

// Filter holds the raw caller parameters. Each field is a comma-separated
// list of values; empty fields add no clause.
type Filter struct {
	Email       string `json:"email,omitempty"`
	CompanyName string `json:"companyname,omitempty"`
	Name        string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	Website     string `json:"website,omitempty"`
}

// IsEmpty reports whether no field carries a usable value.
func (f Filter) IsEmpty() bool {
	return len(SplitValues(f.Email)) == 0 &&
		len(SplitValues(f.CompanyName)) == 0 &&
		len(SplitValues(f.Name)) == 0 &&
		len(SplitValues(f.Role)) == 0 &&
		len(SplitValues(f.Website)) == 0
}

// Build translates f into a query tree. Values within a field are ORed,
// distinct fields are ANDed, and an empty filter matches everything.
func Build(f Filter) Node {
	var groups []Node

	if n := fieldGroup(SplitValues(f.Email), emailClauses); n != nil {
		groups = append(groups, n)
	}
	if n := fieldGroup(SplitValues(f.Website), websiteClauses); n != nil {
		groups = append(groups, n)
	}
	for _, tf := range []struct {
		field string
		raw   string
	}{
		{domain.FieldCompanyName, f.CompanyName},
		{domain.FieldName, f.Name},
		{domain.FieldRole, f.Role},
	} {
		field := tf.field
		n := fieldGroup(SplitValues(tf.raw), func(v string) []Node {
			return []Node{PhrasePrefix{Field: field, Value: v}}
		})
		if n != nil {
			groups = append(groups, n)
		}
	}

	return And(groups...)
}

// SplitValues splits a comma-separated parameter, trimming blanks.
func SplitValues(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func fieldGroup(values []string, clauses func(string) []Node) Node {
	var nodes []Node
	for _, v := range values {
		nodes = append(nodes, clauses(v)...)
	}
	return Or(nodes...)
}

// emailClauses routes one email filter value:
//   - "@acme.com"     → any email at acme.com or one of its sub-domains
//   - "jane@acme.com" → exact term on email
//   - "acme.com"      → website lookup, the email field is not consulted
//   - "jane"          → substring of the local part
func emailClauses(v string) []Node {
	v = strings.ToLower(v)
	switch {
	case strings.HasPrefix(v, "@"):
		d := strings.TrimPrefix(v, "@")
		if d == "" {
			return nil
		}
		d = escapeWildcard(d)
		return []Node{
			Wildcard{Field: domain.FieldEmail, Pattern: "*@" + d},
			Wildcard{Field: domain.FieldEmail, Pattern: "*@*." + d},
		}
	case strings.Contains(v, "@"):
		return []Node{Term{Field: domain.FieldEmail, Value: v}}
	case domain.IsDomainShaped(v):
		return websiteClauses(v)
	default:
		return []Node{Wildcard{Field: domain.FieldEmail, Pattern: "*" + escapeWildcard(v) + "*@*"}}
	}
}

// websiteClauses covers both stored representations of a site: the
// normalized column, and the raw column with and without "www.".
func websiteClauses(v string) []Node {
	n := domain.NormalizeWebsite(v)
	if n == "" {
		return nil
	}
	return []Node{
		Term{Field: domain.FieldWebsiteNormalized, Value: n},
		Term{Field: domain.FieldWebsite, Value: n},
		Term{Field: domain.FieldWebsite, Value: "www." + n},
	}
}

func escapeWildcard(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)
	return r.Replace(s)
}
