package query

import (
	"strings"
	"unicode"
)

// FieldFunc returns the stored value of a field for the record under test.
type FieldFunc func(field string) string

// Match evaluates n against one record. It is the in-memory reference for
// what a rendered query must select.
func Match(n Node, get FieldFunc) bool {
	switch q := n.(type) {
	case nil, MatchAll:
		return true
	case Term:
		return get(q.Field) == q.Value
	case Wildcard:
		v, p := get(q.Field), q.Pattern
		if q.CaseInsensitive {
			v, p = strings.ToLower(v), strings.ToLower(p)
		}
		return wildcardMatch(p, v)
	case Prefix:
		v, p := get(q.Field), q.Value
		if q.CaseInsensitive {
			v, p = strings.ToLower(v), strings.ToLower(p)
		}
		return strings.HasPrefix(v, p)
	case PhrasePrefix:
		return phrasePrefixMatch(get(q.Field), q.Value)
	case Bool:
		for _, c := range q.Must {
			if !Match(c, get) {
				return false
			}
		}
		for _, c := range q.Filter {
			if !Match(c, get) {
				return false
			}
		}
		if len(q.Should) == 0 {
			return true
		}
		min := q.MinimumShouldMatch
		if min < 1 {
			min = 1
		}
		hits := 0
		for _, c := range q.Should {
			if Match(c, get) {
				hits++
			}
		}
		return hits >= min
	}
	return false
}

// wildcardMatch supports '*', '?' and backslash escapes.
func wildcardMatch(pattern, s string) bool {
	p := []rune(pattern)
	r := []rune(s)
	var match func(pi, si int) bool
	match = func(pi, si int) bool {
		for pi < len(p) {
			switch p[pi] {
			case '*':
				for pi < len(p) && p[pi] == '*' {
					pi++
				}
				if pi == len(p) {
					return true
				}
				for k := si; k <= len(r); k++ {
					if match(pi, k) {
						return true
					}
				}
				return false
			case '?':
				if si >= len(r) {
					return false
				}
				pi++
				si++
			case '\\':
				if pi+1 < len(p) {
					pi++
				}
				fallthrough
			default:
				if si >= len(r) || r[si] != p[pi] {
					return false
				}
				pi++
				si++
			}
		}
		return si == len(r)
	}
	return match(0, 0)
}

// phrasePrefixMatch mimics match_phrase_prefix on a standard analyzer: the
// query words must appear consecutively, the last one as a prefix.
func phrasePrefixMatch(text, phrase string) bool {
	tw := words(text)
	qw := words(phrase)
	if len(qw) == 0 {
		return true
	}
	for i := 0; i+len(qw) <= len(tw); i++ {
		ok := true
		for j, w := range qw {
			if j == len(qw)-1 {
				ok = ok && strings.HasPrefix(tw[i+j], w)
			} else {
				ok = ok && tw[i+j] == w
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
