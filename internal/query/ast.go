// Package query turns caller filter parameters into a backend-neutral
// retrieval plan.
//
// The plan is a small tagged-variant tree (Term, Wildcard, Prefix,
// PhrasePrefix, Bool, MatchAll). It never executes anything: the search
// index integration renders it into its own query syntax, and Match
// evaluates it in memory against a single record.
package query

// Node is one clause of a query tree.
type Node interface {
	node()
}

// Term is an exact equality match on a keyword field.
type Term struct {
	Field string
	Value string
}

// Wildcard matches Pattern where '*' spans any run of characters and '?'
// exactly one.
type Wildcard struct {
	Field           string
	Pattern         string
	CaseInsensitive bool
}

// Prefix matches values starting with Value.
type Prefix struct {
	Field           string
	Value           string
	CaseInsensitive bool
}

// PhrasePrefix matches analyzed text where Value appears starting at a word
// boundary; the last word may be incomplete. Always case-insensitive.
type PhrasePrefix struct {
	Field string
	Value string
}

// Bool combines clauses. Must and Filter are ANDed; at least
// MinimumShouldMatch of Should must hold (when Should is non-empty).
type Bool struct {
	Must               []Node
	Should             []Node
	Filter             []Node
	MinimumShouldMatch int
}

// MatchAll matches every record.
type MatchAll struct{}

func (Term) node()         {}
func (Wildcard) node()     {}
func (Prefix) node()       {}
func (PhrasePrefix) node() {}
func (Bool) node()         {}
func (MatchAll) node()     {}

// Or returns a single node matching any of nodes.
func Or(nodes ...Node) Node {
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	}
	return Bool{Should: nodes, MinimumShouldMatch: 1}
}

// And returns a single node matching all of nodes.
func And(nodes ...Node) Node {
	switch len(nodes) {
	case 0:
		return MatchAll{}
	case 1:
		return nodes[0]
	}
	return Bool{Must: nodes}
}
