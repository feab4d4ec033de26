// Package visibility decides how much of each result a caller may see.
//
// Entitled callers see records as stored. Everyone else gets the first
// UnmaskedLimit records of a page in full; the rest have the local part of
// the email partially replaced. No other field is ever redacted.
package visibility

import (
	"strings"

	"github.com/ignite/emailfinder/internal/domain"
)

// Policy holds the masking parameters.
type Policy struct {
	UnmaskedLimit int
	VisiblePrefix int
	MaskChar      rune
	// MinMaskLen is the least number of mask characters emitted, so short
	// local parts do not reveal their length.
	MinMaskLen int
}

// DefaultPolicy is 10 unmasked rows and a 3-character visible prefix.
func DefaultPolicy() Policy {
	return Policy{UnmaskedLimit: 10, VisiblePrefix: 3, MaskChar: '*', MinMaskLen: 3}
}

// Result is one record as returned to a caller.
type Result struct {
	domain.ContactRecord
	Masked bool `json:"masked,omitempty"`
}

// Mask redacts the local part of email unless entitled. The domain is
// always returned unchanged.
func (p Policy) Mask(email string, entitled bool) string {
	if entitled {
		return email
	}
	local, dom := email, ""
	if i := strings.LastIndex(email, "@"); i >= 0 {
		local, dom = email[:i], email[i:]
	}

	runes := []rune(local)
	keep := p.VisiblePrefix
	if keep < 0 {
		keep = 0
	}
	if keep > len(runes) {
		keep = len(runes)
	}
	n := len(runes) - keep
	if n < p.MinMaskLen {
		n = p.MinMaskLen
	}
	mc := p.MaskChar
	if mc == 0 {
		mc = '*'
	}
	return string(runes[:keep]) + strings.Repeat(string(mc), n) + dom
}

// Apply returns the page as the caller may see it. records is not modified.
func (p Policy) Apply(records []domain.ContactRecord, entitled bool) []Result {
	out := make([]Result, len(records))
	for i, r := range records {
		out[i] = Result{ContactRecord: r}
		if entitled || i < p.UnmaskedLimit {
			continue
		}
		out[i].Email = p.Mask(r.Email, false)
		out[i].Masked = true
	}
	return out
}

// Counts returns how many results are masked and unmasked.
func Counts(results []Result) (normal, masked int) {
	for _, r := range results {
		if r.Masked {
			masked++
		} else {
			normal++
		}
	}
	return normal, masked
}
