package visibility

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/domain"
)

func TestMask(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, "joh******@example.com", p.Mask("johnsmith@example.com", false))
	assert.Equal(t, "jan***@acme.com", p.Mask("jane.d@acme.com", false))
	assert.Equal(t, "ab***@acme.com", p.Mask("ab@acme.com", false))
	assert.Equal(t, "jane.d@acme.com", p.Mask("jane.d@acme.com", true))
	assert.Equal(t, "nod******", p.Mask("nodomain1", false))
}

func TestMask_Properties(t *testing.T) {
	p := DefaultPolicy()
	emails := []string{
		"a@b.co", "jane@acme.com", "very.long.local.part@sub.example.org",
		"ünïcødé@例え.jp", "x@y@z.com", "", "@acme.com",
	}
	for _, e := range emails {
		masked := p.Mask(e, false)
		assert.Equal(t, masked, p.Mask(e, false), "deterministic")
		assert.Equal(t, e, p.Mask(e, true), "entitled passthrough")
		assert.Equal(t, domain.EmailDomain(e), domain.EmailDomain(masked), "domain preserved for %q", e)
	}
}

func TestMask_CustomPolicy(t *testing.T) {
	p := Policy{VisiblePrefix: 1, MaskChar: '#', MinMaskLen: 3}
	assert.Equal(t, "j###@acme.com", p.Mask("jane@acme.com", false))
}

func TestApply_NonEntitledPage(t *testing.T) {
	recs := make([]domain.ContactRecord, 12)
	for i := range recs {
		recs[i] = domain.ContactRecord{Email: fmt.Sprintf("person%02d@acme.com", i), Name: "Name"}
	}

	out := DefaultPolicy().Apply(recs, false)
	require.Len(t, out, 12)

	for i, r := range out[:10] {
		assert.False(t, r.Masked)
		assert.Equal(t, recs[i].Email, r.Email)
	}
	for _, r := range out[10:] {
		assert.True(t, r.Masked)
		assert.True(t, strings.HasPrefix(r.Email, "per"))
		assert.True(t, strings.HasSuffix(r.Email, "@acme.com"))
		assert.Contains(t, r.Email, "*****")
		assert.Equal(t, "Name", r.Name)
	}
	assert.Equal(t, "person10@acme.com", recs[10].Email, "input untouched")

	normal, masked := Counts(out)
	assert.Equal(t, 10, normal)
	assert.Equal(t, 2, masked)
}

func TestApply_Entitled(t *testing.T) {
	recs := make([]domain.ContactRecord, 15)
	for i := range recs {
		recs[i] = domain.ContactRecord{Email: fmt.Sprintf("p%d@acme.com", i)}
	}
	for _, r := range DefaultPolicy().Apply(recs, true) {
		assert.False(t, r.Masked)
	}
}
