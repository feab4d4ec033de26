package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWebsite(t *testing.T) {
	cases := map[string]string{
		"acme.com":                  "acme.com",
		"https://www.Acme.com/":     "acme.com",
		"http://acme.com//":         "acme.com",
		"www.acme.com":              "acme.com",
		"  WWW.Sub.Acme.co.uk/ ":    "sub.acme.co.uk",
		"https://acme.com/careers/": "acme.com/careers",
		"":                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeWebsite(in), in)
	}
}

func TestIsDomainShaped(t *testing.T) {
	assert.True(t, IsDomainShaped("acme.com"))
	assert.True(t, IsDomainShaped("mail.acme-corp.io"))
	assert.True(t, IsDomainShaped("ACME.COM"))
	assert.False(t, IsDomainShaped("acme"))
	assert.False(t, IsDomainShaped("jane@acme.com"))
	assert.False(t, IsDomainShaped("acme.c"))
	assert.False(t, IsDomainShaped("acme.123"))
	assert.False(t, IsDomainShaped("-acme.com"))
}

func TestIsEmailShaped(t *testing.T) {
	assert.True(t, IsEmailShaped("jane@acme.com"))
	assert.True(t, IsEmailShaped(" jane.doe+x@mail.acme.co "))
	assert.False(t, IsEmailShaped("jane@acme"))
	assert.False(t, IsEmailShaped("jane acme.com"))
	assert.False(t, IsEmailShaped("@acme.com"))
	assert.False(t, IsEmailShaped(""))
}

func TestContactRecord_Normalize(t *testing.T) {
	rec := ContactRecord{Email: " Jane@ACME.com ", Website: "https://www.acme.com/", Name: " Jane "}
	rec.Normalize()

	assert.Equal(t, "jane@acme.com", rec.Email)
	assert.Equal(t, "https://www.acme.com/", rec.Website)
	assert.Equal(t, "acme.com", rec.WebsiteNormalized)
	assert.Equal(t, "Jane", rec.Name)
}

func TestContactPatch_ApplyTo(t *testing.T) {
	rec := ContactRecord{Email: "jane@acme.com", Name: "Jane", Role: "CTO", Website: "acme.com"}
	rec.Normalize()

	site := "https://www.newco.io"
	role := "CEO"
	ContactPatch{Role: &role, Website: &site}.ApplyTo(&rec)

	assert.Equal(t, "Jane", rec.Name)
	assert.Equal(t, "CEO", rec.Role)
	assert.Equal(t, "newco.io", rec.WebsiteNormalized)
	assert.Equal(t, "jane@acme.com", rec.Email)
}

func TestContactPatch_Empty(t *testing.T) {
	assert.True(t, ContactPatch{}.Empty())
	v := false
	assert.False(t, ContactPatch{IsVerified: &v}.Empty())
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "acme.com", EmailDomain("jane@acme.com"))
	assert.Equal(t, "", EmailDomain("jane"))
}
