package domain

import (
	"regexp"
	"strings"
	"time"
)

// Field names shared by the record store columns and the search index mapping.
const (
	FieldEmail             = "email"
	FieldName              = "name"
	FieldRole              = "role"
	FieldCompanyName       = "companyname"
	FieldWebsite           = "website"
	FieldWebsiteNormalized = "website_normalized"
	FieldLinkedIn          = "linkedin"
	FieldCreatedAt         = "created_at"
	FieldUpdatedAt         = "updated_at"
)

// ContactRecord is one contact in the directory. Email is the natural key in
// both the record store and the search index.
type ContactRecord struct {
	ID                string    `json:"id,omitempty" db:"id"`
	Email             string    `json:"email" db:"email"`
	Name              string    `json:"name" db:"name"`
	Role              string    `json:"role" db:"role"`
	CompanyName       string    `json:"companyname" db:"companyname"`
	Website           string    `json:"website" db:"website"`
	WebsiteNormalized string    `json:"website_normalized" db:"website_normalized"`
	LinkedIn          string    `json:"linkedin" db:"linkedin"`
	IsVerified        bool      `json:"is_verified" db:"is_verified"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Normalize lowercases the email and recomputes website_normalized. It must
// run before every write so equality lookups never need a wildcard scan.
func (c *ContactRecord) Normalize() {
	c.Email = NormalizeEmail(c.Email)
	c.Website = strings.TrimSpace(c.Website)
	c.WebsiteNormalized = NormalizeWebsite(c.Website)
	c.Name = strings.TrimSpace(c.Name)
	c.Role = strings.TrimSpace(c.Role)
	c.CompanyName = strings.TrimSpace(c.CompanyName)
	c.LinkedIn = strings.TrimSpace(c.LinkedIn)
}

// FieldValue returns the string form of a named field. Timestamps are
// rendered as RFC3339; unknown fields return "".
func (c ContactRecord) FieldValue(field string) string {
	switch field {
	case FieldEmail:
		return c.Email
	case FieldName:
		return c.Name
	case FieldRole:
		return c.Role
	case FieldCompanyName:
		return c.CompanyName
	case FieldWebsite:
		return c.Website
	case FieldWebsiteNormalized:
		return c.WebsiteNormalized
	case FieldLinkedIn:
		return c.LinkedIn
	case FieldCreatedAt:
		return c.CreatedAt.UTC().Format(time.RFC3339Nano)
	case FieldUpdatedAt:
		return c.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// ContactPatch is a partial update. Nil fields are left untouched; email is
// the identity and cannot be patched.
type ContactPatch struct {
	Name        *string `json:"name,omitempty"`
	Role        *string `json:"role,omitempty"`
	CompanyName *string `json:"companyname,omitempty"`
	Website     *string `json:"website,omitempty"`
	LinkedIn    *string `json:"linkedin,omitempty"`
	IsVerified  *bool   `json:"is_verified,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p ContactPatch) Empty() bool {
	return p.Name == nil && p.Role == nil && p.CompanyName == nil &&
		p.Website == nil && p.LinkedIn == nil && p.IsVerified == nil
}

// ApplyTo merges the patch over rec and renormalizes it.
func (p ContactPatch) ApplyTo(rec *ContactRecord) {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Role != nil {
		rec.Role = *p.Role
	}
	if p.CompanyName != nil {
		rec.CompanyName = *p.CompanyName
	}
	if p.Website != nil {
		rec.Website = *p.Website
	}
	if p.LinkedIn != nil {
		rec.LinkedIn = *p.LinkedIn
	}
	if p.IsVerified != nil {
		rec.IsVerified = *p.IsVerified
	}
	rec.Normalize()
}

// DuplicateGroup holds every physical row sharing one email, newest first.
// Rows[0] is the row to keep.
type DuplicateGroup struct {
	Email string          `json:"email"`
	Rows  []ContactRecord `json:"rows"`
}

var (
	emailShape  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	domainShape = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,}$`)
	schemeRe    = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
)

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeWebsite strips the scheme, a leading "www." and trailing slashes,
// and lowercases the result: "HTTPS://www.Acme.com/" → "acme.com".
func NormalizeWebsite(website string) string {
	w := strings.ToLower(strings.TrimSpace(website))
	w = schemeRe.ReplaceAllString(w, "")
	w = strings.TrimPrefix(w, "www.")
	return strings.TrimRight(w, "/")
}

// IsEmailShaped reports whether s looks like an email address.
func IsEmailShaped(s string) bool {
	return emailShape.MatchString(strings.TrimSpace(s))
}

// IsDomainShaped reports whether s looks like a bare domain: alphanumeric
// labels, at least one dot, a TLD of two or more letters, and no "@".
func IsDomainShaped(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(s, "@") {
		return false
	}
	return domainShape.MatchString(s)
}

// EmailDomain returns the part after the last "@", or "" if there is none.
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return email[i+1:]
}
