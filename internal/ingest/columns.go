package ingest

import (
	"strings"

	"github.com/ignite/emailfinder/internal/domain"
)

const fieldIsVerified = "is_verified"

// aliases maps normalized CSV header names to record fields.
var aliases = map[string]string{
	"email":            domain.FieldEmail,
	"email address":    domain.FieldEmail,
	"emailaddress":     domain.FieldEmail,
	"e-mail":           domain.FieldEmail,
	"e-mail address":   domain.FieldEmail,
	"name":             domain.FieldName,
	"full name":        domain.FieldName,
	"fullname":         domain.FieldName,
	"contact name":     domain.FieldName,
	"role":             domain.FieldRole,
	"title":            domain.FieldRole,
	"job title":        domain.FieldRole,
	"position":         domain.FieldRole,
	"companyname":      domain.FieldCompanyName,
	"company":          domain.FieldCompanyName,
	"company name":     domain.FieldCompanyName,
	"organization":     domain.FieldCompanyName,
	"website":          domain.FieldWebsite,
	"company website":  domain.FieldWebsite,
	"domain":           domain.FieldWebsite,
	"url":              domain.FieldWebsite,
	"linkedin":         domain.FieldLinkedIn,
	"linkedin url":     domain.FieldLinkedIn,
	"linkedin profile": domain.FieldLinkedIn,
	"is verified":      fieldIsVerified,
	"verified":         fieldIsVerified,
}

// normalizeHeader lowercases, strips a UTF-8 BOM and treats underscores as
// spaces: "Email_Address" → "email address".
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	return strings.Join(strings.Fields(h), " ")
}

// columnMap resolves each record field to its column index. The first
// matching column wins.
type columnMap map[string]int

func mapColumns(header []string) columnMap {
	cols := make(columnMap)
	for i, h := range header {
		field, ok := aliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := cols[field]; !seen {
			cols[field] = i
		}
	}
	return cols
}

func (c columnMap) value(row []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c columnMap) record(row []string) domain.ContactRecord {
	rec := domain.ContactRecord{
		Email:       c.value(row, domain.FieldEmail),
		Name:        c.value(row, domain.FieldName),
		Role:        c.value(row, domain.FieldRole),
		CompanyName: c.value(row, domain.FieldCompanyName),
		Website:     c.value(row, domain.FieldWebsite),
		LinkedIn:    c.value(row, domain.FieldLinkedIn),
		IsVerified:  true,
	}
	switch strings.ToLower(c.value(row, fieldIsVerified)) {
	case "false", "0", "no", "n":
		rec.IsVerified = false
	}
	rec.Normalize()
	return rec
}
