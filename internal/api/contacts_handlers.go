package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// SearchContacts runs a filtered, paginated search.
//
//	GET /api/contacts?email=&companyname=&name=&role=&website=&limit=&page=&cursor=&sort_field=&sort_order=
func (h *Handlers) SearchContacts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageRequest(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp, err := h.contacts.Search(r.Context(), contacts.SearchRequest{
		Filter:   parseFilter(r),
		Page:     page,
		Entitled: h.entitled(r),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListCompanyContacts lists one company's contacts, newest first.
//
//	GET /api/contacts/masked?companyname=&limit=&page=&cursor=
func (h *Handlers) ListCompanyContacts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageRequest(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp, err := h.contacts.ListByCompany(r.Context(), r.URL.Query().Get("companyname"), page, h.entitled(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetContact returns one contact by email.
//
//	GET /api/contacts/{email}
func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	rec, err := h.contacts.Get(r.Context(), emailParam(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": rec})
}

type writeResponse struct {
	Success bool `json:"success"`
	*contacts.WriteResult
}

// CreateContact inserts a new contact.
//
//	POST /api/admin/contacts
func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var in contacts.NewContact
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := h.contacts.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, writeResponse{Success: true, WriteResult: res})
}

// UpdateContact merges a partial field set into a contact.
//
//	PUT /api/admin/contacts/{email}
func (h *Handlers) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var patch domain.ContactPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	res, err := h.contacts.Update(r.Context(), emailParam(r), patch)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, writeResponse{Success: true, WriteResult: res})
}

// DeleteContact removes one contact from both stores.
//
//	DELETE /api/admin/contacts/{email}
func (h *Handlers) DeleteContact(w http.ResponseWriter, r *http.Request) {
	res, err := h.contacts.Delete(r.Context(), emailParam(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*contacts.DeleteResult
	}{true, res})
}

type bulkDeleteRequest struct {
	Emails []string `json:"emails"`
}

// BulkDeleteContacts removes a list of contacts. Index failures for some
// emails answer 207 with the itemized result.
//
//	POST /api/admin/contacts/bulk-delete
func (h *Handlers) BulkDeleteContacts(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.contacts.BulkDelete(r.Context(), req.Emails)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*contacts.BulkDeleteResult
	}{true, res})
}

// DeduplicateContacts keeps the newest copy of every duplicated email.
//
//	POST /api/admin/contacts/dedupe
func (h *Handlers) DeduplicateContacts(w http.ResponseWriter, r *http.Request) {
	res, err := h.contacts.Deduplicate(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*contacts.DedupeResult
	}{true, res})
}

// DeleteAllContacts empties both stores. A clear that is still running
// when polling gives up answers 202; an index that refused the clear
// answers 207. Both carry the counts.
//
//	DELETE /api/admin/contacts
func (h *Handlers) DeleteAllContacts(w http.ResponseWriter, r *http.Request) {
	res, err := h.contacts.DeleteAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	switch res.Status {
	case contacts.ClearTimedOut:
		status = http.StatusAccepted
	case contacts.ClearIndexFailed:
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, struct {
		Success bool `json:"success"`
		*contacts.DeleteAllResult
	}{res.Status == contacts.ClearCompleted, res})
}

// ContactStats compares record store and index counts.
//
//	GET /api/admin/contacts/stats
func (h *Handlers) ContactStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.contacts.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": st})
}

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return strings.TrimSpace(raw)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondServiceError(w, r, &contacts.Error{Kind: contacts.KindInvalidInput, Msg: "invalid JSON body", Err: err})
		return false
	}
	return true
}
