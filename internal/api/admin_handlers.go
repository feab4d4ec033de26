package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/emailfinder/internal/pkg/httputil"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// ReindexContacts copies the record store into the search index, resuming
// from the last checkpoint unless fresh=true.
//
//	POST /api/admin/contacts/reindex?fresh=true
func (h *Handlers) ReindexContacts(w http.ResponseWriter, r *http.Request) {
	if h.reindexer == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "not_configured", "reindex is not configured", nil)
		return
	}
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

	res, err := h.reindexer.Run(r.Context(), fresh)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

// ImportContacts loads a CSV upload. The file is read from the "file" field
// of a multipart form, or from the raw body otherwise.
//
//	POST /api/admin/contacts/import
func (h *Handlers) ImportContacts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	body, closeFn, err := uploadReader(r)
	if err != nil {
		respondServiceError(w, r, &contacts.Error{Kind: contacts.KindInvalidInput, Msg: "no CSV file in request", Err: err})
		return
	}
	defer closeFn()

	res, err := h.importer.Import(r.Context(), body)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
	case res != nil && contacts.KindOf(err) == "":
		logger.Error("api: import stopped", "job_id", res.JobID, "error", err)
		respondServiceError(w, r, &contacts.Error{
			Kind:    contacts.KindPartialFailure,
			Msg:     "import stopped before the end of the file",
			Details: res,
		})
	default:
		respondServiceError(w, r, err)
	}
}

func uploadReader(r *http.Request) (io.Reader, func() error, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, func() error { return nil }, nil
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, err
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// ListAudit lists recorded outcomes of one mutation type, newest first.
//
//	GET /api/admin/audit?op=bulk_delete&since=2026-01-01T00:00:00Z&limit=50
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "not_configured", "audit ledger is not configured", nil)
		return
	}
	q := r.URL.Query()

	op := strings.TrimSpace(q.Get("op"))
	if op == "" {
		respondServiceError(w, r, &contacts.Error{Kind: contacts.KindInvalidInput, Msg: "op is required"})
		return
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondServiceError(w, r, &contacts.Error{Kind: contacts.KindInvalidInput, Msg: "since must be RFC3339", Details: map[string]string{"since": raw}})
			return
		}
		since = t
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	entries, err := h.audit.List(r.Context(), op, since, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []contacts.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(entries), "data": entries})
}
