package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/emailfinder/internal/auth"
	"github.com/ignite/emailfinder/internal/ingest"
	"github.com/ignite/emailfinder/internal/pkg/httputil"
	"github.com/ignite/emailfinder/internal/reindex"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// Reindexer runs a store-to-index reconciliation.
type Reindexer interface {
	Run(ctx context.Context, fresh bool) (*reindex.Result, error)
}

// AuditLog lists recorded mutation outcomes.
type AuditLog interface {
	List(ctx context.Context, op string, since time.Time, limit int) ([]contacts.AuditEntry, error)
}

// Deps are the collaborators of the HTTP handlers. Reindexer and Audit may
// be nil; their endpoints then answer 503.
type Deps struct {
	Contacts  *contacts.Service
	Importer  *ingest.Importer
	Reindexer Reindexer
	Audit     AuditLog
	Auth      *auth.Authenticator
	// MaxUploadMB caps an import body (default 50).
	MaxUploadMB int
}

// Handlers contains the HTTP handlers for the contacts API.
type Handlers struct {
	contacts  *contacts.Service
	importer  *ingest.Importer
	reindexer Reindexer
	audit     AuditLog
	auth      *auth.Authenticator
	maxUpload int64
	now       func() time.Time
}

// NewHandlers creates handlers over d.
func NewHandlers(d Deps) *Handlers {
	mb := d.MaxUploadMB
	if mb <= 0 {
		mb = 50
	}
	importer := d.Importer
	if importer == nil && d.Contacts != nil {
		importer = ingest.NewImporter(d.Contacts, 0)
	}
	return &Handlers{
		contacts:  d.Contacts,
		importer:  importer,
		reindexer: d.Reindexer,
		audit:     d.Audit,
		auth:      d.Auth,
		maxUpload: int64(mb) << 20,
		now:       time.Now,
	}
}

// entitled reports whether the caller on r may see unmasked results.
func (h *Handlers) entitled(r *http.Request) bool {
	return auth.FromContext(r.Context()).Entitled(h.now())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	httputil.JSON(w, status, data)
}
