package contacts

import (
	"context"
	"time"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/query"
)

// Store is the record store contract: the durable system of record.
type Store interface {
	// Get returns the newest row for email, or ErrNotFound.
	Get(ctx context.Context, email string) (*domain.ContactRecord, error)

	// Insert writes rec if no row with the same email exists and fills in
	// rec.ID. It returns ErrDuplicateKey instead of overwriting.
	Insert(ctx context.Context, rec *domain.ContactRecord) error

	// Update overwrites the row identified by rec.ID. Returns ErrNotFound if
	// the row is gone.
	Update(ctx context.Context, rec *domain.ContactRecord) error

	// Begin opens a transaction for multi-row deletes.
	Begin(ctx context.Context) (StoreTx, error)

	// FindDuplicateGroups returns every email with more than one physical
	// row, rows ordered newest first.
	FindDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, error)

	// Count returns the number of physical rows.
	Count(ctx context.Context) (int64, error)

	// TruncateAll removes every row and returns how many were removed.
	TruncateAll(ctx context.Context) (int64, error)

	// ScanAfter returns the newest row of up to limit emails greater than
	// after, ordered by email.
	ScanAfter(ctx context.Context, after string, limit int) ([]domain.ContactRecord, error)
}

// StoreTx is an open record store transaction. Exactly one of Commit or
// Rollback must be called.
type StoreTx interface {
	// DeleteByEmail returns the number of rows removed (0 or more).
	DeleteByEmail(ctx context.Context, email string) (int64, error)

	// DeleteByEmails removes every row whose email is in emails and returns
	// the distinct emails actually found.
	DeleteByEmails(ctx context.Context, emails []string) ([]string, error)

	// DeleteByIDs removes rows by physical id.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)

	Commit() error
	Rollback() error
}

// Index is the search index contract. Documents are keyed by email.
// Implementations bound every call with a timeout and return
// ErrIndexNotFound for missing documents and an IndexUnavailable error for
// timeouts and transport failures.
type Index interface {
	Search(ctx context.Context, plan query.Plan) (*query.Result, error)
	Get(ctx context.Context, email string) (*domain.ContactRecord, error)
	Put(ctx context.Context, rec domain.ContactRecord) error
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) (*BulkResult, error)
	BulkPut(ctx context.Context, recs []domain.ContactRecord) (*BulkResult, error)

	// FindByEmail returns every document whose email field equals email,
	// whatever its document id.
	FindByEmail(ctx context.Context, email string) ([]query.Hit, error)

	// DuplicateEmails returns up to limit emails held by more than one
	// document.
	DuplicateEmails(ctx context.Context, limit int) ([]string, error)

	Count(ctx context.Context) (int64, error)

	// ClearAll submits an asynchronous delete of every document and returns
	// a task id for TaskStatus.
	ClearAll(ctx context.Context) (string, error)
	TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
}

// BulkResult itemizes a batched index operation by document id.
type BulkResult struct {
	Succeeded []string    `json:"succeeded"`
	NotFound  []string    `json:"not_found"`
	Failed    []ItemError `json:"failed"`
}

// ItemError is one failed item of a batch.
type ItemError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// TaskStatus is the progress of an asynchronous index task.
type TaskStatus struct {
	Completed bool  `json:"completed"`
	Deleted   int64 `json:"deleted"`
	Total     int64 `json:"total"`
	Failures  int   `json:"failures"`
}

// Cache stores serialized search pages. Keys embed the current generation;
// Invalidate advances it so every older entry becomes unreachable.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Generation(ctx context.Context) (int64, error)
	Invalidate(ctx context.Context) error
}

// AuditEntry is one mutation terminal outcome.
type AuditEntry struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Target    string    `json:"target,omitempty"`
	Requested int       `json:"requested"`
	Affected  int       `json:"affected"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder appends mutation outcomes to an audit ledger.
type Recorder interface {
	Record(ctx context.Context, e AuditEntry) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (nopCache) Set(context.Context, string, []byte) error         { return nil }
func (nopCache) Generation(context.Context) (int64, error)         { return 0, nil }
func (nopCache) Invalidate(context.Context) error                  { return nil }

// NopRecorder discards audit entries.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, AuditEntry) error { return nil }
