package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/pagination"
	"github.com/ignite/emailfinder/internal/query"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// Index is an in-memory search index. Documents are keyed by id; Put uses
// the email as id, PutDoc allows any id.
type Index struct {
	mu    sync.RWMutex
	docs  map[string]domain.ContactRecord
	fail  map[string]error
	items map[string]string
	tasks map[string]*clearTask

	// ClearPolls is how many TaskStatus calls a clear task needs before it
	// reports completion. Zero completes on the first poll; negative never
	// completes.
	ClearPolls int
}

type clearTask struct {
	polls   int
	deleted int64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		docs:  make(map[string]domain.ContactRecord),
		fail:  make(map[string]error),
		items: make(map[string]string),
		tasks: make(map[string]*clearTask),
	}
}

// FailOn makes op return err until cleared with a nil err. Operations are
// named after the Index methods ("search", "put", "bulk_delete", ...).
func (x *Index) FailOn(op string, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err == nil {
		delete(x.fail, op)
		return
	}
	x.fail[op] = err
}

// FailItem makes bulk operations report id as a failed item with msg, and
// Delete of id fail with msg. An empty msg clears the failure.
func (x *Index) FailItem(id, msg string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if msg == "" {
		delete(x.items, id)
		return
	}
	x.items[id] = msg
}

// PutDoc stores rec under an arbitrary document id.
func (x *Index) PutDoc(id string, rec domain.ContactRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs[id] = rec
}

// Has reports whether a document with id exists.
func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.docs[id]
	return ok
}

func (x *Index) failure(op string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.fail[op]
}

func (x *Index) Search(_ context.Context, plan query.Plan) (*query.Result, error) {
	if err := x.failure("search"); err != nil {
		return nil, err
	}
	q := plan.Query
	if q == nil {
		q = query.MatchAll{}
	}

	x.mu.RLock()
	var hits []query.Hit
	for id, rec := range x.docs {
		r := rec
		if query.Match(q, r.FieldValue) {
			hits = append(hits, query.Hit{ID: id, Record: r, Sort: pagination.SortValues(r, plan.Sort)})
		}
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if c := pagination.Compare(hits[i].Sort, hits[j].Sort, plan.Sort); c != 0 {
			return c < 0
		}
		return hits[i].ID < hits[j].ID
	})
	total := int64(len(hits))

	if len(plan.SearchAfter) > 0 {
		i := sort.Search(len(hits), func(i int) bool {
			return pagination.Compare(hits[i].Sort, plan.SearchAfter, plan.Sort) > 0
		})
		hits = hits[i:]
	} else if plan.From > 0 {
		if plan.From >= len(hits) {
			hits = nil
		} else {
			hits = hits[plan.From:]
		}
	}
	if plan.Size > 0 && len(hits) > plan.Size {
		hits = hits[:plan.Size]
	}
	return &query.Result{Total: total, Hits: hits}, nil
}

func (x *Index) Get(_ context.Context, email string) (*domain.ContactRecord, error) {
	if err := x.failure("get"); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.docs[email]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", email, contacts.ErrIndexNotFound)
	}
	return &rec, nil
}

func (x *Index) Put(_ context.Context, rec domain.ContactRecord) error {
	if err := x.failure("put"); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs[rec.Email] = rec
	return nil
}

func (x *Index) Delete(_ context.Context, id string) error {
	if err := x.failure("delete"); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if msg, ok := x.items[id]; ok {
		return fmt.Errorf("delete %s: %s", id, msg)
	}
	if _, ok := x.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, contacts.ErrIndexNotFound)
	}
	delete(x.docs, id)
	return nil
}

func (x *Index) BulkDelete(_ context.Context, ids []string) (*contacts.BulkResult, error) {
	if err := x.failure("bulk_delete"); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	res := &contacts.BulkResult{}
	for _, id := range ids {
		if msg, ok := x.items[id]; ok {
			res.Failed = append(res.Failed, contacts.ItemError{Email: id, Error: msg})
			continue
		}
		if _, ok := x.docs[id]; !ok {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		delete(x.docs, id)
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func (x *Index) BulkPut(_ context.Context, recs []domain.ContactRecord) (*contacts.BulkResult, error) {
	if err := x.failure("bulk_put"); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	res := &contacts.BulkResult{}
	for _, r := range recs {
		if msg, ok := x.items[r.Email]; ok {
			res.Failed = append(res.Failed, contacts.ItemError{Email: r.Email, Error: msg})
			continue
		}
		x.docs[r.Email] = r
		res.Succeeded = append(res.Succeeded, r.Email)
	}
	return res, nil
}

func (x *Index) FindByEmail(_ context.Context, email string) ([]query.Hit, error) {
	if err := x.failure("find_by_email"); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var hits []query.Hit
	for id, rec := range x.docs {
		if rec.Email == email {
			hits = append(hits, query.Hit{ID: id, Record: rec})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return hits, nil
}

func (x *Index) DuplicateEmails(_ context.Context, limit int) ([]string, error) {
	if err := x.failure("duplicate_emails"); err != nil {
		return nil, err
	}
	x.mu.RLock()
	counts := make(map[string]int)
	for _, rec := range x.docs {
		counts[rec.Email]++
	}
	x.mu.RUnlock()

	var out []string
	for email, n := range counts {
		if n > 1 {
			out = append(out, email)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (x *Index) Count(_ context.Context) (int64, error) {
	if err := x.failure("count"); err != nil {
		return 0, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.docs)), nil
}

// ClearAll removes every document at once but reports completion only
// after ClearPolls status checks.
func (x *Index) ClearAll(_ context.Context) (string, error) {
	if err := x.failure("clear_all"); err != nil {
		return "", err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	id := uuid.NewString()
	x.tasks[id] = &clearTask{deleted: int64(len(x.docs))}
	x.docs = make(map[string]domain.ContactRecord)
	return id, nil
}

func (x *Index) TaskStatus(_ context.Context, taskID string) (*contacts.TaskStatus, error) {
	if err := x.failure("task_status"); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	t, ok := x.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, contacts.ErrIndexNotFound)
	}
	t.polls++
	done := x.ClearPolls >= 0 && t.polls > x.ClearPolls
	return &contacts.TaskStatus{Completed: done, Deleted: t.deleted, Total: t.deleted}, nil
}
