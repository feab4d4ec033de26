// Package memstore provides in-memory implementations of the contacts
// record store and search index. They back the server's memory mode and
// the service and API tests, and can be told to fail specific operations.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// Store is an in-memory record store. Physical rows are kept in a slice so
// duplicate rows for one email can be seeded.
type Store struct {
	mu   sync.RWMutex
	rows []domain.ContactRecord
	fail map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{fail: make(map[string]error)}
}

// Seed appends raw rows without the uniqueness check. Missing ids are
// generated.
func (s *Store) Seed(recs ...domain.ContactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.rows = append(s.rows, r)
	}
}

// FailOn makes op return err until cleared with a nil err. Operations are
// named after the Store and StoreTx methods ("insert", "delete_by_emails",
// "commit", ...).
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *Store) failure(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fail[op]
}

// Rows returns a copy of every physical row.
func (s *Store) Rows() []domain.ContactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ContactRecord(nil), s.rows...)
}

func (s *Store) Get(_ context.Context, email string) (*domain.ContactRecord, error) {
	if err := s.failure("get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.ContactRecord
	for i := range s.rows {
		r := s.rows[i]
		if r.Email != email {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = &r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("get contact %s: %w", email, contacts.ErrNotFound)
	}
	return best, nil
}

func (s *Store) Insert(_ context.Context, rec *domain.ContactRecord) error {
	if err := s.failure("insert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Email == rec.Email {
			return fmt.Errorf("insert contact %s: %w", rec.Email, contacts.ErrDuplicateKey)
		}
	}
	rec.ID = uuid.NewString()
	s.rows = append(s.rows, *rec)
	return nil
}

func (s *Store) Update(_ context.Context, rec *domain.ContactRecord) error {
	if err := s.failure("update"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == rec.ID {
			s.rows[i] = *rec
			return nil
		}
	}
	return fmt.Errorf("update contact %s: %w", rec.Email, contacts.ErrNotFound)
}

func (s *Store) Begin(_ context.Context) (contacts.StoreTx, error) {
	if err := s.failure("begin"); err != nil {
		return nil, err
	}
	return &tx{s: s, pending: make(map[string]struct{})}, nil
}

func (s *Store) FindDuplicateGroups(_ context.Context) ([]domain.DuplicateGroup, error) {
	if err := s.failure("find_duplicates"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byEmail := make(map[string][]domain.ContactRecord)
	for _, r := range s.rows {
		byEmail[r.Email] = append(byEmail[r.Email], r)
	}
	var groups []domain.DuplicateGroup
	for email, rows := range byEmail {
		if len(rows) < 2 {
			continue
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
				return rows[i].CreatedAt.After(rows[j].CreatedAt)
			}
			return rows[i].ID < rows[j].ID
		})
		groups = append(groups, domain.DuplicateGroup{Email: email, Rows: rows})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Email < groups[j].Email })
	return groups, nil
}

func (s *Store) Count(_ context.Context) (int64, error) {
	if err := s.failure("count"); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

func (s *Store) TruncateAll(_ context.Context) (int64, error) {
	if err := s.failure("truncate"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rows))
	s.rows = nil
	return n, nil
}

func (s *Store) ScanAfter(_ context.Context, after string, limit int) ([]domain.ContactRecord, error) {
	if err := s.failure("scan"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	newest := make(map[string]domain.ContactRecord)
	for _, r := range s.rows {
		if r.Email <= after {
			continue
		}
		if cur, ok := newest[r.Email]; !ok || r.CreatedAt.After(cur.CreatedAt) {
			newest[r.Email] = r
		}
	}
	s.mu.RUnlock()

	out := make([]domain.ContactRecord, 0, len(newest))
	for _, r := range newest {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tx stages deletes by row id and applies them on commit.
type tx struct {
	s       *Store
	pending map[string]struct{}
	done    bool
}

func (t *tx) match(pred func(domain.ContactRecord) bool) []domain.ContactRecord {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []domain.ContactRecord
	for _, r := range t.s.rows {
		if _, gone := t.pending[r.ID]; gone {
			continue
		}
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func (t *tx) DeleteByEmail(_ context.Context, email string) (int64, error) {
	if err := t.s.failure("delete_by_email"); err != nil {
		return 0, err
	}
	rows := t.match(func(r domain.ContactRecord) bool { return r.Email == email })
	for _, r := range rows {
		t.pending[r.ID] = struct{}{}
	}
	return int64(len(rows)), nil
}

func (t *tx) DeleteByEmails(_ context.Context, emails []string) ([]string, error) {
	if err := t.s.failure("delete_by_emails"); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		want[e] = struct{}{}
	}
	rows := t.match(func(r domain.ContactRecord) bool {
		_, ok := want[r.Email]
		return ok
	})
	seen := make(map[string]struct{})
	var found []string
	for _, r := range rows {
		t.pending[r.ID] = struct{}{}
		if _, dup := seen[r.Email]; !dup {
			seen[r.Email] = struct{}{}
			found = append(found, r.Email)
		}
	}
	return found, nil
}

func (t *tx) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	if err := t.s.failure("delete_by_ids"); err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	rows := t.match(func(r domain.ContactRecord) bool {
		_, ok := want[r.ID]
		return ok
	})
	for _, r := range rows {
		t.pending[r.ID] = struct{}{}
	}
	return int64(len(rows)), nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("commit: transaction already closed")
	}
	t.done = true
	if err := t.s.failure("commit"); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	kept := t.s.rows[:0]
	for _, r := range t.s.rows {
		if _, gone := t.pending[r.ID]; !gone {
			kept = append(kept, r)
		}
	}
	t.s.rows = kept
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	return nil
}
