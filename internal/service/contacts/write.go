package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/emailfinder/internal/domain"
)

// NewContact is the input of Create. Email is required.
type NewContact struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	CompanyName string `json:"companyname"`
	Website     string `json:"website"`
	LinkedIn    string `json:"linkedin"`
	// IsVerified defaults to true when omitted.
	IsVerified *bool `json:"is_verified,omitempty"`
}

// Record builds the normalized record for n stamped with now.
func (n NewContact) Record(now time.Time) domain.ContactRecord {
	rec := domain.ContactRecord{
		Email:       n.Email,
		Name:        n.Name,
		Role:        n.Role,
		CompanyName: n.CompanyName,
		Website:     n.Website,
		LinkedIn:    n.LinkedIn,
		IsVerified:  true,
	}
	if n.IsVerified != nil {
		rec.IsVerified = *n.IsVerified
	}
	rec.Normalize()
	rec.CreatedAt, rec.UpdatedAt = now, now
	return rec
}

// WriteResult is the outcome of a single-record write.
type WriteResult struct {
	Record  domain.ContactRecord `json:"data"`
	Outcome Outcome              `json:"outcome"`
}

// Create inserts a new contact. The record store is authoritative: if the
// index write fails afterwards the row stays and the outcome reports
// PARTIAL_INDEX_ERROR for reindex to repair.
func (s *Service) Create(ctx context.Context, in NewContact) (*WriteResult, error) {
	rec := in.Record(s.now())
	if !domain.IsEmailShaped(rec.Email) {
		return nil, invalidInput(map[string]string{"email": rec.Email}, "not a valid email address")
	}

	m := s.begin("create", rec.Email)

	_, err := s.store.Get(ctx, rec.Email)
	switch {
	case err == nil:
		err = &Error{Kind: KindAlreadyExists, Msg: "contact already exists", Details: map[string]string{"email": rec.Email}}
		m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	case !errors.Is(err, ErrNotFound):
		m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	}

	if err := s.store.Insert(ctx, &rec); err != nil {
		m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	}
	m.step(StateStoreCommitted)

	return s.mirror(ctx, m, rec), nil
}

// Update merges patch over the stored contact and refreshes updated_at.
// A contact present only in the index is written back to the record store.
func (s *Service) Update(ctx context.Context, email string, patch domain.ContactPatch) (*WriteResult, error) {
	email = domain.NormalizeEmail(email)
	if !domain.IsEmailShaped(email) {
		return nil, invalidInput(map[string]string{"email": email}, "not a valid email address")
	}
	if patch.Empty() {
		return nil, invalidInput(nil, "no fields to update")
	}

	m := s.begin("update", email)

	rec, err := s.store.Get(ctx, email)
	switch {
	case err == nil:
		patch.ApplyTo(rec)
		rec.UpdatedAt = s.now()
		if err := s.store.Update(ctx, rec); err != nil {
			m.finish(ctx, StateFailed, 1, 0, err)
			if errors.Is(err, ErrNotFound) {
				return nil, notFound(email)
			}
			return nil, err
		}
	case errors.Is(err, ErrNotFound):
		rec, err = s.restoreFromIndex(ctx, email, patch)
		if err != nil {
			m.finish(ctx, StateFailed, 1, 0, err)
			return nil, err
		}
	default:
		m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	}
	m.step(StateStoreCommitted)

	return s.mirror(ctx, m, *rec), nil
}

// restoreFromIndex rebuilds a record store row from the index copy.
func (s *Service) restoreFromIndex(ctx context.Context, email string, patch domain.ContactPatch) (*domain.ContactRecord, error) {
	rec, err := s.index.Get(ctx, email)
	if errors.Is(err, ErrIndexNotFound) {
		return nil, notFound(email)
	}
	if err != nil {
		return nil, IndexUnavailable(err)
	}

	rec.ID = ""
	patch.ApplyTo(rec)
	rec.UpdatedAt = s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("restore %s from index: %w", email, err)
	}
	return rec, nil
}

// mirror writes a committed record to the index and closes the mutation.
func (s *Service) mirror(ctx context.Context, m *mutation, rec domain.ContactRecord) *WriteResult {
	m.step(StateIndexAttempted)
	if err := s.index.Put(ctx, rec); err != nil {
		m.out.IndexError = err.Error()
		return &WriteResult{Record: rec, Outcome: m.finish(ctx, StatePartialIndexError, 1, 1, err)}
	}
	return &WriteResult{Record: rec, Outcome: m.finish(ctx, StateSuccess, 1, 1, nil)}
}

// BatchResult itemizes a CreateBatch call.
type BatchResult struct {
	Inserted    int         `json:"inserted"`
	Skipped     int         `json:"skipped"`
	Failed      []ItemError `json:"failed,omitempty"`
	IndexErrors []ItemError `json:"index_errors,omitempty"`
	Outcome     Outcome     `json:"outcome"`
}

// CreateBatch inserts records that do not exist yet and indexes the new
// ones in one bulk call. Existing emails are skipped, never overwritten.
// Per-row failures are itemized; an error is returned only when no row
// could be written at all.
func (s *Service) CreateBatch(ctx context.Context, recs []domain.ContactRecord) (*BatchResult, error) {
	res := &BatchResult{}
	m := s.begin("import_batch", "")

	var (
		inserted []domain.ContactRecord
		firstErr error
	)
	for _, rec := range recs {
		rec.Normalize()
		if !domain.IsEmailShaped(rec.Email) {
			res.Failed = append(res.Failed, ItemError{Email: rec.Email, Error: "not a valid email address"})
			continue
		}
		now := s.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now

		err := s.store.Insert(ctx, &rec)
		switch {
		case err == nil:
			inserted = append(inserted, rec)
		case errors.Is(err, ErrDuplicateKey):
			res.Skipped++
		default:
			if firstErr == nil {
				firstErr = err
			}
			res.Failed = append(res.Failed, ItemError{Email: rec.Email, Error: err.Error()})
		}
	}
	res.Inserted = len(inserted)

	if len(inserted) > 0 {
		m.step(StateStoreCommitted)
		m.step(StateIndexAttempted)
		bulk, err := s.index.BulkPut(ctx, inserted)
		if err != nil {
			m.out.IndexError = err.Error()
			for _, r := range inserted {
				res.IndexErrors = append(res.IndexErrors, ItemError{Email: r.Email, Error: err.Error()})
			}
		} else {
			res.IndexErrors = append(res.IndexErrors, bulk.Failed...)
		}
	}

	var st State
	switch {
	case len(inserted) == 0 && firstErr != nil:
		st = StateFailed
	case len(res.IndexErrors) > 0:
		st = StatePartialIndexError
	case len(res.Failed) > 0:
		st = StatePartialFailure
	default:
		st = StateSuccess
	}
	res.Outcome = m.finish(ctx, st, len(recs), res.Inserted, firstErr)

	if st == StateFailed {
		return res, firstErr
	}
	return res, nil
}
