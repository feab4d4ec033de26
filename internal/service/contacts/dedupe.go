package contacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

// indexDuplicateScanLimit bounds the duplicate-email aggregation.
const indexDuplicateScanLimit = 10000

// GroupFailure is one duplicate group that could not be cleaned up.
type GroupFailure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// DedupeResult aggregates a de-duplication run.
type DedupeResult struct {
	DuplicateGroups      int            `json:"duplicateGroups"`
	DuplicatesFound      int            `json:"duplicatesFound"`
	IndexDuplicatesFound int            `json:"indexDuplicatesFound"`
	DeletedFromStore     int64          `json:"deletedFromStore"`
	DeletedFromIndex     int            `json:"deletedFromIndex"`
	Failures             []GroupFailure `json:"failures"`
	Outcome              Outcome        `json:"outcome"`
}

// Deduplicate keeps the newest row of every email held by more than one
// record store row or index document and removes the rest from both
// stores. Groups are processed independently; a failed group is itemized
// and the run continues.
func (s *Service) Deduplicate(ctx context.Context) (*DedupeResult, error) {
	var res *DedupeResult
	err := s.withMaintenanceLock(ctx, "dedupe", func() error {
		var err error
		res, err = s.deduplicate(ctx)
		return err
	})
	return res, err
}

func (s *Service) deduplicate(ctx context.Context) (*DedupeResult, error) {
	m := s.begin("dedupe", "")
	res := &DedupeResult{Failures: []GroupFailure{}}

	groups, err := s.store.FindDuplicateGroups(ctx)
	if err != nil {
		res.Outcome = m.finish(ctx, StateFailed, 0, 0, err)
		return nil, fmt.Errorf("find duplicate groups: %w", err)
	}

	indexDups, err := s.index.DuplicateEmails(ctx, indexDuplicateScanLimit)
	if err != nil {
		logger.Warn("contacts: index duplicate scan failed, cleaning record store groups only", "error", err)
	}

	handled := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		handled[g.Email] = struct{}{}
		res.DuplicateGroups++
		res.DuplicatesFound += len(g.Rows) - 1

		deleted, fromIndex, err := s.dedupeGroup(ctx, g)
		if err != nil {
			res.Failures = append(res.Failures, GroupFailure{Email: g.Email, Error: err.Error()})
			logger.Error("contacts: duplicate group cleanup failed", "email", g.Email, "error", err)
			continue
		}
		res.DeletedFromStore += deleted
		res.DeletedFromIndex += fromIndex
	}

	for _, email := range indexDups {
		email = domain.NormalizeEmail(email)
		if _, ok := handled[email]; ok {
			continue
		}
		res.DuplicateGroups++
		n, removed, err := s.dedupeIndexOnly(ctx, email)
		res.IndexDuplicatesFound += n
		if err != nil {
			res.Failures = append(res.Failures, GroupFailure{Email: email, Error: err.Error()})
			logger.Error("contacts: index duplicate cleanup failed", "email", email, "error", err)
			continue
		}
		res.DeletedFromIndex += removed
	}

	if res.DeletedFromStore > 0 || res.DeletedFromIndex > 0 {
		m.step(StateStoreCommitted)
	}
	m.step(StateIndexAttempted)

	st := StateSuccess
	if len(res.Failures) > 0 {
		st = StatePartialFailure
	}
	res.Outcome = m.finish(ctx, st, res.DuplicateGroups, int(res.DeletedFromStore)+res.DeletedFromIndex, nil)

	if st == StatePartialFailure {
		return res, &Error{Kind: KindPartialFailure, Msg: fmt.Sprintf("%d duplicate group(s) failed", len(res.Failures)), Details: res}
	}
	return res, nil
}

// dedupeGroup removes every row but the newest from the store, then strips
// stray index documents for the email and rewrites the canonical one. The
// store delete is rolled back if the index side fails.
func (s *Service) dedupeGroup(ctx context.Context, g domain.DuplicateGroup) (int64, int, error) {
	if len(g.Rows) < 2 {
		return 0, 0, nil
	}
	keep := g.Rows[0]
	ids := make([]string, 0, len(g.Rows)-1)
	for _, r := range g.Rows[1:] {
		ids = append(ids, r.ID)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	deleted, err := tx.DeleteByIDs(ctx, ids)
	if err != nil {
		rollback(tx, "dedupe")
		return 0, 0, err
	}

	removed, err := s.stripIndexCopies(ctx, g.Email)
	if err != nil {
		rollback(tx, "dedupe")
		return 0, 0, err
	}
	if err := s.index.Put(ctx, keep); err != nil {
		rollback(tx, "dedupe")
		return 0, 0, fmt.Errorf("reindex kept row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit dedupe: %w", err)
	}
	return deleted, removed, nil
}

// dedupeIndexOnly handles an email duplicated in the index but not in the
// store. It returns the number of surplus documents and how many were
// removed.
func (s *Service) dedupeIndexOnly(ctx context.Context, email string) (int, int, error) {
	hits, err := s.index.FindByEmail(ctx, email)
	if err != nil {
		return 0, 0, err
	}
	surplus := len(hits) - 1
	if surplus < 0 {
		surplus = 0
	}

	rec, err := s.store.Get(ctx, email)
	switch {
	case err == nil:
		removed, err := s.stripIndexCopies(ctx, email)
		if err != nil {
			return surplus, 0, err
		}
		if err := s.index.Put(ctx, *rec); err != nil {
			return surplus, removed, err
		}
		return surplus, removed, nil
	case KindOf(err) == KindNotFound:
		// No system-of-record row: every copy is an orphan.
		removed := 0
		for _, h := range hits {
			if err := s.index.Delete(ctx, h.ID); err != nil && !errors.Is(err, ErrIndexNotFound) {
				return surplus, removed, err
			}
			removed++
		}
		return surplus, removed, nil
	default:
		return surplus, 0, err
	}
}

// stripIndexCopies deletes index documents holding email under any id other
// than the canonical one.
func (s *Service) stripIndexCopies(ctx context.Context, email string) (int, error) {
	hits, err := s.index.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("find index copies: %w", err)
	}
	removed := 0
	for _, h := range hits {
		if h.ID == email {
			continue
		}
		if err := s.index.Delete(ctx, h.ID); err != nil && !errors.Is(err, ErrIndexNotFound) {
			return removed, fmt.Errorf("delete index copy %s: %w", h.ID, err)
		}
		removed++
	}
	return removed, nil
}
