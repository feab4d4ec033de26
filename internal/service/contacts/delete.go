package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/pkg/logger"
)

// DeleteResult reports a single delete per store.
type DeleteResult struct {
	Email            string  `json:"email"`
	DeletedFromStore int64   `json:"deletedFromStore"`
	DeletedFromIndex bool    `json:"deletedFromIndex"`
	Outcome          Outcome `json:"outcome"`
}

// Delete removes one contact. The store transaction stays open until the
// index answers: a missing index document is tolerated and committed, any
// other index failure rolls the store back.
func (s *Service) Delete(ctx context.Context, email string) (*DeleteResult, error) {
	email = domain.NormalizeEmail(email)
	if !domain.IsEmailShaped(email) {
		return nil, invalidInput(map[string]string{"email": email}, "not a valid email address")
	}

	m := s.begin("delete", email)
	res := &DeleteResult{Email: email}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		res.Outcome = m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	}

	n, err := tx.DeleteByEmail(ctx, email)
	if err != nil {
		rollback(tx, "delete")
		res.Outcome = m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	}
	if n == 0 {
		rollback(tx, "delete")
		err := notFound(email)
		res.Outcome = m.finish(ctx, StateFailed, 1, 0, err)
		return nil, err
	}
	m.step(StateStoreCommitted)

	m.step(StateIndexAttempted)
	ierr := s.index.Delete(ctx, email)
	if ierr != nil && !errors.Is(ierr, ErrIndexNotFound) {
		rollback(tx, "delete")
		m.rolledBack()
		m.out.IndexError = ierr.Error()
		res.Outcome = m.finish(ctx, StatePartialIndexError, 1, 0, ierr)
		return nil, IndexUnavailable(ierr)
	}

	if err := tx.Commit(); err != nil {
		m.rolledBack()
		res.Outcome = m.finish(ctx, StateFailed, 1, 0, err)
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	res.DeletedFromStore = n

	if ierr != nil {
		res.Outcome = m.finish(ctx, StatePartialIndexNotFound, 1, int(n), nil)
		return res, nil
	}
	res.DeletedFromIndex = true
	res.Outcome = m.finish(ctx, StateSuccess, 1, int(n), nil)
	return res, nil
}

// BulkDeleteCounts are the independent per-store tallies of a bulk delete.
type BulkDeleteCounts struct {
	Requested        int `json:"requested"`
	DeletedFromStore int `json:"deletedFromStore"`
	NotFoundInStore  int `json:"notFoundInStore"`
	RetainedInStore  int `json:"retainedInStore"`
	DeletedFromIndex int `json:"deletedFromIndex"`
	NotFoundInIndex  int `json:"notFoundInIndex"`
	IndexErrors      int `json:"indexErrors"`
}

// BulkDeleteResult itemizes a bulk delete per email and per store.
type BulkDeleteResult struct {
	Requested        []string         `json:"requested"`
	DeletedFromStore []string         `json:"deletedFromStore"`
	NotFoundInStore  []string         `json:"notFoundInStore"`
	// RetainedInStore lists found emails kept because their index delete
	// failed; both stores still hold them.
	RetainedInStore  []string         `json:"retainedInStore"`
	DeletedFromIndex []string         `json:"deletedFromIndex"`
	NotFoundInIndex  []string         `json:"notFoundInIndex"`
	IndexErrors      []ItemError      `json:"indexErrors"`
	Counts           BulkDeleteCounts `json:"counts"`
	Outcome          Outcome          `json:"outcome"`
}

// BulkDelete removes a list of contacts. The whole request is refused if
// any entry is not email-shaped. Only the emails actually found in the
// record store are sent to the index; an email whose index delete fails is
// restored in the store and reported in RetainedInStore.
func (s *Service) BulkDelete(ctx context.Context, emails []string) (*BulkDeleteResult, error) {
	if len(emails) == 0 {
		return nil, invalidInput(nil, "emails must not be empty")
	}
	if len(emails) > s.opts.MaxBulkDelete {
		return nil, invalidInput(map[string]int{"max": s.opts.MaxBulkDelete, "requested": len(emails)},
			"too many emails in one request")
	}

	var invalid []string
	requested := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		n := domain.NormalizeEmail(e)
		if !domain.IsEmailShaped(n) {
			invalid = append(invalid, e)
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		requested = append(requested, n)
	}
	if len(invalid) > 0 {
		return nil, invalidInput(map[string][]string{"invalid_emails": invalid}, "%d invalid email(s)", len(invalid))
	}

	m := s.begin("bulk_delete", "")
	res := &BulkDeleteResult{
		Requested:        requested,
		DeletedFromStore: []string{},
		NotFoundInStore:  []string{},
		RetainedInStore:  []string{},
		DeletedFromIndex: []string{},
		NotFoundInIndex:  []string{},
		IndexErrors:      []ItemError{},
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		res.Outcome = m.finish(ctx, StateFailed, len(requested), 0, err)
		return nil, err
	}
	found, err := tx.DeleteByEmails(ctx, requested)
	if err != nil {
		rollback(tx, "bulk delete")
		res.Outcome = m.finish(ctx, StateFailed, len(requested), 0, err)
		return nil, err
	}

	foundSet := make(map[string]struct{}, len(found))
	for _, e := range found {
		foundSet[domain.NormalizeEmail(e)] = struct{}{}
	}
	for _, e := range requested {
		if _, ok := foundSet[e]; ok {
			res.DeletedFromStore = append(res.DeletedFromStore, e)
		} else {
			res.NotFoundInStore = append(res.NotFoundInStore, e)
		}
	}

	if len(res.DeletedFromStore) == 0 {
		rollback(tx, "bulk delete")
		res.Counts = res.counts()
		res.Outcome = m.finish(ctx, StateSuccess, len(requested), 0, nil)
		return res, nil
	}
	m.step(StateStoreCommitted)

	m.step(StateIndexAttempted)
	bulk, ierr := s.index.BulkDelete(ctx, res.DeletedFromStore)
	if ierr != nil {
		rollback(tx, "bulk delete")
		m.rolledBack()
		m.out.IndexError = ierr.Error()
		res.Outcome = m.finish(ctx, StatePartialIndexError, len(requested), 0, ierr)
		return nil, IndexUnavailable(ierr)
	}
	failed := make(map[string]struct{})
	for _, f := range bulk.Failed {
		e := domain.NormalizeEmail(f.Email)
		if _, ok := foundSet[e]; ok {
			failed[e] = struct{}{}
			res.IndexErrors = append(res.IndexErrors, f)
		}
	}

	if len(failed) == 0 {
		if err := tx.Commit(); err != nil {
			m.rolledBack()
			res.Outcome = m.finish(ctx, StateFailed, len(requested), 0, err)
			return nil, fmt.Errorf("commit bulk delete: %w", err)
		}
	} else {
		// Rows whose index delete failed go back to the store; only emails
		// gone from the index are removed for good.
		rollback(tx, "bulk delete")
		m.rolledBack()
		converged := []string{}
		for _, e := range res.DeletedFromStore {
			if _, bad := failed[e]; bad {
				res.RetainedInStore = append(res.RetainedInStore, e)
			} else {
				converged = append(converged, e)
			}
		}
		res.DeletedFromStore = []string{}
		if len(converged) > 0 {
			removed, err := s.deleteEmails(ctx, converged)
			if err != nil {
				// The index already dropped these; reindex restores them.
				m.out.IndexError = fmt.Sprintf("%d index item error(s)", len(failed))
				res.Outcome = m.finish(ctx, StateFailed, len(requested), 0, err)
				return nil, fmt.Errorf("bulk delete converged subset: %w", err)
			}
			m.out.StoreCommitted = true
			res.DeletedFromStore = removed
			if len(removed) < len(converged) {
				gone := make(map[string]struct{}, len(removed))
				for _, e := range removed {
					gone[e] = struct{}{}
				}
				for _, e := range converged {
					if _, ok := gone[e]; !ok {
						res.NotFoundInStore = append(res.NotFoundInStore, e)
					}
				}
			}
		}
	}

	res.DeletedFromIndex = intersect(bulk.Succeeded, foundSet)
	res.NotFoundInIndex = intersect(bulk.NotFound, foundSet)
	res.Counts = res.counts()

	st := StateSuccess
	switch {
	case len(res.IndexErrors) > 0:
		st = StatePartialIndexError
		m.out.IndexError = fmt.Sprintf("%d index item error(s)", len(res.IndexErrors))
	case len(res.NotFoundInIndex) > 0:
		st = StatePartialIndexNotFound
	}
	res.Outcome = m.finish(ctx, st, len(requested), len(res.DeletedFromStore), nil)

	if st == StatePartialIndexError {
		return res, &Error{Kind: KindPartialFailure, Msg: "some emails could not be removed from the search index and were kept", Details: res}
	}
	return res, nil
}

// deleteEmails removes emails from the record store in a transaction of
// its own and returns the emails actually found.
func (s *Service) deleteEmails(ctx context.Context, emails []string) ([]string, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	found, err := tx.DeleteByEmails(ctx, emails)
	if err != nil {
		rollback(tx, "bulk delete")
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk delete: %w", err)
	}
	out := make([]string, 0, len(found))
	for _, e := range found {
		out = append(out, domain.NormalizeEmail(e))
	}
	return out, nil
}

func (r *BulkDeleteResult) counts() BulkDeleteCounts {
	return BulkDeleteCounts{
		Requested:        len(r.Requested),
		DeletedFromStore: len(r.DeletedFromStore),
		NotFoundInStore:  len(r.NotFoundInStore),
		RetainedInStore:  len(r.RetainedInStore),
		DeletedFromIndex: len(r.DeletedFromIndex),
		NotFoundInIndex:  len(r.NotFoundInIndex),
		IndexErrors:      len(r.IndexErrors),
	}
}

func intersect(ids []string, set map[string]struct{}) []string {
	out := []string{}
	for _, id := range ids {
		if _, ok := set[domain.NormalizeEmail(id)]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Delete-all completion statuses.
const (
	ClearCompleted         = "completed"
	ClearTimedOut          = "timed_out_store_cleared"
	ClearIndexFailed       = "index_clear_failed_store_cleared"
	ClearFailedStoreIntact = "failed_store_unchanged"
)

// DeleteAllResult reports a delete-all run.
type DeleteAllResult struct {
	StoreRowsBefore  int64   `json:"storeRowsBefore"`
	StoreRowsDeleted int64   `json:"storeRowsDeleted"`
	IndexDocsBefore  int64   `json:"indexDocsBefore"`
	IndexDocsDeleted int64   `json:"indexDocsDeleted"`
	TaskID           string  `json:"taskId,omitempty"`
	PollAttempts     int     `json:"pollAttempts"`
	Status           string  `json:"status"`
	Outcome          Outcome `json:"outcome"`
}

// DeleteAll truncates the record store, then clears the index and polls the
// asynchronous clear until it completes or the attempts run out. It is
// irreversible and runs under the maintenance lock.
func (s *Service) DeleteAll(ctx context.Context) (*DeleteAllResult, error) {
	var res *DeleteAllResult
	err := s.withMaintenanceLock(ctx, "delete_all", func() error {
		var err error
		res, err = s.deleteAll(ctx)
		return err
	})
	return res, err
}

func (s *Service) deleteAll(ctx context.Context) (*DeleteAllResult, error) {
	m := s.begin("delete_all", "")
	res := &DeleteAllResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.Count(gctx)
		res.StoreRowsBefore = n
		return err
	})
	g.Go(func() error {
		n, err := s.index.Count(gctx)
		if err != nil {
			logger.Warn("contacts: index count before delete-all failed", "error", err)
			return nil
		}
		res.IndexDocsBefore = n
		return nil
	})
	if err := g.Wait(); err != nil {
		res.Status = ClearFailedStoreIntact
		res.Outcome = m.finish(ctx, StateFailed, 0, 0, err)
		return res, err
	}

	n, err := s.store.TruncateAll(ctx)
	if err != nil {
		res.Status = ClearFailedStoreIntact
		res.Outcome = m.finish(ctx, StateFailed, int(res.StoreRowsBefore), 0, err)
		return res, fmt.Errorf("truncate record store: %w", err)
	}
	res.StoreRowsDeleted = n
	m.step(StateStoreCommitted)

	m.step(StateIndexAttempted)
	taskID, err := s.index.ClearAll(ctx)
	if err != nil {
		res.Status = ClearIndexFailed
		m.out.IndexError = err.Error()
		res.Outcome = m.finish(ctx, StatePartialIndexError, int(res.StoreRowsBefore), int(n), err)
		return res, nil
	}
	res.TaskID = taskID

	if s.pollClear(ctx, res) {
		res.Status = ClearCompleted
		res.Outcome = m.finish(ctx, StateSuccess, int(res.StoreRowsBefore), int(n), nil)
		return res, nil
	}
	res.Status = ClearTimedOut
	m.out.IndexError = "index clear did not complete in time"
	res.Outcome = m.finish(ctx, StatePartialIndexError, int(res.StoreRowsBefore), int(n), nil)
	return res, nil
}

// pollClear waits for the index clear task. It reports false when the
// attempts run out or ctx ends first.
func (s *Service) pollClear(ctx context.Context, res *DeleteAllResult) bool {
	ticker := time.NewTicker(s.opts.ClearPollInterval)
	defer ticker.Stop()

	for res.PollAttempts < s.opts.ClearPollAttempts {
		res.PollAttempts++
		st, err := s.index.TaskStatus(ctx, res.TaskID)
		if err != nil {
			logger.Warn("contacts: clear task poll failed", "task_id", res.TaskID, "attempt", res.PollAttempts, "error", err)
		} else {
			res.IndexDocsDeleted = st.Deleted
			if st.Completed {
				return true
			}
		}
		if res.PollAttempts == s.opts.ClearPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return false
}

func rollback(tx StoreTx, op string) {
	if err := tx.Rollback(); err != nil {
		logger.Error("contacts: rollback failed", "op", op, "error", err)
	}
}
