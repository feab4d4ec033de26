package contacts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/metrics"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

type recorder struct {
	mu      sync.Mutex
	entries []contacts.AuditEntry
}

func (r *recorder) Record(_ context.Context, e contacts.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func strp(s string) *string { return &s }

func TestCreate(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, contacts.Options{Recorder: rec})
	counter := metrics.MutationsTotal.WithLabelValues("create", "SUCCESS")
	before := testutil.ToFloat64(counter)

	res, err := f.svc.Create(context.Background(), contacts.NewContact{
		Email:       "  Jane@Acme.com",
		CompanyName: "Acme",
		Website:     "https://www.acme.com/",
	})
	require.NoError(t, err)

	assert.Equal(t, "jane@acme.com", res.Record.Email)
	assert.Equal(t, "acme.com", res.Record.WebsiteNormalized)
	assert.True(t, res.Record.IsVerified)
	assert.NotEmpty(t, res.Record.ID)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)
	assert.Equal(t, []contacts.State{
		contacts.StateStarted, contacts.StateStoreCommitted, contacts.StateIndexAttempted, contacts.StateSuccess,
	}, res.Outcome.Trace)
	assert.True(t, f.index.Has("jane@acme.com"))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "create", rec.entries[0].Op)
	assert.Equal(t, contacts.StateSuccess, rec.entries[0].State)
}

func TestCreate_AlreadyExists(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("jane@acme.com", "Acme", "acme.com", t0))

	_, err := f.svc.Create(context.Background(), contacts.NewContact{Email: "jane@acme.com"})
	require.Error(t, err)
	assert.Equal(t, contacts.KindAlreadyExists, contacts.KindOf(err))
	assert.Len(t, f.store.Rows(), 1)
}

func TestCreate_InvalidEmail(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	_, err := f.svc.Create(context.Background(), contacts.NewContact{Email: "jane"})
	assert.True(t, errors.Is(err, contacts.ErrInvalidInput))
	assert.Empty(t, f.store.Rows())
}

func TestCreate_IndexFailureKeepsStoreRow(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.index.FailOn("put", contacts.IndexUnavailable(errors.New("timeout")))

	res, err := f.svc.Create(context.Background(), contacts.NewContact{Email: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, contacts.StatePartialIndexError, res.Outcome.State)
	assert.True(t, res.Outcome.StoreCommitted)
	assert.NotEmpty(t, res.Outcome.IndexError)
	assert.Len(t, f.store.Rows(), 1)
	assert.False(t, f.index.Has("jane@acme.com"))
}

func TestCreate_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), contacts.NewContact{Email: "race@acme.com"})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			k := contacts.KindOf(err)
			assert.True(t, k == contacts.KindAlreadyExists || k == contacts.KindDuplicateKey, "got %v", err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Len(t, f.store.Rows(), 1)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("jane@acme.com", "Acme", "acme.com", t0))
	f.clock.Advance(time.Hour)

	res, err := f.svc.Update(context.Background(), "jane@acme.com", domain.ContactPatch{
		Role:    strp("CTO"),
		Website: strp("http://www.acme.io"),
	})
	require.NoError(t, err)
	assert.Equal(t, "CTO", res.Record.Role)
	assert.Equal(t, "Acme", res.Record.CompanyName)
	assert.Equal(t, "acme.io", res.Record.WebsiteNormalized)
	assert.Equal(t, t0.Add(time.Hour), res.Record.UpdatedAt)
	assert.Equal(t, t0, res.Record.CreatedAt)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)

	stored, err := f.store.Get(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "CTO", stored.Role)
	indexed, err := f.index.Get(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "CTO", indexed.Role)
}

func TestUpdate_EmptyPatch(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("jane@acme.com", "Acme", "acme.com", t0))
	_, err := f.svc.Update(context.Background(), "jane@acme.com", domain.ContactPatch{})
	assert.True(t, errors.Is(err, contacts.ErrInvalidInput))
}

func TestUpdate_NotFoundAnywhere(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	_, err := f.svc.Update(context.Background(), "ghost@acme.com", domain.ContactPatch{Role: strp("CEO")})
	assert.True(t, errors.Is(err, contacts.ErrNotFound))
}

func TestUpdate_RestoresRowFromIndex(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.index.PutDoc("jane@acme.com", contact("jane@acme.com", "Acme", "acme.com", t0))

	res, err := f.svc.Update(context.Background(), "jane@acme.com", domain.ContactPatch{Role: strp("CEO")})
	require.NoError(t, err)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)

	stored, err := f.store.Get(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "CEO", stored.Role)
	assert.Equal(t, "Acme", stored.CompanyName)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("jane@acme.com", "Acme", "acme.com", t0))

	res, err := f.svc.Delete(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedFromStore)
	assert.True(t, res.DeletedFromIndex)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)
	assert.Empty(t, f.store.Rows())
	assert.False(t, f.index.Has("jane@acme.com"))
}

func TestDelete_NotFoundSkipsIndex(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	// Any index call would surface this error instead of NotFound.
	f.index.FailOn("delete", errors.New("index must not be called"))

	_, err := f.svc.Delete(context.Background(), "ghost@acme.com")
	assert.True(t, errors.Is(err, contacts.ErrNotFound), "got %v", err)
}

func TestDelete_IndexAlreadyMissing(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.store.Seed(contact("jane@acme.com", "Acme", "acme.com", t0))

	res, err := f.svc.Delete(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, contacts.StatePartialIndexNotFound, res.Outcome.State)
	assert.True(t, res.Outcome.StoreCommitted)
	assert.False(t, res.DeletedFromIndex)
	assert.Empty(t, f.store.Rows())
}

func TestDelete_IndexErrorRollsBack(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("jane@acme.com", "Acme", "acme.com", t0))
	f.index.FailOn("delete", errors.New("connection reset"))

	_, err := f.svc.Delete(context.Background(), "jane@acme.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contacts.ErrIndexUnavailable))
	assert.Len(t, f.store.Rows(), 1)
}

func TestBulkDelete_ReportsPerStore(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("a@x.com", "X", "x.com", t0))

	res, err := f.svc.BulkDelete(context.Background(), []string{"a@x.com", "ghost@nowhere.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, res.DeletedFromStore)
	assert.Equal(t, []string{"ghost@nowhere.com"}, res.NotFoundInStore)
	assert.Equal(t, []string{"a@x.com"}, res.DeletedFromIndex)
	assert.Empty(t, res.IndexErrors)
	assert.Equal(t, contacts.BulkDeleteCounts{
		Requested: 2, DeletedFromStore: 1, NotFoundInStore: 1, DeletedFromIndex: 1,
	}, res.Counts)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)
}

func TestBulkDelete_InvalidEmailsRejectWholeRequest(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("a@x.com", "X", "x.com", t0))

	_, err := f.svc.BulkDelete(context.Background(), []string{"a@x.com", "nope", "also nope"})
	require.Error(t, err)
	assert.Equal(t, contacts.KindInvalidInput, contacts.KindOf(err))
	assert.Equal(t, map[string][]string{"invalid_emails": {"nope", "also nope"}}, contacts.DetailsOf(err))
	assert.Len(t, f.store.Rows(), 1)
}

func TestBulkDelete_EmptyAndOversized(t *testing.T) {
	f := newFixture(t, contacts.Options{MaxBulkDelete: 2})
	_, err := f.svc.BulkDelete(context.Background(), nil)
	assert.True(t, errors.Is(err, contacts.ErrInvalidInput))
	_, err = f.svc.BulkDelete(context.Background(), []string{"a@x.com", "b@x.com", "c@x.com"})
	assert.True(t, errors.Is(err, contacts.ErrInvalidInput))
}

func TestBulkDelete_NothingFound(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.index.FailOn("bulk_delete", errors.New("index must not be called"))

	res, err := f.svc.BulkDelete(context.Background(), []string{"ghost@nowhere.com"})
	require.NoError(t, err)
	assert.Empty(t, res.DeletedFromStore)
	assert.Equal(t, 1, res.Counts.NotFoundInStore)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)
}

func TestBulkDelete_ItemErrorsArePartial(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("a@x.com", "X", "x.com", t0), contact("b@x.com", "X", "x.com", t0))
	f.store.Seed(contact("c@x.com", "X", "x.com", t0))
	f.index.FailItem("b@x.com", "version conflict")

	res, err := f.svc.BulkDelete(context.Background(), []string{"a@x.com", "b@x.com", "c@x.com"})
	require.Error(t, err)
	assert.Equal(t, contacts.KindPartialFailure, contacts.KindOf(err))
	require.NotNil(t, res)

	assert.Equal(t, []string{"a@x.com"}, res.DeletedFromIndex)
	assert.Equal(t, []string{"c@x.com"}, res.NotFoundInIndex)
	require.Len(t, res.IndexErrors, 1)
	assert.Equal(t, "b@x.com", res.IndexErrors[0].Email)
	assert.Equal(t, contacts.StatePartialIndexError, res.Outcome.State)
	assert.True(t, res.Outcome.StoreCommitted)
	assert.Equal(t, []string{"a@x.com", "c@x.com"}, res.DeletedFromStore)
	assert.Equal(t, []string{"b@x.com"}, res.RetainedInStore)
	assert.Equal(t, 3, res.Counts.DeletedFromStore+res.Counts.NotFoundInStore+res.Counts.RetainedInStore)

	rows := f.store.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "b@x.com", rows[0].Email)
	assert.True(t, f.index.Has("b@x.com"))
}

func TestBulkDelete_ItemErrorsLeaveNoOrphans(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("a@x.com", "X", "x.com", t0), contact("b@x.com", "X", "x.com", t0))
	f.index.FailItem("b@x.com", "version conflict")
	ctx := context.Background()

	_, err := f.svc.BulkDelete(ctx, []string{"a@x.com", "b@x.com"})
	require.Error(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.StoreCount)
	assert.Equal(t, int64(1), st.IndexCount)
	assert.Zero(t, st.Drift)

	// A retry once the index recovers converges both stores.
	f.index.FailItem("b@x.com", "")
	res, err := f.svc.BulkDelete(ctx, []string{"b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x.com"}, res.DeletedFromStore)
	assert.Equal(t, []string{"b@x.com"}, res.DeletedFromIndex)
	assert.Empty(t, f.store.Rows())
	assert.False(t, f.index.Has("b@x.com"))
}

func TestBulkDelete_AllItemsFailKeepsStore(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("a@x.com", "X", "x.com", t0))
	f.index.FailItem("a@x.com", "shard failure")

	res, err := f.svc.BulkDelete(context.Background(), []string{"a@x.com"})
	assert.Equal(t, contacts.KindPartialFailure, contacts.KindOf(err))
	require.NotNil(t, res)
	assert.Empty(t, res.DeletedFromStore)
	assert.Equal(t, []string{"a@x.com"}, res.RetainedInStore)
	assert.False(t, res.Outcome.StoreCommitted)
	assert.Len(t, f.store.Rows(), 1)
}

func TestBulkDelete_IndexDownRollsBack(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("a@x.com", "X", "x.com", t0))
	f.index.FailOn("bulk_delete", errors.New("503 service unavailable"))

	_, err := f.svc.BulkDelete(context.Background(), []string{"a@x.com"})
	assert.True(t, errors.Is(err, contacts.ErrIndexUnavailable))
	assert.Len(t, f.store.Rows(), 1)
}

func TestBulkDelete_Accounting(t *testing.T) {
	lists := [][]string{
		{"a@x.com"},
		{"a@x.com", "a@x.com", "A@X.com"},
		{"ghost1@x.com", "ghost2@x.com"},
		{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "ghost@x.com"},
	}
	for _, l := range lists {
		f := newFixture(t, contacts.Options{})
		f.seed(contact("a@x.com", "X", "x.com", t0), contact("b@x.com", "X", "x.com", t0))
		f.store.Seed(contact("c@x.com", "X", "x.com", t0))

		res, err := f.svc.BulkDelete(context.Background(), l)
		require.NoError(t, err)

		req := map[string]bool{}
		for _, e := range res.Requested {
			req[e] = true
		}
		deleted := map[string]bool{}
		for _, e := range res.DeletedFromStore {
			assert.True(t, req[e], "%s deleted but not requested", e)
			deleted[e] = true
		}
		for _, e := range res.NotFoundInStore {
			assert.False(t, deleted[e])
		}
		assert.Empty(t, res.RetainedInStore)
		assert.Equal(t, len(res.Requested), len(res.DeletedFromStore)+len(res.NotFoundInStore))
		assert.LessOrEqual(t, len(res.DeletedFromIndex), len(res.DeletedFromStore))
		assert.LessOrEqual(t, len(res.DeletedFromStore), len(l))
	}
}

func TestCreateBatch(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.seed(contact("old@x.com", "X", "x.com", t0))
	f.index.FailItem("bad@x.com", "mapper_parsing_exception")

	res, err := f.svc.CreateBatch(context.Background(), []domain.ContactRecord{
		{Email: "new@x.com"},
		{Email: "OLD@x.com"},
		{Email: "bad@x.com"},
		{Email: "broken"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "broken", res.Failed[0].Email)
	require.Len(t, res.IndexErrors, 1)
	assert.Equal(t, "bad@x.com", res.IndexErrors[0].Email)
	assert.Equal(t, contacts.StatePartialIndexError, res.Outcome.State)
	assert.True(t, f.index.Has("new@x.com"))
	assert.Len(t, f.store.Rows(), 3)
}

func TestCreateBatch_StoreDown(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	f.store.FailOn("insert", errors.New("connection refused"))

	res, err := f.svc.CreateBatch(context.Background(), []domain.ContactRecord{{Email: "new@x.com"}})
	require.Error(t, err)
	assert.Equal(t, contacts.StateFailed, res.Outcome.State)
	assert.Equal(t, 0, res.Inserted)
}
