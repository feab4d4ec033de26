package contacts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/pkg/distlock"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

func row(id, email string, created time.Time) domain.ContactRecord {
	r := contact(email, "Acme", "acme.com", created)
	r.ID = id
	return r
}

func TestDeduplicate(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	ctx := context.Background()

	newest := row("d3", "dup@x.com", t0.Add(2*time.Hour))
	f.store.Seed(
		row("d1", "dup@x.com", t0),
		row("d2", "dup@x.com", t0.Add(time.Hour)),
		newest,
		row("t1", "two@x.com", t0),
		row("t2", "two@x.com", t0.Add(time.Minute)),
		row("s1", "single@x.com", t0),
	)
	require.NoError(t, f.index.Put(ctx, newest))
	f.index.PutDoc("legacy-1", row("d1", "dup@x.com", t0))

	res, err := f.svc.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DuplicateGroups)
	assert.Equal(t, 3, res.DuplicatesFound)
	assert.Equal(t, int64(3), res.DeletedFromStore)
	assert.Equal(t, 1, res.DeletedFromIndex)
	assert.Empty(t, res.Failures)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)

	kept, err := f.store.Get(ctx, "dup@x.com")
	require.NoError(t, err)
	assert.Equal(t, "d3", kept.ID)
	assert.Len(t, f.store.Rows(), 3)
	assert.False(t, f.index.Has("legacy-1"))
	assert.True(t, f.index.Has("two@x.com"))

	// Converged: a second run finds nothing.
	again, err := f.svc.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.DuplicateGroups)
	assert.Zero(t, again.DuplicatesFound)
	assert.Zero(t, again.IndexDuplicatesFound)
}

func TestDeduplicate_IndexOnlyDuplicates(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	ctx := context.Background()

	f.index.PutDoc("orphan@x.com", contact("orphan@x.com", "X", "x.com", t0))
	f.index.PutDoc("old-1", contact("orphan@x.com", "X", "x.com", t0))
	f.seed(contact("kept@x.com", "X", "x.com", t0))
	f.index.PutDoc("old-2", contact("kept@x.com", "X", "x.com", t0))

	res, err := f.svc.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DuplicateGroups)
	assert.Equal(t, 2, res.IndexDuplicatesFound)
	assert.Equal(t, 3, res.DeletedFromIndex)
	assert.Zero(t, res.DeletedFromStore)

	assert.True(t, f.index.Has("kept@x.com"))
	assert.False(t, f.index.Has("old-2"))
	assert.False(t, f.index.Has("orphan@x.com"))
	assert.False(t, f.index.Has("old-1"))
}

func TestDeduplicate_GroupFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, contacts.Options{})
	ctx := context.Background()

	f.store.Seed(
		row("a1", "a@x.com", t0),
		row("a2", "a@x.com", t0.Add(time.Hour)),
		row("b1", "b@x.com", t0),
		row("b2", "b@x.com", t0.Add(time.Hour)),
	)
	f.index.PutDoc("stray-a", contact("a@x.com", "X", "x.com", t0))
	f.index.FailItem("stray-a", "shard failure")

	res, err := f.svc.Deduplicate(ctx)
	require.Error(t, err)
	assert.Equal(t, contacts.KindPartialFailure, contacts.KindOf(err))
	require.NotNil(t, res)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a@x.com", res.Failures[0].Email)
	assert.Equal(t, int64(1), res.DeletedFromStore)
	assert.Equal(t, contacts.StatePartialFailure, res.Outcome.State)

	// The failed group was rolled back, the other one converged.
	var a, b int
	for _, r := range f.store.Rows() {
		switch r.Email {
		case "a@x.com":
			a++
		case "b@x.com":
			b++
		}
	}
	assert.Equal(t, 2, a)
	assert.Equal(t, 1, b)
}

func TestDeduplicate_Busy(t *testing.T) {
	f := newFixture(t, contacts.Options{Locks: distlock.NewFactory(nil, nil, 0)})
	held := distlock.NewLocalLock(contacts.MaintenanceLockKey)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(context.Background())

	_, err = f.svc.Deduplicate(context.Background())
	assert.True(t, errors.Is(err, contacts.ErrBusy), "got %v", err)
}

func TestDeleteAll_Completed(t *testing.T) {
	f := newFixture(t, contacts.Options{ClearPollInterval: time.Millisecond, ClearPollAttempts: 5})
	f.index.ClearPolls = 2
	f.seed(
		contact("a@x.com", "X", "x.com", t0),
		contact("b@x.com", "X", "x.com", t0),
		contact("c@x.com", "X", "x.com", t0),
	)

	res, err := f.svc.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contacts.ClearCompleted, res.Status)
	assert.Equal(t, int64(3), res.StoreRowsBefore)
	assert.Equal(t, int64(3), res.StoreRowsDeleted)
	assert.Equal(t, int64(3), res.IndexDocsBefore)
	assert.Equal(t, int64(3), res.IndexDocsDeleted)
	assert.Equal(t, 3, res.PollAttempts)
	assert.NotEmpty(t, res.TaskID)
	assert.Equal(t, contacts.StateSuccess, res.Outcome.State)
	assert.Empty(t, f.store.Rows())
}

func TestDeleteAll_TimesOutWithStoreCleared(t *testing.T) {
	f := newFixture(t, contacts.Options{ClearPollInterval: time.Millisecond, ClearPollAttempts: 3})
	f.index.ClearPolls = -1
	f.seed(contact("a@x.com", "X", "x.com", t0))

	res, err := f.svc.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contacts.ClearTimedOut, res.Status)
	assert.Equal(t, 3, res.PollAttempts)
	assert.Equal(t, contacts.StatePartialIndexError, res.Outcome.State)
	assert.True(t, res.Outcome.StoreCommitted)
	assert.Empty(t, f.store.Rows())
}

func TestDeleteAll_PollErrorsKeepPolling(t *testing.T) {
	f := newFixture(t, contacts.Options{ClearPollInterval: time.Millisecond, ClearPollAttempts: 2})
	f.index.FailOn("task_status", errors.New("timeout"))

	res, err := f.svc.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contacts.ClearTimedOut, res.Status)
	assert.Equal(t, 2, res.PollAttempts)
}

func TestDeleteAll_StoreFailureLeavesEverything(t *testing.T) {
	f := newFixture(t, contacts.Options{ClearPollInterval: time.Millisecond})
	f.seed(contact("a@x.com", "X", "x.com", t0))
	f.store.FailOn("truncate", errors.New("permission denied"))

	res, err := f.svc.DeleteAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, contacts.ClearFailedStoreIntact, res.Status)
	assert.Len(t, f.store.Rows(), 1)
	assert.True(t, f.index.Has("a@x.com"))
}

func TestDeleteAll_IndexClearFails(t *testing.T) {
	f := newFixture(t, contacts.Options{ClearPollInterval: time.Millisecond})
	f.seed(contact("a@x.com", "X", "x.com", t0))
	f.index.FailOn("clear_all", errors.New("timeout"))

	res, err := f.svc.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contacts.ClearIndexFailed, res.Status)
	assert.Empty(t, f.store.Rows())
	assert.Equal(t, contacts.StatePartialIndexError, res.Outcome.State)
}
