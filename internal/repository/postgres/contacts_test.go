package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

var _ contacts.Store = (*ContactRepo)(nil)

var ts = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

var columns = []string{"id", "email", "name", "role", "companyname", "website", "website_normalized",
	"linkedin", "is_verified", "created_at", "updated_at"}

func newMock(t *testing.T) (*ContactRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return NewContactRepo(db), mock
}

func contactRow(rows *sqlmock.Rows, id, email string, created time.Time) *sqlmock.Rows {
	return rows.AddRow(id, email, "Jane", "CTO", "Acme", "acme.com", "acme.com", "", true, created, created)
}

func TestContactRepo_Get(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM email_accounts\s+WHERE email = \$1\s+ORDER BY created_at DESC`).
		WithArgs("jane@acme.com").
		WillReturnRows(contactRow(sqlmock.NewRows(columns), "id-1", "jane@acme.com", ts))

	c, err := repo.Get(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", c.ID)
	assert.Equal(t, "Acme", c.CompanyName)
	assert.True(t, c.IsVerified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_GetNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`FROM email_accounts`).WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Get(context.Background(), "ghost@acme.com")
	assert.True(t, errors.Is(err, contacts.ErrNotFound))
}

func TestContactRepo_Insert(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("jane@acme.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO email_accounts .+ WHERE NOT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("new-id"))
	mock.ExpectCommit()

	c := &domain.ContactRecord{Email: "jane@acme.com", CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, repo.Insert(context.Background(), c))
	assert.Equal(t, "new-id", c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_InsertExisting(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO email_accounts`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), &domain.ContactRecord{Email: "jane@acme.com"})
	assert.True(t, errors.Is(err, contacts.ErrDuplicateKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_InsertUniqueViolation(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO email_accounts`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), &domain.ContactRecord{Email: "jane@acme.com"})
	assert.True(t, errors.Is(err, contacts.ErrDuplicateKey))
}

func TestContactRepo_UpdateMissing(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE email_accounts`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &domain.ContactRecord{ID: "gone"})
	assert.True(t, errors.Is(err, contacts.ErrNotFound))
}

func TestContactRepo_DeleteByEmailsInTransaction(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM email_accounts WHERE email = ANY\(\$1\) RETURNING email`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).
			AddRow("a@x.com").
			AddRow("a@x.com").
			AddRow("b@x.com"))
	mock.ExpectCommit()

	tx, err := repo.Begin(context.Background())
	require.NoError(t, err)
	found, err := tx.DeleteByEmails(context.Background(), []string{"a@x.com", "b@x.com", "ghost@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, found)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_DeleteRollback(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM email_accounts WHERE email = \$1`).
		WithArgs("a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tx, err := repo.Begin(context.Background())
	require.NoError(t, err)
	n, err := tx.DeleteByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_DeleteByIDs(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM email_accounts WHERE id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := repo.Begin(context.Background())
	require.NoError(t, err)
	n, err := tx.DeleteByIDs(context.Background(), []string{"id-1", "id-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit())
}

func TestContactRepo_FindDuplicateGroups(t *testing.T) {
	repo, mock := newMock(t)
	rows := sqlmock.NewRows(columns)
	contactRow(rows, "a2", "a@x.com", ts.Add(time.Hour))
	contactRow(rows, "a1", "a@x.com", ts)
	contactRow(rows, "b3", "b@x.com", ts.Add(2*time.Hour))
	contactRow(rows, "b2", "b@x.com", ts.Add(time.Hour))
	contactRow(rows, "b1", "b@x.com", ts)
	mock.ExpectQuery(`HAVING COUNT\(\*\) > 1`).WillReturnRows(rows)

	groups, err := repo.FindDuplicateGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "a@x.com", groups[0].Email)
	assert.Len(t, groups[0].Rows, 2)
	assert.Equal(t, "a2", groups[0].Rows[0].ID)
	assert.Len(t, groups[1].Rows, 3)
	assert.Equal(t, "b3", groups[1].Rows[0].ID)
}

func TestContactRepo_TruncateAll(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM email_accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(500000)))
	mock.ExpectExec(`TRUNCATE TABLE email_accounts`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := repo.TruncateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(500000), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_TruncateFailureRollsBack(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectExec(`TRUNCATE`).WillReturnError(errors.New("permission denied for table email_accounts"))
	mock.ExpectRollback()

	_, err := repo.TruncateAll(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_ScanAfter(t *testing.T) {
	repo, mock := newMock(t)
	rows := sqlmock.NewRows(columns)
	contactRow(rows, "1", "b@x.com", ts)
	contactRow(rows, "2", "c@x.com", ts)
	mock.ExpectQuery(`SELECT DISTINCT ON \(email\) .+ WHERE email > \$1`).
		WithArgs("a@x.com", 2).
		WillReturnRows(rows)

	got, err := repo.ScanAfter(context.Background(), "a@x.com", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c@x.com", got[1].Email)
}
