package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

const contactColumns = `id, email, name, role, companyname, website, website_normalized,
	linkedin, is_verified, created_at, updated_at`

// uniqueViolation is the SQLSTATE Postgres reports for a unique index clash.
const uniqueViolation = "23505"

// ContactRepo implements contacts.Store against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed record store.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(s rowScanner) (*domain.ContactRecord, error) {
	var c domain.ContactRecord
	err := s.Scan(&c.ID, &c.Email, &c.Name, &c.Role, &c.CompanyName, &c.Website,
		&c.WebsiteNormalized, &c.LinkedIn, &c.IsVerified, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepo) Get(ctx context.Context, email string) (*domain.ContactRecord, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM email_accounts
		WHERE email = $1
		ORDER BY created_at DESC, id
		LIMIT 1
	`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contacts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// Insert serializes writers of one email with a transaction-scoped
// advisory lock, so the existence check and the insert cannot interleave.
func (r *ContactRepo) Insert(ctx context.Context, c *domain.ContactRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.Email); err != nil {
		return fmt.Errorf("lock email: %w", err)
	}

	id := uuid.New().String()
	var got string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO email_accounts (`+contactColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (SELECT 1 FROM email_accounts WHERE email = $2)
		RETURNING id
	`, id, c.Email, c.Name, c.Role, c.CompanyName, c.Website, c.WebsiteNormalized,
		c.LinkedIn, c.IsVerified, c.CreatedAt, c.UpdatedAt).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return contacts.ErrDuplicateKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return contacts.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	c.ID = got
	return nil
}

func (r *ContactRepo) Update(ctx context.Context, c *domain.ContactRecord) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_accounts
		SET name = $2, role = $3, companyname = $4, website = $5, website_normalized = $6,
		    linkedin = $7, is_verified = $8, updated_at = $9
		WHERE id = $1
	`, c.ID, c.Name, c.Role, c.CompanyName, c.Website, c.WebsiteNormalized,
		c.LinkedIn, c.IsVerified, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return contacts.ErrNotFound
	}
	return nil
}

func (r *ContactRepo) Begin(ctx context.Context) (contacts.StoreTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &contactTx{tx: tx}, nil
}

// FindDuplicateGroups returns every email with more than one row, rows
// newest first.
func (r *ContactRepo) FindDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM email_accounts
		WHERE email IN (
			SELECT email FROM email_accounts GROUP BY email HAVING COUNT(*) > 1
		)
		ORDER BY email, created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}
	defer rows.Close()

	var groups []domain.DuplicateGroup
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan duplicate: %w", err)
		}
		if n := len(groups); n == 0 || groups[n-1].Email != c.Email {
			groups = append(groups, domain.DuplicateGroup{Email: c.Email})
		}
		g := &groups[len(groups)-1]
		g.Rows = append(g.Rows, *c)
	}
	return groups, rows.Err()
}

func (r *ContactRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return n, nil
}

func (r *ContactRepo) TruncateAll(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin truncate: %w", err)
	}
	defer tx.Rollback()

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count before truncate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE email_accounts`); err != nil {
		return 0, fmt.Errorf("truncate contacts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit truncate: %w", err)
	}
	return n, nil
}

// ScanAfter returns the newest row of each email greater than after.
func (r *ContactRepo) ScanAfter(ctx context.Context, after string, limit int) ([]domain.ContactRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (email) `+contactColumns+`
		FROM email_accounts
		WHERE email > $1
		ORDER BY email, created_at DESC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.ContactRecord
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type contactTx struct{ tx *sql.Tx }

func (t *contactTx) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM email_accounts WHERE email = $1`, email)
	if err != nil {
		return 0, fmt.Errorf("delete contact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *contactTx) DeleteByEmails(ctx context.Context, emails []string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`DELETE FROM email_accounts WHERE email = ANY($1) RETURNING email`,
		pq.Array(emails),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk delete contacts: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var found []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scan deleted email: %w", err)
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		found = append(found, e)
	}
	return found, rows.Err()
}

func (t *contactTx) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM email_accounts WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("delete rows by id: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *contactTx) Commit() error   { return t.tx.Commit() }
func (t *contactTx) Rollback() error { return t.tx.Rollback() }
