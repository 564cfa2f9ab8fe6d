package profile

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const profileColumns = `id, full_name, email, role, is_active, plan_id, phone, business_id,
	subscription_start, subscription_end, created_at, updated_at`

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	return scanProfile(p.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (p *PostgresStore) Upsert(ctx context.Context, pr *Profile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, email, role, is_active, plan_id, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active,
			plan_id = EXCLUDED.plan_id,
			phone = EXCLUDED.phone,
			updated_at = NOW()`,
		pr.ID, pr.FullName, pr.Email, string(pr.Role), pr.IsActive, nullIfEmpty(pr.PlanID), pr.Phone,
	)
	return err
}

func (p *PostgresStore) Activate(ctx context.Context, id string, a Activation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, email, role, is_active, plan_id, phone,
			subscription_start, subscription_end, created_at, updated_at)
		VALUES ($1, $2, $3, 'owner', TRUE, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = COALESCE(NULLIF(profiles.email, ''), EXCLUDED.email),
			role = 'owner',
			is_active = TRUE,
			plan_id = EXCLUDED.plan_id,
			phone = EXCLUDED.phone,
			subscription_start = EXCLUDED.subscription_start,
			subscription_end = EXCLUDED.subscription_end,
			updated_at = NOW()`,
		id, a.FullName, a.Email, nullIfEmpty(a.PlanID), a.Phone, a.Start, a.End,
	)
	return err
}

func (p *PostgresStore) Renew(ctx context.Context, id string, start, end time.Time) error {
	return RenewTx(ctx, p.db, id, start, end)
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RenewTx applies a renewal to the profile through ex, so callers can make it
// part of a larger transaction.
func RenewTx(ctx context.Context, ex Execer, id string, start, end time.Time) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE profiles SET is_active = TRUE, subscription_start = $2, subscription_end = $3, updated_at = NOW()
		WHERE id = $1`, id, start, end)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (p *PostgresStore) SetBusiness(ctx context.Context, id, businessID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE profiles SET business_id = $2, updated_at = NOW() WHERE id = $1`, id, businessID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (p *PostgresStore) Update(ctx context.Context, id string, u Update) (*Profile, error) {
	var role any
	if u.Role != nil {
		role = string(*u.Role)
	}
	var active any
	if u.IsActive != nil {
		active = *u.IsActive
	}
	return scanProfile(p.db.QueryRowContext(ctx, `
		UPDATE profiles SET
			is_active = COALESCE($2, is_active),
			role = COALESCE($3, role),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+profileColumns, id, active, role))
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Profile, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var (
		cursorAt any
		cursorID any
	)
	if f.Cursor != nil {
		cursorAt, cursorID = f.Cursor.CreatedAt, f.Cursor.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+profileColumns+` FROM profiles
		WHERE ($1 = '' OR role = $1)
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, string(f.Role), cursorAt, cursorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Profile
	for rows.Next() {
		pr, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	// The outer predicate is re-checked so a renewal that moved the end date
	// after the inner select is not undone.
	rows, err := p.db.QueryContext(ctx, `
		UPDATE profiles SET is_active = FALSE, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM profiles
			WHERE role = 'owner' AND is_active AND subscription_end <= $1
			ORDER BY subscription_end
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND is_active AND subscription_end <= $1
		RETURNING id`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*Profile, error) {
	pr := &Profile{}
	var (
		role               string
		planID, businessID sql.NullString
		subStart, subEnd   sql.NullTime
	)
	err := row.Scan(&pr.ID, &pr.FullName, &pr.Email, &role, &pr.IsActive, &planID, &pr.Phone,
		&businessID, &subStart, &subEnd, &pr.CreatedAt, &pr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pr.Role = Role(role)
	pr.PlanID = planID.String
	pr.BusinessID = businessID.String
	if subStart.Valid {
		pr.SubscriptionStart = &subStart.Time
	}
	if subEnd.Valid {
		pr.SubscriptionEnd = &subEnd.Time
	}
	return pr, nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
