package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const requestColumns = `id, business_name, owner_name, phone, wilaya, activity_type, email, plan_id,
	status, user_id, step, subscription_start, subscription_end, business_id, activated_at, created_at`

// PostgresStore persists onboarding requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed onboarding store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Request) error {
	status, step := r.Status, r.Step
	if status == "" {
		status = StatusPending
	}
	if step == "" {
		step = StepDates
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO onboarding_requests (id, business_name, owner_name, phone, wilaya, activity_type,
			email, plan_id, status, user_id, step, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.BusinessName, r.OwnerName, r.Phone, r.Wilaya, r.ActivityType,
		r.Email, r.PlanID, string(status), nullIfEmpty(r.UserID), string(step), r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	return scanRequest(p.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM onboarding_requests WHERE id = $1`, id))
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Request, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var cursorAt, cursorID any
	if f.Cursor != nil {
		cursorAt, cursorID = f.Cursor.CreatedAt, f.Cursor.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM onboarding_requests
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, string(f.Status), cursorAt, cursorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetDates(ctx context.Context, id string, start, end time.Time) (time.Time, time.Time, error) {
	var storedStart, storedEnd time.Time
	err := p.db.QueryRowContext(ctx, `
		UPDATE onboarding_requests SET
			subscription_start = COALESCE(subscription_start, $2),
			subscription_end   = COALESCE(subscription_end, $3)
		WHERE id = $1
		RETURNING subscription_start, subscription_end`, id, start, end,
	).Scan(&storedStart, &storedEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, time.Time{}, ErrNotFound
	}
	return storedStart, storedEnd, err
}

func (p *PostgresStore) SetStep(ctx context.Context, id string, step Step) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE onboarding_requests SET step = $2 WHERE id = $1 AND status = 'pending'`, id, string(step))
	if err != nil {
		return err
	}
	return expectRow(result, ErrNotPending)
}

func (p *PostgresStore) SetBusiness(ctx context.Context, id, businessID string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE onboarding_requests SET business_id = $2 WHERE id = $1`, id, businessID)
	if err != nil {
		return err
	}
	return expectRow(result, ErrNotFound)
}

func (p *PostgresStore) MarkActive(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE onboarding_requests SET status = 'active', step = 'done', activated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return err
	}
	if err := expectRow(result, ErrNotPending); err != nil {
		if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	r := &Request{}
	var (
		status, step                  string
		userID, businessID            sql.NullString
		subStart, subEnd, activatedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.BusinessName, &r.OwnerName, &r.Phone, &r.Wilaya, &r.ActivityType,
		&r.Email, &r.PlanID, &status, &userID, &step, &subStart, &subEnd, &businessID, &activatedAt,
		&r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.Step = Step(step)
	r.UserID = userID.String
	r.BusinessID = businessID.String
	r.SubscriptionStart = timePtr(subStart)
	r.SubscriptionEnd = timePtr(subEnd)
	r.ActivatedAt = timePtr(activatedAt)
	return r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
