package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/qrfeedback/platform/internal/profile"
)

// PostgresRenewalStore persists renewal requests in PostgreSQL.
type PostgresRenewalStore struct {
	db *sql.DB
}

// NewPostgresRenewalStore creates a new PostgreSQL-backed renewal store.
func NewPostgresRenewalStore(db *sql.DB) *PostgresRenewalStore {
	return &PostgresRenewalStore{db: db}
}

func (p *PostgresRenewalStore) Create(ctx context.Context, r *RenewalRequest) error {
	status := r.Status
	if status == "" {
		status = RenewalPending
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO renewal_requests (id, user_id, plan_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.UserID, r.PlanID, string(status), r.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrRenewalPending
	}
	return err
}

func (p *PostgresRenewalStore) Get(ctx context.Context, id string) (*RenewalRequest, error) {
	return scanRenewal(p.db.QueryRowContext(ctx, `
		SELECT id, user_id, plan_id, status, created_at, approved_at
		FROM renewal_requests WHERE id = $1`, id))
}

func (p *PostgresRenewalStore) List(ctx context.Context, f RenewalFilter) ([]*RenewalRequest, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var cursorAt, cursorID any
	if f.Cursor != nil {
		cursorAt, cursorID = f.Cursor.CreatedAt, f.Cursor.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, plan_id, status, created_at, approved_at
		FROM renewal_requests
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR user_id = $2)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3, $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`, string(f.Status), f.UserID, cursorAt, cursorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*RenewalRequest
	for rows.Next() {
		r, err := scanRenewal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresRenewalStore) Approve(ctx context.Context, id, userID string, start, end, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `
		UPDATE renewal_requests SET status = 'approved', approved_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return fmt.Errorf("approve renewal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM renewal_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyProcessed
	}

	if err := profile.RenewTx(ctx, tx, userID, start, end); err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRenewal(row scanner) (*RenewalRequest, error) {
	r := &RenewalRequest{}
	var (
		status     string
		approvedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.PlanID, &status, &r.CreatedAt, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = RenewalStatus(status)
	if approvedAt.Valid {
		r.ApprovedAt = &approvedAt.Time
	}
	return r, nil
}

var _ RenewalStore = (*PostgresRenewalStore)(nil)
