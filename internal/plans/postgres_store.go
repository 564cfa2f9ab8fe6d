package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const planColumns = `id, name, price, currency, billing_period, features,
	max_businesses, max_branches, max_qr_codes, max_feedback_monthly,
	is_active, sort_order, created_at, updated_at`

// PostgresStore persists plans in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans ORDER BY sort_order, LOWER(name)`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ApplyBatch(ctx context.Context, deleteIDs []string, plans []*Plan) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if len(deleteIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM plans WHERE id = ANY($1)`, pq.Array(deleteIDs)); err != nil {
			return fmt.Errorf("delete plans: %w", err)
		}
	}

	for _, plan := range plans {
		flags := plan.Features
		if flags == nil {
			flags = map[string]bool{}
		}
		features, err := json.Marshal(flags)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plans (id, name, price, currency, billing_period, features,
				max_businesses, max_branches, max_qr_codes, max_feedback_monthly,
				is_active, sort_order, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
				name                 = EXCLUDED.name,
				price                = EXCLUDED.price,
				currency             = EXCLUDED.currency,
				billing_period       = EXCLUDED.billing_period,
				features             = EXCLUDED.features,
				max_businesses       = EXCLUDED.max_businesses,
				max_branches         = EXCLUDED.max_branches,
				max_qr_codes         = EXCLUDED.max_qr_codes,
				max_feedback_monthly = EXCLUDED.max_feedback_monthly,
				is_active            = EXCLUDED.is_active,
				sort_order           = EXCLUDED.sort_order,
				updated_at           = NOW()`,
			plan.ID, plan.Name, plan.Price, plan.Currency, string(plan.BillingPeriod), features,
			plan.MaxBusinesses, plan.MaxBranches, plan.MaxQRCodes, plan.MaxFeedbackMonthly,
			plan.IsActive, plan.SortOrder,
		)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return ErrNameTaken
			}
			return fmt.Errorf("upsert plan %s: %w", plan.ID, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*Plan, error) {
	plan := &Plan{}
	var (
		period   string
		features []byte
	)
	err := row.Scan(&plan.ID, &plan.Name, &plan.Price, &plan.Currency, &period, &features,
		&plan.MaxBusinesses, &plan.MaxBranches, &plan.MaxQRCodes, &plan.MaxFeedbackMonthly,
		&plan.IsActive, &plan.SortOrder, &plan.CreatedAt, &plan.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	plan.BillingPeriod = BillingPeriod(period)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &plan.Features); err != nil {
			return nil, fmt.Errorf("decode features for plan %s: %w", plan.ID, err)
		}
	}
	return plan, nil
}

var _ Store = (*PostgresStore)(nil)
