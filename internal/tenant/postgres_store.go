package tenant

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const businessColumns = `id, name, category, owner_id, plan_id, phone, email, address, wilaya,
	onboarding_request_id, created_at`

// PostgresStore persists businesses and QR codes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateBusiness(ctx context.Context, b *Business) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, category, owner_id, plan_id, phone, email, address, wilaya,
			onboarding_request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Name, b.Category, b.OwnerID, nullIfEmpty(b.PlanID), b.Phone, b.Email, b.Address, b.Wilaya,
		nullIfEmpty(b.OnboardingRequestID), b.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" && b.OnboardingRequestID != "" {
			return ErrDuplicateOnboarding
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetBusiness(ctx context.Context, id string) (*Business, error) {
	return scanBusiness(p.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id))
}

func (p *PostgresStore) GetByOnboardingRequest(ctx context.Context, requestID string) (*Business, error) {
	return scanBusiness(p.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE onboarding_request_id = $1`, requestID))
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*Business, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM businesses WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateQRCode(ctx context.Context, q *QRCode) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO qr_codes (id, business_id, code, label, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		q.ID, q.BusinessID, q.Code, q.Label, q.CreatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			return ErrCodeTaken
		case "23503":
			return ErrBusinessNotFound
		}
	}
	return err
}

func (p *PostgresStore) GetQRCodeByCode(ctx context.Context, code string) (*QRCode, error) {
	q := &QRCode{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, business_id, code, label, created_at FROM qr_codes WHERE code = $1`, code,
	).Scan(&q.ID, &q.BusinessID, &q.Code, &q.Label, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQRCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (p *PostgresStore) ListQRCodes(ctx context.Context, businessID string) ([]*QRCode, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, business_id, code, label, created_at FROM qr_codes
		WHERE business_id = $1 ORDER BY created_at, id`, businessID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*QRCode
	for rows.Next() {
		q := &QRCode{}
		if err := rows.Scan(&q.ID, &q.BusinessID, &q.Code, &q.Label, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountQRCodes(ctx context.Context, businessID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qr_codes WHERE business_id = $1`, businessID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBusiness(row scanner) (*Business, error) {
	b := &Business{}
	var planID, onboardingID sql.NullString
	err := row.Scan(&b.ID, &b.Name, &b.Category, &b.OwnerID, &planID, &b.Phone, &b.Email, &b.Address,
		&b.Wilaya, &onboardingID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}
	b.PlanID = planID.String
	b.OnboardingRequestID = onboardingID.String
	return b, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
