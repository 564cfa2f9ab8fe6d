package feedback

import (
	"context"
	"database/sql"
	"math"

	"github.com/lib/pq"
	"github.com/qrfeedback/platform/internal/pagination"
	"github.com/qrfeedback/platform/internal/tenant"
)

// PostgresStore persists feedback in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed feedback store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, f *Feedback, quota Quota) error {
	// The quota check and insert are one statement; concurrent submissions
	// at the boundary can still overshoot by the number in flight.
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO feedback (id, business_id, qr_code_id, rating, comment,
			customer_name, customer_email, customer_phone, created_at)
		SELECT $1::text, $2::text, $3::text, $4::smallint, $5::text,
			$6::text, $7::text, $8::text, $9::timestamptz
		WHERE $10::int = 0 OR (
			SELECT COUNT(*) FROM feedback WHERE business_id = $2 AND created_at >= $11::timestamptz
		) < $10::int`,
		f.ID, f.BusinessID, nullIfEmpty(f.QRCodeID), f.Rating, f.Comment,
		f.CustomerName, f.CustomerEmail, f.CustomerPhone, f.CreatedAt,
		quota.Max, quota.Since,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return tenant.ErrBusinessNotFound
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, businessID string, limit int, cursor *pagination.Cursor) ([]*Feedback, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var cursorAt, cursorID any
	if cursor != nil {
		cursorAt, cursorID = cursor.CreatedAt, cursor.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, business_id, qr_code_id, rating, comment,
			customer_name, customer_email, customer_phone, created_at
		FROM feedback
		WHERE business_id = $1
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, businessID, cursorAt, cursorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Feedback
	for rows.Next() {
		f := &Feedback{}
		var qrCodeID sql.NullString
		if err := rows.Scan(&f.ID, &f.BusinessID, &qrCodeID, &f.Rating, &f.Comment,
			&f.CustomerName, &f.CustomerEmail, &f.CustomerPhone, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.QRCodeID = qrCodeID.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Summary(ctx context.Context, businessID string) (*Summary, error) {
	s := &Summary{Distribution: emptyDistribution()}
	var (
		avg    float64
		counts [5]int
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(rating), 0),
			COUNT(*) FILTER (WHERE rating = 1),
			COUNT(*) FILTER (WHERE rating = 2),
			COUNT(*) FILTER (WHERE rating = 3),
			COUNT(*) FILTER (WHERE rating = 4),
			COUNT(*) FILTER (WHERE rating = 5),
			COUNT(*) FILTER (WHERE customer_name = '' AND customer_email = '' AND customer_phone = '')
		FROM feedback WHERE business_id = $1`, businessID,
	).Scan(&s.Count, &avg, &counts[0], &counts[1], &counts[2], &counts[3], &counts[4], &s.Anonymous)
	if err != nil {
		return nil, err
	}
	for i, n := range counts {
		s.Distribution[i+1] = n
	}
	s.Average = math.Round(avg*100) / 100
	return s, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
