package profile

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profileCols = []string{"id", "full_name", "email", "role", "is_active", "plan_id", "phone", "business_id",
	"subscription_start", "subscription_end", "created_at", "updated_at"}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresStore(db)
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)
	mock.ExpectQuery(`SELECT id, full_name`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("u1", "Amina", "a@cafe.dz", "owner", true, "plan_basic", "0555", nil, now, end, now, now))

	p, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, p.Role)
	assert.Equal(t, "plan_basic", p.PlanID)
	assert.Empty(t, p.BusinessID)
	require.NotNil(t, p.SubscriptionEnd)
	assert.Equal(t, end, *p.SubscriptionEnd)
	assert.True(t, p.SubscriptionValid(now))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, full_name`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(profileCols))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO profiles .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("u1", "Amina", "a@cafe.dz", "owner", false, "plan_basic", "0555").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), &Profile{ID: "u1", FullName: "Amina", Email: "a@cafe.dz",
		Role: RoleOwner, PlanID: "plan_basic", Phone: "0555"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RenewTxNotFound(t *testing.T) {
	db, mock, _ := setupMockDB(t)
	defer db.Close()

	start := time.Now()
	mock.ExpectExec(`UPDATE profiles SET is_active = TRUE`).
		WithArgs("u1", start, start.AddDate(0, 1, 0)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := RenewTx(context.Background(), db, "u1", start, start.AddDate(0, 1, 0))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`UPDATE profiles SET`).
		WithArgs("u1", nil, "admin").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("u1", "Amina", "a@cafe.dz", "admin", true, nil, "", nil, nil, nil, now, now))

	role := RoleAdmin
	p, err := store.Update(context.Background(), "u1", Update{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, p.Role)
	assert.Nil(t, p.SubscriptionEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireDue(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`UPDATE profiles SET is_active = FALSE`).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1").AddRow("u7"))

	ids, err := store.ExpireDue(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u7"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetBusiness(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE profiles SET business_id`).
		WithArgs("u1", "biz_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetBusiness(context.Background(), "u1", "biz_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
