package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/tenant"
	"github.com/qrfeedback/platform/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *MemoryStore
	tenants *tenant.Service
	svc     *Service
	code    string
	bizID   string
}

// newFixture creates owner1 on planID with one business and one QR code.
func newFixture(t *testing.T, planID string) *fixture {
	t.Helper()
	ctx := context.Background()
	catalog := plans.NewCatalog(plans.NewMemoryStore())
	_, err := catalog.SavePlans(ctx, []plans.PlanInput{
		{ID: "plan_small", Name: "Small", MaxFeedbackMonthly: plans.Int(2)},
		{ID: "plan_free", Name: "Unlimited", MaxFeedbackMonthly: plans.Int(0)},
	}, nil, profile.RoleAdmin)
	require.NoError(t, err)

	profiles := profile.NewMemoryStore()
	require.NoError(t, profiles.Upsert(ctx, &profile.Profile{ID: "owner1", Role: profile.RoleOwner, PlanID: planID}))
	tenants := tenant.NewService(tenant.NewMemoryStore(), catalog, profiles)
	biz, err := tenants.CreateForOwner(ctx, "owner1", planID, tenant.BusinessInput{Name: "Café des Arts"})
	require.NoError(t, err)
	qr, err := tenants.CreateQRCode(ctx, "owner1", planID, biz.ID, "Table 1")
	require.NoError(t, err)

	store := NewMemoryStore()
	return &fixture{store: store, tenants: tenants, svc: NewService(store, tenants), code: qr.Code, bizID: biz.ID}
}

func TestSubmit_RecordsFeedback(t *testing.T) {
	f := newFixture(t, "plan_free")
	ctx := context.Background()

	fb, err := f.svc.Submit(ctx, Submission{
		Code: f.code, Rating: 5, Comment: "  great coffee ", CustomerEmail: " Client@Mail.DZ ",
	})
	require.NoError(t, err)
	assert.Equal(t, f.bizID, fb.BusinessID)
	assert.NotEmpty(t, fb.QRCodeID)
	assert.Equal(t, "great coffee", fb.Comment)
	assert.Equal(t, "client@mail.dz", fb.CustomerEmail)
	assert.False(t, fb.Anonymous())

	list, err := f.svc.List(ctx, "owner1", f.bizID, 10, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fb.ID, list[0].ID)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, "plan_free")
	ctx := context.Background()

	for _, in := range []Submission{
		{Code: f.code, Rating: 0},
		{Code: f.code, Rating: 6},
		{Code: "", Rating: 3},
		{Code: f.code, Rating: 3, CustomerEmail: "not-an-email"},
		{Code: f.code, Rating: 3, CustomerPhone: "12"},
	} {
		_, err := f.svc.Submit(ctx, in)
		var verrs validation.ValidationErrors
		assert.ErrorAs(t, err, &verrs, "%+v", in)
	}

	_, err := f.svc.Submit(ctx, Submission{Code: "nosuchcode", Rating: 3})
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestSubmit_MonthlyQuota(t *testing.T) {
	f := newFixture(t, "plan_small")
	ctx := context.Background()
	f.svc.now = func() time.Time { return time.Date(2024, 3, 30, 12, 0, 0, 0, time.UTC) }

	for i := 0; i < 2; i++ {
		_, err := f.svc.Submit(ctx, Submission{Code: f.code, Rating: 4})
		require.NoError(t, err)
	}
	_, err := f.svc.Submit(ctx, Submission{Code: f.code, Rating: 4})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	f.svc.now = func() time.Time { return time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC) }
	_, err = f.svc.Submit(ctx, Submission{Code: f.code, Rating: 4})
	assert.NoError(t, err)
}

func TestSubmit_ZeroQuotaIsUnlimited(t *testing.T) {
	f := newFixture(t, "plan_free")
	for i := 0; i < 25; i++ {
		_, err := f.svc.Submit(context.Background(), Submission{Code: f.code, Rating: 3})
		require.NoError(t, err)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t, "plan_free")
	ctx := context.Background()
	for _, in := range []Submission{
		{Code: f.code, Rating: 5},
		{Code: f.code, Rating: 4, CustomerName: "Yacine"},
		{Code: f.code, Rating: 4},
	} {
		_, err := f.svc.Submit(ctx, in)
		require.NoError(t, err)
	}

	s, err := f.svc.Summary(ctx, "owner1", f.bizID)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 4.33, s.Average)
	assert.Equal(t, map[int]int{1: 0, 2: 0, 3: 0, 4: 2, 5: 1}, s.Distribution)
	assert.Equal(t, 2, s.Anonymous)

	_, err = f.svc.Summary(ctx, "someone_else", f.bizID)
	assert.ErrorIs(t, err, tenant.ErrNotOwner)
}

func TestMonthStart(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), MonthStart(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), MonthStart(time.Date(2024, 3, 1, 0, 30, 0, 0, loc)))
}
