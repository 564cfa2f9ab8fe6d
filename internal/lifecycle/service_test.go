package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/onboarding"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyRequests fails MarkActive a set number of times.
type flakyRequests struct {
	*onboarding.MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyRequests) MarkActive(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryStore.MarkActive(ctx, id, at)
}

// failingClaims rejects every role claim update.
type failingClaims struct {
	*identity.MemoryProvider
	calls *int
}

func (f failingClaims) SetRoleClaim(context.Context, string, string) error {
	*f.calls++
	return identity.ErrUpstream
}

type fixture struct {
	requests   *flakyRequests
	renewals   *MemoryRenewalStore
	profiles   *profile.MemoryStore
	provider   *identity.MemoryProvider
	businesses *tenant.MemoryStore
	catalog    *plans.Catalog
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := plans.NewCatalog(plans.NewMemoryStore())
	_, err := catalog.SavePlans(context.Background(), []plans.PlanInput{
		{ID: "plan_monthly", Name: "Monthly", BillingPeriod: "monthly"},
		{ID: "plan_yearly", Name: "Yearly", BillingPeriod: "yearly"},
	}, nil, profile.RoleAdmin)
	require.NoError(t, err)

	profiles := profile.NewMemoryStore()
	return &fixture{
		requests:   &flakyRequests{MemoryStore: onboarding.NewMemoryStore()},
		renewals:   NewMemoryRenewalStore(profiles),
		profiles:   profiles,
		provider:   identity.NewMemoryProvider(),
		businesses: tenant.NewMemoryStore(),
		catalog:    catalog,
		now:        time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) service(provider identity.Provider) *Service {
	tenants := tenant.NewService(f.businesses, f.catalog, f.profiles)
	svc := NewService(f.requests, f.renewals, f.profiles, provider, tenants, f.catalog)
	svc.now = func() time.Time { return f.now }
	svc.claimBackoff = time.Millisecond
	return svc
}

// pendingRequest registers an identity and a pending request for it.
func (f *fixture) pendingRequest(t *testing.T, planID string) *onboarding.Request {
	t.Helper()
	ctx := context.Background()
	user, err := f.provider.CreateUser(ctx, identity.CreateUserInput{
		Email: "owner@cafe.dz", Password: "s3cretpass", FullName: "Amina Benali", Role: "owner",
	})
	require.NoError(t, err)
	require.NoError(t, f.profiles.Upsert(ctx, &profile.Profile{
		ID: user.ID, FullName: "Amina Benali", Email: "owner@cafe.dz", Role: profile.RoleOwner, PlanID: planID,
	}))
	req := &onboarding.Request{
		ID:           "onb_1",
		BusinessName: "Café des Arts",
		OwnerName:    "Amina Benali",
		Phone:        "0555123456",
		Wilaya:       "Oran",
		ActivityType: "restaurant",
		Email:        "owner@cafe.dz",
		PlanID:       planID,
		Status:       onboarding.StatusPending,
		UserID:       user.ID,
		Step:         onboarding.StepDates,
		CreatedAt:    f.now.Add(-time.Hour),
	}
	require.NoError(t, f.requests.Create(ctx, req))
	return req
}

func TestActivateOnboarding_Monthly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.pendingRequest(t, "plan_monthly")
	okBefore := testutil.ToFloat64(metrics.ActivationsTotal.WithLabelValues("ok"))

	res, err := f.service(f.provider).ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.ActivationsTotal.WithLabelValues("ok")))
	assert.Equal(t, f.now, res.SubscriptionStart)
	assert.Equal(t, time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC), res.SubscriptionEnd)
	require.NotEmpty(t, res.BusinessID)

	p, err := f.profiles.Get(ctx, req.UserID)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, profile.RoleOwner, p.Role)
	assert.Equal(t, res.BusinessID, p.BusinessID)
	assert.Equal(t, res.SubscriptionEnd, *p.SubscriptionEnd)

	stored, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusActive, stored.Status)
	assert.Equal(t, onboarding.StepDone, stored.Step)

	token, err := f.provider.IssueToken(req.UserID)
	require.NoError(t, err)
	user, err := f.provider.GetUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "owner", user.RoleClaim())
}

func TestActivateOnboarding_Yearly(t *testing.T) {
	f := newFixture(t)
	req := f.pendingRequest(t, "plan_yearly")

	res, err := f.service(f.provider).ActivateOnboarding(context.Background(), req.ID, profile.RoleSuperadmin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), res.SubscriptionEnd)
}

func TestActivateOnboarding_MissingPlanDefaultsToMonthly(t *testing.T) {
	f := newFixture(t)
	req := f.pendingRequest(t, "plan_gone")

	res, err := f.service(f.provider).ActivateOnboarding(context.Background(), req.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC), res.SubscriptionEnd)
}

func TestActivateOnboarding_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	req := f.pendingRequest(t, "plan_monthly")

	for _, role := range []profile.Role{profile.RoleOwner, profile.RoleStaff, ""} {
		_, err := f.service(f.provider).ActivateOnboarding(context.Background(), req.ID, role)
		assert.ErrorIs(t, err, ErrUnauthorized, role)
	}
	stored, err := f.requests.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusPending, stored.Status)
	assert.Nil(t, stored.SubscriptionEnd)
}

func TestActivateOnboarding_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(f.provider).ActivateOnboarding(context.Background(), "onb_missing", profile.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivateOnboarding_NoIdentity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.requests.Create(context.Background(), &onboarding.Request{
		ID: "onb_orphan", PlanID: "plan_monthly", Status: onboarding.StatusPending, Step: onboarding.StepDates,
	}))
	_, err := f.service(f.provider).ActivateOnboarding(context.Background(), "onb_orphan", profile.RoleAdmin)
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestActivateOnboarding_SecondActivationConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.pendingRequest(t, "plan_monthly")
	svc := f.service(f.provider)

	first, err := svc.ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
	require.NoError(t, err)

	conflicts := testutil.ToFloat64(metrics.ActivationsTotal.WithLabelValues("conflict"))
	f.now = f.now.Add(48 * time.Hour)
	_, err = svc.ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, conflicts+1, testutil.ToFloat64(metrics.ActivationsTotal.WithLabelValues("conflict")))

	p, err := f.profiles.Get(ctx, req.UserID)
	require.NoError(t, err)
	assert.Equal(t, first.SubscriptionEnd, *p.SubscriptionEnd)

	owned, err := f.businesses.ListByOwner(ctx, req.UserID)
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestActivateOnboarding_ConcurrentActivationsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.pendingRequest(t, "plan_monthly")
	svc := f.service(f.provider)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyProcessed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, conflicts)
	owned, err := f.businesses.ListByOwner(ctx, req.UserID)
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestActivateOnboarding_ResumesWithoutDuplicatingBusiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.pendingRequest(t, "plan_monthly")
	f.requests.failures = 1
	svc := f.service(f.provider)

	_, err := svc.ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
	require.Error(t, err)

	stored, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, onboarding.StatusPending, stored.Status)
	assert.Equal(t, onboarding.StepFinalize, stored.Step)
	firstEnd := *stored.SubscriptionEnd

	f.now = f.now.Add(time.Hour)
	res, err := svc.ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, firstEnd, res.SubscriptionEnd)
	assert.Equal(t, stored.BusinessID, res.BusinessID)

	owned, err := f.businesses.ListByOwner(ctx, req.UserID)
	require.NoError(t, err)
	assert.Len(t, owned, 1)
}

func TestActivateOnboarding_ClaimFailureTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.pendingRequest(t, "plan_monthly")

	claimFailures := metrics.ToleratedStepFailuresTotal.WithLabelValues("activation", "claim")
	before := testutil.ToFloat64(claimFailures)

	calls := 0
	res, err := f.service(failingClaims{f.provider, &calls}).ActivateOnboarding(ctx, req.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls, "provider outages are retried before the step is skipped")
	assert.Equal(t, before+1, testutil.ToFloat64(claimFailures))

	p, err := f.profiles.Get(ctx, req.UserID)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, res.BusinessID, p.BusinessID)
}

// activeOwner seeds an owner whose subscription ends at end.
func (f *fixture) activeOwner(t *testing.T, id, planID string, end time.Time) {
	t.Helper()
	require.NoError(t, f.profiles.Activate(context.Background(), id, profile.Activation{
		FullName: "Owner", Email: id + "@cafe.dz", PlanID: planID, Start: end.AddDate(0, -1, 0), End: end,
	}))
}

func TestApproveRenewal_ExtendsFromFutureEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	f.activeOwner(t, "owner1", "plan_monthly", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := f.service(f.provider)

	r, err := svc.RequestRenewal(ctx, "owner1", "")
	require.NoError(t, err)
	assert.Equal(t, "plan_monthly", r.PlanID)

	res, err := svc.ApproveRenewal(ctx, r.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), res.SubscriptionEnd)

	p, err := f.profiles.Get(ctx, "owner1")
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, f.now, *p.SubscriptionStart)
	assert.Equal(t, res.SubscriptionEnd, *p.SubscriptionEnd)
}

func TestApproveRenewal_ExpiredRenewsFromNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	f.activeOwner(t, "owner1", "plan_monthly", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	_, err := f.profiles.ExpireDue(ctx, f.now, 0)
	require.NoError(t, err)
	svc := f.service(f.provider)

	r, err := svc.RequestRenewal(ctx, "owner1", "plan_yearly")
	require.NoError(t, err)
	res, err := svc.ApproveRenewal(ctx, r.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), res.SubscriptionEnd)

	p, err := f.profiles.Get(ctx, "owner1")
	require.NoError(t, err)
	assert.True(t, p.IsActive)
}

func TestApproveRenewal_SecondApprovalConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeOwner(t, "owner1", "plan_monthly", f.now.AddDate(0, 0, 10))
	svc := f.service(f.provider)

	r, err := svc.RequestRenewal(ctx, "owner1", "")
	require.NoError(t, err)
	okBefore := testutil.ToFloat64(metrics.RenewalsTotal.WithLabelValues("ok"))
	first, err := svc.ApproveRenewal(ctx, r.ID, profile.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.RenewalsTotal.WithLabelValues("ok")))

	conflicts := testutil.ToFloat64(metrics.RenewalsTotal.WithLabelValues("conflict"))
	_, err = svc.ApproveRenewal(ctx, r.ID, profile.RoleAdmin)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, conflicts+1, testutil.ToFloat64(metrics.RenewalsTotal.WithLabelValues("conflict")))

	p, err := f.profiles.Get(ctx, "owner1")
	require.NoError(t, err)
	assert.Equal(t, first.SubscriptionEnd, *p.SubscriptionEnd)
}

func TestApproveRenewal_ConcurrentApprovalsExtendOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeOwner(t, "owner1", "plan_monthly", f.now.AddDate(0, 0, 10))
	svc := f.service(f.provider)
	r, err := svc.RequestRenewal(ctx, "owner1", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApproveRenewal(ctx, r.ID, profile.RoleAdmin)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyProcessed)
		}
	}
	assert.Equal(t, 1, ok)

	p, err := f.profiles.Get(ctx, "owner1")
	require.NoError(t, err)
	assert.Equal(t, f.now.AddDate(0, 0, 10).AddDate(0, 1, 0), *p.SubscriptionEnd)
}

func TestApproveRenewal_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(f.provider)

	_, err := svc.ApproveRenewal(ctx, "rnw_missing", profile.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ApproveRenewal(ctx, "rnw_missing", profile.RoleOwner)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.renewals.Create(ctx, &RenewalRequest{
		ID: "rnw_gone", UserID: "owner1", PlanID: "plan_gone", CreatedAt: f.now,
	}))
	_, err = svc.ApproveRenewal(ctx, "rnw_gone", profile.RoleAdmin)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestRequestRenewal_OnePendingPerOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeOwner(t, "owner1", "plan_monthly", f.now.AddDate(0, 0, 3))
	svc := f.service(f.provider)

	_, err := svc.RequestRenewal(ctx, "owner1", "")
	require.NoError(t, err)
	_, err = svc.RequestRenewal(ctx, "owner1", "plan_yearly")
	assert.ErrorIs(t, err, ErrRenewalPending)

	_, err = svc.RequestRenewal(ctx, "owner1", "plan_unknown")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = svc.RequestRenewal(ctx, "nobody", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeOwner(t, "owner1", "plan_monthly", f.now.AddDate(0, 0, 3))
	svc := f.service(f.provider)

	sub, err := svc.SubscriptionFor(ctx, "owner1")
	require.NoError(t, err)
	assert.True(t, sub.Valid)
	assert.Nil(t, sub.PendingRenewal)

	r, err := svc.RequestRenewal(ctx, "owner1", "")
	require.NoError(t, err)
	sub, err = svc.SubscriptionFor(ctx, "owner1")
	require.NoError(t, err)
	require.NotNil(t, sub.PendingRenewal)
	assert.Equal(t, r.ID, sub.PendingRenewal.ID)
}
