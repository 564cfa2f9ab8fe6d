package onboarding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingProfiles rejects every upsert.
type failingProfiles struct {
	*profile.MemoryStore
}

func (failingProfiles) Upsert(context.Context, *profile.Profile) error {
	return errors.New("profiles table unavailable")
}

// failingRequests rejects every insert.
type failingRequests struct {
	*MemoryStore
}

func (failingRequests) Create(context.Context, *Request) error {
	return errors.New("insert failed")
}

type fixture struct {
	store    *MemoryStore
	provider *identity.MemoryProvider
	profiles *profile.MemoryStore
	catalog  *plans.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := plans.NewCatalog(plans.NewMemoryStore())
	off := false
	_, err := catalog.SavePlans(context.Background(), []plans.PlanInput{
		{ID: "plan_basic", Name: "Basic"},
		{ID: "plan_old", Name: "Old", IsActive: &off},
	}, nil, profile.RoleAdmin)
	require.NoError(t, err)
	return &fixture{
		store:    NewMemoryStore(),
		provider: identity.NewMemoryProvider(),
		profiles: profile.NewMemoryStore(),
		catalog:  catalog,
	}
}

func (f *fixture) service() *Service {
	return NewService(f.store, f.provider, f.profiles, f.catalog)
}

func validRegistration() Registration {
	return Registration{
		Email:        " Owner@Cafe.DZ ",
		Password:     "s3cretpass",
		OwnerName:    "Amina Benali",
		BusinessName: "Café des Arts",
		Phone:        "+213 555 12 34 56",
		Wilaya:       "Oran",
		ActivityType: "restaurant",
		PlanID:       "plan_basic",
	}
}

func TestSubmitRegistration_CreatesIdentityProfileAndRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service().SubmitRegistration(ctx, validRegistration())
	require.NoError(t, err)
	assert.False(t, res.ProfileMissing)

	// The identity can sign in and carries the owner claim.
	sess, err := f.provider.SignIn(ctx, "owner@cafe.dz", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, res.UserID, sess.User.ID)
	assert.Equal(t, "owner", sess.User.RoleClaim())

	p, err := f.profiles.Get(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleOwner, p.Role)
	assert.False(t, p.IsActive)
	assert.Equal(t, "plan_basic", p.PlanID)
	assert.Nil(t, p.SubscriptionEnd)

	req, err := f.store.Get(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, StepDates, req.Step)
	assert.Equal(t, res.UserID, req.UserID)
	assert.Equal(t, "owner@cafe.dz", req.Email)
	assert.Equal(t, "Oran", req.Wilaya)
}

func TestSubmitRegistration_MultiByteNamesKeptIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := validRegistration()
	reg.BusinessName = strings.Repeat("\u0645", 200)
	reg.OwnerName = strings.Repeat("a", 199) + "\u00e9"

	res, err := f.service().SubmitRegistration(ctx, reg)
	require.NoError(t, err)

	req, err := f.store.Get(ctx, res.RequestID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(req.BusinessName))
	assert.Equal(t, 200, utf8.RuneCountInString(req.BusinessName))
	assert.Equal(t, reg.OwnerName, req.OwnerName)
}

func TestSubmitRegistration_ValidationBeforeAnyMutation(t *testing.T) {
	cases := map[string]func(*Registration){
		"bad email":      func(r *Registration) { r.Email = "nope" },
		"short password": func(r *Registration) { r.Password = "short" },
		"no owner":       func(r *Registration) { r.OwnerName = "" },
		"no business":    func(r *Registration) { r.BusinessName = "  " },
		"bad phone":      func(r *Registration) { r.Phone = "call me" },
		"long business":  func(r *Registration) { r.BusinessName = strings.Repeat("\u0645", 201) },
		"long wilaya":    func(r *Registration) { r.Wilaya = strings.Repeat("\u00e9", 101) },
		"unknown plan":   func(r *Registration) { r.PlanID = "plan_missing" },
		"retired plan":   func(r *Registration) { r.PlanID = "plan_old" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			reg := validRegistration()
			mutate(&reg)

			_, err := f.service().SubmitRegistration(context.Background(), reg)
			var verrs validation.ValidationErrors
			require.ErrorAs(t, err, &verrs)

			_, err = f.provider.SignIn(context.Background(), "owner@cafe.dz", "s3cretpass")
			assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
		})
	}
}

func TestSubmitRegistration_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	_, err := svc.SubmitRegistration(context.Background(), validRegistration())
	require.NoError(t, err)

	_, err = svc.SubmitRegistration(context.Background(), validRegistration())
	assert.ErrorIs(t, err, identity.ErrEmailTaken)

	pending, err := f.store.List(context.Background(), ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSubmitRegistration_ProfileFailureTolerated(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, f.provider, failingProfiles{f.profiles}, f.catalog)

	res, err := svc.SubmitRegistration(context.Background(), validRegistration())
	require.NoError(t, err)
	assert.True(t, res.ProfileMissing)
	assert.NotEmpty(t, res.RequestID)

	// The admin queue shows the gap.
	items, err := f.service().Queue(context.Background(), ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].ProfileMissing)
}

func TestSubmitRegistration_RequestInsertFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingRequests{f.store}, f.provider, f.profiles, f.catalog)

	_, err := svc.SubmitRegistration(context.Background(), validRegistration())
	require.Error(t, err)

	// The identity is not rolled back.
	_, err = f.provider.SignIn(context.Background(), "owner@cafe.dz", "s3cretpass")
	assert.NoError(t, err)
}
