package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProfiles records lookups so tests can assert the store was not consulted.
type countingProfiles struct {
	*profile.MemoryStore
	gets int
	err  error
}

func (c *countingProfiles) Get(ctx context.Context, id string) (*profile.Profile, error) {
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.MemoryStore.Get(ctx, id)
}

type downProvider struct {
	*identity.MemoryProvider
}

func (downProvider) GetUser(context.Context, string) (*identity.User, error) {
	return nil, identity.ErrUpstream
}

type fixture struct {
	provider *identity.MemoryProvider
	profiles *countingProfiles
	resolver *Resolver
}

func newFixture() *fixture {
	f := &fixture{
		provider: identity.NewMemoryProvider(),
		profiles: &countingProfiles{MemoryStore: profile.NewMemoryStore()},
	}
	f.resolver = NewResolver(f.provider, f.profiles)
	return f
}

// user creates an identity with the given role claim and returns a session
// token. Owner is tagged in user metadata as signup does; anything else is
// granted through app metadata.
func (f *fixture) user(t *testing.T, email, claim string) (string, string) {
	t.Helper()
	in := identity.CreateUserInput{Email: email, Password: "password1"}
	if claim == identity.OwnerRole {
		in.Role = claim
	}
	u, err := f.provider.CreateUser(context.Background(), in)
	require.NoError(t, err)
	if claim != "" && claim != identity.OwnerRole {
		require.NoError(t, f.provider.SetAppRole(u.ID, claim))
	}
	token, err := f.provider.IssueToken(u.ID)
	require.NoError(t, err)
	return u.ID, token
}

func TestResolve_MissingOrInvalidToken(t *testing.T) {
	f := newFixture()

	_, err := f.resolver.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.resolver.Resolve(context.Background(), "not-a-session")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolve_ClaimWinsWithoutStoreLookup(t *testing.T) {
	f := newFixture()
	_, token := f.user(t, "admin@qrf.dz", "admin")

	p, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleAdmin, p.Role)
	assert.Equal(t, RoleSourceClaim, p.RoleSource)
	assert.Equal(t, 0, f.profiles.gets)
}

func TestResolve_SelfAssignedRoleIgnored(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	u, err := f.provider.CreateUser(ctx, identity.CreateUserInput{Email: "sneaky@cafe.dz", Password: "password1", Role: "superadmin"})
	require.NoError(t, err)
	token, err := f.provider.IssueToken(u.ID)
	require.NoError(t, err)
	require.NoError(t, f.profiles.Upsert(ctx, &profile.Profile{ID: u.ID, Role: profile.RoleOwner}))

	p, err := f.resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleOwner, p.Role)
	assert.Equal(t, RoleSourceProfile, p.RoleSource)
	assert.False(t, p.HasRole(profile.RoleAdmin, profile.RoleSuperadmin))
}

func TestResolve_FallsBackToProfile(t *testing.T) {
	f := newFixture()
	id, token := f.user(t, "super@qrf.dz", "")
	require.NoError(t, f.profiles.Upsert(context.Background(), &profile.Profile{ID: id, Role: profile.RoleSuperadmin}))

	p, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleSuperadmin, p.Role)
	assert.Equal(t, RoleSourceProfile, p.RoleSource)
}

func TestResolve_UnknownClaimFallsBackToProfile(t *testing.T) {
	f := newFixture()
	id, token := f.user(t, "staff@qrf.dz", "customer")
	require.NoError(t, f.profiles.Upsert(context.Background(), &profile.Profile{ID: id, Role: profile.RoleStaff}))

	p, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleStaff, p.Role)
}

func TestResolve_RoleUnresolved(t *testing.T) {
	f := newFixture()
	id, token := f.user(t, "ghost@qrf.dz", "")

	p, err := f.resolver.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrRoleUnresolved)
	require.NotNil(t, p)
	assert.Equal(t, id, p.UserID)
	assert.Empty(t, p.Role)
}

func TestResolve_OwnerCarriesSubscription(t *testing.T) {
	f := newFixture()
	id, token := f.user(t, "owner@cafe.dz", "owner")
	end := time.Now().Add(72 * time.Hour)
	require.NoError(t, f.profiles.Activate(context.Background(), id, profile.Activation{PlanID: "plan_pro", Start: time.Now(), End: end}))
	require.NoError(t, f.profiles.SetBusiness(context.Background(), id, "biz_1"))

	p, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleOwner, p.Role)
	assert.True(t, p.IsActive)
	assert.True(t, p.SubscriptionValid(time.Now()))
	assert.Equal(t, "plan_pro", p.PlanID)
	assert.Equal(t, "biz_1", p.BusinessID)
}

func TestResolve_OwnerWithoutProfileIsInactive(t *testing.T) {
	f := newFixture()
	_, token := f.user(t, "pending@cafe.dz", "owner")

	p, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleOwner, p.Role)
	assert.False(t, p.SubscriptionValid(time.Now()))
}

func TestResolve_UpstreamFailure(t *testing.T) {
	f := newFixture()
	r := NewResolver(downProvider{f.provider}, f.profiles)

	_, err := r.Resolve(context.Background(), "token")
	assert.ErrorIs(t, err, identity.ErrUpstream)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestResolve_ProfileStoreFailure(t *testing.T) {
	f := newFixture()
	_, token := f.user(t, "x@qrf.dz", "")
	f.profiles.err = errors.New("connection reset")

	_, err := f.resolver.Resolve(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRoleUnresolved)
}

func TestPrincipalHasRole(t *testing.T) {
	var none *Principal
	assert.False(t, none.HasRole(profile.RoleOwner))
	assert.False(t, (&Principal{}).HasRole(profile.RoleOwner))
	assert.True(t, (&Principal{Role: profile.RoleAdmin}).HasRole(profile.RoleAdmin, profile.RoleSuperadmin))
}
