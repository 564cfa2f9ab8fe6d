package plans

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/qrfeedback/platform/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore captures what reaches ApplyBatch.
type recordingStore struct {
	*MemoryStore
	deletes [][]string
	err     error
}

func (r *recordingStore) ApplyBatch(ctx context.Context, deleteIDs []string, plans []*Plan) error {
	r.deletes = append(r.deletes, deleteIDs)
	if r.err != nil {
		return r.err
	}
	return r.MemoryStore.ApplyBatch(ctx, deleteIDs, plans)
}

func TestNormalize_CaseInsensitiveDuplicateRejected(t *testing.T) {
	_, err := Normalize([]PlanInput{{Name: "Pro"}, {Name: "pro"}})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duplicate plan name", verr.Message)
	assert.NotEmpty(t, verr.Hint)
}

func TestNormalize_TrimmedNamesCompared(t *testing.T) {
	_, err := Normalize([]PlanInput{{Name: "Basic"}, {Name: "  BASIC "}})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNormalize_MultiByteNameWithinLimit(t *testing.T) {
	name := strings.Repeat("a", 99) + "\u00e9"
	plans, err := Normalize([]PlanInput{{Name: name}, {Name: strings.Repeat("\u0645", maxNameLength)}})
	require.NoError(t, err)
	assert.Equal(t, name, plans[0].Name)
	assert.True(t, utf8.ValidString(plans[1].Name))
	assert.Equal(t, maxNameLength, utf8.RuneCountInString(plans[1].Name))
}

func TestNormalize_OverlongNameRejected(t *testing.T) {
	_, err := Normalize([]PlanInput{{Name: strings.Repeat("a", 99) + "\u00e9 premium"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "plan name too long", verr.Message)
}

func TestNormalize_DuplicatePersistedIDRejected(t *testing.T) {
	_, err := Normalize([]PlanInput{{ID: "plan_pro", Name: "Pro"}, {ID: " plan_pro ", Name: "Pro Plus"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duplicate plan id", verr.Message)

	// Placeholders and blank ids each get a fresh id.
	plans, err := Normalize([]PlanInput{{ID: "new-1", Name: "A"}, {ID: "new-1", Name: "B"}, {Name: "C"}, {Name: "D"}})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, p := range plans {
		ids[p.ID] = true
	}
	assert.Len(t, ids, 4)
}

func TestNormalize_EmptyName(t *testing.T) {
	for _, name := range []string{"", "   "} {
		_, err := Normalize([]PlanInput{{Name: "Pro"}, {Name: name}})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Details, "plan 2")
	}
}

func TestNormalize_LimitsCoercedToMinimums(t *testing.T) {
	plans, err := Normalize([]PlanInput{{
		Name:               "Starter",
		MaxBusinesses:      Int(-4),
		MaxBranches:        Int(0),
		MaxQRCodes:         Int(25),
		MaxFeedbackMonthly: Int(-1),
	}})
	require.NoError(t, err)
	require.Len(t, plans, 1)

	assert.Equal(t, Limits{MaxBusinesses: 1, MaxBranches: 1, MaxQRCodes: 25, MaxFeedbackMonthly: 0}, plans[0].Limits)
}

func TestNormalize_LimitsFromJSON(t *testing.T) {
	var in []PlanInput
	require.NoError(t, json.Unmarshal([]byte(`[{
		"name": "Business",
		"max_businesses": "3",
		"max_branches": "lots",
		"max_qr_codes": 12.7,
		"max_feedback_monthly": null
	}]`), &in))

	plans, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, 3, plans[0].MaxBusinesses)
	assert.Equal(t, 1, plans[0].MaxBranches)
	assert.Equal(t, 12, plans[0].MaxQRCodes)
	assert.Equal(t, 0, plans[0].MaxFeedbackMonthly)
}

func TestNormalize_Defaults(t *testing.T) {
	inactive := false
	plans, err := Normalize([]PlanInput{
		{ID: "new-1", Name: "Pro"},
		{ID: "plan_existing", Name: "Gold", BillingPeriod: " Yearly ", Currency: "eur", IsActive: &inactive},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plans[0].ID, "plan_"))
	assert.Equal(t, Monthly, plans[0].BillingPeriod)
	assert.Equal(t, "DZD", plans[0].Currency)
	assert.True(t, plans[0].IsActive)
	assert.NotNil(t, plans[0].Features)

	assert.Equal(t, "plan_existing", plans[1].ID)
	assert.Equal(t, Yearly, plans[1].BillingPeriod)
	assert.Equal(t, "EUR", plans[1].Currency)
	assert.False(t, plans[1].IsActive)
}

func TestNormalize_RejectsBadPeriodAndPrice(t *testing.T) {
	var verr *ValidationError
	_, err := Normalize([]PlanInput{{Name: "Pro", BillingPeriod: "weekly"}})
	assert.ErrorAs(t, err, &verr)

	_, err = Normalize([]PlanInput{{Name: "Pro", Price: -1}})
	assert.ErrorAs(t, err, &verr)
}

func TestSavePlans_RequiresAdmin(t *testing.T) {
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	cat := NewCatalog(store)

	for _, role := range []profile.Role{"", profile.RoleOwner, profile.RoleManager, profile.RoleStaff} {
		_, err := cat.SavePlans(context.Background(), []PlanInput{{Name: "Pro"}}, nil, role)
		assert.ErrorIs(t, err, ErrForbidden)
	}
	assert.Empty(t, store.deletes)
}

func TestSavePlans_PlaceholderDeletesNeverReachStore(t *testing.T) {
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	cat := NewCatalog(store)

	_, err := cat.SavePlans(context.Background(), nil, []string{"new-1700000000", "new-", ""}, profile.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, store.deletes, 1)
	assert.Empty(t, store.deletes[0])
}

func TestSavePlans_DeletesBeforeUpserts(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(NewMemoryStore())

	saved, err := cat.SavePlans(ctx, []PlanInput{{ID: "new-a", Name: "Pro", Price: 2500}}, nil, profile.RoleAdmin)
	require.NoError(t, err)
	oldID := saved[0].ID

	// Re-using the deleted plan's name in the same save is allowed.
	_, err = cat.SavePlans(ctx, []PlanInput{{ID: "new-b", Name: "PRO", Price: 3000}}, []string{oldID}, profile.RoleSuperadmin)
	require.NoError(t, err)

	list, err := cat.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "PRO", list[0].Name)
	assert.NotEqual(t, oldID, list[0].ID)
}

func TestSavePlans_ExistingNameIsValidationError(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(NewMemoryStore())

	_, err := cat.SavePlans(ctx, []PlanInput{{Name: "Pro"}}, nil, profile.RoleAdmin)
	require.NoError(t, err)

	_, err = cat.SavePlans(ctx, []PlanInput{{Name: "pro"}}, nil, profile.RoleAdmin)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "plan name already exists", verr.Message)
}

func TestSavePlans_ValidationFailureWritesNothing(t *testing.T) {
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	cat := NewCatalog(store)

	_, err := cat.SavePlans(context.Background(), []PlanInput{{Name: "Pro"}, {Name: "PRO"}}, []string{"plan_x"}, profile.RoleAdmin)
	require.Error(t, err)
	assert.Empty(t, store.deletes)
}

func TestSavePlans_StoreFailureWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	cat := NewCatalog(&recordingStore{MemoryStore: NewMemoryStore(), err: boom})

	_, err := cat.SavePlans(context.Background(), []PlanInput{{Name: "Pro"}}, nil, profile.RoleAdmin)
	assert.ErrorIs(t, err, boom)
}

func TestCatalogList_ActiveOnly(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(NewMemoryStore())
	off := false
	_, err := cat.SavePlans(ctx, []PlanInput{
		{Name: "Basic", SortOrder: Int(1)},
		{Name: "Legacy", IsActive: &off, SortOrder: Int(2)},
	}, nil, profile.RoleAdmin)
	require.NoError(t, err)

	active, err := cat.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Basic", active[0].Name)

	_, err = cat.Get(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlexIntJSON(t *testing.T) {
	var f FlexInt
	require.NoError(t, json.Unmarshal([]byte(`" 7 "`), &f))
	assert.Equal(t, 7, f.AtLeast(1))

	require.NoError(t, json.Unmarshal([]byte(`{"nested":true}`), &f))
	assert.Equal(t, 1, f.AtLeast(1))

	b, err := json.Marshal(Int(5))
	require.NoError(t, err)
	assert.Equal(t, "5", string(b))
}
