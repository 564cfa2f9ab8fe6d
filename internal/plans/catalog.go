package plans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/qrfeedback/platform/internal/idgen"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/traces"
	"github.com/qrfeedback/platform/internal/validation"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxNameLength   = 100
	defaultCurrency = "DZD"
)

// Catalog is the plan catalog service.
type Catalog struct {
	store Store
}

// NewCatalog creates a catalog over store.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// Get returns one plan.
func (c *Catalog) Get(ctx context.Context, id string) (*Plan, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return c.store.Get(ctx, id)
}

// List returns the catalog, optionally only plans offered for sale.
func (c *Catalog) List(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return all, nil
	}
	out := make([]*Plan, 0, len(all))
	for _, p := range all {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// SavePlans validates and writes a batch from the admin editor. Deletions
// run before upserts in one store operation. Ids with the "new-" prefix are
// never deleted and are replaced with fresh ids on insert. Nothing is
// written when validation fails.
func (c *Catalog) SavePlans(ctx context.Context, inputs []PlanInput, deletedIDs []string, actingRole profile.Role) (_ []*Plan, err error) {
	ctx, span := traces.StartSpan(ctx, "plans.SavePlans",
		attribute.Int("plans.upserts", len(inputs)),
		attribute.Int("plans.deletes", len(deletedIDs)),
	)
	defer func() {
		metrics.PlanSavesTotal.WithLabelValues(saveResult(err)).Inc()
		traces.End(span, err)
	}()

	if !actingRole.IsAdmin() {
		return nil, ErrForbidden
	}

	plans, err := Normalize(inputs)
	if err != nil {
		return nil, err
	}
	deletes := persistedIDs(deletedIDs)

	if err := c.store.ApplyBatch(ctx, deletes, plans); err != nil {
		if errors.Is(err, ErrNameTaken) {
			return nil, &ValidationError{
				Message: "plan name already exists",
				Details: "one of the submitted names matches an existing plan",
				Hint:    "Plan names must be unique ignoring case. Rename the plan or delete the existing one in the same save.",
			}
		}
		return nil, fmt.Errorf("plans: save batch: %w", err)
	}

	logging.L(ctx).Info("plan catalog saved", "upserts", len(plans), "deletes", len(deletes))
	return plans, nil
}

// Normalize validates a batch and converts it into plans ready to store.
// Limits are coerced to their minimums instead of being rejected.
func Normalize(inputs []PlanInput) ([]*Plan, error) {
	seen := make(map[string]string, len(inputs))
	seenIDs := make(map[string]bool, len(inputs))
	out := make([]*Plan, 0, len(inputs))

	for i, in := range inputs {
		if n := utf8.RuneCountInString(strings.TrimSpace(in.Name)); n > maxNameLength {
			return nil, &ValidationError{
				Message: "plan name too long",
				Details: fmt.Sprintf("plan %d has a %d character name", i+1, n),
				Hint:    fmt.Sprintf("Keep plan names to %d characters or fewer.", maxNameLength),
			}
		}
		name := validation.SanitizeString(in.Name, maxNameLength)
		if name == "" {
			return nil, &ValidationError{
				Message: "plan name is required",
				Details: fmt.Sprintf("plan %d has an empty name", i+1),
				Hint:    "Give every plan a name.",
			}
		}
		key := strings.ToLower(name)
		if prev, dup := seen[key]; dup {
			return nil, &ValidationError{
				Message: "duplicate plan name",
				Details: fmt.Sprintf("%q and %q are the same name", prev, name),
				Hint:    "Plan names must be unique ignoring case.",
			}
		}
		seen[key] = name

		period, err := parsePeriod(in.BillingPeriod)
		if err != nil {
			return nil, &ValidationError{
				Message: "invalid billing period",
				Details: fmt.Sprintf("plan %q: %q", name, in.BillingPeriod),
				Hint:    "Use monthly or yearly.",
			}
		}
		if in.Price < 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
			return nil, &ValidationError{
				Message: "invalid price",
				Details: fmt.Sprintf("plan %q has price %v", name, in.Price),
				Hint:    "Price must be zero or more.",
			}
		}

		id := strings.TrimSpace(in.ID)
		if IsPlaceholder(id) {
			id = idgen.WithPrefix(idgen.PrefixPlan)
		} else if seenIDs[id] {
			return nil, &ValidationError{
				Message: "duplicate plan id",
				Details: fmt.Sprintf("plan %q appears more than once", id),
				Hint:    "Submit each existing plan once per save.",
			}
		}
		seenIDs[id] = true
		currency := strings.ToUpper(strings.TrimSpace(in.Currency))
		if currency == "" {
			currency = defaultCurrency
		}
		features := in.Features
		if features == nil {
			features = map[string]bool{}
		}
		active := true
		if in.IsActive != nil {
			active = *in.IsActive
		}

		out = append(out, &Plan{
			ID:            id,
			Name:          name,
			Price:         in.Price,
			Currency:      currency,
			BillingPeriod: period,
			Features:      features,
			Limits: Limits{
				MaxBusinesses:      in.MaxBusinesses.AtLeast(MinBusinesses),
				MaxBranches:        in.MaxBranches.AtLeast(MinBranches),
				MaxQRCodes:         in.MaxQRCodes.AtLeast(MinQRCodes),
				MaxFeedbackMonthly: in.MaxFeedbackMonthly.AtLeast(MinFeedbackMonthly),
			},
			IsActive:  active,
			SortOrder: in.SortOrder.AtLeast(0),
		})
	}
	return out, nil
}

func parsePeriod(s string) (BillingPeriod, error) {
	switch BillingPeriod(strings.ToLower(strings.TrimSpace(s))) {
	case "", Monthly:
		return Monthly, nil
	case Yearly:
		return Yearly, nil
	}
	return "", errors.New("unknown billing period")
}

// persistedIDs drops placeholders and blanks from a delete list.
func persistedIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !IsPlaceholder(id) {
			out = append(out, id)
		}
	}
	return out
}

func saveResult(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return "error"
}
