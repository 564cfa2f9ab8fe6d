package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/idgen"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/traces"
	"github.com/qrfeedback/platform/internal/validation"
	"go.opentelemetry.io/otel/attribute"
)

// PlanSource looks up plans; *plans.Catalog satisfies it.
type PlanSource interface {
	Get(ctx context.Context, id string) (*plans.Plan, error)
}

// Registration is a signup form submission.
type Registration struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	OwnerName    string `json:"ownerName"`
	BusinessName string `json:"businessName"`
	Phone        string `json:"phone"`
	Wilaya       string `json:"wilaya"`
	ActivityType string `json:"activityType"`
	PlanID       string `json:"planId"`
}

// Result identifies what a registration created.
type Result struct {
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
	// ProfileMissing is set when the profile upsert failed and was tolerated.
	ProfileMissing bool `json:"profileMissing,omitempty"`
}

// QueueItem is a request as shown in the admin queue.
type QueueItem struct {
	*Request
	ProfileMissing bool `json:"profileMissing"`
}

// Service runs the registration workflow.
type Service struct {
	store    Store
	provider identity.Provider
	profiles profile.Store
	plans    PlanSource
	now      func() time.Time
}

// NewService creates an onboarding service.
func NewService(store Store, provider identity.Provider, profiles profile.Store, plans PlanSource) *Service {
	return &Service{store: store, provider: provider, profiles: profiles, plans: plans, now: time.Now}
}

// SubmitRegistration validates the form, then creates the identity, the
// owner profile and the pending request in that order. Identity creation
// and the request insert are fatal; a failed profile upsert is logged and
// surfaced to admins through the queue. Nothing already created is rolled
// back.
func (s *Service) SubmitRegistration(ctx context.Context, reg Registration) (_ *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "onboarding.SubmitRegistration")
	defer func() {
		metrics.RegistrationsTotal.WithLabelValues(registrationResult(err)).Inc()
		traces.End(span, err)
	}()

	reg = normalize(reg)
	if err := s.validate(ctx, reg); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.PlanID(reg.PlanID))

	user, err := s.provider.CreateUser(ctx, identity.CreateUserInput{
		Email:          reg.Email,
		Password:       reg.Password,
		FullName:       reg.OwnerName,
		Role:           string(profile.RoleOwner),
		EmailConfirmed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("onboarding: create identity: %w", err)
	}
	span.SetAttributes(traces.UserID(user.ID))
	log := logging.L(ctx).With("user_id", user.ID)

	res := &Result{UserID: user.ID}
	err = s.profiles.Upsert(ctx, &profile.Profile{
		ID:       user.ID,
		FullName: reg.OwnerName,
		Email:    reg.Email,
		Role:     profile.RoleOwner,
		IsActive: false,
		PlanID:   reg.PlanID,
		Phone:    reg.Phone,
	})
	if err != nil {
		res.ProfileMissing = true
		metrics.ToleratedStepFailuresTotal.WithLabelValues("registration", "profile").Inc()
		log.Warn("registration step failed, continuing", "step", "profile", "error", err)
	}

	req := &Request{
		ID:           idgen.WithPrefix(idgen.PrefixOnboarding),
		BusinessName: reg.BusinessName,
		OwnerName:    reg.OwnerName,
		Phone:        reg.Phone,
		Wilaya:       reg.Wilaya,
		ActivityType: reg.ActivityType,
		Email:        reg.Email,
		PlanID:       reg.PlanID,
		Status:       StatusPending,
		UserID:       user.ID,
		Step:         StepDates,
		CreatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, req); err != nil {
		log.Error("registration request insert failed after identity creation", "error", err)
		return nil, fmt.Errorf("onboarding: record request: %w", err)
	}
	span.SetAttributes(attribute.String("onboarding.request_id", req.ID))
	res.RequestID = req.ID

	log.Info("registration submitted", "request_id", req.ID, "plan_id", reg.PlanID)
	return res, nil
}

func (s *Service) validate(ctx context.Context, reg Registration) error {
	errs := validation.Validate(
		validation.Required("email", reg.Email),
		validation.ValidEmail("email", reg.Email),
		validation.MinLength("password", reg.Password, validation.MinPasswordLength),
		validation.Required("ownerName", reg.OwnerName),
		validation.MaxLength("ownerName", reg.OwnerName, 200),
		validation.Required("businessName", reg.BusinessName),
		validation.MaxLength("businessName", reg.BusinessName, 200),
		validation.Required("phone", reg.Phone),
		validation.ValidPhone("phone", reg.Phone),
		validation.MaxLength("wilaya", reg.Wilaya, 100),
		validation.MaxLength("activityType", reg.ActivityType, 100),
		validation.Required("planId", reg.PlanID),
	)
	if len(errs) > 0 {
		return errs
	}

	plan, err := s.plans.Get(ctx, reg.PlanID)
	if errors.Is(err, plans.ErrNotFound) {
		return validation.ValidationErrors{{Field: "planId", Message: "unknown plan"}}
	}
	if err != nil {
		return fmt.Errorf("onboarding: load plan: %w", err)
	}
	if !plan.IsActive {
		return validation.ValidationErrors{{Field: "planId", Message: "plan is not available"}}
	}
	return nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// Queue lists requests for admins, flagging owners whose profile row is
// missing. It fetches limit+1 rows so the caller can build a page.
func (s *Service) Queue(ctx context.Context, f ListFilter) ([]*QueueItem, error) {
	reqs, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*QueueItem, 0, len(reqs))
	for _, r := range reqs {
		item := &QueueItem{Request: r}
		if r.UserID != "" && r.Status == StatusPending {
			if _, err := s.profiles.Get(ctx, r.UserID); errors.Is(err, profile.ErrNotFound) {
				item.ProfileMissing = true
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func normalize(reg Registration) Registration {
	reg.Email = validation.NormalizeEmail(reg.Email)
	reg.OwnerName = validation.SanitizeString(reg.OwnerName, validation.MaxStringLength)
	reg.BusinessName = validation.SanitizeString(reg.BusinessName, validation.MaxStringLength)
	reg.Phone = strings.TrimSpace(reg.Phone)
	reg.Wilaya = validation.SanitizeString(reg.Wilaya, 100)
	reg.ActivityType = validation.SanitizeString(reg.ActivityType, 100)
	reg.PlanID = strings.TrimSpace(reg.PlanID)
	return reg
}

func registrationResult(err error) string {
	var verrs validation.ValidationErrors
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verrs):
		return "invalid"
	case errors.Is(err, identity.ErrEmailTaken):
		return "conflict"
	}
	return "error"
}
