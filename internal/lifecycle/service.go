package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qrfeedback/platform/internal/identity"
	"github.com/qrfeedback/platform/internal/idgen"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/onboarding"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/retry"
	"github.com/qrfeedback/platform/internal/syncutil"
	"github.com/qrfeedback/platform/internal/tenant"
	"github.com/qrfeedback/platform/internal/traces"
)

// PlanSource looks up plans; *plans.Catalog satisfies it.
type PlanSource interface {
	Get(ctx context.Context, id string) (*plans.Plan, error)
}

// BusinessEnsurer creates the business for an onboarding request at most
// once; *tenant.Service satisfies it.
type BusinessEnsurer interface {
	EnsureForOnboarding(ctx context.Context, requestID string, template tenant.Business) (*tenant.Business, bool, error)
}

// Service runs activations, renewals and subscription queries.
type Service struct {
	requests onboarding.Store
	renewals RenewalStore
	profiles profile.Store
	provider identity.Provider
	tenants  BusinessEnsurer
	plans    PlanSource
	locks    *syncutil.KeyedMutex
	now      func() time.Time

	claimAttempts int
	claimBackoff  time.Duration
}

// NewService creates a lifecycle service.
func NewService(
	requests onboarding.Store,
	renewals RenewalStore,
	profiles profile.Store,
	provider identity.Provider,
	tenants BusinessEnsurer,
	plans PlanSource,
) *Service {
	return &Service{
		requests: requests,
		renewals: renewals,
		profiles: profiles,
		provider: provider,
		tenants:  tenants,
		plans:    plans,
		locks:    syncutil.NewKeyedMutex(),
		now:      time.Now,

		claimAttempts: 3,
		claimBackoff:  250 * time.Millisecond,
	}
}

// ActivateOnboarding turns a pending request into an active owner
// subscription. The steps run in order from the request's persisted cursor:
//
//	dates     fix the subscription period (first period stored wins)
//	profile   activate the owner profile (fatal)
//	claim     set the identity role claim to owner
//	business  create the request's business, at most once
//	link      point the profile at that business
//	finalize  mark the request active (conditional on pending)
//
// claim, business and link failures are logged and skipped; the cursor
// still advances past them.
func (s *Service) ActivateOnboarding(ctx context.Context, requestID string, actingRole profile.Role) (_ *ActivationResult, err error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.ActivateOnboarding",
		traces.Role(string(actingRole)))
	defer func() {
		metrics.ActivationsTotal.WithLabelValues(outcome(err)).Inc()
		traces.End(span, err)
	}()

	if !actingRole.IsAdmin() {
		return nil, ErrUnauthorized
	}

	unlock, err := s.locks.Lock(ctx, "activation:"+requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := s.requests.Get(ctx, requestID)
	if errors.Is(err, onboarding.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load request: %w", err)
	}
	if req.Status != onboarding.StatusPending {
		return nil, ErrAlreadyProcessed
	}
	if req.UserID == "" {
		return nil, ErrNoIdentity
	}
	span.SetAttributes(traces.UserID(req.UserID), traces.PlanID(req.PlanID))
	log := logging.L(ctx).With("request_id", req.ID, "user_id", req.UserID)

	start, end, err := s.fixDates(ctx, req)
	if err != nil {
		return nil, err
	}
	if !req.Step.Reached(onboarding.StepProfile) {
		s.advance(ctx, log, req, onboarding.StepProfile)
	}

	if !req.Step.Reached(onboarding.StepClaim) {
		err := s.profiles.Activate(ctx, req.UserID, profile.Activation{
			FullName: req.OwnerName,
			Email:    req.Email,
			PlanID:   req.PlanID,
			Phone:    req.Phone,
			Start:    start,
			End:      end,
		})
		if err != nil {
			return nil, fmt.Errorf("lifecycle: activate profile: %w", err)
		}
		s.advance(ctx, log, req, onboarding.StepClaim)
	}

	if !req.Step.Reached(onboarding.StepBusiness) {
		if err := s.setOwnerClaim(ctx, req.UserID); err != nil {
			tolerate(log, "claim", err)
		}
		s.advance(ctx, log, req, onboarding.StepBusiness)
	}

	if !req.Step.Reached(onboarding.StepLink) {
		b, created, err := s.tenants.EnsureForOnboarding(ctx, req.ID, tenant.Business{
			Name:     req.BusinessName,
			Category: req.ActivityType,
			OwnerID:  req.UserID,
			PlanID:   req.PlanID,
			Phone:    req.Phone,
			Email:    req.Email,
			Wilaya:   req.Wilaya,
		})
		if err != nil {
			tolerate(log, "business", err)
		} else {
			if created {
				log.Info("business created for onboarding", "business_id", b.ID)
			}
			req.BusinessID = b.ID
			if err := s.requests.SetBusiness(ctx, req.ID, b.ID); err != nil {
				log.Warn("recording business on request failed", "business_id", b.ID, "error", err)
			}
		}
		s.advance(ctx, log, req, onboarding.StepLink)
	}

	if !req.Step.Reached(onboarding.StepFinalize) {
		if req.BusinessID != "" {
			if err := s.profiles.SetBusiness(ctx, req.UserID, req.BusinessID); err != nil {
				tolerate(log, "link", err)
			}
		}
		s.advance(ctx, log, req, onboarding.StepFinalize)
	}

	if err := s.requests.MarkActive(ctx, req.ID, s.now()); err != nil {
		if errors.Is(err, onboarding.ErrNotPending) {
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("lifecycle: mark request active: %w", err)
	}

	log.Info("onboarding activated", "subscription_end", end, "business_id", req.BusinessID)
	return &ActivationResult{
		Message:           "Subscription activated",
		Success:           true,
		SubscriptionStart: start,
		SubscriptionEnd:   end,
		BusinessID:        req.BusinessID,
	}, nil
}

// setOwnerClaim retries provider outages; any other failure is final.
func (s *Service) setOwnerClaim(ctx context.Context, userID string) error {
	return retry.Do(ctx, s.claimAttempts, s.claimBackoff, func() error {
		err := s.provider.SetRoleClaim(ctx, userID, string(profile.RoleOwner))
		if err != nil && !errors.Is(err, identity.ErrUpstream) {
			return retry.Permanent(err)
		}
		return err
	})
}

// fixDates returns the request's subscription period, computing and
// persisting it on first use.
func (s *Service) fixDates(ctx context.Context, req *onboarding.Request) (time.Time, time.Time, error) {
	if req.SubscriptionStart != nil && req.SubscriptionEnd != nil {
		return *req.SubscriptionStart, *req.SubscriptionEnd, nil
	}

	period := plans.Monthly
	plan, err := s.plans.Get(ctx, req.PlanID)
	switch {
	case err == nil:
		period = plan.BillingPeriod
	case errors.Is(err, plans.ErrNotFound):
		logging.L(ctx).Warn("plan missing at activation, using monthly period", "plan_id", req.PlanID)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("lifecycle: load plan: %w", err)
	}

	now := s.now()
	start, end, err := s.requests.SetDates(ctx, req.ID, now, NextPeriodEnd(now, period))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("lifecycle: record subscription period: %w", err)
	}
	req.SubscriptionStart, req.SubscriptionEnd = &start, &end
	return start, end, nil
}

// advance moves the cursor. A failed write only costs a repeat of
// idempotent steps on the next attempt.
func (s *Service) advance(ctx context.Context, log *slog.Logger, req *onboarding.Request, next onboarding.Step) {
	req.Step = next
	if err := s.requests.SetStep(ctx, req.ID, next); err != nil {
		log.Warn("recording activation step failed", "step", string(next), "error", err)
	}
}

func tolerate(log *slog.Logger, step string, err error) {
	metrics.ToleratedStepFailuresTotal.WithLabelValues("activation", step).Inc()
	log.Warn("activation step failed, continuing", "step", step, "error", err)
}

// RequestRenewal files a renewal request for an owner. An empty planID
// renews the owner's current plan.
func (s *Service) RequestRenewal(ctx context.Context, userID, planID string) (*RenewalRequest, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load profile: %w", err)
	}
	if planID == "" {
		planID = p.PlanID
	}
	plan, err := s.plans.Get(ctx, planID)
	if errors.Is(err, plans.ErrNotFound) || (err == nil && !plan.IsActive) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load plan: %w", err)
	}

	r := &RenewalRequest{
		ID:        idgen.WithPrefix(idgen.PrefixRenewal),
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    RenewalPending,
		CreatedAt: s.now(),
	}
	if err := s.renewals.Create(ctx, r); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("renewal requested", "renewal_id", r.ID, "plan_id", r.PlanID)
	return r, nil
}

// ApproveRenewal extends the owner's subscription by one period of the
// requested plan, starting from the later of now and the current end, and
// marks the request approved in the same write.
func (s *Service) ApproveRenewal(ctx context.Context, requestID string, actingRole profile.Role) (_ *RenewalResult, err error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.ApproveRenewal",
		traces.Role(string(actingRole)))
	defer func() {
		metrics.RenewalsTotal.WithLabelValues(outcome(err)).Inc()
		traces.End(span, err)
	}()

	if !actingRole.IsAdmin() {
		return nil, ErrUnauthorized
	}

	unlock, err := s.locks.Lock(ctx, "renewal:"+requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.renewals.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != RenewalPending {
		return nil, ErrAlreadyProcessed
	}
	span.SetAttributes(traces.UserID(r.UserID), traces.PlanID(r.PlanID))

	plan, err := s.plans.Get(ctx, r.PlanID)
	if errors.Is(err, plans.ErrNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load plan: %w", err)
	}

	p, err := s.profiles.Get(ctx, r.UserID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load profile: %w", err)
	}

	now := s.now()
	base := now
	if p.SubscriptionEnd != nil && p.SubscriptionEnd.After(now) {
		base = *p.SubscriptionEnd
	}
	end := NextPeriodEnd(base, plan.BillingPeriod)

	if err := s.renewals.Approve(ctx, r.ID, r.UserID, now, end, now); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	logging.L(ctx).Info("renewal approved", "renewal_id", r.ID, "user_id", r.UserID, "subscription_end", end)
	return &RenewalResult{Message: "Subscription renewed", Success: true, SubscriptionEnd: end}, nil
}

// Renewals lists renewal requests. It fetches f.Limit rows as given; pass
// limit+1 to build a page.
func (s *Service) Renewals(ctx context.Context, f RenewalFilter) ([]*RenewalRequest, error) {
	return s.renewals.List(ctx, f)
}

// Subscription describes an owner's current subscription.
type Subscription struct {
	PlanID            string          `json:"planId"`
	IsActive          bool            `json:"isActive"`
	Valid             bool            `json:"valid"`
	SubscriptionStart *time.Time      `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time      `json:"subscription_end,omitempty"`
	PendingRenewal    *RenewalRequest `json:"pendingRenewal,omitempty"`
}

// SubscriptionFor reports the owner's subscription and any pending renewal.
func (s *Service) SubscriptionFor(ctx context.Context, userID string) (*Subscription, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		PlanID:            p.PlanID,
		IsActive:          p.IsActive,
		Valid:             p.SubscriptionValid(s.now()),
		SubscriptionStart: p.SubscriptionStart,
		SubscriptionEnd:   p.SubscriptionEnd,
	}
	pending, err := s.renewals.List(ctx, RenewalFilter{Status: RenewalPending, UserID: userID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		sub.PendingRenewal = pending[0]
	}
	return sub, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, ErrAlreadyProcessed):
		return "conflict"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrNoIdentity):
		return "invalid"
	default:
		return "error"
	}
}
