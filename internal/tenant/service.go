package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qrfeedback/platform/internal/idgen"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/profile"
	"github.com/qrfeedback/platform/internal/traces"
	"github.com/qrfeedback/platform/internal/validation"
)

// codeAttempts bounds retries when a generated QR code collides.
const codeAttempts = 3

// PlanSource looks up plans; *plans.Catalog satisfies it.
type PlanSource interface {
	Get(ctx context.Context, id string) (*plans.Plan, error)
}

// BusinessInput is the editable part of a Business.
type BusinessInput struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Wilaya   string `json:"wilaya"`
}

func (in BusinessInput) validate() error {
	if errs := validation.Validate(
		validation.Required("name", in.Name),
		validation.MaxLength("name", in.Name, 200),
		validation.MaxLength("category", in.Category, 100),
		validation.MaxLength("address", in.Address, 500),
		validation.MaxLength("wilaya", in.Wilaya, 100),
		validation.ValidEmail("email", in.Email),
		validation.ValidPhone("phone", in.Phone),
	); len(errs) > 0 {
		return errs
	}
	return nil
}

// Service implements business and QR code management on top of a Store.
type Service struct {
	store    Store
	plans    PlanSource
	profiles profile.Store
	now      func() time.Time
}

// NewService creates a tenant service.
func NewService(store Store, plans PlanSource, profiles profile.Store) *Service {
	return &Service{store: store, plans: plans, profiles: profiles, now: time.Now}
}

// LimitsFor returns the limits of planID. Owners without a known plan get
// the minimum limits.
func (s *Service) LimitsFor(ctx context.Context, planID string) (plans.Limits, error) {
	minimum := plans.Limits{
		MaxBusinesses:      plans.MinBusinesses,
		MaxBranches:        plans.MinBranches,
		MaxQRCodes:         plans.MinQRCodes,
		MaxFeedbackMonthly: plans.MinFeedbackMonthly,
	}
	if planID == "" {
		return minimum, nil
	}
	p, err := s.plans.Get(ctx, planID)
	if errors.Is(err, plans.ErrNotFound) {
		return minimum, nil
	}
	if err != nil {
		return plans.Limits{}, fmt.Errorf("tenant: load plan: %w", err)
	}
	return p.Limits, nil
}

// EnsureForOnboarding returns the business created for an onboarding
// request, creating it from template when none exists yet. created is false
// when an earlier or concurrent call already made it.
func (s *Service) EnsureForOnboarding(ctx context.Context, requestID string, template Business) (_ *Business, created bool, err error) {
	ctx, span := traces.StartSpan(ctx, "tenant.EnsureForOnboarding")
	defer func() { traces.End(span, err) }()

	existing, err := s.store.GetByOnboardingRequest(ctx, requestID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrBusinessNotFound) {
		return nil, false, err
	}

	b := template
	b.ID = idgen.WithPrefix(idgen.PrefixBusiness)
	b.OnboardingRequestID = requestID
	b.CreatedAt = s.now()
	if err := s.store.CreateBusiness(ctx, &b); err != nil {
		if errors.Is(err, ErrDuplicateOnboarding) {
			existing, err := s.store.GetByOnboardingRequest(ctx, requestID)
			return existing, false, err
		}
		return nil, false, err
	}
	return &b, true, nil
}

// CreateForOwner creates a business for an owner within their plan's
// max_businesses limit.
func (s *Service) CreateForOwner(ctx context.Context, ownerID, planID string, in BusinessInput) (*Business, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	limits, err := s.LimitsFor(ctx, planID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if count >= limits.MaxBusinesses {
		return nil, &LimitError{Limit: "max_businesses", Max: limits.MaxBusinesses}
	}

	b := s.newBusiness(ownerID, planID, in)
	if err := s.store.CreateBusiness(ctx, b); err != nil {
		return nil, err
	}
	s.linkPrimary(ctx, ownerID, b.ID)
	return b, nil
}

// CreateByAdmin creates a business for an existing owner profile without
// applying plan limits.
func (s *Service) CreateByAdmin(ctx context.Context, ownerID string, in BusinessInput) (*Business, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	owner, err := s.profiles.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	b := s.newBusiness(owner.ID, owner.PlanID, in)
	if err := s.store.CreateBusiness(ctx, b); err != nil {
		return nil, err
	}
	if owner.BusinessID == "" {
		s.linkPrimary(ctx, owner.ID, b.ID)
	}
	return b, nil
}

// OwnedBusiness returns the business if ownerID owns it.
func (s *Service) OwnedBusiness(ctx context.Context, ownerID, businessID string) (*Business, error) {
	b, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return b, nil
}

// ListForOwner returns the owner's businesses, oldest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]*Business, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// CreateQRCode issues a new code for an owned business within the plan's
// max_qr_codes limit, counted per business.
func (s *Service) CreateQRCode(ctx context.Context, ownerID, planID, businessID, label string) (*QRCode, error) {
	if _, err := s.OwnedBusiness(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	limits, err := s.LimitsFor(ctx, planID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountQRCodes(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if count >= limits.MaxQRCodes {
		return nil, &LimitError{Limit: "max_qr_codes", Max: limits.MaxQRCodes}
	}

	q := &QRCode{
		ID:         idgen.WithPrefix(idgen.PrefixQRCode),
		BusinessID: businessID,
		Label:      validation.SanitizeString(label, 100),
		CreatedAt:  s.now(),
	}
	for attempt := 0; attempt < codeAttempts; attempt++ {
		q.Code = idgen.Code()
		err = s.store.CreateQRCode(ctx, q)
		if !errors.Is(err, ErrCodeTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListQRCodes returns the codes of an owned business.
func (s *Service) ListQRCodes(ctx context.Context, ownerID, businessID string) ([]*QRCode, error) {
	if _, err := s.OwnedBusiness(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	return s.store.ListQRCodes(ctx, businessID)
}

// Resolve maps a scanned code to its QR code and business.
func (s *Service) Resolve(ctx context.Context, code string) (*QRCode, *Business, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, nil, ErrQRCodeNotFound
	}
	q, err := s.store.GetQRCodeByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.store.GetBusiness(ctx, q.BusinessID)
	if err != nil {
		return nil, nil, err
	}
	return q, b, nil
}

// PublicCard returns what a customer sees for a code.
func (s *Service) PublicCard(ctx context.Context, code string) (*PublicCard, error) {
	q, b, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	return &PublicCard{BusinessID: b.ID, Name: b.Name, Category: b.Category, Code: q.Code, Label: q.Label}, nil
}

func (s *Service) newBusiness(ownerID, planID string, in BusinessInput) *Business {
	return &Business{
		ID:        idgen.WithPrefix(idgen.PrefixBusiness),
		Name:      validation.SanitizeString(in.Name, 200),
		Category:  validation.SanitizeString(in.Category, 100),
		OwnerID:   ownerID,
		PlanID:    planID,
		Phone:     strings.TrimSpace(in.Phone),
		Email:     validation.NormalizeEmail(in.Email),
		Address:   validation.SanitizeString(in.Address, 500),
		Wilaya:    validation.SanitizeString(in.Wilaya, 100),
		CreatedAt: s.now(),
	}
}

// linkPrimary points the owner's profile at businessID when it has none.
// Failure leaves the business unlinked and is only logged.
func (s *Service) linkPrimary(ctx context.Context, ownerID, businessID string) {
	p, err := s.profiles.Get(ctx, ownerID)
	if err != nil || p.BusinessID != "" {
		return
	}
	if err := s.profiles.SetBusiness(ctx, ownerID, businessID); err != nil {
		logging.L(ctx).Warn("link business to owner failed",
			"owner_id", ownerID, "business_id", businessID, "error", err)
	}
}
