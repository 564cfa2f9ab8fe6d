package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qrfeedback/platform/internal/idgen"
	"github.com/qrfeedback/platform/internal/logging"
	"github.com/qrfeedback/platform/internal/metrics"
	"github.com/qrfeedback/platform/internal/pagination"
	"github.com/qrfeedback/platform/internal/plans"
	"github.com/qrfeedback/platform/internal/tenant"
	"github.com/qrfeedback/platform/internal/traces"
	"github.com/qrfeedback/platform/internal/validation"
	"go.opentelemetry.io/otel/attribute"
)

// MaxCommentLength bounds the free-text comment.
const MaxCommentLength = 2000

// Tenants resolves codes and ownership; *tenant.Service satisfies it.
type Tenants interface {
	Resolve(ctx context.Context, code string) (*tenant.QRCode, *tenant.Business, error)
	OwnedBusiness(ctx context.Context, ownerID, businessID string) (*tenant.Business, error)
	LimitsFor(ctx context.Context, planID string) (plans.Limits, error)
}

// Submission is the public feedback form.
type Submission struct {
	Code          string `json:"code"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	CustomerPhone string `json:"customerPhone"`
}

// Service accepts and reports feedback.
type Service struct {
	store   Store
	tenants Tenants
	now     func() time.Time
}

// NewService creates a feedback service.
func NewService(store Store, tenants Tenants) *Service {
	return &Service{store: store, tenants: tenants, now: time.Now}
}

// Submit records a rating for the business behind the scanned code, within
// the business plan's monthly quota.
func (s *Service) Submit(ctx context.Context, in Submission) (_ *Feedback, err error) {
	ctx, span := traces.StartSpan(ctx, "feedback.Submit")
	defer func() { traces.End(span, err) }()

	in.Comment = validation.SanitizeString(in.Comment, validation.MaxStringLength)
	in.CustomerName = validation.SanitizeString(in.CustomerName, 200)
	in.CustomerEmail = validation.NormalizeEmail(in.CustomerEmail)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)

	errs := validation.Validate(
		validation.Required("code", in.Code),
		validation.IntRange("rating", in.Rating, 1, 5),
		validation.MaxLength("comment", in.Comment, MaxCommentLength),
		validation.ValidEmail("customerEmail", in.CustomerEmail),
		validation.ValidPhone("customerPhone", in.CustomerPhone),
	)
	if len(errs) > 0 {
		return nil, errs
	}

	qr, biz, err := s.tenants.Resolve(ctx, in.Code)
	if errors.Is(err, tenant.ErrQRCodeNotFound) || errors.Is(err, tenant.ErrBusinessNotFound) {
		return nil, ErrUnknownCode
	}
	if err != nil {
		return nil, fmt.Errorf("feedback: resolve code: %w", err)
	}
	span.SetAttributes(attribute.String("business.id", biz.ID))

	limits, err := s.tenants.LimitsFor(ctx, biz.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	f := &Feedback{
		ID:            idgen.WithPrefix(idgen.PrefixFeedback),
		BusinessID:    biz.ID,
		QRCodeID:      qr.ID,
		Rating:        in.Rating,
		Comment:       in.Comment,
		CustomerName:  in.CustomerName,
		CustomerEmail: in.CustomerEmail,
		CustomerPhone: in.CustomerPhone,
		CreatedAt:     now,
	}
	quota := Quota{Since: MonthStart(now), Max: limits.MaxFeedbackMonthly}
	if limits.FeedbackUnlimited() {
		quota.Max = 0
	}
	if err := s.store.Create(ctx, f, quota); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			logging.L(ctx).Info("feedback quota reached", "business_id", biz.ID, "max", quota.Max)
		}
		return nil, err
	}

	kind := "identified"
	if f.Anonymous() {
		kind = "anonymous"
	}
	metrics.FeedbackSubmittedTotal.WithLabelValues(kind).Inc()
	return f, nil
}

// List returns a page of an owned business's feedback. It fetches limit+1
// rows so the caller can build a page.
func (s *Service) List(ctx context.Context, ownerID, businessID string, limit int, cursor *pagination.Cursor) ([]*Feedback, error) {
	if _, err := s.tenants.OwnedBusiness(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, businessID, limit+1, cursor)
}

// Summary aggregates an owned business's feedback.
func (s *Service) Summary(ctx context.Context, ownerID, businessID string) (*Summary, error) {
	if _, err := s.tenants.OwnedBusiness(ctx, ownerID, businessID); err != nil {
		return nil, err
	}
	return s.store.Summary(ctx, businessID)
}
