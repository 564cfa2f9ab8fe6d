package tenant

import "context"

// Store persists businesses and QR codes.
type Store interface {
	// CreateBusiness returns ErrDuplicateOnboarding when a business already
	// exists for b.OnboardingRequestID.
	CreateBusiness(ctx context.Context, b *Business) error
	GetBusiness(ctx context.Context, id string) (*Business, error)
	GetByOnboardingRequest(ctx context.Context, requestID string) (*Business, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Business, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)

	CreateQRCode(ctx context.Context, q *QRCode) error
	GetQRCodeByCode(ctx context.Context, code string) (*QRCode, error)
	ListQRCodes(ctx context.Context, businessID string) ([]*QRCode, error)
	CountQRCodes(ctx context.Context, businessID string) (int, error)
}
