// Package feedback collects customer ratings submitted through QR codes and
// reports them to business owners.
package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/qrfeedback/platform/internal/pagination"
)

var (
	ErrQuotaExceeded = errors.New("feedback: monthly quota exceeded")
	ErrUnknownCode   = errors.New("feedback: unknown QR code")
)

// Feedback is one customer submission.
type Feedback struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"businessId"`
	QRCodeID      string    `json:"qrCodeId,omitempty"`
	Rating        int       `json:"rating"`
	Comment       string    `json:"comment,omitempty"`
	CustomerName  string    `json:"customerName,omitempty"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Anonymous reports whether the customer left no contact details.
func (f *Feedback) Anonymous() bool {
	return f.CustomerName == "" && f.CustomerEmail == "" && f.CustomerPhone == ""
}

// Summary aggregates a business's feedback.
type Summary struct {
	Count        int         `json:"count"`
	Average      float64     `json:"average"`
	Distribution map[int]int `json:"distribution"`
	Anonymous    int         `json:"anonymous"`
}

// Quota caps submissions per business since a point in time. Max 0 means
// unlimited.
type Quota struct {
	Since time.Time
	Max   int
}

// Store persists feedback.
type Store interface {
	// Create inserts f unless the business already has quota.Max
	// submissions since quota.Since, in which case it returns ErrQuotaExceeded.
	Create(ctx context.Context, f *Feedback, quota Quota) error
	// List returns a business's feedback, newest first.
	List(ctx context.Context, businessID string, limit int, cursor *pagination.Cursor) ([]*Feedback, error)
	Summary(ctx context.Context, businessID string) (*Summary, error)
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func emptyDistribution() map[int]int {
	return map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
}
