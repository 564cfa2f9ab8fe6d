// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Entity prefixes.
const (
	PrefixOnboarding = "onb_"
	PrefixRenewal    = "rnw_"
	PrefixBusiness   = "biz_"
	PrefixQRCode     = "qr_"
	PrefixFeedback   = "fb_"
	PrefixPlan       = "plan_"
)

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New generates a random UUID (v4) string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "onb_", "biz_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Code generates a short lowercase token suitable for printing in a QR code URL.
func Code() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return strings.ToLower(codeEncoding.EncodeToString(b))
}
