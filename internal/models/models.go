package models

import "time"

// MaxUploadedImages bounds how many product photos one generation may use.
const MaxUploadedImages = 5

type UploadedImage struct {
	Name     string
	Data     []byte
	MimeType string
}

// GeneratedImage is what an image generation service hands back: either a URL
// it hosts or the encoded bytes.
type GeneratedImage struct {
	URL      string
	Bytes    []byte
	MimeType string
}

type GenerationRecord struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"timestamp"`
	ImageReference string `json:"imageUrl"`
	Prompt         string `json:"prompt"`
	CreditsUsed    int    `json:"creditsUsed"`
}

// CreatedAt converts the millisecond timestamp.
func (r GenerationRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

type PricingTier struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PriceCents    int       `json:"price_cents"`
	Currency      string    `json:"currency"`
	Credits       int       `json:"credits"`
	Popular       bool      `json:"popular"`
	StripePriceID string    `json:"-"`
	Features      []string  `json:"features"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Free reports whether the tier can be taken without a checkout.
func (t PricingTier) Free() bool {
	return t.PriceCents == 0
}

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusExpired = "expired"
)

type Payment struct {
	ID          int64
	ProfileID   string
	TierID      string
	Provider    string
	ProviderRef string
	Currency    string
	Amount      int
	Credits     int
	Status      string
	RawPayload  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type StylePreset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// RejectedError is returned by an image generation service that declined the
// request with a reason fit to show the user.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "generation rejected: " + e.Reason
}
