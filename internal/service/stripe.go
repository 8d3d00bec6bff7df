package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/modelstudio/internal/models"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// StripeSignatureTolerance bounds how old a signed webhook may be.
const StripeSignatureTolerance = 5 * time.Minute

type stripeSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	ClientRef     string `json:"client_reference_id"`
	AmountTotal   int    `json:"amount_total"`
	Currency      string `json:"currency"`
	Metadata      struct {
		TierID    string `json:"tier_id"`
		ProfileID string `json:"profile_id"`
	} `json:"metadata"`
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeSession `json:"object"`
	} `json:"data"`
}

func (s *PaymentService) createStripeSession(ctx context.Context, profileID string, tier *models.PricingTier) (*stripeSession, error) {
	if s.cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("stripe credentials are not configured")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", s.cfg.StripeSuccessURL)
	form.Set("cancel_url", s.cfg.StripeCancelURL)
	form.Set("client_reference_id", profileID)
	form.Set("metadata[tier_id]", tier.ID)
	form.Set("metadata[profile_id]", profileID)
	form.Set("line_items[0][quantity]", "1")
	if tier.StripePriceID != "" {
		form.Set("line_items[0][price]", tier.StripePriceID)
	} else {
		form.Set("line_items[0][price_data][currency]", tier.Currency)
		form.Set("line_items[0][price_data][unit_amount]", strconv.Itoa(tier.PriceCents))
		form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("%s (%d credits)", tier.Name, tier.Credits))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.StripeAPIBaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s-%s-%d", profileID, tier.ID, s.now().UnixNano()))
	req.SetBasicAuth(s.cfg.StripeSecretKey, "")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read stripe response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, fmt.Errorf("stripe error: status=%d message=%s", resp.StatusCode, apiErr.Error.Message)
	}

	var parsed stripeSession
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode stripe response: %w", err)
	}
	if parsed.ID == "" || parsed.URL == "" {
		return nil, fmt.Errorf("invalid stripe response (missing id or url)")
	}
	return &parsed, nil
}

// VerifyStripeSignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex hmac>[,v1=...]" against the payload.
func VerifyStripeSignature(payload []byte, header, secret string, now time.Time) error {
	var timestamp string
	var signatures []string
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > StripeSignatureTolerance || age < -StripeSignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := signStripePayload(payload, timestamp, secret)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

func signStripePayload(payload []byte, timestamp, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
