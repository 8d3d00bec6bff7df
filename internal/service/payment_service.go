package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/digkill/modelstudio/internal/config"
	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/models"
)

var ErrFreeTier = errors.New("the free tier is granted automatically")

const (
	ProviderStripe   = "stripe"
	ProviderDemo     = "demo"
	ProviderTelegram = "telegram"
)

// PaymentStore is implemented by *repository.PaymentRepository.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error
	MarkPaid(ctx context.Context, paymentID int64, payload string) (bool, error)
	FindByProviderRef(ctx context.Context, provider, ref string) (*models.Payment, error)
}

// TelegramSender is the part of *tgbotapi.BotAPI payments use.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Checkout is the outcome of starting a purchase. Stripe checkouts carry a
// redirect; demo checkouts are credited on the spot.
type Checkout struct {
	Provider    string `json:"provider"`
	SessionID   string `json:"sessionId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	Credited    int    `json:"credited"`
}

type PaymentService struct {
	cfg      config.Config
	payments PaymentStore
	tiers    *TierService
	accounts *credits.Accounts
	client   *http.Client
	log      *slog.Logger
	now      func() time.Time
}

func NewPaymentService(cfg config.Config, payments PaymentStore, tiers *TierService, accounts *credits.Accounts, log *slog.Logger) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{
		cfg:      cfg,
		payments: payments,
		tiers:    tiers,
		accounts: accounts,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

// StartCheckout begins buying tierID for the profile with the configured provider.
func (s *PaymentService) StartCheckout(ctx context.Context, profileID, tierID string) (*Checkout, error) {
	tier, err := s.tiers.Get(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if tier.Free() {
		return nil, ErrFreeTier
	}

	switch strings.ToLower(s.cfg.CheckoutProvider) {
	case config.CheckoutProviderStripe, "":
		return s.startStripeCheckout(ctx, profileID, tier)
	case config.CheckoutProviderDemo:
		return s.startDemoCheckout(ctx, profileID, tier)
	default:
		return nil, fmt.Errorf("unsupported checkout provider: %s", s.cfg.CheckoutProvider)
	}
}

func (s *PaymentService) startStripeCheckout(ctx context.Context, profileID string, tier *models.PricingTier) (*Checkout, error) {
	session, err := s.createStripeSession(ctx, profileID, tier)
	if err != nil {
		return nil, err
	}

	record := &models.Payment{
		ProfileID:   profileID,
		TierID:      tier.ID,
		Provider:    ProviderStripe,
		ProviderRef: session.ID,
		Currency:    tier.Currency,
		Amount:      tier.PriceCents,
		Credits:     tier.Credits,
		Status:      models.PaymentStatusPending,
		RawPayload:  string(jsonMustMarshal(session)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.log.Info("stripe checkout started", "profile", profileID, "tier", tier.ID, "session", session.ID)
	return &Checkout{Provider: ProviderStripe, SessionID: session.ID, RedirectURL: session.URL}, nil
}

func (s *PaymentService) startDemoCheckout(ctx context.Context, profileID string, tier *models.PricingTier) (*Checkout, error) {
	ref := "demo-" + uuid.NewString()
	record := &models.Payment{
		ProfileID:   profileID,
		TierID:      tier.ID,
		Provider:    ProviderDemo,
		ProviderRef: ref,
		Currency:    tier.Currency,
		Amount:      tier.PriceCents,
		Credits:     tier.Credits,
		Status:      models.PaymentStatusPaid,
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.accounts.Ledger(profileID).AddCredits(ctx, tier.Credits)

	s.log.Info("demo purchase credited", "profile", profileID, "tier", tier.ID, "credits", tier.Credits)
	return &Checkout{Provider: ProviderDemo, SessionID: ref, Credited: tier.Credits}, nil
}

// HandleStripeWebhook verifies and applies a Stripe event. Completed sessions
// credit the profile once, however often Stripe redelivers them.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := VerifyStripeSignature(payload, signature, s.cfg.StripeWebhookSecret, s.now()); err != nil {
		return err
	}

	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if evt.Data.Object.PaymentStatus != "" && evt.Data.Object.PaymentStatus != "paid" {
			s.log.Info("stripe session completed without payment yet", "session", evt.Data.Object.ID, "payment_status", evt.Data.Object.PaymentStatus)
			return nil
		}
		return s.settleStripeSession(ctx, evt.Data.Object.ID, payload)
	case "checkout.session.expired":
		pmt, err := s.findStripePayment(ctx, evt.Data.Object.ID)
		if err != nil {
			return err
		}
		if pmt.Status == models.PaymentStatusPaid {
			return nil
		}
		if err := s.payments.UpdateStatus(ctx, pmt.ID, models.PaymentStatusExpired, string(payload)); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		return nil
	default:
		s.log.Debug("ignoring stripe event", "type", evt.Type, "event", evt.ID)
		return nil
	}
}

func (s *PaymentService) settleStripeSession(ctx context.Context, sessionID string, payload []byte) error {
	pmt, err := s.findStripePayment(ctx, sessionID)
	if err != nil {
		return err
	}
	if pmt.Status == models.PaymentStatusPaid {
		return nil // already processed
	}

	updated, err := s.payments.MarkPaid(ctx, pmt.ID, string(payload))
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}
	s.accounts.Ledger(pmt.ProfileID).AddCredits(ctx, pmt.Credits)
	s.log.Info("stripe payment credited", "profile", pmt.ProfileID, "tier", pmt.TierID, "credits", pmt.Credits, "session", sessionID)
	return nil
}

func (s *PaymentService) findStripePayment(ctx context.Context, sessionID string) (*models.Payment, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("webhook missing session id")
	}
	pmt, err := s.payments.FindByProviderRef(ctx, ProviderStripe, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return nil, fmt.Errorf("payment not found for session=%s", sessionID)
	}
	return pmt, nil
}

// GrantCredits tops a profile up by hand, e.g. from the admin API.
func (s *PaymentService) GrantCredits(ctx context.Context, profileID string, amount int) (int, error) {
	if strings.TrimSpace(profileID) == "" {
		return 0, fmt.Errorf("profile id is required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	ledger := s.accounts.Ledger(profileID)
	ledger.AddCredits(ctx, amount)
	s.log.Info("credits granted manually", "profile", profileID, "amount", amount)
	return ledger.Balance(ctx), nil
}

// SendTelegramInvoice sends a native Telegram invoice for the tier.
func (s *PaymentService) SendTelegramInvoice(ctx context.Context, bot TelegramSender, chatID int64, tierID string) error {
	tier, err := s.tiers.Get(ctx, tierID)
	if err != nil {
		return err
	}
	if tier.Free() {
		return ErrFreeTier
	}
	if s.cfg.TelegramPaymentProviderToken == "" {
		return fmt.Errorf("telegram payments are not configured")
	}

	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("%d credits", tier.Credits),
			Amount: tier.PriceCents,
		},
	}
	payload, _ := json.Marshal(map[string]any{
		"tier_id": tier.ID,
	})

	invoice := tgbotapi.NewInvoice(chatID,
		tier.Name,
		fmt.Sprintf("%d model generations", tier.Credits),
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"topup",
		strings.ToUpper(tier.Currency),
		prices,
	)
	invoice.SuggestedTipAmounts = []int{}

	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *PaymentService) HandlePreCheckout(bot TelegramSender, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleTelegramPayment credits the tier named in the invoice payload and
// records the charge. Redelivered charges are ignored.
func (s *PaymentService) HandleTelegramPayment(ctx context.Context, profileID string, payment *tgbotapi.SuccessfulPayment) (int, error) {
	var payload struct {
		TierID string `json:"tier_id"`
	}
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &payload); err != nil {
		return 0, fmt.Errorf("parse payment payload: %w", err)
	}

	existing, err := s.payments.FindByProviderRef(ctx, ProviderTelegram, payment.TelegramPaymentChargeID)
	if err != nil {
		return 0, fmt.Errorf("find payment: %w", err)
	}
	if existing != nil {
		return 0, nil
	}

	tier, err := s.tiers.repo.GetByID(ctx, payload.TierID)
	if err != nil {
		return 0, fmt.Errorf("get tier: %w", err)
	}
	if tier == nil {
		return 0, fmt.Errorf("%w: %s", ErrTierNotFound, payload.TierID)
	}

	record := &models.Payment{
		ProfileID:   profileID,
		TierID:      tier.ID,
		Provider:    ProviderTelegram,
		ProviderRef: payment.TelegramPaymentChargeID,
		Currency:    strings.ToLower(payment.Currency),
		Amount:      payment.TotalAmount,
		Credits:     tier.Credits,
		Status:      models.PaymentStatusPaid,
		RawPayload:  string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return 0, fmt.Errorf("record payment: %w", err)
	}
	s.accounts.Ledger(profileID).AddCredits(ctx, tier.Credits)
	s.log.Info("telegram payment credited", "profile", profileID, "tier", tier.ID, "credits", tier.Credits)
	return tier.Credits, nil
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
