package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/modelstudio/internal/config"
	"github.com/digkill/modelstudio/internal/repository"
	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/models"
)

const testWebhookSecret = "whsec_test"

type paymentFixture struct {
	svc      *PaymentService
	payments *repository.MemoryPaymentRepository
	accounts *credits.Accounts
	now      time.Time
}

func newPaymentFixture(t *testing.T, cfg config.Config) *paymentFixture {
	t.Helper()
	ctx := context.Background()
	cfg.CheckoutCurrency = "usd"
	cfg.StripeWebhookSecret = testWebhookSecret
	tiers := NewTierService(cfg, repository.NewMemoryTierRepository())
	require.NoError(t, tiers.EnsureDefaultTiers(ctx))

	payments := repository.NewMemoryPaymentRepository()
	accounts := newTestAccounts(t)
	svc := NewPaymentService(cfg, payments, tiers, accounts, discardLogger())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return &paymentFixture{svc: svc, payments: payments, accounts: accounts, now: now}
}

func (f *paymentFixture) allPayments(t *testing.T) []models.Payment {
	t.Helper()
	payments, err := f.payments.List(context.Background())
	require.NoError(t, err)
	return payments
}

func signedHeader(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(signStripePayload(payload, ts, testWebhookSecret))
}

func TestStartCheckoutFreeAndUnknownTier(t *testing.T) {
	f := newPaymentFixture(t, config.Config{CheckoutProvider: config.CheckoutProviderDemo})
	_, err := f.svc.StartCheckout(context.Background(), "p1", "free")
	assert.ErrorIs(t, err, ErrFreeTier)
	_, err = f.svc.StartCheckout(context.Background(), "p1", "platinum")
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestDemoCheckoutCreditsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t, config.Config{CheckoutProvider: config.CheckoutProviderDemo})

	checkout, err := f.svc.StartCheckout(ctx, "p1", "starter")
	require.NoError(t, err)
	assert.Equal(t, ProviderDemo, checkout.Provider)
	assert.Equal(t, 5, checkout.Credited)
	assert.Equal(t, 5, f.accounts.Ledger("p1").Balance(ctx))

	payments := f.allPayments(t)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusPaid, payments[0].Status)
	assert.Equal(t, 100, payments[0].Amount)
}

func TestStripeCheckoutAndWebhook(t *testing.T) {
	ctx := context.Background()
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test", user)
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		fmt.Fprint(w, `{"id":"cs_test_1","url":"https://checkout.stripe.com/c/cs_test_1","status":"open"}`)
	}))
	defer server.Close()

	f := newPaymentFixture(t, config.Config{
		CheckoutProvider: config.CheckoutProviderStripe,
		StripeSecretKey:  "sk_test",
		StripeAPIBaseURL: server.URL,
		StripeSuccessURL: "https://studio/?checkout=success",
		StripeCancelURL:  "https://studio/?checkout=cancel",
		StripePricePro:   "price_pro",
	})

	checkout, err := f.svc.StartCheckout(ctx, "p1", "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", checkout.RedirectURL)
	assert.Equal(t, "price_pro", form["line_items[0][price]"])
	assert.Equal(t, "p1", form["client_reference_id"])
	assert.Equal(t, "pro", form["metadata[tier_id]"])
	assert.Equal(t, 0, f.accounts.Ledger("p1").Balance(ctx))

	event := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","payment_status":"paid"}}}`)
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, event, signedHeader(event, f.now)))
	assert.Equal(t, 100, f.accounts.Ledger("p1").Balance(ctx))

	// Redelivery credits nothing.
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, event, signedHeader(event, f.now)))
	assert.Equal(t, 100, f.accounts.Ledger("p1").Balance(ctx))
	assert.Equal(t, models.PaymentStatusPaid, f.allPayments(t)[0].Status)
}

func TestStripeCheckoutWithoutPriceIDUsesPriceData(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		fmt.Fprint(w, `{"id":"cs_2","url":"https://checkout.stripe.com/c/cs_2"}`)
	}))
	defer server.Close()

	f := newPaymentFixture(t, config.Config{StripeSecretKey: "sk", StripeAPIBaseURL: server.URL})
	_, err := f.svc.StartCheckout(context.Background(), "p1", "business")
	require.NoError(t, err)
	assert.Equal(t, "2900", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"])
	assert.NotContains(t, form, "line_items[0][price]")
}

func TestStripeCheckoutAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"No such price"}}`)
	}))
	defer server.Close()

	f := newPaymentFixture(t, config.Config{StripeSecretKey: "sk", StripeAPIBaseURL: server.URL})
	_, err := f.svc.StartCheckout(context.Background(), "p1", "starter")
	require.ErrorContains(t, err, "No such price")
	assert.Empty(t, f.allPayments(t))
}

func TestStripeWebhookExpired(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t, config.Config{})
	require.NoError(t, f.payments.Create(ctx, &models.Payment{ProfileID: "p1", TierID: "pro", Provider: ProviderStripe, ProviderRef: "cs_9", Credits: 100, Status: models.PaymentStatusPending}))

	event := []byte(`{"type":"checkout.session.expired","data":{"object":{"id":"cs_9"}}}`)
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, event, signedHeader(event, f.now)))
	assert.Equal(t, models.PaymentStatusExpired, f.allPayments(t)[0].Status)
	assert.Equal(t, 0, f.accounts.Ledger("p1").Balance(ctx))
}

func TestStripeWebhookUnknownSession(t *testing.T) {
	f := newPaymentFixture(t, config.Config{})
	event := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_missing","payment_status":"paid"}}}`)
	err := f.svc.HandleStripeWebhook(context.Background(), event, signedHeader(event, f.now))
	assert.ErrorContains(t, err, "payment not found")
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt"}`)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, VerifyStripeSignature(payload, signedHeader(payload, now), testWebhookSecret, now))
	require.NoError(t, VerifyStripeSignature(payload, "v1=deadbeef,"+signedHeader(payload, now), testWebhookSecret, now))

	cases := map[string]string{
		"empty":        "",
		"no signature": "t=1700000000",
		"bad time":     "t=abc,v1=00",
		"stale":        signedHeader(payload, now.Add(-6*time.Minute)),
		"future":       signedHeader(payload, now.Add(6*time.Minute)),
		"wrong secret": "t=1700000000,v1=" + hex.EncodeToString(signStripePayload(payload, "1700000000", "other")),
	}
	for name, header := range cases {
		err := VerifyStripeSignature(payload, header, testWebhookSecret, now)
		assert.ErrorIs(t, err, ErrInvalidSignature, name)
	}
	assert.ErrorIs(t, VerifyStripeSignature([]byte(`{"id":"tampered"}`), signedHeader(payload, now), testWebhookSecret, now), ErrInvalidSignature)
}

type recordingBot struct {
	sent      []tgbotapi.Chattable
	requested []tgbotapi.Chattable
}

func (b *recordingBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *recordingBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.requested = append(b.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestTelegramInvoiceAndPayment(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t, config.Config{TelegramPaymentProviderToken: "provider-token"})
	bot := &recordingBot{}

	require.NoError(t, f.svc.SendTelegramInvoice(ctx, bot, 42, "starter"))
	require.Len(t, bot.sent, 1)
	invoice, ok := bot.sent[0].(tgbotapi.InvoiceConfig)
	require.True(t, ok)
	assert.Equal(t, "USD", invoice.Currency)
	assert.Equal(t, 100, invoice.Prices[0].Amount)
	assert.JSONEq(t, `{"tier_id":"starter"}`, invoice.Payload)

	assert.ErrorIs(t, f.svc.SendTelegramInvoice(ctx, bot, 42, "free"), ErrFreeTier)

	payment := &tgbotapi.SuccessfulPayment{
		Currency:                "USD",
		TotalAmount:             100,
		InvoicePayload:          invoice.Payload,
		TelegramPaymentChargeID: "tg-charge-1",
	}
	credited, err := f.svc.HandleTelegramPayment(ctx, "tg:42", payment)
	require.NoError(t, err)
	assert.Equal(t, 5, credited)
	assert.Equal(t, 5, f.accounts.Ledger("tg:42").Balance(ctx))

	credited, err = f.svc.HandleTelegramPayment(ctx, "tg:42", payment)
	require.NoError(t, err)
	assert.Zero(t, credited)
	assert.Equal(t, 5, f.accounts.Ledger("tg:42").Balance(ctx))

	require.NoError(t, f.svc.HandlePreCheckout(bot, &tgbotapi.PreCheckoutQuery{ID: "q1"}))
	assert.Len(t, bot.requested, 1)
}

func TestGrantCredits(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t, config.Config{})

	balance, err := f.svc.GrantCredits(ctx, "p1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, balance)

	_, err = f.svc.GrantCredits(ctx, "p1", 0)
	assert.Error(t, err)
	_, err = f.svc.GrantCredits(ctx, " ", 3)
	assert.Error(t, err)
}
