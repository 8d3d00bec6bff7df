package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/modelstudio/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (profile_id, tier_id, provider, provider_ref, currency, amount, credits, status, raw_payload)
VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.ProfileID, payment.TierID, payment.Provider, payment.ProviderRef, payment.Currency, payment.Amount, payment.Credits, payment.Status, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error {
	const query = `UPDATE payments SET status = ?, raw_payload = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, payload, paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// MarkPaid flips a pending payment to paid. It reports false when the payment was
// already settled, so concurrent webhook deliveries credit only once.
func (r *PaymentRepository) MarkPaid(ctx context.Context, paymentID int64, payload string) (bool, error) {
	const query = `UPDATE payments SET status = ?, raw_payload = ?, updated_at = NOW() WHERE id = ? AND status <> ?`
	res, err := r.db.ExecContext(ctx, query, models.PaymentStatusPaid, payload, paymentID, models.PaymentStatusPaid)
	if err != nil {
		return false, fmt.Errorf("mark payment paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) FindByProviderRef(ctx context.Context, provider, ref string) (*models.Payment, error) {
	const query = `
SELECT id, profile_id, tier_id, provider, COALESCE(provider_ref, ''), currency, amount, credits, status, COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at) AS updated_at
FROM payments WHERE provider = ? AND provider_ref = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, provider, ref)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.ProfileID, &p.TierID, &p.Provider, &p.ProviderRef, &p.Currency, &p.Amount, &p.Credits, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
