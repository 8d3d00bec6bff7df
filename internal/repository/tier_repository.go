package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/modelstudio/internal/models"
)

type TierRepository struct {
	db *sql.DB
}

func NewTierRepository(db *sql.DB) *TierRepository {
	return &TierRepository{db: db}
}

const tierColumns = `id, name, price_cents, currency, credits, popular, COALESCE(stripe_price_id, ''), COALESCE(features, '[]'), is_active, created_at, updated_at`

func scanTier(row interface{ Scan(...any) error }) (*models.PricingTier, error) {
	var tier models.PricingTier
	var features string
	if err := row.Scan(&tier.ID, &tier.Name, &tier.PriceCents, &tier.Currency, &tier.Credits, &tier.Popular, &tier.StripePriceID, &features, &tier.Active, &tier.CreatedAt, &tier.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(features), &tier.Features); err != nil {
		tier.Features = nil
	}
	return &tier, nil
}

func (r *TierRepository) List(ctx context.Context) ([]models.PricingTier, error) {
	query := `SELECT ` + tierColumns + ` FROM pricing_tiers ORDER BY sort_order ASC, price_cents ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.PricingTier
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tiers = append(tiers, *tier)
	}
	return tiers, rows.Err()
}

func (r *TierRepository) GetByID(ctx context.Context, id string) (*models.PricingTier, error) {
	query := `SELECT ` + tierColumns + ` FROM pricing_tiers WHERE id = ?`
	tier, err := scanTier(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tier: %w", err)
	}
	return tier, nil
}

func (r *TierRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pricing_tiers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tiers: %w", err)
	}
	return count, nil
}

// Save inserts the tier or overwrites the row with the same id.
func (r *TierRepository) Save(ctx context.Context, tier *models.PricingTier, sortOrder int) (*models.PricingTier, error) {
	features, err := json.Marshal(tier.Features)
	if err != nil {
		return nil, fmt.Errorf("encode tier features: %w", err)
	}
	const query = `
INSERT INTO pricing_tiers (id, name, price_cents, currency, credits, popular, stripe_price_id, features, is_active, sort_order)
VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), price_cents = VALUES(price_cents), currency = VALUES(currency),
    credits = VALUES(credits), popular = VALUES(popular), stripe_price_id = VALUES(stripe_price_id),
    features = VALUES(features), is_active = VALUES(is_active), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, tier.ID, tier.Name, tier.PriceCents, tier.Currency, tier.Credits, tier.Popular, tier.StripePriceID, string(features), tier.Active, sortOrder); err != nil {
		return nil, fmt.Errorf("save tier: %w", err)
	}
	return r.GetByID(ctx, tier.ID)
}

func (r *TierRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM pricing_tiers WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete tier: %w", err)
	}
	return nil
}
