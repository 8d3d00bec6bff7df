package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/modelstudio/internal/config"
	"github.com/digkill/modelstudio/internal/models"
)

var (
	ErrTierNotFound = errors.New("pricing tier not found")
	ErrInvalidTier  = errors.New("invalid pricing tier")
)

// TierStore is implemented by *repository.TierRepository.
type TierStore interface {
	List(ctx context.Context) ([]models.PricingTier, error)
	GetByID(ctx context.Context, id string) (*models.PricingTier, error)
	Count(ctx context.Context) (int, error)
	Save(ctx context.Context, tier *models.PricingTier, sortOrder int) (*models.PricingTier, error)
	Delete(ctx context.Context, id string) error
}

type TierService struct {
	cfg  config.Config
	repo TierStore
}

type TierInput struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	PriceCents    int      `json:"price_cents"`
	Currency      string   `json:"currency"`
	Credits       int      `json:"credits"`
	Popular       bool     `json:"popular"`
	StripePriceID string   `json:"stripe_price_id"`
	Features      []string `json:"features"`
	Active        *bool    `json:"active"`
	SortOrder     int      `json:"sort_order"`
}

func NewTierService(cfg config.Config, repo TierStore) *TierService {
	return &TierService{cfg: cfg, repo: repo}
}

// DefaultTiers is the catalogue seeded into an empty database.
func DefaultTiers(cfg config.Config) []models.PricingTier {
	currency := cfg.CheckoutCurrency
	if currency == "" {
		currency = "usd"
	}
	return []models.PricingTier{
		{
			ID: "free", Name: "Try It Free", PriceCents: 0, Currency: currency, Credits: 1, Active: true,
			Features: []string{"1 free model generation", "HD image download", "No credit card required", "See if it works for you"},
		},
		{
			ID: "starter", Name: "Starter Pack", PriceCents: 100, Currency: currency, Credits: 5, Active: true,
			StripePriceID: cfg.StripePriceStarter,
			Features:      []string{"5 model generations", "HD downloads", "Perfect for testing", "Commercial usage rights"},
		},
		{
			ID: "pro", Name: "Pro", PriceCents: 900, Currency: currency, Credits: 100, Popular: true, Active: true,
			StripePriceID: cfg.StripePricePro,
			Features:      []string{"100 model generations", "HD downloads", "Priority generation", "Commercial usage rights", "Email support"},
		},
		{
			ID: "business", Name: "Business", PriceCents: 2900, Currency: currency, Credits: 400, Active: true,
			StripePriceID: cfg.StripePriceBusiness,
			Features:      []string{"400 model generations", "HD downloads", "Priority generation", "Commercial usage rights", "Email support", "Bulk processing"},
		},
	}
}

// EnsureDefaultTiers seeds the default catalogue when no tier exists yet.
func (s *TierService) EnsureDefaultTiers(ctx context.Context) error {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for i, tier := range DefaultTiers(s.cfg) {
		if _, err := s.repo.Save(ctx, &tier, i); err != nil {
			return fmt.Errorf("create default tier %s: %w", tier.ID, err)
		}
	}
	return nil
}

// Active lists the tiers offered to customers.
func (s *TierService) Active(ctx context.Context) ([]models.PricingTier, error) {
	tiers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.PricingTier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Active {
			active = append(active, tier)
		}
	}
	return active, nil
}

func (s *TierService) List(ctx context.Context) ([]models.PricingTier, error) {
	return s.repo.List(ctx)
}

// Get returns an active tier or ErrTierNotFound.
func (s *TierService) Get(ctx context.Context, id string) (*models.PricingTier, error) {
	tier, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tier == nil || !tier.Active {
		return nil, fmt.Errorf("%w: %s", ErrTierNotFound, id)
	}
	return tier, nil
}

func (s *TierService) Create(ctx context.Context, input TierInput) (*models.PricingTier, error) {
	existing, err := s.repo.GetByID(ctx, strings.TrimSpace(input.ID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: id %s already exists", ErrInvalidTier, input.ID)
	}
	tier, err := s.fromInput(input)
	if err != nil {
		return nil, err
	}
	return s.repo.Save(ctx, tier, input.SortOrder)
}

func (s *TierService) Update(ctx context.Context, id string, input TierInput) (*models.PricingTier, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrTierNotFound, id)
	}
	input.ID = id
	if input.Active == nil {
		input.Active = &existing.Active
	}
	tier, err := s.fromInput(input)
	if err != nil {
		return nil, err
	}
	return s.repo.Save(ctx, tier, input.SortOrder)
}

func (s *TierService) Delete(ctx context.Context, id string) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrTierNotFound, id)
	}
	return s.repo.Delete(ctx, id)
}

func (s *TierService) fromInput(input TierInput) (*models.PricingTier, error) {
	input.ID = strings.TrimSpace(input.ID)
	input.Name = strings.TrimSpace(input.Name)
	if input.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidTier)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTier)
	}
	if input.PriceCents < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidTier)
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive", ErrInvalidTier)
	}
	if input.Currency == "" {
		input.Currency = s.cfg.CheckoutCurrency
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	return &models.PricingTier{
		ID:            input.ID,
		Name:          input.Name,
		PriceCents:    input.PriceCents,
		Currency:      strings.ToLower(input.Currency),
		Credits:       input.Credits,
		Popular:       input.Popular,
		StripePriceID: input.StripePriceID,
		Features:      input.Features,
		Active:        active,
	}, nil
}
