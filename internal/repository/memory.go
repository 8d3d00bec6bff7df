package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/digkill/modelstudio/internal/models"
)

// MemoryTierRepository keeps tiers in process. It backs runs without MySQL.
type MemoryTierRepository struct {
	mu    sync.Mutex
	tiers map[string]models.PricingTier
	order map[string]int
}

func NewMemoryTierRepository() *MemoryTierRepository {
	return &MemoryTierRepository{
		tiers: make(map[string]models.PricingTier),
		order: make(map[string]int),
	}
}

func (r *MemoryTierRepository) List(context.Context) ([]models.PricingTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tiers := make([]models.PricingTier, 0, len(r.tiers))
	for _, tier := range r.tiers {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		if r.order[tiers[i].ID] != r.order[tiers[j].ID] {
			return r.order[tiers[i].ID] < r.order[tiers[j].ID]
		}
		return tiers[i].PriceCents < tiers[j].PriceCents
	})
	return tiers, nil
}

func (r *MemoryTierRepository) GetByID(_ context.Context, id string) (*models.PricingTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tier, ok := r.tiers[id]
	if !ok {
		return nil, nil
	}
	return &tier, nil
}

func (r *MemoryTierRepository) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tiers), nil
}

func (r *MemoryTierRepository) Save(_ context.Context, tier *models.PricingTier, sortOrder int) (*models.PricingTier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	saved := *tier
	saved.Features = append([]string(nil), tier.Features...)
	if existing, ok := r.tiers[tier.ID]; ok {
		saved.CreatedAt = existing.CreatedAt
	} else {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	r.tiers[tier.ID] = saved
	r.order[tier.ID] = sortOrder
	return &saved, nil
}

func (r *MemoryTierRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tiers, id)
	delete(r.order, id)
	return nil
}

// MemoryPaymentRepository keeps payments in process. It backs runs without MySQL.
type MemoryPaymentRepository struct {
	mu       sync.Mutex
	payments []models.Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payment.ProviderRef != "" {
		for _, p := range r.payments {
			if p.Provider == payment.Provider && p.ProviderRef == payment.ProviderRef {
				return fmt.Errorf("insert payment: duplicate %s reference %s", payment.Provider, payment.ProviderRef)
			}
		}
	}
	now := time.Now().UTC()
	payment.ID = int64(len(r.payments) + 1)
	payment.CreatedAt, payment.UpdatedAt = now, now
	r.payments = append(r.payments, *payment)
	return nil
}

func (r *MemoryPaymentRepository) UpdateStatus(_ context.Context, paymentID int64, status string, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.find(paymentID); p != nil {
		p.Status, p.RawPayload, p.UpdatedAt = status, payload, time.Now().UTC()
	}
	return nil
}

func (r *MemoryPaymentRepository) MarkPaid(_ context.Context, paymentID int64, payload string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(paymentID)
	if p == nil || p.Status == models.PaymentStatusPaid {
		return false, nil
	}
	p.Status, p.RawPayload, p.UpdatedAt = models.PaymentStatusPaid, payload, time.Now().UTC()
	return true, nil
}

func (r *MemoryPaymentRepository) FindByProviderRef(_ context.Context, provider, ref string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Provider == provider && p.ProviderRef == ref {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// List returns every recorded payment in insertion order.
func (r *MemoryPaymentRepository) List(context.Context) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Payment(nil), r.payments...), nil
}

func (r *MemoryPaymentRepository) find(id int64) *models.Payment {
	for i := range r.payments {
		if r.payments[i].ID == id {
			return &r.payments[i]
		}
	}
	return nil
}
