package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/modelstudio/internal/config"
	"github.com/digkill/modelstudio/internal/repository"
)

func TestEnsureDefaultTiersSeedsOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTierRepository()
	svc := NewTierService(config.Config{CheckoutCurrency: "usd", StripePricePro: "price_pro"}, repo)

	require.NoError(t, svc.EnsureDefaultTiers(ctx))
	tiers, err := svc.Active(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 4)
	assert.Equal(t, []string{"free", "starter", "pro", "business"}, []string{tiers[0].ID, tiers[1].ID, tiers[2].ID, tiers[3].ID})
	assert.True(t, tiers[0].Free())
	assert.Equal(t, 100, tiers[2].Credits)
	assert.True(t, tiers[2].Popular)
	assert.Equal(t, "price_pro", tiers[2].StripePriceID)

	_, err = repo.Save(ctx, &tiers[1], 1)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "business"))
	require.NoError(t, svc.EnsureDefaultTiers(ctx))
	count, _ := repo.Count(ctx)
	assert.Equal(t, 3, count)
}

func TestTierCRUD(t *testing.T) {
	ctx := context.Background()
	svc := NewTierService(config.Config{CheckoutCurrency: "usd"}, repository.NewMemoryTierRepository())

	_, err := svc.Create(ctx, TierInput{ID: "mega", Name: "Mega", PriceCents: 9900, Credits: 0})
	require.ErrorIs(t, err, ErrInvalidTier)

	created, err := svc.Create(ctx, TierInput{ID: " mega ", Name: "Mega", PriceCents: 9900, Credits: 2000, Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "mega", created.ID)
	assert.Equal(t, "eur", created.Currency)
	assert.True(t, created.Active)

	_, err = svc.Create(ctx, TierInput{ID: "mega", Name: "Again", Credits: 1})
	require.ErrorIs(t, err, ErrInvalidTier)

	inactive := false
	updated, err := svc.Update(ctx, "mega", TierInput{Name: "Mega+", PriceCents: 9900, Credits: 2500, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, 2500, updated.Credits)
	assert.Equal(t, "usd", updated.Currency)

	_, err = svc.Get(ctx, "mega")
	assert.ErrorIs(t, err, ErrTierNotFound, "inactive tiers are not offered")

	require.NoError(t, svc.Delete(ctx, "mega"))
	assert.ErrorIs(t, svc.Delete(ctx, "mega"), ErrTierNotFound)
	_, err = svc.Update(ctx, "mega", TierInput{Name: "x", Credits: 1})
	assert.ErrorIs(t, err, ErrTierNotFound)
}
