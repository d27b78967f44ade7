package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vidorahq/vidora-billing/pkg/db/models"
	dbtypes "github.com/vidorahq/vidora-billing/pkg/db/types"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

func setupCatalogTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	plans := `
CREATE TABLE IF NOT EXISTS subscription_plans (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  period TEXT NOT NULL,
  prices TEXT NOT NULL,
  trial_days INTEGER NOT NULL DEFAULT 0,
  features TEXT,
  provider_price_ref TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	coupons := `
CREATE TABLE IF NOT EXISTS coupons (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  percent_off NUMERIC,
  amount_off NUMERIC,
  currency TEXT,
  expires_at DATETIME,
  max_redemptions INTEGER NOT NULL DEFAULT 0,
  redeemed INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(plans).Error)
	require.NoError(t, db.Exec(coupons).Error)
	return db
}

func newPlan(t *testing.T, db *gorm.DB, code string, status enums.PlanStatus) *models.SubscriptionPlan {
	t.Helper()

	plan := &models.SubscriptionPlan{
		ID:     uuid.New(),
		Code:   code,
		Name:   "Premium Monthly",
		Status: status,
		Period: enums.BillingPeriodMonthly,
		Prices: dbtypes.PriceTable{
			"USD": decimal.RequireFromString("12.99"),
			"EUR": decimal.RequireFromString("11.99"),
		},
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func TestFindPlanByCodeRoundTrip(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	created := newPlan(t, db, "premium-monthly", enums.PlanStatusActive)

	found, err := repo.FindPlanByCode(ctx, "premium-monthly")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	usd, ok := found.Prices.Price("USD")
	require.True(t, ok)
	assert.True(t, usd.Equal(decimal.RequireFromString("12.99")))

	missing, err := repo.FindPlanByCode(ctx, "no-such-plan")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListActivePlansExcludesRetired(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	newPlan(t, db, "premium-monthly", enums.PlanStatusActive)
	newPlan(t, db, "legacy-annual", enums.PlanStatusInactive)

	plans, err := repo.ListActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "premium-monthly", plans[0].Code)
}

func TestSetPlanStatusUnknownPlan(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)

	err := repo.SetPlanStatus(context.Background(), uuid.New(), enums.PlanStatusInactive)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRedeemCouponStopsAtCap(t *testing.T) {
	db := setupCatalogTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	coupon := &models.Coupon{
		ID:            uuid.New(),
		Code:          "LAUNCH50",
		MaxRedemption: 2,
		Active:        true,
	}
	require.NoError(t, db.Create(coupon).Error)

	for i := 0; i < 2; i++ {
		ok, err := repo.RedeemCoupon(ctx, coupon.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := repo.RedeemCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.False(t, ok, "third redemption must be refused")
}
