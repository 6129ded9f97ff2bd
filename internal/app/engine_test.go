package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/config"
	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/purchase"
)

func testConfig(rewardsPath string) *config.Config {
	return &config.Config{
		StoreDriver:           config.StoreDriverSQLite,
		SQLitePath:            ":memory:",
		RewardsConfigPath:     rewardsPath,
		ReferralCodePrefix:    "BIN",
		WithdrawMinAmount:     decimal.NewFromInt(1000),
		WheelSpinsPerPurchase: 1,
		RetryMaxAttempts:      3,
		FeatureWheelEnabled:   true,
		FeatureBonusEnabled:   true,
	}
}

func openTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	store, closeFn, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(closeFn)
	return NewEngine(cfg, store, nil)
}

func TestNewEngine_ShippedTables(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, testConfig(filepath.Join("..", "..", "configs", "rewards.yaml")))

	require.Len(t, e.Catalog.List(), 10)
	require.NotNil(t, e.Wheel)
	require.NotNil(t, e.Wheel.Table())
	require.NotNil(t, e.Bonuses)
	assert.Len(t, e.Bonuses.Tiers(), 8)

	sponsor, err := e.Accounts.Register(ctx, accounts.RegisterInput{ID: "sponsor"})
	require.NoError(t, err)
	_, err = e.Accounts.Register(ctx, accounts.RegisterInput{ID: "buyer", ReferralCode: sponsor.ReferralCode})
	require.NoError(t, err)
	_, _, err = e.Accounts.Deposit(ctx, "buyer", decimal.NewFromInt(15000), "seed")
	require.NoError(t, err)

	res, err := e.Purchases.PurchasePack(ctx, purchase.Request{AccountID: "buyer", PackName: "bronze"})
	require.NoError(t, err)
	assert.True(t, res.Account.BalanceMain.IsZero())
	assert.Equal(t, 1, res.Account.SpinCredits)

	sponsor, err = e.Accounts.Get(ctx, "sponsor")
	require.NoError(t, err)
	assert.True(t, sponsor.BalanceCommissions.Equal(decimal.NewFromInt(1500)))
}

func TestNewEngine_MissingTablesDegrade(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, testConfig(filepath.Join(t.TempDir(), "absent.yaml")))

	assert.Empty(t, e.Catalog.List())
	_, err := e.Accounts.Register(ctx, accounts.RegisterInput{ID: "a"})
	require.NoError(t, err)

	_, err = e.Purchases.PurchasePack(ctx, purchase.Request{AccountID: "a", PackName: "Starter"})
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = e.Wheel.SpinWheel(ctx, "a")
	assert.ErrorIs(t, err, common.ErrConfiguration)

	_, err = e.Bonuses.EvaluateBonuses(ctx, "a")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestNewEngine_InvalidWheelKeepsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
packs:
  - { name: Starter, price: "2000", daily_return: "400" }
commission_rates: ["0.10"]
wheel:
  - { up_to: 500, kind: cash, amount: "50" }
`), 0o600))

	cfg := testConfig(path)
	cfg.FeatureBonusEnabled = false
	e := openTestEngine(t, cfg)

	assert.Len(t, e.Catalog.List(), 1)
	assert.Nil(t, e.Bonuses)
	require.NotNil(t, e.Wheel)
	assert.Nil(t, e.Wheel.Table())
}
