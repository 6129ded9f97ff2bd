package rewards

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintex.app/engine/internal/features/ledger"
)

var purchased = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func seedWithPacks(t *testing.T, store ledger.Store, packs ...ledger.ActivePack) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &ledger.Account{
		ID:           "investor",
		ReferralCode: "BIN1234",
		ActivePacks:  packs,
	}))
}

func starter(at time.Time) ledger.ActivePack {
	return ledger.ActivePack{
		PackName:      "Starter",
		Price:         decimal.NewFromInt(2000),
		DailyReturn:   decimal.NewFromInt(400),
		PurchasedAt:   at,
		LastAccruedAt: at,
		Source:        ledger.SourcePurchase,
	}
}

func serviceAt(store ledger.Store, bonuses BonusEvaluator, now time.Time) *Service {
	svc := NewService(store, bonuses, ledger.RetryPolicy{MaxAttempts: 3}, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestAccrueRewards_CatchUp(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedWithPacks(t, store, starter(purchased))

	now := purchased.Add(72*time.Hour + 5*time.Hour)
	res, err := serviceAt(store, nil, now).AccrueRewards(ctx, "investor")
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.True(t, res.Credited.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, 3, res.DaysProcessed)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, ledger.TxGain, res.Transaction.Type)
	assert.Equal(t, "Gains: 3 jours", res.Transaction.Detail)

	acc, err := store.Get(ctx, "investor")
	require.NoError(t, err)
	assert.True(t, acc.BalanceGains.Equal(decimal.NewFromInt(1200)))
	assert.True(t, acc.ActivePacks[0].LastAccruedAt.Equal(purchased.Add(72*time.Hour)))
}

func TestAccrueRewards_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedWithPacks(t, store, starter(purchased))

	svc := serviceAt(store, nil, purchased.Add(25*time.Hour))
	first, err := svc.AccrueRewards(ctx, "investor")
	require.NoError(t, err)
	assert.Equal(t, 1, first.DaysProcessed)

	second, err := svc.AccrueRewards(ctx, "investor")
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, 0, second.DaysProcessed)
	assert.Nil(t, second.Transaction)
	assert.True(t, second.Credited.IsZero())

	history, err := store.Transactions(ctx, "investor", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAccrueRewards_NothingDue(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedWithPacks(t, store, starter(purchased))

	res, err := serviceAt(store, nil, purchased.Add(23*time.Hour)).AccrueRewards(ctx, "investor")
	require.NoError(t, err)
	assert.False(t, res.Applied)

	acc, err := store.Get(ctx, "investor")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.Version)
}

func TestAccrueRewards_SeveralPacksOneTransaction(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gold := ledger.ActivePack{
		PackName:      "Gold",
		Price:         decimal.NewFromInt(45000),
		DailyReturn:   decimal.NewFromInt(9000),
		PurchasedAt:   purchased.Add(48 * time.Hour),
		LastAccruedAt: purchased.Add(48 * time.Hour),
	}
	seedWithPacks(t, store, starter(purchased), gold)

	res, err := serviceAt(store, nil, purchased.Add(96*time.Hour)).AccrueRewards(ctx, "investor")
	require.NoError(t, err)
	// Starter: 4 дня × 400, Gold: 2 дня × 9000
	assert.True(t, res.Credited.Equal(decimal.NewFromInt(1600+18000)))
	assert.Equal(t, 4, res.DaysProcessed)
	assert.Len(t, res.Packs, 2)

	history, err := store.Transactions(ctx, "investor", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAccrueRewards_ConcurrentCallsCreditOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedWithPacks(t, store, starter(purchased))

	svc := NewService(store, nil, ledger.RetryPolicy{MaxAttempts: 100, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}, nil)
	svc.now = func() time.Time { return purchased.Add(50 * time.Hour) }

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.AccrueRewards(ctx, "investor")
		}()
	}
	wg.Wait()

	acc, err := store.Get(ctx, "investor")
	require.NoError(t, err)
	assert.True(t, acc.BalanceGains.Equal(decimal.NewFromInt(800)))
}

type recordingBonuses struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingBonuses) EvaluateBonuses(context.Context, string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return []string{"l1_15"}, nil
}

func TestAccrueRewards_TriggersBonusesOnlyWhenApplied(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedWithPacks(t, store, starter(purchased))
	bonuses := &recordingBonuses{}

	res, err := serviceAt(store, bonuses, purchased.Add(1*time.Hour)).AccrueRewards(ctx, "investor")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 0, bonuses.calls)

	res, err = serviceAt(store, bonuses, purchased.Add(24*time.Hour)).AccrueRewards(ctx, "investor")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, bonuses.calls)
	assert.Equal(t, []string{"l1_15"}, res.AwardedTiers)
}
