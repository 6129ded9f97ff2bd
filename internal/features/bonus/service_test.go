package bonus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/config"
	"bintex.app/engine/internal/features/ledger"
)

var testTiers = []Tier{
	{ID: "l1_3", Metric: MetricL1Active, Threshold: 3, Amount: decimal.NewFromInt(5000)},
	{ID: "tot_5", Metric: MetricTotalActive, Threshold: 5, Amount: decimal.NewFromInt(10000)},
	{ID: "l1_10", Metric: MetricL1Active, Threshold: 10, Amount: decimal.NewFromInt(50000)},
}

func addMember(t *testing.T, store ledger.Store, id, upline string, active bool) {
	t.Helper()
	acc := &ledger.Account{ID: id, ReferralCode: "REF-" + id}
	if upline != "" {
		up := upline
		acc.UplineID = &up
	}
	if active {
		acc.ActivePacks = []ledger.ActivePack{{PackName: "Starter", Price: decimal.NewFromInt(2000), DailyReturn: decimal.NewFromInt(400)}}
	}
	require.NoError(t, store.Create(context.Background(), acc))
}

// buildNetwork: root с 3 активными прямыми рефералами, у первого — 2 активных,
// у одного из них — 1 активный (уровень 3) и 1 на уровне 4 (не считается).
func buildNetwork(t *testing.T, store ledger.Store) {
	addMember(t, store, "root", "", false)
	addMember(t, store, "a", "root", true)
	addMember(t, store, "b", "root", true)
	addMember(t, store, "c", "root", true)
	addMember(t, store, "idle", "root", false)
	addMember(t, store, "a1", "a", true)
	addMember(t, store, "a2", "a", true)
	addMember(t, store, "a1x", "a1", true)
	addMember(t, store, "deep", "a1x", true)
}

func TestCountNetwork(t *testing.T) {
	store := ledger.NewMemoryStore()
	buildNetwork(t, store)

	stats, err := CountNetwork(context.Background(), store, "root")
	require.NoError(t, err)
	assert.Equal(t, [NetworkDepth]int{4, 2, 1}, stats.Members)
	assert.Equal(t, 3, stats.L1Active)
	assert.Equal(t, 6, stats.TotalActive)
}

func TestEvaluateBonuses_AwardsOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	buildNetwork(t, store)
	svc := NewService(store, testTiers, ledger.RetryPolicy{MaxAttempts: 3}, nil)

	awarded, err := svc.EvaluateBonuses(ctx, "root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1_3", "tot_5"}, awarded)

	acc, err := store.Get(ctx, "root")
	require.NoError(t, err)
	assert.True(t, acc.BalanceGains.Equal(decimal.NewFromInt(15000)))
	assert.ElementsMatch(t, []string{"l1_3", "tot_5"}, acc.ClaimedTiers)

	history, err := store.Transactions(ctx, "root", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, tx := range history {
		assert.Equal(t, ledger.TxBonus, tx.Type)
	}

	again, err := svc.EvaluateBonuses(ctx, "root")
	require.NoError(t, err)
	assert.Empty(t, again)

	acc, err = store.Get(ctx, "root")
	require.NoError(t, err)
	assert.True(t, acc.BalanceGains.Equal(decimal.NewFromInt(15000)))
}

func TestEvaluateBonuses_BelowThreshold(t *testing.T) {
	store := ledger.NewMemoryStore()
	addMember(t, store, "root", "", false)
	addMember(t, store, "a", "root", true)
	svc := NewService(store, testTiers, ledger.RetryPolicy{MaxAttempts: 1}, nil)

	awarded, err := svc.EvaluateBonuses(context.Background(), "root")
	require.NoError(t, err)
	assert.Empty(t, awarded)
}

func TestEvaluateBonuses_EmptyTable(t *testing.T) {
	store := ledger.NewMemoryStore()
	addMember(t, store, "root", "", false)
	svc := NewService(store, nil, ledger.RetryPolicy{MaxAttempts: 1}, nil)

	_, err := svc.EvaluateBonuses(context.Background(), "root")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestEvaluateBonuses_ConcurrentCallsPayAtMostOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	buildNetwork(t, store)
	policy := ledger.RetryPolicy{MaxAttempts: 100, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
	svc := NewService(store, testTiers, policy, nil)

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded []string
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tiers, err := svc.EvaluateBonuses(ctx, "root")
			if err != nil {
				assert.True(t, errors.Is(err, common.ErrStoreUnavailable), "unexpected error: %v", err)
				return
			}
			mu.Lock()
			awarded = append(awarded, tiers...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"l1_3", "tot_5"}, awarded)

	acc, err := store.Get(ctx, "root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1_3", "tot_5"}, acc.ClaimedTiers)
	assert.True(t, acc.BalanceGains.Equal(decimal.NewFromInt(15000)))

	history, err := store.Transactions(ctx, "root", 100)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTiersFromConfig(t *testing.T) {
	tiers, err := TiersFromConfig([]config.TierEntry{
		{ID: "l1_15", Metric: "l1_active", Threshold: 15, Amount: decimal.NewFromInt(25000)},
		{ID: "tot_50", Metric: "total_active", Threshold: 50, Amount: decimal.NewFromInt(50000)},
	})
	require.NoError(t, err)
	assert.Len(t, tiers, 2)

	bad := [][]config.TierEntry{
		{{ID: "", Metric: "l1_active", Threshold: 1, Amount: decimal.NewFromInt(1)}},
		{{ID: "x", Metric: "followers", Threshold: 1, Amount: decimal.NewFromInt(1)}},
		{{ID: "x", Metric: "l1_active", Threshold: 0, Amount: decimal.NewFromInt(1)}},
		{
			{ID: "x", Metric: "l1_active", Threshold: 1, Amount: decimal.NewFromInt(1)},
			{ID: "x", Metric: "l1_active", Threshold: 2, Amount: decimal.NewFromInt(1)},
		},
		{{ID: "x", Metric: "l1_active", Threshold: 1, Amount: decimal.RequireFromString("25000.001")}},
	}
	for i, entries := range bad {
		_, err := TiersFromConfig(entries)
		assert.ErrorIs(t, err, common.ErrConfiguration, fmt.Sprintf("case %d", i))
	}
}
