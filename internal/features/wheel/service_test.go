package wheel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/catalog"
	"bintex.app/engine/internal/features/ledger"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Pack{
		{Name: "Starter", Price: decimal.NewFromInt(2000), DailyReturn: decimal.NewFromInt(400)},
		{Name: "Basic", Price: decimal.NewFromInt(5000), DailyReturn: decimal.NewFromInt(1000)},
	})
	require.NoError(t, err)
	return c
}

func sampleSegments() []Segment {
	return []Segment{
		{UpTo: 600, Kind: PrizeNone},
		{UpTo: 900, Kind: PrizeCash, Amount: decimal.NewFromInt(200)},
		{UpTo: 997, Kind: PrizeCash, Amount: decimal.NewFromInt(1000)},
		{UpTo: 998, Kind: PrizePack, Pack: "starter"},
		{UpTo: 999, Kind: PrizePack, Pack: "Basic"},
	}
}

func TestNewTable_Partition(t *testing.T) {
	cat := testCatalog(t)
	table, err := NewTable(sampleSegments(), cat)
	require.NoError(t, err)

	// Каждый бросок попадает ровно в один сегмент, сумма шансов — 1000
	total := 0
	for i := range table.Segments() {
		total += table.Odds(i)
	}
	assert.Equal(t, RollMax+1, total)

	assert.Equal(t, PrizeNone, table.Resolve(0).Kind)
	assert.Equal(t, PrizeNone, table.Resolve(600).Kind)
	assert.Equal(t, PrizeCash, table.Resolve(601).Kind)
	assert.True(t, table.Resolve(997).Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "Starter", table.Resolve(998).Pack)
	assert.Equal(t, "Basic", table.Resolve(999).Pack)
}

func TestNewTable_Rejects(t *testing.T) {
	cat := testCatalog(t)
	cases := map[string][]Segment{
		"empty":        nil,
		"gap at end":   {{UpTo: 500, Kind: PrizeNone}, {UpTo: 998, Kind: PrizeNone}},
		"overlap":      {{UpTo: 500, Kind: PrizeNone}, {UpTo: 500, Kind: PrizeNone}, {UpTo: 999, Kind: PrizeNone}},
		"descending":   {{UpTo: 700, Kind: PrizeNone}, {UpTo: 300, Kind: PrizeNone}, {UpTo: 999, Kind: PrizeNone}},
		"negative":     {{UpTo: -1, Kind: PrizeNone}, {UpTo: 999, Kind: PrizeNone}},
		"past end":     {{UpTo: 1000, Kind: PrizeNone}},
		"unknown kind": {{UpTo: 999, Kind: "jackpot"}},
		"unknown pack": {{UpTo: 999, Kind: PrizePack, Pack: "Royal"}},
		"cash no sum":  {{UpTo: 999, Kind: PrizeCash}},
		"cash 3 dp":    {{UpTo: 999, Kind: PrizeCash, Amount: decimal.RequireFromString("50.125")}},
	}
	for name, segs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(segs, cat)
			assert.ErrorIs(t, err, common.ErrConfiguration)
		})
	}
}

func setup(t *testing.T, credits int, roll int) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &ledger.Account{
		ID:           "player",
		ReferralCode: "BIN4242",
		SpinCredits:  credits,
	}))
	table, err := NewTable(sampleSegments(), testCatalog(t))
	require.NoError(t, err)

	svc := NewService(store, table, ledger.RetryPolicy{MaxAttempts: 3}, nil)
	svc.roll = func() (int, error) { return roll, nil }
	return svc, store
}

func TestSpinWheel_CashPrize(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, 1, 750)

	out, err := svc.SpinWheel(ctx, "player")
	require.NoError(t, err)
	assert.Equal(t, 750, out.Roll)
	assert.Equal(t, PrizeCash, out.Prize.Kind)
	assert.Equal(t, 0, out.Account.SpinCredits)
	assert.True(t, out.Account.BalanceGains.Equal(decimal.NewFromInt(200)))

	history, err := store.Transactions(ctx, "player", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.TxWheel, history[0].Type)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(200)))
}

func TestSpinWheel_PackPrize(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, 2, 999)

	out, err := svc.SpinWheel(ctx, "player")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Account.SpinCredits)
	require.Len(t, out.Account.ActivePacks, 1)
	pack := out.Account.ActivePacks[0]
	assert.Equal(t, "Basic", pack.PackName)
	assert.Equal(t, ledger.SourceWheel, pack.Source)
	assert.True(t, pack.DailyReturn.Equal(decimal.NewFromInt(1000)))
	assert.True(t, out.Account.BalanceMain.IsZero())
	assert.True(t, out.Transaction.Amount.IsZero())
}

func TestSpinWheel_NothingWon(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, 1, 0)

	out, err := svc.SpinWheel(ctx, "player")
	require.NoError(t, err)
	assert.Equal(t, PrizeNone, out.Prize.Kind)
	assert.Equal(t, 0, out.Account.SpinCredits)

	history, err := store.Transactions(ctx, "player", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSpinWheel_NoCredits(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, 0, 500)

	_, err := svc.SpinWheel(ctx, "player")
	assert.ErrorIs(t, err, common.ErrNoSpinsAvailable)

	history, err := store.Transactions(ctx, "player", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSpinWheel_Unconfigured(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore(), nil, ledger.RetryPolicy{MaxAttempts: 1}, nil)
	_, err := svc.SpinWheel(context.Background(), "player")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestGrantSpins(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, 0, 0)

	acc, err := svc.GrantSpins(ctx, "player", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, acc.SpinCredits)

	_, err = svc.GrantSpins(ctx, "player", 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	history, err := store.Transactions(ctx, "player", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCryptoRollInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		r, err := CryptoRoll()
		require.NoError(t, err)
		require.GreaterOrEqual(t, r, 0)
		require.LessOrEqual(t, r, RollMax)
	}
}

func TestSpinWheel_ConcurrentSpinsUseSingleCredit(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, 1, 750)
	svc.retry = ledger.RetryPolicy{MaxAttempts: 100, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SpinWheel(ctx, "player")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	require.Len(t, errs, n-1)
	for _, err := range errs {
		assert.ErrorIs(t, err, common.ErrNoSpinsAvailable)
	}

	acc, err := store.Get(ctx, "player")
	require.NoError(t, err)
	assert.Zero(t, acc.SpinCredits)
	assert.True(t, acc.BalanceGains.Equal(decimal.NewFromInt(200)))

	history, err := store.Transactions(ctx, "player", 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.TxWheel, history[0].Type)
}
