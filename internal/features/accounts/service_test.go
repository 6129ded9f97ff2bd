package accounts

import (
	"context"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/ledger"
)

func newTestService(store ledger.Store) *Service {
	return NewService(store, ledger.RetryPolicy{MaxAttempts: 3}, "BIN", decimal.NewFromInt(1000))
}

func TestRegister_GeneratesCodeAndLinksUpline(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(ledger.NewMemoryStore())

	sponsor, err := svc.Register(ctx, RegisterInput{ID: "sponsor", DisplayName: "Awa"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^BIN[1-9]\d{3}$`), sponsor.ReferralCode)
	assert.Nil(t, sponsor.UplineID)

	tg := int64(5551234)
	child, err := svc.Register(ctx, RegisterInput{TelegramID: &tg, ReferralCode: " " + sponsor.ReferralCode})
	require.NoError(t, err)
	assert.NotEmpty(t, child.ID)
	require.NotNil(t, child.UplineID)
	assert.Equal(t, "sponsor", *child.UplineID)

	found, err := svc.GetByTelegramID(ctx, tg)
	require.NoError(t, err)
	assert.Equal(t, child.ID, found.ID)
}

func TestRegister_Rejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(ledger.NewMemoryStore())

	_, err := svc.Register(ctx, RegisterInput{ID: "a", ReferralCode: "BIN0000"})
	assert.ErrorIs(t, err, common.ErrUnknownReferralCode)

	_, err = svc.Register(ctx, RegisterInput{ID: "a"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{ID: "a"})
	assert.ErrorIs(t, err, common.ErrDuplicateAccount)

	tg := int64(1)
	_, err = svc.Register(ctx, RegisterInput{ID: "b", TelegramID: &tg})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{ID: "c", TelegramID: &tg})
	assert.ErrorIs(t, err, common.ErrDuplicateAccount)
}

func TestRegister_CodeCollisionRetries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(ledger.NewMemoryStore())

	codes := []string{"1234", "1234", "1234", "5678"}
	svc.randomDigits = func(int) (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := svc.Register(ctx, RegisterInput{ID: "first"})
	require.NoError(t, err)
	assert.Equal(t, "BIN1234", first.ReferralCode)

	second, err := svc.Register(ctx, RegisterInput{ID: "second"})
	require.NoError(t, err)
	assert.Equal(t, "BIN5678", second.ReferralCode)
}

func TestCheckCycle(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	svc := newTestService(store)

	// Испорченные данные: x уже числится предком y, регистрация x под y даёт цикл
	require.NoError(t, store.Create(ctx, &ledger.Account{ID: "x", ReferralCode: "BIN1000"}))
	up := "x"
	require.NoError(t, store.Create(ctx, &ledger.Account{ID: "y", ReferralCode: "BIN2000", UplineID: &up}))

	sponsor, err := store.Get(ctx, "y")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.checkCycle(ctx, "x", sponsor), common.ErrReferralCycle)
	assert.NoError(t, svc.checkCycle(ctx, "z", sponsor))
}

func TestDepositAndWithdrawal(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	svc := newTestService(store)
	_, err := svc.Register(ctx, RegisterInput{ID: "u"})
	require.NoError(t, err)

	acc, tx, err := svc.Deposit(ctx, "u", decimal.NewFromInt(15000), "KKIA-42")
	require.NoError(t, err)
	assert.True(t, acc.BalanceMain.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, ledger.TxDeposit, tx.Type)
	assert.Equal(t, "Dépôt KKIA-42", tx.Detail)

	_, _, err = svc.Deposit(ctx, "u", decimal.NewFromInt(-5), "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	// Вывод с основного счёта запрещён
	_, _, err = svc.RequestWithdrawal(ctx, "u", ledger.BalanceMain, decimal.NewFromInt(2000))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, _, err = svc.RequestWithdrawal(ctx, "u", ledger.BalanceGains, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, common.ErrWithdrawalTooSmall)

	_, _, err = svc.RequestWithdrawal(ctx, "u", ledger.BalanceGains, decimal.NewFromInt(2000))
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, _, err = ledger.Mutate(ctx, store, "u", func(a *ledger.Account) ([]ledger.Transaction, error) {
		a.Credit(ledger.BalanceCommissions, decimal.NewFromInt(3000))
		return []ledger.Transaction{{Type: ledger.TxCommission, Amount: decimal.NewFromInt(3000)}}, nil
	}, ledger.RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	acc, tx, err = svc.RequestWithdrawal(ctx, "u", ledger.BalanceCommissions, decimal.NewFromInt(2500))
	require.NoError(t, err)
	assert.True(t, acc.BalanceCommissions.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, ledger.StatusPending, tx.Status)

	history, err := svc.History(ctx, "u", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestAmountsRoundingToZeroAreRejected(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	svc := NewService(store, ledger.RetryPolicy{MaxAttempts: 3}, "BIN", decimal.Zero)
	_, err := svc.Register(ctx, RegisterInput{ID: "u"})
	require.NoError(t, err)

	tiny := decimal.RequireFromString("0.004")
	_, _, err = svc.Deposit(ctx, "u", tiny, "x")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, _, err = ledger.Mutate(ctx, store, "u", func(a *ledger.Account) ([]ledger.Transaction, error) {
		a.Credit(ledger.BalanceGains, decimal.NewFromInt(100))
		return nil, nil
	}, ledger.RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	_, _, err = svc.RequestWithdrawal(ctx, "u", ledger.BalanceGains, tiny)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	history, err := svc.History(ctx, "u", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	// 0.005 округляется до 0.01 и проходит
	_, tx, err := svc.Deposit(ctx, "u", decimal.RequireFromString("0.005"), "")
	require.NoError(t, err)
	assert.Equal(t, "0.01", tx.Amount.StringFixed(2))
}
