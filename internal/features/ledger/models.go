// Package ledger — хранилище аккаунтов и журнал транзакций.
// models.go описывает аккаунт, активные пакеты и транзакции.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"bintex.app/engine/internal/common"
)

// TransactionType — тип записи в журнале.
type TransactionType string

// Допустимые типы транзакций
const (
	TxDeposit    TransactionType = "deposit"    // Пополнение основного счёта
	TxPurchase   TransactionType = "purchase"   // Покупка пакета
	TxGain       TransactionType = "gain"       // Ежедневный доход по пакетам
	TxCommission TransactionType = "commission" // Реферальная комиссия
	TxWithdrawal TransactionType = "withdrawal" // Заявка на вывод
	TxBonus      TransactionType = "bonus"      // Бонус акционера (тир)
	TxWheel      TransactionType = "wheel"      // Приз колеса фортуны
)

// Статусы транзакций
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
)

// Источники активного пакета
const (
	SourcePurchase = "purchase"
	SourceWheel    = "wheel"
)

// Balance — какой из трёх денежных счётчиков затрагивает операция.
type Balance string

const (
	BalanceMain        Balance = "main"
	BalanceGains       Balance = "gains"
	BalanceCommissions Balance = "commissions"
)

// ActivePack — купленный (или выигранный) пакет, принадлежит одному аккаунту.
type ActivePack struct {
	PackName      string          `json:"packName"`
	Price         decimal.Decimal `json:"price"`
	DailyReturn   decimal.Decimal `json:"dailyReturn"`
	PurchasedAt   time.Time       `json:"purchasedAt"`
	LastAccruedAt time.Time       `json:"lastAccruedAt"` // Двигается только на целые сутки
	Source        string          `json:"source"`
}

// Transaction — неизменяемая запись журнала.
type Transaction struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Type      TransactionType `json:"type"`
	Amount    decimal.Decimal `json:"amount"` // Всегда неотрицательная
	Detail    string          `json:"detail"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Account — единственная запись пользователя.
// Меняется только через Store.Apply, историю транзакций хранит Store.
type Account struct {
	ID                 string          `json:"id"`
	ReferralCode       string          `json:"referralCode"`
	UplineID           *string         `json:"uplineId,omitempty"`
	TelegramID         *int64          `json:"telegramId,omitempty"`
	DisplayName        string          `json:"displayName"`
	BalanceMain        decimal.Decimal `json:"balanceMain"`
	BalanceGains       decimal.Decimal `json:"balanceGains"`
	BalanceCommissions decimal.Decimal `json:"balanceCommissions"`
	SpinCredits        int             `json:"spinCredits"`
	ActivePacks        []ActivePack    `json:"activePacks"`
	ClaimedTiers       []string        `json:"claimedTiers"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Clone возвращает глубокую копию аккаунта.
// Мутации получают копию, чтобы неудачная попытка не испортила снимок.
func (a *Account) Clone() *Account {
	c := *a
	if a.UplineID != nil {
		up := *a.UplineID
		c.UplineID = &up
	}
	if a.TelegramID != nil {
		tg := *a.TelegramID
		c.TelegramID = &tg
	}
	c.ActivePacks = append([]ActivePack(nil), a.ActivePacks...)
	c.ClaimedTiers = append([]string(nil), a.ClaimedTiers...)
	return &c
}

// HasClaimed проверяет, выплачен ли уже тир.
func (a *Account) HasClaimed(tierID string) bool {
	for _, id := range a.ClaimedTiers {
		if id == tierID {
			return true
		}
	}
	return false
}

// HasActivePack — есть ли хотя бы один активный пакет.
func (a *Account) HasActivePack() bool {
	return len(a.ActivePacks) > 0
}

// Credit увеличивает указанный счётчик.
func (a *Account) Credit(b Balance, amount decimal.Decimal) {
	switch b {
	case BalanceMain:
		a.BalanceMain = a.BalanceMain.Add(amount)
	case BalanceGains:
		a.BalanceGains = a.BalanceGains.Add(amount)
	case BalanceCommissions:
		a.BalanceCommissions = a.BalanceCommissions.Add(amount)
	}
}

// Debit списывает с указанного счётчика, не допуская минуса.
func (a *Account) Debit(b Balance, amount decimal.Decimal) error {
	current := a.BalanceOf(b)
	if current.LessThan(amount) {
		return common.ErrInsufficientBalance
	}
	a.Credit(b, amount.Neg())
	return nil
}

// BalanceOf возвращает значение счётчика.
func (a *Account) BalanceOf(b Balance) decimal.Decimal {
	switch b {
	case BalanceMain:
		return a.BalanceMain
	case BalanceGains:
		return a.BalanceGains
	case BalanceCommissions:
		return a.BalanceCommissions
	}
	return decimal.Zero
}

// Validate проверяет инварианты, которые обязаны выполняться перед коммитом.
func (a *Account) Validate() error {
	if a.BalanceMain.IsNegative() || a.BalanceGains.IsNegative() ||
		a.BalanceCommissions.IsNegative() || a.SpinCredits < 0 {
		return common.ErrNegativeBalance
	}
	return nil
}
