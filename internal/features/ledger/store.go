// Package ledger — store.go описывает контракт хранилища аккаунтов
// и цикл повторов для оптимистичной конкурентности.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
)

// ErrNoop возвращается мутацией, когда менять нечего.
// Apply в этом случае ничего не пишет и не считает это ошибкой.
var ErrNoop = errors.New("нет изменений")

// Mutation получает копию аккаунта, меняет её и возвращает новые записи журнала.
// Любая ошибка (кроме ErrNoop) отменяет всю мутацию целиком.
// Функция может быть вызвана повторно на свежем снимке, поэтому
// не должна иметь внешних побочных эффектов.
type Mutation func(acc *Account) ([]Transaction, error)

// Store — хранилище аккаунтов с атомарным read-modify-write.
type Store interface {
	// Create сохраняет новый аккаунт. ErrDuplicateAccount при конфликте id/кода/telegram id.
	Create(ctx context.Context, acc *Account) error
	// Get возвращает аккаунт или ErrAccountNotFound.
	Get(ctx context.Context, id string) (*Account, error)
	FindByReferralCode(ctx context.Context, code string) (*Account, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*Account, error)
	// ListByUpline возвращает прямых рефералов аккаунта.
	ListByUpline(ctx context.Context, uplineID string) ([]*Account, error)
	// ListIDs возвращает id всех аккаунтов (для фоновых задач).
	ListIDs(ctx context.Context) ([]string, error)
	// Apply читает аккаунт, применяет fn к копии и коммитит состояние
	// вместе с транзакциями, только если версия не изменилась.
	// Иначе — ErrConcurrentModification без частичных эффектов.
	Apply(ctx context.Context, id string, fn Mutation) (*Account, []Transaction, error)
	// Transactions возвращает последние limit записей журнала, старые первыми.
	Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}

// NewTransaction создаёт запись журнала с новым id.
func NewTransaction(accountID string, txType TransactionType, amount decimal.Decimal, detail, status string, at time.Time) Transaction {
	if status == "" {
		status = StatusCompleted
	}
	return Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      txType,
		Amount:    amount,
		Detail:    detail,
		Status:    status,
		CreatedAt: at.UTC(),
	}
}

// fillTransaction дозаполняет поля, которые мутация могла оставить пустыми.
func fillTransaction(tx *Transaction, accountID string, now time.Time) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.AccountID = accountID
	if tx.Status == "" {
		tx.Status = StatusCompleted
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
}

// RetryPolicy — сколько раз и с какой паузой повторять операцию.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnRetry вызывается перед каждым повтором (метрики).
	OnRetry func(err error)
}

// DefaultRetryPolicy — значения по умолчанию, если конфиг не задан.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// Mutate выполняет Apply и повторяет всю операцию со свежего чтения
// при ErrConcurrentModification и ErrStoreUnavailable.
// Когда попытки исчерпаны, возвращает ошибку, оборачивающую ErrStoreUnavailable.
func Mutate(ctx context.Context, store Store, id string, fn Mutation, policy RetryPolicy) (*Account, []Transaction, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		acc, txs, err := store.Apply(ctx, id, fn)
		if err == nil {
			return acc, txs, nil
		}
		if !isRetryable(err) {
			return nil, nil, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err)
		}

		log.WithFields(log.Fields{
			"account_id": id,
			"attempt":    attempt,
		}).WithError(err).Debug("Повтор мутации аккаунта")

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(policy.delay(attempt)):
		}
	}

	return nil, nil, fmt.Errorf("%w: попыток %d: %w", common.ErrStoreUnavailable, policy.MaxAttempts, lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, common.ErrConcurrentModification) || errors.Is(err, common.ErrStoreUnavailable)
}

const (
	maxShift   = 30
	maxBackoff = 30 * time.Second
)

// delay — экспоненциальная пауза с джиттером, ограниченная MaxDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = maxBackoff
	}
	// При переполнении сдвига берём потолок
	d := ceiling
	if attempt >= 1 && attempt <= maxShift {
		shift := uint(attempt - 1)
		if shifted := p.BaseDelay << shift; shifted>>shift == p.BaseDelay && shifted > 0 && shifted < ceiling {
			d = shifted
		}
	}
	return d/2 + rand.N(d/2+1)
}
