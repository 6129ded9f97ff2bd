// Package commission распределяет реферальные комиссии вверх по цепочке.
// Каждый уровень — отдельная атомарная мутация одного аккаунта.
package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/metrics"
)

// LevelResult — итог начисления на одном уровне.
type LevelResult struct {
	Level       int                 `json:"level"`
	AccountID   string              `json:"accountId"`
	Amount      decimal.Decimal     `json:"amount"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
}

// OK — начисление прошло.
func (r LevelResult) OK() bool { return r.Err == nil }

// Service — движок комиссий.
type Service struct {
	store   ledger.Store
	rates   []decimal.Decimal
	retry   ledger.RetryPolicy
	metrics *metrics.Metrics
}

// NewService создаёт движок. rates[0] — ставка прямого реферера.
func NewService(store ledger.Store, rates []decimal.Decimal, retry ledger.RetryPolicy, m *metrics.Metrics) *Service {
	return &Service{store: store, rates: rates, retry: retry, metrics: m}
}

// Levels — сколько уровней оплачивается.
func (s *Service) Levels() int { return len(s.rates) }

// DistributeCommission начисляет комиссии предкам покупателя.
// Отсутствующий предок обрывает цепочку без ошибки.
// Ошибка на одном уровне попадает в его результат и не мешает следующим.
func (s *Service) DistributeCommission(ctx context.Context, purchaserID string, price decimal.Decimal) ([]LevelResult, error) {
	if len(s.rates) == 0 {
		return nil, fmt.Errorf("%w: таблица ставок комиссий пуста", common.ErrConfiguration)
	}

	purchaser, err := s.store.Get(ctx, purchaserID)
	if err != nil {
		return nil, fmt.Errorf("покупатель %s: %w", purchaserID, err)
	}

	var results []LevelResult
	next := purchaser.UplineID
	for level := 1; level <= len(s.rates) && next != nil; level++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		ancestorID := *next
		amount := price.Mul(s.rates[level-1]).Round(2)
		detail := fmt.Sprintf("Commission niveau %d (%s)", level, purchaser.ReferralCode)

		acc, txs, err := ledger.Mutate(ctx, s.store, ancestorID, func(acc *ledger.Account) ([]ledger.Transaction, error) {
			if !amount.IsPositive() {
				return nil, ledger.ErrNoop
			}
			acc.Credit(ledger.BalanceCommissions, amount)
			return []ledger.Transaction{{
				Type:   ledger.TxCommission,
				Amount: amount,
				Detail: detail,
				Status: ledger.StatusCompleted,
			}}, nil
		}, s.retry)

		if errors.Is(err, common.ErrAccountNotFound) {
			break
		}

		result := LevelResult{Level: level, AccountID: ancestorID, Amount: amount}
		if err != nil {
			result.Err = err
			result.Error = err.Error()
			s.metrics.CommissionCredit(level, false)
			log.WithFields(log.Fields{
				"purchaser": purchaserID,
				"ancestor":  ancestorID,
				"level":     level,
			}).WithError(err).Warn("Не удалось начислить комиссию")

			// upline неизменяем, поэтому чтение отдельно от мутации безопасно
			ancestor, getErr := s.store.Get(ctx, ancestorID)
			results = append(results, result)
			if getErr != nil {
				break
			}
			next = ancestor.UplineID
			continue
		}

		if len(txs) > 0 {
			result.Transaction = &txs[0]
		}
		s.metrics.CommissionCredit(level, true)
		results = append(results, result)
		next = acc.UplineID
	}

	return results, nil
}
