// Package rewards — ежедневное начисление дохода по активным пакетам.
// Начисление идемпотентно: LastAccruedAt двигается только на целые сутки,
// повторный вызов без прошедших суток ничего не пишет.
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/metrics"
)

// Day — период начисления.
const Day = 24 * time.Hour

// PackAccrual — начисление по одному пакету.
type PackAccrual struct {
	PackName string          `json:"packName"`
	Days     int             `json:"days"`
	Amount   decimal.Decimal `json:"amount"`
}

// Result — итог прохода начисления.
type Result struct {
	Applied       bool                `json:"applied"`
	Credited      decimal.Decimal     `json:"credited"`
	DaysProcessed int                 `json:"daysProcessed"`
	Packs         []PackAccrual       `json:"packs,omitempty"`
	Transaction   *ledger.Transaction `json:"transaction,omitempty"`
	AwardedTiers  []string            `json:"awardedTiers,omitempty"`
	Account       *ledger.Account     `json:"account"`
}

// BonusEvaluator — движок бонусов, вызывается после успешного начисления.
type BonusEvaluator interface {
	EvaluateBonuses(ctx context.Context, accountID string) ([]string, error)
}

// Service — движок начислений.
type Service struct {
	store   ledger.Store
	bonuses BonusEvaluator
	retry   ledger.RetryPolicy
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService создаёт движок. bonuses может быть nil (бонусы выключены).
func NewService(store ledger.Store, bonuses BonusEvaluator, retry ledger.RetryPolicy, m *metrics.Metrics) *Service {
	return &Service{store: store, bonuses: bonuses, retry: retry, metrics: m, now: time.Now}
}

// AccrueRewards начисляет доход за все прошедшие целые сутки по каждому пакету.
// Все пакеты дают одну транзакцию gain. Без прошедших суток — no-op.
func (s *Service) AccrueRewards(ctx context.Context, accountID string) (*Result, error) {
	var res Result

	acc, txs, err := ledger.Mutate(ctx, s.store, accountID, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		res = Result{Credited: decimal.Zero}
		now := s.now().UTC()

		for i := range acc.ActivePacks {
			p := &acc.ActivePacks[i]
			elapsed := now.Sub(p.LastAccruedAt)
			if elapsed < Day {
				continue
			}
			days := int(elapsed / Day)
			amount := p.DailyReturn.Mul(decimal.NewFromInt(int64(days)))

			p.LastAccruedAt = p.LastAccruedAt.Add(time.Duration(days) * Day)
			res.Credited = res.Credited.Add(amount)
			res.Packs = append(res.Packs, PackAccrual{PackName: p.PackName, Days: days, Amount: amount})
			if days > res.DaysProcessed {
				res.DaysProcessed = days
			}
		}

		if len(res.Packs) == 0 {
			return nil, ledger.ErrNoop
		}

		acc.Credit(ledger.BalanceGains, res.Credited)
		return []ledger.Transaction{{
			Type:      ledger.TxGain,
			Amount:    res.Credited,
			Detail:    fmt.Sprintf("Gains: %d %s", res.DaysProcessed, common.PluralizeDays(res.DaysProcessed)),
			Status:    ledger.StatusCompleted,
			CreatedAt: now,
		}}, nil
	}, s.retry)
	if err != nil {
		return nil, err
	}

	res.Account = acc
	if len(txs) == 0 {
		return &res, nil
	}

	res.Applied = true
	res.Transaction = &txs[0]
	s.metrics.GainsCredited(res.Credited.InexactFloat64())
	log.WithFields(log.Fields{
		"account_id": accountID,
		"credited":   res.Credited.String(),
		"days":       res.DaysProcessed,
	}).Info("Начислен доход по пакетам")

	if s.bonuses != nil {
		tiers, err := s.bonuses.EvaluateBonuses(ctx, accountID)
		if err != nil {
			log.WithField("account_id", accountID).WithError(err).Warn("Ошибка проверки бонусов после начисления")
		}
		res.AwardedTiers = tiers
	}
	return &res, nil
}
