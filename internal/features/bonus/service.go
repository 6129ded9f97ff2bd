package bonus

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/metrics"
)

// Service — движок бонусов акционера.
type Service struct {
	store   ledger.Store
	tiers   []Tier
	retry   ledger.RetryPolicy
	metrics *metrics.Metrics
}

// NewService создаёт движок с таблицей тиров.
func NewService(store ledger.Store, tiers []Tier, retry ledger.RetryPolicy, m *metrics.Metrics) *Service {
	return &Service{store: store, tiers: tiers, retry: retry, metrics: m}
}

// Tiers возвращает таблицу тиров.
func (s *Service) Tiers() []Tier {
	return append([]Tier(nil), s.tiers...)
}

// Network возвращает статистику сети аккаунта.
func (s *Service) Network(ctx context.Context, accountID string) (NetworkStats, error) {
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return NetworkStats{}, err
	}
	return CountNetwork(ctx, s.store, accountID)
}

// EvaluateBonuses выплачивает все тиры, порог которых достигнут и которые ещё не выплачены.
// Проверка claimed и начисление — в одной мутации, поэтому тир не выплачивается
// дважды даже при параллельных вызовах. Возвращает id новых тиров.
func (s *Service) EvaluateBonuses(ctx context.Context, accountID string) ([]string, error) {
	if len(s.tiers) == 0 {
		return nil, fmt.Errorf("%w: таблица тиров бонусов пуста", common.ErrConfiguration)
	}

	stats, err := s.Network(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var awarded []string
	_, _, err = ledger.Mutate(ctx, s.store, accountID, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		awarded = awarded[:0]
		var txs []ledger.Transaction
		for _, tier := range s.tiers {
			if acc.HasClaimed(tier.ID) || stats.Value(tier.Metric) < tier.Threshold {
				continue
			}
			acc.ClaimedTiers = append(acc.ClaimedTiers, tier.ID)
			acc.Credit(ledger.BalanceGains, tier.Amount)
			txs = append(txs, ledger.Transaction{
				Type:   ledger.TxBonus,
				Amount: tier.Amount,
				Detail: bonusDetail(tier),
				Status: ledger.StatusCompleted,
			})
			awarded = append(awarded, tier.ID)
		}
		if len(txs) == 0 {
			return nil, ledger.ErrNoop
		}
		return txs, nil
	}, s.retry)
	if err != nil {
		return nil, err
	}

	for _, id := range awarded {
		s.metrics.BonusAward(id)
	}
	if len(awarded) > 0 {
		log.WithFields(log.Fields{
			"account_id":   accountID,
			"tiers":        awarded,
			"l1_active":    stats.L1Active,
			"total_active": stats.TotalActive,
		}).Info("Выплачены бонусы акционера")
	}
	return awarded, nil
}

func bonusDetail(t Tier) string {
	if t.Label != "" {
		return "Bonus " + t.Label
	}
	return "Bonus " + t.ID
}
