package wheel

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

// Outcome — результат вращения.
type Outcome struct {
	Roll        int                `json:"roll"`
	Prize       Segment            `json:"prize"`
	Transaction ledger.Transaction `json:"transaction"`
	Account     *ledger.Account    `json:"account"`
}

// Service — колесо фортуны.
type Service struct {
	store   ledger.Store
	table   *Table
	roll    RollFunc
	retry   ledger.RetryPolicy
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService создаёт колесо. table == nil — колесо не настроено.
func NewService(store ledger.Store, table *Table, retry ledger.RetryPolicy, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		table:   table,
		roll:    CryptoRoll,
		retry:   retry,
		metrics: m,
		now:     time.Now,
	}
}

// Table — текущая таблица (может быть nil).
func (s *Service) Table() *Table { return s.table }

// SpinWheel списывает один спин-кредит и применяет приз.
// Бросок, списание и приз — одна мутация: бросок не теряется и не повторяется.
func (s *Service) SpinWheel(ctx context.Context, accountID string) (*Outcome, error) {
	if s.table == nil {
		return nil, fmt.Errorf("%w: колесо не настроено", common.ErrConfiguration)
	}

	var (
		roll  int
		prize Segment
	)
	acc, txs, err := ledger.Mutate(ctx, s.store, accountID, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		if acc.SpinCredits <= 0 {
			return nil, common.ErrNoSpinsAvailable
		}

		r, err := s.roll()
		if err != nil {
			return nil, err
		}
		if r < 0 || r > RollMax {
			return nil, fmt.Errorf("бросок %d вне диапазона [0, %d]", r, RollMax)
		}
		roll = r
		prize = s.table.Resolve(r)
		now := s.now().UTC()

		acc.SpinCredits--
		tx := ledger.Transaction{
			Type:      ledger.TxWheel,
			Amount:    decimal.Zero,
			Detail:    "Roue: " + prize.Label,
			Status:    ledger.StatusCompleted,
			CreatedAt: now,
		}

		switch prize.Kind {
		case PrizeCash:
			acc.Credit(ledger.BalanceGains, prize.Amount)
			tx.Amount = prize.Amount
		case PrizePack:
			pack := s.table.packs[prize.Pack]
			acc.ActivePacks = append(acc.ActivePacks, ledger.ActivePack{
				PackName:      pack.Name,
				Price:         pack.Price,
				DailyReturn:   pack.DailyReturn,
				PurchasedAt:   now,
				LastAccruedAt: now,
				Source:        ledger.SourceWheel,
			})
		}
		return []ledger.Transaction{tx}, nil
	}, s.retry)
	if err != nil {
		return nil, err
	}

	s.metrics.WheelSpin(string(prize.Kind))
	log.WithFields(log.Fields{
		"account_id": accountID,
		"roll":       roll,
		"prize":      prize.Label,
	}).Info("Колесо прокручено")

	return &Outcome{Roll: roll, Prize: prize, Transaction: txs[0], Account: acc}, nil
}

// GrantSpins добавляет спин-кредиты (админ). Деньги не двигаются, транзакция не пишется.
func (s *Service) GrantSpins(ctx context.Context, accountID string, n int) (*ledger.Account, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: количество вращений должно быть > 0", common.ErrInvalidAmount)
	}
	acc, _, err := ledger.Mutate(ctx, s.store, accountID, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		acc.SpinCredits += n
		return nil, nil
	}, s.retry)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"account_id": accountID, "spins": n}).Info("Выданы вращения колеса")
	return acc, nil
}
