// Package purchase — покупка инвестиционных пакетов.
// Покупка — одна атомарная мутация аккаунта покупателя,
// после неё отдельно начисляются комиссии вверх по цепочке.
package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/catalog"
	"bintex.app/engine/internal/features/commission"
	"bintex.app/engine/internal/features/ledger"
	"bintex.app/engine/internal/metrics"
)

// Request — запрос на покупку. Заявленные цена и доход необязательны:
// если переданы, они только сверяются с каталогом.
type Request struct {
	AccountID           string
	PackName            string
	DeclaredPrice       *decimal.Decimal
	DeclaredDailyReturn *decimal.Decimal
}

// Result — итог покупки.
type Result struct {
	Account     *ledger.Account          `json:"account"`
	Pack        catalog.Pack             `json:"pack"`
	Transaction ledger.Transaction       `json:"transaction"`
	Commissions []commission.LevelResult `json:"commissions"`
	Warnings    []string                 `json:"warnings,omitempty"`
}

// CommissionDistributor — движок комиссий.
type CommissionDistributor interface {
	DistributeCommission(ctx context.Context, purchaserID string, price decimal.Decimal) ([]commission.LevelResult, error)
}

// Service — обработчик покупок.
type Service struct {
	store            ledger.Store
	catalog          *catalog.Catalog
	commissions      CommissionDistributor
	retry            ledger.RetryPolicy
	metrics          *metrics.Metrics
	spinsPerPurchase int
	now              func() time.Time
}

// NewService создаёт обработчик покупок.
// spinsPerPurchase — сколько вращений колеса дарится за покупку (0 — не дарится).
func NewService(
	store ledger.Store,
	cat *catalog.Catalog,
	commissions CommissionDistributor,
	retry ledger.RetryPolicy,
	m *metrics.Metrics,
	spinsPerPurchase int,
) *Service {
	return &Service{
		store:            store,
		catalog:          cat,
		commissions:      commissions,
		retry:            retry,
		metrics:          m,
		spinsPerPurchase: spinsPerPurchase,
		now:              time.Now,
	}
}

// PurchasePack списывает цену с основного счёта и активирует пакет.
// Ошибки проверки (неизвестный пакет, несовпадение, нехватка средств)
// ничего не меняют. Сбой комиссий не откатывает покупку.
func (s *Service) PurchasePack(ctx context.Context, req Request) (*Result, error) {
	pack, err := s.catalog.Lookup(req.PackName)
	if err != nil {
		return nil, err
	}
	if req.DeclaredPrice != nil && !req.DeclaredPrice.Equal(pack.Price) {
		return nil, fmt.Errorf("%w: цена %s, в каталоге %s", common.ErrPackMismatch, req.DeclaredPrice, pack.Price)
	}
	if req.DeclaredDailyReturn != nil && !req.DeclaredDailyReturn.Equal(pack.DailyReturn) {
		return nil, fmt.Errorf("%w: доход %s, в каталоге %s", common.ErrPackMismatch, req.DeclaredDailyReturn, pack.DailyReturn)
	}

	acc, txs, err := ledger.Mutate(ctx, s.store, req.AccountID, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		if err := acc.Debit(ledger.BalanceMain, pack.Price); err != nil {
			return nil, fmt.Errorf("%w: нужно %s, на счёте %s", err, pack.Price, acc.BalanceMain)
		}

		now := s.now().UTC()
		acc.ActivePacks = append(acc.ActivePacks, ledger.ActivePack{
			PackName:      pack.Name,
			Price:         pack.Price,
			DailyReturn:   pack.DailyReturn,
			PurchasedAt:   now,
			LastAccruedAt: now,
			Source:        ledger.SourcePurchase,
		})
		acc.SpinCredits += s.spinsPerPurchase

		return []ledger.Transaction{{
			Type:      ledger.TxPurchase,
			Amount:    pack.Price,
			Detail:    "Pack " + pack.Name,
			Status:    ledger.StatusCompleted,
			CreatedAt: now,
		}}, nil
	}, s.retry)
	if err != nil {
		return nil, err
	}

	s.metrics.Purchase(pack.Name)
	log.WithFields(log.Fields{
		"account_id": req.AccountID,
		"pack":       pack.Name,
		"price":      pack.Price.String(),
	}).Info("Пакет куплен")

	result := &Result{Account: acc, Pack: pack, Transaction: txs[0]}

	if s.commissions == nil {
		return result, nil
	}
	levels, err := s.commissions.DistributeCommission(ctx, req.AccountID, pack.Price)
	result.Commissions = levels
	if err != nil {
		log.WithField("account_id", req.AccountID).WithError(err).Warn("Комиссии не распределены")
		result.Warnings = append(result.Warnings, fmt.Sprintf("commissions: %v", err))
	}
	for _, l := range levels {
		if !l.OK() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("commission level %d: %s", l.Level, l.Error))
		}
	}
	return result, nil
}
