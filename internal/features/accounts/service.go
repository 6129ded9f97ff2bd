// Package accounts — регистрация участников, пополнение и заявки на вывод.
package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/common"
	"bintex.app/engine/internal/features/ledger"
)

const (
	// Сколько раз пробуем сгенерировать свободный реферальный код
	codeAttempts = 8
	// После половины неудач код удлиняется
	codeDigits     = 4
	codeDigitsWide = 6
	// Защита от испорченной цепочки при проверке циклов
	maxChainLength = 10_000
)

// RegisterInput — данные нового участника.
type RegisterInput struct {
	ID           string // Пусто — сгенерируем UUID
	TelegramID   *int64
	DisplayName  string
	ReferralCode string // Код пригласившего, может быть пустым
}

// Service — учёт участников.
type Service struct {
	store         ledger.Store
	retry         ledger.RetryPolicy
	codePrefix    string
	minWithdrawal decimal.Decimal
	randomDigits  func(n int) (string, error)
}

// NewService создаёт сервис.
func NewService(store ledger.Store, retry ledger.RetryPolicy, codePrefix string, minWithdrawal decimal.Decimal) *Service {
	return &Service{
		store:         store,
		retry:         retry,
		codePrefix:    codePrefix,
		minWithdrawal: minWithdrawal,
		randomDigits:  randomDigits,
	}
}

// Register создаёт аккаунт. Пригласивший задаётся один раз и навсегда;
// кандидат, в цепочке которого уже есть новый id, отклоняется.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*ledger.Account, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := s.store.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: id %s", common.ErrDuplicateAccount, id)
	} else if !errors.Is(err, common.ErrAccountNotFound) {
		return nil, err
	}
	if in.TelegramID != nil {
		if _, err := s.store.FindByTelegramID(ctx, *in.TelegramID); err == nil {
			return nil, fmt.Errorf("%w: telegram %d", common.ErrDuplicateAccount, *in.TelegramID)
		} else if !errors.Is(err, common.ErrAccountNotFound) {
			return nil, err
		}
	}

	var upline *string
	if code := strings.ToUpper(strings.TrimSpace(in.ReferralCode)); code != "" {
		sponsor, err := s.store.FindByReferralCode(ctx, code)
		if errors.Is(err, common.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrUnknownReferralCode, code)
		}
		if err != nil {
			return nil, err
		}
		if err := s.checkCycle(ctx, id, sponsor); err != nil {
			return nil, err
		}
		upline = &sponsor.ID
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		digits := codeDigits
		if attempt >= codeAttempts/2 {
			digits = codeDigitsWide
		}
		suffix, err := s.randomDigits(digits)
		if err != nil {
			return nil, err
		}

		acc := &ledger.Account{
			ID:           id,
			ReferralCode: s.codePrefix + suffix,
			UplineID:     upline,
			TelegramID:   in.TelegramID,
			DisplayName:  strings.TrimSpace(in.DisplayName),
		}
		err = s.store.Create(ctx, acc)
		if err == nil {
			log.WithFields(log.Fields{
				"account_id":    id,
				"referral_code": acc.ReferralCode,
				"has_upline":    upline != nil,
			}).Info("Зарегистрирован участник")
			return acc, nil
		}
		if !errors.Is(err, common.ErrDuplicateAccount) {
			return nil, err
		}
		// Коллизия кода — пробуем другой
	}
	return nil, fmt.Errorf("%w: не удалось подобрать свободный реферальный код", common.ErrDuplicateAccount)
}

// checkCycle проходит цепочку пригласившего вверх и ищет в ней newID.
func (s *Service) checkCycle(ctx context.Context, newID string, sponsor *ledger.Account) error {
	current := sponsor
	for i := 0; i < maxChainLength; i++ {
		if current.ID == newID {
			return fmt.Errorf("%w: %s", common.ErrReferralCycle, newID)
		}
		if current.UplineID == nil {
			return nil
		}
		next, err := s.store.Get(ctx, *current.UplineID)
		if errors.Is(err, common.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = next
	}
	return fmt.Errorf("%w: цепочка длиннее %d", common.ErrReferralCycle, maxChainLength)
}

// Get возвращает аккаунт.
func (s *Service) Get(ctx context.Context, id string) (*ledger.Account, error) {
	return s.store.Get(ctx, id)
}

// GetByTelegramID возвращает аккаунт по Telegram id.
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*ledger.Account, error) {
	return s.store.FindByTelegramID(ctx, telegramID)
}

// History возвращает последние limit транзакций, старые первыми.
func (s *Service) History(ctx context.Context, id string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Transactions(ctx, id, limit)
}

// Deposit зачисляет подтверждённое пополнение на основной счёт (админ).
func (s *Service) Deposit(ctx context.Context, id string, amount decimal.Decimal, reference string) (*ledger.Account, ledger.Transaction, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ledger.Transaction{}, fmt.Errorf("%w: сумма пополнения должна быть > 0", common.ErrInvalidAmount)
	}

	detail := "Dépôt"
	if ref := strings.TrimSpace(reference); ref != "" {
		detail += " " + ref
	}

	acc, txs, err := ledger.Mutate(ctx, s.store, id, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		acc.Credit(ledger.BalanceMain, amount)
		return []ledger.Transaction{{
			Type:   ledger.TxDeposit,
			Amount: amount,
			Detail: detail,
			Status: ledger.StatusCompleted,
		}}, nil
	}, s.retry)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	log.WithFields(log.Fields{
		"account_id": id,
		"amount":     amount.String(),
		"reference":  reference,
	}).Info("Зачислено пополнение")
	return acc, txs[0], nil
}

// RequestWithdrawal списывает сумму со счёта доходов или комиссий
// и создаёт заявку в статусе pending. Выплату проводит оператор вне движка.
func (s *Service) RequestWithdrawal(ctx context.Context, id string, source ledger.Balance, amount decimal.Decimal) (*ledger.Account, ledger.Transaction, error) {
	if source != ledger.BalanceGains && source != ledger.BalanceCommissions {
		return nil, ledger.Transaction{}, fmt.Errorf("%w: вывод возможен только с gains или commissions", common.ErrInvalidAmount)
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ledger.Transaction{}, fmt.Errorf("%w: сумма вывода должна быть > 0", common.ErrInvalidAmount)
	}
	if amount.LessThan(s.minWithdrawal) {
		return nil, ledger.Transaction{}, fmt.Errorf("%w: минимум %s", common.ErrWithdrawalTooSmall, s.minWithdrawal)
	}

	acc, txs, err := ledger.Mutate(ctx, s.store, id, func(acc *ledger.Account) ([]ledger.Transaction, error) {
		if err := acc.Debit(source, amount); err != nil {
			return nil, err
		}
		return []ledger.Transaction{{
			Type:   ledger.TxWithdrawal,
			Amount: amount,
			Detail: "Retrait " + string(source),
			Status: ledger.StatusPending,
		}}, nil
	}, s.retry)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	log.WithFields(log.Fields{
		"account_id": id,
		"source":     source,
		"amount":     amount.String(),
	}).Info("Создана заявка на вывод")
	return acc, txs[0], nil
}

// randomDigits возвращает n случайных цифр без ведущего нуля.
func randomDigits(n int) (string, error) {
	lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n-1)), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(lo, big.NewInt(10)), lo)
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("ошибка генератора случайных чисел: %w", err)
	}
	return v.Add(v, lo).String(), nil
}

// ReferralLink — ссылка-приглашение для кода.
func ReferralLink(code string) string {
	return "https://bintex.app/ref/" + code
}
