package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bintex.app/engine/internal/common"
)

// accountRow — строка таблицы accounts для GORM.
type accountRow struct {
	ID                 string          `gorm:"primaryKey;size:64"`
	ReferralCode       string          `gorm:"uniqueIndex;size:32;not null"`
	UplineID           *string         `gorm:"index;size:64"`
	TelegramID         *int64          `gorm:"uniqueIndex"`
	DisplayName        string          `gorm:"size:255"`
	BalanceMain        decimal.Decimal `gorm:"type:text;not null"`
	BalanceGains       decimal.Decimal `gorm:"type:text;not null"`
	BalanceCommissions decimal.Decimal `gorm:"type:text;not null"`
	SpinCredits        int             `gorm:"not null;default:0"`
	ActivePacks        []ActivePack    `gorm:"serializer:json;type:text"`
	ClaimedTiers       []string        `gorm:"serializer:json;type:text"`
	Version            int64           `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (accountRow) TableName() string { return "accounts" }

// transactionRow — строка журнала. Seq задаёт порядок вставки.
type transactionRow struct {
	Seq       uint64          `gorm:"primaryKey;autoIncrement"`
	ID        string          `gorm:"uniqueIndex;size:64"`
	AccountID string          `gorm:"index;size:64;not null"`
	TxType    string          `gorm:"size:32;not null"`
	Amount    decimal.Decimal `gorm:"type:text;not null"`
	Detail    string
	Status    string `gorm:"size:16;not null"`
	CreatedAt time.Time
}

func (transactionRow) TableName() string { return "account_transactions" }

// GormStore — Store поверх GORM (SQLite для одиночного развёртывания и тестов).
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore создаёт хранилище и при необходимости создаёт таблицы.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&accountRow{}, &transactionRow{}); err != nil {
		return nil, fmt.Errorf("ошибка миграции таблиц: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func (r *GormStore) Create(ctx context.Context, acc *Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	now := r.now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	acc.Version = 1

	row := toRow(acc)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("ошибка создания аккаунта: %w", mapGormError(err))
	}
	return nil
}

func (r *GormStore) Get(ctx context.Context, id string) (*Account, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormStore) FindByReferralCode(ctx context.Context, code string) (*Account, error) {
	return r.first(ctx, "referral_code = ?", code)
}

func (r *GormStore) FindByTelegramID(ctx context.Context, telegramID int64) (*Account, error) {
	return r.first(ctx, "telegram_id = ?", telegramID)
}

func (r *GormStore) ListByUpline(ctx context.Context, uplineID string) ([]*Account, error) {
	var rows []accountRow
	if err := r.db.WithContext(ctx).Where("upline_id = ?", uplineID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", mapGormError(err))
	}
	out := make([]*Account, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

func (r *GormStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&accountRow{}).Order("created_at").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения списка аккаунтов: %w", mapGormError(err))
	}
	return ids, nil
}

func (r *GormStore) Apply(ctx context.Context, id string, fn Mutation) (*Account, []Transaction, error) {
	snapshot, err := r.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	readVersion := snapshot.Version

	txs, err := fn(snapshot)
	if errors.Is(err, ErrNoop) {
		return snapshot, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, nil, err
	}

	now := r.now().UTC()
	snapshot.ID = id
	snapshot.Version = readVersion + 1
	snapshot.UpdatedAt = now
	row := toRow(snapshot)

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Select("*") нужен, чтобы нулевые значения тоже попали в UPDATE
		result := tx.Model(&accountRow{}).
			Where("id = ? AND version = ?", id, readVersion).
			Select("*").Omit("id", "created_at", "referral_code", "upline_id", "telegram_id").
			Updates(&row)
		if result.Error != nil {
			return mapGormError(result.Error)
		}
		if result.RowsAffected == 0 {
			return common.ErrConcurrentModification
		}

		for i := range txs {
			fillTransaction(&txs[i], id, now)
			t := txs[i]
			entry := transactionRow{
				ID:        t.ID,
				AccountID: t.AccountID,
				TxType:    string(t.Type),
				Amount:    t.Amount,
				Detail:    t.Detail,
				Status:    t.Status,
				CreatedAt: t.CreatedAt,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("ошибка записи транзакции: %w", mapGormError(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return snapshot, txs, nil
}

func (r *GormStore) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if _, err := r.Get(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []transactionRow
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("seq DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", mapGormError(err))
	}

	out := make([]Transaction, len(rows))
	for i, row := range rows {
		// Переворачиваем: старые первыми
		out[len(rows)-1-i] = Transaction{
			ID:        row.ID,
			AccountID: row.AccountID,
			Type:      TransactionType(row.TxType),
			Amount:    row.Amount,
			Detail:    row.Detail,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

func (r *GormStore) first(ctx context.Context, query string, arg any) (*Account, error) {
	var row accountRow
	err := r.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения аккаунта: %w", mapGormError(err))
	}
	return fromRow(&row), nil
}

func toRow(acc *Account) accountRow {
	packs := acc.ActivePacks
	if packs == nil {
		packs = []ActivePack{}
	}
	claimed := acc.ClaimedTiers
	if claimed == nil {
		claimed = []string{}
	}
	return accountRow{
		ID:                 acc.ID,
		ReferralCode:       acc.ReferralCode,
		UplineID:           acc.UplineID,
		TelegramID:         acc.TelegramID,
		DisplayName:        acc.DisplayName,
		BalanceMain:        acc.BalanceMain,
		BalanceGains:       acc.BalanceGains,
		BalanceCommissions: acc.BalanceCommissions,
		SpinCredits:        acc.SpinCredits,
		ActivePacks:        packs,
		ClaimedTiers:       claimed,
		Version:            acc.Version,
		CreatedAt:          acc.CreatedAt,
		UpdatedAt:          acc.UpdatedAt,
	}
}

func fromRow(row *accountRow) *Account {
	acc := &Account{
		ID:                 row.ID,
		ReferralCode:       row.ReferralCode,
		UplineID:           row.UplineID,
		TelegramID:         row.TelegramID,
		DisplayName:        row.DisplayName,
		BalanceMain:        row.BalanceMain,
		BalanceGains:       row.BalanceGains,
		BalanceCommissions: row.BalanceCommissions,
		SpinCredits:        row.SpinCredits,
		ActivePacks:        row.ActivePacks,
		ClaimedTiers:       row.ClaimedTiers,
		Version:            row.Version,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	return acc.Clone()
}

func mapGormError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", common.ErrDuplicateAccount, err)
	}
	if strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return err
}
