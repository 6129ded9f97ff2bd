// Package ledger — repository.go хранит аккаунты в PostgreSQL.
// Аккаунт — одна строка accounts со столбцом version,
// журнал — append-only таблица account_transactions.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bintex.app/engine/internal/common"
)

const accountColumns = `
	id, referral_code, upline_id, telegram_id, display_name,
	balance_main::text, balance_gains::text, balance_commissions::text,
	spin_credits, active_packs, claimed_tiers, version, created_at, updated_at`

// PostgresStore — Store поверх пула pgx.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore создаёт хранилище на готовом пуле.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (r *PostgresStore) Create(ctx context.Context, acc *Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	packs, claimed, err := encodeCollections(acc)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	acc.Version = 1

	_, err = r.db.Exec(ctx, `
		INSERT INTO accounts (
			id, referral_code, upline_id, telegram_id, display_name,
			balance_main, balance_gains, balance_commissions,
			spin_credits, active_packs, claimed_tiers, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10::jsonb, $11::jsonb, $12, $13, $14)
	`,
		acc.ID, acc.ReferralCode, acc.UplineID, acc.TelegramID, acc.DisplayName,
		acc.BalanceMain.String(), acc.BalanceGains.String(), acc.BalanceCommissions.String(),
		acc.SpinCredits, packs, claimed, acc.Version, acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания аккаунта: %w", mapPgError(err))
	}
	return nil
}

func (r *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	return r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *PostgresStore) FindByReferralCode(ctx context.Context, code string) (*Account, error) {
	return r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1`, code)
}

func (r *PostgresStore) FindByTelegramID(ctx context.Context, telegramID int64) (*Account, error) {
	return r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE telegram_id = $1`, telegramID)
}

func (r *PostgresStore) ListByUpline(ctx context.Context, uplineID string) ([]*Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE upline_id = $1
		ORDER BY created_at
	`, uplineID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения рефералов: %w", mapPgError(err))
	}
	return out, nil
}

func (r *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка аккаунтов: %w", mapPgError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, mapPgError(rows.Err())
}

// Apply читает строку без блокировки, применяет мутацию и коммитит
// UPDATE ... WHERE version = прочитанная версия. Ноль затронутых строк
// значит, что кто-то успел раньше.
func (r *PostgresStore) Apply(ctx context.Context, id string, fn Mutation) (*Account, []Transaction, error) {
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

	packs, claimed, err := encodeCollections(snapshot)
	if err != nil {
		return nil, nil, err
	}

	now := r.now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка начала транзакции: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET
			display_name = $3,
			balance_main = $4::numeric,
			balance_gains = $5::numeric,
			balance_commissions = $6::numeric,
			spin_credits = $7,
			active_packs = $8::jsonb,
			claimed_tiers = $9::jsonb,
			version = version + 1,
			updated_at = $10
		WHERE id = $1 AND version = $2
	`,
		id, readVersion, snapshot.DisplayName,
		snapshot.BalanceMain.String(), snapshot.BalanceGains.String(), snapshot.BalanceCommissions.String(),
		snapshot.SpinCredits, packs, claimed, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка обновления аккаунта: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, common.ErrConcurrentModification
	}

	for i := range txs {
		fillTransaction(&txs[i], id, now)
		t := txs[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_transactions (id, account_id, tx_type, amount, detail, status, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		`, t.ID, t.AccountID, string(t.Type), t.Amount.String(), t.Detail, t.Status, t.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("ошибка записи транзакции: %w", mapPgError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("ошибка фиксации транзакции: %w", mapPgError(err))
	}

	snapshot.Version = readVersion + 1
	snapshot.UpdatedAt = now
	return snapshot, txs, nil
}

func (r *PostgresStore) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	// Берём последние N и переворачиваем в хронологический порядок
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, tx_type, amount::text, detail, status, created_at
		FROM (
			SELECT * FROM account_transactions
			WHERE account_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", mapPgError(err))
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t      Transaction
			txType string
			amount string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &txType, &amount, &t.Detail, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		t.Type = TransactionType(txType)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("некорректная сумма транзакции %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, mapPgError(rows.Err())
}

func (r *PostgresStore) queryOne(ctx context.Context, query string, arg any) (*Account, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		acc                     Account
		main, gains, commission string
		packs, claimed          []byte
	)
	err := row.Scan(
		&acc.ID, &acc.ReferralCode, &acc.UplineID, &acc.TelegramID, &acc.DisplayName,
		&main, &gains, &commission,
		&acc.SpinCredits, &packs, &claimed, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения аккаунта: %w", mapPgError(err))
	}

	if acc.BalanceMain, err = decimal.NewFromString(main); err != nil {
		return nil, fmt.Errorf("некорректный balance_main: %w", err)
	}
	if acc.BalanceGains, err = decimal.NewFromString(gains); err != nil {
		return nil, fmt.Errorf("некорректный balance_gains: %w", err)
	}
	if acc.BalanceCommissions, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("некорректный balance_commissions: %w", err)
	}
	if err := json.Unmarshal(packs, &acc.ActivePacks); err != nil {
		return nil, fmt.Errorf("некорректный active_packs: %w", err)
	}
	if err := json.Unmarshal(claimed, &acc.ClaimedTiers); err != nil {
		return nil, fmt.Errorf("некорректный claimed_tiers: %w", err)
	}
	return &acc, nil
}

func encodeCollections(acc *Account) (string, string, error) {
	packs := acc.ActivePacks
	if packs == nil {
		packs = []ActivePack{}
	}
	claimed := acc.ClaimedTiers
	if claimed == nil {
		claimed = []string{}
	}

	p, err := json.Marshal(packs)
	if err != nil {
		return "", "", fmt.Errorf("ошибка сериализации пакетов: %w", err)
	}
	c, err := json.Marshal(claimed)
	if err != nil {
		return "", "", fmt.Errorf("ошибка сериализации тиров: %w", err)
	}
	return string(p), string(c), nil
}

// mapPgError переводит ошибки драйвера в ошибки домена.
// Обрыв соединения и прочие безопасные для повтора ошибки — ErrStoreUnavailable.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", common.ErrDuplicateAccount, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", common.ErrConcurrentModification, pgErr.Message)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return err
}
