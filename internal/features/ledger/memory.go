package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"bintex.app/engine/internal/common"
)

// MemoryStore — хранилище в памяти процесса (тесты, локальный запуск).
// Мутация выполняется без блокировки, коммит проверяет версию под блокировкой,
// так что гонки ведут себя так же, как в Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	txs      map[string][]Transaction
	order    []string
	now      func() time.Time
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		txs:      make(map[string][]Transaction),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, acc *Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return common.ErrDuplicateAccount
	}
	for _, other := range s.accounts {
		if other.ReferralCode == acc.ReferralCode {
			return common.ErrDuplicateAccount
		}
		if acc.TelegramID != nil && other.TelegramID != nil && *other.TelegramID == *acc.TelegramID {
			return common.ErrDuplicateAccount
		}
	}

	now := s.now().UTC()
	stored := acc.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Version = 1
	s.accounts[acc.ID] = stored
	s.order = append(s.order, acc.ID)

	acc.CreatedAt = stored.CreatedAt
	acc.UpdatedAt = stored.UpdatedAt
	acc.Version = stored.Version
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, common.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *MemoryStore) FindByReferralCode(_ context.Context, code string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.ReferralCode == code {
			return acc.Clone(), nil
		}
	}
	return nil, common.ErrAccountNotFound
}

func (s *MemoryStore) FindByTelegramID(_ context.Context, telegramID int64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.TelegramID != nil && *acc.TelegramID == telegramID {
			return acc.Clone(), nil
		}
	}
	return nil, common.ErrAccountNotFound
}

func (s *MemoryStore) ListByUpline(_ context.Context, uplineID string) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Account
	for _, id := range s.order {
		acc := s.accounts[id]
		if acc.UplineID != nil && *acc.UplineID == uplineID {
			out = append(out, acc.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...), nil
}

func (s *MemoryStore) Apply(ctx context.Context, id string, fn Mutation) (*Account, []Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	snapshot, err := s.Get(ctx, id)
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

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[id]
	if !ok {
		return nil, nil, common.ErrAccountNotFound
	}
	if current.Version != readVersion {
		return nil, nil, common.ErrConcurrentModification
	}

	now := s.now().UTC()
	snapshot.ID = id
	snapshot.Version = readVersion + 1
	snapshot.UpdatedAt = now
	for i := range txs {
		fillTransaction(&txs[i], id, now)
	}

	s.accounts[id] = snapshot.Clone()
	s.txs[id] = append(s.txs[id], txs...)
	return snapshot, txs, nil
}

func (s *MemoryStore) Transactions(_ context.Context, accountID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, common.ErrAccountNotFound
	}

	all := s.txs[accountID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Transaction(nil), all...), nil
}
