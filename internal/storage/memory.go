package storage

import (
	"context"
	"sort"
	"sync"

	"stakepool/internal/model"
)

// MemoryStore keeps state in process memory. Used for tests and ephemeral
// runs.
type MemoryStore struct {
	mu       sync.Mutex
	pool     *model.PoolRecord
	accounts map[string]model.AccountRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]model.AccountRecord)}
}

func (s *MemoryStore) Load(ctx context.Context) (model.PoolRecord, []model.AccountRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return model.PoolRecord{}, nil, false, nil
	}
	return *s.pool, s.sortedAccounts(), true, nil
}

func (s *MemoryStore) SavePool(ctx context.Context, pool model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = &pool
	return nil
}

func (s *MemoryStore) SaveAccount(ctx context.Context, account model.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.AccountID] = account
	return nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, accountID)
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, fromIndex, limit uint64) ([]model.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedAccounts()
	if fromIndex >= uint64(len(all)) || limit == 0 {
		return nil, nil
	}
	end := fromIndex + limit
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}
	return all[fromIndex:end], nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) sortedAccounts() []model.AccountRecord {
	out := make([]model.AccountRecord, 0, len(s.accounts))
	for _, rec := range s.accounts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
