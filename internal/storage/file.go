package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"stakepool/internal/model"
)

// FileStore persists the whole state as a single JSON snapshot, rewritten
// atomically (tmp file + rename) on every change.
type FileStore struct {
	path string

	mu       sync.Mutex
	loaded   bool
	pool     *model.PoolRecord
	accounts map[string]model.AccountRecord
}

type fileSnapshot struct {
	Pool      *model.PoolRecord     `json:"pool"`
	Accounts  []model.AccountRecord `json:"accounts"`
	UpdatedAt string                `json:"updated_at"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, accounts: make(map[string]model.AccountRecord)}
}

func (s *FileStore) Load(ctx context.Context) (model.PoolRecord, []model.AccountRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return model.PoolRecord{}, nil, false, err
	}
	if s.pool == nil {
		return model.PoolRecord{}, nil, false, nil
	}
	return *s.pool, s.sortedAccounts(), true, nil
}

func (s *FileStore) SavePool(ctx context.Context, pool model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.pool = &pool
	return s.writeLocked()
}

func (s *FileStore) SaveAccount(ctx context.Context, account model.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.accounts[account.AccountID] = account
	return s.writeLocked()
}

func (s *FileStore) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	delete(s.accounts, accountID)
	return s.writeLocked()
}

func (s *FileStore) ListAccounts(ctx context.Context, fromIndex, limit uint64) ([]model.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
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

func (s *FileStore) Close() {}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	s.pool = snap.Pool
	s.accounts = make(map[string]model.AccountRecord, len(snap.Accounts))
	for _, rec := range snap.Accounts {
		s.accounts[rec.AccountID] = rec
	}
	s.loaded = true
	return nil
}

func (s *FileStore) writeLocked() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	snap := fileSnapshot{
		Pool:      s.pool,
		Accounts:  s.sortedAccounts(),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (s *FileStore) sortedAccounts() []model.AccountRecord {
	out := make([]model.AccountRecord, 0, len(s.accounts))
	for _, rec := range s.accounts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
