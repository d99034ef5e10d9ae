package storage

import (
	"context"

	"stakepool/internal/model"
)

// Store persists the pool record and the per-account ledger entries. Records
// are written whole (atomic per record); account listings support partial
// reads for pagination.
type Store interface {
	// Load returns the persisted state, with found=false when the store
	// holds no pool yet.
	Load(ctx context.Context) (pool model.PoolRecord, accounts []model.AccountRecord, found bool, err error)
	// SavePool upserts the pool-wide record.
	SavePool(ctx context.Context, pool model.PoolRecord) error
	// SaveAccount upserts one account record.
	SaveAccount(ctx context.Context, account model.AccountRecord) error
	// DeleteAccount removes an account record; deleting a missing account
	// is not an error.
	DeleteAccount(ctx context.Context, accountID string) error
	// ListAccounts returns a page of account records ordered by account ID.
	ListAccounts(ctx context.Context, fromIndex, limit uint64) ([]model.AccountRecord, error)
	// Close releases the underlying resources.
	Close()
}
