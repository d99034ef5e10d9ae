package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakepool/internal/model"
)

// Store provides Postgres persistence for the pool and account records.
//
// Expected schema:
//
//	CREATE TABLE staking_pool (
//	    id                   smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
//	    owner_id             text NOT NULL,
//	    stake_public_key     text NOT NULL,
//	    fee_numerator        bigint NOT NULL,
//	    fee_denominator      bigint NOT NULL,
//	    last_epoch_height    bigint NOT NULL,
//	    last_total_balance   numeric NOT NULL,
//	    total_staked_balance numeric NOT NULL,
//	    total_stake_shares   numeric NOT NULL,
//	    genesis_shares       numeric NOT NULL,
//	    unlock_epochs        bigint NOT NULL,
//	    paused               boolean NOT NULL,
//	    updated_at           timestamptz NOT NULL
//	);
//
//	CREATE TABLE staking_accounts (
//	    account_id                      text PRIMARY KEY,
//	    unstaked_balance                numeric NOT NULL,
//	    stake_shares                    numeric NOT NULL,
//	    unstaked_available_epoch_height bigint NOT NULL,
//	    updated_at                      timestamptz NOT NULL
//	);
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load reads the pool record and every account record.
func (s *Store) Load(ctx context.Context) (model.PoolRecord, []model.AccountRecord, bool, error) {
	var rec model.PoolRecord
	row := s.pool.QueryRow(ctx, `
		SELECT owner_id, stake_public_key, fee_numerator, fee_denominator,
		       last_epoch_height, last_total_balance::text, total_staked_balance::text,
		       total_stake_shares::text, genesis_shares::text, unlock_epochs, paused
		FROM staking_pool WHERE id = 1
	`)
	var feeNum, feeDen, lastEpoch, unlockEpochs int64
	if err := row.Scan(
		&rec.OwnerID, &rec.StakePublicKey, &feeNum, &feeDen,
		&lastEpoch, &rec.LastTotalBalance, &rec.TotalStakedBalance,
		&rec.TotalStakeShares, &rec.GenesisShares, &unlockEpochs, &rec.Paused,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PoolRecord{}, nil, false, nil
		}
		return model.PoolRecord{}, nil, false, err
	}
	rec.RewardFee = model.RewardFeeFraction{Numerator: uint64(feeNum), Denominator: uint64(feeDen)}
	rec.LastEpochHeight = uint64(lastEpoch)
	rec.UnlockEpochs = uint64(unlockEpochs)

	rows, err := s.pool.Query(ctx, `
		SELECT account_id, unstaked_balance::text, stake_shares::text, unstaked_available_epoch_height
		FROM staking_accounts ORDER BY account_id
	`)
	if err != nil {
		return model.PoolRecord{}, nil, false, err
	}
	defer rows.Close()

	var accounts []model.AccountRecord
	for rows.Next() {
		ar, err := scanAccount(rows)
		if err != nil {
			return model.PoolRecord{}, nil, false, err
		}
		accounts = append(accounts, ar)
	}
	if err := rows.Err(); err != nil {
		return model.PoolRecord{}, nil, false, err
	}
	return rec, accounts, true, nil
}

// SavePool upserts the singleton pool record.
func (s *Store) SavePool(ctx context.Context, rec model.PoolRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staking_pool (
			id, owner_id, stake_public_key, fee_numerator, fee_denominator,
			last_epoch_height, last_total_balance, total_staked_balance,
			total_stake_shares, genesis_shares, unlock_epochs, paused, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11, now())
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			stake_public_key = EXCLUDED.stake_public_key,
			fee_numerator = EXCLUDED.fee_numerator,
			fee_denominator = EXCLUDED.fee_denominator,
			last_epoch_height = EXCLUDED.last_epoch_height,
			last_total_balance = EXCLUDED.last_total_balance,
			total_staked_balance = EXCLUDED.total_staked_balance,
			total_stake_shares = EXCLUDED.total_stake_shares,
			genesis_shares = EXCLUDED.genesis_shares,
			unlock_epochs = EXCLUDED.unlock_epochs,
			paused = EXCLUDED.paused,
			updated_at = now()
	`,
		rec.OwnerID,
		rec.StakePublicKey,
		int64(rec.RewardFee.Numerator),
		int64(rec.RewardFee.Denominator),
		int64(rec.LastEpochHeight),
		rec.LastTotalBalance,
		rec.TotalStakedBalance,
		rec.TotalStakeShares,
		rec.GenesisShares,
		int64(rec.UnlockEpochs),
		rec.Paused,
	)
	return err
}

// SaveAccount upserts one account record.
func (s *Store) SaveAccount(ctx context.Context, ar model.AccountRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staking_accounts (
			account_id, unstaked_balance, stake_shares, unstaked_available_epoch_height, updated_at
		) VALUES ($1, $2::numeric, $3::numeric, $4, now())
		ON CONFLICT (account_id) DO UPDATE SET
			unstaked_balance = EXCLUDED.unstaked_balance,
			stake_shares = EXCLUDED.stake_shares,
			unstaked_available_epoch_height = EXCLUDED.unstaked_available_epoch_height,
			updated_at = now()
	`,
		ar.AccountID,
		ar.UnstakedBalance,
		ar.StakeShares,
		int64(ar.UnstakedAvailableEpochHeight),
	)
	return err
}

// DeleteAccount removes an account record.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM staking_accounts WHERE account_id = $1`, accountID)
	return err
}

// ListAccounts returns a page of account records ordered by account ID.
func (s *Store) ListAccounts(ctx context.Context, fromIndex, limit uint64) ([]model.AccountRecord, error) {
	if limit == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, unstaked_balance::text, stake_shares::text, unstaked_available_epoch_height
		FROM staking_accounts ORDER BY account_id OFFSET $1 LIMIT $2
	`, int64(fromIndex), int64(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.AccountRecord
	for rows.Next() {
		ar, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func scanAccount(rows pgx.Rows) (model.AccountRecord, error) {
	var ar model.AccountRecord
	var unlockEpoch int64
	if err := rows.Scan(&ar.AccountID, &ar.UnstakedBalance, &ar.StakeShares, &unlockEpoch); err != nil {
		return model.AccountRecord{}, err
	}
	ar.UnstakedAvailableEpochHeight = uint64(unlockEpoch)
	return ar, nil
}
