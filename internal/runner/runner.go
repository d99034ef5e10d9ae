package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"stakepool/internal/model"
	"stakepool/internal/pool"
	"stakepool/internal/storage"
)

// Chain is the host-node surface the runner depends on. Fact reads
// (EpochHeight, AccountBalance) may be retried; the contract operations
// (SetStake, Transfer, CastVote) run exactly once and their error is the
// settlement outcome.
type Chain interface {
	EpochHeight(ctx context.Context) (uint64, error)
	AccountBalance(ctx context.Context, accountID string) (*uint256.Int, error)
	SetStake(ctx context.Context, amount *uint256.Int, publicKey string) error
	Transfer(ctx context.Context, to string, amount *uint256.Int) error
	CastVote(ctx context.Context, votingAccountID string, isVote bool) error
}

// RunConfig holds runtime settings for the runner.
type RunConfig struct {
	PoolAccountID string
	MaxRetries    int
	RetryBackoff  time.Duration
	PingInterval  time.Duration
}

// Runner owns the single pool state and serializes every operation against
// it: one call at a time acquires the lock, observes host facts, runs the
// ledger operation, dispatches the returned intent, settles with the outcome
// and persists before the next call may enter.
type Runner struct {
	cfg    RunConfig
	chain  Chain
	pool   *pool.Pool
	store  storage.Store
	logger *zap.Logger

	mu sync.Mutex
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, chainClient Chain, p *pool.Pool, store storage.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		chain:  chainClient,
		pool:   p,
		store:  store,
		logger: logger,
	}
}

// Run blocks until ctx is cancelled, pinging the pool on a fixed interval so
// rewards are distributed even when no depositor is active. With a zero
// interval it only waits for cancellation.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Ping(ctx); err != nil {
				r.logger.Warn("background ping failed", zap.Error(err))
			}
		}
	}
}

// buildEnv observes the host facts for one call. The host balance already
// contains any amount attached to the call in flight, so the attached slice
// is carved back out before the ledger sees the balance.
func (r *Runner) buildEnv(ctx context.Context, caller string, attached *uint256.Int) (pool.Env, error) {
	epoch, err := r.epochHeightWithRetry(ctx)
	if err != nil {
		return pool.Env{}, fmt.Errorf("epoch height: %w", err)
	}
	balance, err := r.poolBalanceWithRetry(ctx)
	if err != nil {
		return pool.Env{}, fmt.Errorf("pool balance: %w", err)
	}
	if attached != nil && !attached.IsZero() {
		if balance.Cmp(attached) < 0 {
			// The host has not credited the attached amount yet (or the
			// balance observation is stale); clamp rather than let ping see
			// the in-flight deposit.
			r.logger.Warn("host balance below attached amount",
				zap.String("balance", balance.Dec()),
				zap.String("attached", attached.Dec()),
			)
			balance = uint256.NewInt(0)
		} else {
			balance = new(uint256.Int).Sub(balance, attached)
		}
	}
	return pool.Env{
		Caller:      caller,
		EpochHeight: epoch,
		PoolBalance: balance,
		Attached:    attached,
	}, nil
}

func (r *Runner) epochHeightWithRetry(ctx context.Context) (uint64, error) {
	var epoch uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		epoch, err = r.chain.EpochHeight(ctx)
		if err != nil {
			r.logger.Warn("epoch height fetch failed", zap.Error(err))
		}
		return err
	})
	return epoch, err
}

func (r *Runner) poolBalanceWithRetry(ctx context.Context) (*uint256.Int, error) {
	var balance *uint256.Int
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		balance, err = r.chain.AccountBalance(ctx, r.cfg.PoolAccountID)
		if err != nil {
			r.logger.Warn("pool balance fetch failed", zap.Error(err))
		}
		return err
	})
	return balance, err
}

// persist writes the pool record and every account touched since the last
// persist. Accounts that dropped to zero are deleted from storage.
func (r *Runner) persist(ctx context.Context) error {
	if err := r.store.SavePool(ctx, r.pool.Record()); err != nil {
		return fmt.Errorf("save pool: %w", err)
	}
	for _, id := range r.pool.DrainDirty() {
		rec, ok := r.pool.AccountRecord(id)
		if ok {
			if err := r.store.SaveAccount(ctx, rec); err != nil {
				return fmt.Errorf("save account %s: %w", id, err)
			}
		} else {
			if err := r.store.DeleteAccount(ctx, id); err != nil {
				return fmt.Errorf("delete account %s: %w", id, err)
			}
		}
	}
	return nil
}

// settleRestake dispatches the re-delegation intent once and settles the
// staged ledger change with its outcome. The collaborator error, if any,
// comes back to the caller after the discard has been applied.
func (r *Runner) settleRestake(ctx context.Context, intent *pool.Restake) error {
	callErr := r.chain.SetStake(ctx, intent.Amount, intent.PublicKey)
	if err := r.pool.Settle(callErr == nil); err != nil {
		return err
	}
	if callErr != nil {
		return fmt.Errorf("re-delegation rejected: %w", callErr)
	}
	return nil
}

func (r *Runner) settleTransfer(ctx context.Context, intent *pool.Transfer) error {
	callErr := r.chain.Transfer(ctx, intent.To, intent.Amount)
	if err := r.pool.Settle(callErr == nil); err != nil {
		return err
	}
	if callErr != nil {
		return fmt.Errorf("transfer rejected: %w", callErr)
	}
	return nil
}

// dispatchRestake is the admin-op variant: the ledger change has already been
// applied, so the intent is fired without a settle step.
func (r *Runner) dispatchRestake(ctx context.Context, intent *pool.Restake) error {
	if intent == nil {
		return nil
	}
	if err := r.chain.SetStake(ctx, intent.Amount, intent.PublicKey); err != nil {
		return fmt.Errorf("re-delegation rejected: %w", err)
	}
	return nil
}

// finish persists whatever the operation left behind (the embedded reward
// distribution mutates state even when the operation itself failed) and
// returns the operation's error first.
func (r *Runner) finish(ctx context.Context, opErr error) error {
	if err := r.persist(ctx); err != nil {
		if opErr != nil {
			r.logger.Error("persist after failed operation", zap.Error(err))
			return opErr
		}
		return err
	}
	return opErr
}

// Ping distributes the reward accrued since the previous epoch.
func (r *Runner) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, "", nil)
	if err != nil {
		return err
	}
	return r.finish(ctx, r.pool.Ping(env))
}

// Deposit credits the attached amount to the caller's unstaked balance.
func (r *Runner) Deposit(ctx context.Context, caller string, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, amount)
	if err != nil {
		return err
	}
	return r.finish(ctx, r.pool.Deposit(env))
}

// DepositAndStake deposits the attached amount and stakes it in one call.
// The deposit lands even when the re-delegation is rejected.
func (r *Runner) DepositAndStake(ctx context.Context, caller string, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, amount)
	if err != nil {
		return err
	}
	intent, err := r.pool.DepositAndStake(env)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleRestake(ctx, intent))
}

// Stake converts part of the caller's unstaked balance into stake shares.
func (r *Runner) Stake(ctx context.Context, caller string, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.Stake(env, amount)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleRestake(ctx, intent))
}

// StakeAll stakes the caller's entire unstaked balance.
func (r *Runner) StakeAll(ctx context.Context, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.StakeAll(env)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleRestake(ctx, intent))
}

// Unstake converts staked value back into (locked) unstaked balance.
func (r *Runner) Unstake(ctx context.Context, caller string, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.Unstake(env, amount)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleRestake(ctx, intent))
}

// UnstakeAll unstakes the full token value of the caller's shares.
func (r *Runner) UnstakeAll(ctx context.Context, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.UnstakeAll(env)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleRestake(ctx, intent))
}

// Withdraw pays out part of the caller's unlocked unstaked balance.
func (r *Runner) Withdraw(ctx context.Context, caller string, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.Withdraw(env, amount)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleTransfer(ctx, intent))
}

// WithdrawAll withdraws the caller's entire unstaked balance.
func (r *Runner) WithdrawAll(ctx context.Context, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.WithdrawAll(env)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.settleTransfer(ctx, intent))
}

// UpdateStakingKey swaps the validator key and re-delegates to it.
func (r *Runner) UpdateStakingKey(ctx context.Context, caller, stakePublicKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.UpdateStakingKey(env, stakePublicKey)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.dispatchRestake(ctx, intent))
}

// UpdateRewardFeeFraction changes the operator's reward cut.
func (r *Runner) UpdateRewardFeeFraction(ctx context.Context, caller string, fraction model.RewardFeeFraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	return r.finish(ctx, r.pool.UpdateRewardFeeFraction(env, fraction))
}

// PauseStaking zeroes the delegated stake while keeping the ledger live.
func (r *Runner) PauseStaking(ctx context.Context, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.PauseStaking(env)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.dispatchRestake(ctx, intent))
}

// ResumeStaking lifts the pause and re-delegates the full staked balance.
func (r *Runner) ResumeStaking(ctx context.Context, caller string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.ResumeStaking(env)
	if err != nil {
		return r.finish(ctx, err)
	}
	return r.finish(ctx, r.dispatchRestake(ctx, intent))
}

// Vote forwards an owner governance vote to the voting collaborator.
func (r *Runner) Vote(ctx context.Context, caller, votingAccountID string, isVote bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := r.buildEnv(ctx, caller, nil)
	if err != nil {
		return err
	}
	intent, err := r.pool.VoteIntent(env, votingAccountID, isVote)
	if err != nil {
		return r.finish(ctx, err)
	}
	if err := r.chain.CastVote(ctx, intent.VotingAccountID, intent.IsVote); err != nil {
		return r.finish(ctx, fmt.Errorf("vote rejected: %w", err))
	}
	return r.finish(ctx, nil)
}

// Account returns the query view of one account at the current epoch.
func (r *Runner) Account(ctx context.Context, accountID string) (model.AccountView, error) {
	epoch, err := r.epochHeightWithRetry(ctx)
	if err != nil {
		return model.AccountView{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.GetAccount(accountID, epoch)
}

// Accounts returns a page of account views ordered by account ID.
func (r *Runner) Accounts(ctx context.Context, fromIndex, limit uint64) ([]model.AccountView, error) {
	epoch, err := r.epochHeightWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.GetAccounts(epoch, fromIndex, limit)
}

// IsAccountUnstakedBalanceAvailable reports whether the account may withdraw
// at the current epoch.
func (r *Runner) IsAccountUnstakedBalanceAvailable(ctx context.Context, accountID string) (bool, error) {
	epoch, err := r.epochHeightWithRetry(ctx)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.IsAccountUnstakedBalanceAvailable(accountID, epoch), nil
}

// AccountUnstakedBalance returns the account's unstaked balance.
func (r *Runner) AccountUnstakedBalance(accountID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.FormatAmount(r.pool.GetAccountUnstakedBalance(accountID))
}

// AccountStakedBalance returns the token value of the account's shares.
func (r *Runner) AccountStakedBalance(accountID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	staked, err := r.pool.GetAccountStakedBalance(accountID)
	if err != nil {
		return "", err
	}
	return model.FormatAmount(staked), nil
}

// AccountTotalBalance returns the account's staked plus unstaked balance.
func (r *Runner) AccountTotalBalance(accountID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total, err := r.pool.GetAccountTotalBalance(accountID)
	if err != nil {
		return "", err
	}
	return model.FormatAmount(total), nil
}

// TotalStakedBalance returns the pool-wide staked balance.
func (r *Runner) TotalStakedBalance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.FormatAmount(r.pool.GetTotalStakedBalance())
}

// TotalBalance returns the pool-wide staked plus unstaked balance.
func (r *Runner) TotalBalance() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total, err := r.pool.GetTotalBalance()
	if err != nil {
		return "", err
	}
	return model.FormatAmount(total), nil
}

// TotalStakeShares returns the number of shares outstanding.
func (r *Runner) TotalStakeShares() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.FormatAmount(r.pool.GetTotalStakeShares())
}

// NumberOfAccounts returns the number of accounts with a non-zero balance.
func (r *Runner) NumberOfAccounts() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.GetNumberOfAccounts()
}

// OwnerID returns the pool operator's account ID.
func (r *Runner) OwnerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.GetOwnerID()
}

// RewardFeeFraction returns the operator's reward cut.
func (r *Runner) RewardFeeFraction() model.RewardFeeFraction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.GetRewardFeeFraction()
}

// StakingKey returns the validator public key the pool delegates to.
func (r *Runner) StakingKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.GetStakingKey()
}

// IsStakingPaused reports whether re-delegation is forced to zero.
func (r *Runner) IsStakingPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.IsStakingPaused()
}
