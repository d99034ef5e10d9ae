package server

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"stakepool/internal/model"
	"stakepool/internal/runner"
)

// PoolService is the JSON-RPC surface registered under the "pool" namespace.
// The caller's account ID arrives as an explicit request field; verifying
// that the request really comes from that account is deployment plumbing in
// front of this service.
type PoolService struct {
	runner *runner.Runner
}

func NewPoolService(r *runner.Runner) *PoolService {
	return &PoolService{runner: r}
}

type CallRequest struct {
	AccountID string `json:"account_id"`
}

type AmountRequest struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
}

type AccountsRequest struct {
	FromIndex uint64 `json:"from_index"`
	Limit     uint64 `json:"limit"`
}

type KeyRequest struct {
	AccountID      string `json:"account_id"`
	StakePublicKey string `json:"stake_public_key"`
}

type FeeRequest struct {
	AccountID string                  `json:"account_id"`
	RewardFee model.RewardFeeFraction `json:"reward_fee_fraction"`
}

type VoteRequest struct {
	AccountID       string `json:"account_id"`
	VotingAccountID string `json:"voting_account_id"`
	IsVote          bool   `json:"is_vote"`
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := model.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	return amount, nil
}

// Ping distributes the reward accrued since the previous epoch.
func (s *PoolService) Ping(ctx context.Context) error {
	return s.runner.Ping(ctx)
}

// Deposit credits the attached amount to the caller's unstaked balance.
func (s *PoolService) Deposit(ctx context.Context, req AmountRequest) error {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return s.runner.Deposit(ctx, req.AccountID, amount)
}

// DepositAndStake deposits the attached amount and stakes it in one call.
func (s *PoolService) DepositAndStake(ctx context.Context, req AmountRequest) error {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return s.runner.DepositAndStake(ctx, req.AccountID, amount)
}

// Stake converts part of the caller's unstaked balance into stake shares.
func (s *PoolService) Stake(ctx context.Context, req AmountRequest) error {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return s.runner.Stake(ctx, req.AccountID, amount)
}

// StakeAll stakes the caller's entire unstaked balance.
func (s *PoolService) StakeAll(ctx context.Context, req CallRequest) error {
	return s.runner.StakeAll(ctx, req.AccountID)
}

// Unstake converts staked value back into locked unstaked balance.
func (s *PoolService) Unstake(ctx context.Context, req AmountRequest) error {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return s.runner.Unstake(ctx, req.AccountID, amount)
}

// UnstakeAll unstakes the full token value of the caller's shares.
func (s *PoolService) UnstakeAll(ctx context.Context, req CallRequest) error {
	return s.runner.UnstakeAll(ctx, req.AccountID)
}

// Withdraw pays out part of the caller's unlocked unstaked balance.
func (s *PoolService) Withdraw(ctx context.Context, req AmountRequest) error {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return s.runner.Withdraw(ctx, req.AccountID, amount)
}

// WithdrawAll withdraws the caller's entire unstaked balance.
func (s *PoolService) WithdrawAll(ctx context.Context, req CallRequest) error {
	return s.runner.WithdrawAll(ctx, req.AccountID)
}

// UpdateStakingKey swaps the validator public key (owner only).
func (s *PoolService) UpdateStakingKey(ctx context.Context, req KeyRequest) error {
	return s.runner.UpdateStakingKey(ctx, req.AccountID, req.StakePublicKey)
}

// UpdateRewardFeeFraction changes the operator's reward cut (owner only).
func (s *PoolService) UpdateRewardFeeFraction(ctx context.Context, req FeeRequest) error {
	return s.runner.UpdateRewardFeeFraction(ctx, req.AccountID, req.RewardFee)
}

// PauseStaking zeroes the delegated stake (owner only).
func (s *PoolService) PauseStaking(ctx context.Context, req CallRequest) error {
	return s.runner.PauseStaking(ctx, req.AccountID)
}

// ResumeStaking lifts the pause (owner only).
func (s *PoolService) ResumeStaking(ctx context.Context, req CallRequest) error {
	return s.runner.ResumeStaking(ctx, req.AccountID)
}

// Vote forwards a governance vote to the voting collaborator (owner only).
func (s *PoolService) Vote(ctx context.Context, req VoteRequest) error {
	return s.runner.Vote(ctx, req.AccountID, req.VotingAccountID, req.IsVote)
}

// GetAccountUnstakedBalance returns the account's unstaked balance.
func (s *PoolService) GetAccountUnstakedBalance(req AccountRequest) string {
	return s.runner.AccountUnstakedBalance(req.AccountID)
}

// GetAccountStakedBalance returns the token value of the account's shares.
func (s *PoolService) GetAccountStakedBalance(req AccountRequest) (string, error) {
	return s.runner.AccountStakedBalance(req.AccountID)
}

// GetAccountTotalBalance returns staked plus unstaked balance.
func (s *PoolService) GetAccountTotalBalance(req AccountRequest) (string, error) {
	return s.runner.AccountTotalBalance(req.AccountID)
}

// IsAccountUnstakedBalanceAvailable reports whether the account may withdraw
// at the current epoch.
func (s *PoolService) IsAccountUnstakedBalanceAvailable(ctx context.Context, req AccountRequest) (bool, error) {
	return s.runner.IsAccountUnstakedBalanceAvailable(ctx, req.AccountID)
}

// GetAccount returns the query view of one account.
func (s *PoolService) GetAccount(ctx context.Context, req AccountRequest) (model.AccountView, error) {
	return s.runner.Account(ctx, req.AccountID)
}

// GetAccounts returns a page of account views ordered by account ID.
func (s *PoolService) GetAccounts(ctx context.Context, req AccountsRequest) ([]model.AccountView, error) {
	return s.runner.Accounts(ctx, req.FromIndex, req.Limit)
}

// GetNumberOfAccounts returns the number of accounts with a non-zero balance.
func (s *PoolService) GetNumberOfAccounts() uint64 {
	return s.runner.NumberOfAccounts()
}

// GetTotalStakedBalance returns the pool-wide staked balance.
func (s *PoolService) GetTotalStakedBalance() string {
	return s.runner.TotalStakedBalance()
}

// GetTotalBalance returns the pool-wide staked plus unstaked balance.
func (s *PoolService) GetTotalBalance() (string, error) {
	return s.runner.TotalBalance()
}

// GetTotalStakeShares returns the number of shares outstanding.
func (s *PoolService) GetTotalStakeShares() string {
	return s.runner.TotalStakeShares()
}

// GetOwnerID returns the pool operator's account ID.
func (s *PoolService) GetOwnerID() string {
	return s.runner.OwnerID()
}

// GetRewardFeeFraction returns the operator's reward cut.
func (s *PoolService) GetRewardFeeFraction() model.RewardFeeFraction {
	return s.runner.RewardFeeFraction()
}

// GetStakingKey returns the validator public key the pool delegates to.
func (s *PoolService) GetStakingKey() string {
	return s.runner.StakingKey()
}

// IsStakingPaused reports whether re-delegation is forced to zero.
func (s *PoolService) IsStakingPaused() bool {
	return s.runner.IsStakingPaused()
}
