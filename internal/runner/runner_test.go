package runner

import (
	"context"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stakepool/internal/model"
	"stakepool/internal/pool"
	"stakepool/internal/storage"
)

// 32 zero bytes in base58.
const testStakingKey = "11111111111111111111111111111111"

type stakeCall struct {
	amount    string
	publicKey string
}

type transferCall struct {
	to     string
	amount string
}

type stubChain struct {
	epoch   uint64
	balance *uint256.Int

	stakeErr    error
	transferErr error
	voteErr     error

	stakes    []stakeCall
	transfers []transferCall
	votes     []string
}

func (s *stubChain) EpochHeight(ctx context.Context) (uint64, error) {
	return s.epoch, nil
}

func (s *stubChain) AccountBalance(ctx context.Context, accountID string) (*uint256.Int, error) {
	return s.balance.Clone(), nil
}

func (s *stubChain) SetStake(ctx context.Context, amount *uint256.Int, publicKey string) error {
	if s.stakeErr != nil {
		return s.stakeErr
	}
	s.stakes = append(s.stakes, stakeCall{amount: amount.Dec(), publicKey: publicKey})
	return nil
}

func (s *stubChain) Transfer(ctx context.Context, to string, amount *uint256.Int) error {
	if s.transferErr != nil {
		return s.transferErr
	}
	s.transfers = append(s.transfers, transferCall{to: to, amount: amount.Dec()})
	return nil
}

func (s *stubChain) CastVote(ctx context.Context, votingAccountID string, isVote bool) error {
	if s.voteErr != nil {
		return s.voteErr
	}
	s.votes = append(s.votes, votingAccountID)
	return nil
}

func newTestRunner(t *testing.T, chain *stubChain) (*Runner, *storage.MemoryStore) {
	t.Helper()
	p, err := pool.New(pool.Params{
		OwnerID:        "owner",
		StakePublicKey: testStakingKey,
		RewardFee:      model.RewardFeeFraction{Numerator: 10, Denominator: 100},
	}, chain.epoch, zap.NewNop())
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	r := NewRunner(RunConfig{PoolAccountID: "pool.host"}, chain, p, store, zap.NewNop())
	require.NoError(t, store.SavePool(context.Background(), p.Record()))
	return r, store
}

func TestDepositAndStakePersists(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(1000)}
	r, store := newTestRunner(t, chain)

	require.NoError(t, r.DepositAndStake(ctx, "alice", uint256.NewInt(1000)))

	require.Len(t, chain.stakes, 1)
	require.Equal(t, "1000", chain.stakes[0].amount)
	require.Equal(t, testStakingKey, chain.stakes[0].publicKey)

	rec, accounts, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1000", rec.TotalStakedBalance)
	require.Len(t, accounts, 1)
	require.Equal(t, "alice", accounts[0].AccountID)
	require.Equal(t, "1000", accounts[0].StakeShares)
	require.Equal(t, "0", accounts[0].UnstakedBalance)
}

func TestStakeRejectionDiscardsAndSurfacesError(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(1000)}
	r, store := newTestRunner(t, chain)

	require.NoError(t, r.Deposit(ctx, "alice", uint256.NewInt(1000)))

	chain.stakeErr = fmt.Errorf("validator unavailable")
	err := r.Stake(ctx, "alice", uint256.NewInt(600))
	require.ErrorContains(t, err, "validator unavailable")

	// The discarded stake left the deposit untouched, and the discard state
	// was persisted.
	require.Equal(t, "1000", r.AccountUnstakedBalance("alice"))
	_, accounts, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "1000", accounts[0].UnstakedBalance)
	require.Equal(t, "0", accounts[0].StakeShares)
}

func TestDepositClampsBalanceBelowAttached(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(500)}
	r, store := newTestRunner(t, chain)

	// The host reports less than the attached amount at a fresh epoch. The
	// in-flight deposit must not be mistaken for reward.
	chain.epoch = 11
	require.NoError(t, r.Deposit(ctx, "alice", uint256.NewInt(1000)))

	rec, accounts, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "0", rec.TotalStakedBalance)
	require.Equal(t, "1000", rec.LastTotalBalance)
	require.Len(t, accounts, 1)
	require.Equal(t, "1000", accounts[0].UnstakedBalance)
}

func TestWithdrawTransfersAndDeletesEmptyAccount(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(500)}
	r, store := newTestRunner(t, chain)

	require.NoError(t, r.Deposit(ctx, "alice", uint256.NewInt(500)))
	require.NoError(t, r.WithdrawAll(ctx, "alice"))

	require.Len(t, chain.transfers, 1)
	require.Equal(t, "alice", chain.transfers[0].to)
	require.Equal(t, "500", chain.transfers[0].amount)

	_, accounts, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, accounts)
}

func TestWithdrawRejectionKeepsBalance(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(500)}
	r, _ := newTestRunner(t, chain)

	require.NoError(t, r.Deposit(ctx, "alice", uint256.NewInt(500)))

	chain.transferErr = fmt.Errorf("transfer failed")
	err := r.Withdraw(ctx, "alice", uint256.NewInt(500))
	require.ErrorContains(t, err, "transfer failed")
	require.Equal(t, "500", r.AccountUnstakedBalance("alice"))
}

func TestPingDistributesAndPersists(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(1000)}
	r, store := newTestRunner(t, chain)

	require.NoError(t, r.DepositAndStake(ctx, "alice", uint256.NewInt(1000)))

	chain.epoch = 11
	chain.balance = uint256.NewInt(1100)
	require.NoError(t, r.Ping(ctx))

	rec, _, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "1100", rec.TotalStakedBalance)
	require.Equal(t, "1009", rec.TotalStakeShares)
	require.Equal(t, uint64(11), rec.LastEpochHeight)
}

func TestVoteRequiresOwner(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(0)}
	r, _ := newTestRunner(t, chain)

	err := r.Vote(ctx, "alice", "voting.host", true)
	require.ErrorIs(t, err, pool.ErrUnauthorized)
	require.Empty(t, chain.votes)

	require.NoError(t, r.Vote(ctx, "owner", "voting.host", true))
	require.Equal(t, []string{"voting.host"}, chain.votes)
}

func TestAdminOpsDispatchRestake(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(1000)}
	r, _ := newTestRunner(t, chain)

	require.NoError(t, r.DepositAndStake(ctx, "alice", uint256.NewInt(1000)))
	chain.stakes = nil

	require.NoError(t, r.PauseStaking(ctx, "owner"))
	require.Len(t, chain.stakes, 1)
	require.Equal(t, "0", chain.stakes[0].amount)

	require.NoError(t, r.ResumeStaking(ctx, "owner"))
	require.Len(t, chain.stakes, 2)
	require.Equal(t, "1000", chain.stakes[1].amount)
}

func TestQueryHelpers(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{epoch: 10, balance: uint256.NewInt(1000)}
	r, _ := newTestRunner(t, chain)

	require.NoError(t, r.DepositAndStake(ctx, "alice", uint256.NewInt(1000)))

	require.Equal(t, "1000", r.TotalStakedBalance())
	require.Equal(t, "1000", r.TotalStakeShares())
	require.Equal(t, "owner", r.OwnerID())
	require.Equal(t, testStakingKey, r.StakingKey())
	require.False(t, r.IsStakingPaused())
	require.Equal(t, uint64(1), r.NumberOfAccounts())

	staked, err := r.AccountStakedBalance("alice")
	require.NoError(t, err)
	require.Equal(t, "1000", staked)

	total, err := r.TotalBalance()
	require.NoError(t, err)
	require.Equal(t, "1000", total)

	view, err := r.Account(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", view.AccountID)
	require.Equal(t, "1000", view.StakedBalance)
	require.True(t, view.CanWithdraw)

	available, err := r.IsAccountUnstakedBalanceAvailable(ctx, "alice")
	require.NoError(t, err)
	require.True(t, available)
}
