package pool

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stakepool/internal/model"
)

func TestDepositRejectsZeroAmount(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	err := p.Deposit(callEnv("alice", 10, 0, 0))
	require.ErrorIs(t, err, ErrAmountNotPositive)
}

func TestStakeInsufficientUnstakedBalance(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.NoError(t, p.Deposit(callEnv("alice", 10, 0, 100)))

	_, err := p.Stake(callEnv("alice", 10, 100, 0), uint256.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientUnstakedBalance)
	require.False(t, p.HasStagedChange())
}

func TestStakeAmountTooSmallAtHighPrice(t *testing.T) {
	rec := model.PoolRecord{
		OwnerID:            "owner",
		StakePublicKey:     testStakingKey,
		RewardFee:          model.RewardFeeFraction{Denominator: 100},
		LastEpochHeight:    20,
		LastTotalBalance:   "1090",
		TotalStakedBalance: "1090",
		TotalStakeShares:   "1000",
		GenesisShares:      "0",
		UnlockEpochs:       4,
	}
	accounts := []model.AccountRecord{
		{AccountID: "alice", UnstakedBalance: "10", StakeShares: "1000"},
	}
	p, err := Restore(rec, accounts, zap.NewNop())
	require.NoError(t, err)

	// 1 token buys floor(1*1000/1090) = 0 shares.
	_, err = p.Stake(callEnv("alice", 20, 1090, 0), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrStakeAmountTooSmall)
}

func TestUnstakeInsufficientStakedBalance(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.NoError(t, p.Deposit(callEnv("alice", 10, 0, 100)))

	_, err := p.Unstake(callEnv("alice", 10, 100, 0), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientStakedBalance)
}

func TestWithdrawInsufficientUnstakedBalance(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.NoError(t, p.Deposit(callEnv("alice", 10, 0, 100)))

	_, err := p.Withdraw(callEnv("alice", 10, 100, 0), uint256.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientUnstakedBalance)
}

func TestStagedChangeBlocksOverlap(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.NoError(t, p.Deposit(callEnv("alice", 10, 0, 1000)))

	_, err := p.Stake(callEnv("alice", 10, 1000, 0), uint256.NewInt(500))
	require.NoError(t, err)
	require.True(t, p.HasStagedChange())

	err = p.Deposit(callEnv("bob", 10, 1000, 10))
	require.ErrorIs(t, err, ErrChangePending)
	_, err = p.Stake(callEnv("alice", 10, 1000, 0), uint256.NewInt(100))
	require.ErrorIs(t, err, ErrChangePending)
	err = p.Ping(callEnv("", 11, 1000, 0))
	require.ErrorIs(t, err, ErrChangePending)

	mustSettle(t, p)
	require.False(t, p.HasStagedChange())
}

func TestSettleDiscardLeavesLedgerUntouched(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.NoError(t, p.Deposit(callEnv("alice", 10, 0, 1000)))
	before := p.Record()
	beforeAcct, _ := p.AccountRecord("alice")

	_, err := p.Stake(callEnv("alice", 10, 1000, 0), uint256.NewInt(500))
	require.NoError(t, err)
	require.NoError(t, p.Settle(false))

	require.Equal(t, before, p.Record())
	after, _ := p.AccountRecord("alice")
	require.Equal(t, beforeAcct, after)
}

func TestSettleWithoutStagedChange(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.ErrorIs(t, p.Settle(true), ErrNothingStaged)
}

func TestDepositAndStakeKeepsDepositOnDiscard(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)

	_, err := p.DepositAndStake(callEnv("alice", 10, 0, 500))
	require.NoError(t, err)
	require.NoError(t, p.Settle(false))

	ar, ok := p.AccountRecord("alice")
	require.True(t, ok)
	require.Equal(t, "500", ar.UnstakedBalance)
	require.Equal(t, "0", ar.StakeShares)
	require.Equal(t, "500", p.Record().LastTotalBalance)
}

func TestStakeAllUnstakeAllWithdrawAll(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	require.NoError(t, p.Deposit(callEnv("alice", 10, 0, 750)))

	_, err := p.StakeAll(callEnv("alice", 10, 750, 0))
	require.NoError(t, err)
	mustSettle(t, p)
	ar, _ := p.AccountRecord("alice")
	require.Equal(t, "0", ar.UnstakedBalance)
	require.Equal(t, "750", ar.StakeShares)

	_, err = p.UnstakeAll(callEnv("alice", 12, 750, 0))
	require.NoError(t, err)
	mustSettle(t, p)
	ar, _ = p.AccountRecord("alice")
	require.Equal(t, "750", ar.UnstakedBalance)
	require.Equal(t, "0", ar.StakeShares)

	intent, err := p.WithdrawAll(callEnv("alice", 16, 750, 0))
	require.NoError(t, err)
	require.Equal(t, "750", intent.Amount.Dec())
	mustSettle(t, p)

	// Fully drained accounts are removed.
	_, ok := p.AccountRecord("alice")
	require.False(t, ok)
	require.Equal(t, uint64(0), p.GetNumberOfAccounts())
}

func TestPauseAndResume(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 1000, 0, 10)

	_, err := p.PauseStaking(callEnv("alice", 10, 1000, 0))
	require.ErrorIs(t, err, ErrUnauthorized)

	intent, err := p.PauseStaking(callEnv("owner", 10, 1000, 0))
	require.NoError(t, err)
	require.Equal(t, "0", intent.Amount.Dec())
	require.True(t, p.IsStakingPaused())

	_, err = p.PauseStaking(callEnv("owner", 10, 1000, 0))
	require.ErrorIs(t, err, ErrAlreadyPaused)

	// Ledger operations stay live while paused; their re-delegation intent
	// carries zero stake.
	require.NoError(t, p.Deposit(callEnv("alice", 10, 1000, 200)))
	stakeIntent, err := p.Stake(callEnv("alice", 10, 1200, 0), uint256.NewInt(200))
	require.NoError(t, err)
	require.Equal(t, "0", stakeIntent.Amount.Dec())
	mustSettle(t, p)
	require.Equal(t, "1200", p.GetTotalStakedBalance().Dec())

	resumeIntent, err := p.ResumeStaking(callEnv("owner", 10, 1200, 0))
	require.NoError(t, err)
	require.Equal(t, "1200", resumeIntent.Amount.Dec())
	require.False(t, p.IsStakingPaused())

	_, err = p.ResumeStaking(callEnv("owner", 10, 1200, 0))
	require.ErrorIs(t, err, ErrNotPaused)
}

func TestUpdateStakingKey(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 1000, 0, 10)

	_, err := p.UpdateStakingKey(callEnv("alice", 10, 1000, 0), testStakingKey)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = p.UpdateStakingKey(callEnv("owner", 10, 1000, 0), "bad key")
	require.ErrorIs(t, err, ErrInvalidStakingKey)

	newKey := "ed25519:" + testStakingKey
	intent, err := p.UpdateStakingKey(callEnv("owner", 10, 1000, 0), newKey)
	require.NoError(t, err)
	require.Equal(t, newKey, intent.PublicKey)
	require.Equal(t, "1000", intent.Amount.Dec())
	require.Equal(t, newKey, p.GetStakingKey())
}

func TestUpdateRewardFeeFraction(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Numerator: 10, Denominator: 100}, 0, 0, 10)

	err := p.UpdateRewardFeeFraction(callEnv("alice", 10, 0, 0), model.RewardFeeFraction{Numerator: 1, Denominator: 10})
	require.ErrorIs(t, err, ErrUnauthorized)

	err = p.UpdateRewardFeeFraction(callEnv("owner", 10, 0, 0), model.RewardFeeFraction{Numerator: 2, Denominator: 1})
	require.Error(t, err)

	err = p.UpdateRewardFeeFraction(callEnv("owner", 10, 0, 0), model.RewardFeeFraction{Numerator: 1, Denominator: 10})
	require.NoError(t, err)
	require.Equal(t, model.RewardFeeFraction{Numerator: 1, Denominator: 10}, p.GetRewardFeeFraction())
}

func TestVoteIntent(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)

	_, err := p.VoteIntent(callEnv("alice", 10, 0, 0), "voting", true)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = p.VoteIntent(callEnv("owner", 10, 0, 0), "", true)
	require.Error(t, err)

	intent, err := p.VoteIntent(callEnv("owner", 10, 0, 0), "voting", true)
	require.NoError(t, err)
	require.Equal(t, "voting", intent.VotingAccountID)
	require.True(t, intent.IsVote)
}

func TestGetAccountsPagination(t *testing.T) {
	p := newTestPool(t, model.RewardFeeFraction{Denominator: 100}, 0, 0, 10)
	balance := uint64(0)
	for _, id := range []string{"carol", "alice", "bob", "dave"} {
		require.NoError(t, p.Deposit(callEnv(id, 10, balance, 100)))
		balance += 100
	}

	views, err := p.GetAccounts(10, 1, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, "bob", views[0].AccountID)
	require.Equal(t, "carol", views[1].AccountID)

	views, err = p.GetAccounts(10, 3, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "dave", views[0].AccountID)

	views, err = p.GetAccounts(10, 9, 5)
	require.NoError(t, err)
	require.Empty(t, views)
}

func TestStakeThenUnstakeConservesValue(t *testing.T) {
	rec := model.PoolRecord{
		OwnerID:            "owner",
		StakePublicKey:     testStakingKey,
		RewardFee:          model.RewardFeeFraction{Denominator: 100},
		LastEpochHeight:    20,
		LastTotalBalance:   "2000",
		TotalStakedBalance: "2000",
		TotalStakeShares:   "1000",
		GenesisShares:      "1000",
		UnlockEpochs:       4,
	}
	accounts := []model.AccountRecord{
		{AccountID: "alice", UnstakedBalance: "334", StakeShares: "0"},
	}
	p, err := Restore(rec, accounts, zap.NewNop())
	require.NoError(t, err)

	before, err := p.GetAccountTotalBalance("alice")
	require.NoError(t, err)

	_, err = p.Stake(callEnv("alice", 20, 2000, 0), uint256.NewInt(334))
	require.NoError(t, err)
	mustSettle(t, p)
	_, err = p.Unstake(callEnv("alice", 20, 2000, 0), uint256.NewInt(334))
	require.NoError(t, err)
	mustSettle(t, p)

	after, err := p.GetAccountTotalBalance("alice")
	require.NoError(t, err)
	require.True(t, after.Cmp(before) >= 0,
		"round trip lost value: %s -> %s", before.Dec(), after.Dec())
}

// sharePriceNonDecreasing checks staked2/shares2 >= staked1/shares1 without
// dividing.
func sharePriceNonDecreasing(staked1, shares1, staked2, shares2 *uint256.Int) bool {
	left := new(uint256.Int).Mul(staked2, shares1)
	right := new(uint256.Int).Mul(staked1, shares2)
	return left.Cmp(right) >= 0
}

func TestSharePriceMonotonicUnderRandomOps(t *testing.T) {
	// Fees above one half make the minted fee shares outgrow the reward
	// remainder, which is the regime where the fee credit matters.
	fees := []model.RewardFeeFraction{
		{Numerator: 0, Denominator: 1},
		{Numerator: 10, Denominator: 100},
		{Numerator: 60, Denominator: 100},
		{Numerator: 1, Denominator: 1},
	}
	for _, fee := range fees {
		fee := fee
		t.Run(fee.String(), func(t *testing.T) {
			runRandomOps(t, fee)
		})
	}
}

func runRandomOps(t *testing.T, fee model.RewardFeeFraction) {
	rng := rand.New(rand.NewSource(7))
	p := newTestPool(t, fee, 1000, 0, 1)

	ids := []string{"alice", "bob", "carol"}
	epoch := uint64(1)
	balance := uint64(1000)

	prevStaked := p.GetTotalStakedBalance()
	prevShares := p.GetTotalStakeShares()

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0:
			amount := uint64(rng.Intn(1000) + 1)
			require.NoError(t, p.Deposit(Env{
				Caller:      id,
				EpochHeight: epoch,
				PoolBalance: uint256.NewInt(balance),
				Attached:    uint256.NewInt(amount),
			}))
			balance += amount
		case 1:
			unstaked := p.GetAccountUnstakedBalance(id)
			if unstaked.IsZero() {
				continue
			}
			_, err := p.StakeAll(callEnv(id, epoch, balance, 0))
			if errors.Is(err, ErrStakeAmountTooSmall) {
				// A dust balance can be worth less than one share.
				continue
			}
			require.NoError(t, err)
			mustSettle(t, p)
		case 2:
			staked, err := p.GetAccountStakedBalance(id)
			require.NoError(t, err)
			if staked.IsZero() {
				continue
			}
			amount := new(uint256.Int).AddUint64(new(uint256.Int).Div(staked, uint256.NewInt(2)), 1)
			_, err = p.Unstake(callEnv(id, epoch, balance, 0), amount)
			require.NoError(t, err)
			mustSettle(t, p)
		case 3:
			epoch++
			reward := uint64(rng.Intn(200))
			balance += reward
			require.NoError(t, p.Ping(callEnv("", epoch, balance, 0)))
		}

		staked := p.GetTotalStakedBalance()
		shares := p.GetTotalStakeShares()
		require.True(t, sharePriceNonDecreasing(prevStaked, prevShares, staked, shares),
			"share price regressed at step %d: %s/%s -> %s/%s",
			i, prevStaked.Dec(), prevShares.Dec(), staked.Dec(), shares.Dec())
		require.True(t, shares.Cmp(staked) <= 0,
			"shares %s exceed staked %s at step %d", shares.Dec(), staked.Dec(), i)
		prevStaked, prevShares = staked, shares
	}
}
