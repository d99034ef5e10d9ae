package pool

import (
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Ping distributes the reward accrued since the previous epoch. Calling it
// again within the same epoch is a guaranteed no-op.
func (p *Pool) Ping(env Env) error {
	if p.staged != nil {
		return ErrChangePending
	}
	return p.ping(env)
}

// ping compares the host-observed balance with the recorded baseline and
// splits any increase between the operator fee and pool value growth. A
// balance decrease is absorbed silently: the baseline moves down and no
// negative reward is ever distributed.
func (p *Pool) ping(env Env) error {
	if env.EpochHeight == p.lastEpochHeight {
		return nil
	}

	total := env.poolBalance().Clone()
	if total.Cmp(p.lastTotalBalance) <= 0 {
		p.lastEpochHeight = env.EpochHeight
		p.lastTotalBalance = total
		return nil
	}

	reward := new(uint256.Int).Sub(total, p.lastTotalBalance)
	fee := p.rewardFee.Apply(reward)
	remainder, err := sub(reward, fee)
	if err != nil {
		return err
	}
	newTotalStaked, err := add(p.totalStakedBalance, remainder)
	if err != nil {
		return err
	}

	// The operator's fee is paid in freshly minted shares priced after the
	// remainder has raised the pool value, so minting dilutes the reward
	// increase onto the fee recipient instead of paying the owner directly.
	feeShares := uint256.NewInt(0)
	if !fee.IsZero() && !p.totalStakeShares.IsZero() {
		feeShares, err = mulDiv(fee, p.totalStakeShares, newTotalStaked)
		if err != nil {
			return err
		}
	}
	var newOwnerShares, newTotalShares *uint256.Int
	owner := p.getAccount(p.ownerID)
	if !feeShares.IsZero() {
		newOwnerShares, err = add(owner.stakeShares, feeShares)
		if err != nil {
			return err
		}
		newTotalShares, err = add(p.totalStakeShares, feeShares)
		if err != nil {
			return err
		}
	}
	// The fee tokens stay in the pool; crediting them after the mint keeps
	// the minted shares fully backed, so the share price never dips below
	// its pre-distribution value even when the fee exceeds the remainder.
	newTotalStaked, err = add(newTotalStaked, fee)
	if err != nil {
		return err
	}

	p.lastEpochHeight = env.EpochHeight
	p.totalStakedBalance = newTotalStaked
	if newOwnerShares != nil {
		owner.stakeShares = newOwnerShares
		p.saveAccount(p.ownerID, owner)
		p.totalStakeShares = newTotalShares
	}
	p.lastTotalBalance = total

	p.logger.Info("reward distributed",
		zap.Uint64("epoch_height", env.EpochHeight),
		zap.String("reward", reward.Dec()),
		zap.String("operator_fee", fee.Dec()),
		zap.String("fee_shares", feeShares.Dec()),
		zap.String("total_staked_balance", p.totalStakedBalance.Dec()),
		zap.String("total_stake_shares", p.totalStakeShares.Dec()),
	)
	return nil
}
