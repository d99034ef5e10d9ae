package pool

import (
	"fmt"

	"go.uber.org/zap"

	"stakepool/internal/model"
)

func (p *Pool) requireOwner(env Env) error {
	if env.Caller != p.ownerID {
		return fmt.Errorf("caller %q: %w", env.Caller, ErrUnauthorized)
	}
	return nil
}

// UpdateStakingKey swaps the validator public key and re-delegates the
// current total staked balance to it.
func (p *Pool) UpdateStakingKey(env Env, stakePublicKey string) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	if err := p.requireOwner(env); err != nil {
		return nil, err
	}
	if err := ValidateStakingKey(stakePublicKey); err != nil {
		return nil, err
	}
	p.stakePublicKey = stakePublicKey
	p.logger.Info("staking key updated", zap.String("stake_public_key", stakePublicKey))
	return p.restakeIntent(p.totalStakedBalance), nil
}

// UpdateRewardFeeFraction changes the operator's reward cut. It takes effect
// at the next reward distribution; rewards already distributed keep the fee
// they were split with.
func (p *Pool) UpdateRewardFeeFraction(env Env, fraction model.RewardFeeFraction) error {
	if err := p.beginMutation(env); err != nil {
		return err
	}
	if err := p.requireOwner(env); err != nil {
		return err
	}
	if err := fraction.Validate(); err != nil {
		return err
	}
	p.rewardFee = fraction
	p.logger.Info("reward fee updated", zap.String("reward_fee", fraction.String()))
	return nil
}

// PauseStaking forces subsequent re-delegation requests to present zero
// stake. Pool accounting is untouched: shares, balances and the share price
// are exactly as if staking were live.
func (p *Pool) PauseStaking(env Env) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	if err := p.requireOwner(env); err != nil {
		return nil, err
	}
	if p.paused {
		return nil, ErrAlreadyPaused
	}
	p.paused = true
	p.logger.Info("staking paused")
	return p.restakeIntent(p.totalStakedBalance), nil
}

// ResumeStaking lifts the pause and re-delegates the full staked balance.
func (p *Pool) ResumeStaking(env Env) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	if err := p.requireOwner(env); err != nil {
		return nil, err
	}
	if !p.paused {
		return nil, ErrNotPaused
	}
	p.paused = false
	p.logger.Info("staking resumed")
	return p.restakeIntent(p.totalStakedBalance), nil
}

// VoteIntent builds a pass-through governance vote for the voting
// collaborator. No local state changes.
func (p *Pool) VoteIntent(env Env, votingAccountID string, isVote bool) (*Vote, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	if err := p.requireOwner(env); err != nil {
		return nil, err
	}
	if votingAccountID == "" {
		return nil, fmt.Errorf("voting account id is required")
	}
	return &Vote{VotingAccountID: votingAccountID, IsVote: isVote}, nil
}
