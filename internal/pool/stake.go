package pool

import (
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// beginMutation rejects calls while a staged change is in flight, then runs
// the reward distribution so the mutation operates on a fresh share price.
func (p *Pool) beginMutation(env Env) error {
	if p.staged != nil {
		return ErrChangePending
	}
	return p.ping(env)
}

func requireCaller(env Env) error {
	if env.Caller == "" {
		return fmt.Errorf("caller account id is required")
	}
	return nil
}

// Deposit credits the attached amount to the caller's unstaked balance. The
// deposited tokens become part of the pool balance, so the reward baseline
// moves up with them to keep the next ping from counting them as reward.
func (p *Pool) Deposit(env Env) error {
	if err := p.beginMutation(env); err != nil {
		return err
	}
	return p.deposit(env)
}

func (p *Pool) deposit(env Env) error {
	if err := requireCaller(env); err != nil {
		return err
	}
	amount := env.attached()
	if amount.IsZero() {
		return fmt.Errorf("deposit: %w", ErrAmountNotPositive)
	}
	acct := p.getAccount(env.Caller)
	newUnstaked, err := add(acct.unstaked, amount)
	if err != nil {
		return err
	}
	newBaseline, err := add(p.lastTotalBalance, amount)
	if err != nil {
		return err
	}

	acct.unstaked = newUnstaked
	p.saveAccount(env.Caller, acct)
	p.lastTotalBalance = newBaseline

	p.logger.Info("deposit",
		zap.String("account_id", env.Caller),
		zap.String("amount", amount.Dec()),
		zap.String("unstaked_balance", acct.unstaked.Dec()),
	)
	return nil
}

// Stake converts part of the caller's unstaked balance into stake shares at
// the current share price (shares rounded down) and stages the change until
// the re-delegation settles.
func (p *Pool) Stake(env Env, amount *uint256.Int) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	return p.stake(env, amount)
}

// StakeAll stakes the caller's entire unstaked balance.
func (p *Pool) StakeAll(env Env) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	return p.stake(env, p.getAccount(env.Caller).unstaked)
}

// DepositAndStake deposits the attached amount and immediately stakes it.
// The deposit lands unconditionally; only the stake half is staged, so a
// rejected re-delegation leaves the tokens sitting unstaked.
func (p *Pool) DepositAndStake(env Env) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	if err := p.deposit(env); err != nil {
		return nil, err
	}
	return p.stake(env, env.attached())
}

func (p *Pool) stake(env Env, amount *uint256.Int) (*Restake, error) {
	if err := requireCaller(env); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("stake: %w", ErrAmountNotPositive)
	}
	acct := p.getAccount(env.Caller)
	if acct.unstaked.Cmp(amount) < 0 {
		return nil, fmt.Errorf("stake %s with unstaked balance %s: %w",
			amount.Dec(), acct.unstaked.Dec(), ErrInsufficientUnstakedBalance)
	}

	// First stake establishes share price 1; afterwards shares round down
	// so the remainder stays with the pool.
	var shares *uint256.Int
	if p.totalStakeShares.IsZero() {
		shares = amount.Clone()
	} else {
		var err error
		shares, err = mulDiv(amount, p.totalStakeShares, p.totalStakedBalance)
		if err != nil {
			return nil, err
		}
		if shares.IsZero() {
			return nil, fmt.Errorf("stake %s: %w", amount.Dec(), ErrStakeAmountTooSmall)
		}
	}

	newUnstaked, err := sub(acct.unstaked, amount)
	if err != nil {
		return nil, err
	}
	newAcctShares, err := add(acct.stakeShares, shares)
	if err != nil {
		return nil, err
	}
	newTotalStaked, err := add(p.totalStakedBalance, amount)
	if err != nil {
		return nil, err
	}
	newTotalShares, err := add(p.totalStakeShares, shares)
	if err != nil {
		return nil, err
	}

	caller := env.Caller
	amount = amount.Clone()
	p.staged = &stagedChange{kind: "stake", apply: func() {
		acct.unstaked = newUnstaked
		acct.stakeShares = newAcctShares
		p.saveAccount(caller, acct)
		p.totalStakedBalance = newTotalStaked
		p.totalStakeShares = newTotalShares
		p.logger.Info("stake",
			zap.String("account_id", caller),
			zap.String("amount", amount.Dec()),
			zap.String("shares_received", shares.Dec()),
			zap.String("unstaked_balance", acct.unstaked.Dec()),
			zap.String("stake_shares", acct.stakeShares.Dec()),
			zap.String("total_staked_balance", newTotalStaked.Dec()),
			zap.String("total_stake_shares", newTotalShares.Dec()),
		)
	}}
	return p.restakeIntent(newTotalStaked), nil
}

// Unstake converts staked value back into unstaked balance. The shares
// burned are the minimal number whose redemption value covers the amount
// (rounded up), so the pool never pays out more value than the shares
// represent. The whole unstaked balance relocks until the unlock epoch.
func (p *Pool) Unstake(env Env, amount *uint256.Int) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	return p.unstake(env, amount)
}

// UnstakeAll unstakes the full token value of the caller's shares.
func (p *Pool) UnstakeAll(env Env) (*Restake, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	staked, err := p.stakedBalance(p.getAccount(env.Caller).stakeShares)
	if err != nil {
		return nil, err
	}
	return p.unstake(env, staked)
}

func (p *Pool) unstake(env Env, amount *uint256.Int) (*Restake, error) {
	if err := requireCaller(env); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("unstake: %w", ErrAmountNotPositive)
	}
	acct := p.getAccount(env.Caller)
	if p.totalStakeShares.IsZero() {
		return nil, fmt.Errorf("unstake %s: %w", amount.Dec(), ErrInsufficientStakedBalance)
	}
	staked, err := p.stakedBalance(acct.stakeShares)
	if err != nil {
		return nil, err
	}
	if staked.Cmp(amount) < 0 {
		return nil, fmt.Errorf("unstake %s with staked balance %s: %w",
			amount.Dec(), staked.Dec(), ErrInsufficientStakedBalance)
	}

	shares, err := mulDivCeil(amount, p.totalStakeShares, p.totalStakedBalance)
	if err != nil {
		return nil, err
	}
	newAcctShares, err := sub(acct.stakeShares, shares)
	if err != nil {
		return nil, err
	}
	newUnstaked, err := add(acct.unstaked, amount)
	if err != nil {
		return nil, err
	}
	newTotalStaked, err := sub(p.totalStakedBalance, amount)
	if err != nil {
		return nil, err
	}
	newTotalShares, err := sub(p.totalStakeShares, shares)
	if err != nil {
		return nil, err
	}
	unlockEpoch := env.EpochHeight + p.unlockEpochs

	caller := env.Caller
	amount = amount.Clone()
	p.staged = &stagedChange{kind: "unstake", apply: func() {
		acct.stakeShares = newAcctShares
		acct.unstaked = newUnstaked
		acct.unstakedAvailableEpochHeight = unlockEpoch
		p.saveAccount(caller, acct)
		p.totalStakedBalance = newTotalStaked
		p.totalStakeShares = newTotalShares
		p.logger.Info("unstake",
			zap.String("account_id", caller),
			zap.String("amount", amount.Dec()),
			zap.String("shares_spent", shares.Dec()),
			zap.String("unstaked_balance", acct.unstaked.Dec()),
			zap.String("stake_shares", acct.stakeShares.Dec()),
			zap.Uint64("unlock_epoch", unlockEpoch),
			zap.String("total_staked_balance", newTotalStaked.Dec()),
			zap.String("total_stake_shares", newTotalShares.Dec()),
		)
	}}
	return p.restakeIntent(newTotalStaked), nil
}

// Withdraw pays out part of the caller's unstaked balance once the unlock
// epoch has been reached. The debit is staged until the transfer settles.
func (p *Pool) Withdraw(env Env, amount *uint256.Int) (*Transfer, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	return p.withdraw(env, amount)
}

// WithdrawAll withdraws the caller's entire unstaked balance.
func (p *Pool) WithdrawAll(env Env) (*Transfer, error) {
	if err := p.beginMutation(env); err != nil {
		return nil, err
	}
	return p.withdraw(env, p.getAccount(env.Caller).unstaked)
}

func (p *Pool) withdraw(env Env, amount *uint256.Int) (*Transfer, error) {
	if err := requireCaller(env); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("withdraw: %w", ErrAmountNotPositive)
	}
	acct := p.getAccount(env.Caller)
	if acct.unstaked.Cmp(amount) < 0 {
		return nil, fmt.Errorf("withdraw %s with unstaked balance %s: %w",
			amount.Dec(), acct.unstaked.Dec(), ErrInsufficientUnstakedBalance)
	}
	if env.EpochHeight < acct.unstakedAvailableEpochHeight {
		return nil, fmt.Errorf("withdraw available at epoch %d, current epoch %d: %w",
			acct.unstakedAvailableEpochHeight, env.EpochHeight, ErrUnstakedBalanceLocked)
	}
	newUnstaked, err := sub(acct.unstaked, amount)
	if err != nil {
		return nil, err
	}

	caller := env.Caller
	amount = amount.Clone()
	p.staged = &stagedChange{kind: "withdraw", apply: func() {
		acct.unstaked = newUnstaked
		p.saveAccount(caller, acct)
		// The transferred tokens left the pool balance; move the reward
		// baseline down so the next ping does not see a phantom decrease.
		p.lastTotalBalance = subSaturating(p.lastTotalBalance, amount)
		p.logger.Info("withdraw",
			zap.String("account_id", caller),
			zap.String("amount", amount.Dec()),
			zap.String("unstaked_balance", acct.unstaked.Dec()),
		)
	}}
	return &Transfer{To: caller, Amount: amount.Clone()}, nil
}

// Settle applies the staged ledger change when the collaborator reported
// success, or discards it so the ledger reads as if no operation happened.
func (p *Pool) Settle(ok bool) error {
	if p.staged == nil {
		return ErrNothingStaged
	}
	staged := p.staged
	p.staged = nil
	if ok {
		staged.apply()
		return nil
	}
	p.logger.Warn("staged change discarded", zap.String("kind", staged.kind))
	return nil
}

func (p *Pool) restakeIntent(desiredTotal *uint256.Int) *Restake {
	amount := desiredTotal.Clone()
	if p.paused {
		amount = uint256.NewInt(0)
	}
	return &Restake{Amount: amount, PublicKey: p.stakePublicKey}
}
