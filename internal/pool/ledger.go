package pool

import (
	"sort"

	"github.com/holiman/uint256"

	"stakepool/internal/model"
)

// getAccount returns a copy of the ledger entry for the account, or a fresh
// zero entry if none exists yet. Accounts are created lazily on first
// deposit.
func (p *Pool) getAccount(accountID string) account {
	if acct, ok := p.accounts[accountID]; ok {
		return acct.clone()
	}
	return newAccount()
}

// saveAccount writes the entry back, deleting it when both balances reached
// zero so empty accounts do not accumulate.
func (p *Pool) saveAccount(accountID string, acct account) {
	_, existed := p.accounts[accountID]
	if acct.isZero() {
		if existed {
			delete(p.accounts, accountID)
			p.removeFromOrder(accountID)
		}
	} else {
		p.accounts[accountID] = acct
		if !existed {
			p.insertIntoOrder(accountID)
		}
	}
	p.dirty[accountID] = struct{}{}
}

func (p *Pool) insertIntoOrder(accountID string) {
	i := sort.SearchStrings(p.order, accountID)
	p.order = append(p.order, "")
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = accountID
}

func (p *Pool) removeFromOrder(accountID string) {
	i := sort.SearchStrings(p.order, accountID)
	if i < len(p.order) && p.order[i] == accountID {
		p.order = append(p.order[:i], p.order[i+1:]...)
	}
}

// stakedBalance resolves a share holding to its token value at the current
// share price, rounding down.
func (p *Pool) stakedBalance(shares *uint256.Int) (*uint256.Int, error) {
	if p.totalStakeShares.IsZero() {
		return uint256.NewInt(0), nil
	}
	return mulDiv(shares, p.totalStakedBalance, p.totalStakeShares)
}

// GetAccountUnstakedBalance returns the account's unstaked balance.
func (p *Pool) GetAccountUnstakedBalance(accountID string) *uint256.Int {
	return p.getAccount(accountID).unstaked
}

// GetAccountStakedBalance returns the token value of the account's shares at
// the current share price.
func (p *Pool) GetAccountStakedBalance(accountID string) (*uint256.Int, error) {
	return p.stakedBalance(p.getAccount(accountID).stakeShares)
}

// GetAccountTotalBalance returns staked plus unstaked balance.
func (p *Pool) GetAccountTotalBalance(accountID string) (*uint256.Int, error) {
	acct := p.getAccount(accountID)
	staked, err := p.stakedBalance(acct.stakeShares)
	if err != nil {
		return nil, err
	}
	return add(staked, acct.unstaked)
}

// IsAccountUnstakedBalanceAvailable reports whether the account may withdraw
// at the given epoch.
func (p *Pool) IsAccountUnstakedBalanceAvailable(accountID string, epochHeight uint64) bool {
	return p.getAccount(accountID).unstakedAvailableEpochHeight <= epochHeight
}

// GetAccount returns the query-facing view of one account at the given
// epoch.
func (p *Pool) GetAccount(accountID string, epochHeight uint64) (model.AccountView, error) {
	acct := p.getAccount(accountID)
	staked, err := p.stakedBalance(acct.stakeShares)
	if err != nil {
		return model.AccountView{}, err
	}
	return model.AccountView{
		AccountID:       accountID,
		UnstakedBalance: acct.unstaked.Dec(),
		StakedBalance:   staked.Dec(),
		CanWithdraw:     acct.unstakedAvailableEpochHeight <= epochHeight,
	}, nil
}

// GetAccounts returns a page of account views ordered by account ID.
func (p *Pool) GetAccounts(epochHeight, fromIndex, limit uint64) ([]model.AccountView, error) {
	if fromIndex >= uint64(len(p.order)) || limit == 0 {
		return nil, nil
	}
	end := fromIndex + limit
	if end > uint64(len(p.order)) {
		end = uint64(len(p.order))
	}
	views := make([]model.AccountView, 0, end-fromIndex)
	for _, id := range p.order[fromIndex:end] {
		view, err := p.GetAccount(id, epochHeight)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetNumberOfAccounts returns the number of accounts with a non-zero
// balance.
func (p *Pool) GetNumberOfAccounts() uint64 {
	return uint64(len(p.accounts))
}

// GetTotalStakedBalance returns the pool-wide staked balance.
func (p *Pool) GetTotalStakedBalance() *uint256.Int {
	return p.totalStakedBalance.Clone()
}

// GetTotalBalance returns the pool-wide staked balance plus every account's
// unstaked balance. This is the quantity that only an explicit withdrawal
// may decrease.
func (p *Pool) GetTotalBalance() (*uint256.Int, error) {
	total := p.totalStakedBalance.Clone()
	for _, acct := range p.accounts {
		var err error
		total, err = add(total, acct.unstaked)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// GetTotalStakeShares returns the number of shares outstanding, including
// the genesis allocation.
func (p *Pool) GetTotalStakeShares() *uint256.Int {
	return p.totalStakeShares.Clone()
}

// GetOwnerID returns the pool operator's account ID.
func (p *Pool) GetOwnerID() string { return p.ownerID }

// GetRewardFeeFraction returns the operator's reward cut.
func (p *Pool) GetRewardFeeFraction() model.RewardFeeFraction { return p.rewardFee }

// GetStakingKey returns the validator public key the pool delegates to.
func (p *Pool) GetStakingKey() string { return p.stakePublicKey }

// IsStakingPaused reports whether re-delegation is forced to zero.
func (p *Pool) IsStakingPaused() bool { return p.paused }
