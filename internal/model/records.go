package model

// PoolRecord is the persisted representation of the pool-wide aggregate
// state. Big amounts are encoded as decimal strings.
type PoolRecord struct {
	OwnerID            string            `json:"owner_id"`
	StakePublicKey     string            `json:"stake_public_key"`
	RewardFee          RewardFeeFraction `json:"reward_fee_fraction"`
	LastEpochHeight    uint64            `json:"last_epoch_height"`
	LastTotalBalance   string            `json:"last_total_balance"`
	TotalStakedBalance string            `json:"total_staked_balance"`
	TotalStakeShares   string            `json:"total_stake_shares"`
	GenesisShares      string            `json:"genesis_shares"`
	UnlockEpochs       uint64            `json:"unlock_epochs"`
	Paused             bool              `json:"paused"`
}

// AccountRecord is the persisted representation of one depositor's ledger
// entry.
type AccountRecord struct {
	AccountID                    string `json:"account_id"`
	UnstakedBalance              string `json:"unstaked_balance"`
	StakeShares                  string `json:"stake_shares"`
	UnstakedAvailableEpochHeight uint64 `json:"unstaked_available_epoch_height"`
}

// AccountView is the query-facing shape of an account: share holdings
// resolved to balances at the current share price.
type AccountView struct {
	AccountID       string `json:"account_id"`
	UnstakedBalance string `json:"unstaked_balance"`
	StakedBalance   string `json:"staked_balance"`
	CanWithdraw     bool   `json:"can_withdraw"`
}
