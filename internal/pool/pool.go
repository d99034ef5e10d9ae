package pool

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"stakepool/internal/model"
)

// DefaultUnlockEpochs is the number of epochs an unstaked balance stays
// locked before it can be withdrawn.
const DefaultUnlockEpochs = 4

// Env carries the host-observed facts for a single call: who is calling, the
// current epoch height, the pool's total token balance (with any amount
// attached to the in-flight call already excluded), and the attached deposit
// itself. The core is a pure state machine over Env values and performs no
// I/O of its own.
type Env struct {
	Caller      string
	EpochHeight uint64
	PoolBalance *uint256.Int
	Attached    *uint256.Int
}

func (e Env) attached() *uint256.Int {
	if e.Attached == nil {
		return uint256.NewInt(0)
	}
	return e.Attached
}

func (e Env) poolBalance() *uint256.Int {
	if e.PoolBalance == nil {
		return uint256.NewInt(0)
	}
	return e.PoolBalance
}

// Restake asks the validator primitive to re-delegate so that the validator
// holds exactly Amount behind PublicKey. While the pool is paused the
// requested amount is forced to zero.
type Restake struct {
	Amount    *uint256.Int
	PublicKey string
}

// Transfer pays out a withdrawn amount to an account.
type Transfer struct {
	To     string
	Amount *uint256.Int
}

// Vote forwards a governance vote to the voting collaborator on the pool's
// behalf.
type Vote struct {
	VotingAccountID string
	IsVote          bool
}

// Params configures a freshly initialized pool.
type Params struct {
	OwnerID        string
	StakePublicKey string
	RewardFee      model.RewardFeeFraction
	UnlockEpochs   uint64
	// InitialBalance is the pool's token balance at initialization.
	// Reserve is the slice of it set aside to fund share-price rounding
	// losses; it belongs to no account. The remainder becomes the genesis
	// stake backed by an equal genesis share allocation.
	InitialBalance *uint256.Int
	Reserve        *uint256.Int
}

type account struct {
	unstaked                     *uint256.Int
	stakeShares                  *uint256.Int
	unstakedAvailableEpochHeight uint64
}

func newAccount() account {
	return account{
		unstaked:    uint256.NewInt(0),
		stakeShares: uint256.NewInt(0),
	}
}

func (a account) clone() account {
	return account{
		unstaked:                     a.unstaked.Clone(),
		stakeShares:                  a.stakeShares.Clone(),
		unstakedAvailableEpochHeight: a.unstakedAvailableEpochHeight,
	}
}

func (a account) isZero() bool {
	return a.unstaked.IsZero() && a.stakeShares.IsZero()
}

// stagedChange is a validated ledger mutation waiting for the collaborator
// outcome. Applying it is the "settle succeeded" path; dropping it leaves
// the ledger exactly as if the operation never ran.
type stagedChange struct {
	kind  string
	apply func()
}

// Pool is the delegated-staking ledger: pool-wide aggregates plus one ledger
// entry per depositor. All mutating operations run the reward distribution
// (ping) first, then their own change. Stake-affecting operations stage
// their ledger change and return an intent; the change lands only when the
// intent settles successfully.
type Pool struct {
	logger *zap.Logger

	ownerID        string
	stakePublicKey string
	rewardFee      model.RewardFeeFraction
	unlockEpochs   uint64
	paused         bool

	lastEpochHeight  uint64
	lastTotalBalance *uint256.Int

	totalStakedBalance *uint256.Int
	totalStakeShares   *uint256.Int
	// genesisShares backs the initial stake minted at pool creation. They
	// count towards totalStakeShares but belong to no account, so the share
	// accounting identity is: sum of account shares + genesisShares ==
	// totalStakeShares.
	genesisShares *uint256.Int

	accounts map[string]account
	order    []string

	staged *stagedChange
	dirty  map[string]struct{}
}

// New initializes a pool at the given epoch height.
func New(params Params, epochHeight uint64, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if err := ValidateStakingKey(params.StakePublicKey); err != nil {
		return nil, err
	}
	if err := params.RewardFee.Validate(); err != nil {
		return nil, err
	}
	initial := params.InitialBalance
	if initial == nil {
		initial = uint256.NewInt(0)
	}
	reserve := params.Reserve
	if reserve == nil {
		reserve = uint256.NewInt(0)
	}
	if reserve.Cmp(initial) > 0 {
		return nil, fmt.Errorf("reserve %s exceeds initial balance %s", reserve.Dec(), initial.Dec())
	}
	unlockEpochs := params.UnlockEpochs
	if unlockEpochs == 0 {
		unlockEpochs = DefaultUnlockEpochs
	}

	genesisStake := new(uint256.Int).Sub(initial, reserve)
	p := &Pool{
		logger:             logger,
		ownerID:            params.OwnerID,
		stakePublicKey:     params.StakePublicKey,
		rewardFee:          params.RewardFee,
		unlockEpochs:       unlockEpochs,
		lastEpochHeight:    epochHeight,
		lastTotalBalance:   initial.Clone(),
		totalStakedBalance: genesisStake.Clone(),
		totalStakeShares:   genesisStake.Clone(),
		genesisShares:      genesisStake.Clone(),
		accounts:           make(map[string]account),
		dirty:              make(map[string]struct{}),
	}
	logger.Info("pool initialized",
		zap.String("owner_id", p.ownerID),
		zap.String("stake_public_key", p.stakePublicKey),
		zap.String("reward_fee", p.rewardFee.String()),
		zap.Uint64("epoch_height", epochHeight),
		zap.String("total_staked_balance", p.totalStakedBalance.Dec()),
		zap.String("reserve", reserve.Dec()),
	)
	return p, nil
}

// Restore rebuilds a pool from persisted records.
func Restore(rec model.PoolRecord, accounts []model.AccountRecord, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec.OwnerID == "" {
		return nil, fmt.Errorf("pool record has no owner id")
	}
	if err := ValidateStakingKey(rec.StakePublicKey); err != nil {
		return nil, err
	}
	if err := rec.RewardFee.Validate(); err != nil {
		return nil, err
	}
	lastTotal, err := model.ParseAmount(rec.LastTotalBalance)
	if err != nil {
		return nil, fmt.Errorf("last total balance: %w", err)
	}
	totalStaked, err := model.ParseAmount(rec.TotalStakedBalance)
	if err != nil {
		return nil, fmt.Errorf("total staked balance: %w", err)
	}
	totalShares, err := model.ParseAmount(rec.TotalStakeShares)
	if err != nil {
		return nil, fmt.Errorf("total stake shares: %w", err)
	}
	genesis, err := model.ParseAmount(rec.GenesisShares)
	if err != nil {
		return nil, fmt.Errorf("genesis shares: %w", err)
	}
	unlockEpochs := rec.UnlockEpochs
	if unlockEpochs == 0 {
		unlockEpochs = DefaultUnlockEpochs
	}

	p := &Pool{
		logger:             logger,
		ownerID:            rec.OwnerID,
		stakePublicKey:     rec.StakePublicKey,
		rewardFee:          rec.RewardFee,
		unlockEpochs:       unlockEpochs,
		paused:             rec.Paused,
		lastEpochHeight:    rec.LastEpochHeight,
		lastTotalBalance:   lastTotal,
		totalStakedBalance: totalStaked,
		totalStakeShares:   totalShares,
		genesisShares:      genesis,
		accounts:           make(map[string]account, len(accounts)),
		dirty:              make(map[string]struct{}),
	}
	for _, ar := range accounts {
		if ar.AccountID == "" {
			return nil, fmt.Errorf("account record has no account id")
		}
		unstaked, err := model.ParseAmount(ar.UnstakedBalance)
		if err != nil {
			return nil, fmt.Errorf("account %s unstaked balance: %w", ar.AccountID, err)
		}
		shares, err := model.ParseAmount(ar.StakeShares)
		if err != nil {
			return nil, fmt.Errorf("account %s stake shares: %w", ar.AccountID, err)
		}
		p.accounts[ar.AccountID] = account{
			unstaked:                     unstaked,
			stakeShares:                  shares,
			unstakedAvailableEpochHeight: ar.UnstakedAvailableEpochHeight,
		}
		p.order = append(p.order, ar.AccountID)
	}
	sort.Strings(p.order)
	return p, nil
}

// ValidateStakingKey checks that the key is a base58-encoded ed25519 public
// key, with an optional "ed25519:" prefix.
func ValidateStakingKey(key string) error {
	trimmed := strings.TrimPrefix(key, "ed25519:")
	if trimmed == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidStakingKey)
	}
	raw, err := base58.Decode(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStakingKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidStakingKey, ed25519.PublicKeySize, len(raw))
	}
	return nil
}

// Record returns the persistable pool-wide state.
func (p *Pool) Record() model.PoolRecord {
	return model.PoolRecord{
		OwnerID:            p.ownerID,
		StakePublicKey:     p.stakePublicKey,
		RewardFee:          p.rewardFee,
		LastEpochHeight:    p.lastEpochHeight,
		LastTotalBalance:   p.lastTotalBalance.Dec(),
		TotalStakedBalance: p.totalStakedBalance.Dec(),
		TotalStakeShares:   p.totalStakeShares.Dec(),
		GenesisShares:      p.genesisShares.Dec(),
		UnlockEpochs:       p.unlockEpochs,
		Paused:             p.paused,
	}
}

// AccountRecord returns the persistable record for one account. The second
// result is false when the account holds nothing (and should be deleted from
// storage).
func (p *Pool) AccountRecord(accountID string) (model.AccountRecord, bool) {
	acct, ok := p.accounts[accountID]
	if !ok {
		return model.AccountRecord{}, false
	}
	return model.AccountRecord{
		AccountID:                    accountID,
		UnstakedBalance:              acct.unstaked.Dec(),
		StakeShares:                  acct.stakeShares.Dec(),
		UnstakedAvailableEpochHeight: acct.unstakedAvailableEpochHeight,
	}, true
}

// DrainDirty returns the IDs of accounts touched since the last drain.
func (p *Pool) DrainDirty() []string {
	if len(p.dirty) == 0 {
		return nil
	}
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	p.dirty = make(map[string]struct{})
	return ids
}

// HasStagedChange reports whether a ledger change is awaiting settlement.
func (p *Pool) HasStagedChange() bool {
	return p.staged != nil
}
