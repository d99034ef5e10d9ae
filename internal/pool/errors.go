package pool

import "errors"

// Precondition violations. All of these are detected before any state
// mutation, so a call that fails with one of them leaves the ledger
// untouched.
var (
	ErrUnauthorized                = errors.New("caller is not the pool owner")
	ErrAmountNotPositive           = errors.New("amount must be positive")
	ErrInsufficientUnstakedBalance = errors.New("not enough unstaked balance")
	ErrInsufficientStakedBalance   = errors.New("not enough staked balance")
	ErrUnstakedBalanceLocked       = errors.New("unstaked balance is not yet available due to the unstaking delay")
	ErrStakeAmountTooSmall         = errors.New("stake amount is too small for the current share price")
	ErrAlreadyPaused               = errors.New("staking is already paused")
	ErrNotPaused                   = errors.New("staking is not paused")
	ErrInvalidStakingKey           = errors.New("invalid staking public key")
)

// Arithmetic failures. These reject the current call only and never wrap or
// truncate silently.
var (
	ErrAmountOverflow = errors.New("amount overflows the token representation")
	ErrDivisionByZero = errors.New("division by zero in share price computation")
)

// Plumbing failures around the request/settle cycle.
var (
	ErrChangePending = errors.New("a staged ledger change is awaiting settlement")
	ErrNothingStaged = errors.New("no staged ledger change to settle")
)
