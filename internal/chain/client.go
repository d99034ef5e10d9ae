package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"stakepool/internal/model"
)

// Client talks JSON-RPC to the host node: epoch and balance facts, the
// validator re-delegation primitive, token transfers, and the voting
// collaborator. Amounts travel as decimal strings.
type Client struct {
	rpcClient *rpc.Client
}

// NewClient dials the host RPC endpoint.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{rpcClient: rpcClient}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// EpochHeight returns the host's current epoch height.
func (c *Client) EpochHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.rpcClient.CallContext(ctx, &height, "host_epochHeight"); err != nil {
		return 0, err
	}
	return height, nil
}

// AccountBalance returns the total token balance of the given account as
// observed by the host.
func (c *Client) AccountBalance(ctx context.Context, accountID string) (*uint256.Int, error) {
	var raw string
	if err := c.rpcClient.CallContext(ctx, &raw, "host_accountBalance", accountID); err != nil {
		return nil, err
	}
	balance, err := model.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("account balance for %s: %w", accountID, err)
	}
	return balance, nil
}

// SetStake asks the validator primitive to re-delegate so that exactly
// amount is staked behind publicKey. A non-nil error is the rejected
// outcome delivered to the settle step.
func (c *Client) SetStake(ctx context.Context, amount *uint256.Int, publicKey string) error {
	return c.rpcClient.CallContext(ctx, nil, "host_stake", model.FormatAmount(amount), publicKey)
}

// Transfer sends tokens from the pool account to the recipient.
func (c *Client) Transfer(ctx context.Context, to string, amount *uint256.Int) error {
	return c.rpcClient.CallContext(ctx, nil, "host_transfer", to, model.FormatAmount(amount))
}

// CastVote forwards a governance vote to the voting collaborator.
func (c *Client) CastVote(ctx context.Context, votingAccountID string, isVote bool) error {
	return c.rpcClient.CallContext(ctx, nil, "vote_castVote", votingAccountID, isVote)
}
