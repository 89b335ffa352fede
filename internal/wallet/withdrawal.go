package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Snowgem/XsgTwitterFaucet/internal/faucet"
	"go.uber.org/zap"
)

var (
	errMissingNode    = errors.New("wallet: node client is required")
	errMissingAmounts = errors.New("wallet: tier amounts are required")
)

// NodeClient is the subset of the wallet RPC surface the gateway needs.
type NodeClient interface {
	GetBalance(ctx context.Context) (float64, error)
	SendToAddress(ctx context.Context, address string, amount float64) (string, error)
}

// GatewayConfig describes the withdrawal gateway dependencies.
type GatewayConfig struct {
	Node    NodeClient
	Amounts map[faucet.RewardTier]float64
	Logger  *zap.Logger
}

// Gateway executes faucet payouts against the coin daemon wallet.
type Gateway struct {
	node    NodeClient
	amounts map[faucet.RewardTier]float64
	logger  *zap.Logger
}

// NewGateway constructs the withdrawal gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Node == nil {
		return nil, errMissingNode
	}
	if len(cfg.Amounts) == 0 {
		return nil, errMissingAmounts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{node: cfg.Node, amounts: cfg.Amounts, logger: logger}, nil
}

// Amount returns the configured payout for the tier.
func (g *Gateway) Amount(tier faucet.RewardTier) float64 {
	return g.amounts[tier]
}

// CanExecute reports whether the faucet balance covers a payout of the tier.
func (g *Gateway) CanExecute(ctx context.Context, tier faucet.RewardTier) (bool, error) {
	balance, err := g.node.GetBalance(ctx)
	if err != nil {
		return false, fmt.Errorf("wallet: balance check: %w", err)
	}
	return balance >= g.amounts[tier], nil
}

// Execute sends the tier amount to the target address.
func (g *Gateway) Execute(ctx context.Context, tier faucet.RewardTier, address string) error {
	amount := g.amounts[tier]
	txid, err := g.node.SendToAddress(ctx, address, amount)
	if err != nil {
		return fmt.Errorf("wallet: send %v to %s: %w", amount, address, err)
	}
	g.logger.Info("withdrawal executed",
		zap.String("tier", string(tier)),
		zap.Float64("amount", amount),
		zap.String("address", address),
		zap.String("txid", txid))
	return nil
}

// GetBalance returns the current faucet balance.
func (g *Gateway) GetBalance(ctx context.Context) (float64, error) {
	return g.node.GetBalance(ctx)
}
