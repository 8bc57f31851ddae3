package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	grc20errors "github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/params"
)

const DefaultGasMultiplier float64 = 1.2

// GasPolicy decides the gas limit and fees of every transaction sent by a
// Transactor. Zero values mean "ask the node".
type GasPolicy struct {
	GasLimit   uint64
	Multiplier float64
	GasPrice   *big.Int
}

type Fees struct {
	Legacy   bool
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// ParseGwei converts a decimal gwei amount such as "0.01" into wei
func ParseGwei(gwei string) (*big.Int, error) {
	gwei = strings.TrimSpace(gwei)
	if gwei == "" {
		return nil, nil
	}

	f, ok := new(big.Float).SetString(gwei)
	if !ok || f.Sign() < 0 {
		return nil, grc20errors.NewConfigurationError("GAS_PRICE_GWEI", fmt.Sprintf("%q is not a valid gwei amount", gwei))
	}

	wei, _ := new(big.Float).Mul(f, big.NewFloat(params.GWei)).Int(nil)
	return wei, nil
}

func (p GasPolicy) Limit(ctx context.Context, b Backend, msg ethereum.CallMsg) (uint64, error) {
	if p.GasLimit > 0 {
		return p.GasLimit, nil
	}

	estimate, err := b.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultGasMultiplier
	}

	return uint64(math.Ceil(float64(estimate) * multiplier)), nil
}

func (p GasPolicy) Fees(ctx context.Context, b Backend) (*Fees, error) {
	if p.GasPrice != nil && p.GasPrice.Sign() > 0 {
		return &Fees{
			TipCap: new(big.Int).Set(p.GasPrice),
			FeeCap: new(big.Int).Set(p.GasPrice),
		}, nil
	}

	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return &Fees{Legacy: true, GasPrice: price}, nil
	}

	tip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return &Fees{TipCap: tip, FeeCap: feeCap}, nil
}
