package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	grc20errors "github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kg-publisher/chain")

// Backend is the subset of the JSON-RPC API needed to send and confirm
// transactions. It is satisfied by *ethclient.Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to a JSON-RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, grc20errors.NewMissingSettingError("RPC_URL")
	}

	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}

	return c, nil
}

// ConfirmationTimeoutError is returned when no receipt shows up within the
// configured number of polls. The transaction may still be mined later.
type ConfirmationTimeoutError struct {
	Hash     string
	Attempts int
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed after %d attempts", e.Hash, e.Attempts)
}

func (e *ConfirmationTimeoutError) Unwrap() error {
	return grc20errors.ErrConfirmationTimeout
}

type Option func(*Transactor)

func WithChainID(id int64) Option {
	return func(t *Transactor) {
		if id > 0 {
			t.chainID = big.NewInt(id)
		}
	}
}

func WithGasPolicy(policy GasPolicy) Option {
	return func(t *Transactor) {
		t.gas = policy
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(t *Transactor) {
		if interval > 0 {
			t.pollInterval = interval
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(t *Transactor) {
		if attempts > 0 {
			t.maxAttempts = attempts
		}
	}
}

// WithExpectedAddress makes NewTransactor fail unless the key belongs to address
func WithExpectedAddress(address string) Option {
	return func(t *Transactor) {
		t.expected = strings.TrimSpace(address)
	}
}

type Transactor struct {
	backend  Backend
	key      *ecdsa.PrivateKey
	address  common.Address
	expected string
	chainID  *big.Int
	gas      GasPolicy

	pollInterval time.Duration
	maxAttempts  int
}

func NewTransactor(ctx context.Context, backend Backend, privateKey string, options ...Option) (*Transactor, error) {
	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	if privateKey == "" {
		return nil, grc20errors.NewMissingSettingError("PRIVATE_KEY")
	}

	key, err := crypto.HexToECDSA(privateKey)
	if err != nil {
		return nil, grc20errors.NewConfigurationError("PRIVATE_KEY", "not a valid hex encoded private key")
	}

	t := &Transactor{
		backend:      backend,
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		gas:          GasPolicy{Multiplier: DefaultGasMultiplier},
		pollInterval: 2 * time.Second,
		maxAttempts:  30,
	}

	for _, option := range options {
		option(t)
	}

	if t.expected != "" {
		if !common.IsHexAddress(t.expected) {
			return nil, grc20errors.NewConfigurationError("WALLET_ADDRESS", "not a valid address")
		}
		if common.HexToAddress(t.expected) != t.address {
			return nil, grc20errors.NewConfigurationError("WALLET_ADDRESS", fmt.Sprintf("does not match the address %s of the private key", t.address.Hex()))
		}
	}

	if t.chainID == nil {
		t.chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
	}

	return t, nil
}

func (t *Transactor) Address() string {
	return t.address.Hex()
}

func (t *Transactor) ChainID() *big.Int {
	return new(big.Int).Set(t.chainID)
}

// Send signs and broadcasts a transaction calling to with the hex encoded
// data. The pending nonce is read from the node on every call.
func (t *Transactor) Send(ctx context.Context, to, data string) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "send-transaction",
		trace.WithAttributes(attribute.String("to", to)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tx, err := t.buildTransaction(ctx, to, data)
	if err != nil {
		err = fmt.Errorf("%w (%w)", err, grc20errors.ErrBroadcast)
		return "", err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		err = fmt.Errorf("failed to sign transaction: %w (%w)", err, grc20errors.ErrBroadcast)
		return "", err
	}

	err = t.backend.SendTransaction(ctx, signed)
	if err != nil {
		err = fmt.Errorf("failed to send transaction: %w (%w)", err, grc20errors.ErrBroadcast)
		return "", err
	}

	hash := signed.Hash().Hex()
	span.SetAttributes(attribute.String("tx-hash", hash))

	logging.GetFromContext(ctx).Debug("transaction sent", "tx_hash", hash, "nonce", signed.Nonce(), "gas", signed.Gas())

	return hash, nil
}

func (t *Transactor) buildTransaction(ctx context.Context, to, data string) (*types.Transaction, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid transaction target %q", to)
	}
	target := common.HexToAddress(to)

	input, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("invalid calldata: %w", err)
	}

	nonce, err := t.backend.PendingNonceAt(ctx, t.address)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending nonce: %w", err)
	}

	limit, err := t.gas.Limit(ctx, t.backend, ethereum.CallMsg{From: t.address, To: &target, Data: input})
	if err != nil {
		return nil, err
	}

	fees, err := t.gas.Fees(ctx, t.backend)
	if err != nil {
		return nil, err
	}

	if fees.Legacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &target,
			Gas:      limit,
			GasPrice: fees.GasPrice,
			Data:     input,
		}), nil
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     nonce,
		To:        &target,
		Gas:       limit,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Data:      input,
	}), nil
}

// WaitForReceipt polls for the receipt of a transaction. A transaction that
// is still missing after the last poll gives a *ConfirmationTimeoutError,
// a reverted one an error wrapping ErrTransactionReverted.
func (t *Transactor) WaitForReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	var err error

	ctx, span := tracer.Start(ctx, "wait-for-receipt",
		trace.WithAttributes(attribute.String("tx-hash", hash)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	txHash := common.HexToHash(hash)
	attempt := 0

	receipt, err := backoff.Retry(ctx, func() (*types.Receipt, error) {
		attempt++

		r, err := t.backend.TransactionReceipt(ctx, txHash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				log.Debug("receipt lookup failed", "tx_hash", hash, "attempt", attempt, "err", err.Error())
			}
			return nil, err
		}

		if r.Status == types.ReceiptStatusFailed {
			return nil, backoff.Permanent(fmt.Errorf("transaction %s in block %s (%w)", hash, r.BlockNumber, grc20errors.ErrTransactionReverted))
		}

		return r, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(t.pollInterval)),
		backoff.WithMaxTries(uint(t.maxAttempts)),
		backoff.WithMaxElapsedTime(t.confirmationWindow()),
	)

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
			return nil, err
		}

		if !errors.Is(err, grc20errors.ErrTransactionReverted) {
			err = &ConfirmationTimeoutError{Hash: hash, Attempts: t.maxAttempts}
		}
		return nil, err
	}

	return receipt, nil
}

// confirmationWindow covers every configured poll plus one interval of slack,
// so the attempt limit is what ends the wait
func (t *Transactor) confirmationWindow() time.Duration {
	return t.pollInterval*time.Duration(t.maxAttempts) + t.pollInterval
}

func (t *Transactor) Balance(ctx context.Context) (*big.Int, error) {
	return t.backend.BalanceAt(ctx, t.address, nil)
}

// FormatEther renders an amount of wei as a decimal amount of ether
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	f := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return f.Text('f', 6)
}
