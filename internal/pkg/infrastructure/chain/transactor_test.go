package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	grc20errors "github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/matryer/is"
)

const target string = "0x0000000000000000000000000000000000000001"

func TestSendUsesPendingNonceAndEstimatedGas(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{nonce: 7, estimate: 100_000, baseFee: big.NewInt(10), tip: big.NewInt(2)}
	tx := newTestTransactor(t, backend)

	hash, err := tx.Send(ctx, target, "0xdeadbeef")
	is.NoErr(err)
	is.Equal(len(backend.sent), 1)

	sent := backend.sent[0]
	is.Equal(sent.Hash().Hex(), hash)
	is.Equal(sent.Nonce(), uint64(7))
	is.Equal(sent.Gas(), uint64(120_000))
	is.Equal(sent.Type(), uint8(types.DynamicFeeTxType))
	is.Equal(sent.GasTipCap().Int64(), int64(2))
	is.Equal(sent.GasFeeCap().Int64(), int64(22))
	is.Equal(sent.To().Hex(), target)
	is.Equal(hexutil.Encode(sent.Data()), "0xdeadbeef")

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(19411)), sent)
	is.NoErr(err)
	is.Equal(sender.Hex(), tx.Address())
}

func TestSendRereadsNonceForEveryTransaction(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{nonce: 1, estimate: 21_000, baseFee: big.NewInt(1), tip: big.NewInt(1), incrementNonce: true}
	tx := newTestTransactor(t, backend)

	_, err := tx.Send(ctx, target, "0x01")
	is.NoErr(err)
	_, err = tx.Send(ctx, target, "0x02")
	is.NoErr(err)

	is.Equal(backend.sent[0].Nonce(), uint64(1))
	is.Equal(backend.sent[1].Nonce(), uint64(2))
}

func TestConfiguredGasPriceAndLimitAreUsed(t *testing.T) {
	is, ctx := testSetup(t)

	price, err := ParseGwei("0.01")
	is.NoErr(err)
	is.Equal(price.Int64(), int64(10_000_000))

	backend := &fakeBackend{estimate: 1, baseFee: big.NewInt(10), tip: big.NewInt(2)}
	tx := newTestTransactor(t, backend, WithGasPolicy(GasPolicy{GasLimit: 5_000_000, GasPrice: price}))

	_, err = tx.Send(ctx, target, "0x01")
	is.NoErr(err)

	sent := backend.sent[0]
	is.Equal(sent.Gas(), uint64(5_000_000))
	is.Equal(sent.GasFeeCap().Int64(), int64(10_000_000))
	is.Equal(sent.GasTipCap().Int64(), int64(10_000_000))
	is.Equal(backend.estimateCalls, 0)
}

func TestLegacyTransactionWithoutBaseFee(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{estimate: 50_000, gasPrice: big.NewInt(5)}
	tx := newTestTransactor(t, backend)

	_, err := tx.Send(ctx, target, "0x01")
	is.NoErr(err)

	sent := backend.sent[0]
	is.Equal(sent.Type(), uint8(types.LegacyTxType))
	is.Equal(sent.GasPrice().Int64(), int64(5))
}

func TestSendFailureIsABroadcastError(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{estimate: 21_000, gasPrice: big.NewInt(1), sendErr: errors.New("nonce too low")}
	tx := newTestTransactor(t, backend)

	_, err := tx.Send(ctx, target, "0x01")
	is.True(errors.Is(err, grc20errors.ErrBroadcast))
}

func TestSendRejectsInvalidCalldata(t *testing.T) {
	is, ctx := testSetup(t)

	tx := newTestTransactor(t, &fakeBackend{estimate: 21_000, gasPrice: big.NewInt(1)})

	_, err := tx.Send(ctx, "not-an-address", "0x01")
	is.True(errors.Is(err, grc20errors.ErrBroadcast))

	_, err = tx.Send(ctx, target, "xyz")
	is.True(errors.Is(err, grc20errors.ErrBroadcast))
}

func TestWaitForReceiptPollsUntilFound(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{receiptAfter: 3, receiptStatus: types.ReceiptStatusSuccessful}
	tx := newTestTransactor(t, backend, WithPollInterval(time.Millisecond), WithMaxAttempts(5))

	receipt, err := tx.WaitForReceipt(ctx, "0x01")
	is.NoErr(err)
	is.Equal(receipt.BlockNumber.Int64(), int64(42))
	is.Equal(backend.receiptCalls, 3)
}

func TestWaitForReceiptTimesOut(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{receiptAfter: 100}
	tx := newTestTransactor(t, backend, WithPollInterval(time.Millisecond), WithMaxAttempts(4))

	_, err := tx.WaitForReceipt(ctx, "0xabc")
	is.True(errors.Is(err, grc20errors.ErrConfirmationTimeout))
	is.True(!errors.Is(err, grc20errors.ErrTransactionReverted))

	var timeout *ConfirmationTimeoutError
	is.True(errors.As(err, &timeout))
	is.Equal(timeout.Attempts, 4)
	is.Equal(backend.receiptCalls, 4)
}

func TestConfirmationWindowCoversEveryAttempt(t *testing.T) {
	is := is.New(t)

	tx := newTestTransactor(t, &fakeBackend{}, WithPollInterval(time.Minute), WithMaxAttempts(30))
	is.Equal(tx.confirmationWindow(), 31*time.Minute)

	tx = newTestTransactor(t, &fakeBackend{}, WithPollInterval(2*time.Second), WithMaxAttempts(3))
	is.Equal(tx.confirmationWindow(), 8*time.Second)
}

func TestWaitForReceiptReportsRevert(t *testing.T) {
	is, ctx := testSetup(t)

	backend := &fakeBackend{receiptAfter: 1, receiptStatus: types.ReceiptStatusFailed}
	tx := newTestTransactor(t, backend, WithPollInterval(time.Millisecond), WithMaxAttempts(10))

	_, err := tx.WaitForReceipt(ctx, "0x01")
	is.True(errors.Is(err, grc20errors.ErrTransactionReverted))
	is.True(!errors.Is(err, grc20errors.ErrConfirmationTimeout))
	is.Equal(backend.receiptCalls, 1)
}

func TestNewTransactorValidatesKeyAndAddress(t *testing.T) {
	is, ctx := testSetup(t)

	_, err := NewTransactor(ctx, &fakeBackend{}, "")
	is.True(errors.Is(err, grc20errors.ErrConfiguration))

	_, err = NewTransactor(ctx, &fakeBackend{}, "nothex", WithChainID(1))
	is.True(errors.Is(err, grc20errors.ErrConfiguration))

	key, _ := crypto.GenerateKey()
	hexKey := hexutil.Encode(crypto.FromECDSA(key))

	_, err = NewTransactor(ctx, &fakeBackend{}, hexKey, WithChainID(1), WithExpectedAddress(target))
	is.True(errors.Is(err, grc20errors.ErrConfiguration))

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	tx, err := NewTransactor(ctx, &fakeBackend{}, strings.TrimPrefix(hexKey, "0x"), WithChainID(1), WithExpectedAddress(strings.ToLower(address)))
	is.NoErr(err)
	is.Equal(tx.Address(), address)
}

func TestChainIDIsReadFromNodeWhenNotConfigured(t *testing.T) {
	is, ctx := testSetup(t)

	key, _ := crypto.GenerateKey()
	tx, err := NewTransactor(ctx, &fakeBackend{chainID: big.NewInt(80451)}, hexutil.Encode(crypto.FromECDSA(key)))
	is.NoErr(err)
	is.Equal(tx.ChainID().Int64(), int64(80451))
}

func TestFormatEther(t *testing.T) {
	is := is.New(t)

	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	is.Equal(FormatEther(wei), "1.500000")
}

func testSetup(t *testing.T) (*is.I, context.Context) {
	return is.New(t), context.Background()
}

func newTestTransactor(t *testing.T, backend *fakeBackend, options ...Option) *Transactor {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	options = append([]Option{WithChainID(19411)}, options...)

	tx, err := NewTransactor(context.Background(), backend, hexutil.Encode(crypto.FromECDSA(key)), options...)
	if err != nil {
		t.Fatal(err)
	}

	return tx
}

type fakeBackend struct {
	chainID        *big.Int
	nonce          uint64
	incrementNonce bool
	estimate       uint64
	estimateCalls  int
	gasPrice       *big.Int
	tip            *big.Int
	baseFee        *big.Int
	sendErr        error
	sent           []*types.Transaction

	receiptAfter  int
	receiptStatus uint64
	receiptCalls  int
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n := f.nonce
	if f.incrementNonce {
		f.nonce++
	}
	return n, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.estimateCalls++
	return f.estimate, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.receiptCalls++
	if f.receiptCalls < f.receiptAfter {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.receiptStatus, TxHash: txHash, BlockNumber: big.NewInt(42)}, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}
