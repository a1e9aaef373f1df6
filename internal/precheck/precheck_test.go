package precheck

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
)

var (
	token  = common.HexToAddress("0x1E4a5963aBFD975d8c9021ce480b42188849D41d")
	router = common.HexToAddress("0x881fB2f98c13d521009464e7D1CBf16E1b394e8E")
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type noopSigner struct{}

func (noopSigner) Transactor(context.Context, *big.Int) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{}, nil
}

type fakeChain struct {
	native, token, allowance, supply *big.Int
	readErr                          error

	approvals []*big.Int
	nonce     uint64
	status    uint64
	waitErr   error
}

func (f *fakeChain) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return f.native, f.readErr
}

func (f *fakeChain) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.token, f.readErr
}

func (f *fakeChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return f.allowance, f.readErr
}

func (f *fakeChain) TotalSupply(context.Context, common.Address) (*big.Int, error) {
	return f.supply, f.readErr
}

func (f *fakeChain) Approve(_ context.Context, _ chain.Signer, _, _ common.Address, amount *big.Int) (*types.Transaction, error) {
	f.approvals = append(f.approvals, new(big.Int).Set(amount))
	f.allowance = new(big.Int).Set(amount)
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, GasPrice: big.NewInt(1), Gas: 21000}), nil
}

func (f *fakeChain) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("wait without deadline")
	}
	return &types.Receipt{Status: f.status, TxHash: tx.Hash()}, nil
}

func newValidator(c Chain) *Validator {
	return New(c, Config{
		Token:          token,
		Native:         Asset{Symbol: "OKB", Decimals: 18},
		Asset:          Asset{Symbol: "USDT", Decimals: 6},
		ConfirmTimeout: time.Minute,
	}, zerolog.Nop())
}

func ether(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1e15))
}

func TestEnsureFunded_ExactBalanceIsSufficient(t *testing.T) {
	c := &fakeChain{native: ether(10), token: big.NewInt(3_000_000)}
	f, err := newValidator(c).EnsureFunded(context.Background(), owner, ether(10), big.NewInt(3_000_000))
	require.NoError(t, err)
	assert.Equal(t, "3000000", f.Token.String())
}

func TestEnsureFunded_ReportsDeficit(t *testing.T) {
	c := &fakeChain{native: ether(10), token: big.NewInt(2_999_999)}
	_, err := newValidator(c).EnsureFunded(context.Background(), owner, ether(10), big.NewInt(3_000_000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))

	var se *ShortfallError
	require.True(t, errors.As(err, &se))
	require.Len(t, se.Items, 1)
	assert.Equal(t, "USDT", se.Items[0].Asset.Symbol)
	assert.Equal(t, "1", se.Items[0].Deficit.String())
	assert.Equal(t, "USDT: have 2.999999, need 3, short 0.000001", se.Items[0].String())
	assert.Contains(t, err.Error(), owner.Hex())
}

func TestEnsureFunded_BothShort(t *testing.T) {
	c := &fakeChain{native: ether(9), token: big.NewInt(0)}
	_, err := newValidator(c).EnsureFunded(context.Background(), owner, ether(10), big.NewInt(3_000_000))
	var se *ShortfallError
	require.True(t, errors.As(err, &se))
	require.Len(t, se.Items, 2)
	assert.Equal(t, "OKB: have 0.009, need 0.01, short 0.001", se.Items[0].String())
}

func TestEnsureFunded_ReadError(t *testing.T) {
	boom := errors.New("connection refused")
	c := &fakeChain{readErr: boom}
	_, err := newValidator(c).EnsureFunded(context.Background(), owner, ether(10), big.NewInt(1))
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrInsufficientFunds))
}

func TestIsAmple(t *testing.T) {
	supply := big.NewInt(1_000)
	assert.True(t, IsAmple(big.NewInt(500), supply))
	assert.True(t, IsAmple(big.NewInt(1_000), supply))
	assert.False(t, IsAmple(big.NewInt(499), supply))

	odd := big.NewInt(1_001)
	assert.False(t, IsAmple(big.NewInt(500), odd), "500 is below half of 1001")
	assert.True(t, IsAmple(big.NewInt(501), odd))
	assert.False(t, IsAmple(big.NewInt(10), big.NewInt(0)))
	assert.False(t, IsAmple(nil, supply))
}

func TestEnsureAuthorized_AmpleSkipsApproval(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(600), supply: big.NewInt(1_000), status: types.ReceiptStatusSuccessful}
	h, err := newValidator(c).EnsureAuthorized(context.Background(), noopSigner{}, owner, router, big.NewInt(900))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, h)
	assert.Empty(t, c.approvals)
}

func TestEnsureAuthorized_SufficientSkipsApproval(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(100), supply: big.NewInt(1_000), status: types.ReceiptStatusSuccessful}
	_, err := newValidator(c).EnsureAuthorized(context.Background(), noopSigner{}, owner, router, big.NewInt(100))
	require.NoError(t, err)
	assert.Empty(t, c.approvals)
}

func TestEnsureAuthorized_ZeroAllowanceApprovesSupply(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(0), supply: big.NewInt(1_000), status: types.ReceiptStatusSuccessful}
	h, err := newValidator(c).EnsureAuthorized(context.Background(), noopSigner{}, owner, router, big.NewInt(100))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, h)
	require.Len(t, c.approvals, 1)
	assert.Equal(t, "1000", c.approvals[0].String())
}

func TestEnsureAuthorized_ResetsBeforeRaising(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(50), supply: big.NewInt(1_000), status: types.ReceiptStatusSuccessful}
	_, err := newValidator(c).EnsureAuthorized(context.Background(), noopSigner{}, owner, router, big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, c.approvals, 2)
	assert.Equal(t, "0", c.approvals[0].String())
	assert.Equal(t, "1000", c.approvals[1].String())
}

func TestEnsureAuthorized_RevertedApproval(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(0), supply: big.NewInt(1_000), status: types.ReceiptStatusFailed}
	h, err := newValidator(c).EnsureAuthorized(context.Background(), noopSigner{}, owner, router, big.NewInt(100))
	assert.ErrorIs(t, err, ErrApprovalReverted)
	assert.NotEqual(t, common.Hash{}, h)
}

func TestEnsureAuthorized_ResetFailureStopsSequence(t *testing.T) {
	c := &fakeChain{allowance: big.NewInt(50), supply: big.NewInt(1_000), waitErr: context.DeadlineExceeded}
	_, err := newValidator(c).EnsureAuthorized(context.Background(), noopSigner{}, owner, router, big.NewInt(100))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, c.approvals, 1, "set must not be sent when reset is unconfirmed")
}
