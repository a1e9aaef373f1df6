package provision

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lidonghao1116/potato-swap-bot/internal/batch"
	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/deposit"
	"github.com/lidonghao1116/potato-swap-bot/internal/oracle"
	"github.com/lidonghao1116/potato-swap-bot/internal/precheck"
	"github.com/lidonghao1116/potato-swap-bot/internal/report"
	"github.com/lidonghao1116/potato-swap-bot/internal/retry"
	"github.com/lidonghao1116/potato-swap-bot/internal/wallet"
)

var (
	usdt   = common.HexToAddress("0x1E4a5963aBFD975d8c9021ce480b42188849D41d")
	router = common.HexToAddress("0x881fB2f98c13d521009464e7D1CBf16E1b394e8E")

	keys = []string{
		"4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"0x8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f",
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	}

	oneCent   = big.NewInt(10_000_000_000_000_000) // 0.01 native
	threeUSDT = big.NewInt(3_000_000)
	totalUSDT = big.NewInt(1_000_000_000_000)
	quotedWei = big.NewInt(5_000_000_000_000_000) // 0.005 native for 3 USDT
)

type account struct {
	native, token, allowance *big.Int
}

type fakeChain struct {
	mu        sync.Mutex
	accounts  map[common.Address]*account
	approvals int
	deposits  []chain.LiquidityETH
	nonce     uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{accounts: map[common.Address]*account{}}
}

func (f *fakeChain) fund(addr common.Address, native, token *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &account{native: native, token: token, allowance: new(big.Int)}
}

func (f *fakeChain) acct(addr common.Address) *account {
	if a, ok := f.accounts[addr]; ok {
		return a
	}
	return &account{native: new(big.Int), token: new(big.Int), allowance: new(big.Int)}
}

func (f *fakeChain) NativeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.acct(owner).native), nil
}

func (f *fakeChain) TokenBalance(_ context.Context, _, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.acct(owner).token), nil
}

func (f *fakeChain) Allowance(_ context.Context, _, owner, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.acct(owner).allowance), nil
}

func (f *fakeChain) TotalSupply(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Set(totalUSDT), nil
}

func (f *fakeChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) nextTx() *types.Transaction {
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, GasPrice: big.NewInt(1), Gas: 21_000})
}

func (f *fakeChain) Approve(_ context.Context, signer chain.Signer, _, _ common.Address, amount *big.Int) (*types.Transaction, error) {
	w, ok := signer.(*wallet.Wallet)
	if !ok {
		return nil, errors.New("unexpected signer")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals++
	f.accounts[w.Address].allowance = new(big.Int).Set(amount)
	return f.nextTx(), nil
}

func (f *fakeChain) AddLiquidityETH(_ context.Context, _ chain.Signer, args chain.LiquidityETH) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits = append(f.deposits, args)
	return f.nextTx(), nil
}

func (f *fakeChain) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

type fixedQuoter struct {
	out    *big.Int
	source oracle.Source
}

func (q fixedQuoter) Quote(_ context.Context, in *big.Int) (oracle.Quote, error) {
	src := q.source
	if src == "" {
		src = oracle.SourceDirectRoute
	}
	return oracle.Quote{In: new(big.Int).Set(in), Out: new(big.Int).Set(q.out), Source: src}, nil
}

func newRunner(t *testing.T, c *fakeChain, dryRun bool, out *report.Writer) *Runner {
	t.Helper()
	return newQuotedRunner(t, c, dryRun, out, fixedQuoter{out: quotedWei})
}

func newQuotedRunner(t *testing.T, c *fakeChain, dryRun bool, out *report.Writer, q Quoter) *Runner {
	t.Helper()
	native := precheck.Asset{Symbol: "OKB", Decimals: 18}
	asset := precheck.Asset{Symbol: "USDT", Decimals: 6}
	v := precheck.New(c, precheck.Config{Token: usdt, Native: native, Asset: asset, ConfirmTimeout: time.Minute}, zerolog.Nop())
	s := deposit.NewSubmitter(c, deposit.Config{
		Router: router,
		Retry:  retry.Policy{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }},
		Native: native,
		Asset:  asset,
	}, zerolog.Nop())
	r, err := NewRunner(Config{
		Token:               usdt,
		Router:              router,
		Native:              native,
		Asset:               asset,
		DepositToken:        threeUSDT,
		RequiredNative:      oneCent,
		RequiredToken:       threeUSDT,
		SlippagePercent:     5,
		SafetyBufferPercent: 10,
		Batch: batch.Options{
			Limit: 3,
			Sleep: func(context.Context, time.Duration) error { return nil },
		},
		DryRun: dryRun,
	}, v, q, s, out, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func readRecords(t *testing.T, path string) []report.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var recs []report.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec report.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, sc.Err())
	return recs
}

func loadWallets(t *testing.T, n int) []*wallet.Wallet {
	t.Helper()
	ws, err := wallet.Load(keys[:n])
	require.NoError(t, err)
	return ws
}

func TestRun_ExactFundingDeposits(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 2)
	for _, w := range ws {
		c.fund(w.Address, oneCent, threeUSDT)
	}

	res := newRunner(t, c, false, nil).Run(context.Background(), ws)
	require.Equal(t, 2, res.Succeeded, "%+v", res.Outcomes)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, c.approvals)
	require.Len(t, c.deposits, 2)

	d := c.deposits[0]
	assert.Equal(t, "3000000", d.AmountTokenDesired.String())
	assert.Equal(t, "2850000", d.AmountTokenMin.String())
	assert.Equal(t, "5500000000000000", d.Value.String(), "quote plus 10% buffer")
	assert.Equal(t, "4750000000000000", d.AmountNativeMin.String(), "minimum from the unbuffered quote")
	for _, o := range res.Outcomes {
		assert.NotEmpty(t, o.TxHash)
	}
}

func TestRun_ShortfallSendsNothing(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 1)
	c.fund(ws[0].Address, oneCent, big.NewInt(2_999_999))

	res := newRunner(t, c, false, nil).Run(context.Background(), ws)
	require.Equal(t, 1, res.Failed)
	err := res.Outcomes[0].Err
	assert.ErrorIs(t, err, precheck.ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "short 0.000001")
	assert.Zero(t, c.approvals)
	assert.Empty(t, c.deposits)
}

func TestRun_OneFailureDoesNotStopOthers(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 3)
	c.fund(ws[0].Address, oneCent, threeUSDT)
	c.fund(ws[1].Address, big.NewInt(1), threeUSDT)
	c.fund(ws[2].Address, oneCent, threeUSDT)

	res := newRunner(t, c, false, nil).Run(context.Background(), ws)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Outcomes[1].OK)
	assert.True(t, res.Outcomes[0].OK)
	assert.True(t, res.Outcomes[2].OK)
}

func TestRun_DryRunSendsNothing(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 2)
	for _, w := range ws {
		c.fund(w.Address, oneCent, threeUSDT)
	}
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	out := report.New(path)

	res := newRunner(t, c, true, out).Run(context.Background(), ws)
	require.NoError(t, out.Close())
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, c.approvals)
	assert.Empty(t, c.deposits)

	recs := readRecords(t, path)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, report.KindJob, rec.Kind)
		assert.True(t, rec.DryRun)
		assert.Equal(t, "direct_route", rec.QuoteSource)
		require.NotNil(t, rec.QuoteConfident)
		assert.True(t, *rec.QuoteConfident)
		assert.Equal(t, "0.0055", rec.NativeValue)
		assert.Equal(t, "3", rec.TokenDesired)
	}
}

func TestRun_RecordsReferencePriceAsNotConfident(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 1)
	c.fund(ws[0].Address, oneCent, threeUSDT)
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	out := report.New(path)

	q := fixedQuoter{out: quotedWei, source: oracle.SourceReferenceFallback}
	res := newQuotedRunner(t, c, true, out, q).Run(context.Background(), ws)
	require.NoError(t, out.Close())
	assert.Equal(t, 1, res.Succeeded)

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "reference_fallback", recs[0].QuoteSource)
	require.NotNil(t, recs[0].QuoteConfident)
	assert.False(t, *recs[0].QuoteConfident)
}

func TestRun_ZeroQuoteFailsJob(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 1)
	c.fund(ws[0].Address, oneCent, threeUSDT)

	q := fixedQuoter{out: big.NewInt(0), source: oracle.SourceReserveDerived}
	res := newQuotedRunner(t, c, true, nil, q).Run(context.Background(), ws)
	assert.Equal(t, 1, res.Failed)
	require.Error(t, res.Outcomes[0].Err)
	assert.Contains(t, res.Outcomes[0].Err.Error(), "at zero native")
	assert.Empty(t, c.deposits)
}

func TestRun_CancelledBeforeStartSkipsAll(t *testing.T) {
	c := newFakeChain()
	ws := loadWallets(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newRunner(t, c, false, nil).Run(ctx, ws)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Succeeded)
}

func TestNewRunner_RejectsBadConfig(t *testing.T) {
	c := newFakeChain()
	v := precheck.New(c, precheck.Config{Token: usdt}, zerolog.Nop())
	s := deposit.NewSubmitter(c, deposit.Config{Router: router}, zerolog.Nop())
	_, err := NewRunner(Config{Token: usdt, Router: router}, v, fixedQuoter{out: quotedWei}, s, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewRunner(Config{}, nil, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
