// Package chain is the EVM read/write capability used by the provisioner: balances,
// allowances, router/factory/pair reads, approvals, the addLiquidityETH deposit and
// confirmation waits.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrNoEndpoint is returned by Dial when no configured RPC endpoint is usable.
var ErrNoEndpoint = errors.New("no usable rpc endpoint")

// Signer is the opaque signing capability of a wallet.
type Signer interface {
	Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// Contracts holds the addresses the client talks to.
type Contracts struct {
	Router  common.Address
	Factory common.Address
}

type Options struct {
	// RateLimit is the request budget per second across every caller. <=0 disables it.
	RateLimit float64
	Burst     int
	// DialTimeout bounds each endpoint probe.
	DialTimeout time.Duration
}

type Client struct {
	eth       *ethclient.Client
	url       string
	chainID   *big.Int
	contracts Contracts
	abis      contractABIs
	limiter   *rate.Limiter
}

// ValidateRPCURL rejects URLs that cannot be dialed or still carry a template placeholder.
func ValidateRPCURL(raw string) error {
	u := strings.TrimSpace(raw)
	if u == "" {
		return fmt.Errorf("rpc url empty")
	}
	if !strings.HasPrefix(u, "wss://") && !strings.HasPrefix(u, "ws://") &&
		!strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return fmt.Errorf("rpc url must be ws(s):// or http(s)://, got %q", u)
	}
	upper := strings.ToUpper(u)
	if strings.Contains(upper, "YOUR_KEY") || strings.Contains(upper, "YOUR_API_KEY") || strings.Contains(u, "<") {
		return fmt.Errorf("rpc url %q still contains a placeholder", u)
	}
	return nil
}

// Dial walks urls in order and returns a client for the first endpoint that answers with
// wantChainID. Unreachable endpoints and chain id mismatches are logged and skipped.
func Dial(ctx context.Context, urls []string, wantChainID int64, contracts Contracts, opts Options, log zerolog.Logger) (*Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrNoEndpoint)
	}
	abis, err := parseABIs()
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}

	var errs []error
	for _, url := range urls {
		probeCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		eth, id, err := probe(probeCtx, url)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("rpc", redactURL(url)).Msg("rpc endpoint unusable, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", redactURL(url), err))
			continue
		}
		if wantChainID > 0 && id.Int64() != wantChainID {
			eth.Close()
			err := fmt.Errorf("%s: chain id %s, want %d", redactURL(url), id, wantChainID)
			log.Warn().Err(err).Msg("rpc endpoint on wrong chain, trying next")
			errs = append(errs, err)
			continue
		}
		log.Info().Str("rpc", redactURL(url)).Str("chain_id", id.String()).Msg("rpc connected")
		return newClient(eth, url, id, contracts, abis, opts), nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoEndpoint, errors.Join(errs...))
}

func probe(ctx context.Context, url string) (*ethclient.Client, *big.Int, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, nil, fmt.Errorf("chain id: %w", err)
	}
	return eth, id, nil
}

func newClient(eth *ethclient.Client, url string, chainID *big.Int, contracts Contracts, abis contractABIs, opts Options) *Client {
	c := &Client{
		eth:       eth,
		url:       url,
		chainID:   chainID,
		contracts: contracts,
		abis:      abis,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

func (c *Client) Close() {
	if c == nil || c.eth == nil {
		return
	}
	c.eth.Close()
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// URL returns the endpoint in use with credentials stripped.
func (c *Client) URL() string { return redactURL(c.url) }

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) callRaw(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *Client) callUint256(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	out, err := c.callRaw(ctx, to, data)
	if err != nil {
		return nil, err
	}
	return decodeUint256(out)
}

func (c *Client) callABI(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.callRaw(ctx, to, data)
	if err != nil {
		return nil, err
	}
	return contractABI.Unpack(method, out)
}

func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := c.eth.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance(%s): %w", owner.Hex(), err)
	}
	return bal, nil
}

// PendingNonce returns the next nonce for owner, counting mempool transactions.
func (c *Client) PendingNonce(ctx context.Context, owner common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.eth.PendingNonceAt(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("pending nonce(%s): %w", owner.Hex(), err)
	}
	return n, nil
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	bal, err := c.callUint256(ctx, token, packAddressCall(erc20BalanceOfSelector, owner))
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s): %w", owner.Hex(), err)
	}
	return bal, nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	a, err := c.callUint256(ctx, token, packAddressCall(erc20AllowanceSelector, owner, spender))
	if err != nil {
		return nil, fmt.Errorf("allowance(%s,%s): %w", owner.Hex(), spender.Hex(), err)
	}
	return a, nil
}

func (c *Client) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	s, err := c.callUint256(ctx, token, erc20TotalSupplySelector)
	if err != nil {
		return nil, fmt.Errorf("totalSupply(%s): %w", token.Hex(), err)
	}
	return s, nil
}

func (c *Client) Decimals(ctx context.Context, token common.Address) (int32, error) {
	d, err := c.callUint256(ctx, token, erc20DecimalsSelector)
	if err != nil {
		return 0, fmt.Errorf("decimals(%s): %w", token.Hex(), err)
	}
	if !d.IsInt64() || d.Int64() > 77 {
		return 0, fmt.Errorf("decimals(%s): implausible value %s", token.Hex(), d)
	}
	return int32(d.Int64()), nil
}

func (c *Client) Symbol(ctx context.Context, token common.Address) (string, error) {
	vals, err := c.callABI(ctx, c.abis.erc20, token, "symbol")
	if err != nil {
		return "", fmt.Errorf("symbol(%s): %w", token.Hex(), err)
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("symbol(%s): unexpected result len %d", token.Hex(), len(vals))
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol(%s): unexpected type %T", token.Hex(), vals[0])
	}
	return s, nil
}

// AmountsOut asks the router for the output of a direct swap along path.
func (c *Client) AmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	vals, err := c.callABI(ctx, c.abis.router, c.contracts.Router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("getAmountsOut: %w", err)
	}
	return lastAmount(vals)
}

// PairFor returns the factory's pair for (a, b); the zero address means no pool.
func (c *Client) PairFor(ctx context.Context, a, b common.Address) (common.Address, error) {
	vals, err := c.callABI(ctx, c.abis.factory, c.contracts.Factory, "getPair", a, b)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair: %w", err)
	}
	return toAddress(vals, "getPair")
}

func (c *Client) PoolState(ctx context.Context, pair common.Address) (PoolState, error) {
	vals, err := c.callABI(ctx, c.abis.pair, pair, "token0")
	if err != nil {
		return PoolState{}, fmt.Errorf("token0: %w", err)
	}
	t0, err := toAddress(vals, "token0")
	if err != nil {
		return PoolState{}, err
	}
	if vals, err = c.callABI(ctx, c.abis.pair, pair, "token1"); err != nil {
		return PoolState{}, fmt.Errorf("token1: %w", err)
	}
	t1, err := toAddress(vals, "token1")
	if err != nil {
		return PoolState{}, err
	}
	if vals, err = c.callABI(ctx, c.abis.pair, pair, "getReserves"); err != nil {
		return PoolState{}, fmt.Errorf("getReserves: %w", err)
	}
	r0, r1, err := toReserves(vals)
	if err != nil {
		return PoolState{}, err
	}
	return PoolState{Pair: pair, Token0: t0, Token1: t1, Reserve0: r0, Reserve1: r1}, nil
}

// Approve sends approve(spender, amount) on token. The transaction is pending on return.
func (c *Client) Approve(ctx context.Context, signer Signer, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	opts, err := signer.Transactor(ctx, c.chainID)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(token, c.abis.erc20, c.eth, c.eth, c.eth)
	tx, err := contract.Transact(opts, "approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("approve(%s, %s): %w", spender.Hex(), amount, err)
	}
	return tx, nil
}

// LiquidityETH carries the addLiquidityETH arguments.
type LiquidityETH struct {
	Token              common.Address
	AmountTokenDesired *big.Int
	AmountTokenMin     *big.Int
	AmountNativeMin    *big.Int
	// Value is attached as msg.value (the native side's desired amount).
	Value    *big.Int
	To       common.Address
	Deadline *big.Int
	// Nonce pins the sender nonce so a resend replaces rather than duplicates.
	// Nil lets the node assign the pending nonce.
	Nonce *big.Int
}

// AddLiquidityETH sends the router deposit. The transaction is pending on return.
func (c *Client) AddLiquidityETH(ctx context.Context, signer Signer, args LiquidityETH) (*types.Transaction, error) {
	opts, err := signer.Transactor(ctx, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Value = new(big.Int).Set(args.Value)
	if args.Nonce != nil {
		opts.Nonce = new(big.Int).Set(args.Nonce)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(c.contracts.Router, c.abis.router, c.eth, c.eth, c.eth)
	tx, err := contract.Transact(opts, "addLiquidityETH",
		args.Token,
		args.AmountTokenDesired,
		args.AmountTokenMin,
		args.AmountNativeMin,
		args.To,
		args.Deadline,
	)
	if err != nil {
		return nil, fmt.Errorf("addLiquidityETH: %w", err)
	}
	return tx, nil
}

// WaitMined blocks until tx has a receipt or ctx ends.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.eth, tx)
}

func redactURL(u string) string {
	// Provider URLs commonly embed the API key as the last path segment.
	if i := strings.LastIndex(u, "/"); i > len("https://") && i < len(u)-1 {
		tail := u[i+1:]
		if len(tail) >= 16 {
			return u[:i+1] + tail[:4] + "…"
		}
	}
	return u
}
