// Package oracle prices a known amount of one asset in units of another through a
// degrade-not-fail chain: router quote, then pool reserves, then a hardcoded reference price.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/metrics"
	"github.com/lidonghao1116/potato-swap-bot/internal/units"
)

// DefaultReferencePrice is the historical native-per-token ratio used when neither the
// router nor the pool can be read (native ≈ 50 token).
const DefaultReferencePrice = "0.02"

// Source tags how a quote was obtained.
type Source string

const (
	SourceDirectRoute       Source = "direct_route"
	SourceReserveDerived    Source = "reserve_derived"
	SourceReferenceFallback Source = "reference_fallback"
)

// ErrNoQuote is returned when every tier failed.
var ErrNoQuote = errors.New("no quote available")

// Quote is an immutable priced pair: In of the input asset matches Out of the output asset.
type Quote struct {
	In     *big.Int
	Out    *big.Int
	Source Source
}

// Confident is false for best-effort quotes that did not come from live chain state.
func (q Quote) Confident() bool {
	return q.Source == SourceDirectRoute || q.Source == SourceReserveDerived
}

// Pricer is the chain surface the oracle reads.
type Pricer interface {
	AmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
	PairFor(ctx context.Context, a, b common.Address) (common.Address, error)
	PoolState(ctx context.Context, pair common.Address) (chain.PoolState, error)
}

type Config struct {
	In          common.Address
	Out         common.Address
	InDecimals  int32
	OutDecimals int32
	// MinReserveOut rejects pools whose output-side reserve is thinner than this.
	MinReserveOut *big.Int
	// ReferencePrice is output units per one input unit, in human (decimal) terms.
	ReferencePrice decimal.Decimal
	// BreakerFailures consecutive router failures open the direct-route breaker (default 3).
	BreakerFailures uint32
	// BreakerCooldown is how long the open breaker skips the router (default 1m).
	BreakerCooldown time.Duration
}

type Oracle struct {
	dex     Pricer
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func New(dex Pricer, cfg Config, log zerolog.Logger) (*Oracle, error) {
	if dex == nil {
		return nil, errors.New("oracle: pricer required")
	}
	if cfg.In == (common.Address{}) || cfg.Out == (common.Address{}) {
		return nil, errors.New("oracle: input and output assets required")
	}
	if cfg.In == cfg.Out {
		return nil, errors.New("oracle: input and output assets must differ")
	}
	if !cfg.ReferencePrice.IsPositive() {
		return nil, fmt.Errorf("oracle: reference price must be positive, got %s", cfg.ReferencePrice)
	}
	if cfg.MinReserveOut == nil {
		cfg.MinReserveOut = new(big.Int)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}

	o := &Oracle{dex: dex, cfg: cfg, log: log.With().Str("component", "oracle").Logger()}
	failures := cfg.BreakerFailures
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "direct-route",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("router quote breaker changed state")
		},
	})
	return o, nil
}

// Quote prices amountIn of the input asset. Tiers are tried in order and the first success
// wins; the reference tier only fails on invalid input.
func (o *Oracle) Quote(ctx context.Context, amountIn *big.Int) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: amount must be positive", ErrNoQuote)
	}
	in := new(big.Int).Set(amountIn)

	out, err := o.direct(ctx, in)
	if err == nil {
		return served(Quote{In: in, Out: out, Source: SourceDirectRoute}), nil
	}
	o.log.Debug().Err(err).Msg("direct route quote failed")

	out, rerr := o.reserveDerived(ctx, in)
	if rerr == nil {
		o.log.Info().Err(err).Str("source", string(SourceReserveDerived)).Msg("router quote unavailable, priced from pool reserves")
		return served(Quote{In: in, Out: out, Source: SourceReserveDerived}), nil
	}

	out, ferr := o.reference(in)
	if ferr != nil {
		return Quote{}, fmt.Errorf("%w: %w", ErrNoQuote, errors.Join(err, rerr, ferr))
	}
	o.log.Warn().
		Str("source", string(SourceReferenceFallback)).
		Str("reference_price", o.cfg.ReferencePrice.String()).
		Str("amount_in", in.String()).
		Str("amount_out", out.String()).
		AnErr("direct_err", err).
		AnErr("reserve_err", rerr).
		Msg("PRICE ORACLE DEGRADED: using hardcoded reference price, deposit amounts are approximate")
	return served(Quote{In: in, Out: out, Source: SourceReferenceFallback}), nil
}

func served(q Quote) Quote {
	metrics.QuotesTotal.WithLabelValues(string(q.Source)).Inc()
	return q
}

func (o *Oracle) direct(ctx context.Context, amountIn *big.Int) (*big.Int, error) {
	res, err := o.breaker.Execute(func() (interface{}, error) {
		return o.dex.AmountsOut(ctx, amountIn, []common.Address{o.cfg.In, o.cfg.Out})
	})
	if err != nil {
		return nil, err
	}
	out, ok := res.(*big.Int)
	if !ok || out == nil || out.Sign() < 0 {
		return nil, errors.New("router returned no output")
	}
	return out, nil
}

func (o *Oracle) reserveDerived(ctx context.Context, amountIn *big.Int) (*big.Int, error) {
	pair, err := o.dex.PairFor(ctx, o.cfg.In, o.cfg.Out)
	if err != nil {
		return nil, err
	}
	if pair == (common.Address{}) {
		return nil, errors.New("factory has no pair")
	}
	state, err := o.dex.PoolState(ctx, pair)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, ok := state.ReservesFor(o.cfg.In, o.cfg.Out)
	if !ok {
		return nil, fmt.Errorf("pair %s holds %s/%s, not the configured assets", pair.Hex(), state.Token0.Hex(), state.Token1.Hex())
	}
	if reserveOut == nil || reserveOut.Cmp(o.cfg.MinReserveOut) < 0 {
		return nil, fmt.Errorf("pair %s output reserve %s below minimum %s", pair.Hex(), reserveOut, o.cfg.MinReserveOut)
	}
	return DeriveFromReserves(amountIn, reserveIn, reserveOut)
}

func (o *Oracle) reference(amountIn *big.Int) (*big.Int, error) {
	human := units.ToDecimal(amountIn, o.cfg.InDecimals).Mul(o.cfg.ReferencePrice)
	return units.FromDecimal(human, o.cfg.OutDecimals), nil
}

// DeriveFromReserves is the constant-product quote floor(amountIn * reserveOut / reserveIn).
// A floor of zero is a valid quote.
func DeriveFromReserves(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return nil, errors.New("input reserve is empty")
	}
	if reserveOut == nil || reserveOut.Sign() <= 0 {
		return nil, errors.New("output reserve is empty")
	}
	out := new(big.Int).Mul(amountIn, reserveOut)
	return out.Quo(out, reserveIn), nil
}
