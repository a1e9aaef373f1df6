// Package provision runs the per-wallet deposit pipeline across every configured wallet.
package provision

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/lidonghao1116/potato-swap-bot/internal/batch"
	"github.com/lidonghao1116/potato-swap-bot/internal/deposit"
	"github.com/lidonghao1116/potato-swap-bot/internal/metrics"
	"github.com/lidonghao1116/potato-swap-bot/internal/oracle"
	"github.com/lidonghao1116/potato-swap-bot/internal/precheck"
	"github.com/lidonghao1116/potato-swap-bot/internal/report"
	"github.com/lidonghao1116/potato-swap-bot/internal/slippage"
	"github.com/lidonghao1116/potato-swap-bot/internal/units"
	"github.com/lidonghao1116/potato-swap-bot/internal/wallet"
)

// Chain is the full chain surface one job touches.
type Chain interface {
	precheck.Chain
	deposit.Chain
}

type Quoter interface {
	Quote(ctx context.Context, amountIn *big.Int) (oracle.Quote, error)
}

type Config struct {
	Token  common.Address
	Router common.Address
	Native precheck.Asset
	Asset  precheck.Asset

	// DepositToken is the fixed token amount deposited per wallet.
	DepositToken   *big.Int
	RequiredNative *big.Int
	RequiredToken  *big.Int

	SlippagePercent     int
	SafetyBufferPercent int

	Batch batch.Options
	// DryRun stops each job after planning: no approval or deposit is sent.
	DryRun bool
}

func (c Config) validate() error {
	var errs []error
	if c.DepositToken == nil || c.DepositToken.Sign() <= 0 {
		errs = append(errs, errors.New("deposit token amount must be positive"))
	}
	if c.RequiredNative == nil || c.RequiredNative.Sign() < 0 {
		errs = append(errs, errors.New("required native must be non-negative"))
	}
	if c.RequiredToken == nil || c.RequiredToken.Sign() < 0 {
		errs = append(errs, errors.New("required token must be non-negative"))
	}
	if c.Token == (common.Address{}) || c.Router == (common.Address{}) {
		errs = append(errs, errors.New("token and router addresses are required"))
	}
	return errors.Join(errs...)
}

// Plan is everything decided for one wallet before any transaction is sent.
type Plan struct {
	Funding precheck.Funding
	Quote   oracle.Quote
	Params  deposit.Params
}

type Runner struct {
	cfg       Config
	validator *precheck.Validator
	quoter    Quoter
	submitter *deposit.Submitter
	out       *report.Writer
	log       zerolog.Logger
}

func NewRunner(cfg Config, validator *precheck.Validator, quoter Quoter, submitter *deposit.Submitter, out *report.Writer, log zerolog.Logger) (*Runner, error) {
	if validator == nil || quoter == nil || submitter == nil {
		return nil, errors.New("provision: validator, quoter and submitter are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		validator: validator,
		quoter:    quoter,
		submitter: submitter,
		out:       out,
		log:       log.With().Str("component", "provision").Logger(),
	}, nil
}

// Plan checks funding and prices the deposit. The native side is the quote inflated by the
// safety buffer; minimums come from the unbuffered quote.
func (r *Runner) Plan(ctx context.Context, w *wallet.Wallet) (Plan, error) {
	funding, err := r.validator.EnsureFunded(ctx, w.Address, r.cfg.RequiredNative, r.cfg.RequiredToken)
	if err != nil {
		return Plan{Funding: funding}, err
	}

	q, err := r.quoter.Quote(ctx, r.cfg.DepositToken)
	if err != nil {
		return Plan{Funding: funding}, fmt.Errorf("quote: %w", err)
	}
	if q.Out.Sign() == 0 {
		return Plan{Funding: funding, Quote: q}, fmt.Errorf("%s quote prices %s token units at zero native", q.Source, q.In)
	}
	minToken, minNative := slippage.ComputeMinimums(q.In, q.Out, r.cfg.SlippagePercent)
	p := deposit.Params{
		Token:               r.cfg.Token,
		AmountTokenDesired:  new(big.Int).Set(q.In),
		AmountNativeDesired: slippage.ApplyBuffer(q.Out, r.cfg.SafetyBufferPercent),
		AmountTokenMin:      minToken,
		AmountNativeMin:     minNative,
		Recipient:           w.Address,
	}
	return Plan{Funding: funding, Quote: q, Params: p}, nil
}

// RunJob is one Wallet Job. It returns the deposit tx hash, empty on a dry run.
func (r *Runner) RunJob(ctx context.Context, w *wallet.Wallet) (txHash string, err error) {
	started := time.Now()
	log := r.log.With().Int("index", w.Index).Str("wallet", w.Address.Hex()).Logger()

	var plan Plan
	defer func() {
		metrics.JobDuration.Observe(time.Since(started).Seconds())
		r.record(w, plan, txHash, err)
	}()

	plan, err = r.Plan(ctx, w)
	if err != nil {
		log.Error().Err(err).Msg("job failed before deposit")
		return "", err
	}
	p := plan.Params
	log.Info().
		Str("source", string(plan.Quote.Source)).
		Bool("confident", plan.Quote.Confident()).
		Str("token_desired", units.Format(p.AmountTokenDesired, r.cfg.Asset.Decimals)).
		Str("native_value", units.Format(p.AmountNativeDesired, r.cfg.Native.Decimals)).
		Str("token_min", units.Format(p.AmountTokenMin, r.cfg.Asset.Decimals)).
		Str("native_min", units.Format(p.AmountNativeMin, r.cfg.Native.Decimals)).
		Msg("deposit planned")

	if r.cfg.DryRun {
		allowance, ok, aerr := r.validator.AllowanceOK(ctx, w.Address, r.cfg.Router, p.AmountTokenDesired)
		if aerr != nil {
			return "", fmt.Errorf("read allowance: %w", aerr)
		}
		if !ok {
			log.Info().Str("allowance", allowance.String()).Msg("dry run: approval would be sent")
		}
		log.Info().Msg("dry run: deposit not sent")
		return "", nil
	}

	if _, err = r.validator.EnsureAuthorized(ctx, w, w.Address, r.cfg.Router, p.AmountTokenDesired); err != nil {
		log.Error().Err(err).Msg("authorization failed")
		return "", fmt.Errorf("authorize router: %w", err)
	}

	hash, err := r.submitter.Submit(ctx, w, w.Address, p)
	if err != nil {
		log.Error().Err(err).Msg("deposit failed")
		if hash != (common.Hash{}) {
			return hash.Hex(), err
		}
		return "", err
	}
	log.Info().Str("tx", hash.Hex()).Msg("deposit confirmed")
	return hash.Hex(), nil
}

func (r *Runner) record(w *wallet.Wallet, plan Plan, txHash string, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "failed"
	case r.cfg.DryRun:
		result = "planned"
	}
	metrics.JobsTotal.WithLabelValues(result).Inc()

	idx, ok := w.Index, err == nil
	rec := report.Record{
		Kind:   report.KindJob,
		DryRun: r.cfg.DryRun,
		Index:  &idx,
		Wallet: w.Address.Hex(),
		OK:     &ok,
		TxHash: txHash,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if p := plan.Params; p.AmountTokenDesired != nil {
		confident := plan.Quote.Confident()
		rec.QuoteSource = string(plan.Quote.Source)
		rec.QuoteConfident = &confident
		rec.TokenDesired = units.Format(p.AmountTokenDesired, r.cfg.Asset.Decimals)
		rec.NativeValue = units.Format(p.AmountNativeDesired, r.cfg.Native.Decimals)
		rec.TokenMin = units.Format(p.AmountTokenMin, r.cfg.Asset.Decimals)
		rec.NativeMin = units.Format(p.AmountNativeMin, r.cfg.Native.Decimals)
	}
	if werr := r.out.Write(rec); werr != nil {
		r.log.Warn().Err(werr).Msg("write outcome record")
	}
}

// Run executes every wallet's job in groups and returns the outcomes in wallet order.
func (r *Runner) Run(ctx context.Context, wallets []*wallet.Wallet) batch.Result {
	opts := r.cfg.Batch
	if opts.OnGroup == nil {
		opts.OnGroup = func(group, start, end int) {
			r.log.Info().Int("group", group).Int("from", start).Int("to", end-1).Msg("starting group")
		}
	}
	res := batch.Run(ctx, wallets, opts, r.RunJob)
	if res.Skipped > 0 {
		metrics.JobsTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	}
	return res
}
