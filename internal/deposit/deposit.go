// Package deposit builds and submits the router's addLiquidityETH call.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/metrics"
	"github.com/lidonghao1116/potato-swap-bot/internal/precheck"
	"github.com/lidonghao1116/potato-swap-bot/internal/retry"
)

var (
	// ErrReverted is returned when the deposit was mined with a failed status.
	ErrReverted = errors.New("deposit reverted")
	// ErrDeadline is returned when the deadline is not after the submission time.
	ErrDeadline = errors.New("deposit deadline not in the future")
)

// Params are the arguments of one deposit. Token amounts are in the token's smallest unit,
// native amounts in wei.
type Params struct {
	Token               common.Address
	AmountTokenDesired  *big.Int
	AmountNativeDesired *big.Int
	AmountTokenMin      *big.Int
	AmountNativeMin     *big.Int
	Recipient           common.Address
	// Deadline is filled from the submitter's window when zero.
	Deadline time.Time
}

func (p Params) Validate(now time.Time) error {
	if p.Token == (common.Address{}) {
		return errors.New("deposit token is zero address")
	}
	if p.Recipient == (common.Address{}) {
		return errors.New("deposit recipient is zero address")
	}
	for _, a := range []struct {
		name             string
		desired, minimum *big.Int
	}{
		{"token", p.AmountTokenDesired, p.AmountTokenMin},
		{"native", p.AmountNativeDesired, p.AmountNativeMin},
	} {
		if a.desired == nil || a.desired.Sign() <= 0 {
			return fmt.Errorf("%s desired amount must be positive", a.name)
		}
		if a.minimum == nil || a.minimum.Sign() < 0 {
			return fmt.Errorf("%s minimum must be non-negative", a.name)
		}
		if a.minimum.Cmp(a.desired) > 0 {
			return fmt.Errorf("%s minimum %s exceeds desired %s", a.name, a.minimum, a.desired)
		}
	}
	if !p.Deadline.After(now) {
		return fmt.Errorf("%w: deadline=%s now=%s", ErrDeadline, p.Deadline.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	return nil
}

// Chain is what the submitter needs from the chain client.
type Chain interface {
	precheck.Reader
	PendingNonce(ctx context.Context, owner common.Address) (uint64, error)
	AddLiquidityETH(ctx context.Context, signer chain.Signer, args chain.LiquidityETH) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type Config struct {
	Router common.Address
	// DeadlineWindow is added to now when Params.Deadline is zero (default 20m).
	DeadlineWindow time.Duration
	// ConfirmTimeout bounds the receipt wait (default 3m).
	ConfirmTimeout time.Duration
	Retry          retry.Policy
	Native         precheck.Asset
	Asset          precheck.Asset
}

type Submitter struct {
	chain Chain
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
}

func NewSubmitter(c Chain, cfg Config, log zerolog.Logger) *Submitter {
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = 20 * time.Minute
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.Retry.OnRetry == nil {
		l := log
		cfg.Retry.OnRetry = func(attempt int, err error) {
			metrics.RetriesTotal.WithLabelValues("deposit").Inc()
			l.Warn().Err(err).Int("attempt", attempt).Msg("deposit send failed, retrying")
		}
	}
	return &Submitter{chain: c, cfg: cfg, now: time.Now, log: log.With().Str("component", "deposit").Logger()}
}

// Recheck reads balances and allowance again right before sending. Any gap is returned as a
// *precheck.ShortfallError.
func (s *Submitter) Recheck(ctx context.Context, owner common.Address, p Params) error {
	native, err := s.chain.NativeBalance(ctx, owner)
	if err != nil {
		return fmt.Errorf("recheck native balance: %w", err)
	}
	tok, err := s.chain.TokenBalance(ctx, p.Token, owner)
	if err != nil {
		return fmt.Errorf("recheck token balance: %w", err)
	}
	var items []precheck.Shortfall
	if sf := precheck.Compare(s.cfg.Native, native, p.AmountNativeDesired); sf != nil {
		items = append(items, *sf)
	}
	if sf := precheck.Compare(s.cfg.Asset, tok, p.AmountTokenDesired); sf != nil {
		items = append(items, *sf)
	}

	allowance, err := s.chain.Allowance(ctx, p.Token, owner, s.cfg.Router)
	if err != nil {
		return fmt.Errorf("recheck allowance: %w", err)
	}
	if allowance.Cmp(p.AmountTokenDesired) < 0 {
		supply, err := s.chain.TotalSupply(ctx, p.Token)
		if err != nil {
			return fmt.Errorf("recheck total supply: %w", err)
		}
		if !precheck.IsAmple(allowance, supply) {
			a := s.cfg.Asset
			a.Symbol += " allowance"
			items = append(items, *precheck.Compare(a, allowance, p.AmountTokenDesired))
		}
	}
	if len(items) > 0 {
		return &precheck.ShortfallError{Owner: owner, Items: items}
	}
	return nil
}

// Submit rechecks, sends the deposit with retries, and waits for its receipt. Only the send
// is retried, and every attempt reuses the nonce read before the first one, so a resend can
// replace an earlier broadcast but never add a second deposit.
func (s *Submitter) Submit(ctx context.Context, signer chain.Signer, owner common.Address, p Params) (common.Hash, error) {
	now := s.now()
	if p.Deadline.IsZero() {
		p.Deadline = now.Add(s.cfg.DeadlineWindow)
	}
	if err := p.Validate(now); err != nil {
		return common.Hash{}, err
	}
	if p.Recipient != owner {
		s.log.Debug().Str("recipient", p.Recipient.Hex()).Msg("liquidity tokens go to a different address")
	}
	if err := s.Recheck(ctx, owner, p); err != nil {
		return common.Hash{}, err
	}

	nonce, err := s.chain.PendingNonce(ctx, owner)
	if err != nil {
		return common.Hash{}, fmt.Errorf("read deposit nonce: %w", err)
	}
	args := chain.LiquidityETH{
		Token:              p.Token,
		AmountTokenDesired: p.AmountTokenDesired,
		AmountTokenMin:     p.AmountTokenMin,
		AmountNativeMin:    p.AmountNativeMin,
		Value:              p.AmountNativeDesired,
		To:                 p.Recipient,
		Deadline:           big.NewInt(p.Deadline.Unix()),
		Nonce:              new(big.Int).SetUint64(nonce),
	}
	attempts := 0
	tx, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (*types.Transaction, error) {
		if !p.Deadline.After(s.now()) {
			return nil, retry.Terminal(fmt.Errorf("%w: expired before send attempt %d", ErrDeadline, attempts+1))
		}
		attempts++
		return s.chain.AddLiquidityETH(ctx, signer, args)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send deposit nonce=%d attempts=%d: %w", nonce, attempts, err)
	}
	hash := tx.Hash()
	s.log.Info().Str("wallet", owner.Hex()).Str("tx", hash.Hex()).Msg("deposit sent")

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := s.chain.WaitMined(waitCtx, tx)
	if err != nil {
		return hash, fmt.Errorf("wait deposit receipt tx=%s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: tx=%s block=%s", ErrReverted, hash.Hex(), receipt.BlockNumber)
	}
	s.log.Info().
		Str("wallet", owner.Hex()).
		Str("tx", hash.Hex()).
		Str("liquidity", LiquidityMinted(receipt, p.Recipient).String()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("deposit mined")
	return hash, nil
}
