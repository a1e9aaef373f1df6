// Package precheck verifies a wallet can pay for a deposit and that the router may pull
// its tokens, sending approval transactions when it may not.
package precheck

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/lidonghao1116/potato-swap-bot/internal/chain"
	"github.com/lidonghao1116/potato-swap-bot/internal/metrics"
	"github.com/lidonghao1116/potato-swap-bot/internal/units"
)

// ErrInsufficientFunds is wrapped by every *ShortfallError.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrApprovalReverted is returned when an approval transaction was mined but failed.
var ErrApprovalReverted = errors.New("approval reverted")

// Reader is the read-only chain surface.
type Reader interface {
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
}

// Chain adds the approval write path.
type Chain interface {
	Reader
	Approve(ctx context.Context, signer chain.Signer, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Asset names an amount's unit for reports.
type Asset struct {
	Symbol   string
	Decimals int32
}

// Shortfall is one itemised deficit.
type Shortfall struct {
	Asset   Asset
	Have    *big.Int
	Need    *big.Int
	Deficit *big.Int
}

func (s Shortfall) String() string {
	d := s.Asset.Decimals
	return fmt.Sprintf("%s: have %s, need %s, short %s",
		s.Asset.Symbol, units.Format(s.Have, d), units.Format(s.Need, d), units.Format(s.Deficit, d))
}

// ShortfallError reports every deficit found for one wallet.
type ShortfallError struct {
	Owner common.Address
	Items []Shortfall
}

func (e *ShortfallError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, it.String())
	}
	return fmt.Sprintf("insufficient funds for %s: %s", e.Owner.Hex(), strings.Join(parts, "; "))
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientFunds }

// Compare returns the deficit of have against need, or nil when have >= need.
func Compare(asset Asset, have, need *big.Int) *Shortfall {
	if need == nil || need.Sign() <= 0 {
		return nil
	}
	if have == nil {
		have = new(big.Int)
	}
	if have.Cmp(need) >= 0 {
		return nil
	}
	return &Shortfall{
		Asset:   asset,
		Have:    new(big.Int).Set(have),
		Need:    new(big.Int).Set(need),
		Deficit: new(big.Int).Sub(need, have),
	}
}

// IsAmple reports whether allowance covers at least half of the token's supply, which
// is treated as a standing unlimited approval.
func IsAmple(allowance, supply *big.Int) bool {
	if allowance == nil || supply == nil || supply.Sign() <= 0 {
		return false
	}
	// 2*allowance >= supply; halving supply would floor odd supplies.
	doubled := new(big.Int).Lsh(allowance, 1)
	return doubled.Cmp(supply) >= 0
}

// Funding is a balance snapshot.
type Funding struct {
	Native *big.Int
	Token  *big.Int
}

type Config struct {
	Token  common.Address
	Native Asset
	Asset  Asset
	// ConfirmTimeout bounds each approval receipt wait (default 3m).
	ConfirmTimeout time.Duration
}

type Validator struct {
	chain Chain
	cfg   Config
	log   zerolog.Logger
}

func New(c Chain, cfg Config, log zerolog.Logger) *Validator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.Native.Symbol == "" {
		cfg.Native = Asset{Symbol: "native", Decimals: units.NativeDecimals}
	}
	if cfg.Asset.Symbol == "" {
		cfg.Asset.Symbol = "token"
	}
	return &Validator{chain: c, cfg: cfg, log: log.With().Str("component", "precheck").Logger()}
}

// EnsureFunded reads both balances; balance == required is sufficient. A shortfall is
// returned as *ShortfallError naming every short asset.
func (v *Validator) EnsureFunded(ctx context.Context, owner common.Address, requiredNative, requiredToken *big.Int) (Funding, error) {
	native, err := v.chain.NativeBalance(ctx, owner)
	if err != nil {
		return Funding{}, err
	}
	token, err := v.chain.TokenBalance(ctx, v.cfg.Token, owner)
	if err != nil {
		return Funding{}, err
	}
	f := Funding{Native: native, Token: token}

	var items []Shortfall
	if s := Compare(v.cfg.Native, native, requiredNative); s != nil {
		items = append(items, *s)
	}
	if s := Compare(v.cfg.Asset, token, requiredToken); s != nil {
		items = append(items, *s)
	}
	if len(items) > 0 {
		for _, it := range items {
			metrics.ShortfallsTotal.WithLabelValues(it.Asset.Symbol).Inc()
		}
		return f, &ShortfallError{Owner: owner, Items: items}
	}
	return f, nil
}

// AllowanceOK reports whether spender may already pull required tokens from owner, either
// because the allowance covers it or because it is ample.
func (v *Validator) AllowanceOK(ctx context.Context, owner, spender common.Address, required *big.Int) (allowance *big.Int, ok bool, err error) {
	allowance, err = v.chain.Allowance(ctx, v.cfg.Token, owner, spender)
	if err != nil {
		return nil, false, err
	}
	if required != nil && allowance.Cmp(required) >= 0 {
		return allowance, true, nil
	}
	supply, err := v.chain.TotalSupply(ctx, v.cfg.Token)
	if err != nil {
		return allowance, false, err
	}
	return allowance, IsAmple(allowance, supply), nil
}

// EnsureAuthorized makes sure spender can pull required tokens from owner. It returns the
// hash of the last approval sent, or the zero hash when the allowance was already enough.
//
// An existing nonzero allowance is reset to zero before the new one is set, because some
// tokens reject a nonzero -> nonzero change. The new allowance is the full supply so later
// runs with different amounts do not need another approval. Each step waits for its
// receipt before the next one is sent.
func (v *Validator) EnsureAuthorized(ctx context.Context, signer chain.Signer, owner, spender common.Address, required *big.Int) (common.Hash, error) {
	allowance, err := v.chain.Allowance(ctx, v.cfg.Token, owner, spender)
	if err != nil {
		return common.Hash{}, err
	}
	supply, err := v.chain.TotalSupply(ctx, v.cfg.Token)
	if err != nil {
		return common.Hash{}, err
	}
	log := v.log.With().Str("wallet", owner.Hex()).Str("spender", spender.Hex()).Logger()

	if IsAmple(allowance, supply) {
		log.Debug().Str("allowance", allowance.String()).Msg("allowance ample, skipping approval")
		return common.Hash{}, nil
	}
	if required != nil && allowance.Cmp(required) >= 0 {
		log.Debug().Str("allowance", allowance.String()).Msg("allowance sufficient, skipping approval")
		return common.Hash{}, nil
	}
	if supply.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("token %s reports zero total supply", v.cfg.Token.Hex())
	}

	if allowance.Sign() > 0 {
		log.Info().Str("allowance", allowance.String()).Msg("resetting insufficient allowance to zero")
		if _, err := v.approveAndWait(ctx, signer, spender, new(big.Int), "reset"); err != nil {
			return common.Hash{}, err
		}
	}
	log.Info().Str("amount", supply.String()).Msg("approving router for full supply")
	return v.approveAndWait(ctx, signer, spender, supply, "set")
}

func (v *Validator) approveAndWait(ctx context.Context, signer chain.Signer, spender common.Address, amount *big.Int, step string) (common.Hash, error) {
	tx, err := v.chain.Approve(ctx, signer, v.cfg.Token, spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("approval %s: %w", step, err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, v.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := v.chain.WaitMined(waitCtx, tx)
	if err != nil {
		return tx.Hash(), fmt.Errorf("approval %s tx=%s: wait receipt: %w", step, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("%w: %s tx=%s", ErrApprovalReverted, step, tx.Hash().Hex())
	}
	metrics.ApprovalsTotal.WithLabelValues(step).Inc()
	v.log.Info().Str("tx", tx.Hash().Hex()).Str("step", step).Msg("approval confirmed")
	return tx.Hash(), nil
}
