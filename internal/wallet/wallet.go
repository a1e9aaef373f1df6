// Package wallet turns configured private keys into Wallet Jobs.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var keyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// Wallet is one pre-funded account the provisioner operates on. It is built once at load
// time and never mutated.
type Wallet struct {
	Index   int
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// Transactor returns signing options bound to ctx for chainID.
func (w *Wallet) Transactor(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if w == nil || w.Key == nil {
		return nil, errors.New("wallet key missing")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.Key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (w *Wallet) String() string {
	if w == nil {
		return "<nil>"
	}
	return fmt.Sprintf("#%d %s", w.Index, w.Address.Hex())
}

// SplitKeys splits a raw key list on commas, semicolons and whitespace.
// Returns nil if raw is empty/whitespace.
func SplitKeys(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return strings.FieldsFunc(trimmed, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})
}

// ValidateKey checks the credential format without deriving the key.
func ValidateKey(s string) error {
	s = strings.TrimSpace(s)
	if !keyPattern.MatchString(s) {
		return errors.New("private key must be 64 hex characters (optional 0x prefix)")
	}
	if strings.Trim(strings.TrimPrefix(s, "0x"), "0") == "" {
		return errors.New("private key is all zeros (placeholder?)")
	}
	return nil
}

// Load derives one Wallet per key, in order. Every malformed or duplicated key is reported.
// The key text itself never appears in errors.
func Load(keys []string) ([]*Wallet, error) {
	if len(keys) == 0 {
		return nil, errors.New("no private keys configured")
	}

	out := make([]*Wallet, 0, len(keys))
	seen := make(map[common.Address]int, len(keys))
	var errs []error
	for i, raw := range keys {
		if err := ValidateKey(raw); err != nil {
			errs = append(errs, fmt.Errorf("key #%d: %w", i, err))
			continue
		}
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			errs = append(errs, fmt.Errorf("key #%d: %w", i, err))
			continue
		}
		addr := crypto.PubkeyToAddress(pk.PublicKey)
		if prev, ok := seen[addr]; ok {
			errs = append(errs, fmt.Errorf("key #%d: duplicate of key #%d (%s)", i, prev, addr.Hex()))
			continue
		}
		seen[addr] = i
		out = append(out, &Wallet{Index: i, Key: pk, Address: addr})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Addresses returns the wallet addresses in job order.
func Addresses(ws []*Wallet) []common.Address {
	out := make([]common.Address, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Address)
	}
	return out
}

// ParseAddresses reads a comma, semicolon or whitespace separated address list for
// read-only reports. Duplicates keep their first position.
func ParseAddresses(raw string) ([]common.Address, error) {
	parts := SplitKeys(raw)
	if len(parts) == 0 {
		return nil, errors.New("no addresses given")
	}
	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, s := range parts {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		addr := common.HexToAddress(s)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}
