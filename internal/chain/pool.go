package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState is a typed snapshot of a constant-product pair.
//
// Token identity is decided here, once: addresses are parsed into common.Address, so two
// spellings of the same hex (checksummed vs lower-case) compare equal.
type PoolState struct {
	Pair     common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// ReservesFor returns (reserveIn, reserveOut) for a swap in -> out, or ok=false when the
// pool does not hold exactly that pair of assets.
func (p PoolState) ReservesFor(in, out common.Address) (reserveIn, reserveOut *big.Int, ok bool) {
	switch {
	case p.Token0 == in && p.Token1 == out:
		return p.Reserve0, p.Reserve1, true
	case p.Token1 == in && p.Token0 == out:
		return p.Reserve1, p.Reserve0, true
	default:
		return nil, nil, false
	}
}
