// Package slippage turns desired deposit amounts into the minimums the router must honour.
package slippage

import "math/big"

// FloorPercent is applied even when the configured tolerance is lower, so a zero setting
// cannot make every deposit revert on a one-wei price move.
const FloorPercent = 5

// EffectiveTolerance returns max(tolerance, FloorPercent), capped at 100.
func EffectiveTolerance(tolerancePercent int) int {
	t := tolerancePercent
	if t < FloorPercent {
		t = FloorPercent
	}
	if t > 100 {
		t = 100
	}
	return t
}

// Minimum returns floor(desired * (100 - effective) / 100).
func Minimum(desired *big.Int, tolerancePercent int) *big.Int {
	if desired == nil || desired.Sign() <= 0 {
		return new(big.Int)
	}
	keep := int64(100 - EffectiveTolerance(tolerancePercent))
	out := new(big.Int).Mul(desired, big.NewInt(keep))
	return out.Quo(out, big.NewInt(100))
}

// ComputeMinimums applies Minimum to both sides of a deposit pair.
func ComputeMinimums(desiredA, desiredB *big.Int, tolerancePercent int) (minA, minB *big.Int) {
	return Minimum(desiredA, tolerancePercent), Minimum(desiredB, tolerancePercent)
}

// ApplyBuffer returns floor(amount * (100 + bufferPercent) / 100). Negative buffers are
// treated as zero.
func ApplyBuffer(amount *big.Int, bufferPercent int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if bufferPercent < 0 {
		bufferPercent = 0
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(100+bufferPercent)))
	return out.Quo(out, big.NewInt(100))
}
