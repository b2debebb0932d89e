package pool

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	wad         = mustBigInt("1000000000000000000")          // 1e18 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
	wadRayRatio = mustBigInt("1000000000")
)

// SecondsPerYear converts per-year ray rates to per-second interest streams.
const SecondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMul multiplies two ray-scaled values rounding half up.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

// rayDiv divides a by b in ray precision rounding half up.
func rayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	numerator.Add(numerator, halfUp(b))
	numerator.Quo(numerator, b)
	return numerator
}

// percentMul applies a basis point factor to an amount rounding half up.
func percentMul(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	product.Add(product, halfUp(basisPoints))
	product.Quo(product, basisPoints)
	return product
}

func wadToRay(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(a, wadRayRatio)
}

func rayToWad(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	result := new(big.Int).Add(a, halfUp(wadRayRatio))
	return result.Quo(result, wadRayRatio)
}

// fits256 reports whether the value stays within the reference system's
// unsigned 256-bit width. Downstream rounding invariants depend on the index
// never exceeding it.
func fits256(x *big.Int) bool {
	if x == nil || x.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(x)
	return !overflow
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

// interestPerSecond derives the ray-scaled wei-per-second interest stream for a
// principal borrowed at a per-year ray rate.
func interestPerSecond(amount, borrowRate *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || borrowRate == nil || borrowRate.Sign() <= 0 {
		return big.NewInt(0)
	}
	stream := new(big.Int).Mul(amount, borrowRate)
	return stream.Quo(stream, big.NewInt(SecondsPerYear))
}

// interestOver accumulates a per-second stream across elapsed seconds, rounding
// half up out of ray precision.
func interestOver(perSecond *big.Int, seconds int64) *big.Int {
	if perSecond == nil || perSecond.Sign() <= 0 || seconds <= 0 {
		return big.NewInt(0)
	}
	return rayMul(perSecond, big.NewInt(seconds))
}
