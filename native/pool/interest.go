package pool

import "math/big"

// InterestRateStrategy computes a per-year borrow rate (ray) from the reserve's
// utilisation. Implementations are resolved per reserve so governance can swap
// curves without touching the accounting core.
type InterestRateStrategy interface {
	CalculateBorrowRate(totalBorrows, availableLiquidity *big.Int) *big.Int
}

// KinkedRateStrategy models the dual-slope utilisation curve: a gentle slope up
// to the optimal utilisation point and a steep slope beyond it to pull
// utilisation back toward the optimum.
type KinkedRateStrategy struct {
	// BaseBorrowRate is the ray-scaled per-year rate applied at zero
	// utilisation.
	BaseBorrowRate *big.Int
	// RateSlope1 is the ray rate increase across the range up to the optimal
	// utilisation point.
	RateSlope1 *big.Int
	// RateSlope2 is the additional ray rate increase applied across the range
	// beyond the optimal utilisation point.
	RateSlope2 *big.Int
	// OptimalUtilizationRate is the ray utilisation ratio where the slope
	// changes.
	OptimalUtilizationRate *big.Int
}

// NewKinkedRateStrategy constructs a strategy from ray-scaled parameters.
func NewKinkedRateStrategy(base, slope1, slope2, optimal *big.Int) *KinkedRateStrategy {
	s := &KinkedRateStrategy{
		BaseBorrowRate:         big.NewInt(0),
		RateSlope1:             big.NewInt(0),
		RateSlope2:             big.NewInt(0),
		OptimalUtilizationRate: new(big.Int).Set(ray),
	}
	if base != nil {
		s.BaseBorrowRate = new(big.Int).Set(base)
	}
	if slope1 != nil {
		s.RateSlope1 = new(big.Int).Set(slope1)
	}
	if slope2 != nil {
		s.RateSlope2 = new(big.Int).Set(slope2)
	}
	if optimal != nil && optimal.Sign() > 0 {
		s.OptimalUtilizationRate = new(big.Int).Set(optimal)
	}
	return s
}

// NewKinkedRateStrategyFromFloats converts decimal parameters (0.02 for 2%)
// into ray precision. Intended for configuration loading.
func NewKinkedRateStrategyFromFloats(base, slope1, slope2, optimal float64) *KinkedRateStrategy {
	return NewKinkedRateStrategy(rayFromFloat(base), rayFromFloat(slope1), rayFromFloat(slope2), rayFromFloat(optimal))
}

func rayFromFloat(v float64) *big.Int {
	r := new(big.Rat).SetFloat64(v)
	if r == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	result := new(big.Int).Quo(new(big.Int).Add(scaled.Num(), halfUp(scaled.Denom())), scaled.Denom())
	return result
}

// UtilizationRate returns totalBorrows / (totalBorrows + availableLiquidity)
// in ray precision. Zero total liquidity is defined as zero utilisation.
func UtilizationRate(totalBorrows, availableLiquidity *big.Int) *big.Int {
	if totalBorrows == nil || totalBorrows.Sign() <= 0 {
		return big.NewInt(0)
	}
	total := new(big.Int).Set(totalBorrows)
	if availableLiquidity != nil && availableLiquidity.Sign() > 0 {
		total.Add(total, availableLiquidity)
	}
	return rayDiv(totalBorrows, total)
}

// CalculateBorrowRate implements the InterestRateStrategy interface.
func (s *KinkedRateStrategy) CalculateBorrowRate(totalBorrows, availableLiquidity *big.Int) *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	rate := new(big.Int)
	if s.BaseBorrowRate != nil {
		rate.Set(s.BaseBorrowRate)
	}
	utilization := UtilizationRate(totalBorrows, availableLiquidity)
	if utilization.Sign() == 0 {
		return rate
	}
	optimal := s.OptimalUtilizationRate
	if optimal == nil || optimal.Sign() == 0 {
		optimal = ray
	}
	if utilization.Cmp(optimal) <= 0 {
		// Linear region below the kink.
		scaled := rayDiv(utilization, optimal)
		return rate.Add(rate, rayMul(s.RateSlope1, scaled))
	}
	rate.Add(rate, s.RateSlope1)
	excess := new(big.Int).Sub(utilization, optimal)
	room := new(big.Int).Sub(ray, optimal)
	if room.Sign() <= 0 {
		return rate.Add(rate, s.RateSlope2)
	}
	excessRatio := rayDiv(excess, room)
	return rate.Add(rate, rayMul(s.RateSlope2, excessRatio))
}

// DefaultRateStrategy mirrors the reference deployment parameters: 2% base,
// 3.8% slope to an 80% kink and a 100% jump slope beyond it.
var DefaultRateStrategy = NewKinkedRateStrategyFromFloats(0.02, 0.038, 1.0, 0.8)
