package pool

import (
	"math/big"
	"testing"
)

// Exact ray parameters for the reference curve: 2% base, 3.8% slope to the
// 80% kink, 100% jump slope beyond it.
var (
	testBase    = mustBigInt("20000000000000000000000000")
	testSlope1  = mustBigInt("38000000000000000000000000")
	testSlope2  = mustBigInt("1000000000000000000000000000")
	testOptimal = mustBigInt("800000000000000000000000000")
)

func testStrategy() *KinkedRateStrategy {
	return NewKinkedRateStrategy(testBase, testSlope1, testSlope2, testOptimal)
}

func TestUtilizationRate(t *testing.T) {
	if got := UtilizationRate(big.NewInt(0), big.NewInt(100)); got.Sign() != 0 {
		t.Fatalf("zero borrows utilisation = %s, want 0", got)
	}
	got := UtilizationRate(big.NewInt(80), big.NewInt(20))
	if got.Cmp(testOptimal) != 0 {
		t.Fatalf("80/100 utilisation = %s, want %s", got, testOptimal)
	}
	// All borrowed, nothing available.
	got = UtilizationRate(big.NewInt(50), big.NewInt(0))
	if got.Cmp(ray) != 0 {
		t.Fatalf("full utilisation = %s, want RAY", got)
	}
}

func TestKinkedRateAtZeroUtilization(t *testing.T) {
	rate := testStrategy().CalculateBorrowRate(big.NewInt(0), big.NewInt(1_000_000))
	if rate.Cmp(testBase) != 0 {
		t.Fatalf("rate = %s, want base %s", rate, testBase)
	}
}

func TestKinkedRateBelowKink(t *testing.T) {
	// 40% utilisation is half way to the kink: base + slope1/2.
	rate := testStrategy().CalculateBorrowRate(big.NewInt(40), big.NewInt(60))
	want := new(big.Int).Add(testBase, new(big.Int).Rsh(testSlope1, 1))
	if rate.Cmp(want) != 0 {
		t.Fatalf("rate at 40%% = %s, want %s", rate, want)
	}
}

func TestKinkedRateAtKink(t *testing.T) {
	rate := testStrategy().CalculateBorrowRate(big.NewInt(80), big.NewInt(20))
	want := new(big.Int).Add(testBase, testSlope1)
	if rate.Cmp(want) != 0 {
		t.Fatalf("rate at kink = %s, want %s", rate, want)
	}
}

func TestKinkedRateAboveKink(t *testing.T) {
	// 90% utilisation sits half way through the excess region:
	// base + slope1 + slope2/2.
	rate := testStrategy().CalculateBorrowRate(big.NewInt(90), big.NewInt(10))
	want := new(big.Int).Add(testBase, testSlope1)
	want.Add(want, new(big.Int).Rsh(testSlope2, 1))
	if rate.Cmp(want) != 0 {
		t.Fatalf("rate at 90%% = %s, want %s", rate, want)
	}
}

func TestKinkedRateAtFullUtilization(t *testing.T) {
	rate := testStrategy().CalculateBorrowRate(big.NewInt(100), big.NewInt(0))
	want := new(big.Int).Add(testBase, testSlope1)
	want.Add(want, testSlope2)
	if rate.Cmp(want) != 0 {
		t.Fatalf("rate at 100%% = %s, want %s", rate, want)
	}
}

func TestKinkedRateMonotonic(t *testing.T) {
	s := testStrategy()
	prev := big.NewInt(-1)
	for borrows := int64(0); borrows <= 100; borrows += 5 {
		rate := s.CalculateBorrowRate(big.NewInt(borrows), big.NewInt(100-borrows))
		if rate.Cmp(prev) < 0 {
			t.Fatalf("rate decreased at %d%% utilisation: %s < %s", borrows, rate, prev)
		}
		prev = rate
	}
}

func TestRateStrategyFromFloats(t *testing.T) {
	s := NewKinkedRateStrategyFromFloats(0.02, 0.038, 1.0, 0.8)
	// Float conversion carries binary representation error well below a
	// billionth; assert the parameters land within that tolerance.
	tolerance := mustBigInt("1000000000000000000")
	checks := []struct {
		name string
		got  *big.Int
		want *big.Int
	}{
		{"base", s.BaseBorrowRate, testBase},
		{"slope1", s.RateSlope1, testSlope1},
		{"slope2", s.RateSlope2, testSlope2},
		{"optimal", s.OptimalUtilizationRate, testOptimal},
	}
	for _, c := range checks {
		diff := new(big.Int).Sub(c.got, c.want)
		if diff.CmpAbs(tolerance) > 0 {
			t.Fatalf("%s = %s, want within %s of %s", c.name, c.got, tolerance, c.want)
		}
	}
}
