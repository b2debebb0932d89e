package pool

import (
	"math/big"
	"testing"
)

func TestRayMulRoundsHalfUp(t *testing.T) {
	// 3 * 0.5 = 1.5 which must round up to 2.
	got := rayMul(big.NewInt(3), halfRay)
	if got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("rayMul(3, halfRay) = %s, want 2", got)
	}
	// Just under half stays down: 3 * (0.5 - 1e-27) = 1.4999... -> 1.
	justUnder := new(big.Int).Sub(halfRay, big.NewInt(1))
	got = rayMul(big.NewInt(3), justUnder)
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rayMul(3, halfRay-1) = %s, want 1", got)
	}
}

func TestRayMulIdentity(t *testing.T) {
	amount := big.NewInt(123_456_789)
	if got := rayMul(amount, ray); got.Cmp(amount) != 0 {
		t.Fatalf("rayMul(x, RAY) = %s, want %s", got, amount)
	}
	if got := rayMul(nil, ray); got.Sign() != 0 {
		t.Fatalf("rayMul(nil, RAY) = %s, want 0", got)
	}
}

func TestRayDivIdentity(t *testing.T) {
	amount := big.NewInt(987_654_321)
	if got := rayDiv(amount, ray); got.Cmp(amount) != 0 {
		t.Fatalf("rayDiv(x, RAY) = %s, want %s", got, amount)
	}
	if got := rayDiv(amount, big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("rayDiv by zero = %s, want 0", got)
	}
}

func TestRayDivRoundsHalfUp(t *testing.T) {
	// 1 / 2 in ray precision is exactly half a unit and must round up.
	twoRay := new(big.Int).Lsh(ray, 1)
	if got := rayDiv(big.NewInt(1), twoRay); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rayDiv(1, 2*RAY) = %s, want 1", got)
	}
}

func TestPercentMul(t *testing.T) {
	cases := []struct {
		amount int64
		bps    uint64
		want   int64
	}{
		{10_000, 25, 25},
		{10_000, 10_000, 10_000},
		{200, 25, 1},  // 0.5 rounds up
		{199, 25, 0},  // 0.4975 rounds down
		{0, 500, 0},
		{1_000_000, 0, 0},
	}
	for _, tc := range cases {
		got := percentMul(big.NewInt(tc.amount), tc.bps)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("percentMul(%d, %d) = %s, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
}

func TestInterestPerSecond(t *testing.T) {
	// Borrowing one year's worth of seconds at 100% per year accrues exactly
	// one wei per second.
	stream := interestPerSecond(big.NewInt(SecondsPerYear), ray)
	if stream.Cmp(ray) != 0 {
		t.Fatalf("stream = %s, want %s", stream, ray)
	}
	if got := interestPerSecond(big.NewInt(0), ray); got.Sign() != 0 {
		t.Fatalf("zero principal stream = %s, want 0", got)
	}
	if got := interestPerSecond(big.NewInt(1000), nil); got.Sign() != 0 {
		t.Fatalf("nil rate stream = %s, want 0", got)
	}
}

func TestInterestOver(t *testing.T) {
	stream := interestPerSecond(big.NewInt(SecondsPerYear), ray)
	if got := interestOver(stream, 1000); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("interestOver(1 wei/s, 1000s) = %s, want 1000", got)
	}
	if got := interestOver(stream, 0); got.Sign() != 0 {
		t.Fatalf("interestOver(_, 0) = %s, want 0", got)
	}
	if got := interestOver(stream, -5); got.Sign() != 0 {
		t.Fatalf("interestOver(_, -5) = %s, want 0", got)
	}
}

func TestWadRayConversion(t *testing.T) {
	amount := big.NewInt(42)
	inRay := wadToRay(amount)
	if inRay.Cmp(new(big.Int).Mul(amount, wadRayRatio)) != 0 {
		t.Fatalf("wadToRay(42) = %s", inRay)
	}
	if got := rayToWad(inRay); got.Cmp(amount) != 0 {
		t.Fatalf("rayToWad(wadToRay(42)) = %s, want 42", got)
	}
}

func TestFits256(t *testing.T) {
	max256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if !fits256(max256) {
		t.Fatal("2^256-1 should fit")
	}
	if fits256(new(big.Int).Add(max256, big.NewInt(1))) {
		t.Fatal("2^256 should not fit")
	}
	if fits256(big.NewInt(-1)) {
		t.Fatal("negative values should not fit")
	}
}
