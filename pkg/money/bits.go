package money

import "math/big"

// bigMulDiv implements overflow-checked 64x64/64 fixed-point
// multiply-divide. There is no third-party fixed-point/decimal library in
// the teacher's or the pack's dependency set (the teacher's account
// package does plain checked int64 arithmetic — see
// pkg/app/core/account/manager.go), so this uses math/big rather than
// introduce an unrelated dependency for one intermediate-precision helper;
// only the final result, which must fit in int64, ever leaves this file.

var bigMaxInt64 = big.NewInt(1<<63 - 1)
var bigMinInt64 = big.NewInt(-1 << 63)

// bigMulDiv computes a*b/d, truncated toward zero, returning ok=false if
// the result overflows int64.
func bigMulDiv(a, b, d int64) (int64, bool) {
	if d == 0 {
		return 0, false
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	den := big.NewInt(d)
	q := new(big.Int).Quo(num, den)
	if q.Cmp(bigMaxInt64) > 0 || q.Cmp(bigMinInt64) < 0 {
		return 0, false
	}
	return q.Int64(), true
}
