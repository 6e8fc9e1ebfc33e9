package crypto

import "math/big"

var one = big.NewInt(1)

// ModPow returns base^exponent mod modulus using right-to-left binary
// exponentiation. Every product is reduced immediately so intermediates stay
// below modulus². modulus must be greater than one and exponent non-negative.
func ModPow(base, exponent, modulus *big.Int) *big.Int {
	if modulus.Cmp(one) <= 0 {
		panic("crypto: ModPow modulus must be > 1")
	}
	if exponent.Sign() < 0 {
		panic("crypto: ModPow exponent must be non-negative")
	}

	result := big.NewInt(1)
	b := new(big.Int).Mod(base, modulus)
	tmp := new(big.Int)

	for i, n := 0, exponent.BitLen(); i < n; i++ {
		if exponent.Bit(i) == 1 {
			tmp.Mul(result, b)
			result.Mod(tmp, modulus)
		}
		tmp.Mul(b, b)
		b.Mod(tmp, modulus)
	}

	WipeInt(b)
	WipeInt(tmp)
	return result
}
