package vm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Int128 is a signed 128-bit integer with two's-complement wrapping
// arithmetic.
//
// The value is held in a 256-bit word that is always sign-extended from
// bit 127, so signed 256-bit operations followed by re-extension give the
// wrapped 128-bit result.
type Int128 struct {
	u uint256.Int
}

// signByte is the byte index of the sign bit used by ExtendSign.
var signByte = uint256.NewInt(15)

var (
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func (x Int128) norm() Int128 {
	x.u.ExtendSign(&x.u, signByte)
	return x
}

// Int128FromInt64 returns v sign-extended to 128 bits.
func Int128FromInt64(v int64) Int128 {
	var x Int128
	x.u.SetUint64(uint64(v))
	if v < 0 {
		x.u[1], x.u[2], x.u[3] = ^uint64(0), ^uint64(0), ^uint64(0)
	}
	return x
}

// Int128FromBytes interprets up to 16 big-endian bytes as a two's-complement
// 128-bit value. Only the last 16 bytes are used if more are given.
func Int128FromBytes(b []byte) Int128 {
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	var x Int128
	x.u.SetBytes(b)
	return x.norm()
}

// ParseInt128 parses a decimal or 0x-prefixed hexadecimal literal with an
// optional sign. Values in [2^127, 2^128) are accepted as bit patterns and
// wrap to negative.
func ParseInt128(s string) (Int128, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return Int128{}, fmt.Errorf("invalid integer literal %q", s)
	}
	return Int128FromBig(n)
}

// Int128FromBig converts n, which must lie in [-2^127, 2^128), to Int128.
func Int128FromBig(n *big.Int) (Int128, error) {
	if n.Cmp(minInt128) < 0 || n.Cmp(maxUint128) > 0 {
		return Int128{}, fmt.Errorf("%s does not fit in 128 bits", n)
	}
	var x Int128
	x.u.SetFromBig(new(big.Int).Abs(n))
	if n.Sign() < 0 {
		x.u.Neg(&x.u)
	}
	return x.norm(), nil
}

// Int64 returns the low 64 bits of x as a signed value.
func (x Int128) Int64() int64 { return int64(x.u[0]) }

// Bytes returns the 16-byte big-endian two's-complement encoding of x.
func (x Int128) Bytes() [16]byte {
	full := x.u.Bytes32()
	var out [16]byte
	copy(out[:], full[16:])
	return out
}

// Big returns x as a signed big.Int.
func (x Int128) Big() *big.Int {
	if x.Sign() < 0 {
		var abs uint256.Int
		abs.Neg(&x.u)
		return new(big.Int).Neg(abs.ToBig())
	}
	return x.u.ToBig()
}

// Sign returns -1, 0 or +1.
func (x Int128) Sign() int { return x.u.Sign() }

// IsZero reports whether x == 0.
func (x Int128) IsZero() bool { return x.u.IsZero() }

// Add returns x + y, wrapping on overflow.
func (x Int128) Add(y Int128) Int128 {
	var z Int128
	z.u.Add(&x.u, &y.u)
	return z.norm()
}

// Sub returns x - y, wrapping on overflow.
func (x Int128) Sub(y Int128) Int128 {
	var z Int128
	z.u.Sub(&x.u, &y.u)
	return z.norm()
}

// Mul returns x * y, wrapping on overflow.
func (x Int128) Mul(y Int128) Int128 {
	var z Int128
	z.u.Mul(&x.u, &y.u)
	return z.norm()
}

// Quo returns x / y truncated toward zero. y must not be zero.
func (x Int128) Quo(y Int128) Int128 {
	var z Int128
	z.u.SDiv(&x.u, &y.u)
	return z.norm()
}

// Rem returns x % y with the sign of x. y must not be zero.
func (x Int128) Rem(y Int128) Int128 {
	var z Int128
	z.u.SMod(&x.u, &y.u)
	return z.norm()
}

// And returns the bitwise x & y.
func (x Int128) And(y Int128) Int128 {
	var z Int128
	z.u.And(&x.u, &y.u)
	return z
}

// Or returns the bitwise x | y.
func (x Int128) Or(y Int128) Int128 {
	var z Int128
	z.u.Or(&x.u, &y.u)
	return z
}

// Xor returns the bitwise x ^ y.
func (x Int128) Xor(y Int128) Int128 {
	var z Int128
	z.u.Xor(&x.u, &y.u)
	return z
}

// Not returns the bitwise complement of x.
func (x Int128) Not() Int128 {
	var z Int128
	z.u.Not(&x.u)
	return z
}

// Lsh shifts left by n bits; n >= 128 yields zero.
func (x Int128) Lsh(n uint) Int128 {
	var z Int128
	z.u.Lsh(&x.u, n)
	return z.norm()
}

// Rsh shifts right arithmetically by n bits; n >= 128 yields the sign fill.
func (x Int128) Rsh(n uint) Int128 {
	var z Int128
	z.u.SRsh(&x.u, n)
	return z
}

// Cmp compares x and y as signed values and returns -1, 0 or +1.
func (x Int128) Cmp(y Int128) int {
	switch {
	case x.u.Eq(&y.u):
		return 0
	case x.u.Slt(&y.u):
		return -1
	default:
		return 1
	}
}

// String returns the signed decimal representation of x.
func (x Int128) String() string {
	if x.Sign() < 0 {
		var abs uint256.Int
		abs.Neg(&x.u)
		return "-" + abs.Dec()
	}
	return x.u.Dec()
}

// Hex returns the 32-digit hexadecimal bit pattern of x.
func (x Int128) Hex() string {
	b := x.Bytes()
	return fmt.Sprintf("0x%x", b[:])
}
