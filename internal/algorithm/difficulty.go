package algorithm

import "math/big"

// CompactToBig converts a daemon "bits" compact representation to a big.Int,
// grounded on the CompactToBig helper pattern used throughout the retrieval
// pack's consensus packages (e.g. Alex110709-obsidian-core/consensus/pow.go).
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := compact >> 24

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*uint(exponent-3))
	}
	if isNegative {
		bn.Neg(bn)
	}
	return bn
}

// BigToCompact converts a big.Int back to the compact representation.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	bytes := n.Bytes()
	size := uint32(len(bytes))

	var compact uint32
	if size <= 3 {
		compact = uint32(bytes[0])
		if size > 1 {
			compact = compact<<8 | uint32(bytes[1])
		}
		if size > 2 {
			compact = compact<<8 | uint32(bytes[2])
		}
		compact <<= 8 * (3 - size)
	} else {
		compact = uint32(bytes[0])<<16 | uint32(bytes[1])<<8 | uint32(bytes[2])
	}

	// A mantissa with its top bit set would read back as negative; shift it
	// down one byte and bump the exponent instead.
	if compact&0x00800000 != 0 {
		compact >>= 8
		size++
	}

	compact |= size << 24
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// LEBytesToBig interprets a little-endian byte slice (as header hashes and
// targets are carried, spec §4.2.3 step 10) as an unsigned big.Int.
func LEBytesToBig(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

// Diff1Big is algorithm.Diff1 as a big.Int, spec §6.4.
func Diff1Big() *big.Int {
	return new(big.Int).SetBytes(Diff1[:])
}

// DifficultyFromTarget computes difficulty = diff1 / target as a float64,
// spec §3 Job invariant ("difficulty (float, = diff1 / target)").
func DifficultyFromTarget(target *big.Int) float64 {
	if target.Sign() <= 0 {
		return 0
	}
	diff1 := Diff1Big()
	ratio := new(big.Rat).SetFrac(diff1, target)
	f, _ := ratio.Float64()
	return f
}

// TargetFromDifficulty computes target = floor(diff1 / difficulty), the
// inverse used to build `mining.set_target` (spec §4.4.6 / §4.4.3).
func TargetFromDifficulty(difficulty float64) *big.Int {
	if difficulty <= 0 {
		return Diff1Big()
	}
	diff1 := Diff1Big()
	// target = diff1 / difficulty, computed via rationals to preserve
	// precision before truncating to an integer.
	num := new(big.Rat).SetFloat64(difficulty)
	if num == nil || num.Sign() <= 0 {
		return Diff1Big()
	}
	ratio := new(big.Rat).Quo(new(big.Rat).SetInt(diff1), num)
	q := new(big.Int).Quo(ratio.Num(), ratio.Denom())
	return q
}
