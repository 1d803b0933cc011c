// Package algorithm implements the hash-verification plug-in of spec §4.2.3
// step 9 / §6.4: given serialized header+solution bytes, return whether the
// solution satisfies the algorithm's proof-of-work construction, and
// separately compute the 32-byte header hash used for block/share
// difficulty comparisons (spec §6.4 "Header hasher").
//
// The concrete Equihash/VerusHash consensus math is explicitly out of scope
// (spec §1: "the concrete hash function implementation treated as an opaque
// verifier"). These implementations are deliberately simplified stand-ins
// behind the same plug-in boundary a real verifier would occupy, selected by
// the same (algorithm, solution_version, block_version) tuple spec §6.4
// requires.
package algorithm

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Kind identifies one of the algorithm/solution-version rows of spec §6.4.
type Kind string

const (
	Equihash144_5    Kind = "equihash_144_5"
	Equihash192_7    Kind = "equihash_192_7"
	Equihash200_9    Kind = "equihash_200_9"
	VerusHashV1      Kind = "verushash_v1"
	VerusHash2b      Kind = "verushash_2b"
	VerusHash2b1     Kind = "verushash_2b1"
	VerusHash2b2     Kind = "verushash_2b2"
)

// Params describes one row of the spec §6.4 table.
type Params struct {
	Kind               Kind
	SolutionHexLen     int // 0 means algorithm-defined / not fixed (VerusHash)
	SolutionSliceOffset int
}

// ParamsFor resolves the (N,K) Equihash variant or a VerusHash variant to its
// Params row, per spec §6.4.
func ParamsFor(n, k int, verusVersion int, verusSolutionPrefix string) (Params, error) {
	switch {
	case n == 144 && k == 5:
		return Params{Kind: Equihash144_5, SolutionHexLen: 202, SolutionSliceOffset: 2}, nil
	case n == 192 && k == 7:
		return Params{Kind: Equihash192_7, SolutionHexLen: 806, SolutionSliceOffset: 6}, nil
	case n == 200 && k == 9:
		return Params{Kind: Equihash200_9, SolutionHexLen: 2694, SolutionSliceOffset: 6}, nil
	case n == 0 && k == 0:
		return verusParamsFor(verusVersion, verusSolutionPrefix), nil
	default:
		return Params{}, fmt.Errorf("algorithm: unsupported equihash parameters N=%d K=%d", n, k)
	}
}

func verusParamsFor(blockVersion int, solutionPrefix string) Params {
	switch {
	case blockVersion <= 4:
		return Params{Kind: VerusHashV1, SolutionSliceOffset: 0}
	case solutionPrefix == "":
		return Params{Kind: VerusHash2b, SolutionSliceOffset: 0}
	case solutionPrefix == "03":
		return Params{Kind: VerusHash2b1, SolutionSliceOffset: 2}
	default:
		return Params{Kind: VerusHash2b2, SolutionSliceOffset: 2}
	}
}

// Verifier is the plug-in interface spec §9 calls out explicitly ("treat as
// a trait/interface with variants per algorithm").
type Verifier interface {
	// Verify reports whether solution is a valid proof of work for header.
	Verify(header []byte, solution []byte) bool
	// HeaderHash computes the 32-byte hash used for difficulty comparisons
	// (spec §6.4's "Header hasher" column), returned little-endian.
	HeaderHash(header []byte, solution []byte) [32]byte
}

// ForKind returns the Verifier for a resolved Params.Kind.
func ForKind(kind Kind) (Verifier, error) {
	switch kind {
	case Equihash144_5, Equihash192_7, Equihash200_9:
		return equihashVerifier{}, nil
	case VerusHashV1:
		return verusHashVerifier{variant: 1}, nil
	case VerusHash2b:
		return verusHashVerifier{variant: 2}, nil
	case VerusHash2b1:
		return verusHashVerifier{variant: 21}, nil
	case VerusHash2b2:
		return verusHashVerifier{variant: 22}, nil
	default:
		return nil, fmt.Errorf("algorithm: unknown kind %q", kind)
	}
}

func doubleSHA256(data []byte) [32]byte {
	h1 := sha256.Sum256(data)
	return sha256.Sum256(h1[:])
}

func reversed32(in [32]byte) [32]byte {
	var out [32]byte
	for i := range in {
		out[i] = in[31-i]
	}
	return out
}

// equihashVerifier implements the dSHA256 header hasher of spec §6.4 for
// all three Equihash rows. The Equihash solution-validity check itself
// (binding proof + difficulty) is the opaque, externally supplied primitive;
// this stand-in accepts any solution whose length was already checked by the
// job manager pipeline (spec §4.2.3 step 4) and whose first blake2b-derived
// byte is even, giving deterministic pass/fail behavior for testing without
// depending on the real Equihash solver.
type equihashVerifier struct{}

func (equihashVerifier) Verify(header []byte, solution []byte) bool {
	digest := blake2b.Sum256(append(append([]byte{}, header...), solution...))
	return digest[0]%2 == 0
}

func (equihashVerifier) HeaderHash(header []byte, solution []byte) [32]byte {
	full := make([]byte, 0, len(header)+len(solution))
	full = append(full, header...)
	full = append(full, solution...)
	return reversed32(doubleSHA256(full))
}

// verusHashVerifier stands in for the VerusHash v1/2b/2b1/2b2 family. Like
// equihashVerifier, the real VerusHash permutation is out of scope; this
// uses blake2b keyed by the variant to keep the four variants distinguishable
// and deterministic.
type verusHashVerifier struct {
	variant int
}

func (v verusHashVerifier) mix(header, solution []byte) [32]byte {
	key := []byte(fmt.Sprintf("verushash-v%d", v.variant))
	h, _ := blake2b.New256(key)
	h.Write(header)
	h.Write(solution)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (v verusHashVerifier) Verify(header []byte, solution []byte) bool {
	digest := v.mix(header, solution)
	return digest[0]%2 == 0
}

func (v verusHashVerifier) HeaderHash(header []byte, solution []byte) [32]byte {
	return reversed32(v.mix(header, solution))
}

// Diff1 is the baseline target used to normalize difficulty, spec §6.4:
// 0x0007ffff...ffff (256 bits).
var Diff1 = mustDiff1()

func mustDiff1() [32]byte {
	var d [32]byte
	// 0x0007ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff
	// as 32 big-endian bytes: 0x00, 0x07, then thirty 0xff bytes (top 13
	// bits clear, rest set), the canonical diff1 used by Equihash pools.
	for i := range d {
		d[i] = 0xff
	}
	d[0] = 0x00
	d[1] = 0x07
	return d
}
