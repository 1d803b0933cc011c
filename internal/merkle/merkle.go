// Package merkle implements the merkle-root computation of spec §4.3:
// merkle((coinbase_hash, tx1.hash, tx2.hash, ...)), pairs double-SHA-256'd
// and odd leaves duplicated. Grounded on the teacher's
// internal/stratum/merkle/merkle.go branch builder, simplified to the full
// root computation this pool's single-notify-message protocol needs (see
// DESIGN.md for why no merkle branch is sent to clients here).
package merkle

import "crypto/sha256"

// Root computes the merkle root of leaves, in the order given. leaves[0] is
// conventionally the coinbase transaction hash.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return make([]byte, 32)
	}

	level := make([][]byte, len(leaves))
	for i, h := range leaves {
		buf := make([]byte, len(h))
		copy(buf, h)
		level[i] = buf
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, doubleSHA256(left, right))
		}
		level = next
	}

	return level[0]
}

func doubleSHA256(left, right []byte) []byte {
	combined := make([]byte, 0, len(left)+len(right))
	combined = append(combined, left...)
	combined = append(combined, right...)
	h1 := sha256.Sum256(combined)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

// Reverse returns a copy of b with byte order reversed, used throughout the
// header layout (spec §6.2) to convert daemon big-endian hex to the header's
// internal little-endian byte order.
func Reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
