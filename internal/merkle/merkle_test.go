package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func leaf(b byte) []byte {
	h := sha256.Sum256([]byte{b})
	return h[:]
}

func TestRoot_SingleLeaf(t *testing.T) {
	l := leaf(1)
	assert.Equal(t, l, Root([][]byte{l}))
}

func TestRoot_TwoLeaves(t *testing.T) {
	a, b := leaf(1), leaf(2)
	want := doubleSHA256(a, b)
	assert.Equal(t, want, Root([][]byte{a, b}))
}

func TestRoot_OddLeavesDuplicatesLast(t *testing.T) {
	a, b, c := leaf(1), leaf(2), leaf(3)
	level1 := []([]byte){doubleSHA256(a, b), doubleSHA256(c, c)}
	want := doubleSHA256(level1[0], level1[1])
	assert.Equal(t, want, Root([][]byte{a, b, c}))
}

func TestRoot_Empty(t *testing.T) {
	assert.Equal(t, make([]byte, 32), Root(nil))
}

func TestReverse(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	assert.Equal(t, []byte{4, 3, 2, 1}, Reverse(in))
}
