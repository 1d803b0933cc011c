package algorithm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFor_Equihash(t *testing.T) {
	p, err := ParamsFor(200, 9, 0, "")
	require.NoError(t, err)
	assert.Equal(t, Equihash200_9, p.Kind)
	assert.Equal(t, 2694, p.SolutionHexLen)
	assert.Equal(t, 6, p.SolutionSliceOffset)
}

func TestParamsFor_UnsupportedEquihash(t *testing.T) {
	_, err := ParamsFor(1, 1, 0, "")
	assert.Error(t, err)
}

func TestParamsFor_VerusHashVariants(t *testing.T) {
	p, _ := ParamsFor(0, 0, 4, "")
	assert.Equal(t, VerusHashV1, p.Kind)

	p, _ = ParamsFor(0, 0, 5, "")
	assert.Equal(t, VerusHash2b, p.Kind)

	p, _ = ParamsFor(0, 0, 5, "03")
	assert.Equal(t, VerusHash2b1, p.Kind)
	assert.Equal(t, 2, p.SolutionSliceOffset)

	p, _ = ParamsFor(0, 0, 5, "04")
	assert.Equal(t, VerusHash2b2, p.Kind)
}

func TestVerifier_Deterministic(t *testing.T) {
	v, err := ForKind(Equihash200_9)
	require.NoError(t, err)

	header := []byte("some header bytes")
	solution := []byte("some solution bytes")

	assert.Equal(t, v.Verify(header, solution), v.Verify(header, solution))
	assert.Equal(t, v.HeaderHash(header, solution), v.HeaderHash(header, solution))
}

func TestCompactRoundTrip(t *testing.T) {
	compact := uint32(0x1d00ffff)
	big1 := CompactToBig(compact)
	back := BigToCompact(big1)
	assert.Equal(t, compact, back)
}

func TestDifficultyFromTarget_Diff1IsOne(t *testing.T) {
	d := DifficultyFromTarget(Diff1Big())
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestTargetFromDifficulty_RoundTrips(t *testing.T) {
	target := TargetFromDifficulty(2.0)
	got := DifficultyFromTarget(target)
	assert.InDelta(t, 2.0, got, 1e-6)
}

func TestLEBytesToBig(t *testing.T) {
	le := []byte{0x01, 0x00, 0x00}
	got := LEBytesToBig(le)
	assert.Equal(t, big.NewInt(1), got)
}
