package coinbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutVarInt(t *testing.T) {
	assert.Equal(t, []byte{0x00}, PutVarInt(nil, 0))
	assert.Equal(t, []byte{0x7F}, PutVarInt(nil, 0x7F))
	assert.Equal(t, []byte{0xFD, 0x80, 0x00}, PutVarInt(nil, 0x80))
	assert.Equal(t, []byte{0xFD, 0x00, 0x01}, PutVarInt(nil, 256))
	assert.Equal(t, []byte{0xFE, 0x00, 0x00, 0x01, 0x00}, PutVarInt(nil, 1<<16))
}

func TestBuild_SingleRecipientGetsFullValue(t *testing.T) {
	out, err := Build(BuildParams{
		Height:     1000,
		Value:      5_000_000_000,
		PoolScript: []byte{0x76, 0xa9},
		Recipients: []Recipient{
			{ScriptPubKey: []byte{0x76, 0xa9, 0x14}, Percent: 100},
		},
		ExtraNoncePlaceholder: make([]byte, 8),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	h := Hash(out)
	assert.Len(t, h, 32)
}

func TestBuild_SplitsAcrossRecipients(t *testing.T) {
	out, err := Build(BuildParams{
		Height: 1,
		Value:  1000,
		Recipients: []Recipient{
			{ScriptPubKey: []byte{0x01}, Percent: 99},
			{ScriptPubKey: []byte{0x02}, Percent: 1},
		},
		ExtraNoncePlaceholder: make([]byte, 4),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestBuild_NoRecipientsErrors(t *testing.T) {
	_, err := Build(BuildParams{Height: 1, Value: 1})
	assert.Error(t, err)
}

func TestEncodeBIP34Height(t *testing.T) {
	assert.Equal(t, []byte{0x00}, encodeBIP34Height(0))
	assert.Equal(t, []byte{0x01, 0x01}, encodeBIP34Height(1))
	// 0x80 requires an extra zero byte to avoid sign ambiguity
	assert.Equal(t, []byte{0x02, 0x80, 0x00}, encodeBIP34Height(0x80))
}
