package blocktemplate

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexpool/stratum-core/internal/coinbase"
)

func testTemplate() *Template {
	return &Template{
		Height:            1000,
		PreviousBlockHash: strings.Repeat("ab", 32),
		CurTime:           1700000000,
		Bits:              "1d00ffff",
		Version:           4,
		CoinbaseValue:     625000000,
		Transactions: []TemplateTx{
			{Data: "deadbeef", Hash: strings.Repeat("11", 32)},
		},
	}
}

func testBuildConfig() BuildConfig {
	return BuildConfig{
		PoolScript: []byte{0x76, 0xa9},
		PoolTag:    make([]byte, 8),
		Recipients: []coinbase.Recipient{
			{ScriptPubKey: []byte{0x76, 0xa9, 0x14}, Percent: 100},
		},
		EquihashN: 200,
		EquihashK: 9,
	}
}

func TestBuild_Success(t *testing.T) {
	job, err := Build(testTemplate(), "job-1", testBuildConfig())
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.JobID)
	assert.Len(t, job.PrevHashLE, 32)
	assert.Len(t, job.MerkleRootLE, 32)
	assert.Len(t, job.FinalSaplingRootLE, 32)
	assert.Len(t, job.BitsLE, 4)
	assert.NotNil(t, job.Target)
	assert.Greater(t, job.Difficulty, 0.0)
}

func TestBuild_MergedBitsClampedToTarget(t *testing.T) {
	tmpl := testTemplate()
	tmpl.MergedBits = "1d00ffff"
	job, err := Build(tmpl, "job-2", testBuildConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, job.MergedTarget.Cmp(job.Target))
}

func TestSerializeHeader_Is140Bytes(t *testing.T) {
	job, err := Build(testTemplate(), "job-3", testBuildConfig())
	require.NoError(t, err)

	header := job.SerializeHeader(1700000001, make([]byte, 32))
	assert.Len(t, header, 140)
}

func TestNotifyParams_ShapeMatchesSpec(t *testing.T) {
	job, err := Build(testTemplate(), "job-4", testBuildConfig())
	require.NoError(t, err)

	params := job.NotifyParams(true)
	require.Len(t, params, 8)
	assert.Equal(t, "job-4", params[0])
	assert.Len(t, params[1].(string), 8)  // version LE hex
	assert.Len(t, params[2].(string), 64) // prevhash LE hex
	assert.Len(t, params[3].(string), 64) // merkle root LE hex
	assert.Len(t, params[4].(string), 64) // sapling root LE hex
	assert.Len(t, params[5].(string), 8)  // ntime LE hex
	assert.Len(t, params[6].(string), 8)  // nbits LE hex
	assert.Equal(t, true, params[7])
}

func TestSerializeBlock_ContainsHeaderAndCoinbase(t *testing.T) {
	job, err := Build(testTemplate(), "job-5", testBuildConfig())
	require.NoError(t, err)

	header := job.SerializeHeader(1700000001, make([]byte, 32))
	txData, err := hex.DecodeString("deadbeef")
	require.NoError(t, err)

	block := job.SerializeBlock(header, make([]byte, 1344), [][]byte{txData})

	assert.True(t, strings.HasPrefix(hex.EncodeToString(block), hex.EncodeToString(header)))
	assert.Contains(t, hex.EncodeToString(block), hex.EncodeToString(job.CoinbaseBytes))
}

func TestRegisterSubmit_RejectsDuplicate(t *testing.T) {
	job, err := Build(testTemplate(), "job-6", testBuildConfig())
	require.NoError(t, err)

	assert.True(t, job.RegisterSubmit("AABB", "CCDD"))
	assert.False(t, job.RegisterSubmit("aabb", "ccdd"))
}

func TestCriticalFieldsDiffer(t *testing.T) {
	jobA, err := Build(testTemplate(), "a", testBuildConfig())
	require.NoError(t, err)

	tmplB := testTemplate()
	tmplB.Bits = "1c00ffff"
	jobB, err := Build(tmplB, "b", testBuildConfig())
	require.NoError(t, err)

	assert.True(t, jobA.CriticalFieldsDiffer(jobB))
	assert.False(t, jobA.CriticalFieldsDiffer(jobA))
}
