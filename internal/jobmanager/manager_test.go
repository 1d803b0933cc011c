package jobmanager

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexpool/stratum-core/internal/blocktemplate"
	"github.com/vertexpool/stratum-core/internal/coinbase"
	"github.com/vertexpool/stratum-core/internal/stratumserver"
)

func testBuildConfig() blocktemplate.BuildConfig {
	return blocktemplate.BuildConfig{
		PoolScript: []byte{0x76, 0xa9},
		PoolTag:    make([]byte, 8),
		Recipients: []coinbase.Recipient{
			{ScriptPubKey: []byte{0x76, 0xa9, 0x14}, Percent: 100},
		},
		EquihashN: 200,
		EquihashK: 9,
	}
}

func testTemplate(height int64, prevHash string, curTime int64, bits string) *blocktemplate.Template {
	return &blocktemplate.Template{
		Height:            height,
		PreviousBlockHash: prevHash,
		CurTime:           curTime,
		Bits:              bits,
		Version:           4,
		CoinbaseValue:     625000000,
	}
}

func TestProcessTemplate_FirstTemplateAdopted(t *testing.T) {
	var newBlocks int
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{
		OnNewBlock: func(j *blocktemplate.Job) { newBlocks++ },
	})

	ok := m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff"))
	assert.True(t, ok)
	assert.Equal(t, 1, newBlocks)
	require.NotNil(t, m.CurrentJob())
}

func TestProcessTemplate_StaleHeightDiscarded(t *testing.T) {
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{})
	m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff"))

	ok := m.ProcessTemplate(testTemplate(99, strings.Repeat("bb", 32), 1001, "1d00ffff"))
	assert.False(t, ok)
}

func TestProcessTemplate_DuplicateBroadcastDiscarded(t *testing.T) {
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{})
	tmpl := testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff")
	m.ProcessTemplate(tmpl)

	tmpl2 := testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff")
	ok := m.ProcessTemplate(tmpl2)
	assert.False(t, ok)
}

func TestProcessTemplate_SameHeightUpdateNotClean(t *testing.T) {
	var updates []bool
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{
		OnUpdatedBlock: func(j *blocktemplate.Job, clean bool) { updates = append(updates, clean) },
	})
	m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff"))

	// Same height, different bits -> critical fields differ -> update.
	// Clean would be true but the 15s rate limit forces it false right
	// after the first job (lastCleanJob was just set to now).
	ok := m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1c00ffff"))
	assert.False(t, ok)
	require.Len(t, updates, 1)
	assert.False(t, updates[0])
}

func TestProcessTemplate_NewHeightAdoptsNewBlock(t *testing.T) {
	var newBlocks int
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{
		OnNewBlock: func(j *blocktemplate.Job) { newBlocks++ },
	})
	m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff"))
	m.ProcessTemplate(testTemplate(101, strings.Repeat("bb", 32), 2000, "1d00ffff"))

	assert.Equal(t, 2, newBlocks)
	assert.Equal(t, int64(101), m.CurrentJob().Height)
}

func TestProcessShare_JobNotFoundRejected(t *testing.T) {
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{})
	m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff"))

	result := m.ProcessShare(stratumserver.ShareSubmission{
		JobID: "does-not-exist",
	})
	assert.False(t, result.Accepted)
	assert.Equal(t, stratumserver.ErrCodeJobNotFound, result.Code)
}

func TestProcessShare_WrongNTimeRejected(t *testing.T) {
	m := NewManager(Config{BuildConfig: testBuildConfig()}, EventHandlers{})
	m.ProcessTemplate(testTemplate(100, strings.Repeat("aa", 32), 1000, "1d00ffff"))
	job := m.CurrentJob()

	result := m.ProcessShare(stratumserver.ShareSubmission{
		JobID: job.JobID,
		NTime: "ffffffff",
	})
	assert.False(t, result.Accepted)
	assert.Equal(t, stratumserver.ErrCodeMalformed, result.Code)
}

func TestBuildNonceHex_PadsToFullWidth(t *testing.T) {
	nonce, err := buildNonceHex("aabbccdd", "00010203")
	require.NoError(t, err)
	assert.Len(t, nonce, 64)
	assert.True(t, strings.HasPrefix(nonce, "aabbccdd00010203"))
	assert.True(t, strings.HasSuffix(nonce, strings.Repeat("0", 64-16)))
}

func TestContainsInLastNBytes(t *testing.T) {
	haystack := make([]byte, 100)
	needle := []byte{0xAB, 0xCD}
	copy(haystack[90:], needle)
	assert.True(t, containsInLastNBytes(haystack, needle, 15))
	assert.False(t, containsInLastNBytes(haystack, needle, 5))
}

func testNTimeHex(curTime int64) string {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(curTime))
	return hex.EncodeToString(b)
}
