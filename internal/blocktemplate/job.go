package blocktemplate

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/vertexpool/stratum-core/internal/algorithm"
	"github.com/vertexpool/stratum-core/internal/coinbase"
	"github.com/vertexpool/stratum-core/internal/merkle"
)

// BuildConfig carries the pool-specific inputs needed to turn a Template
// into a Job: the coinbase recipients and the algorithm parameters used to
// pick a Verifier, spec §4.3 / §6.4.
type BuildConfig struct {
	PoolScript  []byte
	Recipients  []coinbase.Recipient
	PoolTag     []byte // fixed bytes folded into the coinbase scriptSig
	EquihashN   int
	EquihashK   int
}

// Job is derived from exactly one Template, spec §3.
type Job struct {
	JobID    string
	Height   int64
	CurTime  uint32 // seconds, as supplied by the template

	Target       *big.Int
	MergedTarget *big.Int
	Difficulty   float64

	Version            uint32
	PrevHashLE         []byte
	MerkleRootLE       []byte
	FinalSaplingRootLE []byte
	BitsLE             []byte
	Solution           []byte // template-provided reserved solution-version bytes

	CoinbaseBytes []byte
	CoinbaseHash  []byte

	// TemplateTxData holds the raw decoded bytes of every non-coinbase
	// transaction in template order, spec §6.3's tx_bytes_in_template_order,
	// kept alongside the job so a block candidate can be serialized without
	// re-fetching the template.
	TemplateTxData [][]byte

	Verifier algorithm.Verifier
	AlgoKind algorithm.Kind

	// Critical fields used by the Job Manager's duplicate/clean-job
	// comparison, spec §4.2.1 step 4. Captured verbatim from the source
	// template so comparisons don't depend on Job's derived byte order.
	CriticalPrevHash   string
	CriticalMerkleHash string // hex of the merkle root computed in Build, not read from the template
	CriticalBits       string
	CriticalSapling    string
	CriticalSolPrefix  string

	createdAt time.Time

	mu          sync.Mutex
	submitsSeen map[string]struct{}
}

// Build constructs a Job from a Template, spec §4.2.1 step 1 ("assigns new
// job_id, computes target/difficulty/merkle/coinbase").
func Build(tmpl *Template, jobID string, cfg BuildConfig) (*Job, error) {
	target, err := parseTarget(tmpl)
	if err != nil {
		return nil, fmt.Errorf("blocktemplate: parse target: %w", err)
	}

	mergedTarget := target
	if mb := tmpl.mergedBitsHex(); mb != "" {
		bits, err := hex.DecodeString(mb)
		if err != nil || len(bits) != 4 {
			return nil, fmt.Errorf("blocktemplate: invalid merged_bits")
		}
		mergedTarget = algorithm.CompactToBig(binary.BigEndian.Uint32(bits))
		if mergedTarget.Cmp(target) > 0 {
			mergedTarget = target
		}
	}

	prevHash, err := hex.DecodeString(tmpl.PreviousBlockHash)
	if err != nil {
		return nil, fmt.Errorf("blocktemplate: invalid previousblockhash: %w", err)
	}

	var saplingRoot []byte
	if tmpl.FinalSaplingRootHash != "" {
		saplingRoot, err = hex.DecodeString(tmpl.FinalSaplingRootHash)
		if err != nil {
			return nil, fmt.Errorf("blocktemplate: invalid finalsaplingroothash: %w", err)
		}
	} else {
		saplingRoot = make([]byte, 32)
	}

	bitsBytes, err := hex.DecodeString(tmpl.Bits)
	if err != nil || len(bitsBytes) != 4 {
		return nil, fmt.Errorf("blocktemplate: invalid bits")
	}

	var solution []byte
	if tmpl.Solution != "" {
		solution, err = hex.DecodeString(tmpl.Solution)
		if err != nil {
			return nil, fmt.Errorf("blocktemplate: invalid solution: %w", err)
		}
	}

	coinbaseBytes, coinbaseHash, err := buildCoinbase(tmpl, cfg)
	if err != nil {
		return nil, err
	}

	txHashes := make([][]byte, 0, len(tmpl.Transactions)+1)
	txHashes = append(txHashes, coinbaseHash)
	txData := make([][]byte, 0, len(tmpl.Transactions))
	for _, tx := range tmpl.Transactions {
		h, err := hex.DecodeString(tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("blocktemplate: invalid tx hash: %w", err)
		}
		txHashes = append(txHashes, h)

		d, err := hex.DecodeString(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("blocktemplate: invalid tx data: %w", err)
		}
		txData = append(txData, d)
	}
	merkleRoot := merkle.Root(txHashes)

	params, err := algorithm.ParamsFor(cfg.EquihashN, cfg.EquihashK, int(tmpl.Version), solutionVersionPrefix(solution))
	if err != nil {
		return nil, err
	}
	verifier, err := algorithm.ForKind(params.Kind)
	if err != nil {
		return nil, err
	}

	j := &Job{
		JobID:              jobID,
		Height:             tmpl.Height,
		CurTime:            uint32(tmpl.CurTime),
		Target:             target,
		MergedTarget:       mergedTarget,
		Difficulty:         algorithm.DifficultyFromTarget(target),
		Version:            tmpl.Version,
		PrevHashLE:         merkle.Reverse(prevHash),
		MerkleRootLE:       merkle.Reverse(merkleRoot),
		FinalSaplingRootLE: merkle.Reverse(saplingRoot),
		BitsLE:             merkle.Reverse(bitsBytes),
		Solution:           solution,
		CoinbaseBytes:      coinbaseBytes,
		CoinbaseHash:       coinbaseHash,
		TemplateTxData:     txData,
		Verifier:           verifier,
		AlgoKind:           params.Kind,
		CriticalPrevHash:   strings.ToLower(tmpl.PreviousBlockHash),
		CriticalBits:       strings.ToLower(tmpl.Bits),
		CriticalSapling:    strings.ToLower(tmpl.FinalSaplingRootHash),
		CriticalSolPrefix:  solutionVersionPrefix(solution),
		createdAt:          time.Now(),
		submitsSeen:        make(map[string]struct{}),
	}
	j.CriticalMerkleHash = hex.EncodeToString(merkleRoot)

	return j, nil
}

func solutionVersionPrefix(solution []byte) string {
	if len(solution) < 4 {
		return ""
	}
	return hex.EncodeToString(solution[:4])
}

func parseTarget(tmpl *Template) (*big.Int, error) {
	if tmpl.Target != "" {
		raw, err := hex.DecodeString(tmpl.Target)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("invalid target hex")
		}
		return algorithm.LEBytesToBig(raw), nil
	}
	bits, err := hex.DecodeString(tmpl.Bits)
	if err != nil || len(bits) != 4 {
		return nil, fmt.Errorf("invalid bits and no target supplied")
	}
	return algorithm.CompactToBig(binary.BigEndian.Uint32(bits)), nil
}

func buildCoinbase(tmpl *Template, cfg BuildConfig) ([]byte, []byte, error) {
	if tmpl.CoinbaseTxn != nil && tmpl.CoinbaseTxn.Data != "" {
		raw, err := hex.DecodeString(tmpl.CoinbaseTxn.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("blocktemplate: invalid coinbasetxn.data: %w", err)
		}
		return raw, coinbase.Hash(raw), nil
	}

	raw, err := coinbase.Build(coinbase.BuildParams{
		Height:                tmpl.Height,
		Value:                 tmpl.CoinbaseValue,
		PoolScript:            cfg.PoolScript,
		Recipients:            cfg.Recipients,
		ExtraNoncePlaceholder: cfg.PoolTag,
	})
	if err != nil {
		return nil, nil, err
	}
	return raw, coinbase.Hash(raw), nil
}

// CriticalFieldsDiffer compares the five critical fields spec §4.2.1 step 4
// names: prev_hash_le, merkle_root_le, final_sapling_root_le, bits, and the
// solution-version prefix of solution.
func (j *Job) CriticalFieldsDiffer(other *Job) bool {
	return j.CriticalPrevHash != other.CriticalPrevHash ||
		j.CriticalMerkleHash != other.CriticalMerkleHash ||
		j.CriticalSapling != other.CriticalSapling ||
		j.CriticalBits != other.CriticalBits ||
		j.CriticalSolPrefix != other.CriticalSolPrefix
}

// SerializeHeader builds the 140-byte header of spec §6.2.
func (j *Job) SerializeHeader(nTime uint32, nonce []byte) []byte {
	header := make([]byte, 140)

	binary.LittleEndian.PutUint32(header[0:4], j.Version)
	copy(header[4:36], j.PrevHashLE)
	copy(header[36:68], j.MerkleRootLE)
	copy(header[68:100], j.FinalSaplingRootLE)
	binary.LittleEndian.PutUint32(header[100:104], nTime)
	copy(header[104:108], j.BitsLE)
	copy(header[108:140], nonce)

	return header
}

// NotifyParams returns the cached mining.notify parameter vector, spec §6.1:
// [jobId, versionLE(hex), prevHashLE(hex,64), merkleRootLE(hex,64),
// finalSaplingRootLE(hex,64), nTimeLE(hex,8), nBitsLE(hex,8), cleanJobs(bool),
// reservedSolutionSpace(hex,optional)].
func (j *Job) NotifyParams(cleanJobs bool) []interface{} {
	versionLE := make([]byte, 4)
	binary.LittleEndian.PutUint32(versionLE, j.Version)

	nTimeLE := make([]byte, 4)
	binary.LittleEndian.PutUint32(nTimeLE, j.CurTime)

	params := []interface{}{
		j.JobID,
		hex.EncodeToString(versionLE),
		hex.EncodeToString(j.PrevHashLE),
		hex.EncodeToString(j.MerkleRootLE),
		hex.EncodeToString(j.FinalSaplingRootLE),
		hex.EncodeToString(nTimeLE),
		hex.EncodeToString(j.BitsLE),
		cleanJobs,
	}
	if len(j.Solution) > 0 {
		params = append(params, hex.EncodeToString(j.Solution))
	}
	return params
}

// SerializeBlock builds the full block, spec §6.3:
// header(140) || solution || varint(tx_count) || coinbase || template txs.
func (j *Job) SerializeBlock(header []byte, solution []byte, templateTxData [][]byte) []byte {
	var block []byte
	block = append(block, header...)
	block = append(block, solution...)
	block = coinbase.PutVarInt(block, uint64(len(templateTxData)+1))
	block = append(block, j.CoinbaseBytes...)
	for _, tx := range templateTxData {
		block = append(block, tx...)
	}
	return block
}

// RegisterSubmit is the duplicate-submit guard of spec §4.3: the lowercased
// concatenation header_hex||solution_hex is stored in a set; re-insertion
// returns false.
func (j *Job) RegisterSubmit(headerHex, solutionHex string) bool {
	key := strings.ToLower(headerHex + solutionHex)

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, seen := j.submitsSeen[key]; seen {
		return false
	}
	j.submitsSeen[key] = struct{}{}
	return true
}

// CreatedAt returns when the job was built.
func (j *Job) CreatedAt() time.Time {
	return j.createdAt
}
