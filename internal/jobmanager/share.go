package jobmanager

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/vertexpool/stratum-core/internal/algorithm"
	"github.com/vertexpool/stratum-core/internal/stratumserver"
)

// ProcessShare implements spec §4.2.3's process_share and satisfies
// stratumserver.ShareProcessor. The wire protocol (spec §6.1) never sends
// a standalone "nonce" field even though §4.2.3's input list names one;
// this pipeline reconstructs it as extra_nonce1 || extra_nonce2,
// zero-padded to the 32-byte header nonce field — the only place the
// spec's own nonce length check (64 hex chars) can be satisfied given the
// wire shape it also defines. See DESIGN.md's Open Question entry.
func (m *Manager) ProcessShare(sub stratumserver.ShareSubmission) stratumserver.ShareResult {
	job, ok := m.jobByID(sub.JobID)
	if !ok && !m.cfg.AcceptOldJobShares {
		return reject(stratumserver.ErrCodeJobNotFound, "job not found")
	}
	if !ok {
		// accept_old_job_shares is set but the job has fully expired out of
		// the live-jobs map; nothing left to validate against.
		return reject(stratumserver.ErrCodeJobNotFound, "job not found")
	}

	nTimeLE, err := decodeHexExact(sub.NTime, 8)
	if err != nil {
		return reject(stratumserver.ErrCodeMalformed, "invalid ntime")
	}
	nTime := binary.LittleEndian.Uint32(nTimeLE)
	if nTime != job.CurTime {
		return reject(stratumserver.ErrCodeMalformed, "ntime out of range")
	}

	nonceHex, err := buildNonceHex(sub.ExtraNonce1, sub.ExtraNonce2)
	if err != nil || len(nonceHex) != 64 {
		return reject(stratumserver.ErrCodeMalformed, "invalid nonce")
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return reject(stratumserver.ErrCodeMalformed, "invalid nonce")
	}

	params, err := algorithm.ParamsFor(m.cfg.BuildConfig.EquihashN, m.cfg.BuildConfig.EquihashK, int(job.Version), job.CriticalSolPrefix)
	if err != nil {
		return reject(stratumserver.ErrCodeMalformed, "unsupported algorithm")
	}
	if len(sub.Solution) != params.SolutionHexLen {
		return reject(stratumserver.ErrCodeMalformed, "invalid solution length")
	}

	off := params.SolutionSliceOffset * 2
	if len(sub.Solution) >= off+8 && len(job.Solution) >= 4 {
		wantPrefix := hex.EncodeToString(job.Solution[:4])
		if sub.Solution[off:off+8] != wantPrefix {
			return reject(stratumserver.ErrCodeDuplicate, "invalid solution version")
		}
	}

	if _, err := hex.DecodeString(sub.ExtraNonce2); err != nil {
		return reject(stratumserver.ErrCodeMalformed, "invalid extranonce2")
	}

	header := job.SerializeHeader(nTime, nonce)
	headerHex := hex.EncodeToString(header)

	if !job.RegisterSubmit(headerHex, sub.Solution) {
		return reject(stratumserver.ErrCodeDuplicate, "duplicate share")
	}

	solutionBytes, err := hex.DecodeString(sub.Solution)
	if err != nil {
		return reject(stratumserver.ErrCodeMalformed, "invalid solution hex")
	}

	// PBaaS rule, spec §4.2.3 step 8.
	if len(job.Solution) > 0 && job.Solution[0] > 6 {
		extraNonce1Bytes, _ := hex.DecodeString(sub.ExtraNonce1)
		if !containsInLastNBytes(solutionBytes, extraNonce1Bytes, 15) {
			return reject(stratumserver.ErrCodeMalformed, "invalid solution, pool nonce missing")
		}
	}

	if !job.Verifier.Verify(header, solutionBytes) {
		return reject(stratumserver.ErrCodeMalformed, "invalid solution")
	}

	headerHashBytes := job.Verifier.HeaderHash(header, solutionBytes)
	headerHash := algorithm.LEBytesToBig(headerHashBytes[:])

	shareDifficulty := algorithm.DifficultyFromTarget(headerHash) * m.cfg.ShareMultiplier

	ev := ShareEvent{
		Worker:           sub.Worker,
		RemoteAddr:       sub.RemoteAddr,
		LocalPort:        sub.LocalPort,
		Height:           job.Height,
		TargetDifficulty: sub.Difficulty,
		ShareDifficulty:  shareDifficulty,
		BlockDiff:        job.Difficulty,
	}

	isBlockCandidate := headerHash.Cmp(job.Target) <= 0
	isMergedOnly := !isBlockCandidate && headerHash.Cmp(job.MergedTarget) <= 0

	if isBlockCandidate {
		blockHex := hex.EncodeToString(job.SerializeBlock(header, solutionBytes, job.TemplateTxData))
		ev.BlockHash = headerHashHexReversed(headerHashBytes)
		ev.BlockHex = blockHex
		ev.IsValidBlock = true
		ev.IsValidShare = true
		m.emitShare(ev)
		return stratumserver.ShareResult{Accepted: true}
	}

	if isMergedOnly {
		ev.BlockOnlyMerged = true
	}

	if sub.Difficulty > 0 && shareDifficulty/sub.Difficulty >= 0.99 {
		ev.IsValidShare = true
		m.emitShare(ev)
		return stratumserver.ShareResult{Accepted: true}
	}

	if sub.PrevDifficulty > 0 && shareDifficulty >= sub.PrevDifficulty {
		ev.IsValidShare = true
		m.emitShare(ev)
		return stratumserver.ShareResult{Accepted: true}
	}

	if m.cfg.AcceptLowDiffShares {
		ev.IsValidShare = true
		m.emitShare(ev)
		return stratumserver.ShareResult{Accepted: true}
	}

	ratio := 0.0
	if sub.Difficulty > 0 {
		ratio = shareDifficulty / sub.Difficulty
	}
	msg := fmt.Sprintf("low difficulty share of %s", strconv.FormatFloat(ratio, 'g', -1, 64))
	ev.ErrorCode = stratumserver.ErrCodeLowDifficulty
	ev.ErrorMessage = msg
	m.emitShare(ev)
	return reject(stratumserver.ErrCodeLowDifficulty, msg)
}

func (m *Manager) emitShare(ev ShareEvent) {
	if m.ev.OnShare != nil {
		m.ev.OnShare(ev)
	}
}

func reject(code int, message string) stratumserver.ShareResult {
	return stratumserver.ShareResult{Accepted: false, Code: code, Message: message}
}

func decodeHexExact(s string, n int) ([]byte, error) {
	if len(s) != n {
		return nil, fmt.Errorf("expected %d hex chars, got %d", n, len(s))
	}
	return hex.DecodeString(s)
}

// buildNonceHex reconstructs the 32-byte header nonce field from
// extraNonce1 || extraNonce2, zero-padded on the right.
func buildNonceHex(extraNonce1, extraNonce2 string) (string, error) {
	if _, err := hex.DecodeString(extraNonce1); err != nil {
		return "", err
	}
	if _, err := hex.DecodeString(extraNonce2); err != nil {
		return "", err
	}
	combined := extraNonce1 + extraNonce2
	if len(combined) > 64 {
		return "", fmt.Errorf("extranonce1+extranonce2 exceeds nonce field")
	}
	return combined + strings.Repeat("0", 64-len(combined)), nil
}

func containsInLastNBytes(haystack, needle []byte, n int) bool {
	if len(needle) == 0 {
		return false
	}
	start := len(haystack) - n
	if start < 0 {
		start = 0
	}
	window := haystack[start:]
	return strings.Contains(string(window), string(needle))
}

func headerHashHexReversed(h [32]byte) string {
	rev := make([]byte, 32)
	for i := 0; i < 32; i++ {
		rev[i] = h[31-i]
	}
	return hex.EncodeToString(rev)
}
