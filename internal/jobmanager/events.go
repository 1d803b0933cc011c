// Package jobmanager implements spec §4.2: template intake, the
// clean-job/update policy, and the share validation pipeline. It plugs
// into internal/stratumserver as a ShareProcessor and drives
// internal/blocktemplate/internal/algorithm underneath. Grounded on the
// teacher's pool_coordinator.go (the object that owns job lifecycle and
// exposes typed events to the orchestrator) generalized to spec's exact
// intake/validation algorithm — see DESIGN.md's Open Question entries for
// where this package's pipeline literally follows the spec's pseudocode
// even where a stricter reading would simplify a branch.
package jobmanager

import "github.com/vertexpool/stratum-core/internal/blocktemplate"

// ShareEvent is emitted for every processed share, spec §4.2.3's output.
type ShareEvent struct {
	Worker           string
	RemoteAddr       string
	LocalPort        int
	Height           int64
	BlockReward      int64
	TargetDifficulty float64
	ShareDifficulty  float64
	BlockDiff        float64
	BlockHash        string
	BlockOnlyMerged  bool
	IsValidShare     bool
	IsValidBlock     bool
	BlockHex         string
	ErrorCode        int
	ErrorMessage     string

	// BlockAcceptance, TxHash, and SubmissionError are filled in by the
	// pool orchestrator after it submits a block candidate to the daemon
	// and checks acceptance, spec §4.7/§8 scenario 4. Empty/zero for
	// shares that are not block candidates or are not yet submitted.
	BlockAcceptance string // "accepted", "orphan", "unknown", or "" if not applicable
	TxHash          string
	SubmissionError string
}

// EventHandlers is the typed publish/subscribe table spec §9 describes:
// a closed enum of event kinds with one callback slot each, rather than an
// open-ended emitter. Any or all may be nil.
type EventHandlers struct {
	OnNewBlock     func(job *blocktemplate.Job)
	OnUpdatedBlock func(job *blocktemplate.Job, clean bool)
	OnShare        func(ShareEvent)
	OnLog          func(level, message string)
}

func (h EventHandlers) log(level, message string) {
	if h.OnLog != nil {
		h.OnLog(level, message)
	}
}
