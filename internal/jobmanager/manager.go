package jobmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vertexpool/stratum-core/internal/blocktemplate"
)

const dedupTTL = 15 * time.Second
const cleanJobRateLimit = 15 * time.Second

// Config carries the pool-specific options spec §4.2 depends on.
type Config struct {
	BuildConfig         blocktemplate.BuildConfig
	AcceptOldJobShares  bool
	AcceptLowDiffShares bool
	ShareMultiplier     float64 // defaults to 1 if zero
}

// Manager owns the live job set and the current/candidate comparison logic
// of spec §4.2.1/§4.2.2.
type Manager struct {
	cfg Config
	ev  EventHandlers

	mu           sync.RWMutex
	current      *blocktemplate.Job
	liveJobs     map[string]*blocktemplate.Job
	lastCleanJob time.Time
	dedup        map[string]time.Time
}

// NewManager builds a Manager.
func NewManager(cfg Config, ev EventHandlers) *Manager {
	if cfg.ShareMultiplier == 0 {
		cfg.ShareMultiplier = 1
	}
	return &Manager{
		cfg:      cfg,
		ev:       ev,
		liveJobs: make(map[string]*blocktemplate.Job),
		dedup:    make(map[string]time.Time),
	}
}

// CurrentJob returns the job currently being broadcast, or nil before the
// first template arrives.
func (m *Manager) CurrentJob() *blocktemplate.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ProcessTemplate implements spec §4.2.1's process_template.
func (m *Manager) ProcessTemplate(tmpl *blocktemplate.Template) bool {
	dedupKey := fmt.Sprintf("%s_%d", tmpl.PreviousBlockHash, tmpl.CurTime)

	candidate, err := blocktemplate.Build(tmpl, uuid.New().String(), m.cfg.BuildConfig)
	if err != nil {
		m.ev.log("error", fmt.Sprintf("jobmanager: build candidate: %v", err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		m.expireDedupLocked()
		if _, seen := m.dedup[dedupKey]; seen {
			return false
		}
		return m.adoptNewBlockLocked(candidate, dedupKey)
	}

	if candidate.Height < m.current.Height {
		return false // stale
	}

	if !candidate.CriticalFieldsDiffer(m.current) {
		return false // duplicate broadcast
	}

	if candidate.Height == m.current.Height {
		return m.applyUpdateLocked(candidate)
	}

	m.expireDedupLocked()
	if _, seen := m.dedup[dedupKey]; seen {
		return false
	}
	return m.adoptNewBlockLocked(candidate, dedupKey)
}

func (m *Manager) adoptNewBlockLocked(candidate *blocktemplate.Job, dedupKey string) bool {
	m.liveJobs = map[string]*blocktemplate.Job{candidate.JobID: candidate}
	m.current = candidate
	m.lastCleanJob = time.Now()
	m.dedup[dedupKey] = time.Now()

	if m.ev.OnNewBlock != nil {
		m.ev.OnNewBlock(candidate)
	}
	return true
}

// applyUpdateLocked implements spec §4.2.2. Caller holds m.mu.
func (m *Manager) applyUpdateLocked(candidate *blocktemplate.Job) bool {
	clean := candidate.CriticalFieldsDiffer(m.current)

	if time.Since(m.lastCleanJob) < cleanJobRateLimit {
		clean = false
	}
	if clean {
		m.lastCleanJob = time.Now()
	}

	m.current = candidate
	m.liveJobs[candidate.JobID] = candidate

	if m.ev.OnUpdatedBlock != nil {
		m.ev.OnUpdatedBlock(candidate, clean)
	}
	return false
}

func (m *Manager) expireDedupLocked() {
	cutoff := time.Now().Add(-dedupTTL)
	for k, t := range m.dedup {
		if t.Before(cutoff) {
			delete(m.dedup, k)
		}
	}
}

// jobByID looks up a live job, used by the share validation pipeline.
func (m *Manager) jobByID(jobID string) (*blocktemplate.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.liveJobs[jobID]
	return j, ok
}
