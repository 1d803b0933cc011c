// Package vardiff retargets per-client share difficulty, spec §4.5. The
// Manager/Config shape is grounded on the teacher's
// internal/stratum/vardiff/vardiff.go (a manager object holding per-client
// ring-buffer state, fed share timestamps, emitting a new difficulty
// through a callback); the retarget arithmetic itself follows spec's exact
// algorithm rather than the teacher's weighted-median approach — see
// DESIGN.md's Open Question entry for why the two diverge.
package vardiff

import (
	"math"
	"sync"
	"time"
)

// Config mirrors spec §4.5's per-port options.
type Config struct {
	TargetTime      float64 // seconds
	VariancePercent float64 // 0-100
	RetargetTime    float64 // seconds
	MinDiff         float64
	MaxDiff         float64
	X2Mode          bool
}

func (c Config) variance() float64 {
	return c.TargetTime * (c.VariancePercent / 100.0)
}

func (c Config) ringSize() int {
	n := int(c.RetargetTime / c.TargetTime * 4)
	if n < 1 {
		n = 1
	}
	return n
}

// clientState is the per-client retargeting window.
type clientState struct {
	ring          []float64
	ringCap       int
	lastSubmit    time.Time
	lastRetarget  time.Time
	haveFirst     bool
}

// Manager retargets every subscribed client for one port.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*clientState

	onNewDifficulty func(clientID string, diff float64)
}

// NewManager builds a Manager for one port's VarDiffConfig.
func NewManager(cfg Config, onNewDifficulty func(clientID string, diff float64)) *Manager {
	return &Manager{
		cfg:             cfg,
		clients:         make(map[string]*clientState),
		onNewDifficulty: onNewDifficulty,
	}
}

// Forget drops a client's retargeting state, called on disconnect.
func (m *Manager) Forget(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
}

// Submit records one share-submit event for clientID at the given
// difficulty and runs the spec §4.5 retarget steps.
func (m *Manager) Submit(clientID string, now time.Time, currentDiff float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.clients[clientID]
	if !ok {
		st = &clientState{ringCap: m.cfg.ringSize()}
		m.clients[clientID] = st
	}

	// Step 1: first observation seeds last_retarget half a window back and
	// skips, so the first real retarget check lands after half the window.
	if !st.haveFirst {
		st.haveFirst = true
		st.lastRetarget = now.Add(-time.Duration(m.cfg.RetargetTime/2) * time.Second)
		st.lastSubmit = now
		return
	}

	// Step 2: append the inter-submit interval.
	interval := now.Sub(st.lastSubmit).Seconds()
	st.ring = append(st.ring, interval)
	if len(st.ring) > st.ringCap {
		st.ring = st.ring[len(st.ring)-st.ringCap:]
	}
	st.lastSubmit = now

	// Step 3: only retarget once the window has elapsed and we have data.
	if now.Sub(st.lastRetarget).Seconds() < m.cfg.RetargetTime || len(st.ring) == 0 {
		return
	}

	// Step 4: average interval.
	var sum float64
	for _, v := range st.ring {
		sum += v
	}
	avg := sum / float64(len(st.ring))
	if avg <= 0 || math.IsNaN(avg) || math.IsInf(avg, 0) {
		return
	}

	// Step 5: candidate scale factor.
	ddiff := m.cfg.TargetTime / avg

	variance := m.cfg.variance()
	var newDiff float64

	switch {
	case avg > m.cfg.TargetTime+variance && currentDiff > m.cfg.MinDiff:
		// Step 6: shares arriving too slowly, retarget down.
		if m.cfg.X2Mode {
			ddiff = 0.5
		}
		newDiff = currentDiff * ddiff
		if newDiff < m.cfg.MinDiff {
			newDiff = m.cfg.MinDiff
		}
	case avg < m.cfg.TargetTime-variance:
		// Step 7: shares arriving too fast, retarget up.
		if m.cfg.X2Mode {
			ddiff = 2
		}
		newDiff = currentDiff * ddiff
		if newDiff > m.cfg.MaxDiff {
			newDiff = m.cfg.MaxDiff
		}
	default:
		// Step 8: within tolerance, nothing to do.
		return
	}

	// Step 9: emit and reset.
	st.lastRetarget = now
	st.ring = st.ring[:0]

	rounded := math.Round(newDiff*1e8) / 1e8
	if m.onNewDifficulty != nil {
		m.onNewDifficulty(clientID, rounded)
	}
}
