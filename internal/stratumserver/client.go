package stratumserver

import (
	"context"
	"encoding/hex"
	"math/big"
	"net"
	"sync"
	"time"
)

// State is the per-client protocol state, spec §4.4.3.
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StateAuthorized
	StateMining
)

// Client is one connected miner, grounded on the teacher's ClientConnection
// but carrying the vardiff/ban bookkeeping spec §4.4.5/§4.4.6 describe.
type Client struct {
	ID         string
	Conn       net.Conn
	RemoteAddr string
	LocalPort  int

	mu                          sync.Mutex
	state                       State
	WorkerName                  string
	ExtraNonce1                 string
	ExtraNonce2Size             int
	SupportsExtranonceSubscribe bool

	Difficulty         float64
	PreviousDifficulty float64
	pendingDifficulty  *float64

	ValidShares   uint64
	InvalidShares uint64
	LastActivity  time.Time

	sendChan chan string
	ctx      context.Context
	cancel   context.CancelFunc
}

func newClient(parent context.Context, id string, conn net.Conn, extraNonce1 string, extraNonce2Size int) *Client {
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		ID:              id,
		Conn:            conn,
		RemoteAddr:      conn.RemoteAddr().String(),
		state:           StateConnected,
		ExtraNonce1:     extraNonce1,
		ExtraNonce2Size: extraNonce2Size,
		LastActivity:    time.Now(),
		sendChan:        make(chan string, 100),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// State returns the client's current protocol state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) send(line string) {
	select {
	case c.sendChan <- line:
	default:
		// send buffer full: drop rather than block the connection loop.
	}
}

// SendDifficulty implements spec §4.4.6: returns false if unchanged,
// otherwise stores previous_difficulty, sets difficulty, and emits
// mining.set_target with target = floor(pow_limit / d).
func (c *Client) SendDifficulty(d float64, powLimit *big.Int) bool {
	c.mu.Lock()
	if c.Difficulty == d {
		c.mu.Unlock()
		return false
	}
	c.PreviousDifficulty = c.Difficulty
	c.Difficulty = d
	c.mu.Unlock()

	target := targetFromDifficultyAndLimit(d, powLimit)
	targetHex := leHexPadded(target, 32)

	if notif, err := newSetTargetNotification(targetHex).marshal(); err == nil {
		c.send(notif)
	}
	return true
}

// EnqueueNextDifficulty defers a difficulty change until the next
// SendMiningJob call, so the new target and job arrive atomically.
func (c *Client) EnqueueNextDifficulty(d float64) {
	c.mu.Lock()
	c.pendingDifficulty = &d
	c.mu.Unlock()
}

// SendMiningJob applies any pending difficulty then sends mining.notify,
// spec §4.4.6/§4.4.4.
func (c *Client) SendMiningJob(params []interface{}, powLimit *big.Int) {
	c.mu.Lock()
	pending := c.pendingDifficulty
	c.pendingDifficulty = nil
	c.mu.Unlock()

	if pending != nil {
		c.SendDifficulty(*pending, powLimit)
	}

	if notif, err := newNotifyNotification(params).marshal(); err == nil {
		c.send(notif)
	}
}

// IsStale reports whether the client has been silent longer than timeout.
func (c *Client) IsStale(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.LastActivity) > timeout
}

func (c *Client) touch() {
	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()
}

// RecordShareResult updates the valid/invalid counters used by the ban
// decision, spec §4.4.5.
func (c *Client) RecordShareResult(valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if valid {
		c.ValidShares++
	} else {
		c.InvalidShares++
	}
}

// resetShareWindow zeroes the valid/invalid counters to start a new ban-check window.
func (c *Client) resetShareWindow() {
	c.mu.Lock()
	c.ValidShares = 0
	c.InvalidShares = 0
	c.mu.Unlock()
}

func (c *Client) shareWindow() (valid, invalid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ValidShares, c.InvalidShares
}

func targetFromDifficultyAndLimit(diff float64, powLimit *big.Int) *big.Int {
	if diff <= 0 {
		return new(big.Int).Set(powLimit)
	}
	num := new(big.Rat).SetInt(powLimit)
	den := new(big.Rat).SetFloat64(diff)
	if den == nil || den.Sign() == 0 {
		return new(big.Int).Set(powLimit)
	}
	num.Quo(num, den)
	q := new(big.Int).Quo(num.Num(), num.Denom())
	if q.Sign() < 0 {
		q.SetInt64(0)
	}
	return q
}

// leHexPadded encodes n as little-endian bytes, zero-padded/truncated to
// size bytes, hex-encoded — the wire shape spec §6.1 wants for targets.
func leHexPadded(n *big.Int, size int) string {
	be := n.Bytes()
	out := make([]byte, size)
	for i := 0; i < len(be) && i < size; i++ {
		out[i] = be[len(be)-1-i]
	}
	return hex.EncodeToString(out)
}
