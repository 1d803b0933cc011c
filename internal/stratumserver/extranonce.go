package stratumserver

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
)

// ExtraNonceGenerator issues unique extranonce1 values within one worker
// process, spec §4.4.7: a 32-bit counter seeded with a random 5-bit
// instance_id in bits 27-31, returning the 4-byte big-endian encoding of
// the running counter on each call.
type ExtraNonceGenerator struct {
	mu      sync.Mutex
	counter uint32
}

// NewExtraNonceGenerator seeds the counter with instanceID (0-31) in its
// top 5 bits, per spec.
func NewExtraNonceGenerator(instanceID uint8) *ExtraNonceGenerator {
	return &ExtraNonceGenerator{counter: uint32(instanceID&0x1F) << 27}
}

// Next returns the next extranonce1 as an 8-char hex string.
func (g *ExtraNonceGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, g.counter)
	return hex.EncodeToString(b)
}
