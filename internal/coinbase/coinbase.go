// Package coinbase assembles the pool's coinbase transaction, spec §4.3:
// "produce the coinbase bytes (either use rpcData.coinbasetxn.data verbatim
// when the solution-version path says so, else assemble via the transaction
// library from reward amount, fees, recipients, pool script, and BIP-34
// height)". The real address-encoding/tx-builder library is an opaque
// external collaborator per spec §1; this package is the minimal stand-in
// that occupies the same responsibility so the Job Manager has something
// concrete to call.
package coinbase

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Recipient is one payout split in the coinbase, spec §6.7 reward_recipients.
type Recipient struct {
	ScriptPubKey []byte
	Percent      float64 // 0-100
}

// BuildParams are the inputs spec §4.3 names for coinbase assembly.
type BuildParams struct {
	Height          int64
	Value           int64 // total reward + fees, in satoshi-equivalents
	PoolScript      []byte
	Recipients      []Recipient
	ExtraNoncePlaceholder []byte // reserved space for extranonce1||extranonce2
}

// encodeBIP34Height minimally encodes height as a script push, per BIP-34.
func encodeBIP34Height(height int64) []byte {
	if height == 0 {
		return []byte{0x00}
	}

	var buf []byte
	n := height
	for n > 0 {
		buf = append(buf, byte(n&0xff))
		n >>= 8
	}
	// If the high bit of the last byte is set, push an extra zero byte so
	// the value isn't misinterpreted as negative.
	if buf[len(buf)-1]&0x80 != 0 {
		buf = append(buf, 0x00)
	}
	return append([]byte{byte(len(buf))}, buf...)
}

// Build assembles a coinbase transaction: version(4) || 1 input with a
// scriptSig carrying the BIP-34 height push and the pool's extranonce
// placeholder || N outputs (one per recipient) || locktime(4).
func Build(p BuildParams) ([]byte, error) {
	if len(p.Recipients) == 0 {
		return nil, fmt.Errorf("coinbase: at least one recipient required")
	}

	var tx []byte

	// Version
	tx = append(tx, le32(1)...)

	// Input count = 1
	tx = PutVarInt(tx, 1)

	// Previous outpoint: null (32 zero bytes + 0xffffffff index)
	tx = append(tx, make([]byte, 32)...)
	tx = append(tx, 0xff, 0xff, 0xff, 0xff)

	// scriptSig: BIP-34 height push + extranonce placeholder
	heightPush := encodeBIP34Height(p.Height)
	scriptSig := append(append([]byte{}, heightPush...), p.ExtraNoncePlaceholder...)
	tx = PutVarInt(tx, uint64(len(scriptSig)))
	tx = append(tx, scriptSig...)

	// Sequence
	tx = append(tx, 0xff, 0xff, 0xff, 0xff)

	// Outputs
	tx = PutVarInt(tx, uint64(len(p.Recipients)))
	for _, r := range p.Recipients {
		amount := int64(float64(p.Value) * r.Percent / 100.0)
		tx = append(tx, le64(uint64(amount))...)
		tx = PutVarInt(tx, uint64(len(r.ScriptPubKey)))
		tx = append(tx, r.ScriptPubKey...)
	}

	// Locktime
	tx = append(tx, le32(0)...)

	return tx, nil
}

// Hash computes the coinbase transaction hash (double-SHA-256, internal byte
// order), spec §3 Job.coinbase_hash.
func Hash(coinbaseBytes []byte) []byte {
	h1 := sha256.Sum256(coinbaseBytes)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
