// Package p2ppeer implements the minimal bitcoin-style P2P handshake of
// spec §4.6/§6.6: version/verack handshake, 24-byte message framing, and
// ping/pong/inv interpretation. Framing constants and service-flag naming
// are grounded on the wire package conventions used throughout the pack
// (e.g. the btcsuite-derived wire protocol in other_examples), trimmed to
// the handful of messages spec §4.6 actually names.
package p2ppeer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// CommandSize is the fixed NUL-padded ASCII command field width.
	CommandSize = 12
	// HeaderSize is the fixed 24-byte message header width, spec §6.6.
	HeaderSize = 24
	// MaxPayloadSize guards against a peer claiming an absurd length field.
	MaxPayloadSize = 32 * 1024 * 1024

	// ServiceNodeNetwork marks a full node, spec §4.6's services=NODE_NETWORK.
	ServiceNodeNetwork uint64 = 1
)

const (
	CmdVersion = "version"
	CmdVerack  = "verack"
	CmdPing    = "ping"
	CmdPong    = "pong"
	CmdInv     = "inv"
)

// InvTypeError / InvTypeTx / InvTypeBlock are the 4-byte inv item type
// codes spec §6.6 cares about.
const (
	InvTypeError uint32 = 0
	InvTypeTx    uint32 = 1
	InvTypeBlock uint32 = 2
)

// MessageHeader is the 24-byte framing spec §6.6 defines: magic(4,LE) ||
// command(12,NUL-padded ascii) || length(4,LE) || checksum(4).
type MessageHeader struct {
	Magic    uint32
	Command  string
	Length   uint32
	Checksum [4]byte
}

func doubleSHA256(b []byte) [32]byte {
	h1 := sha256.Sum256(b)
	return sha256.Sum256(h1[:])
}

func checksum(payload []byte) [4]byte {
	h := doubleSHA256(payload)
	var c [4]byte
	copy(c[:], h[:4])
	return c
}

func encodeCommand(cmd string) [CommandSize]byte {
	var b [CommandSize]byte
	copy(b[:], cmd)
	return b
}

func decodeCommand(b [CommandSize]byte) string {
	n := 0
	for n < CommandSize && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// writeMessage frames and writes one message.
func writeMessage(w io.Writer, magic uint32, command string, payload []byte) error {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	cmd := encodeCommand(command)
	copy(header[4:16], cmd[:])
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	c := checksum(payload)
	copy(header[20:24], c[:])

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("p2ppeer: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("p2ppeer: write payload: %w", err)
		}
	}
	return nil
}

// readMessage parses one framed message, resynchronizing one byte at a
// time on magic mismatch as spec §4.6 describes.
func readMessage(r io.Reader, magic uint32) (MessageHeader, []byte, error) {
	header, err := syncToMagic(r, magic)
	if err != nil {
		return MessageHeader{}, nil, err
	}

	if header.Length > MaxPayloadSize {
		return MessageHeader{}, nil, fmt.Errorf("p2ppeer: payload length %d exceeds limit", header.Length)
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return MessageHeader{}, nil, fmt.Errorf("p2ppeer: read payload: %w", err)
	}

	got := checksum(payload)
	if got != header.Checksum {
		return MessageHeader{}, nil, fmt.Errorf("p2ppeer: checksum mismatch for %s", header.Command)
	}

	return header, payload, nil
}

// syncToMagic reads bytes one at a time until the 4-byte magic prefix
// aligns, then reads the remaining 20 header bytes.
func syncToMagic(r io.Reader, magic uint32) (MessageHeader, error) {
	var magicBytes [4]byte
	binary.LittleEndian.PutUint32(magicBytes[:], magic)

	var window [4]byte
	if _, err := io.ReadFull(r, window[:]); err != nil {
		return MessageHeader{}, err
	}

	for window != magicBytes {
		copy(window[:3], window[1:])
		if _, err := io.ReadFull(r, window[3:4]); err != nil {
			return MessageHeader{}, err
		}
	}

	var rest [HeaderSize - 4]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return MessageHeader{}, err
	}

	var cmdBytes [CommandSize]byte
	copy(cmdBytes[:], rest[0:12])
	length := binary.LittleEndian.Uint32(rest[12:16])
	var cs [4]byte
	copy(cs[:], rest[16:20])

	return MessageHeader{
		Magic:    magic,
		Command:  decodeCommand(cmdBytes),
		Length:   length,
		Checksum: cs,
	}, nil
}
