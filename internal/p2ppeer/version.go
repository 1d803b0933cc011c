package p2ppeer

import (
	"bytes"
	"encoding/binary"
)

// VersionMsg is the handshake payload spec §4.6 names:
// {protocol_version, services=NODE_NETWORK, timestamp, addr_recv/from
// (zero), nonce, user_agent, start_height, relay}.
type VersionMsg struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

func netAddrZero(buf *bytes.Buffer, services uint64) {
	binary.Write(buf, binary.LittleEndian, services)
	buf.Write(make([]byte, 16)) // IPv6/IPv4-mapped address, zeroed
	buf.Write([]byte{0x00, 0x00})
}

func putVarStr(buf *bytes.Buffer, s string) {
	putVarInt(buf, uint64(len(s)))
	buf.WriteString(s)
}

func putVarInt(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 0xFD:
		buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(0xFD)
		binary.Write(buf, binary.LittleEndian, uint16(n))
	case n <= 0xFFFFFFFF:
		buf.WriteByte(0xFE)
		binary.Write(buf, binary.LittleEndian, uint32(n))
	default:
		buf.WriteByte(0xFF)
		binary.Write(buf, binary.LittleEndian, n)
	}
}

func (v VersionMsg) encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v.ProtocolVersion)
	binary.Write(&buf, binary.LittleEndian, v.Services)
	binary.Write(&buf, binary.LittleEndian, v.Timestamp)
	netAddrZero(&buf, v.Services) // addr_recv
	netAddrZero(&buf, v.Services) // addr_from
	binary.Write(&buf, binary.LittleEndian, v.Nonce)
	putVarStr(&buf, v.UserAgent)
	binary.Write(&buf, binary.LittleEndian, v.StartHeight)
	if v.Relay {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
