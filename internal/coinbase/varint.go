package coinbase

// PutVarInt appends a VarInt to buf using the exact two-row table spec §6.3
// gives (<= 0x7F -> 1 byte; <= 0x7FFF -> 0xFD || LE u16) extended naturally
// for larger values with 0xFE || LE u32 and 0xFF || LE u64. This deliberately
// does not match Bitcoin's CompactSize cutoffs (0xFC/0xFFFF/0xFFFFFFFF) —
// the daemons this pool talks to use the narrower 0x7F/0x7FFF boundary the
// spec calls out explicitly.
func PutVarInt(buf []byte, n uint64) []byte {
	switch {
	case n <= 0x7F:
		return append(buf, byte(n))
	case n <= 0x7FFF:
		return append(buf, 0xFD, byte(n), byte(n>>8))
	case n <= 0xFFFFFFFF:
		return append(buf, 0xFE, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	default:
		return append(buf, 0xFF,
			byte(n), byte(n>>8), byte(n>>16), byte(n>>24),
			byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
	}
}
