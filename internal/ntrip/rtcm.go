package ntrip

// Preamble is the first byte of an RTCM v3 frame.
const Preamble = 0xD3

// MessageType peeks at the 12-bit message type of a chunk that starts with
// an RTCM v3 frame. It is a best-effort tag for logging: chunks are
// arbitrary socket reads, so a frame may start mid-chunk and go unnoticed.
func MessageType(b []byte) (uint16, bool) {
	if len(b) < 3 || b[0] != Preamble {
		return 0, false
	}
	return uint16(b[1]&0x3F)<<6 | uint16(b[2]>>2), true
}
