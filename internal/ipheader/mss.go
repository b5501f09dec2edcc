package ipheader

import "fmt"

// MSS clamp caps from spec.md §6: outer overhead leaves 1388 bytes of room
// for an IPv4 tunnel and 1368 for IPv6, off an underlying 1440-byte MSS
// ceiling; the wire minimum is 536.
const (
	mssCeiling  = 1440
	ExtraV4     = 52
	ExtraV6     = 72
	MSSClampV4  = mssCeiling - ExtraV4
	MSSClampV6  = mssCeiling - ExtraV6
	MSSMinimum  = 536
	tcpOptEOL   = 0
	tcpOptNOP   = 1
	tcpOptMSS   = 2
	tcpFlagSYN  = 1 << 1
	tcpHdrWords = 20
)

// ClampMSS scans a TCP SYN segment's options for an MSS option and clamps
// it to the tunnel's ceiling, recomputing the TCP checksum if it changed
// anything. It implements spec.md §4.6 step 4d(i)-(iii).
//
// tcpOffset is the byte offset of the TCP header within packet (i.e. the IP
// header length). Returns whether an MSS option was found and clamped.
func ClampMSS(packet []byte, tcpOffset int, isIPv6 bool) (bool, error) {
	tcp := packet[tcpOffset:]
	if len(tcp) < tcpHdrWords {
		return false, fmt.Errorf("tcp segment too short")
	}
	if tcp[13]&tcpFlagSYN == 0 {
		return false, nil
	}
	dataOffset := int(tcp[12]>>4) * 4
	if dataOffset < tcpHdrWords || dataOffset > len(tcp) {
		return false, fmt.Errorf("invalid tcp data offset %d", dataOffset)
	}
	clampTo := uint16(MSSClampV4)
	if isIPv6 {
		clampTo = MSSClampV6
	}

	opts := tcp[tcpHdrWords:dataOffset]
	i := 0
	for i < len(opts) {
		kind := opts[i]
		switch {
		case kind == tcpOptEOL:
			i = len(opts)
		case kind == tcpOptNOP:
			i++
		case kind == tcpOptMSS:
			if i+4 > len(opts) {
				return false, fmt.Errorf("truncated MSS option")
			}
			cur := uint16(opts[i+2])<<8 | uint16(opts[i+3])
			if cur > clampTo {
				opts[i+2] = byte(clampTo >> 8)
				opts[i+3] = byte(clampTo)
				if err := RecomputeTCPChecksumFull(packet); err != nil {
					return false, err
				}
			}
			return true, nil
		default:
			if i+1 >= len(opts) {
				return false, fmt.Errorf("truncated tcp option kind=%d", kind)
			}
			optLen := int(opts[i+1])
			if optLen < 2 || i+optLen > len(opts) {
				return false, fmt.Errorf("invalid tcp option length for kind=%d", kind)
			}
			i += optLen
		}
	}
	return false, nil
}

// InsertMSSOption inserts an MSS option derived from ifaceMTU into a TCP
// SYN segment that carried none, per spec.md §4.6 step 4d(iv): the payload
// after the TCP header is shifted forward by 4 bytes to make room.
//
// packet must have at least 4 bytes of spare capacity beyond its current
// length. Returns the packet extended by 4 bytes, or an error if TCP options
// already fill the 40-byte maximum (WARN per spec.md, surfaced as an error
// here so the caller can log and drop the clamp attempt without failing
// the packet).
func InsertMSSOption(packet []byte, tcpOffset int, ifaceMTU int, isIPv6 bool) ([]byte, error) {
	tcp := packet[tcpOffset:]
	if len(tcp) < tcpHdrWords {
		return nil, fmt.Errorf("tcp segment too short")
	}
	dataOffset := int(tcp[12]>>4) * 4
	if dataOffset+4 > 60 {
		return nil, fmt.Errorf("tcp options already fill maximum, cannot insert MSS")
	}
	if cap(packet) < len(packet)+4 {
		return nil, fmt.Errorf("insufficient spare capacity to insert MSS option")
	}

	mss := ifaceMTU - 40 // strip IPv4/TCP minimal header overhead
	cap16 := MSSClampV4
	if isIPv6 {
		cap16 = MSSClampV6
	}
	if mss > cap16 {
		mss = cap16
	}
	if mss < MSSMinimum {
		mss = MSSMinimum
	}

	// insertAt is the TCP header's end within the full packet: dataOffset
	// is relative to the TCP header's own start (tcpOffset), not to the
	// packet.
	insertAt := tcpOffset + dataOffset
	out := packet[:len(packet)+4]
	copy(out[insertAt+4:], packet[insertAt:])
	out[insertAt] = tcpOptMSS
	out[insertAt+1] = 4
	out[insertAt+2] = byte(mss >> 8)
	out[insertAt+3] = byte(mss)
	out[tcpOffset+12] = byte((dataOffset+4)/4) << 4

	newTotal, err := TotalLen(out)
	if err != nil {
		return nil, err
	}
	_ = newTotal
	if !isIPv6 {
		SetIPv4TotalLen(out, len(out))
		SetIPv4HeaderChecksum(out[:tcpOffset])
	}
	if err := RecomputeTCPChecksumFull(out); err != nil {
		return nil, err
	}
	return out, nil
}
