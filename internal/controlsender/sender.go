// Package controlsender implements C9 (spec.md §4.9): building a
// transmittable control packet from a session and a control-message
// body — inner UDP-shaped header, encrypted body, obfuscated+encrypted
// outer region, prebuilt outer header — and honoring the CFWD
// forwarded-link flag. Grounded on the teacher's
// application/network/rekey sender path, which likewise assembles a
// fixed-shape header in a reused buffer before handing off to the
// transport.
package controlsender

import (
	"encoding/binary"
	"fmt"

	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/ipheader"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/obfuscate"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
)

// innerHeaderLen is the fixed 28-byte UDP-shaped inner header spec.md
// §6 describes for control frames: a 20-byte IPv4 header plus an
// 8-byte UDP header, used regardless of the outer tunnel's IP version.
const innerHeaderLen = 28

// seqDiff is an implementation-defined constant folded into the outer
// IP identification field for control packets (spec.md §4.9 step 6:
// "patch IP id = sseq + SEQ_DIFF"), bit-stable between peers but not
// otherwise meaningful; the teacher's header-patching code uses a
// similar fixed offset to keep control and data packet IDs from
// colliding on the wire.
const seqDiff = 0x5000

// buckets are the fixed sizes for the to-be-obfuscated-and-encrypted
// region (spec.md §6): small=176, medium=640, large=1440. All three,
// and every "next 16-byte multiple" fallback, are multiples of 16 by
// construction — satisfying C1's "len must be a multiple of 16"
// (spec.md §4.1) on the region exactly, independent of outer header size.
var buckets = [3]int{176, 640, 1440}

const maxOuterLen = 1500

func chooseRegionLen(need int) int {
	for _, b := range buckets {
		if need <= b {
			return b
		}
	}
	return ((need + 15) / 16) * 16
}

// Build assembles a transmittable control tunnel packet for body. It
// returns the packet bytes and whether CFWD means the caller must hand
// it to the forwarded-link transmit path rather than direct xmit
// (spec.md §4.9 step 9).
func Build(s *session.Session, body []byte, usec uint32) ([]byte, bool, error) {
	aligned := alignUp16(body)

	header := s.HeaderTemplate()
	headerLen := len(header)

	regionLen := chooseRegionLen(innerHeaderLen + len(aligned) + 16)
	totalLen := headerLen + regionLen
	if totalLen > maxOuterLen {
		return nil, false, fmt.Errorf("controlsender: outer length %d exceeds cap: %w", totalLen, perr.ErrOverSize)
	}

	inner := buildInnerHeader(s, len(aligned))

	plain := make([]byte, innerHeaderLen+len(aligned))
	copy(plain, inner)
	copy(plain[innerHeaderLen:], aligned)

	seq := s.NextSSeq()

	if err := s.Crypto.Encrypt(plain[innerHeaderLen:], seq, cryptoctx.CTL1); err != nil {
		return nil, false, fmt.Errorf("controlsender: encrypt control body: %w", err)
	}

	obfuscated, err := obfuscate.Obfuscate(plain, regionLen, usec)
	if err != nil {
		return nil, false, fmt.Errorf("controlsender: obfuscate: %w", err)
	}
	if err := s.Crypto.Encrypt(obfuscated, seq, cryptoctx.DATA1); err != nil {
		return nil, false, fmt.Errorf("controlsender: encrypt outer region: %w", err)
	}

	out := make([]byte, totalLen)
	copy(out, header)
	if !s.IPv6 {
		ipheader.SetIPv4ID(out, uint16(seq+seqDiff))
		ipheader.SetIPv4TotalLen(out, totalLen)
		ipheader.SetIPv4HeaderChecksum(out[:headerLen-8])
	}
	session.WriteTrailer(out[:headerLen], seq, s.CFWD())
	copy(out[headerLen:], obfuscated)

	return out, s.CFWD(), nil
}

// buildInnerHeader constructs the 28-byte UDP-shaped inner header:
// source port = dest port = the peer's listener port, length = the
// aligned control-body size, checksum computed over the IP portion.
func buildInnerHeader(s *session.Session, bodyLen int) []byte {
	h := make([]byte, innerHeaderLen)
	h[0] = 0x45
	binary.BigEndian.PutUint16(h[2:4], uint16(20+8+bodyLen))
	h[8] = 64
	h[9] = 17 // UDP
	peer := s.Peer()
	copy(h[12:16], peer.Address.AsSlice())
	copy(h[16:20], peer.Address.AsSlice())
	ipheader.SetIPv4HeaderChecksum(h[:20])

	port := peer.Port
	binary.BigEndian.PutUint16(h[20:22], port)
	binary.BigEndian.PutUint16(h[22:24], port)
	binary.BigEndian.PutUint16(h[24:26], uint16(8+bodyLen))
	// UDP checksum left zero: optional over IPv4, and the outer region
	// is encrypted immediately afterward regardless.
	return h
}

func alignUp16(body []byte) []byte {
	n := ((len(body) + 15) / 16) * 16
	out := make([]byte, n)
	copy(out, body)
	return out
}
