// Package session implements C4 (spec.md §4.4): per-peer mutable state —
// the send sequence counter, the two-key receive window, the crypto
// context slots (C1), the pre-built outer header template, and the
// rekey interlock. Grounded on the teacher's
// infrastructure/routing/server_routing/session_management session
// type, which likewise pairs a small spin-style-guarded struct with a
// pre-allocated header buffer reused across packets.
package session

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/telemetry/stats"
)

// HeaderSize is the fixed outer-header-plus-trailer size for each IP
// version, per spec.md §6: "IPv4, 28 bytes; IPv6, 48 bytes."
const (
	HeaderSizeV4 = 28
	HeaderSizeV6 = 48

	ttl          = 128
	protocolP3   = 61
	trailerFlags = 4
	trailerSeq   = 4
)

// ErrAlreadyRekeying is returned by BeginRekey when REKEY is already set.
var ErrAlreadyRekeying = fmt.Errorf("session: rekey already in progress")

// ErrRekeying is returned by TryTakeSSeq when REKEY is set, so the
// caller drops the packet instead of sending it under a stale key.
var ErrRekeying = fmt.Errorf("session: rekey in progress")

// RekeyTicket is the token BeginRekey hands the caller; it carries
// nothing but existence (the lock already serialized the test-and-set).
type RekeyTicket struct{}

// Session is the per-peer mutable tunnel state spec.md §4.4 describes.
// The lock field guards exactly sseq, the REKEY flag, and rID0/rID1 —
// spec.md §5's "short spin-style lock... never held across allocation,
// copy, crypto, or I/O." A sync.Mutex stands in for the teacher's
// spinlock: Go has no portable spin primitive, and the critical
// sections here are a handful of arithmetic ops, matching the
// uncontended fast path a spinlock would give in C.
type Session struct {
	peer *domain.Peer

	mu     sync.Mutex
	sseq   uint32
	rID0   uint32
	rID1   uint32
	rekeying bool
	cfwd     bool

	Crypto *cryptoctx.Context

	KeyType   domain.KeyType
	IPv6      bool
	header    []byte // pre-built outer header template, patched per packet

	NextRekeyAt   time.Time
	NextDataIdxAt time.Time
	NextCtlIdxAt  time.Time

	rxPackets atomic.Uint64 // count of ingress packets; not read by the periodic rekey trigger, which uses sseq alone

	// Stats is nil until SetStats is called (the config importer wires
	// it to a stats.Registry entry keyed by the peer's ID once the
	// session is created). RecordRX and RecordTX nil-check it before use,
	// so sessions built without a registry (most tests) work unchanged.
	Stats *stats.Collector
}

// SetStats attaches the traffic counter this session's packets feed.
func (s *Session) SetStats(c *stats.Collector) { s.Stats = c }

// RecordRX adds n wire bytes to the session's RX counter. A no-op until
// SetStats has been called.
func (s *Session) RecordRX(n int) {
	if s.Stats == nil || n <= 0 {
		return
	}
	s.Stats.AddRXBytes(uint64(n))
}

// RecordTX adds n wire bytes to the session's TX counter. A no-op until
// SetStats has been called.
func (s *Session) RecordTX(n int) {
	if s.Stats == nil || n <= 0 {
		return
	}
	s.Stats.AddTXBytes(uint64(n))
}

// Peer implements domain.Session.
func (s *Session) Peer() *domain.Peer { return s.peer }

// New allocates and initializes a Session for peer, per spec.md §4.4's
// init operation: prebuilds the outer header template, installs
// sseq=1, a zero receive window, and the crypto context from the
// initial keys.
func New(peer *domain.Peer, localAddr netip.Addr, keys cryptoctx.Keys) (*Session, error) {
	crypto, err := cryptoctx.New(keys)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s := &Session{
		peer:    peer,
		sseq:    1,
		Crypto:  crypto,
		KeyType: peer.KeyType,
		IPv6:    peer.IPv6,
	}
	s.header = buildHeaderTemplate(localAddr, peer.Address, peer.IPv6)
	return s, nil
}

func buildHeaderTemplate(local, remote netip.Addr, ipv6 bool) []byte {
	if ipv6 {
		h := make([]byte, HeaderSizeV6)
		h[0] = 0x60
		h[6] = protocolP3
		h[7] = ttl
		copy(h[8:24], local.AsSlice())
		copy(h[24:40], remote.AsSlice())
		return h
	}
	h := make([]byte, HeaderSizeV4)
	h[0] = 0x45
	h[6] = 0x40 // don't-fragment bit
	h[8] = ttl
	h[9] = protocolP3
	copy(h[12:16], local.AsSlice())
	copy(h[16:20], remote.AsSlice())
	return h
}

// HeaderTemplate returns the session's pre-built outer header. Callers
// must copy it before patching per-packet fields (id, total length,
// checksum, sequence, forward flag) — the template itself is shared and
// must stay pristine, per spec.md §4.6 step 4g.
func (s *Session) HeaderTemplate() []byte { return s.header }

// NextSSeq atomically returns the current send sequence then increments
// it, skipping zero on wrap (spec.md §4.4).
func (s *Session) NextSSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.sseq
	s.sseq++
	if s.sseq == 0 {
		s.sseq++
	}
	return cur
}

// TryTakeSSeq checks REKEY and takes the next send sequence under one
// locked critical section, per spec.md §4.4: "Under the session lock:
// if REKEY flag set → fail (drop); else take sseq and release." Packets
// may be handled concurrently on different CPUs (spec.md §4.5), so
// checking Rekeying and calling NextSSeq as two separate calls would
// leave a window where BeginRekey sets the flag between them, letting a
// data packet through under the old key after REKEY was set.
func (s *Session) TryTakeSSeq() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rekeying {
		return 0, ErrRekeying
	}
	cur := s.sseq
	s.sseq++
	if s.sseq == 0 {
		s.sseq++
	}
	return cur, nil
}

// PeekSSeq returns the current send sequence without advancing it, used
// by the rekey trigger check (spec.md §4.6's "every 64 packets").
func (s *Session) PeekSSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sseq
}

// RecvWindow returns the current rID0/rID1 boundaries.
func (s *Session) RecvWindow() (rID0, rID1 uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rID0, s.rID1
}

// InSlot1 reports which key slot a received sequence number falls into,
// per spec.md §3: "in slot 1 if rID1 ≤ s or s < rID0; otherwise slot 0."
func (s *Session) InSlot1(seq uint32) bool {
	rID0, rID1 := s.RecvWindow()
	return rID1 <= seq || seq < rID0
}

// Rekeying reports whether REKEY is currently set.
func (s *Session) Rekeying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rekeying
}

// BeginRekey sets REKEY under the session lock, failing if already set
// (spec.md §4.4, §4.8's Idle→Rekeying transition guard).
func (s *Session) BeginRekey() (RekeyTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rekeying {
		return RekeyTicket{}, ErrAlreadyRekeying
	}
	s.rekeying = true
	return RekeyTicket{}, nil
}

// CommitRekey calls C1.rekey, moves rID0 ← rID1, sets rID1 ← newRID1,
// and clears REKEY — spec.md §4.4's commit_rekey and §4.8's
// Rekeying→Idle transition on a clean acknowledgement.
func (s *Session) CommitRekey(_ RekeyTicket, newRID1 uint32, newKeys cryptoctx.Keys) error {
	if err := s.Crypto.Rekey(newKeys); err != nil {
		return fmt.Errorf("session: commit rekey: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rID0 = s.rID1
	s.rID1 = newRID1
	s.rekeying = false
	return nil
}

// AbortRekey clears REKEY without touching key slots or the receive
// window — spec.md §4.4's abort_rekey and §4.8's error-bit path.
func (s *Session) AbortRekey(_ RekeyTicket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rekeying = false
}

// ClearRekeyDefensively unconditionally clears REKEY regardless of
// whether a ticket was ever issued, per spec.md §7's "Protocol-
// BadControl... drop, clear REKEY defensively if it was set" — a
// malformed control message must not leave a session stuck rekeying.
func (s *Session) ClearRekeyDefensively() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rekeying = false
}

// SetCFWD records whether the last control message arrived on a
// forwarded link (spec.md §3's CFWD flag).
func (s *Session) SetCFWD(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfwd = v
}

// CFWD reports the last-recorded forwarded-link state.
func (s *Session) CFWD() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfwd
}

// forwardFlagBit is the bit within the trailer's flags word that marks a
// packet as arriving via (or requiring) the forwarded-link path.
const forwardFlagBit = 0x04

// ReadTrailer reads the sequence number and forward flag back out of a
// header-sized region written by WriteTrailer (or received off the
// wire in that shape), per spec.md §4.6 step 3d/e.
func ReadTrailer(header []byte) (seq uint32, forward bool) {
	n := len(header)
	flags := header[n-trailerFlags-trailerSeq : n-trailerSeq]
	forward = flags[len(flags)-1]&forwardFlagBit != 0
	seqField := header[n-trailerSeq:]
	seq = uint32(seqField[0])<<24 | uint32(seqField[1])<<16 | uint32(seqField[2])<<8 | uint32(seqField[3])
	return seq, forward
}

// WriteTrailer patches the 8-byte tunnel trailer (4-byte flags, 4-byte
// sequence) at the end of header — a copy of a session's HeaderTemplate,
// or any buffer whose first header-sized region is that copy — with seq
// and the forward flag, per spec.md §6's outer wire layout. header must
// be exactly HeaderSizeV4 or HeaderSizeV6 bytes.
func WriteTrailer(header []byte, seq uint32, forward bool) {
	n := len(header)
	flags := header[n-trailerFlags-trailerSeq : n-trailerSeq]
	for i := range flags {
		flags[i] = 0
	}
	if forward {
		flags[len(flags)-1] = forwardFlagBit
	}
	seqField := header[n-trailerSeq:]
	seqField[0] = byte(seq >> 24)
	seqField[1] = byte(seq >> 16)
	seqField[2] = byte(seq >> 8)
	seqField[3] = byte(seq)
}
