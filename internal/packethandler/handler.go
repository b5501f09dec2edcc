// Package packethandler implements C6 (spec.md §4.6): the central
// classify-then-transform state machine invoked for each intercepted
// packet. Grounded on the teacher's application/network packet-handling
// loop, which likewise runs a single hot classify/transform/forward
// pass per packet with no suspension points — here expanded from a
// single tunnel mode into the peer-classification branches spec.md
// §4.6 names.
package packethandler

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/control"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/ipheader"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/obfuscate"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/rekey"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/routetable"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
)

// Hook identifies which netfilter-style interception point produced a
// packet, per spec.md §4.6's "a packet buffer and a hook identifier".
type Hook int

const (
	HookLocalOut Hook = iota
	HookPreRouting
	HookForward
)

// Result is the outcome Handle reports for a non-error call. When
// Handle returns a non-nil error, the packet must be dropped and
// Result is not meaningful — the perr sentinel wrapped into the error
// names which Drop-kind applies (spec.md §7).
type Result int

const (
	Unmodified Result = iota
	HeaderAdded
	HeaderRemoved
	ControlConsumed
	RawBootstrap
)

func (r Result) String() string {
	switch r {
	case HeaderAdded:
		return "header-added"
	case HeaderRemoved:
		return "header-removed"
	case ControlConsumed:
		return "control-consumed"
	case RawBootstrap:
		return "raw-bootstrap"
	default:
		return "unmodified"
	}
}

// dataBuckets are the fixed outer encrypted-region sizes for data
// packets (spec.md §4.6 step 4e): same three-bucket table C9 uses for
// control packets, admitting the region length directly rather than
// body+header (see controlsender's bucket note; the two packages keep
// independent copies of this small arithmetic rather than share a
// package for it).
var dataBuckets = [3]int{176, 640, 1440}

const maxOuterLen = 1500

func chooseDataRegionLen(need int) int {
	for _, b := range dataBuckets {
		if need <= b {
			return b
		}
	}
	return ((need + 15) / 16) * 16
}

// Handler holds the configuration C6 needs across calls: the routing
// table built at startup, this endpoint's local address and role, the
// peer listener port bootstrap/control traffic arrives on, and the
// interface MTU used for the MSS-clamp insert path.
type Handler struct {
	Table          *routetable.Table
	LocalAddr      netip.Addr
	ListenerPort   uint16
	IfaceMTU       int
	Role           domain.Role
	ControlHandler control.Handler
	KeyArrayLimits control.KeyArrayLimits

	// OnRekeyDue is invoked (outside the session lock) when the
	// periodic 64-packet trigger fires on an outbound packet and no
	// rekey is already in flight. Engine wires this to build and send
	// a REPLACE_KEY control message via C7/C8/C9; packethandler itself
	// stays decoupled from key-sourcing and transport concerns.
	OnRekeyDue func(s *session.Session)

	// Usec supplies the microsecond-ish entropy value the obfuscator
	// uses to vary block count, layout, and padding per packet
	// (spec.md §4.5). Tests can inject a deterministic source.
	Usec func() uint32
}

// scratchPool holds the one ephemeral work buffer each Handle call needs
// for its decrypt-before-deobfuscate region (inbound) or MSS-clamp copy
// (outbound). Both paths finish reading from it before building the
// buffer they actually return to the caller, so it is always safe to
// return to the pool once Handle is done — unlike out/inner, whose
// ownership transfers to the caller and which are never pooled.
var scratchPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxOuterLen+4)
		return &b
	},
}

// Handle runs the full classify/transform pipeline for one intercepted
// packet. On success it returns the outcome and, for HeaderAdded /
// HeaderRemoved, the replacement packet buffer. On error, the caller
// must drop the original packet; Result is meaningless in that case.
//
// application.PacketHook's sketch is Handle(pkt, hook) (Result, error);
// this Handle returns the replacement buffer as a third value because
// something concrete has to carry it back to whatever dispatches the
// packet next. engine narrows this down to application.PacketHook's
// shape at the point it wires packethandler in.
func (h *Handler) Handle(packet []byte, hook Hook, forwardedLink bool) (Result, []byte, error) {
	cls, err := h.Table.Classify(packet, forwardedLink)
	if err != nil {
		return Unmodified, nil, err
	}

	scratch := scratchPool.Get().(*[]byte)
	defer scratchPool.Put(scratch)

	switch cls.Decision {
	case routetable.FromPeer:
		return h.handleInbound(packet, cls, *scratch)
	case routetable.ToPeer:
		return h.handleOutbound(packet, cls, *scratch)
	default:
		return Unmodified, packet, nil
	}
}

func (h *Handler) usec() uint32 {
	if h.Usec != nil {
		return h.Usec()
	}
	return 0
}

func asSession(s domain.Session) (*session.Session, error) {
	sess, ok := s.(*session.Session)
	if !ok {
		return nil, fmt.Errorf("packethandler: classified session has unexpected type %T", s)
	}
	return sess, nil
}

// handleInbound implements spec.md §4.6 step 3: an inbound tunnel
// packet from a known peer.
func (h *Handler) handleInbound(packet []byte, cls routetable.Classification, scratch []byte) (Result, []byte, error) {
	sess, err := asSession(cls.Session)
	if err != nil {
		return Unmodified, nil, err
	}
	peer := sess.Peer()

	if !peer.Active() {
		return Unmodified, packet, nil
	}
	proto, err := ipheader.Protocol(packet)
	if err != nil {
		return Unmodified, nil, err
	}
	if proto != ipheader.ProtocolP3 {
		return Unmodified, packet, nil
	}
	if isBootstrapSYN(packet, h.ListenerPort) {
		return Unmodified, packet, nil
	}
	sess.RecordRX(len(packet))

	header := sess.HeaderTemplate()
	headerLen := len(header)
	if len(packet) < headerLen {
		return Unmodified, nil, fmt.Errorf("packethandler: inbound packet shorter than header: %w", perr.ErrDecryptFailure)
	}
	seq, forward := session.ReadTrailer(packet[:headerLen])
	sess.SetCFWD(forward)

	dataWhich := cryptoctx.DATA0
	ctlWhich := cryptoctx.CTL0
	if sess.InSlot1(seq) {
		dataWhich = cryptoctx.DATA1
		ctlWhich = cryptoctx.CTL1
	}

	regionLen := len(packet) - headerLen
	region := scratch[:regionLen:regionLen]
	if cap(scratch) < regionLen {
		region = make([]byte, regionLen)
	}
	copy(region, packet[headerLen:])
	if err := sess.Crypto.Decrypt(region, seq, dataWhich); err != nil {
		return Unmodified, nil, fmt.Errorf("packethandler: decrypt inbound region: %w", perr.ErrDecryptFailure)
	}

	inner, err := obfuscate.Deobfuscate(region)
	if err != nil {
		return Unmodified, nil, fmt.Errorf("packethandler: deobfuscate inbound region: %w", perr.ErrDeobfuscateFailure)
	}
	if trueLen, err := ipheader.TotalLen(inner); err == nil && trueLen <= len(inner) {
		inner = inner[:trueLen]
	}

	if isControlInner(inner, h.LocalAddr, h.ListenerPort) {
		udpPayload := inner[innerHeaderLen:]
		if err := sess.Crypto.Decrypt(udpPayload, seq, ctlWhich); err != nil {
			return ControlConsumed, nil, fmt.Errorf("packethandler: decrypt control payload: %w", perr.ErrDecryptFailure)
		}
		frame, err := control.ParseFrame(udpPayload)
		if err != nil {
			return ControlConsumed, nil, err
		}
		if err := control.Dispatch(h.Role, frame, sess, h.KeyArrayLimits, h.ControlHandler); err != nil {
			return ControlConsumed, nil, err
		}
		return ControlConsumed, nil, nil
	}

	return HeaderRemoved, inner, nil
}

// handleOutbound implements spec.md §4.6 step 4: an outbound packet
// destined for a peer or one of its subnets.
func (h *Handler) handleOutbound(packet []byte, cls routetable.Classification, scratch []byte) (Result, []byte, error) {
	sess, err := asSession(cls.Session)
	if err != nil {
		return Unmodified, nil, err
	}
	peer := sess.Peer()

	if isBootstrapSYN(packet, h.ListenerPort) {
		return Unmodified, packet, nil
	}
	if isRawBootstrap(packet) {
		peer.Activate()
		return RawBootstrap, packet, nil
	}
	if !peer.Active() {
		return Unmodified, nil, fmt.Errorf("packethandler: peer %d network not active: %w", peer.ID, perr.ErrNotActive)
	}

	var work []byte
	if cap(scratch) >= len(packet)+4 {
		work = scratch[:len(packet):len(packet)+4]
	} else {
		work = make([]byte, len(packet), len(packet)+4)
	}
	copy(work, packet)
	work, err = clampOrInsertMSS(work, sess.IPv6, h.IfaceMTU)
	if err != nil {
		return Unmodified, nil, err
	}

	regionLen := chooseDataRegionLen(len(work) + 6)
	headerLen := len(sess.HeaderTemplate())
	totalLen := headerLen + regionLen
	if totalLen > maxOuterLen {
		return Unmodified, nil, fmt.Errorf("packethandler: outer length %d exceeds cap: %w", totalLen, perr.ErrOverSize)
	}

	seq, err := sess.TryTakeSSeq()
	if err != nil {
		return Unmodified, nil, fmt.Errorf("packethandler: session is rekeying: %w", perr.ErrRekeying)
	}

	if h.OnRekeyDue != nil && h.Role == domain.RolePrimary && rekey.PeriodicTriggerDue(sess) && !sess.Rekeying() {
		h.OnRekeyDue(sess)
	}

	out := make([]byte, totalLen)
	copy(out, sess.HeaderTemplate())
	forwardBit := cls.DestIsSubnet
	if !sess.IPv6 {
		ipheader.SetIPv4ID(out, uint16(seq))
		ipheader.SetIPv4TotalLen(out, totalLen)
		ipheader.SetIPv4HeaderChecksum(out[:headerLen-8])
	}
	session.WriteTrailer(out[:headerLen], seq, forwardBit)

	obfuscated, err := obfuscate.Obfuscate(work, regionLen, h.usec())
	if err != nil {
		return Unmodified, nil, fmt.Errorf("packethandler: obfuscate outbound packet: %w", err)
	}
	if err := sess.Crypto.Encrypt(obfuscated, seq, cryptoctx.DATA1); err != nil {
		return Unmodified, nil, fmt.Errorf("packethandler: encrypt outbound region: %w", err)
	}
	copy(out[headerLen:], obfuscated)
	sess.RecordTX(len(out))

	return HeaderAdded, out, nil
}

// innerHeaderLen matches controlsender's inner UDP-shaped header size;
// duplicated here (rather than imported) since importing controlsender
// from packethandler would invert the natural dependency direction —
// C9 builds on top of a session, C6 classifies and dispatches.
const innerHeaderLen = 28

// isControlInner reports whether a just-deobfuscated inner packet is a
// control message: UDP to/from the local address on the listener port
// (spec.md §4.6 step 3h).
func isControlInner(inner []byte, localAddr netip.Addr, listenerPort uint16) bool {
	if len(inner) < innerHeaderLen {
		return false
	}
	proto, err := ipheader.Protocol(inner)
	if err != nil || proto != 17 {
		return false
	}
	src, err := ipheader.SourceAddress(inner)
	if err != nil {
		return false
	}
	dst, err := ipheader.DestinationAddress(inner)
	if err != nil {
		return false
	}
	if src != localAddr && dst != localAddr {
		return false
	}
	srcPort := binary.BigEndian.Uint16(inner[20:22])
	dstPort := binary.BigEndian.Uint16(inner[22:24])
	return srcPort == listenerPort && dstPort == listenerPort
}

// isBootstrapSYN reports whether packet is a TCP SYN to or from port
// (spec.md §4.6 steps 3c / 4a): the session-init bootstrap handshake,
// which the handler must let pass through unmodified.
func isBootstrapSYN(packet []byte, port uint16) bool {
	proto, err := ipheader.Protocol(packet)
	if err != nil || proto != 6 {
		return false
	}
	ihl, err := ipheader.HeaderLen(packet)
	if err != nil || len(packet) < ihl+14 {
		return false
	}
	tcp := packet[ihl:]
	if tcp[13]&0x02 == 0 { // SYN flag
		return false
	}
	srcPort := binary.BigEndian.Uint16(tcp[0:2])
	dstPort := binary.BigEndian.Uint16(tcp[2:4])
	return srcPort == port || dstPort == port
}

// isRawBootstrap reports whether packet is the raw-socket bootstrap
// probe (spec.md §4.6 step 4b): an outer-shaped IPv4/P3 packet whose
// sequence field is the literal value zero.
func isRawBootstrap(packet []byte) bool {
	proto, err := ipheader.Protocol(packet)
	if err != nil || proto != ipheader.ProtocolP3 {
		return false
	}
	if len(packet) < session.HeaderSizeV4 {
		return false
	}
	seq, _ := session.ReadTrailer(packet[:session.HeaderSizeV4])
	return seq == 0
}

// clampOrInsertMSS implements spec.md §4.6 step 4d: for a TCP SYN,
// clamp an existing MSS option or insert one derived from the
// interface MTU if none was found.
func clampOrInsertMSS(packet []byte, isIPv6 bool, ifaceMTU int) ([]byte, error) {
	proto, err := ipheader.Protocol(packet)
	if err != nil || proto != 6 {
		return packet, nil
	}
	ihl, err := ipheader.HeaderLen(packet)
	if err != nil {
		return packet, nil
	}
	if len(packet) < ihl+14 || packet[ihl+13]&0x02 == 0 {
		return packet, nil
	}

	clamped, err := ipheader.ClampMSS(packet, ihl, isIPv6)
	if err != nil {
		return nil, fmt.Errorf("packethandler: mss clamp: %w", err)
	}
	if clamped {
		return packet, nil
	}

	out, err := ipheader.InsertMSSOption(packet, ihl, ifaceMTU, isIPv6)
	if err != nil {
		// spec.md: "abort if TCP options already fill the maximum
		// (WARN)" — not fatal to the packet, proceed unclamped.
		return packet, nil
	}
	return out, nil
}
