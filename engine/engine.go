// Package engine is the facade spec.md §6 describes: it wires C1–C9
// behind the application interfaces (PacketHook, Transport, NetUtils,
// KeySource, ConfigImporter) so a host process that owns the real OS
// packet hooks, sockets, and configuration loading can drive the
// packet-plane engine without linking against any internal package
// directly. Grounded on the teacher's presentation package, which
// plays the same role: it is the one place that constructs every
// component and hands the assembled whole to main, rather than
// scattering wiring across the tree.
package engine

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/BanjoFox/protected-point-to-point-sub001/application"
	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/config"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/control"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/controlsender"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/keyarray"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/keyring"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/packethandler"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/rekey"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/routetable"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/telemetry/plog"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/telemetry/stats"
)

// Config bundles everything Engine needs to construct the packet-plane
// pipeline for one endpoint. Transport and NetUtils are the two
// external collaborators a host must supply a real implementation of;
// Ring stands in for the "true random number source" (spec.md §1) —
// some producer goroutine must keep it fed, which is the host's job.
type Config struct {
	LocalAddr    netip.Addr
	Role         domain.Role
	ListenerPort uint16
	IfaceMTU     int
	KeyArray     control.KeyArrayLimits

	Ring      *keyring.Ring
	Transport application.Transport
	NetUtils  application.NetUtils
	Logger    plog.Logger

	// Deliver receives a decrypted, deobfuscated inner IP packet that
	// spec.md §4.6 step 3's HeaderRemoved result names: the host writes
	// it to its TUN device or local IP stack. Not one of application's
	// five interfaces — §6 lists "packet_handler" as the collaborator
	// that calls in, not the sink a HeaderRemoved result writes out to,
	// and no other external interface in the set has a seam for it. See
	// DESIGN.md.
	Deliver func(inner []byte)

	// Usec supplies the obfuscator's per-packet entropy value (spec.md
	// §4.5). Defaults to a wall-clock-derived source if nil.
	Usec func() uint32
}

// Engine owns the routing table, the per-peer session/stats registries,
// and the C6 packet handler, and itself implements application.
// PacketHook and internal/control.Handler — the packet-intercept entry
// point and the control-message dispatch target are the same facade.
type Engine struct {
	table     *routetable.Table
	ph        *packethandler.Handler
	transport application.Transport
	netutils  application.NetUtils
	logger    plog.Logger
	deliver   func([]byte)
	usec      func() uint32
	ring      *keyring.Ring
	role      domain.Role
	stats     *stats.Registry

	mu            sync.Mutex
	pendingRekeys map[domain.PeerID]control.ReplaceKeyBody
	keyArrays     map[domain.PeerID][][]byte
}

// New constructs an Engine from cfg. The returned Engine's ControlHandler
// is itself; callers still need to import via Importer (or ImportFile) to
// populate the routing table and create sessions before Freeze.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = plog.New()
	}
	usec := cfg.Usec
	if usec == nil {
		usec = defaultUsec
	}

	table := routetable.New()
	e := &Engine{
		table:         table,
		transport:     cfg.Transport,
		netutils:      cfg.NetUtils,
		logger:        logger,
		deliver:       cfg.Deliver,
		usec:          usec,
		ring:          cfg.Ring,
		role:          cfg.Role,
		stats:         stats.NewRegistry(time.Second, 0.3),
		pendingRekeys: make(map[domain.PeerID]control.ReplaceKeyBody),
		keyArrays:     make(map[domain.PeerID][][]byte),
	}
	e.ph = &packethandler.Handler{
		Table:          table,
		LocalAddr:      cfg.LocalAddr,
		ListenerPort:   cfg.ListenerPort,
		IfaceMTU:       cfg.IfaceMTU,
		Role:           cfg.Role,
		ControlHandler: e,
		KeyArrayLimits: cfg.KeyArray,
		OnRekeyDue:     e.onRekeyDue,
		Usec:           usec,
	}
	return e
}

// Table returns the routing table Import populates. Callers must call
// Table().Freeze() once every peer/subnet has been imported and before
// Handle is ever called concurrently (spec.md §5).
func (e *Engine) Table() *routetable.Table { return e.table }

// Stats returns the per-peer traffic counter registry.
func (e *Engine) Stats() *stats.Registry { return e.stats }

// Importer builds an application.ConfigImporter wired to this engine's
// routing table and stats registry, ready to hand to internal/config.
// ImportAll (or any other ConfigImporter caller).
func (e *Engine) Importer() *config.Importer {
	return &config.Importer{
		LocalAddr: e.localAddr(),
		Role:      e.role,
		Table:     e.table,
		Stats:     e.stats,
	}
}

func (e *Engine) localAddr() netip.Addr { return e.ph.LocalAddr }

// ImportFile loads a JSON peer file and registers every peer with this
// engine's routing table, drawing key material from source. Pass
// e.Ring().AsKeySource() for the production path, or a fixed KeySource
// in tests. It does not call Freeze — call Table().Freeze() once every
// import source has run.
func (e *Engine) ImportFile(path string, source application.KeySource) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	return config.ImportAll(e.Importer(), f, source)
}

// Ring returns the key-supply ring this engine draws rekey and import
// key material from.
func (e *Engine) Ring() *keyring.Ring { return e.ring }

func defaultUsec() uint32 { return uint32(time.Now().UnixNano()) }

// application.HookPoint/Result <-> packethandler.Hook/Result mappings.
// Kept as explicit switches rather than numeric casts, since the two
// enumerations are declared independently in sibling packages and
// nothing enforces their orderings stay identical.

func toInternalHook(h application.HookPoint) packethandler.Hook {
	switch h {
	case application.HookPreRouting:
		return packethandler.HookPreRouting
	case application.HookForward:
		return packethandler.HookForward
	default:
		return packethandler.HookLocalOut
	}
}

func toApplicationResult(r packethandler.Result) application.Result {
	switch r {
	case packethandler.HeaderAdded:
		return application.HeaderAdded
	case packethandler.HeaderRemoved:
		return application.HeaderRemoved
	case packethandler.ControlConsumed:
		return application.ControlConsumed
	case packethandler.RawBootstrap:
		return application.RawBootstrap
	default:
		return application.Unmodified
	}
}

// Handle implements application.PacketHook. It assumes forwardedLink is
// false — application.PacketHook's sketch (spec.md §6) has no seam for
// the forwarded-link bit an inbound outer header carries, since reading
// that bit is itself a hook-registration-level concern spec.md §1 places
// outside this engine. A host that tracks CFWD accurately should call
// HandleForwarded directly instead; both end up at the same pipeline.
func (e *Engine) Handle(pkt []byte, hook application.HookPoint) (application.Result, error) {
	return e.HandleForwarded(pkt, hook, false)
}

// HandleForwarded is Handle with an explicit forwardedLink flag. Unlike
// packethandler.Handler.Handle, it does not also return the replacement
// packet bytes: whatever a HeaderAdded or HeaderRemoved result produces
// is consumed right here — sent to the peer via Transport, or handed to
// Deliver — before this call returns, since application.PacketHook's
// interface has no return slot for it (see REDESIGN FLAGS note on
// packethandler.Handler.Handle's three-value signature, and DESIGN.md).
func (e *Engine) HandleForwarded(pkt []byte, hook application.HookPoint, forwardedLink bool) (application.Result, error) {
	result, out, err := e.ph.Handle(pkt, toInternalHook(hook), forwardedLink)
	if err != nil {
		e.logger.Warn("drop", "hook", hook, "reason", err)
		return toApplicationResult(result), err
	}

	switch result {
	case packethandler.HeaderAdded:
		cls, ok := e.classifiedPeer(pkt, forwardedLink)
		if !ok {
			return toApplicationResult(result), fmt.Errorf("engine: reclassify outbound packet for send")
		}
		if sendErr := e.transport.Send(out, cls.Session.Peer(), cls.DestIsSubnet); sendErr != nil {
			return toApplicationResult(result), fmt.Errorf("engine: send outbound packet: %w", sendErr)
		}
	case packethandler.HeaderRemoved:
		if e.deliver != nil {
			e.deliver(out)
		}
	case packethandler.RawBootstrap:
		// The bootstrap handshake packet travels over the same
		// transport as tunneled traffic, unwrapped — spec.md §4.6 step
		// 4b treats it as a raw-socket probe, not a C6-framed packet.
		if cls, ok := e.classifiedPeer(pkt, forwardedLink); ok {
			if e.netutils != nil {
				e.netutils.SetDeviceInfo(cls.Session.Peer(), domain.DeviceRaw)
			}
			if sendErr := e.transport.Send(out, cls.Session.Peer(), cls.DestIsSubnet); sendErr != nil {
				return toApplicationResult(result), fmt.Errorf("engine: send raw bootstrap packet: %w", sendErr)
			}
		}
	}
	return toApplicationResult(result), nil
}

// classifiedPeer reclassifies pkt to recover the session/peer an
// already-transformed result belongs to. packethandler.Handler.Handle
// does this same classification internally but does not return it;
// Classify is a pure linear scan (spec.md §4.3: "acceptable at this
// scale"), so repeating it here is cheap.
func (e *Engine) classifiedPeer(pkt []byte, forwardedLink bool) (routetable.Classification, bool) {
	cls, err := e.table.Classify(pkt, forwardedLink)
	if err != nil || cls.Session == nil {
		return routetable.Classification{}, false
	}
	return cls, true
}

// sendControl builds and transmits a control message over sess via C9,
// per spec.md §4.9.
func (e *Engine) sendControl(s *session.Session, cmd control.Command, body []byte) error {
	frame := control.Frame{Cmd: cmd, Body: body}.Marshal()
	pkt, forwarded, err := controlsender.Build(s, frame, e.usec())
	if err != nil {
		return fmt.Errorf("engine: build control message %v: %w", cmd, err)
	}
	return e.transport.Send(pkt, s.Peer(), forwarded)
}

// onRekeyDue is packethandler.Handler.OnRekeyDue: the primary-side
// periodic trigger (spec.md §4.6, §4.8 transition (a)).
func (e *Engine) onRekeyDue(s *session.Session) {
	ticket, err := rekey.BeginFromPeriodicTrigger(s)
	if err != nil {
		return
	}
	keyWidth := s.Peer().KeyType.KeyBytes()
	body, err := rekey.BuildReplaceKey(e.ring, keyWidth)
	if err != nil {
		s.AbortRekey(ticket)
		e.logger.Warn("rekey abandoned", "peer", s.Peer().ID, "reason", err)
		return
	}
	e.mu.Lock()
	e.pendingRekeys[s.Peer().ID] = body
	e.mu.Unlock()

	if err := e.sendControl(s, control.ReplaceKey, body.Marshal()); err != nil {
		e.logger.Warn("rekey replace-key send failed", "peer", s.Peer().ID, "reason", err)
	}
}

// BuildKeyArray originates a SET_KEY_ARRAY control message (spec.md
// §4.7): the Primary draws keyWidth bytes of seed material from the
// ring, expands it into count independent keys via keyarray.Expand's
// HKDF derivation, remembers the batch so a later REPLACE_KEY can
// reference one of these keys by index, and transmits it. spec.md §4.7's
// role table groups SET_KEY_ARRAY with REPLACE_KEY as Primary-issued,
// so this mirrors onRekeyDue's build-then-send shape.
func (e *Engine) BuildKeyArray(s *session.Session, count int) error {
	keyWidth := s.Peer().KeyType.KeyBytes()
	seed, err := e.ring.TakeBytes(keyWidth)
	if err != nil {
		return fmt.Errorf("engine: draw key-array seed: %w", err)
	}
	keys, err := keyarray.Expand(seed, count, keyWidth)
	if err != nil {
		return fmt.Errorf("engine: expand key array: %w", err)
	}

	list := make([][]byte, count)
	for i := range list {
		list[i] = append([]byte(nil), keys[i*keyWidth:(i+1)*keyWidth]...)
	}
	e.mu.Lock()
	e.keyArrays[s.Peer().ID] = list
	e.mu.Unlock()

	body := control.SetKeyArrayBody{Flags: control.FlagNone, ArraySize: uint32(count), Keys: keys}
	return e.sendControl(s, control.SetKeyArray, body.Marshal())
}

// resolveKeyArrayIndex resolves a SET_KEY_ARRAY-delivered index into
// the raw key bytes a REPLACE_KEY body referenced it by (spec.md §4.7's
// SET_KEY_ARRAY / REPLACE_KEY pairing, §9 open-question #4). Engine
// holds this store because it is the one long-lived object per running
// endpoint that outlives any single control-message exchange; neither
// internal/control nor internal/session track cross-message state.
func (e *Engine) resolveKeyArrayIndex(id domain.PeerID, idx uint16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list, ok := e.keyArrays[id]
	if !ok || int(idx) >= len(list) {
		return nil, fmt.Errorf("engine: key-array index %d unknown for peer %d: %w", idx, id, perr.ErrBadControl)
	}
	return list[idx], nil
}

// --- internal/control.Handler: secondary-handled commands ---

func (e *Engine) HandleSetKeyArray(s *session.Session, b control.SetKeyArrayBody) error {
	keyWidth := s.Peer().KeyType.KeyBytes()
	list := make([][]byte, b.ArraySize)
	for i := range list {
		list[i] = append([]byte(nil), b.Keys[i*keyWidth:(i+1)*keyWidth]...)
	}
	e.mu.Lock()
	e.keyArrays[s.Peer().ID] = list
	e.mu.Unlock()
	e.logger.Info("key array installed", "peer", s.Peer().ID, "count", b.ArraySize)
	return e.sendControl(s, control.AckKeyArray, control.FlagsOnlyBody{Flags: control.FlagNone}.Marshal())
}

func (e *Engine) HandleReplaceKey(s *session.Session, b control.ReplaceKeyBody) error {
	dataKey, ctrlKey := b.DataKey, b.CtrlKey
	if b.Flags&control.FlagDataIsIndex != 0 {
		k, err := e.resolveKeyArrayIndex(s.Peer().ID, b.DataIndex)
		if err != nil {
			return err
		}
		dataKey = k
	}
	if b.Flags&control.FlagCtlIsIndex != 0 {
		k, err := e.resolveKeyArrayIndex(s.Peer().ID, b.CtrlIndex)
		if err != nil {
			return err
		}
		ctrlKey = k
	}

	ticket, staged, err := rekey.BeginFromReplaceKey(s, control.ReplaceKeyBody{DataKey: dataKey, CtrlKey: ctrlKey})
	if err != nil {
		return fmt.Errorf("engine: begin rekey from replace-key: %w", err)
	}
	newKeys, err := keyarray.DeriveSlotKeys(staged.DataKey, staged.CtrlKey, domain.RoleSecondary, s.Peer().KeyType.KeyBytes())
	if err != nil {
		s.AbortRekey(ticket)
		return fmt.Errorf("engine: derive replace-key keys: %w", err)
	}

	ack := rekey.BuildRekeyAck(s)
	if err := rekey.CommitFromAck(s, ticket, ack, newKeys); err != nil {
		return fmt.Errorf("engine: commit replace-key: %w", err)
	}
	return e.sendControl(s, control.Rekey, ack.Marshal())
}

func (e *Engine) HandleRekeyTest(s *session.Session, b control.RekeyTestBody) error {
	e.logger.Info("rekey test", "peer", s.Peer().ID, "bytes", len(b.TestBytes))
	return nil
}

func (e *Engine) HandleHeartbeatQuery(s *session.Session, b control.HeartbeatBody) error {
	resp := control.HeartbeatBody{Timestamp: b.Timestamp, Sequence: b.Sequence}
	return e.sendControl(s, control.HeartbeatAnswer, resp.Marshal())
}

func (e *Engine) HandleStatusReq(s *session.Session, b control.StatusBody) error {
	resp := control.StatusBody{Flags: control.FlagNone, Num: b.Num}
	return e.sendControl(s, control.StatusResp, resp.Marshal())
}

func (e *Engine) HandleUpdateInfo(s *session.Session, b control.UpdateInfoBody) error {
	e.logger.Info("update info received", "peer", s.Peer().ID, "bytes", len(b.Info))
	return e.sendControl(s, control.AckUpdate, control.FlagsOnlyBody{Flags: control.FlagNone}.Marshal())
}

func (e *Engine) HandleShutdown(s *session.Session, b control.FlagsOnlyBody) error {
	e.logger.Info("shutdown requested", "peer", s.Peer().ID)
	return e.sendControl(s, control.AckShutdown, control.FlagsOnlyBody{Flags: control.FlagNone}.Marshal())
}

// --- internal/control.Handler: primary-handled commands ---

func (e *Engine) HandleAckKeyArray(s *session.Session, b control.FlagsOnlyBody) error {
	e.logger.Info("key array acked", "peer", s.Peer().ID)
	return nil
}

func (e *Engine) HandleRekeyAck(s *session.Session, b control.RekeyBody) error {
	e.mu.Lock()
	body, ok := e.pendingRekeys[s.Peer().ID]
	delete(e.pendingRekeys, s.Peer().ID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: rekey ack with no pending replace-key for peer %d: %w", s.Peer().ID, perr.ErrBadControl)
	}

	ticket := session.RekeyTicket{}
	if b.Flags&control.FlagRKERR != 0 {
		return rekey.AbortOnError(s, ticket)
	}
	newKeys, err := keyarray.DeriveSlotKeys(body.DataKey, body.CtrlKey, domain.RolePrimary, s.Peer().KeyType.KeyBytes())
	if err != nil {
		return fmt.Errorf("engine: derive rekey-ack keys: %w", err)
	}
	return rekey.CommitFromAck(s, ticket, b, newKeys)
}

func (e *Engine) HandleHeartbeatAnswer(s *session.Session, b control.HeartbeatBody) error {
	e.logger.Info("heartbeat answer", "peer", s.Peer().ID, "sequence", b.Sequence)
	return nil
}

func (e *Engine) HandleStatusResp(s *session.Session, b control.StatusBody) error {
	e.logger.Info("status response", "peer", s.Peer().ID, "num", b.Num)
	return nil
}

func (e *Engine) HandleAckUpdate(s *session.Session, b control.FlagsOnlyBody) error {
	e.logger.Info("update info acked", "peer", s.Peer().ID)
	return nil
}

func (e *Engine) HandleAckShutdown(s *session.Session, b control.FlagsOnlyBody) error {
	e.logger.Info("shutdown acked", "peer", s.Peer().ID)
	return nil
}
