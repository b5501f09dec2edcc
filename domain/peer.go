package domain

import (
	"fmt"
	"net/netip"
	"time"
)

// PeerID is the 20-bit identifier space spec.md §3 assigns to peers.
type PeerID uint32

const maxPeerID PeerID = 1<<20 - 1

// Valid reports whether id fits the 20-bit peer ID space.
func (id PeerID) Valid() bool { return id <= maxPeerID }

// KeyType selects the AES key size used for a peer's sessions.
type KeyType int

const (
	KeyTypeAES128 KeyType = iota
	KeyTypeAES256
)

// KeyBytes returns the AES key length in bytes for the key type.
func (k KeyType) KeyBytes() int {
	if k == KeyTypeAES256 {
		return 32
	}
	return 16
}

// Role distinguishes the two cooperating endpoint roles, selected at
// runtime rather than by build tag (see SPEC_FULL.md REDESIGN FLAGS).
// Each Engine runs as exactly one role; there is no combined
// Primary-and-Secondary value, and control dispatch rejects commands
// addressed to the other role.
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
)

func (r Role) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "secondary"
}

const maxSubnetsPerPeer = 15

// Peer is the remote endpoint of a tunnel. Address and subnet list are
// immutable after creation; everything else (session handle, active state)
// mutates over the peer's lifetime.
type Peer struct {
	ID       PeerID
	IPv6     bool
	Address  netip.Addr
	Port     uint16
	KeyType  KeyType
	KeyArray bool // whether precomputed key-arrays are permitted for this peer

	HeartbeatPeriod   time.Duration
	HeartbeatDeadline time.Duration

	subnets []*Subnet // immutable after creation; at most maxSubnetsPerPeer

	// session is set once by the config importer via BindSession and read
	// by the packet handler; it is never reassigned afterward.
	session Session

	// active records whether the bootstrap raw-socket handshake (spec.md
	// §4.6 step 4b, §6 "Bootstrap raw packet") has completed for this peer.
	active bool
}

// Session is the subset of internal/session.Session the domain package
// needs to reference without importing it (would create an import cycle:
// internal/session imports domain for Peer).
type Session interface {
	Peer() *Peer
}

// PeerConfig is the external, config-file-shaped description of a peer
// application.ConfigImporter.AddPeer consumes. Parsing the config file
// itself is out of scope (spec.md §1 Non-goals); PeerConfig is the
// already-parsed handoff shape.
type PeerConfig struct {
	ID                PeerID
	IPv6              bool
	Address           netip.Addr
	Port              uint16
	KeyType           KeyType
	KeyArray          bool
	HeartbeatPeriod   time.Duration
	HeartbeatDeadline time.Duration
}

// NewPeer validates and constructs a Peer. It does not touch subnets or
// session state — those are added via AddSubnet and BindSession.
func NewPeer(id PeerID, ipv6 bool, addr netip.Addr, port uint16, kt KeyType, keyArray bool, hbPeriod, hbDeadline time.Duration) (*Peer, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("peer id %d exceeds 20-bit space", id)
	}
	if !addr.IsValid() {
		return nil, fmt.Errorf("peer %d: invalid address", id)
	}
	if addr.Is4() == ipv6 {
		return nil, fmt.Errorf("peer %d: address family mismatch with ipv6=%v", id, ipv6)
	}
	return &Peer{
		ID:                id,
		IPv6:              ipv6,
		Address:           addr,
		Port:              port,
		KeyType:           kt,
		KeyArray:          keyArray,
		HeartbeatPeriod:   hbPeriod,
		HeartbeatDeadline: hbDeadline,
	}, nil
}

// AddSubnet appends a subnet to the peer's immutable-after-creation list.
// Fails once maxSubnetsPerPeer is reached.
func (p *Peer) AddSubnet(s *Subnet) error {
	if len(p.subnets) >= maxSubnetsPerPeer {
		return fmt.Errorf("peer %d: subnet list full (max %d)", p.ID, maxSubnetsPerPeer)
	}
	s.Peer = p
	p.subnets = append(p.subnets, s)
	return nil
}

// Subnets returns the peer's subnet list. Callers must not mutate the
// returned slice's backing array.
func (p *Peer) Subnets() []*Subnet { return p.subnets }

// BindSession attaches the session handle created for this peer at
// configuration-import time. Called at most once.
func (p *Peer) BindSession(s Session) { p.session = s }

// SessionHandle returns the peer's bound session, or nil if none yet.
func (p *Peer) SessionHandle() Session { return p.session }

// Active reports whether the peer's network is active (bootstrap done).
func (p *Peer) Active() bool { return p.active }

// Activate marks the peer (and transitively all its subnets, per spec.md
// §8 scenario S6) active after a bootstrap raw packet is received.
func (p *Peer) Activate() {
	p.active = true
	for _, s := range p.subnets {
		s.MarkActive()
	}
}
