// Package routetable implements C3 (spec.md §4.3): one IPv4 and one IPv6
// longest-prefix-match table mapping destination subnets to sessions,
// plus a peer-address index. Grounded on the teacher's
// infrastructure/routing/server_routing peer/subnet repositories, which
// likewise hold a flat slice scanned linearly at small scale rather than
// a balanced tree (spec.md §4.3: "in the current scale, a linear search
// is acceptable").
package routetable

import (
	"fmt"
	"net/netip"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
)

// Decision is the result of a single Classify lookup pass, consumed by
// the packet handler (spec.md §4.6 step 1).
type Decision int

const (
	// Local means the destination belongs to the host itself: no peer
	// route claims it.
	Local Decision = iota
	// FromPeer means the source address matched a known peer; IsForwarded
	// reports whether the outer header carried the forwarded-link flag.
	FromPeer
	// ToPeer means the destination matched a route toward a peer;
	// IsHostDest reports whether the match was the peer's own address
	// rather than one of its advertised subnets.
	ToPeer
)

// route is a single (network, session) entry in a table.
type route struct {
	prefix  netip.Prefix
	session domain.Session
}

// ErrDuplicateRoute is returned by Add when an identical (network, mask)
// pair is already present (spec.md §4.3, a Config-Invalid case per §7).
var ErrDuplicateRoute = fmt.Errorf("routetable: duplicate route: %w", perr.ErrConfigInvalid)

// ErrFrozen is returned by Add once the table has been frozen.
var ErrFrozen = fmt.Errorf("routetable: frozen")

// Table holds the IPv4 and IPv6 longest-prefix-match route sets plus a
// peer-address index. Not safe for concurrent Add; Classify and Lookup
// are safe for concurrent readers once the table is frozen, per spec.md
// §5's "insertions happen before interception begins" rule — Freeze is
// this implementation's way of making that rule checkable rather than
// merely documented (an addition SPEC_FULL.md makes beyond spec.md).
type Table struct {
	v4        []route
	v6        []route
	peerIndex map[netip.Addr]domain.Session
	frozen    bool
}

// New builds an empty Table.
func New() *Table {
	return &Table{peerIndex: make(map[netip.Addr]domain.Session)}
}

// Freeze stops further Add calls. Classify and Lookup remain valid
// before and after; the table is a read-mostly structure whose writes
// all happen during peer/subnet configuration import.
func (t *Table) Freeze() { t.frozen = true }

// Add inserts a (network, session) route, enforcing the host-bits-zero
// invariant and rejecting exact duplicates.
func (t *Table) Add(prefix netip.Prefix, session domain.Session) error {
	if t.frozen {
		return ErrFrozen
	}
	if !prefix.IsValid() {
		return fmt.Errorf("routetable: invalid prefix %v: %w", prefix, perr.ErrConfigInvalid)
	}
	if prefix != prefix.Masked() {
		return fmt.Errorf("routetable: prefix %v has non-zero host bits: %w", prefix, perr.ErrConfigInvalid)
	}
	list := &t.v4
	if prefix.Addr().Is6() {
		list = &t.v6
	}
	for _, r := range *list {
		if r.prefix == prefix {
			return ErrDuplicateRoute
		}
	}
	*list = append(*list, route{prefix: prefix, session: session})
	return nil
}

// AddPeerAddress indexes a peer's own tunnel address, distinct from its
// advertised subnets, so Classify can tell ToPeer(isHostDest=true) apart
// from a subnet match.
func (t *Table) AddPeerAddress(addr netip.Addr, session domain.Session) error {
	if t.frozen {
		return ErrFrozen
	}
	if _, exists := t.peerIndex[addr]; exists {
		return ErrDuplicateRoute
	}
	t.peerIndex[addr] = session
	return nil
}

// Lookup performs the longest-prefix-match scan against dst, returning
// the session and whether the match is the peer's own address.
func (t *Table) Lookup(dst netip.Addr) (session domain.Session, isHostDest bool, ok bool) {
	if s, found := t.peerIndex[dst]; found {
		return s, true, true
	}
	list := &t.v4
	if dst.Is6() {
		list = &t.v6
	}
	var best route
	bestBits := -1
	for _, r := range *list {
		if r.prefix.Contains(dst) && r.prefix.Bits() > bestBits {
			best = r
			bestBits = r.prefix.Bits()
		}
	}
	if bestBits < 0 {
		return nil, false, false
	}
	return best.session, false, true
}

// PeerSession returns the session a source address is known as, used to
// detect FromPeer on ingress.
func (t *Table) PeerSession(src netip.Addr) (domain.Session, bool) {
	s, ok := t.peerIndex[src]
	return s, ok
}
