package domain

import (
	"fmt"
	"net/netip"
)

// DeviceKind enumerates the OS-dependent device bindings a Subnet's flags
// track per spec.md §3 ("whether OS-dependent ... information has been
// populated"). Populating the device itself is external (application.NetUtils);
// the domain only remembers whether it happened.
type DeviceKind int

const (
	DeviceInbound DeviceKind = iota
	DeviceOutbound
	DeviceRaw
)

// Subnet is a network range owned by a peer. Network/mask (or prefix) are
// immutable after creation; the device-populated flags mutate as the OS
// collaborator reports them in.
type Subnet struct {
	Prefix netip.Prefix
	Peer   *Peer

	inboundSet  bool
	outboundSet bool
	rawSet      bool
	active      bool
}

// NewSubnet validates the "host bits of the network address are zero"
// invariant from spec.md §3 and §8 property 4, then constructs a Subnet.
func NewSubnet(prefix netip.Prefix) (*Subnet, error) {
	if !prefix.IsValid() {
		return nil, fmt.Errorf("invalid subnet prefix")
	}
	masked := prefix.Masked()
	if masked.Addr() != prefix.Addr() {
		return nil, fmt.Errorf("subnet %s: host bits of network address are not zero", prefix)
	}
	return &Subnet{Prefix: masked}, nil
}

// Contains reports whether addr falls within the subnet.
func (s *Subnet) Contains(addr netip.Addr) bool { return s.Prefix.Contains(addr) }

// MarkDevice records that the OS collaborator populated the named device
// binding for this subnet.
func (s *Subnet) MarkDevice(kind DeviceKind) {
	switch kind {
	case DeviceInbound:
		s.inboundSet = true
	case DeviceOutbound:
		s.outboundSet = true
	case DeviceRaw:
		s.rawSet = true
	}
}

// DeviceSet reports whether the named device binding has been populated.
func (s *Subnet) DeviceSet(kind DeviceKind) bool {
	switch kind {
	case DeviceInbound:
		return s.inboundSet
	case DeviceOutbound:
		return s.outboundSet
	case DeviceRaw:
		return s.rawSet
	default:
		return false
	}
}

// MarkActive activates the subnet (spec.md §8 scenario S6: bootstrap
// activates all of a peer's subnets).
func (s *Subnet) MarkActive() { s.active = true }

// Active reports whether the subnet has been activated.
func (s *Subnet) Active() bool { return s.active }
