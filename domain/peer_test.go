package domain

import (
	"net/netip"
	"testing"
	"time"
)

func TestNewPeer_RejectsOversizeID(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.2")
	if _, err := NewPeer(1<<20, false, addr, 5653, KeyTypeAES256, false, time.Minute, 3*time.Minute); err == nil {
		t.Fatal("expected error for peer id exceeding 20-bit space")
	}
}

func TestNewPeer_RejectsAddressFamilyMismatch(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.2")
	if _, err := NewPeer(1, true, addr, 5653, KeyTypeAES256, false, time.Minute, 3*time.Minute); err == nil {
		t.Fatal("expected error for ipv4 address with ipv6=true")
	}
}

func TestPeer_AddSubnet_EnforcesMax(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.2")
	p, err := NewPeer(1, false, addr, 5653, KeyTypeAES128, false, time.Minute, 3*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < maxSubnetsPerPeer; i++ {
		prefix := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 1, byte(i), 0}), 24)
		s, subnetErr := NewSubnet(prefix)
		if subnetErr != nil {
			t.Fatalf("unexpected subnet error: %v", subnetErr)
		}
		if addErr := p.AddSubnet(s); addErr != nil {
			t.Fatalf("unexpected AddSubnet error at %d: %v", i, addErr)
		}
	}
	overflow, _ := NewSubnet(netip.MustParsePrefix("172.16.0.0/24"))
	if err := p.AddSubnet(overflow); err == nil {
		t.Fatal("expected error once subnet list is full")
	}
	if len(p.Subnets()) != maxSubnetsPerPeer {
		t.Fatalf("expected %d subnets, got %d", maxSubnetsPerPeer, len(p.Subnets()))
	}
}

func TestPeer_Activate_ActivatesAllSubnets(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.2")
	p, err := NewPeer(7, false, addr, 5653, KeyTypeAES128, false, time.Minute, 3*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s1, _ := NewSubnet(netip.MustParsePrefix("10.1.0.0/24"))
	s2, _ := NewSubnet(netip.MustParsePrefix("10.2.0.0/24"))
	_ = p.AddSubnet(s1)
	_ = p.AddSubnet(s2)

	if p.Active() {
		t.Fatal("expected peer inactive before Activate")
	}
	p.Activate()
	if !p.Active() || !s1.Active() || !s2.Active() {
		t.Fatal("expected peer and all subnets active after Activate")
	}
}

func TestKeyType_KeyBytes(t *testing.T) {
	if KeyTypeAES128.KeyBytes() != 16 {
		t.Errorf("expected AES-128 key bytes = 16, got %d", KeyTypeAES128.KeyBytes())
	}
	if KeyTypeAES256.KeyBytes() != 32 {
		t.Errorf("expected AES-256 key bytes = 32, got %d", KeyTypeAES256.KeyBytes())
	}
}
