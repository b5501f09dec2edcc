package stats

import (
	"testing"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
)

func TestRegistry_CollectorIsCreatedOnFirstUse(t *testing.T) {
	r := NewRegistry(0, 0)
	c1 := r.Collector(domain.PeerID(7))
	c1.AddRXBytes(10)

	c2 := r.Collector(domain.PeerID(7))
	if c2.Snapshot().RXBytesTotal != 10 {
		t.Fatal("expected the same Collector instance to be returned for a repeated id")
	}
}

func TestRegistry_SnapshotUnknownPeerIsZero(t *testing.T) {
	r := NewRegistry(0, 0)
	snap := r.Snapshot(domain.PeerID(99))
	if snap.RXBytesTotal != 0 || snap.TXBytesTotal != 0 {
		t.Fatalf("expected zero snapshot for unknown peer, got %+v", snap)
	}
}

func TestRegistry_AllReturnsEveryTrackedPeer(t *testing.T) {
	r := NewRegistry(0, 0)
	r.Collector(domain.PeerID(1)).AddRXBytes(5)
	r.Collector(domain.PeerID(2)).AddTXBytes(9)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked peers, got %d", len(all))
	}
	if all[domain.PeerID(1)].RXBytesTotal != 5 {
		t.Fatalf("expected peer 1 RX=5, got %+v", all[domain.PeerID(1)])
	}
	if all[domain.PeerID(2)].TXBytesTotal != 9 {
		t.Fatalf("expected peer 2 TX=9, got %+v", all[domain.PeerID(2)])
	}
}
