package session

import (
	"net/netip"
	"testing"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
)

func testKeys(gen byte) cryptoctx.Keys {
	mk := func(b byte) []byte {
		k := make([]byte, 16)
		for i := range k {
			k[i] = b
		}
		return k
	}
	return cryptoctx.Keys{
		DataEnc: mk(gen + 1),
		DataDec: mk(gen + 2),
		CtlEnc:  mk(gen + 3),
		CtlDec:  mk(gen + 4),
	}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	peer, err := domain.NewPeer(1, false, netip.MustParseAddr("10.0.0.2"), 5653, domain.KeyTypeAES128, false, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := New(peer, netip.MustParseAddr("10.0.0.1"), testKeys(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestNew_InitializesSSeqAndHeader(t *testing.T) {
	s := newTestSession(t)
	if got := s.PeekSSeq(); got != 1 {
		t.Fatalf("expected initial sseq 1, got %d", got)
	}
	h := s.HeaderTemplate()
	if len(h) != HeaderSizeV4 {
		t.Fatalf("expected header length %d, got %d", HeaderSizeV4, len(h))
	}
	if h[9] != protocolP3 {
		t.Fatalf("expected protocol byte %d, got %d", protocolP3, h[9])
	}
	if h[8] != ttl {
		t.Fatalf("expected ttl %d, got %d", ttl, h[8])
	}
}

func TestNextSSeq_IncrementsAndSkipsZeroOnWrap(t *testing.T) {
	s := newTestSession(t)
	s.sseq = 0xFFFFFFFF
	got := s.NextSSeq()
	if got != 0xFFFFFFFF {
		t.Fatalf("expected to return pre-wrap value, got %d", got)
	}
	if s.sseq != 1 {
		t.Fatalf("expected sseq to skip zero on wrap, landed on %d", s.sseq)
	}
}

func TestTryTakeSSeq_TakesSequenceWhenIdle(t *testing.T) {
	s := newTestSession(t)
	got, err := s.TryTakeSSeq()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected first sseq 1, got %d", got)
	}
	if s.sseq != 2 {
		t.Fatalf("expected sseq advanced to 2, got %d", s.sseq)
	}
}

func TestTryTakeSSeq_FailsWithoutAdvancingWhileRekeying(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.BeginRekey(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := s.sseq
	if _, err := s.TryTakeSSeq(); err != ErrRekeying {
		t.Fatalf("expected ErrRekeying, got %v", err)
	}
	if s.sseq != before {
		t.Fatalf("expected sseq unchanged while rekeying, got %d, want %d", s.sseq, before)
	}
}

func TestBeginRekey_FailsWhenAlreadyRekeying(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.BeginRekey(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.BeginRekey(); err != ErrAlreadyRekeying {
		t.Fatalf("expected ErrAlreadyRekeying, got %v", err)
	}
}

func TestCommitRekey_RotatesWindowAndClearsFlag(t *testing.T) {
	s := newTestSession(t)
	ticket, err := s.BeginRekey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CommitRekey(ticket, 500, testKeys(16)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rID0, rID1 := s.RecvWindow()
	if rID0 != 0 || rID1 != 500 {
		t.Fatalf("expected rID0=0 rID1=500, got rID0=%d rID1=%d", rID0, rID1)
	}
	if s.Rekeying() {
		t.Fatal("expected REKEY cleared after commit")
	}
}

func TestAbortRekey_ClearsFlagOnly(t *testing.T) {
	s := newTestSession(t)
	ticket, err := s.BeginRekey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.AbortRekey(ticket)
	if s.Rekeying() {
		t.Fatal("expected REKEY cleared after abort")
	}
	rID0, rID1 := s.RecvWindow()
	if rID0 != 0 || rID1 != 0 {
		t.Fatalf("abort must not touch the receive window, got rID0=%d rID1=%d", rID0, rID1)
	}
}

func TestInSlot1_WindowBoundaries(t *testing.T) {
	s := newTestSession(t)
	ticket, err := s.BeginRekey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CommitRekey(ticket, 1000, testKeys(16)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rID0=0, rID1=1000: slot1 if rID1<=s or s<rID0(=0, never true)
	if s.InSlot1(999) {
		t.Fatal("999 should be in slot 0")
	}
	if !s.InSlot1(1000) {
		t.Fatal("1000 should be in slot 1")
	}
}

func TestPeer_ReturnsBoundPeer(t *testing.T) {
	s := newTestSession(t)
	if s.Peer() == nil {
		t.Fatal("expected non-nil peer")
	}
}
