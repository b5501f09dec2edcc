package rekey

import (
	"net/netip"
	"testing"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/control"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/keyring"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
)

func testKeys(gen byte) cryptoctx.Keys {
	mk := func(b byte) []byte {
		k := make([]byte, 16)
		for i := range k {
			k[i] = b
		}
		return k
	}
	return cryptoctx.Keys{DataEnc: mk(gen + 1), DataDec: mk(gen + 2), CtlEnc: mk(gen + 3), CtlDec: mk(gen + 4)}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	peer, err := domain.NewPeer(1, false, netip.MustParseAddr("10.0.0.2"), 5653, domain.KeyTypeAES128, false, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := session.New(peer, netip.MustParseAddr("10.0.0.1"), testKeys(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestCurrentState_TracksSessionFlag(t *testing.T) {
	s := newTestSession(t)
	if CurrentState(s) != Idle {
		t.Fatal("expected Idle before any rekey begins")
	}
	if _, err := s.BeginRekey(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if CurrentState(s) != Rekeying {
		t.Fatal("expected Rekeying after BeginRekey")
	}
}

func TestPeriodicTriggerDue_FiresEvery64th(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 63; i++ {
		s.NextSSeq()
	}
	if !PeriodicTriggerDue(s) {
		t.Fatalf("expected trigger due at sseq=%d", s.PeekSSeq())
	}
}

func TestBuildReplaceKey_DrawsTwoKeysFromRing(t *testing.T) {
	ring := keyring.New(64)
	if err := ring.Put(make([]byte, 16)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ring.Put(make([]byte, 16)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := BuildReplaceKey(ring, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body.DataKey) != 16 || len(body.CtrlKey) != 16 {
		t.Fatalf("expected 16-byte keys, got data=%d ctrl=%d", len(body.DataKey), len(body.CtrlKey))
	}
}

func TestBuildReplaceKey_NoKeyErrorWhenRingEmpty(t *testing.T) {
	ring := keyring.New(64)
	if _, err := BuildReplaceKey(ring, 16); err == nil {
		t.Fatal("expected error when ring has no keys")
	}
}

func TestCommitFromAck_RotatesOnCleanAck(t *testing.T) {
	s := newTestSession(t)
	ticket, err := s.BeginRekey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ack := control.RekeyBody{Flags: 0, FirstSeq: 500}
	if err := CommitFromAck(s, ticket, ack, testKeys(16)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rID0, rID1 := s.RecvWindow()
	if rID0 != 0 || rID1 != 500 {
		t.Fatalf("expected rID0=0 rID1=500, got rID0=%d rID1=%d", rID0, rID1)
	}
	if s.Rekeying() {
		t.Fatal("expected REKEY cleared")
	}
}

func TestCommitFromAck_AbortsOnErrorBitWithoutRotating(t *testing.T) {
	s := newTestSession(t)
	ticket, err := s.BeginRekey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ack := control.RekeyBody{Flags: control.FlagRKERR, FirstSeq: 999}
	if err := CommitFromAck(s, ticket, ack, testKeys(16)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rID0, rID1 := s.RecvWindow()
	if rID0 != 0 || rID1 != 0 {
		t.Fatalf("expected window unchanged on error ack, got rID0=%d rID1=%d", rID0, rID1)
	}
	if s.Rekeying() {
		t.Fatal("expected REKEY cleared despite error")
	}
}

func TestBuildRekeyAck_BoundaryIsNonZero(t *testing.T) {
	s := newTestSession(t)
	s.NextSSeq() // advance off the initial 1 to something concrete
	ack := BuildRekeyAck(s)
	if ack.FirstSeq == 0 {
		t.Fatal("rekey ack boundary must never be zero")
	}
}
