package controlsender

import (
	"net/netip"
	"testing"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
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

func TestBuild_ProducesBucketSizedOuterPacket(t *testing.T) {
	s := newTestSession(t)
	body := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	out, forwarded, err := Build(s, body, 0x1234)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forwarded {
		t.Fatal("expected CFWD false by default")
	}
	// headerLen (28) + smallest bucket admitting 28+16+16=60 bytes -> 176.
	wantLen := session.HeaderSizeV4 + 176
	if len(out) != wantLen {
		t.Fatalf("expected total length %d, got %d", wantLen, len(out))
	}
}

func TestBuild_PatchesIPv4TotalLenAndID(t *testing.T) {
	s := newTestSession(t)
	out, _, err := Build(s, []byte{0xAA}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotTotal := int(out[2])<<8 | int(out[3])
	if gotTotal != len(out) {
		t.Fatalf("expected total length field %d, got %d", len(out), gotTotal)
	}
	// A fresh session's first sequence number is 1.
	gotID := int(out[4])<<8 | int(out[5])
	if gotID != 1+seqDiff {
		t.Fatalf("expected ID field %#x, got %#x", 1+seqDiff, gotID)
	}
}

func TestBuild_IncrementsSessionSequence(t *testing.T) {
	s := newTestSession(t)
	before := s.PeekSSeq()
	if _, _, err := Build(s, []byte{0x01}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := s.PeekSSeq()
	if after != before+1 {
		t.Fatalf("expected sseq to advance by 1, got before=%d after=%d", before, after)
	}
}

func TestBuild_HonorsCFWDFlag(t *testing.T) {
	s := newTestSession(t)
	s.SetCFWD(true)
	_, forwarded, err := Build(s, []byte{0x01}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !forwarded {
		t.Fatal("expected Build to report CFWD forwarding when session.CFWD() is set")
	}
}

func TestBuild_RejectsOversizeBody(t *testing.T) {
	s := newTestSession(t)
	// Large enough that header+largest bucket (1440) cannot admit it,
	// forcing the next-16-multiple fallback past the 1500 cap.
	huge := make([]byte, 1500)
	if _, _, err := Build(s, huge, 4); err == nil {
		t.Fatal("expected error for oversize control body")
	}
}

func TestChooseRegionLen_PicksSmallestAdmittingBucket(t *testing.T) {
	if got := chooseRegionLen(44); got != 176 {
		t.Fatalf("expected bucket 176, got %d", got)
	}
	if got := chooseRegionLen(600); got != 640 {
		t.Fatalf("expected bucket 640, got %d", got)
	}
	if got := chooseRegionLen(1400); got != 1440 {
		t.Fatalf("expected bucket 1440, got %d", got)
	}
	if got := chooseRegionLen(1450); got%16 != 0 || got < 1450 {
		t.Fatalf("expected next-16-multiple fallback >= 1450, got %d", got)
	}
}
