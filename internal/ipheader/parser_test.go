package ipheader

import (
	"net/netip"
	"testing"
)

func buildIPv4Header(src, dst [4]byte, protocol uint8, totalLen int) []byte {
	h := make([]byte, 20, 20+64)
	h[0] = 0x45
	h[2] = byte(totalLen >> 8)
	h[3] = byte(totalLen)
	h[8] = 64
	h[9] = protocol
	copy(h[12:16], src[:])
	copy(h[16:20], dst[:])
	SetIPv4HeaderChecksum(h)
	return h
}

func TestDestinationAddress_IPv4(t *testing.T) {
	h := buildIPv4Header([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, ProtocolP3, 20)
	addr, err := DestinationAddress(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := netip.MustParseAddr("10.0.0.2")
	if addr != want {
		t.Fatalf("got %v, want %v", addr, want)
	}
}

func TestOf_RejectsEmptyPacket(t *testing.T) {
	if v := Of(nil); v != Unknown {
		t.Fatalf("expected Unknown for empty packet, got %v", v)
	}
}

func TestFromByte(t *testing.T) {
	if v, err := FromByte(4); err != nil || v != V4 {
		t.Fatalf("FromByte(4) = %v, %v", v, err)
	}
	if v, err := FromByte(6); err != nil || v != V6 {
		t.Fatalf("FromByte(6) = %v, %v", v, err)
	}
	if _, err := FromByte(5); err == nil {
		t.Fatal("expected error for invalid version byte")
	}
}

func TestChecksum_SelfConsistent(t *testing.T) {
	h := buildIPv4Header([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 6, 40)
	if got := checksum(h); got != 0 {
		t.Fatalf("expected zero checksum over self-checksummed header, got %d", got)
	}
}

func TestClampMSS_ClampsOversizeValue(t *testing.T) {
	ipHdr := buildIPv4Header([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 6, 40)
	tcp := make([]byte, 20)
	tcp[12] = 6 << 4 // data offset = 24 bytes (20 + 4 opt)
	tcp[13] = tcpFlagSYN
	tcp = append(tcp, tcpOptMSS, 4, 0x05, 0xb4) // MSS = 1460
	packet := append(ipHdr, tcp...)

	clamped, err := ClampMSS(packet, 20, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !clamped {
		t.Fatal("expected MSS option to be found and clamped")
	}
	got := int(packet[20+20+2])<<8 | int(packet[20+20+3])
	if got != MSSClampV4 {
		t.Fatalf("expected clamped MSS %d, got %d", MSSClampV4, got)
	}
}

func TestClampMSS_NoOptionFound(t *testing.T) {
	ipHdr := buildIPv4Header([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 6, 40)
	tcp := make([]byte, 20)
	tcp[12] = 5 << 4
	tcp[13] = tcpFlagSYN
	packet := append(ipHdr, tcp...)

	clamped, err := ClampMSS(packet, 20, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clamped {
		t.Fatal("expected no MSS option to be found")
	}
}
