package ipheader

import "testing"

func TestInsertMSSOption_InsertsAtTCPHeaderEnd(t *testing.T) {
	const tcpOffset = 20 // non-zero IHL, the common real-packet case
	payload := []byte("HELLO")

	ipHdr := buildIPv4Header([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 6, tcpOffset+20+len(payload))
	tcp := make([]byte, 20)
	tcp[12] = 5 << 4 // data offset = 20 bytes, no options
	tcp[13] = tcpFlagSYN

	packet := append(append([]byte{}, ipHdr...), tcp...)
	packet = append(packet, payload...)
	packet = append(packet, make([]byte, 4)...) // spare capacity InsertMSSOption requires
	packet = packet[:len(packet)-4]

	out, err := InsertMSSOption(packet, tcpOffset, 1500, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantLen := tcpOffset + 20 + 4 + len(payload)
	if len(out) != wantLen {
		t.Fatalf("got total length %d, want %d", len(out), wantLen)
	}

	insertAt := tcpOffset + 20
	if out[insertAt] != tcpOptMSS {
		t.Fatalf("option kind at %d = %d, want %d (insertion point must be at the TCP header's end within the packet, not the bare TCP header length)", insertAt, out[insertAt], tcpOptMSS)
	}
	if out[insertAt+1] != 4 {
		t.Fatalf("option length = %d, want 4", out[insertAt+1])
	}

	gotDataOffset := int(out[tcpOffset+12]>>4) * 4
	if gotDataOffset != 24 {
		t.Fatalf("new TCP data offset = %d, want 24", gotDataOffset)
	}

	gotPayload := out[insertAt+4:]
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload after insertion = %q, want %q (must be shifted, not overwritten)", gotPayload, payload)
	}

	// The IP header itself, ahead of tcpOffset, must be untouched apart
	// from the total-length and checksum fields InsertMSSOption patches.
	if out[0] != 0x45 {
		t.Fatalf("IP version/IHL byte corrupted: %#x", out[0])
	}
	gotTotalLen := int(out[2])<<8 | int(out[3])
	if gotTotalLen != len(out) {
		t.Fatalf("IPv4 total length field = %d, want %d", gotTotalLen, len(out))
	}
}

func TestInsertMSSOption_ClampsMSSToCeiling(t *testing.T) {
	const tcpOffset = 20
	ipHdr := buildIPv4Header([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 6, tcpOffset+20)
	tcp := make([]byte, 20)
	tcp[12] = 5 << 4
	tcp[13] = tcpFlagSYN
	packet := append(append([]byte{}, ipHdr...), tcp...)
	packet = append(packet, make([]byte, 4)...)
	packet = packet[:len(packet)-4]

	out, err := InsertMSSOption(packet, tcpOffset, 9000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	insertAt := tcpOffset + 20
	gotMSS := int(out[insertAt+2])<<8 | int(out[insertAt+3])
	if gotMSS != MSSClampV4 {
		t.Fatalf("got MSS %d, want clamp ceiling %d", gotMSS, MSSClampV4)
	}
}
