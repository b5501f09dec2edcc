package control

import (
	"encoding/binary"
	"fmt"

	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
)

// Flag bits shared across the simple flags-only bodies. spec.md §4.7
// does not assign concrete bit values; these are this implementation's
// choice, held stable across both endpoints since only one binary
// implements both roles.
const (
	FlagNone = 0
	// FlagRKERR marks a REKEY acknowledgement as an error response
	// (spec.md §4.8: "REKEY with any error bit set").
	FlagRKERR = 0x01
)

// FlagsOnlyBody covers ACK_KEY_ARRAY, ACK_UPDATE, SHUTDOWN, and
// ACK_SHUTDOWN: a single flags byte and nothing else.
type FlagsOnlyBody struct {
	Flags uint8
}

func (b FlagsOnlyBody) Marshal() []byte { return []byte{b.Flags} }

func DecodeFlagsOnly(body []byte) (FlagsOnlyBody, error) {
	if len(body) != 1 {
		return FlagsOnlyBody{}, fmt.Errorf("control: flags-only body must be 1 byte, got %d: %w", len(body), perr.ErrBadControl)
	}
	return FlagsOnlyBody{Flags: body[0]}, nil
}

// SetKeyArrayBody is SET_KEY_ARRAY's body: 1 flags, 3-byte array size,
// N fixed-width keys.
type SetKeyArrayBody struct {
	Flags     uint8
	ArraySize uint32 // fits in 3 bytes per spec.md §4.7
	Keys      []byte // ArraySize * keyWidth bytes, concatenated
}

func (b SetKeyArrayBody) Marshal() []byte {
	out := make([]byte, 4+len(b.Keys))
	out[0] = b.Flags
	out[1] = byte(b.ArraySize >> 16)
	out[2] = byte(b.ArraySize >> 8)
	out[3] = byte(b.ArraySize)
	copy(out[4:], b.Keys)
	return out
}

func DecodeSetKeyArray(body []byte, keyWidth int) (SetKeyArrayBody, error) {
	if len(body) < 4 {
		return SetKeyArrayBody{}, fmt.Errorf("control: SET_KEY_ARRAY body too short: %w", perr.ErrBadControl)
	}
	size := uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	want := int(size) * keyWidth
	if len(body)-4 != want {
		return SetKeyArrayBody{}, fmt.Errorf("control: SET_KEY_ARRAY key bytes %d != expected %d: %w", len(body)-4, want, perr.ErrBadControl)
	}
	return SetKeyArrayBody{Flags: body[0], ArraySize: size, Keys: body[4:]}, nil
}

// ReplaceKeyBody is REPLACE_KEY's body: 1 flags, then a data field and
// a control field, each either a raw key or a 2-byte index into a
// previously-installed key array, selected by FlagDataIsIndex /
// FlagCtlIsIndex.
const (
	FlagDataIsIndex = 0x01
	FlagCtlIsIndex  = 0x02
)

type ReplaceKeyBody struct {
	Flags      uint8
	DataKey    []byte // set when FlagDataIsIndex is clear
	DataIndex  uint16 // set when FlagDataIsIndex is set
	CtrlKey    []byte // set when FlagCtlIsIndex is clear
	CtrlIndex  uint16 // set when FlagCtlIsIndex is set
}

func (b ReplaceKeyBody) Marshal() []byte {
	out := []byte{b.Flags}
	if b.Flags&FlagDataIsIndex != 0 {
		out = append(out, byte(b.DataIndex>>8), byte(b.DataIndex))
	} else {
		out = append(out, b.DataKey...)
	}
	if b.Flags&FlagCtlIsIndex != 0 {
		out = append(out, byte(b.CtrlIndex>>8), byte(b.CtrlIndex))
	} else {
		out = append(out, b.CtrlKey...)
	}
	return out
}

// DecodeReplaceKey parses a REPLACE_KEY body. keyWidth is the raw AES
// key size for this peer's key type; listSize is the configured
// key-array size used to bounds-check an index field.
//
// Reproduces spec.md §9 open-question #4 verbatim: the original
// p3CMSG_REPLACE_KEY bounds-checks the *control* index against the
// *data* list-size limit rather than its own — "likely a bug" per the
// spec, documented and intentionally carried forward here rather than
// silently corrected. See DESIGN.md.
func DecodeReplaceKey(body []byte, keyWidth int, dataListSize, ctrlListSize int) (ReplaceKeyBody, error) {
	if len(body) < 1 {
		return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY body empty: %w", perr.ErrBadControl)
	}
	b := ReplaceKeyBody{Flags: body[0]}
	pos := 1

	if b.Flags&FlagDataIsIndex != 0 {
		if pos+2 > len(body) {
			return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY truncated data index: %w", perr.ErrBadControl)
		}
		b.DataIndex = binary.BigEndian.Uint16(body[pos : pos+2])
		pos += 2
		if int(b.DataIndex) >= dataListSize {
			return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY data index %d out of range: %w", b.DataIndex, perr.ErrBadControl)
		}
	} else {
		if pos+keyWidth > len(body) {
			return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY truncated data key: %w", perr.ErrBadControl)
		}
		b.DataKey = body[pos : pos+keyWidth]
		pos += keyWidth
	}

	if b.Flags&FlagCtlIsIndex != 0 {
		if pos+2 > len(body) {
			return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY truncated control index: %w", perr.ErrBadControl)
		}
		b.CtrlIndex = binary.BigEndian.Uint16(body[pos : pos+2])
		pos += 2
		// Bug-for-bug with the original: bounds-check the control index
		// against dataListSize, not ctrlListSize.
		if int(b.CtrlIndex) >= dataListSize {
			return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY control index %d out of range: %w", b.CtrlIndex, perr.ErrBadControl)
		}
		_ = ctrlListSize
	} else {
		if pos+keyWidth > len(body) {
			return ReplaceKeyBody{}, fmt.Errorf("control: REPLACE_KEY truncated control key: %w", perr.ErrBadControl)
		}
		b.CtrlKey = body[pos : pos+keyWidth]
		pos += keyWidth
	}

	return b, nil
}

// RekeyBody is REKEY's body (the rekey acknowledgement): 1 flags, 4
// big-endian bytes carrying the first sequence number to use the new
// key, per spec.md §4.8: "the responder's sseq+1 (skipping zero on
// wrap) as the boundary." Note spec.md §9 open-question #1: the
// responder sends its own sseq, not the originator's, as this
// boundary — implemented as specified, not second-guessed.
type RekeyBody struct {
	Flags    uint8
	FirstSeq uint32
}

func (b RekeyBody) Marshal() []byte {
	out := make([]byte, 5)
	out[0] = b.Flags
	binary.BigEndian.PutUint32(out[1:5], b.FirstSeq)
	return out
}

func DecodeRekey(body []byte) (RekeyBody, error) {
	if len(body) != 5 {
		return RekeyBody{}, fmt.Errorf("control: REKEY body must be 5 bytes, got %d: %w", len(body), perr.ErrBadControl)
	}
	return RekeyBody{Flags: body[0], FirstSeq: binary.BigEndian.Uint32(body[1:5])}, nil
}

// RekeyTestBody is REKEY_TEST's body: 1 length, N test bytes.
type RekeyTestBody struct {
	TestBytes []byte
}

func (b RekeyTestBody) Marshal() []byte {
	out := make([]byte, 1+len(b.TestBytes))
	out[0] = byte(len(b.TestBytes))
	copy(out[1:], b.TestBytes)
	return out
}

func DecodeRekeyTest(body []byte) (RekeyTestBody, error) {
	if len(body) < 1 {
		return RekeyTestBody{}, fmt.Errorf("control: REKEY_TEST body empty: %w", perr.ErrBadControl)
	}
	n := int(body[0])
	if len(body)-1 != n {
		return RekeyTestBody{}, fmt.Errorf("control: REKEY_TEST declared length %d != actual %d: %w", n, len(body)-1, perr.ErrBadControl)
	}
	return RekeyTestBody{TestBytes: body[1:]}, nil
}

// HeartbeatBody is shared by HRTBEAT_QUERY and HRTBEAT_ANSWER: 4-byte
// timestamp-since-midnight, 4-byte sequence. spec.md §9 open-question
// #2 notes the original C source parses both fields from the same
// offset (a copy-paste bug); the body layout given in spec.md §4.7's
// table is already the corrected one and is what this type implements.
type HeartbeatBody struct {
	Timestamp uint32
	Sequence  uint32
}

func (b HeartbeatBody) Marshal() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], b.Timestamp)
	binary.BigEndian.PutUint32(out[4:8], b.Sequence)
	return out
}

func DecodeHeartbeat(body []byte) (HeartbeatBody, error) {
	if len(body) != 8 {
		return HeartbeatBody{}, fmt.Errorf("control: heartbeat body must be 8 bytes, got %d: %w", len(body), perr.ErrBadControl)
	}
	return HeartbeatBody{
		Timestamp: binary.BigEndian.Uint32(body[0:4]),
		Sequence:  binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// StatusBody is shared by STATUS_REQ and STATUS_RESP: 1 flags, 2-byte
// big-endian request/response number. spec.md §9 open-question #3
// notes the original declares a 2-byte field but assigns into it
// byte-by-byte inconsistently; spec.md §4.7's table fixes the layout
// at 2 bytes big-endian, implemented here directly.
type StatusBody struct {
	Flags uint8
	Num   uint16
}

func (b StatusBody) Marshal() []byte {
	out := make([]byte, 3)
	out[0] = b.Flags
	binary.BigEndian.PutUint16(out[1:3], b.Num)
	return out
}

func DecodeStatus(body []byte) (StatusBody, error) {
	if len(body) != 3 {
		return StatusBody{}, fmt.Errorf("control: status body must be 3 bytes, got %d: %w", len(body), perr.ErrBadControl)
	}
	return StatusBody{Flags: body[0], Num: binary.BigEndian.Uint16(body[1:3])}, nil
}

// UpdateInfoBody is UPDATE_INFO's body: 1 flags, 4-byte size, N body bytes.
type UpdateInfoBody struct {
	Flags uint8
	Info  []byte
}

func (b UpdateInfoBody) Marshal() []byte {
	out := make([]byte, 5+len(b.Info))
	out[0] = b.Flags
	binary.BigEndian.PutUint32(out[1:5], uint32(len(b.Info)))
	copy(out[5:], b.Info)
	return out
}

func DecodeUpdateInfo(body []byte) (UpdateInfoBody, error) {
	if len(body) < 5 {
		return UpdateInfoBody{}, fmt.Errorf("control: UPDATE_INFO body too short: %w", perr.ErrBadControl)
	}
	size := binary.BigEndian.Uint32(body[1:5])
	if len(body)-5 != int(size) {
		return UpdateInfoBody{}, fmt.Errorf("control: UPDATE_INFO declared size %d != actual %d: %w", size, len(body)-5, perr.ErrBadControl)
	}
	return UpdateInfoBody{Flags: body[0], Info: body[5:]}, nil
}
