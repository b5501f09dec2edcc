// Package perr defines the error taxonomy spec.md §7 describes: one
// sentinel per abstract error kind, wrapped with context at the call
// site via fmt.Errorf's %w rather than a bespoke error type hierarchy —
// the teacher's codebase does the same (plain sentinel vars, checked
// with errors.Is), never a custom Error() struct per failure mode.
package perr

import "errors"

var (
	// ErrNotActive corresponds to spec.md §7 Drop-NotActive: the peer's
	// network has not completed its bootstrap raw-packet handshake.
	ErrNotActive = errors.New("perr: peer network not active")

	// ErrRekeying corresponds to Drop-Rekeying: REKEY is set, so the
	// packet must be dropped rather than sent on a slot mid-rotation.
	ErrRekeying = errors.New("perr: session is rekeying")

	// ErrOverSize corresponds to Drop-OverSize: the computed outer
	// length exceeds the 1500-byte cap.
	ErrOverSize = errors.New("perr: outer length exceeds cap")

	// ErrDecryptFailure corresponds to Drop-DecryptFailure.
	ErrDecryptFailure = errors.New("perr: decrypt failure")

	// ErrDeobfuscateFailure corresponds to Drop-DeobfuscateFailure.
	ErrDeobfuscateFailure = errors.New("perr: deobfuscate failure")

	// ErrNoKey corresponds to Transient-NoKey: the key ring was empty
	// while building a rekey message. Not fatal; the rekey attempt is
	// abandoned and existing keys remain in use.
	ErrNoKey = errors.New("perr: key ring empty")

	// ErrAllocFailure corresponds to Fatal-AllocFailure.
	ErrAllocFailure = errors.New("perr: packet work buffer allocation failed")

	// ErrBadControl corresponds to Protocol-BadControl: unknown command,
	// bad length, or unsupported key type in a parsed control message.
	ErrBadControl = errors.New("perr: malformed control message")

	// ErrConfigInvalid corresponds to Config-Invalid: non-zero host
	// bits, duplicate route, or IP-version mismatch at import time.
	ErrConfigInvalid = errors.New("perr: invalid configuration")
)
