// Package rekey implements C8 (spec.md §4.8): the Idle/Rekeying state
// machine that initiates a rekey, builds the REPLACE_KEY message on the
// Primary side, processes the REKEY acknowledgement, and flips crypto
// slots. Grounded on the teacher's application/network/rekey controller
// and infrastructure/cryptography/chacha20/rekey state machine, which
// pair the same two states behind an atomic flag owned by the session.
package rekey

import (
	"fmt"

	"github.com/BanjoFox/protected-point-to-point-sub001/internal/control"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/keyring"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
)

// State mirrors spec.md §4.8's two named states. It exists for
// observability (telemetry, tests); the session's REKEY flag is the
// actual source of truth a concurrent caller must consult.
type State int

const (
	Idle State = iota
	Rekeying
)

func (st State) String() string {
	if st == Rekeying {
		return "rekeying"
	}
	return "idle"
}

// CurrentState derives the observable state from the session's REKEY
// flag; there is no separately-stored state field to fall out of sync.
func CurrentState(s *session.Session) State {
	if s.Rekeying() {
		return Rekeying
	}
	return Idle
}

// PeriodicTriggerDue reports whether the Idle→Rekeying periodic trigger
// fires for this session, per spec.md §4.6's "every 64 packets (when
// sseq & 0x3f == 0)" condition, checked on the primary side.
func PeriodicTriggerDue(s *session.Session) bool {
	return s.PeekSSeq()&0x3f == 0
}

// BeginFromPeriodicTrigger performs the Idle→Rekeying transition for
// the primary-side periodic case (spec.md §4.8 transition (a)). Returns
// ErrAlreadyRekeying (via session.ErrAlreadyRekeying) if a rekey is
// already in flight; callers must treat that as "skip this trigger."
func BeginFromPeriodicTrigger(s *session.Session) (session.RekeyTicket, error) {
	return s.BeginRekey()
}

// Staged carries the new key material extracted from the REPLACE_KEY
// body so CommitFromAck can install it once the session sends its own
// acknowledgement boundary.
type Staged struct {
	DataKey, CtrlKey []byte
}

// BeginFromReplaceKey performs the Idle→Rekeying transition for the
// secondary-side immediate case (spec.md §4.8 transition (b)): receipt
// of REPLACE_KEY.
func BeginFromReplaceKey(s *session.Session, body control.ReplaceKeyBody) (session.RekeyTicket, Staged, error) {
	ticket, err := s.BeginRekey()
	if err != nil {
		return session.RekeyTicket{}, Staged{}, err
	}
	return ticket, Staged{DataKey: body.DataKey, CtrlKey: body.CtrlKey}, nil
}

// BuildReplaceKey draws fresh data/control keys from the key supply
// ring and constructs the REPLACE_KEY body the Primary sends, per
// spec.md §4.8's periodic trigger path. If the ring is empty, this is
// spec.md §7's Transient-NoKey: the rekey attempt is abandoned and the
// caller must clear the REKEY flag it had just set (via AbortRekey)
// rather than propagate a fatal error.
func BuildReplaceKey(ring *keyring.Ring, keyWidth int) (control.ReplaceKeyBody, error) {
	dataKey := make([]byte, keyWidth)
	if err := ring.Take(dataKey); err != nil {
		return control.ReplaceKeyBody{}, fmt.Errorf("rekey: data key: %w", perr.ErrNoKey)
	}
	ctrlKey := make([]byte, keyWidth)
	if err := ring.Take(ctrlKey); err != nil {
		return control.ReplaceKeyBody{}, fmt.Errorf("rekey: control key: %w", perr.ErrNoKey)
	}
	return control.ReplaceKeyBody{DataKey: dataKey, CtrlKey: ctrlKey}, nil
}

// CommitFromAck performs the Rekeying→Idle transition on a clean REKEY
// acknowledgement (spec.md §4.8): rotates crypto slots via C1.rekey and
// moves the receive window forward to ack.FirstSeq.
func CommitFromAck(s *session.Session, ticket session.RekeyTicket, ack control.RekeyBody, newKeys cryptoctx.Keys) error {
	if ack.Flags&control.FlagRKERR != 0 {
		return AbortOnError(s, ticket)
	}
	return s.CommitRekey(ticket, ack.FirstSeq, newKeys)
}

// AbortOnError performs the Rekeying→Idle transition on a REKEY
// acknowledgement carrying an error bit (spec.md §4.8): REKEY clears,
// no keys rotate, rID0/rID1 are untouched.
func AbortOnError(s *session.Session, ticket session.RekeyTicket) error {
	s.AbortRekey(ticket)
	return nil
}

// BuildRekeyAck builds the acknowledgement a Secondary sends back after
// installing a REPLACE_KEY's new keys, per spec.md §4.8: "the
// responder's sseq+1 (skipping zero on wrap) as the boundary." The
// boundary is computed from the responder's own current sseq — see
// spec.md §9 open-question #1, implemented as documented rather than
// corrected.
func BuildRekeyAck(s *session.Session) control.RekeyBody {
	cur := s.PeekSSeq()
	boundary := cur + 1
	if boundary == 0 {
		boundary++
	}
	return control.RekeyBody{Flags: 0, FirstSeq: boundary}
}
