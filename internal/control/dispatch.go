package control

import (
	"fmt"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/perr"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
)

// secondaryHandled is the set of commands spec.md §4.7 describes as
// "handled by the Secondary side" — issued by Primary, received by
// Secondary.
var secondaryHandled = map[Command]bool{
	SetKeyArray:    true,
	ReplaceKey:     true,
	RekeyTest:      true,
	HeartbeatQuery: true,
	StatusReq:      true,
	UpdateInfo:     true,
	Shutdown:       true,
}

// primaryHandled is the complementary set: the acks/answers (plus the
// REKEY acknowledgement) issued by Secondary and received by Primary.
var primaryHandled = map[Command]bool{
	AckKeyArray:     true,
	Rekey:           true,
	HeartbeatAnswer: true,
	StatusResp:      true,
	AckUpdate:       true,
	AckShutdown:     true,
}

// ReceivableBy reports whether role is the side that should receive
// (handle) cmd, per spec.md §4.7's role asymmetry table.
func ReceivableBy(role domain.Role, cmd Command) bool {
	if role == domain.RoleSecondary {
		return secondaryHandled[cmd]
	}
	return primaryHandled[cmd]
}

// Handler receives decoded control bodies. Implementations generally
// compose a Secondary half (the seven secondaryHandled methods) and a
// Primary half (the six primaryHandled methods) behind one type, per
// SPEC_FULL.md's REDESIGN FLAGS note on replacing build-tag role
// variants with a runtime composite dispatcher.
type Handler interface {
	HandleSetKeyArray(s *session.Session, b SetKeyArrayBody) error
	HandleReplaceKey(s *session.Session, b ReplaceKeyBody) error
	HandleRekeyTest(s *session.Session, b RekeyTestBody) error
	HandleHeartbeatQuery(s *session.Session, b HeartbeatBody) error
	HandleStatusReq(s *session.Session, b StatusBody) error
	HandleUpdateInfo(s *session.Session, b UpdateInfoBody) error
	HandleShutdown(s *session.Session, b FlagsOnlyBody) error

	HandleAckKeyArray(s *session.Session, b FlagsOnlyBody) error
	HandleRekeyAck(s *session.Session, b RekeyBody) error
	HandleHeartbeatAnswer(s *session.Session, b HeartbeatBody) error
	HandleStatusResp(s *session.Session, b StatusBody) error
	HandleAckUpdate(s *session.Session, b FlagsOnlyBody) error
	HandleAckShutdown(s *session.Session, b FlagsOnlyBody) error
}

// KeyArrayLimits carries the per-peer key-array sizing Dispatch needs
// to bounds-check SET_KEY_ARRAY and REPLACE_KEY index fields.
type KeyArrayLimits struct {
	KeyWidth     int
	DataListSize int
	CtrlListSize int
}

// Dispatch decodes frame's body per its command and calls the matching
// Handler method, after confirming role is the side spec.md §4.7
// expects to receive it. A role mismatch or a decode failure is
// Protocol-BadControl (spec.md §7): the frame is dropped and, if sess's
// REKEY flag was set, it is cleared defensively so a malformed message
// can't leave the session stuck rekeying forever.
func Dispatch(role domain.Role, frame Frame, sess *session.Session, limits KeyArrayLimits, h Handler) error {
	if !ReceivableBy(role, frame.Cmd) {
		clearRekeyDefensively(sess)
		return fmt.Errorf("control: command %v not receivable by role %v: %w", frame.Cmd, role, perr.ErrBadControl)
	}

	var err error
	switch frame.Cmd {
	case SetKeyArray:
		var b SetKeyArrayBody
		if b, err = DecodeSetKeyArray(frame.Body, limits.KeyWidth); err == nil {
			err = h.HandleSetKeyArray(sess, b)
		}
	case ReplaceKey:
		var b ReplaceKeyBody
		if b, err = DecodeReplaceKey(frame.Body, limits.KeyWidth, limits.DataListSize, limits.CtrlListSize); err == nil {
			err = h.HandleReplaceKey(sess, b)
		}
	case RekeyTest:
		var b RekeyTestBody
		if b, err = DecodeRekeyTest(frame.Body); err == nil {
			err = h.HandleRekeyTest(sess, b)
		}
	case HeartbeatQuery:
		var b HeartbeatBody
		if b, err = DecodeHeartbeat(frame.Body); err == nil {
			err = h.HandleHeartbeatQuery(sess, b)
		}
	case StatusReq:
		var b StatusBody
		if b, err = DecodeStatus(frame.Body); err == nil {
			err = h.HandleStatusReq(sess, b)
		}
	case UpdateInfo:
		var b UpdateInfoBody
		if b, err = DecodeUpdateInfo(frame.Body); err == nil {
			err = h.HandleUpdateInfo(sess, b)
		}
	case Shutdown:
		var b FlagsOnlyBody
		if b, err = DecodeFlagsOnly(frame.Body); err == nil {
			err = h.HandleShutdown(sess, b)
		}
	case AckKeyArray:
		var b FlagsOnlyBody
		if b, err = DecodeFlagsOnly(frame.Body); err == nil {
			err = h.HandleAckKeyArray(sess, b)
		}
	case Rekey:
		var b RekeyBody
		if b, err = DecodeRekey(frame.Body); err == nil {
			err = h.HandleRekeyAck(sess, b)
		}
	case HeartbeatAnswer:
		var b HeartbeatBody
		if b, err = DecodeHeartbeat(frame.Body); err == nil {
			err = h.HandleHeartbeatAnswer(sess, b)
		}
	case StatusResp:
		var b StatusBody
		if b, err = DecodeStatus(frame.Body); err == nil {
			err = h.HandleStatusResp(sess, b)
		}
	case AckUpdate:
		var b FlagsOnlyBody
		if b, err = DecodeFlagsOnly(frame.Body); err == nil {
			err = h.HandleAckUpdate(sess, b)
		}
	case AckShutdown:
		var b FlagsOnlyBody
		if b, err = DecodeFlagsOnly(frame.Body); err == nil {
			err = h.HandleAckShutdown(sess, b)
		}
	default:
		err = fmt.Errorf("control: unknown command %d: %w", frame.Cmd, perr.ErrBadControl)
	}

	if err != nil {
		clearRekeyDefensively(sess)
	}
	return err
}

func clearRekeyDefensively(sess *session.Session) {
	sess.ClearRekeyDefensively()
}
