// Package keyarray derives the per-direction, per-slot AES keys C1
// and SET_KEY_ARRAY need from the raw key material the ring
// (internal/keyring), the initial config import, or a REPLACE_KEY
// control message supplies.
//
// Grounded on the teacher's infrastructure/cryptography/primitives
// DefaultKeyDeriver.DeriveKey, which wraps golang.org/x/crypto/hkdf
// over a shared secret, salt, and info label the same way: a thin
// HKDF-SHA256 constructor, not a reimplemented KDF.
package keyarray

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/cryptoctx"
)

// Direction labels feed HKDF's info parameter so the two endpoints
// derive complementary keys from the same raw material: whichever side
// is Primary uses primaryToSecondary as its encrypt label and
// secondaryToPrimary as its decrypt label; Secondary uses the reverse.
const (
	primaryToSecondary = "p3tunnel:A2B"
	secondaryToPrimary = "p3tunnel:B2A"
)

func directionLabels(role domain.Role) (encInfo, decInfo string) {
	if role == domain.RolePrimary {
		return primaryToSecondary, secondaryToPrimary
	}
	return secondaryToPrimary, primaryToSecondary
}

func derive(secret []byte, info string, width int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, width)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("keyarray: derive %q: %w", info, err)
	}
	return key, nil
}

// DeriveSlotKeys expands one shared dataKey and one shared ctlKey into
// the four directional keys cryptoctx.Keys needs, per role. Both
// endpoints call this with the identical dataKey/ctlKey bytes (the
// material a REPLACE_KEY or the initial config import carries)
// and the role swap alone makes the two sides' Enc/Dec keys agree.
func DeriveSlotKeys(dataKey, ctlKey []byte, role domain.Role, keyWidth int) (cryptoctx.Keys, error) {
	encInfo, decInfo := directionLabels(role)

	dataEnc, err := derive(dataKey, "data:"+encInfo, keyWidth)
	if err != nil {
		return cryptoctx.Keys{}, err
	}
	dataDec, err := derive(dataKey, "data:"+decInfo, keyWidth)
	if err != nil {
		return cryptoctx.Keys{}, err
	}
	ctlEnc, err := derive(ctlKey, "ctl:"+encInfo, keyWidth)
	if err != nil {
		return cryptoctx.Keys{}, err
	}
	ctlDec, err := derive(ctlKey, "ctl:"+decInfo, keyWidth)
	if err != nil {
		return cryptoctx.Keys{}, err
	}
	return cryptoctx.Keys{DataEnc: dataEnc, DataDec: dataDec, CtlEnc: ctlEnc, CtlDec: ctlDec}, nil
}

// Expand derives count independent keyWidth-byte keys from a single
// ring-delivered seed, for SET_KEY_ARRAY's body (spec.md §4.7): each
// index gets its own HKDF info label, so a precomputed key array stays
// independent per-slot even if the ring's seed material were ever
// correlated across calls.
func Expand(seed []byte, count, keyWidth int) ([]byte, error) {
	out := make([]byte, count*keyWidth)
	for i := 0; i < count; i++ {
		k, err := derive(seed, fmt.Sprintf("p3tunnel:array:%d", i), keyWidth)
		if err != nil {
			return nil, err
		}
		copy(out[i*keyWidth:], k)
	}
	return out, nil
}
