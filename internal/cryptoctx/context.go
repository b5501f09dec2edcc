// Package cryptoctx implements C1 (spec.md §4.1): the eight AES cipher
// states a session holds — {data,control} × {enc,dec} × {slot0,slot1} —
// and the rekey operation that rotates slot 1 into slot 0.
//
// crypto/aes is the AES primitive itself, called exactly the way the
// teacher's infrastructure/cryptography/primitives package calls
// golang.org/x/crypto/chacha20poly1305.New: a thin constructor, no
// reimplementation (spec.md §1 lists "the AES primitive itself" as an
// external collaborator).
package cryptoctx

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/BanjoFox/protected-point-to-point-sub001/infrastructure/cryptography/mem"
)

// Which selects one of the four addressable cipher states spec.md §4.1
// names: DATA0, DATA1, CTL0, CTL1. Encrypt always uses the enc block of
// the named slot; Decrypt always uses the dec block.
type Which int

const (
	DATA0 Which = iota
	DATA1
	CTL0
	CTL1
)

func (w Which) String() string {
	switch w {
	case DATA0:
		return "DATA0"
	case DATA1:
		return "DATA1"
	case CTL0:
		return "CTL0"
	case CTL1:
		return "CTL1"
	default:
		return "unknown"
	}
}

// Keys bundles the four raw key byte-slices a single slot installs:
// separate encrypt/decrypt keys, since Primary and Secondary use distinct
// send/receive key material (grounded on the teacher's EpochUdpCrypto,
// which likewise keeps separate sendCipher/recvCipher per generation).
type Keys struct {
	DataEnc, DataDec []byte
	CtlEnc, CtlDec   []byte
}

type slot struct {
	dataEnc, dataDec cipher.Block
	ctlEnc, ctlDec   cipher.Block
	ready            bool
}

// Context holds a session's eight AES states across two key-generations.
// It never mutates on Encrypt/Decrypt (spec.md §4.1 contract); only
// Rekey mutates, and only from the control-receive path while REKEY is
// set (spec.md §5), so no internal locking is needed here — the session
// lock already serializes the only caller that can race Rekey.
type Context struct {
	slots [2]slot
}

// New builds a Context with slot 1 populated from the given keys and slot
// 0 left uninitialized, per spec.md §4.1 "populates slot 1; slot 0
// remains uninitialized until first rekey".
func New(k Keys) (*Context, error) {
	s1, err := buildSlot(k)
	if err != nil {
		return nil, err
	}
	return &Context{slots: [2]slot{{}, s1}}, nil
}

// buildSlot constructs the four AES blocks for one slot, then zeroes
// the caller's raw key bytes — aes.NewCipher copies the key into the
// cipher.Block's expanded round-key schedule, so the original slice has
// no further reason to hold live key material (spec.md §4.1's rekey
// handoff is the one place raw keys pass through this package).
func buildSlot(k Keys) (slot, error) {
	dataEnc, err := aes.NewCipher(k.DataEnc)
	if err != nil {
		return slot{}, fmt.Errorf("data enc key: %w", err)
	}
	dataDec, err := aes.NewCipher(k.DataDec)
	if err != nil {
		return slot{}, fmt.Errorf("data dec key: %w", err)
	}
	ctlEnc, err := aes.NewCipher(k.CtlEnc)
	if err != nil {
		return slot{}, fmt.Errorf("control enc key: %w", err)
	}
	ctlDec, err := aes.NewCipher(k.CtlDec)
	if err != nil {
		return slot{}, fmt.Errorf("control dec key: %w", err)
	}
	mem.ZeroBytes(k.DataEnc)
	mem.ZeroBytes(k.DataDec)
	mem.ZeroBytes(k.CtlEnc)
	mem.ZeroBytes(k.CtlDec)
	return slot{dataEnc: dataEnc, dataDec: dataDec, ctlEnc: ctlEnc, ctlDec: ctlDec, ready: true}, nil
}

// Rekey atomically moves slot 1 → slot 0 for both data and control, then
// installs newKeys into slot 1 (spec.md §4.1's rekey operation). Callers
// (internal/rekey) invoke this only while the session's REKEY flag is set
// and only from the control-receive path (spec.md §5), so Rekey performs
// no locking of its own.
func (c *Context) Rekey(newKeys Keys) error {
	s1, err := buildSlot(newKeys)
	if err != nil {
		return err
	}
	c.slots[0] = c.slots[1]
	c.slots[1] = s1
	return nil
}

// Encrypt encrypts buf in place using the enc block of the named slot,
// keyed by seq. len(buf) must be a multiple of 16 (spec.md §3 invariant:
// "the encrypted region is always a multiple of 16").
func (c *Context) Encrypt(buf []byte, seq uint32, which Which) error {
	block, err := c.block(which, true)
	if err != nil {
		return err
	}
	return cryptBlocks(block, buf, seq)
}

// Decrypt decrypts buf in place using the dec block of the named slot.
func (c *Context) Decrypt(buf []byte, seq uint32, which Which) error {
	block, err := c.block(which, false)
	if err != nil {
		return err
	}
	return cryptBlocks(block, buf, seq)
}

func (c *Context) block(which Which, encrypt bool) (cipher.Block, error) {
	slotIdx, isCtl := 0, false
	switch which {
	case DATA0:
		slotIdx, isCtl = 0, false
	case DATA1:
		slotIdx, isCtl = 1, false
	case CTL0:
		slotIdx, isCtl = 0, true
	case CTL1:
		slotIdx, isCtl = 1, true
	default:
		return nil, fmt.Errorf("invalid slot selector %v", which)
	}
	s := &c.slots[slotIdx]
	if !s.ready {
		return nil, fmt.Errorf("slot %v not initialized", which)
	}
	switch {
	case isCtl && encrypt:
		return s.ctlEnc, nil
	case isCtl && !encrypt:
		return s.ctlDec, nil
	case !isCtl && encrypt:
		return s.dataEnc, nil
	default:
		return s.dataDec, nil
	}
}

// cryptBlocks runs AES-CTR over buf in place. The 16-byte IV derives from
// seq: the low 4 bytes carry seq big-endian, the remaining 12 bytes are
// zero. This is "implementation-defined but bit-stable between peers"
// per spec.md §4.1 — both endpoints compute the same IV from the same
// wire-carried sequence number.
func cryptBlocks(block cipher.Block, buf []byte, seq uint32) error {
	if len(buf)%aes.BlockSize != 0 {
		return fmt.Errorf("buffer length %d is not a multiple of %d", len(buf), aes.BlockSize)
	}
	var iv [aes.BlockSize]byte
	iv[12] = byte(seq >> 24)
	iv[13] = byte(seq >> 16)
	iv[14] = byte(seq >> 8)
	iv[15] = byte(seq)
	stream := cipher.NewCTR(block, iv[:])
	stream.XORKeyStream(buf, buf)
	return nil
}
