// Package mem holds the one memory-hygiene helper C1's key rotation
// needs: zeroing raw key bytes once they have been absorbed into an
// AES cipher.Block, so a session's old key material does not linger
// in the Go heap past rekey.
package mem

import "runtime"

// ZeroBytes overwrites b with zeros in place. runtime.KeepAlive pins b
// past the loop so the compiler cannot treat the writes as a dead
// store and elide them — without it, a zeroing loop with no further
// read of b is a legal optimization target.
//
// Go's GC may already have copied b's backing array by the time this
// runs; this is best-effort hygiene, not a guarantee against memory
// forensics.
func ZeroBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
