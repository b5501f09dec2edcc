package obfuscate

import "fmt"

// Deobfuscate implements spec.md §4.5's inverse: it reads up to 8
// [index, len_hi, len_lo, data…] records until either 8 are read or the
// cursor reaches the end of obfuscated, then concatenates the blocks in
// index order.
//
// The returned buffer's length equals the sum of all declared block
// lengths, which — because the last block's declared length includes
// the pad region (spec.md §4.5 step 5) — is longer than the original
// plaintext. Callers that know the true length out-of-band (the control
// codec's aligned body size) slice it directly; callers reconstructing
// an inner IP packet read its total-length field and trim (spec.md
// §4.6 step 3's "read the inner IP total-length field... and set the
// packet length accordingly").
func Deobfuscate(obfuscated []byte) ([]byte, error) {
	type record struct {
		index  int
		offset int
		length int
	}

	var recs []record
	pos := 0
	for len(recs) < maxBlocks && pos < len(obfuscated) {
		if pos+3 > len(obfuscated) {
			return nil, fmt.Errorf("obfuscate: truncated block header at offset %d", pos)
		}
		idx := int(obfuscated[pos])
		length := int(obfuscated[pos+1])<<8 | int(obfuscated[pos+2])
		pos += 3
		if pos+length > len(obfuscated) {
			return nil, fmt.Errorf("obfuscate: block %d length %d exceeds buffer", idx, length)
		}
		recs = append(recs, record{index: idx, offset: pos, length: length})
		pos += length
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("obfuscate: no blocks found")
	}

	maxIdx := -1
	for _, r := range recs {
		if r.index > maxIdx {
			maxIdx = r.index
		}
	}
	b := maxIdx + 1
	blocks := make([][]byte, b)
	for _, r := range recs {
		if r.index < 0 || r.index >= b {
			return nil, fmt.Errorf("obfuscate: block index %d out of range", r.index)
		}
		if blocks[r.index] != nil {
			return nil, fmt.Errorf("obfuscate: duplicate block index %d", r.index)
		}
		blocks[r.index] = obfuscated[r.offset : r.offset+r.length]
	}

	total := 0
	for i, blk := range blocks {
		if blk == nil {
			return nil, fmt.Errorf("obfuscate: missing block index %d", i)
		}
		total += len(blk)
	}
	out := make([]byte, 0, total)
	for _, blk := range blocks {
		out = append(out, blk...)
	}
	return out, nil
}
