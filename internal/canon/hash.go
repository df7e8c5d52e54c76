package canon

import (
	"strconv"
	"unicode/utf16"
)

// FNV-1a 32-bit parameters.
const (
	offset32 = 0x811c9dc5
	prime32  = 16777619
)

// Sum32 folds FNV-1a 32 over the UTF-16 code units of s.
//
// hash/fnv folds over bytes, which only agrees with a JavaScript peer for
// ASCII input; peers compare these sums without ever negotiating the
// algorithm, so the code-unit fold is part of the wire contract.
func Sum32(s string) uint32 {
	h := uint32(offset32)
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			h = (h ^ uint32(hi)) * prime32
			h = (h ^ uint32(lo)) * prime32
			continue
		}
		h = (h ^ uint32(r)) * prime32
	}
	return h
}

// Hash returns the fingerprint of v: Sum32 of Canonical(v) as unpadded
// lowercase hex.
func Hash(v any) string {
	return strconv.FormatUint(uint64(Sum32(Canonical(v))), 16)
}
