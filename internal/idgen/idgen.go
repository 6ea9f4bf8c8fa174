// Package idgen maps monotonic row ids to the short opaque hex refs used
// throughout the query language (the @ref and #_db/id literals). Unlike a
// straightforward hash-based ID, the mapping is reversible: given a ref, a
// Codec recovers the row id the store needs to look the item up, without
// a secondary index.
package idgen

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
)

// feistelRounds is the number of Feistel rounds in the round function
// chain. Four rounds is enough for this permutation to not leak the
// relative order of nearby row ids through their refs.
const feistelRounds = 4

// bitWidth is the width of the permutation space refs are drawn from,
// independent of how many rows actually exist.
const bitWidth = 48
const halfBits = bitWidth / 2
const halfMask = uint32(1)<<halfBits - 1

// Codec maps row ids to hex refs and back using a Feistel network keyed
// by a per-database salt, so two databases never reveal each other's
// row-id ordering through their refs.
type Codec struct {
	salt []byte
}

// NewCodec returns a Codec keyed by salt (the database's own random salt,
// generated once at creation and stored alongside the schema).
func NewCodec(salt []byte) *Codec {
	return &Codec{salt: append([]byte(nil), salt...)}
}

// Encode maps a row id to its opaque hex ref, zero-padded to at least
// six characters.
func (c *Codec) Encode(rowID uint64) string {
	return fmt.Sprintf("%06x", c.permute(rowID&(1<<bitWidth-1), false))
}

// Decode maps a hex ref back to its row id. ok is false if ref is not
// valid hex or falls outside the permutation space.
func (c *Codec) Decode(ref string) (rowID uint64, ok bool) {
	if ref == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(ref, 16, 64)
	if err != nil {
		return 0, false
	}
	if v >= 1<<bitWidth {
		return 0, false
	}
	return c.permute(v, true), true
}

// round derives the Feistel round function F(i, half) from the salt, the
// round index and the current half-block.
func (c *Codec) round(i int, half uint32) uint32 {
	h := sha256.New()
	h.Write(c.salt)
	h.Write([]byte{byte(i)})
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], half)
	h.Write(buf[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4]) & halfMask
}

// permute runs the Feistel network forward (inverse=false, id -> ref
// space) or backward (inverse=true, ref space -> id) over x's two
// halves.
func (c *Codec) permute(x uint64, inverse bool) uint64 {
	left := uint32(x>>halfBits) & halfMask
	right := uint32(x) & halfMask
	if !inverse {
		for i := 0; i < feistelRounds; i++ {
			left, right = right, left^c.round(i, right)
		}
	} else {
		for i := feistelRounds - 1; i >= 0; i-- {
			right, left = left, right^c.round(i, left)
		}
	}
	return uint64(left)<<halfBits | uint64(right)
}
