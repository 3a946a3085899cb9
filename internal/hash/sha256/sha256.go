// Package sha256 computes SHA-256 digests of artifact content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest is an io.Writer that hashes and counts everything written to it.
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest starts an empty digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write feeds p into the digest. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Size returns the number of bytes hashed so far.
func (d *Digest) Size() int64 {
	return d.n
}

// Hex returns the lowercase hex digest of the bytes written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Sum hashes data in one call and returns the hex digest.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
