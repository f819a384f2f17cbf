// Package fingerprint computes content fingerprints for deduplication and
// locking. A fingerprint is the hex-encoded SHA-256 of the full content:
// identical bytes always produce identical fingerprints, which makes the
// fingerprint usable as a single-flight token across concurrent uploads.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint is a hex-encoded SHA-256 digest of file content.
type Fingerprint string

// HexLength is the length of a hex-encoded SHA-256 fingerprint.
const HexLength = sha256.Size * 2

// String returns the fingerprint as a string.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a truncated form for log output.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Valid reports whether the fingerprint is a well-formed hex SHA-256 digest.
func (f Fingerprint) Valid() bool {
	if len(f) != HexLength {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// FromReader streams content through SHA-256 and returns its fingerprint
// together with the number of bytes read. The content is never buffered in
// memory, so arbitrarily large inputs are safe.
func FromReader(r io.Reader) (Fingerprint, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash content: %w", err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), n, nil
}

// FromBytes returns the fingerprint of an in-memory byte slice.
func FromBytes(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// FromFile streams a file from disk and returns its fingerprint and size.
func FromFile(path string) (Fingerprint, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return FromReader(f)
}

// Tee wraps r so that all bytes read through the returned reader are also
// fed into the digest. Call Sum after the reader is fully consumed.
//
// This is used by the orchestrator to fingerprint content while it is being
// spooled, avoiding a second pass over large inputs.
type Tee struct {
	r io.Reader
	h io.Writer
	n int64

	digest interface {
		Sum(b []byte) []byte
	}
}

// NewTee creates a fingerprinting tee over r.
func NewTee(r io.Reader) *Tee {
	h := sha256.New()
	return &Tee{r: io.TeeReader(r, h), h: h, digest: h}
}

// Read implements io.Reader.
func (t *Tee) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += int64(n)
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (t *Tee) BytesRead() int64 {
	return t.n
}

// Sum returns the fingerprint of everything read so far.
func (t *Tee) Sum() Fingerprint {
	return Fingerprint(hex.EncodeToString(t.digest.Sum(nil)))
}
