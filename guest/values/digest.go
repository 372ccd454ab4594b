package values

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Digest pins the content of a guest artifact (WASM module or plugin binary).
type Digest struct {
	algorithm string // sha256, sha512
	value     string // lowercase hex
}

// DigestMismatchError reports an artifact whose content does not match its pin.
type DigestMismatchError struct {
	Expected Digest
	Actual   Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// NewDigest creates a digest from algorithm and hex value.
func NewDigest(algorithm, hexValue string) (Digest, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return Digest{}, err
	}
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid %s digest: %w", algorithm, err)
	}
	if len(raw) != h.Size() {
		return Digest{}, fmt.Errorf("invalid %s digest: want %d bytes, got %d", algorithm, h.Size(), len(raw))
	}
	return Digest{algorithm: algorithm, value: strings.ToLower(hexValue)}, nil
}

// ParseDigest parses a digest string (e.g., "sha256:abc123...").
func ParseDigest(s string) (Digest, error) {
	algorithm, value, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, fmt.Errorf("invalid digest format: %s", s)
	}
	return NewDigest(algorithm, value)
}

// ComputeDigest hashes everything read from r with the given algorithm.
func ComputeDigest(algorithm string, r io.Reader) (Digest, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return Digest{algorithm: algorithm, value: hex.EncodeToString(h.Sum(nil))}, nil
}

// String returns the canonical digest string.
func (d Digest) String() string {
	return d.algorithm + ":" + d.value
}

// Algorithm returns the hash algorithm.
func (d Digest) Algorithm() string {
	return d.algorithm
}

// Sum returns the raw hash bytes.
func (d Digest) Sum() []byte {
	raw, _ := hex.DecodeString(d.value)
	return raw
}

// NewHash returns a fresh hash for the digest's algorithm.
func (d Digest) NewHash() hash.Hash {
	h, _ := newHash(d.algorithm)
	return h
}

// IsZero reports whether d is unset.
func (d Digest) IsZero() bool {
	return d.algorithm == ""
}

// Equals checks equality with another digest.
func (d Digest) Equals(other Digest) bool {
	return d.algorithm == other.algorithm && d.value == other.value
}

// Verify hashes r and compares the result with d.
func (d Digest) Verify(r io.Reader) error {
	computed, err := ComputeDigest(d.algorithm, r)
	if err != nil {
		return err
	}
	if !d.Equals(computed) {
		return &DigestMismatchError{Expected: d, Actual: computed}
	}
	return nil
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", algorithm)
	}
}
