package shared

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/minio/sha256-simd" // simd optimized sha256 computation
)

var ErrEmptyPayload = errors.New("empty payload")

// CanonicalJSON re-encodes a JSON document with object keys sorted,
// so that documents differing only in key order encode identically.
func CanonicalJSON(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decoding payload: trailing data")
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return out, nil
}

// ContentHash is the hex sha256 of the canonical form of a JSON payload.
func ContentHash(raw []byte) (string, error) {
	canonical, err := CanonicalJSON(raw)
	if err != nil {
		return "", err
	}
	return Digest(canonical), nil
}

// Digest is the hex sha256 of raw bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashTreeNode hashes two children of a merkle tree node.
func HashTreeNode(lChild, rChild []byte) []byte {
	hasher := sha256.New()
	hasher.Write(lChild)
	hasher.Write(rChild)
	return hasher.Sum(nil)
}
