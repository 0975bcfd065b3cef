// Package canonicalize produces the deterministic content hashes the audit
// log's hash chain relies on. It wires github.com/gowebpki/jcs (RFC 8785
// JSON Canonicalization Scheme) rather than hand-rolling a canonicalizer,
// so two structurally-equal payloads always hash identically regardless of
// field order at the call site.
package canonicalize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON canonicalizes v (any JSON-marshalable value) per RFC 8785.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return canon, nil
}

// Hash canonicalizes v and returns its SHA-256 hash prefixed "sha256:",
// the form the audit log stores in PreviousHash/EntryHash.
func Hash(v any) (string, error) {
	canon, err := JSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// HashBytes hashes raw bytes directly, for callers that already hold a
// canonical representation (e.g. chaining a previous entry's stored hash).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// MAC canonicalizes v and returns its HMAC-SHA256 tag under key, prefixed
// "hmac-sha256:". Unlike Hash, recomputing MAC's output requires key, so a
// chain built on it cannot be silently re-hashed by an attacker who can
// only read the log, not the root secret it was keyed with.
func MAC(key []byte, v any) (string, error) {
	canon, err := JSON(v)
	if err != nil {
		return "", err
	}
	return MACBytes(key, canon), nil
}

// MACBytes tags raw bytes directly, mirroring HashBytes.
func MACBytes(key, b []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(b)
	return "hmac-sha256:" + hex.EncodeToString(mac.Sum(nil))
}
