package audit

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo scopes the derived key to this package's one purpose, the same
// way pkg/governance/keyring.go's DeriveForTenant scopes its derived
// signing key to a tenant id via HKDF's info parameter.
const hkdfInfo = "chainguard-audit-hmac-v1"

// DeriveHMACKey derives a 32-byte HMAC-SHA256 key from rootSecret via
// HKDF-SHA256. rootSecret should be an operator-held value never written to
// the audit log itself; NewKeyedLog uses this to key the hash chain so
// tampering requires the secret, not just recomputing SHA-256.
func DeriveHMACKey(rootSecret []byte) ([]byte, error) {
	if len(rootSecret) == 0 {
		return nil, fmt.Errorf("audit: root secret must not be empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, rootSecret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("audit: deriving hmac key: %w", err)
	}
	return key, nil
}
