// Package crypto provides the archive hashing and Ed25519 signature
// verification used by the registry install path, grounded on the
// trusted-key-table verifier pattern used elsewhere in this codebase's
// marketplace-shaped packages.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EqualDigest compares two hex digests case-insensitively.
func EqualDigest(a, b string) bool {
	return strings.EqualFold(a, b)
}

// KeyTable maps a keyId to a trusted Ed25519 public key.
type KeyTable struct {
	keys map[string]ed25519.PublicKey
}

// NewKeyTable builds a KeyTable from keyId -> base64-encoded 32-byte public key.
func NewKeyTable(base64Keys map[string]string) (*KeyTable, error) {
	kt := &KeyTable{keys: make(map[string]ed25519.PublicKey, len(base64Keys))}
	for keyID, b64 := range base64Keys {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("trusted key %q: invalid base64 encoding: %w", keyID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trusted key %q: must decode to %d bytes, got %d", keyID, ed25519.PublicKeySize, len(raw))
		}
		kt.keys[keyID] = ed25519.PublicKey(raw)
	}
	return kt, nil
}

// VerifySHA256 verifies an Ed25519 signature (base64) over the ASCII bytes
// of a hex sha256 digest, using the trusted key named by keyID.
func (kt *KeyTable) VerifySHA256(keyID, sha256Hex, signatureB64 string) error {
	pub, ok := kt.keys[keyID]
	if !ok {
		return fmt.Errorf("unknown signature key id: %s (expected trusted curated key)", keyID)
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature must decode to %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}

	if !ed25519.Verify(pub, []byte(sha256Hex), sig) {
		return fmt.Errorf("signature verification failed for key id %s", keyID)
	}
	return nil
}
