// Package crypto derives audit/viewing keys for locked collateral. A viewing
// key lets an auditor inspect the funds behind one specific lock without
// granting spend authority or visibility into any other lock.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// viewingKeyInfo domain-separates viewing keys from any other key material
// derived from the same secret.
const viewingKeyInfo = "stablemint/viewing-key/v1"

// viewingKeyLen is the derived key length in bytes.
const viewingKeyLen = 32

// ViewingKeyDeriver derives per-lock viewing keys from a service-level secret.
type ViewingKeyDeriver struct {
	secret []byte
}

// NewViewingKeyDeriver creates a deriver from the configured secret. The
// secret must be non-empty; it is held in memory for the process lifetime.
func NewViewingKeyDeriver(secret string) (*ViewingKeyDeriver, error) {
	if secret == "" {
		return nil, fmt.Errorf("crypto: viewing key secret must not be empty")
	}
	return &ViewingKeyDeriver{secret: []byte(secret)}, nil
}

// Derive returns the hex-encoded viewing key scoped to the given lock. The
// same (positionID, lockRef) pair always derives the same key, so a lost key
// can be re-derived; distinct locks never share keys.
func (d *ViewingKeyDeriver) Derive(positionID, lockRef string) (string, error) {
	if positionID == "" || lockRef == "" {
		return "", fmt.Errorf("crypto: position id and lock ref are required")
	}

	salt := sha256.Sum256([]byte(positionID + ":" + lockRef))
	r := hkdf.New(sha256.New, d.secret, salt[:], []byte(viewingKeyInfo))

	key := make([]byte, viewingKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("crypto: derive viewing key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
