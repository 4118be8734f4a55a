package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalPayloadHash returns sha256(RFC 8785 canonical JSON of payload),
// the digest fed into identity.CanonicalString as the final pipe-delimited
// field of an envelope's signed string.
func CanonicalPayloadHash(payload Payload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}
