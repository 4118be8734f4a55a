package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// CanonicalString builds the string that is signed over an AMP envelope:
//
//	from|to|subject|priority|in_reply_to|base64(sha256(canonicalPayload))
//
// payloadHash is the sha256 digest of the canonical payload, provided by
// the caller (see protocol.CanonicalPayloadHash) so this package stays
// agnostic of the payload's concrete JSON shape.
func CanonicalString(from, to, subject, priority, inReplyTo string, payloadHash []byte) string {
	return strings.Join([]string{
		from, to, subject, priority, inReplyTo,
		base64.StdEncoding.EncodeToString(payloadHash),
	}, "|")
}

// Sign signs data with priv and returns the base64-encoded signature.
func Sign(priv ed25519.PrivateKey, data []byte) string {
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a base64 signature over data against a hex-encoded raw
// Ed25519 public key.
func Verify(pubHex string, data []byte, sigB64 string) (bool, error) {
	rawPub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, fmt.Errorf("decoding public key hex: %w", err)
	}
	if len(rawPub) != ed25519.PublicKeySize {
		return false, errNotEd25519
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(rawPub), data, sig), nil
}
