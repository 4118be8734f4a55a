// Package identity manages per-agent Ed25519 keypairs: generation,
// on-disk persistence, and the fingerprint/address derivations the rest
// of the mesh core builds on.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"filippo.io/edwards25519"
)

// ed25519SPKIPrefixLen is the length of the ASN.1 SubjectPublicKeyInfo
// header that precedes the raw 32-byte Ed25519 point in a marshaled
// PKIX public key. crypto/x509.MarshalPKIXPublicKey always emits this
// fixed 12-byte prefix for Ed25519 keys.
const ed25519SPKIPrefixLen = 12

// KeyAlgorithm is the only algorithm this mesh core issues or accepts.
const KeyAlgorithm = "Ed25519"

// KeyPair is a generated or loaded Ed25519 identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair produces a fresh Ed25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// keyDir returns the directory holding an agent's key material.
func keyDir(dataDir, agentID string) string {
	return filepath.Join(dataDir, "agents", agentID, "keys")
}

// SaveKeyPair persists private.pem (0600) and public.pem (0644) under the
// agent's key directory, creating the directory if needed.
func SaveKeyPair(dataDir, agentID string, kp *KeyPair) error {
	dir := keyDir(dataDir, agentID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(filepath.Join(dir, "private.pem"), privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private.pem: %w", err)
	}

	pubPEM, err := publicKeyToPEM(kp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "public.pem"), pubPEM, 0o644); err != nil { //nolint:gosec // G306: public key, world-readable by design
		return fmt.Errorf("writing public.pem: %w", err)
	}

	return nil
}

// publicKeyToPEM marshals a keypair's public half to an SPKI PEM block.
func publicKeyToPEM(kp *KeyPair) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadKeyPair reads a previously persisted keypair. Returns (nil, nil) if
// no key material exists for the agent yet.
func LoadKeyPair(dataDir, agentID string) (*KeyPair, error) {
	dir := keyDir(dataDir, agentID)
	privPath := filepath.Join(dir, "private.pem")

	privPEM, err := os.ReadFile(privPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading private.pem: %w", err)
	}

	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("private.pem: %w", errInvalidPEM)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private.pem: %w", errNotEd25519)
	}

	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

var (
	errInvalidPEM = errors.New("invalid PEM block")
	errNotEd25519 = errors.New("key is not Ed25519")
)

// ExtractPublicKeyHex validates that pemBytes encodes an Ed25519 SPKI
// public key and returns the 32 raw key bytes as lowercase hex.
func ExtractPublicKeyHex(pemBytes []byte) (string, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return "", errInvalidPEM
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parsing public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return "", errNotEd25519
	}
	if err := validateCurvePoint(edPub); err != nil {
		return "", err
	}
	return hex.EncodeToString(edPub), nil
}

// validateCurvePoint rejects public keys that do not decode to a valid
// point on the Edwards curve. crypto/ed25519.Verify will happily operate
// on such bytes (it only checks signature math, not point validity up
// front), so a malformed or adversarially-crafted "public key" can slip
// through registration unless it is checked here explicitly.
func validateCurvePoint(pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("public key: %w", errNotEd25519)
	}
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return fmt.Errorf("public key is not a valid curve point: %w", err)
	}
	return nil
}

// PublicKeyHexToPEM rebuilds an SPKI PEM block from raw 32-byte hex, the
// inverse of ExtractPublicKeyHex.
func PublicKeyHexToPEM(pubHex string) ([]byte, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("decoding public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key: %w", errNotEd25519)
	}
	der, err := x509.MarshalPKIXPublicKey(ed25519.PublicKey(raw))
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Fingerprint computes "SHA256:" + base64(sha256(rawPubKeyBytes)) for a
// hex-encoded raw Ed25519 public key.
func Fingerprint(pubHex string) (string, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return "", fmt.Errorf("decoding public key hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "SHA256:" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// SPKIPrefixLen is exported for callers that need to strip the SPKI
// header manually (kept small and named for discoverability).
const SPKIPrefixLen = ed25519SPKIPrefixLen
