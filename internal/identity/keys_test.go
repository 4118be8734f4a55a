package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadKeyPairRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, SaveKeyPair(dir, "agent-1", kp))

	loaded, err := LoadKeyPair(dir, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, kp.Public, loaded.Public)
	assert.Equal(t, kp.Private, loaded.Private)
}

func TestLoadKeyPairMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	kp, err := LoadKeyPair(dir, "no-such-agent")
	require.NoError(t, err)
	assert.Nil(t, kp)
}

func TestExtractPublicKeyHexRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	der, err := publicKeyToPEM(kp)
	require.NoError(t, err)
	pubHex, err := ExtractPublicKeyHex(der)
	require.NoError(t, err)

	rebuilt, err := PublicKeyHexToPEM(pubHex)
	require.NoError(t, err)

	gotHex, err := ExtractPublicKeyHex(rebuilt)
	require.NoError(t, err)
	assert.Equal(t, pubHex, gotHex)
}

func TestFingerprintStable(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	der, err := publicKeyToPEM(kp)
	require.NoError(t, err)
	pubHex, err := ExtractPublicKeyHex(der)
	require.NoError(t, err)

	fp1, err := Fingerprint(pubHex)
	require.NoError(t, err)
	fp2, err := Fingerprint(pubHex)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.Contains(t, fp1, "SHA256:")
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	der, err := publicKeyToPEM(kp)
	require.NoError(t, err)
	pubHex, err := ExtractPublicKeyHex(der)
	require.NoError(t, err)

	data := []byte("hello mesh")
	sig := Sign(kp.Private, data)

	ok, err := Verify(pubHex, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	// Flipping a bit of the data invalidates the signature.
	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01
	ok, err = Verify(pubHex, tampered, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	// Flipping a bit of the signature invalidates it too.
	badSig := []byte(sig)
	badSig[0] ^= 0x01
	ok, err = Verify(pubHex, data, string(badSig))
	if err == nil {
		assert.False(t, ok)
	}
}

func TestExtractPublicKeyHexRejectsMalformedPEM(t *testing.T) {
	// A malformed PEM block (not a valid ASN.1 SPKI) must fail cleanly.
	_, err := ExtractPublicKeyHex([]byte("-----BEGIN PUBLIC KEY-----\nbm90YWtleQ==\n-----END PUBLIC KEY-----\n"))
	require.Error(t, err)
}
