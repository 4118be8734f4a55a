package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeIDFormat(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	id, err := NewEnvelopeID(now)
	require.NoError(t, err)
	assert.Regexp(t, `^msg_1700000000000_[0-9a-z]{7}$`, id)
}

func TestNewEnvelopeIDUnique(t *testing.T) {
	now := time.Now()
	a, err := NewEnvelopeID(now)
	require.NoError(t, err)
	b, err := NewEnvelopeID(now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestThreadID(t *testing.T) {
	assert.Equal(t, "msg_1", ThreadID("msg_1", ""))
	assert.Equal(t, "msg_0", ThreadID("msg_1", "msg_0"))
}

func TestParseAddressNoScope(t *testing.T) {
	addr, err := ParseAddress("alice@acme.aimaestro.local")
	require.NoError(t, err)
	assert.Equal(t, Address{Name: "alice", Scope: "", Tenant: "acme", Provider: "aimaestro.local"}, addr)
}

func TestParseAddressWithScope(t *testing.T) {
	addr, err := ParseAddress("bob@team1.acme.aimaestro.local")
	require.NoError(t, err)
	assert.Equal(t, "team1", addr.Scope)
	assert.Equal(t, "acme", addr.Tenant)
	assert.Equal(t, "aimaestro.local", addr.Provider)
}

func TestParseAddressRoundTrip(t *testing.T) {
	raw := "carol@team1.sub.acme.aimaestro.local"
	addr, err := ParseAddress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, addr.String())
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"no-at-sign",
		"@missing-name.acme.local",
		"alice@single-label",
		"alice@",
		"alice@a..b",
	} {
		_, err := ParseAddress(raw)
		assert.ErrorIs(t, err, ErrInvalidAddress, "input: %q", raw)
	}
}

func TestProviderDomain(t *testing.T) {
	assert.Equal(t, "aimaestro.local", ProviderDomain(""))
	assert.Equal(t, "acme.aimaestro.local", ProviderDomain("acme"))
}

func TestBuildAddress(t *testing.T) {
	assert.Equal(t, "alice@acme.aimaestro.local", BuildAddress("alice", "", "acme", "acme.aimaestro.local"))
	assert.Equal(t, "alice@team1.acme.aimaestro.local", BuildAddress("alice", "team1", "acme", "acme.aimaestro.local"))
}

func TestValidAgentName(t *testing.T) {
	assert.True(t, ValidAgentName("alice"))
	assert.True(t, ValidAgentName("a1-b2"))
	assert.False(t, ValidAgentName("Alice"))
	assert.False(t, ValidAgentName("-alice"))
	assert.False(t, ValidAgentName(""))
}

func TestCanonicalPayloadHashDeterministic(t *testing.T) {
	p := Payload{
		Type:    PayloadNotification,
		Message: "hi",
		Context: map[string]any{"b": 2, "a": 1},
	}
	h1, err := CanonicalPayloadHash(p)
	require.NoError(t, err)
	h2, err := CanonicalPayloadHash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestCanonicalPayloadHashKeyOrderIndependent(t *testing.T) {
	p1 := Payload{Type: PayloadUpdate, Message: "m", Context: map[string]any{"a": 1, "b": 2}}
	p2 := Payload{Type: PayloadUpdate, Message: "m", Context: map[string]any{"b": 2, "a": 1}}

	h1, err := CanonicalPayloadHash(p1)
	require.NoError(t, err)
	h2, err := CanonicalPayloadHash(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
