package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/errs"
)

func TestListAndAcknowledgePendingMessages(t *testing.T) {
	peers := &fakePeers{knownAddresses: map[string]string{}}
	r, hosts, agents := newTestRouter(t, peers)
	require.NoError(t, hosts.AddHost(hostsconfigTestHost()))

	sender, err := r.Register(context.Background(), RegisterRequest{Name: "sender", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	recipient, err := agents.Create(testOfflineAgent(), false)
	require.NoError(t, err)
	org, err := hosts.Organization()
	require.NoError(t, err)
	address := buildTestAddress(org.Organization, recipient.Name)
	_, err = agents.MarkAMPRegistered(recipient.ID, testIdentity(address), nil)
	require.NoError(t, err)

	caller := Caller{AgentID: sender.Agent.ID, Name: sender.Agent.Name}
	_, err = r.Route(context.Background(), caller, testRouteRequest(address))
	require.NoError(t, err)

	recipientCaller := Caller{AgentID: recipient.ID, Name: recipient.Name}
	pending, err := r.ListPendingMessages(recipientCaller, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, r.AcknowledgePendingMessage(recipientCaller, pending[0].ID))

	remaining, err := r.ListPendingMessages(recipientCaller, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestBatchAcknowledgeMessagesCapsAtLimit(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	caller := Caller{AgentID: "agent-1"}
	ids := make([]string, maxBatchAck+50)
	for i := range ids {
		ids[i] = "id"
	}
	// relay queue has nothing queued for agent-1, so this should be a no-op
	// that merely exercises the truncation path without erroring.
	err := r.BatchAcknowledgeMessages(caller, ids)
	require.NoError(t, err)
}

func TestRotateKeyRequiresExistingAgent(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	_, err := r.RotateKey(Caller{AgentID: "missing"})
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestRotateKeypairUpdatesFingerprint(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	reg, err := r.Register(context.Background(), RegisterRequest{Name: "rotator", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	caller := Caller{AgentID: reg.Agent.ID, Name: reg.Agent.Name}
	newIdentity, err := r.RotateKeypair(caller)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Agent.AMPIdentity.Fingerprint, newIdentity.Fingerprint)
	assert.Equal(t, reg.Agent.AMPIdentity.AMPAddress, newIdentity.AMPAddress)
}

func TestRevokeKeyInvalidatesToken(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	reg, err := r.Register(context.Background(), RegisterRequest{Name: "revoker", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	caller := Caller{AgentID: reg.Agent.ID, Name: reg.Agent.Name}
	require.NoError(t, r.RevokeKey(caller))

	_, err = r.Authenticate(reg.APIKey, "")
	require.Error(t, err)
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))
}

func TestResolveAgentAddressReturnsPublicKey(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	reg, err := r.Register(context.Background(), RegisterRequest{Name: "resolvee", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	resolved, err := r.ResolveAgentAddress(reg.Address)
	require.NoError(t, err)
	assert.Equal(t, reg.Agent.AMPIdentity.Fingerprint, resolved.Fingerprint)
	assert.Contains(t, resolved.PublicKeyPEM, "PUBLIC KEY")
}
