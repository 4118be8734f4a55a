package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/identity"
	"github.com/aimaestro/meshhost/internal/messages"
	"github.com/aimaestro/meshhost/internal/protocol"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/relay"
)

// fakePeers answers Discover/Forward from an in-memory map, so mesh tests
// don't need a real HTTP server.
type fakePeers struct {
	knownAddresses map[string]string // address -> peer id that has it
	delivered      []string
}

func (f *fakePeers) Discover(ctx context.Context, peer hostsconfig.Host, address string) (bool, error) {
	return f.knownAddresses[address] == peer.ID, nil
}

func (f *fakePeers) Forward(ctx context.Context, peer hostsconfig.Host, envelope protocol.Envelope, payload protocol.Payload, senderPubKeyHex, selfHostID string) (bool, error) {
	f.delivered = append(f.delivered, envelope.ID)
	return true, nil
}

func newTestRouter(t *testing.T, peers PeerTransport) (*Router, *hostsconfig.Store, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()

	hosts := hostsconfig.NewStore(dir)
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "self-host", URL: "http://self.local", Type: hostsconfig.TypeSelf, Enabled: true}))
	require.NoError(t, hosts.SetOrganization("acme", "tester"))

	agents, err := registry.New(dir)
	require.NoError(t, err)

	r := New(Deps{
		DataDir:  dir,
		Agents:   agents,
		Keys:     registry.NewKeyStore(dir),
		Hosts:    hosts,
		Relay:    relay.New(dir),
		Messages: messages.New(dir),
		Peers:    peers,
	})
	return r, hosts, agents
}

func testKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func pemString(t *testing.T, kp *identity.KeyPair) string {
	t.Helper()
	hexPub := hexEncode(kp.Public)
	pem, err := identity.PublicKeyHexToPEM(hexPub)
	require.NoError(t, err)
	return string(pem)
}

func TestRegisterCreatesAgentAndIssuesKey(t *testing.T) {
	r, _, agents := newTestRouter(t, nil)
	kp := testKeyPair(t)

	result, err := r.Register(context.Background(), RegisterRequest{
		Name:         "relay-bot",
		PublicKeyPEM: pemString(t, kp),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.APIKey)
	assert.Contains(t, result.Address, "relay-bot@")
	assert.False(t, result.ReRegistered)

	stored, ok := agents.Get(result.Agent.ID)
	require.True(t, ok)
	require.NotNil(t, stored.AMPIdentity)
	assert.Equal(t, result.Agent.AMPIdentity.Fingerprint, stored.AMPIdentity.Fingerprint)
}

func TestRegisterSameFingerprintReRegisters(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	kp := testKeyPair(t)
	pem := pemString(t, kp)

	first, err := r.Register(context.Background(), RegisterRequest{Name: "dup-bot", PublicKeyPEM: pem})
	require.NoError(t, err)

	second, err := r.Register(context.Background(), RegisterRequest{Name: "dup-bot", PublicKeyPEM: pem})
	require.NoError(t, err)
	assert.True(t, second.ReRegistered)
	assert.NotEqual(t, first.APIKey, second.APIKey)
}

func TestRegisterDifferentFingerprintIsNameTaken(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	_, err := r.Register(context.Background(), RegisterRequest{Name: "claimed", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), RegisterRequest{Name: "claimed", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.Error(t, err)
	assert.Equal(t, errs.NameTaken, errs.CodeOf(err))
}

func TestRegisterRequiresOrganization(t *testing.T) {
	dir := t.TempDir()
	hosts := hostsconfig.NewStore(dir)
	agents, err := registry.New(dir)
	require.NoError(t, err)
	r := New(Deps{DataDir: dir, Agents: agents, Keys: registry.NewKeyStore(dir), Hosts: hosts, Relay: relay.New(dir), Messages: messages.New(dir)})

	_, err = r.Register(context.Background(), RegisterRequest{Name: "bot", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.Error(t, err)
	assert.Equal(t, errs.OrganizationNotSet, errs.CodeOf(err))
}

func TestRouteDeliversLocally(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	senderKP := testKeyPair(t)
	sender, err := r.Register(context.Background(), RegisterRequest{Name: "sender", PublicKeyPEM: pemString(t, senderKP)})
	require.NoError(t, err)

	recipientKP := testKeyPair(t)
	recipient, err := r.Register(context.Background(), RegisterRequest{Name: "recipient", PublicKeyPEM: pemString(t, recipientKP)})
	require.NoError(t, err)

	caller := Caller{AgentID: sender.Agent.ID, Name: sender.Agent.Name}
	result, err := r.Route(context.Background(), caller, RouteRequest{
		To:      recipient.Address,
		Subject: "hello",
		Payload: protocol.Payload{Type: protocol.PayloadRequest, Message: "ping"},
	})
	require.NoError(t, err)
	assert.Equal(t, "delivered", result.Status)
	assert.Equal(t, "local", result.Method)
}

func TestRouteRejectsOversizedPayload(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	sender, err := r.Register(context.Background(), RegisterRequest{Name: "sender", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	caller := Caller{AgentID: sender.Agent.ID, Name: sender.Agent.Name}
	_, err = r.Route(context.Background(), caller, RouteRequest{
		To:       "someone@acme.aimaestro.local",
		Subject:  "x",
		Payload:  protocol.Payload{Type: protocol.PayloadRequest, Message: "x"},
		BodySize: 2 << 20,
	})
	require.Error(t, err)
	assert.Equal(t, errs.PayloadTooLarge, errs.CodeOf(err))
}

func TestRouteRejectsForeignProvider(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	sender, err := r.Register(context.Background(), RegisterRequest{Name: "sender", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	caller := Caller{AgentID: sender.Agent.ID, Name: sender.Agent.Name}
	_, err = r.Route(context.Background(), caller, RouteRequest{
		To:      "someone@other-tenant.other-mesh.local",
		Subject: "x",
		Payload: protocol.Payload{Type: protocol.PayloadRequest, Message: "x"},
	})
	require.Error(t, err)
	assert.Equal(t, errs.ExternalProvider, errs.CodeOf(err))
}

func TestRouteQueuesWhenRecipientUnreachable(t *testing.T) {
	peers := &fakePeers{knownAddresses: map[string]string{}}
	r, hosts, agents := newTestRouter(t, peers)
	require.NoError(t, hosts.AddHost(hostsconfig.Host{ID: "peer-1", URL: "http://peer1.local", Type: hostsconfig.TypeRemote, Enabled: true}))

	sender, err := r.Register(context.Background(), RegisterRequest{Name: "sender", PublicKeyPEM: pemString(t, testKeyPair(t))})
	require.NoError(t, err)

	recipient, err := agents.Create(registry.Agent{Name: "offline-bot", HostID: "peer-1"}, false)
	require.NoError(t, err)
	org, err := hosts.Organization()
	require.NoError(t, err)
	address := protocol.BuildAddress("offline-bot", "", "default", protocol.ProviderDomain(org.Organization))
	_, err = agents.MarkAMPRegistered(recipient.ID, registry.AMPIdentity{
		Fingerprint: "fp", PublicKeyHex: "ab", AMPAddress: address, Tenant: "default",
	}, nil)
	require.NoError(t, err)

	caller := Caller{AgentID: sender.Agent.ID, Name: sender.Agent.Name}
	result, err := r.Route(context.Background(), caller, RouteRequest{
		To:      address,
		Subject: "x",
		Payload: protocol.Payload{Type: protocol.PayloadRequest, Message: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, "relay", result.Method)
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	_, err := r.Authenticate("uk_doesnotexist", "")
	require.Error(t, err)
	assert.Equal(t, errs.Unauthorized, errs.CodeOf(err))
}

func hostsconfigTestHost() hostsconfig.Host {
	return hostsconfig.Host{ID: "peer-1", URL: "http://peer1.local", Type: hostsconfig.TypeRemote, Enabled: true}
}

func testOfflineAgent() registry.Agent {
	return registry.Agent{Name: "offline-bot", HostID: "peer-1"}
}

func buildTestAddress(organization, name string) string {
	return protocol.BuildAddress(name, "", "default", protocol.ProviderDomain(organization))
}

func testIdentity(address string) registry.AMPIdentity {
	return registry.AMPIdentity{Fingerprint: "fp", PublicKeyHex: "ab", AMPAddress: address, Tenant: "default"}
}

func testRouteRequest(to string) RouteRequest {
	return RouteRequest{To: to, Subject: "x", Payload: protocol.Payload{Type: protocol.PayloadRequest, Message: "x"}}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
