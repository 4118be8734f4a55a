package webhttp

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aimaestro/meshhost/internal/eventbus"
	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/meeting"
	"github.com/aimaestro/meshhost/internal/messages"
	"github.com/aimaestro/meshhost/internal/metrics"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/relay"
	"github.com/aimaestro/meshhost/internal/router"
	"github.com/aimaestro/meshhost/internal/session"
	"github.com/aimaestro/meshhost/internal/tmux"
	"github.com/aimaestro/meshhost/internal/webhook"
)

// newTestServer builds a fully wired Server rooted at a fresh temp data
// dir, with the host organization already set so AMP registration works.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	agents, err := registry.New(dir)
	require.NoError(t, err)
	meetings, err := meeting.New(dir)
	require.NoError(t, err)
	webhooks, err := webhook.New(dir)
	require.NoError(t, err)

	keys := registry.NewKeyStore(dir)
	hosts := hostsconfig.NewStore(dir)
	require.NoError(t, hosts.SetOrganization("acme", "test"))
	relayQ := relay.New(dir)
	msgs := messages.New(dir)
	bus := eventbus.New()
	sessions := session.New(&tmux.Tmux{}, dir, bus)
	metricsR := metrics.NewRegistry(prometheus.NewRegistry())

	rtr := router.New(router.Deps{
		DataDir:  dir,
		Agents:   agents,
		Keys:     keys,
		Hosts:    hosts,
		Relay:    relayQ,
		Messages: msgs,
		Sessions: sessions,
		Bus:      bus,
		Metrics:  metricsR,
	})

	return New(Deps{
		Router:   rtr,
		Agents:   agents,
		Keys:     keys,
		Hosts:    hosts,
		Messages: msgs,
		Meetings: meetings,
		Webhooks: webhooks,
		Sessions: sessions,
		Bus:      bus,
	})
}

// generateAgentKeyPEM returns an SPKI PEM-encoded Ed25519 public key, the
// shape the /v1/register body expects.
func generateAgentKeyPEM(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAMPRegisterThenRoute(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	registerBody, _ := json.Marshal(map[string]string{
		"name":         "relay-bot",
		"publicKeyPem": generateAgentKeyPEM(t),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader(registerBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	apiKey := data["APIKey"].(string)
	require.NotEmpty(t, apiKey)

	recipientBody, _ := json.Marshal(map[string]string{
		"name":         "recipient-bot",
		"publicKeyPem": generateAgentKeyPEM(t),
	})
	req = httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader(recipientBody))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	recipient := decodeEnvelope(t, rec)["data"].(map[string]any)
	recipientAddress := recipient["Address"].(string)

	routeBody, _ := json.Marshal(map[string]any{
		"to":      recipientAddress,
		"payload": map[string]string{"type": "text", "message": "hello"},
	})
	req = httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(routeBody))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAMPRegisterRejectsSchemaInvalidBody(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader([]byte(`{"name":"no-key"}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, "invalid_field", body["error"])
}

func TestAMPRouteRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	routeBody, _ := json.Marshal(map[string]any{
		"to":      "agent://someone@acme.meshhost.local",
		"payload": map[string]string{"type": "text", "message": "hi"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/route", bytes.NewReader(routeBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListAgentsEmpty(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Empty(t, data)
}

func TestHostsSyncWithoutMeshReturnsInvalidRequest(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodPost, "/hosts/sync", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndGetWebhook(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	createBody, _ := json.Marshal(map[string]string{
		"url":    "https://example.com/hooks",
		"secret": "shh",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeEnvelope(t, rec)["data"].(map[string]any)
	id := created["id"].(string)

	req = httptest.NewRequest(http.MethodGet, "/webhooks/"+id, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
