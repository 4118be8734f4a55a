// Package meshclient is the mesh core's outbound HTTP client: the one
// place a host calls another host's AMP/peer HTTP surface, whether to
// forward an envelope, resolve an address, probe health, or fetch a
// peer's agent list for the aggregator.
package meshclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/protocol"
)

// Client calls other mesh hosts over HTTP. Callers attach a per-call
// timeout via context; the underlying http.Client carries no default
// timeout of its own so every call site's ctx is authoritative.
type Client struct {
	httpClient *http.Client
}

// New builds a Client. transport may be nil to use http.DefaultTransport.
func New(transport http.RoundTripper) *Client {
	return &Client{httpClient: &http.Client{Transport: transport}}
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpClient.Do(req)
}

// federationForwardBody is the wire shape of a forwarded envelope.
type federationForwardBody struct {
	Envelope           protocol.Envelope `json:"envelope"`
	Payload            protocol.Payload  `json:"payload"`
	SenderPublicKeyHex string            `json:"sender_public_key_hex,omitempty"`
}

// Forward POSTs envelope+payload to peer's federation endpoint, setting
// X-Forwarded-From=selfHostID so the recipient can treat the caller as a
// trusted mesh member rather than re-verifying the signature.
func (c *Client) Forward(ctx context.Context, peer hostsconfig.Host, envelope protocol.Envelope, payload protocol.Payload, senderPubKeyHex, selfHostID string) (bool, error) {
	url := strings.TrimRight(peer.URL, "/") + "/api/amp/federation"
	resp, err := c.do(ctx, http.MethodPost, url, map[string]string{
		"X-Forwarded-From": selfHostID,
		"X-AMP-Provider":   selfHostID,
	}, federationForwardBody{Envelope: envelope, Payload: payload, SenderPublicKeyHex: senderPubKeyHex})
	if err != nil {
		return false, fmt.Errorf("forwarding to peer %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// Discover asks peer whether it knows address, used by the router's
// mesh-discovery fan-out.
func (c *Client) Discover(ctx context.Context, peer hostsconfig.Host, address string) (bool, error) {
	url := strings.TrimRight(peer.URL, "/") + "/api/amp/agents/" + address + "/resolve"
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return false, fmt.Errorf("discovering on peer %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// ProbeHealth reports whether peer answers its /api/config endpoint,
// used by exchange-peers health gating and the mesh sync driver.
func (c *Client) ProbeHealth(ctx context.Context, peer hostsconfig.Host) bool {
	url := strings.TrimRight(peer.URL, "/") + "/api/config"
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// AgentSummary is one entry in a peer's /api/agents response, used by the
// aggregator's fan-out.
type AgentSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// FetchAgents retrieves peer's public agent list.
func (c *Client) FetchAgents(ctx context.Context, peer hostsconfig.Host) ([]AgentSummary, error) {
	url := strings.TrimRight(peer.URL, "/") + "/api/agents"
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching agents from peer %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned %d", peer.ID, resp.StatusCode)
	}
	var agents []AgentSummary
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return nil, fmt.Errorf("decoding peer agents: %w", err)
	}
	return agents, nil
}

// SessionsCount reports peer's coarse session count from /api/sessions,
// used by the mesh status rollup.
func (c *Client) SessionsCount(ctx context.Context, peer hostsconfig.Host) (int, error) {
	url := strings.TrimRight(peer.URL, "/") + "/api/sessions"
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("fetching sessions from peer %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding peer sessions: %w", err)
	}
	return body.Count, nil
}

// DockerInfo reports peer's capability flags from /api/docker/info, used
// by the mesh status rollup.
func (c *Client) DockerInfo(ctx context.Context, peer hostsconfig.Host) (map[string]any, error) {
	url := strings.TrimRight(peer.URL, "/") + "/api/docker/info"
	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching docker info from peer %s: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding peer docker info: %w", err)
	}
	return info, nil
}
