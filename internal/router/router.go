// Package router implements the AMP Router: agent registration, message
// routing across local/mesh/relay destinations, pending-message
// wrappers, key lifecycle, and federated in-bound delivery. It is the
// one component that touches nearly every other package, matching
// spec.md §4.F's description of the router as the mesh core's central
// path.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/eventbus"
	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/identity"
	"github.com/aimaestro/meshhost/internal/messages"
	"github.com/aimaestro/meshhost/internal/metrics"
	"github.com/aimaestro/meshhost/internal/protocol"
	"github.com/aimaestro/meshhost/internal/propagation"
	"github.com/aimaestro/meshhost/internal/ratelimit"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/relay"
	"github.com/aimaestro/meshhost/internal/session"

	"golang.org/x/sync/errgroup"
)

// maxPayloadBytes rejects any route body larger than this, per spec.md
// §4.F.3.
const maxPayloadBytes = 1 << 20

// routeRatePerMinute and federationRatePerMinute are the default token
// bucket sizes; callers normally pass a *ratelimit.Limiter already
// configured from internal/config instead of relying on these directly.
const (
	routeRatePerMinute      = 60
	federationRatePerMinute = 120
)

// discoveryTimeout bounds the per-peer mesh-discovery fan-out.
const discoveryTimeout = 3 * time.Second

// forwardTimeout bounds a single peer-forward HTTP call.
const forwardTimeout = 10 * time.Second

// PeerTransport is everything the router needs to talk to other mesh
// hosts. meshclient.Client satisfies this; tests supply a fake.
type PeerTransport interface {
	Discover(ctx context.Context, peer hostsconfig.Host, address string) (bool, error)
	Forward(ctx context.Context, peer hostsconfig.Host, envelope protocol.Envelope, payload protocol.Payload, senderPubKeyHex, selfHostID string) (bool, error)
}

// Router wires together the Identity Store, Agent Registry, Hosts
// Config, Relay Queue, Message Store, Session Supervisor, and the
// mesh/federation throttles into the single AMP routing path.
type Router struct {
	dataDir string

	agents   *registry.Registry
	keys     *registry.KeyStore
	hosts    *hostsconfig.Store
	relayQ   *relay.Queue
	msgs     *messages.Store
	sessions *session.Supervisor
	peers    PeerTransport
	bus      *eventbus.Bus
	metrics  *metrics.Registry

	routeLimit      *ratelimit.Limiter
	federationLimit *ratelimit.Limiter
	federationLog   *propagation.FederationLog
}

// Deps groups Router's constructor dependencies.
type Deps struct {
	DataDir         string
	Agents          *registry.Registry
	Keys            *registry.KeyStore
	Hosts           *hostsconfig.Store
	Relay           *relay.Queue
	Messages        *messages.Store
	Sessions        *session.Supervisor
	Peers           PeerTransport
	Bus             *eventbus.Bus
	Metrics         *metrics.Registry
	RouteLimit      *ratelimit.Limiter
	FederationLimit *ratelimit.Limiter
	FederationLog   *propagation.FederationLog
}

// New builds a Router from deps, defaulting the two rate limiters when
// the caller didn't supply one (e.g. in tests that don't care about
// throttling).
func New(deps Deps) *Router {
	if deps.RouteLimit == nil {
		deps.RouteLimit = ratelimit.New(routeRatePerMinute, time.Minute)
	}
	if deps.FederationLimit == nil {
		deps.FederationLimit = ratelimit.New(federationRatePerMinute, time.Minute)
	}
	if deps.FederationLog == nil {
		deps.FederationLog = propagation.NewFederationLog(deps.DataDir)
	}
	return &Router{
		dataDir:         deps.DataDir,
		agents:          deps.Agents,
		keys:            deps.Keys,
		hosts:           deps.Hosts,
		relayQ:          deps.Relay,
		msgs:            deps.Messages,
		sessions:        deps.Sessions,
		peers:           deps.Peers,
		bus:             deps.Bus,
		metrics:         deps.Metrics,
		routeLimit:      deps.RouteLimit,
		federationLimit: deps.FederationLimit,
		federationLog:   deps.FederationLog,
	}
}

// providerDomain returns this host's current AMP provider domain,
// derived from the organization value.
func (r *Router) providerDomain() (string, error) {
	org, err := r.hosts.Organization()
	if err != nil {
		return "", err
	}
	return protocol.ProviderDomain(org.Organization), nil
}

// RegisterRequest is the inbound body of an AMP registration.
type RegisterRequest struct {
	Tenant       string
	Name         string
	PublicKeyPEM string
	KeyAlgorithm string
	Alias        string
	Scope        string
	Delivery     string
	Metadata     map[string]any
}

// RegisterResult is returned on a successful (or re-)registration.
type RegisterResult struct {
	Agent        registry.Agent
	Address      string
	APIKey       string
	ReRegistered bool
}

// Register runs the AMP registration path: organization precondition,
// name normalization/validation, fingerprint-based collision handling,
// and API key issuance.
func (r *Router) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	org, err := r.hosts.Organization()
	if err != nil {
		return RegisterResult{}, err
	}
	if !org.IsSet() {
		return RegisterResult{}, errs.New(errs.OrganizationNotSet, "set this host's organization before registering AMP agents")
	}

	name := strings.ToLower(strings.TrimSpace(req.Name))
	if !protocol.ValidAgentName(name) {
		return RegisterResult{}, errs.New(errs.InvalidField, "name does not match the AMP agent naming pattern")
	}
	if req.PublicKeyPEM == "" {
		return RegisterResult{}, errs.New(errs.MissingField, "public_key is required")
	}

	pubHex, err := identity.ExtractPublicKeyHex([]byte(req.PublicKeyPEM))
	if err != nil {
		return RegisterResult{}, errs.Wrap(errs.InvalidField, "public_key is not a valid Ed25519 SPKI key", err)
	}
	fingerprint, err := identity.Fingerprint(pubHex)
	if err != nil {
		return RegisterResult{}, errs.Wrap(errs.InvalidField, "could not compute key fingerprint", err)
	}

	tenant := req.Tenant
	if tenant == "" {
		tenant = "default"
	}
	domain, err := r.providerDomain()
	if err != nil {
		return RegisterResult{}, err
	}
	address := protocol.BuildAddress(name, req.Scope, tenant, domain)

	self, err := r.hosts.Self()
	if err != nil {
		return RegisterResult{}, err
	}
	hostID := ""
	if self != nil {
		hostID = self.ID
	}

	if existing, ok := r.agents.FindByName(hostID, name); ok {
		if existing.AMPIdentity == nil || existing.AMPIdentity.Fingerprint != fingerprint {
			return RegisterResult{}, errs.New(errs.NameTaken, "agent name already registered with a different key").
				WithFields(map[string]any{"suggestions": nameSuggestions(name)})
		}
		return r.reRegister(existing, pubHex, fingerprint, tenant, address, req.Metadata)
	}

	agent := registry.Agent{
		Name:     name,
		HostID:   hostID,
		Alias:    req.Alias,
		Metadata: map[string]any{"amp": req.Metadata},
	}
	created, err := r.agents.Create(agent, true)
	if err != nil {
		return RegisterResult{}, err
	}

	identityRecord := registry.AMPIdentity{
		Fingerprint:  fingerprint,
		PublicKeyHex: pubHex,
		KeyAlgorithm: identity.KeyAlgorithm,
		CreatedAt:    time.Now(),
		AMPAddress:   address,
		Tenant:       tenant,
	}
	updated, err := r.agents.MarkAMPRegistered(created.ID, identityRecord, req.Metadata)
	if err != nil {
		return RegisterResult{}, err
	}

	token, _, err := r.keys.Issue(updated.ID, tenant, address)
	if err != nil {
		return RegisterResult{}, err
	}

	return RegisterResult{Agent: updated, Address: address, APIKey: token}, nil
}

// reRegister re-issues an API key for an agent whose registration
// request matches its already-stored fingerprint, per spec.md §4.F's
// "name collision with same fingerprint → re-register" rule.
func (r *Router) reRegister(existing registry.Agent, pubHex, fingerprint, tenant, address string, metadata map[string]any) (RegisterResult, error) {
	identityRecord := registry.AMPIdentity{
		Fingerprint:  fingerprint,
		PublicKeyHex: pubHex,
		KeyAlgorithm: identity.KeyAlgorithm,
		CreatedAt:    existing.AMPIdentity.CreatedAt,
		AMPAddress:   address,
		Tenant:       tenant,
	}
	updated, err := r.agents.MarkAMPRegistered(existing.ID, identityRecord, metadata)
	if err != nil {
		return RegisterResult{}, err
	}
	token, _, err := r.keys.Rotate(updated.ID, tenant, address)
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{Agent: updated, Address: address, APIKey: token, ReRegistered: true}, nil
}

// Caller identifies who is making a route call: either an API-key
// authenticated agent, or a trusted mesh peer forwarding on another
// agent's behalf.
type Caller struct {
	AgentID    string
	Name       string
	IsMeshPeer bool
	PeerHostID string
}

// Authenticate resolves a route call's caller from a bearer token or a
// trusted X-Forwarded-From peer id, per spec.md §4.F.1.
func (r *Router) Authenticate(bearerToken, forwardedFromHostID string) (Caller, error) {
	if bearerToken != "" {
		key, ok, err := r.keys.Resolve(bearerToken)
		if err != nil {
			return Caller{}, err
		}
		if !ok {
			return Caller{}, registry.ErrInvalidKey()
		}
		agent, ok := r.agents.Get(key.AgentID)
		if !ok {
			return Caller{}, registry.ErrInvalidKey()
		}
		return Caller{AgentID: agent.ID, Name: agent.Name}, nil
	}

	if forwardedFromHostID != "" {
		peer, err := r.hosts.FindByAnyIdentifier(forwardedFromHostID)
		if err != nil {
			return Caller{}, err
		}
		if peer == nil || !peer.Enabled {
			return Caller{}, errs.New(errs.Unauthorized, "unknown forwarding peer")
		}
		return Caller{IsMeshPeer: true, PeerHostID: peer.ID}, nil
	}

	return Caller{}, errs.New(errs.Unauthorized, "missing bearer token")
}

// RouteRequest is the inbound body of a route call.
type RouteRequest struct {
	To        string
	Subject   string
	Payload   protocol.Payload
	Priority  protocol.Priority
	InReplyTo string
	Signature string // caller-supplied X-AMP-Signature, verified when the sender is known locally
	BodySize  int    // caller-supplied Content-Length, enforced against maxPayloadBytes
}

// RouteResult reports how a message was handled.
type RouteResult struct {
	Status string // "delivered" | "queued"
	Method string // "local" | "mesh" | "relay"
	ID     string
}

// Route runs the central AMP routing path: rate limit, size limit,
// validation, envelope construction, signature check, address
// resolution, and delivery via local store, mesh forward, or relay
// queue.
func (r *Router) Route(ctx context.Context, caller Caller, req RouteRequest) (RouteResult, error) {
	limitKey := caller.AgentID
	if caller.IsMeshPeer {
		limitKey = "mesh:" + caller.PeerHostID
	}
	if !r.routeLimit.Allow(limitKey) {
		r.observe("rate_limited")
		return RouteResult{}, errs.New(errs.RateLimited, "rate limit exceeded")
	}

	if req.BodySize > maxPayloadBytes {
		r.observe("payload_too_large")
		return RouteResult{}, errs.New(errs.PayloadTooLarge, "payload exceeds 1 MiB")
	}

	if req.To == "" || req.Subject == "" || req.Payload.Type == "" || req.Payload.Message == "" {
		r.observe("invalid_field")
		return RouteResult{}, errs.New(errs.MissingField, "to, subject, and payload.{type,message} are required")
	}

	sender := r.callerAddress(caller)
	now := time.Now()
	id, err := protocol.NewEnvelopeID(now)
	if err != nil {
		return RouteResult{}, fmt.Errorf("generating envelope id: %w", err)
	}
	envelope := protocol.Envelope{
		Version:   protocol.Version,
		ID:        id,
		From:      sender,
		To:        req.To,
		Subject:   req.Subject,
		Priority:  req.Priority,
		Timestamp: now,
		Signature: req.Signature,
		InReplyTo: req.InReplyTo,
		ThreadID:  protocol.ThreadID(id, req.InReplyTo),
	}
	if envelope.Priority == "" {
		envelope.Priority = protocol.PriorityNormal
	}

	senderAgent, senderKnown := r.agents.FindByNameAnyHost(caller.Name)
	verified := r.verifySignature(envelope, req.Payload, senderAgent, senderKnown)

	addr, err := protocol.ParseAddress(req.To)
	if err != nil {
		r.observe("invalid_field")
		return RouteResult{}, errs.Wrap(errs.InvalidField, "to is not a valid AMP address", err)
	}
	domain, err := r.providerDomain()
	if err != nil {
		return RouteResult{}, err
	}
	requestDomain := addr.Tenant + "." + addr.Provider
	if requestDomain != domain {
		r.observe("external_provider")
		return RouteResult{}, errs.New(errs.ExternalProvider, "recipient provider is not this mesh")
	}

	result, err := r.deliver(ctx, envelope, req.Payload, addr.Name, senderAgent, verified)
	if err != nil {
		r.observe("error")
		return RouteResult{}, err
	}
	r.observe(result.Status)
	return result, nil
}

// callerAddress renders a caller's AMP address for the envelope's From
// field, falling back to a mesh-synthetic identity for forwarded calls.
func (r *Router) callerAddress(caller Caller) string {
	if caller.IsMeshPeer {
		return "mesh-" + caller.PeerHostID
	}
	if agent, ok := r.agents.Get(caller.AgentID); ok && agent.AMPIdentity != nil {
		return agent.AMPIdentity.AMPAddress
	}
	return caller.Name
}

// verifySignature checks envelope.Signature against the sender's stored
// public key when known. A failure is not fatal: the result is only
// recorded on a locally delivered message's SignatureVerified field, per
// spec.md §4.F.6's trust-at-first-use design.
func (r *Router) verifySignature(envelope protocol.Envelope, payload protocol.Payload, sender registry.Agent, senderKnown bool) *bool {
	if !senderKnown || sender.AMPIdentity == nil || envelope.Signature == "" {
		return nil
	}
	hash, err := protocol.CanonicalPayloadHash(payload)
	if err != nil {
		return nil
	}
	data := []byte(identity.CanonicalString(envelope.From, envelope.To, envelope.Subject, string(envelope.Priority), envelope.InReplyTo, hash))
	ok, err := identity.Verify(sender.AMPIdentity.PublicKeyHex, data, envelope.Signature)
	if err != nil {
		ok = false
	}
	return &ok
}

// deliver resolves recipientName in order (local registry, mesh
// discovery, relay-by-name fallback) and performs the actual delivery.
func (r *Router) deliver(ctx context.Context, envelope protocol.Envelope, payload protocol.Payload, recipientName string, senderAgent registry.Agent, verified *bool) (RouteResult, error) {
	self, err := r.hosts.Self()
	if err != nil {
		return RouteResult{}, err
	}
	selfHostID := ""
	if self != nil {
		selfHostID = self.ID
	}

	if recipient, ok := r.agents.FindByName(selfHostID, recipientName); ok {
		if err := r.deliverLocal(recipient, envelope, payload, verified); err != nil {
			return RouteResult{}, err
		}
		return RouteResult{Status: "delivered", Method: "local", ID: envelope.ID}, nil
	}

	if peer := r.discoverPeer(ctx, envelope.To); peer != nil {
		forwardCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
		defer cancel()
		delivered, ferr := r.peers.Forward(forwardCtx, *peer, envelope, payload, senderPubKeyHex(senderAgent), selfHostID)
		if ferr == nil && delivered {
			return RouteResult{Status: "delivered", Method: "mesh", ID: envelope.ID}, nil
		}
		if recipient, ok := r.agents.FindByNameAnyHost(recipientName); ok {
			if _, err := r.relayQ.QueueMessage(recipient.ID, envelope, payload, senderPubKeyHex(senderAgent)); err != nil {
				return RouteResult{}, err
			}
			return RouteResult{Status: "queued", Method: "relay", ID: envelope.ID}, nil
		}
		return RouteResult{}, errs.New(errs.NotFound, "recipient unreachable and unknown")
	}

	if recipient, ok := r.agents.FindByNameAnyHost(recipientName); ok {
		if _, err := r.relayQ.QueueMessage(recipient.ID, envelope, payload, senderPubKeyHex(senderAgent)); err != nil {
			return RouteResult{}, err
		}
		return RouteResult{Status: "queued", Method: "relay", ID: envelope.ID}, nil
	}

	return RouteResult{}, errs.New(errs.NotFound, "recipient not found on this host or any known peer")
}

func senderPubKeyHex(a registry.Agent) string {
	if a.AMPIdentity == nil {
		return ""
	}
	return a.AMPIdentity.PublicKeyHex
}

// deliverLocal writes the message to the recipient's inbox and signals
// the Session Supervisor so the agent's activity/session status reflects
// the delivery.
func (r *Router) deliverLocal(recipient registry.Agent, envelope protocol.Envelope, payload protocol.Payload, verified *bool) error {
	m := messages.Message{
		ID:                envelope.ID,
		From:              envelope.From,
		To:                envelope.To,
		Subject:           envelope.Subject,
		Content:           payload,
		Priority:          envelope.Priority,
		Timestamp:         envelope.Timestamp,
		Status:            messages.StatusUnread,
		InReplyTo:         envelope.InReplyTo,
		ThreadID:          envelope.ThreadID,
		DeliveredVia:      "route",
		SignatureVerified: verified,
	}
	if err := r.msgs.Deliver(recipient.Name, "", m); err != nil {
		return err
	}
	if sess := recipient.CanonicalSession(); sess != nil && r.sessions != nil {
		r.sessions.RecordActivity(sess.TmuxSessionName)
	}
	return nil
}

// discoverPeer fans out to every enabled remote peer concurrently,
// returning the first one that confirms it knows address (3s timeout per
// spec.md §4.F.8). Returns nil if no peer answers in time.
func (r *Router) discoverPeer(ctx context.Context, address string) *hostsconfig.Host {
	if r.peers == nil {
		return nil
	}
	hosts, err := r.hosts.List()
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	found := make(chan hostsconfig.Host, len(hosts))

	for _, h := range hosts {
		if h.Type != hostsconfig.TypeRemote || !h.Enabled {
			continue
		}
		h := h
		g.Go(func() error {
			ok, err := r.peers.Discover(gctx, h, address)
			if err != nil {
				return nil //nolint:nilerr // peer errors are non-fatal to discovery
			}
			if ok {
				select {
				case found <- h:
				default:
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() { _ = g.Wait(); close(done) }()

	select {
	case h := <-found:
		return &h
	case <-done:
		select {
		case h := <-found:
			return &h
		default:
			return nil
		}
	case <-ctx.Done():
		return nil
	}
}

// observe records a route outcome in metrics, tolerating a nil registry.
func (r *Router) observe(status string) {
	if r.metrics != nil {
		r.metrics.ObserveRoute(status)
	}
}
