package router

import (
	"context"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/identity"
	"github.com/aimaestro/meshhost/internal/protocol"
)

// DeliverFederatedRequest is the inbound body of a federation delivery.
type DeliverFederatedRequest struct {
	Envelope           protocol.Envelope
	Payload            protocol.Payload
	SenderPublicKeyHex string
	Provider           string // required X-AMP-Provider
}

// DeliverFederated handles an in-bound federated delivery: provider rate
// limiting, replay protection, optional signature verification, and
// local delivery or relay-queue fallback, per spec.md §4.F's
// deliverFederated contract.
func (r *Router) DeliverFederated(ctx context.Context, req DeliverFederatedRequest) (RouteResult, error) {
	if req.Provider == "" {
		return RouteResult{}, errs.New(errs.MissingField, "X-AMP-Provider is required")
	}
	if !r.federationLimit.Allow(req.Provider) {
		return RouteResult{}, errs.New(errs.RateLimited, "federation rate limit exceeded")
	}

	alreadySeen, err := r.federationLog.SeenOrRecord(req.Envelope.ID)
	if err != nil {
		return RouteResult{}, err
	}
	if alreadySeen {
		return RouteResult{}, errs.New(errs.DuplicateMessage, "envelope already delivered")
	}

	verified := r.verifyFederatedSignature(req)

	addr, err := protocol.ParseAddress(req.Envelope.To)
	if err != nil {
		return RouteResult{}, errs.Wrap(errs.InvalidField, "envelope.to is not a valid AMP address", err)
	}

	self, err := r.hosts.Self()
	if err != nil {
		return RouteResult{}, err
	}
	selfHostID := ""
	if self != nil {
		selfHostID = self.ID
	}

	if recipient, ok := r.agents.FindByName(selfHostID, addr.Name); ok {
		if err := r.deliverLocal(recipient, req.Envelope, req.Payload, verified); err != nil {
			return RouteResult{}, err
		}
		return RouteResult{Status: "delivered", Method: "local", ID: req.Envelope.ID}, nil
	}

	if recipient, ok := r.agents.FindByNameAnyHost(addr.Name); ok {
		if _, err := r.relayQ.QueueMessage(recipient.ID, req.Envelope, req.Payload, req.SenderPublicKeyHex); err != nil {
			return RouteResult{}, err
		}
		return RouteResult{Status: "queued", Method: "relay", ID: req.Envelope.ID}, nil
	}

	return RouteResult{}, errs.New(errs.NotFound, "recipient unknown")
}

// verifyFederatedSignature checks a federated envelope's signature
// against the sender public key the federation request itself carried,
// since the sending host (not this one) owns that agent's registry
// entry.
func (r *Router) verifyFederatedSignature(req DeliverFederatedRequest) *bool {
	if req.SenderPublicKeyHex == "" || req.Envelope.Signature == "" {
		return nil
	}
	hash, err := protocol.CanonicalPayloadHash(req.Payload)
	if err != nil {
		return nil
	}
	e := req.Envelope
	data := []byte(identity.CanonicalString(e.From, e.To, e.Subject, string(e.Priority), e.InReplyTo, hash))
	ok, err := identity.Verify(req.SenderPublicKeyHex, data, e.Signature)
	if err != nil {
		ok = false
	}
	return &ok
}
