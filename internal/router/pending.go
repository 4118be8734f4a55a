package router

import (
	"context"
	"time"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/identity"
	"github.com/aimaestro/meshhost/internal/protocol"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/relay"
)

// maxBatchAck bounds batchAcknowledgeMessages per spec.md §4.F.
const maxBatchAck = 100

// ListPendingMessages returns up to limit oldest relay entries queued for
// the calling agent.
func (r *Router) ListPendingMessages(caller Caller, limit int) ([]relay.Entry, error) {
	if caller.AgentID == "" {
		return nil, errs.New(errs.Unauthorized, "agent identity required")
	}
	return r.relayQ.GetPendingMessages(caller.AgentID, limit)
}

// AcknowledgePendingMessage removes a single relay entry by id.
func (r *Router) AcknowledgePendingMessage(caller Caller, id string) error {
	if caller.AgentID == "" {
		return errs.New(errs.Unauthorized, "agent identity required")
	}
	return r.relayQ.AcknowledgeMessage(caller.AgentID, id)
}

// BatchAcknowledgeMessages removes up to maxBatchAck relay entries at
// once; ids beyond the cap are ignored.
func (r *Router) BatchAcknowledgeMessages(caller Caller, ids []string) error {
	if caller.AgentID == "" {
		return errs.New(errs.Unauthorized, "agent identity required")
	}
	if len(ids) > maxBatchAck {
		ids = ids[:maxBatchAck]
	}
	return r.relayQ.AcknowledgeMessages(caller.AgentID, ids)
}

// SendReadReceipt emits an ack envelope of type "read", threaded to the
// original message id, and delivers it to originalSender. A blank
// originalSender is a no-op: not every inbound message carries enough
// routing information to receipt.
func (r *Router) SendReadReceipt(ctx context.Context, caller Caller, id, originalSender string) error {
	if originalSender == "" {
		return nil
	}

	addr, err := protocol.ParseAddress(originalSender)
	if err != nil {
		return errs.Wrap(errs.InvalidField, "originalSender is not a valid AMP address", err)
	}

	now := time.Now()
	envelopeID, err := protocol.NewEnvelopeID(now)
	if err != nil {
		return err
	}
	envelope := protocol.Envelope{
		Version:   protocol.Version,
		ID:        envelopeID,
		From:      r.callerAddress(caller),
		To:        originalSender,
		Subject:   "read receipt",
		Priority:  protocol.PriorityLow,
		Timestamp: now,
		InReplyTo: id,
		ThreadID:  protocol.ThreadID(envelopeID, id),
	}
	payload := protocol.Payload{Type: protocol.PayloadAck, Message: "read"}

	_, err = r.deliver(ctx, envelope, payload, addr.Name, registry.Agent{}, nil)
	return err
}

// ResolveAgentAddress returns the public key PEM, fingerprint, online
// flag, and alias for the agent at addr, per spec.md §4.F's
// resolveAgentAddress contract.
func (r *Router) ResolveAgentAddress(addr string) (ResolvedAgent, error) {
	parsed, err := protocol.ParseAddress(addr)
	if err != nil {
		return ResolvedAgent{}, errs.Wrap(errs.InvalidField, "not a valid AMP address", err)
	}
	agent, ok := r.agents.FindByNameAnyHost(parsed.Name)
	if !ok || agent.AMPIdentity == nil {
		return ResolvedAgent{}, errs.New(errs.NotFound, "agent not found")
	}
	pem, err := identity.PublicKeyHexToPEM(agent.AMPIdentity.PublicKeyHex)
	if err != nil {
		return ResolvedAgent{}, err
	}
	online := false
	if sess := agent.CanonicalSession(); sess != nil {
		online = sess.Status == registry.SessionOnline
	}
	return ResolvedAgent{
		Address:      agent.AMPIdentity.AMPAddress,
		PublicKeyPEM: string(pem),
		Fingerprint:  agent.AMPIdentity.Fingerprint,
		Online:       online,
		Alias:        agent.Alias,
	}, nil
}

// ResolvedAgent is the result of resolving an AMP address.
type ResolvedAgent struct {
	Address      string
	PublicKeyPEM string
	Fingerprint  string
	Online       bool
	Alias        string
}
