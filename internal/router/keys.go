package router

import (
	"encoding/hex"
	"time"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/identity"
	"github.com/aimaestro/meshhost/internal/registry"
)

// RevokeKey revokes every API key issued to the calling agent. A revoked
// agent must re-register to obtain a usable token again.
func (r *Router) RevokeKey(caller Caller) error {
	if caller.AgentID == "" {
		return errs.New(errs.Unauthorized, "agent identity required")
	}
	return r.keys.Revoke(caller.AgentID)
}

// RotateKey issues a fresh API key for the calling agent, keeping its
// AMP identity (tenant/address) unchanged, and revokes every previously
// issued key.
func (r *Router) RotateKey(caller Caller) (string, error) {
	if caller.AgentID == "" {
		return "", errs.New(errs.Unauthorized, "agent identity required")
	}
	agent, ok := r.agents.Get(caller.AgentID)
	if !ok || agent.AMPIdentity == nil {
		return "", errs.New(errs.NotFound, "agent not found")
	}
	token, _, err := r.keys.Rotate(agent.ID, agent.AMPIdentity.Tenant, agent.AMPIdentity.AMPAddress)
	return token, err
}

// RotateKeypair generates a fresh Ed25519 keypair for the calling agent,
// persists it, and updates the stored fingerprint. The agent's address
// and tenant are unchanged; its prior signing key becomes invalid for
// future signature verification.
func (r *Router) RotateKeypair(caller Caller) (registry.AMPIdentity, error) {
	if caller.AgentID == "" {
		return registry.AMPIdentity{}, errs.New(errs.Unauthorized, "agent identity required")
	}
	agent, ok := r.agents.Get(caller.AgentID)
	if !ok || agent.AMPIdentity == nil {
		return registry.AMPIdentity{}, errs.New(errs.NotFound, "agent not found")
	}

	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return registry.AMPIdentity{}, err
	}
	if err := identity.SaveKeyPair(r.dataDir, agent.ID, kp); err != nil {
		return registry.AMPIdentity{}, err
	}

	pubHex := hex.EncodeToString(kp.Public)
	fingerprint, err := identity.Fingerprint(pubHex)
	if err != nil {
		return registry.AMPIdentity{}, err
	}

	updatedIdentity := *agent.AMPIdentity
	updatedIdentity.PublicKeyHex = pubHex
	updatedIdentity.Fingerprint = fingerprint
	updatedIdentity.CreatedAt = time.Now()

	updated, err := r.agents.Update(agent.ID, func(a registry.Agent) (registry.Agent, error) {
		a.AMPIdentity = &updatedIdentity
		return a, nil
	})
	if err != nil {
		return registry.AMPIdentity{}, err
	}
	return *updated.AMPIdentity, nil
}
