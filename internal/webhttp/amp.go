package webhttp

import (
	"net/http"
	"strconv"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/protocol"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/router"
)

func (s *Server) mountAMPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/health", s.handleAMPHealth)
	mux.HandleFunc("GET /v1/info", s.handleAMPInfo)
	mux.HandleFunc("POST /v1/register", s.handleAMPRegister)
	mux.HandleFunc("POST /v1/route", s.handleAMPRoute)

	mux.HandleFunc("GET /v1/messages/pending", s.handleListPending)
	mux.HandleFunc("DELETE /v1/messages/pending", s.handleAckPending)
	mux.HandleFunc("POST /v1/messages/pending", s.handleBatchAckPending)
	mux.HandleFunc("POST /v1/messages/{id}/read", s.handleReadReceipt)

	mux.HandleFunc("GET /v1/agents", s.handleAMPListAgents)
	mux.HandleFunc("GET /v1/agents/me", s.handleAMPWhoAmI)
	mux.HandleFunc("PATCH /v1/agents/me", s.handleAMPUpdateMe)
	mux.HandleFunc("DELETE /v1/agents/me", s.handleAMPDeleteMe)
	mux.HandleFunc("GET /v1/agents/resolve/{addr}", s.handleAMPResolveAgent)

	mux.HandleFunc("POST /v1/auth/revoke-key", s.handleRevokeKey)
	mux.HandleFunc("POST /v1/auth/rotate-key", s.handleRotateKey)
	mux.HandleFunc("POST /v1/auth/rotate-keys", s.handleRotateKeypair)

	mux.HandleFunc("POST /v1/federation/deliver", s.handleFederationDeliver)
}

func (s *Server) handleAMPHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAMPInfo(w http.ResponseWriter, r *http.Request) {
	org, err := s.hosts.Organization()
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"version":      protocol.Version,
		"organization": org.Organization,
	})
}

type registerRequest struct {
	Tenant       string         `json:"tenant"`
	Name         string         `json:"name"`
	PublicKeyPEM string         `json:"publicKeyPem"`
	KeyAlgorithm string         `json:"keyAlgorithm"`
	Alias        string         `json:"alias"`
	Scope        string         `json:"scope"`
	Delivery     string         `json:"delivery"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) handleAMPRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONSchema(r, "register", &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.router.Register(r.Context(), router.RegisterRequest{
		Tenant: req.Tenant, Name: req.Name, PublicKeyPEM: req.PublicKeyPEM,
		KeyAlgorithm: req.KeyAlgorithm, Alias: req.Alias, Scope: req.Scope,
		Delivery: req.Delivery, Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, result)
}

type routeRequest struct {
	To        string           `json:"to"`
	Subject   string           `json:"subject"`
	Payload   protocol.Payload `json:"payload"`
	Priority  string           `json:"priority"`
	InReplyTo string           `json:"inReplyTo"`
}

func (s *Server) handleAMPRoute(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req routeRequest
	if err := decodeJSONSchema(r, "route", &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.router.Route(r.Context(), caller, router.RouteRequest{
		To: req.To, Subject: req.Subject, Payload: req.Payload,
		Priority: protocol.Priority(req.Priority), InReplyTo: req.InReplyTo,
		Signature: r.Header.Get("X-AMP-Signature"), BodySize: int(r.ContentLength),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.router.ListPendingMessages(caller, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (s *Server) handleAckPending(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errs.New(errs.MissingField, "id is required"))
		return
	}
	if err := s.router.AcknowledgePendingMessage(caller, id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

type batchAckRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleBatchAckPending(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req batchAckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.router.BatchAcknowledgeMessages(caller, req.IDs); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"acknowledged": len(req.IDs)})
}

type readReceiptRequest struct {
	OriginalSender string `json:"originalSender"`
}

func (s *Server) handleReadReceipt(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req readReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.router.SendReadReceipt(r.Context(), caller, r.PathValue("id"), req.OriginalSender); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *Server) handleAMPListAgents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	writeData(w, http.StatusOK, s.agents.AMPRegistered())
}

func (s *Server) handleAMPWhoAmI(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	agent, ok := s.agents.Get(caller.AgentID)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "agent not found"))
		return
	}
	writeData(w, http.StatusOK, agent)
}

func (s *Server) handleAMPUpdateMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.agents.Update(caller.AgentID, func(a registry.Agent) (registry.Agent, error) {
		if req.Label != nil {
			a.Label = *req.Label
		}
		if req.Alias != nil {
			a.Alias = *req.Alias
		}
		if req.Avatar != nil {
			a.Avatar = *req.Avatar
		}
		if req.Tags != nil {
			a.Tags = req.Tags
		}
		if req.Owner != nil {
			a.Owner = *req.Owner
		}
		if req.Team != nil {
			a.Team = *req.Team
		}
		if req.WorkingDirectory != nil {
			a.WorkingDirectory = *req.WorkingDirectory
		}
		if req.Metadata != nil {
			a.Metadata = registry.MergeAMPMetadata(a.Metadata, req.Metadata)
		}
		return a, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleAMPDeleteMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.router.RevokeKey(caller); err != nil {
		writeError(w, err)
		return
	}
	if err := s.agents.SoftDelete(caller.AgentID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleAMPResolveAgent(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	resolved, err := s.router.ResolveAgentAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, resolved)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.router.RevokeKey(caller); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	token, err := s.router.RotateKey(caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"apiKey": token})
}

func (s *Server) handleRotateKeypair(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	identity, err := s.router.RotateKeypair(caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, identity)
}

type federationDeliverRequest struct {
	Envelope           protocol.Envelope `json:"envelope"`
	Payload            protocol.Payload  `json:"payload"`
	SenderPublicKeyHex string            `json:"senderPublicKeyHex"`
}

func (s *Server) handleFederationDeliver(w http.ResponseWriter, r *http.Request) {
	var req federationDeliverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.router.DeliverFederated(r.Context(), router.DeliverFederatedRequest{
		Envelope: req.Envelope, Payload: req.Payload, SenderPublicKeyHex: req.SenderPublicKeyHex,
		Provider: r.Header.Get("X-AMP-Provider"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}
