package webhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/meshclient"
)

func (s *Server) mountHostRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /hosts", s.handleListHosts)
	mux.HandleFunc("POST /hosts", s.handleAddHost)
	mux.HandleFunc("PUT /hosts/{id}", s.handleUpdateHost)
	mux.HandleFunc("DELETE /hosts/{id}", s.handleRemoveHost)
	mux.HandleFunc("GET /hosts/identity", s.handleHostIdentity)
	mux.HandleFunc("GET /hosts/health", s.handleHostHealth)
	mux.HandleFunc("POST /hosts/sync", s.handleHostSync)
	mux.HandleFunc("GET /hosts/sync", s.handleHostStatus)
	mux.HandleFunc("POST /hosts/register-peer", s.handleRegisterPeer)
	mux.HandleFunc("POST /hosts/exchange-peers", s.handleExchangePeers)
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.hosts.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, hosts)
}

func (s *Server) handleAddHost(w http.ResponseWriter, r *http.Request) {
	var h hostsconfig.Host
	if err := decodeJSON(r, &h); err != nil {
		writeError(w, err)
		return
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	h.Type = hostsconfig.TypeRemote
	if err := s.hosts.AddHost(h); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, h)
}

func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request) {
	var patch hostsconfig.Host
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.hosts.UpdateHost(r.PathValue("id"), func(h hostsconfig.Host) (hostsconfig.Host, error) {
		if patch.Name != "" {
			h.Name = patch.Name
		}
		if patch.URL != "" {
			h.URL = patch.URL
		}
		if patch.Aliases != nil {
			h.Aliases = patch.Aliases
		}
		if patch.Description != "" {
			h.Description = patch.Description
		}
		h.Enabled = patch.Enabled
		h.Tailscale = patch.Tailscale
		return h, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleRemoveHost(w http.ResponseWriter, r *http.Request) {
	if err := s.hosts.RemoveHost(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleHostIdentity(w http.ResponseWriter, r *http.Request) {
	self, err := s.hosts.Self()
	if err != nil {
		writeError(w, err)
		return
	}
	if self == nil {
		writeError(w, errs.New(errs.NotFound, "no self host configured"))
		return
	}
	writeData(w, http.StatusOK, self)
}

// handleHostHealth probes an arbitrary URL (not necessarily a known
// host), per spec.md §6's `GET /hosts/health?url=` ad-hoc reachability
// check used by the setup wizard before a host is added.
func (s *Server) handleHostHealth(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, errs.New(errs.MissingField, "url is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	probe := meshclient.New(http.DefaultTransport)
	healthy := probe.ProbeHealth(ctx, hostsconfig.Host{URL: target})
	writeData(w, http.StatusOK, map[string]bool{"healthy": healthy})
}

func (s *Server) handleHostSync(w http.ResponseWriter, r *http.Request) {
	if s.mesh == nil {
		writeError(w, errs.New(errs.InvalidRequest, "mesh sync is not configured"))
		return
	}
	result, err := s.mesh.Sync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleHostStatus(w http.ResponseWriter, r *http.Request) {
	if s.mesh == nil {
		writeError(w, errs.New(errs.InvalidRequest, "mesh sync is not configured"))
		return
	}
	statuses, err := s.mesh.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, statuses)
}

func (s *Server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req hostsconfig.RegisterPeerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.hosts.RegisterPeer(req, s.propagation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleExchangePeers(w http.ResponseWriter, r *http.Request) {
	var req hostsconfig.ExchangePeersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	client := meshclient.New(http.DefaultTransport)
	probe := func(h hostsconfig.Host) bool {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		return client.ProbeHealth(ctx, h)
	}
	result, err := s.hosts.ExchangePeers(req, s.propagation, probe)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}
