package webhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/session"
)

func (s *Server) mountAgentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("POST /agents", s.handleCreateAgent)
	mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PATCH /agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("POST /agents/{id}/session", s.handleLinkSession)
	mux.HandleFunc("PATCH /agents/{id}/session", s.handleSendSessionCommand)
	mux.HandleFunc("GET /agents/{id}/session", s.handleSessionStatus)
	mux.HandleFunc("DELETE /agents/{id}/session", s.handleTeardownSession)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.agents.List())
}

// createAgentRequest is the inbound body of POST /agents: a plain (non-AMP)
// agent record, distinct from the AMP registration path at /v1/register.
type createAgentRequest struct {
	Name             string         `json:"name"`
	Label            string         `json:"label"`
	Alias            string         `json:"alias"`
	Avatar           string         `json:"avatar"`
	Tags             []string       `json:"tags"`
	Owner            string         `json:"owner"`
	Team             string         `json:"team"`
	Program          string         `json:"program"`
	Model            string         `json:"model"`
	WorkingDirectory string         `json:"workingDirectory"`
	ProgramArgs      []string       `json:"programArgs"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	self, err := s.hosts.Self()
	if err != nil {
		writeError(w, err)
		return
	}
	hostID := ""
	if self != nil {
		hostID = self.ID
	}
	agent := registry.Agent{
		Name: req.Name, Label: req.Label, Alias: req.Alias, Avatar: req.Avatar,
		Tags: req.Tags, Owner: req.Owner, Team: req.Team, Program: req.Program,
		Model: req.Model, WorkingDirectory: req.WorkingDirectory, ProgramArgs: req.ProgramArgs,
		Metadata: req.Metadata, HostID: hostID,
	}
	created, err := s.agents.Create(agent, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agents.Get(r.PathValue("id"))
	if !ok {
		writeError(w, errs.New(errs.NotFound, "agent not found"))
		return
	}
	writeData(w, http.StatusOK, agent)
}

type updateAgentRequest struct {
	Label            *string        `json:"label"`
	Alias            *string        `json:"alias"`
	Avatar           *string        `json:"avatar"`
	Tags             []string       `json:"tags"`
	Owner            *string        `json:"owner"`
	Team             *string        `json:"team"`
	WorkingDirectory *string        `json:"workingDirectory"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.agents.Update(r.PathValue("id"), func(a registry.Agent) (registry.Agent, error) {
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

// handleDeleteAgent soft-deletes by default; ?hard=true hard-deletes,
// revoking every issued key and wiping the agent's mailboxes.
func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, ok := s.agents.Get(id)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "agent not found"))
		return
	}

	if r.URL.Query().Get("hard") == "true" {
		if err := s.keys.WipeAll(id); err != nil {
			writeError(w, err)
			return
		}
		if err := s.msgs.WipeAgent(agent.Name); err != nil {
			writeError(w, err)
			return
		}
		if err := s.agents.HardDelete(id); err != nil {
			writeError(w, err)
			return
		}
	} else if err := s.agents.SoftDelete(id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// linkSessionRequest is POST /agents/{id}/session's body: associate an
// already-running tmux session with this agent (spawning it is out of
// scope per spec.md §4.D).
type linkSessionRequest struct {
	TmuxSessionName  string `json:"tmuxSessionName"`
	WorkingDirectory string `json:"workingDirectory"`
}

func (s *Server) handleLinkSession(w http.ResponseWriter, r *http.Request) {
	var req linkSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.TmuxSessionName == "" {
		writeError(w, errs.New(errs.MissingField, "tmuxSessionName is required"))
		return
	}
	now := time.Now()
	updated, err := s.agents.Update(r.PathValue("id"), func(a registry.Agent) (registry.Agent, error) {
		a.Sessions = []registry.AgentSession{{
			Index: 0, TmuxSessionName: req.TmuxSessionName, WorkingDirectory: req.WorkingDirectory,
			Status: registry.SessionOnline, StartedAt: &now,
		}}
		return a, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

type sendCommandRequest struct {
	Command     string `json:"command"`
	RequireIdle *bool  `json:"requireIdle"`
	AddNewline  *bool  `json:"addNewline"`
}

func (s *Server) handleSendSessionCommand(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agents.Get(r.PathValue("id"))
	if !ok {
		writeError(w, errs.New(errs.NotFound, "agent not found"))
		return
	}
	sess := agent.CanonicalSession()
	if sess == nil {
		writeError(w, errs.New(errs.NotFound, "agent has no linked session"))
		return
	}

	var req sendCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	requireIdle := true
	if req.RequireIdle != nil {
		requireIdle = *req.RequireIdle
	}
	addNewline := true
	if req.AddNewline != nil {
		addNewline = *req.AddNewline
	}

	ctx := r.Context()
	err := s.sessions.SendCommand(ctx, sess.TmuxSessionName, req.Command, requireIdle, addNewline)
	var notIdle *session.ErrNotIdle
	if asNotIdle(err, &notIdle) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = writeJSON(w, map[string]any{
			"error":             "Session is not idle",
			"idle":              false,
			"timeSinceActivity": notIdle.TimeSinceActivity.String(),
			"idleThreshold":     notIdle.IdleThreshold.String(),
			"status":            http.StatusConflict,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"sent": true})
}

func asNotIdle(err error, target **session.ErrNotIdle) bool {
	ni, ok := err.(*session.ErrNotIdle)
	if ok {
		*target = ni
	}
	return ok
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agents.Get(r.PathValue("id"))
	if !ok {
		writeError(w, errs.New(errs.NotFound, "agent not found"))
		return
	}
	sess := agent.CanonicalSession()
	if sess == nil {
		writeError(w, errs.New(errs.NotFound, "agent has no linked session"))
		return
	}
	ctx := r.Context()
	exists := s.sessions.SessionExists(ctx, sess.TmuxSessionName)
	status := s.sessions.ActivityStatus(sess.TmuxSessionName)
	elapsed, hasActivity := s.sessions.TimeSinceActivity(sess.TmuxSessionName)

	body := map[string]any{
		"exists": exists,
		"status": status,
		"idle":   s.sessions.IsIdle(sess.TmuxSessionName),
	}
	if hasActivity {
		body["timeSinceActivity"] = elapsed.String()
	}
	writeData(w, http.StatusOK, body)
}

func (s *Server) handleTeardownSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, ok := s.agents.Get(id)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "agent not found"))
		return
	}
	sess := agent.CanonicalSession()

	kill, _ := strconv.ParseBool(r.URL.Query().Get("kill"))
	deleteAgent, _ := strconv.ParseBool(r.URL.Query().Get("deleteAgent"))

	ctx := r.Context()
	if kill && sess != nil {
		if err := s.sessions.KillSession(ctx, sess.TmuxSessionName); err != nil {
			writeError(w, err)
			return
		}
	} else if sess != nil {
		s.unlinkSession(id)
	}

	if deleteAgent {
		if err := s.agents.SoftDelete(id); err != nil {
			writeError(w, err)
			return
		}
	}
	writeData(w, http.StatusOK, map[string]bool{"killed": kill, "deleted": deleteAgent})
}

func (s *Server) unlinkSession(id string) {
	_, _ = s.agents.Update(id, func(a registry.Agent) (registry.Agent, error) {
		a.Sessions = nil
		return a, nil
	})
}
