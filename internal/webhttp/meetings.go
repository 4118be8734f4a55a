package webhttp

import (
	"net/http"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/meeting"
)

func (s *Server) mountMeetingRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /meetings", s.handleListMeetings)
	mux.HandleFunc("POST /meetings", s.handleCreateMeeting)
	mux.HandleFunc("GET /meetings/{id}", s.handleGetMeeting)
	mux.HandleFunc("PATCH /meetings/{id}", s.handleUpdateMeeting)
	mux.HandleFunc("DELETE /meetings/{id}", s.handleDeleteMeeting)
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.meetings.List())
}

type createMeetingRequest struct {
	Name        string   `json:"name"`
	AgentIDs    []string `json:"agentIds"`
	TeamID      string   `json:"teamId"`
	SidebarMode bool     `json:"sidebarMode"`
}

func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.meetings.Create(meeting.Meeting{
		Name: req.Name, AgentIDs: req.AgentIDs, TeamID: req.TeamID, SidebarMode: req.SidebarMode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	m, ok := s.meetings.Get(r.PathValue("id"))
	if !ok {
		writeError(w, errs.New(errs.NotFound, "meeting not found"))
		return
	}
	writeData(w, http.StatusOK, m)
}

// updateMeetingRequest is PATCH /meetings/{id}'s body: it covers both
// ordinary field edits and the "end meeting" transition, since ending a
// meeting is just another state update per spec.md §3.1.
type updateMeetingRequest struct {
	ActiveAgentID *string  `json:"activeAgentId"`
	SidebarMode   *bool    `json:"sidebarMode"`
	AgentIDs      []string `json:"agentIds"`
	End           bool     `json:"end"`
}

func (s *Server) handleUpdateMeeting(w http.ResponseWriter, r *http.Request) {
	var req updateMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if req.End {
		ended, err := s.meetings.End(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, ended)
		return
	}
	updated, err := s.meetings.Update(id, func(m meeting.Meeting) (meeting.Meeting, error) {
		if req.ActiveAgentID != nil {
			m.ActiveAgentID = *req.ActiveAgentID
		}
		if req.SidebarMode != nil {
			m.SidebarMode = *req.SidebarMode
		}
		if req.AgentIDs != nil {
			m.AgentIDs = req.AgentIDs
		}
		return m, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	if err := s.meetings.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}
