package webhttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/messages"
	"github.com/aimaestro/meshhost/internal/protocol"
	"github.com/aimaestro/meshhost/internal/router"
)

func (s *Server) mountMessageRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /messages", s.handleMessagesQuery)
	mux.HandleFunc("POST /messages", s.handleSendMessage)
	mux.HandleFunc("PATCH /messages", s.handleUpdateMessage)
	mux.HandleFunc("DELETE /messages", s.handleDeleteMessage)
	mux.HandleFunc("POST /messages/forward", s.handleForwardMessage)
	mux.HandleFunc("GET /messages/meeting", s.handleMeetingMessages)
}

// defaultListLimit is the mailbox listing page size per spec.md §4.I when
// the caller omits the limit query param entirely. An explicit "limit=0"
// is distinct from omission and means "all" (see messages.ListOptions).
const defaultListLimit = 25

func listOptionsFromQuery(q map[string][]string) messages.ListOptions {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	limit := defaultListLimit
	if v, ok := q["limit"]; ok && len(v) > 0 {
		limit, _ = strconv.Atoi(v[0])
	}
	preview, _ := strconv.Atoi(get("previewLength"))
	return messages.ListOptions{
		Status:        messages.Status(get("status")),
		Priority:      protocol.Priority(get("priority")),
		From:          get("from"),
		To:            get("to"),
		Limit:         limit,
		PreviewLength: preview,
	}
}

// resolveAgentIdentifier matches spec.md §4.I's resolveAgentIdentifier:
// look up name|alias|sessionName against the local registry and return
// the canonical {agentId, name} pair.
func (s *Server) resolveAgentIdentifier(identifier string) (map[string]string, bool) {
	for _, a := range s.agents.List() {
		if a.Name == identifier || a.Alias == identifier {
			return map[string]string{"agentId": a.ID, "name": a.Name}, true
		}
		if sess := a.CanonicalSession(); sess != nil && sess.TmuxSessionName == identifier {
			return map[string]string{"agentId": a.ID, "name": a.Name}, true
		}
	}
	return nil, false
}

// handleMessagesQuery dispatches GET /messages by its `action` query
// parameter (resolve|search|unread-count|sent-count|stats|agents), or
// runs a plain mailbox listing when no action is given.
func (s *Server) handleMessagesQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch q.Get("action") {
	case "resolve":
		identifier := q.Get("identifier")
		resolved, ok := s.resolveAgentIdentifier(identifier)
		if !ok {
			writeError(w, errs.New(errs.NotFound, "agent identifier not found"))
			return
		}
		writeData(w, http.StatusOK, resolved)

	case "unread-count":
		name := q.Get("name")
		n, err := s.msgs.UnreadCount(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]int{"unreadCount": n})

	case "sent-count":
		name := q.Get("name")
		n, err := s.msgs.SentCount(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]int{"sentCount": n})

	case "stats":
		name := q.Get("name")
		unread, err := s.msgs.UnreadCount(name)
		if err != nil {
			writeError(w, err)
			return
		}
		sent, err := s.msgs.SentCount(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]int{"unreadCount": unread, "sentCount": sent})

	case "agents":
		names := make([]string, 0)
		for _, a := range s.agents.List() {
			names = append(names, a.Name)
		}
		writeData(w, http.StatusOK, names)

	case "search":
		name := q.Get("name")
		box := messages.Box(q.Get("box"))
		if box == "" {
			box = messages.BoxInbox
		}
		list, err := s.msgs.List(box, name, listOptionsFromQuery(q))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, list)

	default:
		name := q.Get("name")
		box := messages.Box(q.Get("box"))
		if box == "" {
			box = messages.BoxInbox
		}
		list, err := s.msgs.List(box, name, listOptionsFromQuery(q))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, list)
	}
}

// sendMessageRequest is POST /messages's body: a compose-and-route call
// on behalf of the authenticated caller.
type sendMessageRequest struct {
	To        string           `json:"to"`
	Subject   string           `json:"subject"`
	Payload   protocol.Payload `json:"payload"`
	Priority  string           `json:"priority"`
	InReplyTo string           `json:"inReplyTo"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.router.Route(r.Context(), caller, router.RouteRequest{
		To: req.To, Subject: req.Subject, Payload: req.Payload,
		Priority: protocol.Priority(req.Priority), InReplyTo: req.InReplyTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

type messageMutationRequest struct {
	Action string `json:"action"`
	Box    string `json:"box"`
	Name   string `json:"name"`
	ID     string `json:"id"`
}

// handleUpdateMessage handles PATCH /messages: markMessageAsRead or
// archiveMessage, selected by the action field/query param.
func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req messageMutationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Action == "" {
		req.Action = r.URL.Query().Get("action")
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, errs.New(errs.MissingField, "name and id are required"))
		return
	}

	var err error
	switch req.Action {
	case "archive":
		err = s.msgs.Archive(req.Name, req.ID)
	default:
		err = s.msgs.MarkAsRead(req.Name, req.ID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	id := q.Get("id")
	box := messages.Box(q.Get("box"))
	if box == "" {
		box = messages.BoxInbox
	}
	if name == "" || id == "" {
		writeError(w, errs.New(errs.MissingField, "name and id are required"))
		return
	}
	if err := s.msgs.Delete(box, name, id); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// forwardMessageRequest is POST /messages/forward's body: re-route an
// already-delivered message to a new recipient.
type forwardMessageRequest struct {
	Box  string `json:"box"`
	Name string `json:"name"`
	ID   string `json:"id"`
	To   string `json:"to"`
}

func (s *Server) handleForwardMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req forwardMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	box := messages.Box(req.Box)
	if box == "" {
		box = messages.BoxInbox
	}
	list, err := s.msgs.List(box, req.Name, messages.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	var found *messages.Summary
	for i := range list {
		if list[i].ID == req.ID {
			found = &list[i]
			break
		}
	}
	if found == nil {
		writeError(w, errs.New(errs.NotFound, "message not found"))
		return
	}

	result, err := s.router.Route(r.Context(), caller, router.RouteRequest{
		To: req.To, Subject: "Fwd: " + found.Subject,
		Payload: protocol.Payload{Type: protocol.PayloadNotification, Message: found.Preview},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// handleMeetingMessages serves GET /messages/meeting, per spec.md §4.I's
// meeting-thread listing.
func (s *Server) handleMeetingMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	meetingID := q.Get("meetingId")
	if meetingID == "" {
		writeError(w, errs.New(errs.MissingField, "meetingId is required"))
		return
	}
	var participants []string
	if raw := q.Get("participants"); raw != "" {
		participants = strings.Split(raw, ",")
	}
	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, errs.Wrap(errs.InvalidField, "since is not a valid ISO-8601 timestamp", err))
			return
		}
		since = &parsed
	}

	list, err := s.msgs.MeetingMessages(meetingID, participants, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}
