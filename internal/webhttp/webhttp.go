// Package webhttp is the mesh core's HTTP surface: a thin net/http.ServeMux
// (Go 1.22+ method-pattern routing) that adapts every route spec.md §6
// names onto the Router, Aggregator, and supporting stores, matching the
// teacher's internal/api/server.go convention of one handler function per
// route marshaling a uniform JSON envelope.
package webhttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aimaestro/meshhost/internal/aggregator"
	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/eventbus"
	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/meeting"
	"github.com/aimaestro/meshhost/internal/messages"
	"github.com/aimaestro/meshhost/internal/peermesh"
	"github.com/aimaestro/meshhost/internal/propagation"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/router"
	"github.com/aimaestro/meshhost/internal/schema"
	"github.com/aimaestro/meshhost/internal/session"
	"github.com/aimaestro/meshhost/internal/statusstream"
	"github.com/aimaestro/meshhost/internal/webhook"
)

// Deps groups every service Server adapts onto HTTP.
type Deps struct {
	Router     *router.Router
	Aggregator *aggregator.Aggregator
	Agents     *registry.Registry
	Keys       *registry.KeyStore
	Hosts      *hostsconfig.Store
	Messages   *messages.Store
	Meetings   *meeting.Store
	Webhooks   *webhook.Store
	Dispatcher *webhook.Dispatcher
	Sessions   *session.Supervisor
	StatusHub  *statusstream.Hub
	Mesh       *peermesh.Driver
	Bus        *eventbus.Bus
	Propagation *propagation.Guard
}

// Server adapts Deps onto an http.Handler.
type Server struct {
	router     *router.Router
	aggregator *aggregator.Aggregator
	agents     *registry.Registry
	keys       *registry.KeyStore
	hosts      *hostsconfig.Store
	msgs       *messages.Store
	meetings   *meeting.Store
	webhooks   *webhook.Store
	dispatcher *webhook.Dispatcher
	sessions   *session.Supervisor
	statusHub  *statusstream.Hub
	mesh       *peermesh.Driver
	bus        *eventbus.Bus
	propagation *propagation.Guard
}

// New builds a Server from deps.
func New(deps Deps) *Server {
	return &Server{
		router:     deps.Router,
		aggregator: deps.Aggregator,
		agents:     deps.Agents,
		keys:       deps.Keys,
		hosts:      deps.Hosts,
		msgs:       deps.Messages,
		meetings:   deps.Meetings,
		webhooks:   deps.Webhooks,
		dispatcher: deps.Dispatcher,
		sessions:   deps.Sessions,
		statusHub:  deps.StatusHub,
		mesh:       deps.Mesh,
		bus:        deps.Bus,
		propagation: deps.Propagation,
	}
}

// Mux assembles every route spec.md §6 names into one ServeMux.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	s.mountAgentRoutes(mux)
	s.mountMessageRoutes(mux)
	s.mountMeetingRoutes(mux)
	s.mountHostRoutes(mux)
	s.mountAMPRoutes(mux)
	s.mountWebhookRoutes(mux)

	if s.statusHub != nil {
		mux.Handle("GET /status-stream", s.statusHub)
	}

	return mux
}

// writeData writes a successful {data, status} envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "status": status})
}

// writeError writes a {error, message, status, field?} envelope derived
// from err's wire Code, per spec.md §6's uniform error shape.
func writeError(w http.ResponseWriter, err error) {
	status := errs.StatusOf(err)
	body := map[string]any{
		"error":   string(errs.CodeOf(err)),
		"message": err.Error(),
		"status":  status,
	}
	var e *errs.Error
	if errors.As(err, &e) {
		for k, v := range e.Fields {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON encodes body as-is, without wrapping it in the {data} shape;
// used by handlers (e.g. the 409 idle-conflict response) that need to
// return a spec-mandated literal body shape instead.
func writeJSON(w http.ResponseWriter, body any) error {
	return json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes r's body into v, wrapping a malformed body as a
// wire-level invalid_field error.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.InvalidField, "malformed JSON body", err)
	}
	return nil
}

// decodeJSONSchema validates r's body against the named JSON Schema
// before decoding it into v, so externally-authored AMP bodies
// (register, route) fail with a single invalid_field error instead of a
// field-by-field hand check.
func decodeJSONSchema(r *http.Request, schemaName string, v any) error {
	if r.Body == nil {
		return errs.New(errs.MissingField, "request body is required")
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return errs.Wrap(errs.InvalidField, "could not read request body", err)
	}
	if err := schema.Validate(schemaName, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Wrap(errs.InvalidField, "malformed JSON body", err)
	}
	return nil
}

// bearerToken extracts the "Bearer <token>" credential from r, or "" if
// absent.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// authenticate resolves r's caller via the router, answering 401 and
// reporting the failure to the handler when it can't.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (router.Caller, bool) {
	caller, err := s.router.Authenticate(bearerToken(r), r.Header.Get("X-Forwarded-From"))
	if err != nil {
		writeError(w, err)
		return router.Caller{}, false
	}
	return caller, true
}
