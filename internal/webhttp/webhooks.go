package webhttp

import (
	"net/http"

	"github.com/aimaestro/meshhost/internal/errs"
	"github.com/aimaestro/meshhost/internal/webhook"
)

func (s *Server) mountWebhookRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhooks", s.handleListWebhooks)
	mux.HandleFunc("POST /webhooks", s.handleCreateWebhook)
	mux.HandleFunc("GET /webhooks/{id}", s.handleGetWebhook)
	mux.HandleFunc("DELETE /webhooks/{id}", s.handleDeleteWebhook)
	mux.HandleFunc("POST /webhooks/{id}/test", s.handleTestWebhook)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.webhooks.List())
}

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.webhooks.Create(webhook.Webhook{URL: req.URL, Events: req.Events, Secret: req.Secret})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	found, ok := s.webhooks.Get(r.PathValue("id"))
	if !ok {
		writeError(w, errs.New(errs.NotFound, "webhook not found"))
		return
	}
	writeData(w, http.StatusOK, found)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.webhooks.Delete(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleTestWebhook sends one synchronous synthetic delivery to the
// webhook's configured URL, per spec.md §6's "POST /webhooks/{id}/test".
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	found, ok := s.webhooks.Get(r.PathValue("id"))
	if !ok {
		writeError(w, errs.New(errs.NotFound, "webhook not found"))
		return
	}
	if s.dispatcher == nil {
		writeError(w, errs.New(errs.InvalidRequest, "webhook dispatch is not configured"))
		return
	}
	delivered := s.dispatcher.Test(found)
	writeData(w, http.StatusOK, map[string]bool{"delivered": delivered})
}
