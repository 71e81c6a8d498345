package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MRN-Code/multishot/protocol"
)

// HTTPSite exposes a Site over HTTP.
type HTTPSite struct {
	site *Site
}

// NewHTTPSite wraps a site with HTTP endpoints.
func NewHTTPSite(site *Site) *HTTPSite {
	return &HTTPSite{site: site}
}

// RegisterRoutes registers HTTP routes for the site.
func (h *HTTPSite) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)

	r.Post("/model", h.handleModel)
	r.Get("/health", h.handleHealth)
}

func (h *HTTPSite) handleModel(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.site.ComputeRound(req.MVals)
	if err != nil {
		var shapeErr *protocol.InputShapeError
		if errors.As(err, &shapeErr) {
			// Fails only this site's round; the orchestrator resubmits.
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(&ComputeResponse{
		Computed: result != nil,
		Result:   result,
	})
}

func (h *HTTPSite) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
