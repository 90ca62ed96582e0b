package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	aiclmw "github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/middleware"
)

// report handles GET /api/admin/report.
func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	roster, err := h.opts.Directory.GetComprehensiveReport(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	aiclmw.WriteJSON(w, http.StatusOK, roster)
}

// teams handles GET /api/admin/teams.
func (h *handlers) teams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.opts.Directory.GetTeams(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	aiclmw.WriteJSON(w, http.StatusOK, teams)
}

// institutions handles GET /api/admin/institutions.
func (h *handlers) institutions(w http.ResponseWriter, r *http.Request) {
	institutions, err := h.opts.Directory.GetInstitutions(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	aiclmw.WriteJSON(w, http.StatusOK, institutions)
}

// invalidateAll handles POST /api/admin/cache/invalidate.
func (h *handlers) invalidateAll(w http.ResponseWriter, _ *http.Request) {
	h.opts.Directory.InvalidateCaches()
	aiclmw.WriteJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "scope": "all"})
}

// invalidateUser handles POST /api/admin/cache/invalidate/{userID}.
func (h *handlers) invalidateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.opts.Directory.InvalidateUserCache(userID)
	aiclmw.WriteJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "scope": "user", "user_id": userID})
}
