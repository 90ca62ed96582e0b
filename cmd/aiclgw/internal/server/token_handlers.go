package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/models"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	aiclmw "github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/middleware"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/tokens"
)

// errBadRequest marks client input errors rendered as 400.
var errBadRequest = errors.New("bad request")

type issueTokenRequest struct {
	Name string `json:"name"`
	// TTL is a Go duration string such as "720h"; empty means no expiry.
	TTL string `json:"ttl"`
	// Subject lets admins issue tokens for another user.
	Subject string `json:"subject,omitempty"`
}

type tokenResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Subject    string     `json:"subject"`
	Token      string     `json:"token,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func newTokenResponse(t *models.APIToken) tokenResponse {
	return tokenResponse{
		ID:         t.ID,
		Name:       t.Name,
		Subject:    t.Subject,
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		RevokedAt:  t.RevokedAt,
		LastUsedAt: t.LastUsedAt,
	}
}

// issueToken handles POST /api/tokens.
func (h *handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())

	var req issueTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.badRequest(w, r, fmt.Errorf("decode request: %w", err))
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			h.badRequest(w, r, fmt.Errorf("invalid ttl %q", req.TTL))
			return
		}
		ttl = parsed
	}
	if limit := h.opts.MaxTokenTTL; limit > 0 && (ttl == 0 || ttl > limit) {
		ttl = limit
	}

	subject := id.ID
	if req.Subject != "" && req.Subject != id.ID.String() {
		if !id.Role.IsAdmin() {
			h.errors.HandleError(w, r, fmt.Errorf("%w: Role mismatch: only %s may issue tokens for other users", autherr.ErrRoleMismatch, identity.RoleRoot))
			return
		}
		parsed, err := uuid.Parse(req.Subject)
		if err != nil {
			h.badRequest(w, r, fmt.Errorf("invalid subject %q", req.Subject))
			return
		}
		subject = parsed
	}

	token, record, err := h.opts.Tokens.Issue(r.Context(), tokens.IssueRequest{
		Subject:   subject,
		Name:      req.Name,
		TTL:       ttl,
		CreatedBy: id.ID.String(),
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp := newTokenResponse(record)
	resp.Token = token
	aiclmw.WriteJSON(w, http.StatusCreated, resp)
}

// listTokens handles GET /api/tokens. Admins may pass ?subject=<id>.
func (h *handlers) listTokens(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())

	subject := id.ID
	if raw := r.URL.Query().Get("subject"); raw != "" && id.Role.IsAdmin() {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			h.badRequest(w, r, fmt.Errorf("invalid subject %q", raw))
			return
		}
		subject = parsed
	}

	records, err := h.opts.Tokens.List(r.Context(), subject)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	out := make([]tokenResponse, 0, len(records))
	for i := range records {
		out = append(out, newTokenResponse(&records[i]))
	}
	aiclmw.WriteJSON(w, http.StatusOK, out)
}

// revokeToken handles DELETE /api/tokens/{tokenID}. Tokens of other users
// look absent unless the caller is an admin.
func (h *handlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	tokenID := chi.URLParam(r, "tokenID")

	record, err := h.opts.Tokens.Get(r.Context(), tokenID)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if record.Subject != id.ID.String() && !id.Role.IsAdmin() {
		h.errors.HandleError(w, r, fmt.Errorf("%w: token %s", autherr.ErrNotFound, tokenID))
		return
	}
	if err := h.opts.Tokens.RevokeByID(r.Context(), tokenID); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) badRequest(w http.ResponseWriter, _ *http.Request, err error) {
	h.logger.Debugw("bad request", "error", err)
	aiclmw.WriteJSON(w, http.StatusBadRequest, aiclmw.ErrorResponse{Error: "bad_request", Message: fmt.Errorf("%w: %w", errBadRequest, err).Error()})
}
