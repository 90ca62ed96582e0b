package server

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/auth"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
	aiclmw "github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/middleware"
)

// login handles GET /auth/login?redirect=<path>. The pipeline has already
// completed the login by the time it runs, so it only forwards the browser.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if raw := r.URL.Query().Get("redirect"); raw != "" {
		if u, err := url.Parse(raw); err == nil {
			target = auth.LocalTarget(u)
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// callback handles GET /auth/callback for browsers that are already logged
// in, e.g. a reloaded callback page.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}

// logout handles GET|POST /auth/logout: it forgets the login, destroys the
// session and sends the browser to the provider's end-session endpoint or
// the post-logout page.
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.opts.Sessions.Load(ctx, r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.opts.Authenticator.Logout(sess)
	if err := h.opts.Sessions.Destroy(ctx, w, sess); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	target := h.opts.PostLogoutRedirect
	if target == "" {
		target = "/"
	}
	if h.opts.LogoutURL != nil {
		if providerURL := h.opts.LogoutURL(target); providerURL != "" {
			target = providerURL
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// whoami handles GET /api/whoami.
func (h *handlers) whoami(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.errors.HandleError(w, r, fmt.Errorf("%w: %w", autherr.ErrAuthentication, aiclmw.ErrNoIdentity))
		return
	}
	aiclmw.WriteJSON(w, http.StatusOK, whoamiResponse{Identity: id, IsAdmin: id.Role.IsAdmin()})
}

type whoamiResponse struct {
	*identity.Identity
	IsAdmin bool `json:"is_admin"`
}
