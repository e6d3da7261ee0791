package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/irongate/csrf"
	"github.com/jmcleod/irongate/hooks"
	"github.com/jmcleod/irongate/internal/apperr"
	"github.com/jmcleod/irongate/internal/util"
	"github.com/jmcleod/irongate/login"
	"github.com/jmcleod/irongate/session"
)

// SessionInfo is the body of GET /auth/session.
type SessionInfo struct {
	State     string `json:"state"`
	ExpiresIn int64  `json:"expiresIn"`
}

// SessionInfo reports whether the caller is logged in and for how long.
func (g *Gateway) SessionInfo(w http.ResponseWriter, _ *http.Request, rc *RouteContext) {
	info := SessionInfo{State: StatusAnonymous}
	if rc.Session != nil {
		info.State = StatusAuth
		info.ExpiresIn = rc.Session.RemainingSeconds(g.clock.Now())
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, info)
}

// Login starts the provider's authorization flow.
func (g *Gateway) Login(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
	name := chi.URLParam(r, "provider")
	driver, ok := g.drivers[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown login provider")
		return
	}
	returnURL := r.URL.Query().Get("returnUrl")
	if returnURL != "" && !login.ValidateReturnURL(returnURL, g.host, g.cfg.TrustedRedirectHosts) {
		g.logger.Info("rejected return url", "trace", rc.TraceID, "returnUrl", util.SanitizeForLog(returnURL))
		writeError(w, http.StatusBadRequest, "invalid returnUrl")
		return
	}

	authURL, state, err := driver.StartLogin(r.Context(), g.callbackURL(name))
	if err != nil {
		apperr.Log(r.Context(), g.logger, "starting login failed", err, "trace", rc.TraceID, "provider", name)
		mapError(w, err)
		return
	}
	c, err := g.cookies.LoginState(r.Context(), session.LoginStateCookie{Provider: name, State: state, ReturnURL: returnURL})
	if err != nil {
		apperr.Log(r.Context(), g.logger, "sealing login state failed", err, "trace", rc.TraceID)
		mapError(w, err)
		return
	}
	http.SetCookie(w, c)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes a login and issues the session.
func (g *Gateway) Callback(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
	name := chi.URLParam(r, "provider")
	driver, ok := g.drivers[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown login provider")
		return
	}
	st, err := g.cookies.ReadLoginState(r.Context(), r)
	if err != nil || st.Provider != name {
		g.logger.Info("callback without matching login state", "trace", rc.TraceID, "provider", name, "error", err)
		g.metrics.login(name, login.ErrAuthentication)
		writeError(w, http.StatusUnauthorized, "no login in progress")
		return
	}
	http.SetCookie(w, g.cookies.Expire(session.CookieLoginState))

	user, err := driver.ProcessCallback(r.Context(), r, st.State, g.callbackURL(name))
	g.metrics.login(name, err)
	if err != nil {
		apperr.Log(r.Context(), g.logger, "login callback failed", err, "trace", rc.TraceID, "provider", name)
		mapError(w, err)
		return
	}
	if err := g.hooks.Create(r.Context(), w, &hooks.HookContext{Provider: name, User: user}); err != nil {
		apperr.Log(r.Context(), g.logger, "creating session failed", err, "trace", rc.TraceID, "provider", name)
		mapError(w, err)
		return
	}
	g.logger.Info("login succeeded", "trace", rc.TraceID, "provider", name)

	target := st.ReturnURL
	if target == "" {
		target = g.cfg.SessionBehaviour.RedirectLoginSuccess
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Logout ends the session. It is a GET, so it is guarded by the same-site
// check rather than a submitted token.
func (g *Gateway) Logout(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
	s := rc.Session
	if s != nil && (csrf.SameSiteStrictCookie{}).ShouldBlock(r, g.csrfSignals(rc), nil) {
		g.metrics.Blocked(BlockCSRF)
		g.logger.Info("logout blocked by csrf protection", "trace", rc.TraceID)
		writeError(w, http.StatusUnauthorized, "csrf validation failed")
		return
	}
	if err := g.hooks.Destroy(r.Context(), w, &hooks.HookContext{Old: s}); err != nil {
		apperr.Log(r.Context(), g.logger, "destroying session failed", err, "trace", rc.TraceID)
		mapError(w, err)
		return
	}

	target := g.cfg.SessionBehaviour.RedirectLogout
	if ret := r.URL.Query().Get("returnUrl"); ret != "" && login.ValidateReturnURL(ret, g.host, g.cfg.TrustedRedirectHosts) {
		target = ret
	}
	if s != nil {
		if d, ok := g.drivers[s.Provider()]; ok {
			if fed := d.FederatedLogoutURL(s.User()); fed != "" {
				target = fed
			}
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// JWKS publishes every unexpired signing key.
func (g *Gateway) JWKS(w http.ResponseWriter, _ *http.Request, _ *RouteContext) {
	writeJSON(w, http.StatusOK, g.jwks.SigningPublicKeys())
}

// JWK publishes one signing key.
func (g *Gateway) JWK(w http.ResponseWriter, r *http.Request, _ *RouteContext) {
	set := g.jwks.SigningPublicKey(chi.URLParam(r, "kid"))
	if len(set.Keys) == 0 {
		writeError(w, http.StatusNotFound, "unknown key")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (g *Gateway) callbackURL(provider string) string {
	return g.host.JoinPath("auth", provider, "callback").String()
}
