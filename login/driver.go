// Package login holds the login provider drivers. A driver starts the
// provider's authorization flow and turns its callback into a user
// identity; session handling stays with the gateway.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/session"
)

// Driver type names accepted in loginProviders.<name>.type.
const (
	TypeOAuth2 = "oauth2"
	TypeOIDC   = "oidc"
)

var (
	// ErrAuthentication marks a callback the caller is at fault for: a
	// missing code, a state mismatch, or a token the provider rejected.
	ErrAuthentication = errors.New("authentication failed")
	ErrUnknownDriver  = errors.New("unknown login driver")
	ErrSettings       = errors.New("invalid login provider settings")
)

// Driver runs one provider's login flow.
type Driver interface {
	// StartLogin returns the provider URL to send the browser to and the
	// state that the callback must echo.
	StartLogin(ctx context.Context, callbackURL string) (authURL, state string, err error)
	ProcessCallback(ctx context.Context, r *http.Request, expectedState, callbackURL string) (session.UserModel, error)
	// FederatedLogoutURL is where to end the provider session, or "".
	FederatedLogoutURL(user session.UserModel) string
}

// SettingsError lists every problem of one provider's settings.
type SettingsError struct {
	Provider string
	Problems []string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("login provider %q: %s", e.Provider, strings.Join(e.Problems, "; "))
}

func (e *SettingsError) Unwrap() error { return ErrSettings }

// New builds the driver for a configured provider. client is used for
// calls to the provider; nil means http.DefaultClient.
func New(ctx context.Context, name string, p config.LoginProvider, client *http.Client) (Driver, error) {
	switch p.Type {
	case TypeOAuth2:
		return NewOAuth2Driver(name, p.With, client)
	case TypeOIDC:
		return NewOIDCDriver(ctx, name, p.With, client)
	default:
		return nil, fmt.Errorf("%w: provider %q has type %q", ErrUnknownDriver, name, p.Type)
	}
}

// ValidateReturnURL accepts absolute URLs pointing at the gateway's own host
// or one of the trusted hosts. When the gateway is served over https the
// return URL must be too.
func ValidateReturnURL(raw string, hostURI *url.URL, trusted []string) bool {
	if raw == "" || hostURI == nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || u.User != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if hostURI.Scheme == "https" && u.Scheme != "https" {
		return false
	}
	if strings.EqualFold(u.Host, hostURI.Host) {
		return true
	}
	return slices.ContainsFunc(trusted, func(h string) bool { return strings.EqualFold(h, u.Host) })
}

// settingsProblems checks what every OAuth2 based driver needs.
func settingsProblems(s config.LoginProviderSettings) []string {
	var problems []string
	if s.ClientID == "" {
		problems = append(problems, "clientId missing")
	}
	if s.ClientSecret == "" {
		problems = append(problems, "clientSecret missing")
	}
	if len(s.Scopes) == 0 {
		problems = append(problems, "scopes missing")
	}
	if !absoluteURL(s.AuthEndpoint) {
		problems = append(problems, "authEndpoint missing or not an absolute URL")
	}
	if !absoluteURL(s.TokenEndpoint) {
		problems = append(problems, "tokenEndpoint missing or not an absolute URL")
	}
	if s.FederatedLogoutURL != "" && !absoluteURL(s.FederatedLogoutURL) {
		problems = append(problems, "federatedLogoutUrl must be an absolute URL")
	}
	return problems
}

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return s != "" && err == nil && u.IsAbs() && u.Host != ""
}
