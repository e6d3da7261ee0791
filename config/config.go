// Package config holds the gateway's configuration model. It is loaded once
// at startup and treated as read-only afterwards.
package config

import (
	"net/url"
	"regexp"
	"strings"
)

// MainConfig is the root of the gateway configuration.
type MainConfig struct {
	HostURI              string                     `mapstructure:"hostUri" yaml:"hostUri"`
	TrustedRedirectHosts []string                   `mapstructure:"trustedRedirectHosts" yaml:"trustedRedirectHosts,omitempty"`
	LoginProviders       map[string]LoginProvider   `mapstructure:"loginProviders" yaml:"loginProviders"`
	Routes               map[string]GatewayRoute    `mapstructure:"routes" yaml:"routes"`
	SecurityProfiles     map[string]SecurityProfile `mapstructure:"securityProfiles" yaml:"securityProfiles"`
	SessionBehaviour     SessionBehaviour           `mapstructure:"sessionBehaviour" yaml:"sessionBehaviour"`
	TraceProfile         TraceProfile               `mapstructure:"traceProfile" yaml:"traceProfile"`
	KeyManagementProfile KeyManagementProfile       `mapstructure:"keyManagementProfile" yaml:"keyManagementProfile"`
	Blacklist            BlacklistProfile           `mapstructure:"blacklist" yaml:"blacklist"`
	UpstreamAPIKey       string                     `mapstructure:"upstreamApiKey" yaml:"upstreamApiKey,omitempty"`
	CookieSecret         string                     `mapstructure:"cookieSecret" yaml:"cookieSecret,omitempty"`
	WorkerPoolSize       int                        `mapstructure:"workerPoolSize" yaml:"workerPoolSize"`
}

// LoginProvider selects a login driver and its settings.
type LoginProvider struct {
	Type string                `mapstructure:"type" yaml:"type"`
	With LoginProviderSettings `mapstructure:"with" yaml:"with"`
}

// LoginProviderSettings are the OAuth2/OIDC client settings of a provider.
type LoginProviderSettings struct {
	ClientID           string   `mapstructure:"clientId" yaml:"clientId"`
	ClientSecret       string   `mapstructure:"clientSecret" yaml:"clientSecret,omitempty"`
	Scopes             []string `mapstructure:"scopes" yaml:"scopes"`
	AuthEndpoint       string   `mapstructure:"authEndpoint" yaml:"authEndpoint"`
	TokenEndpoint      string   `mapstructure:"tokenEndpoint" yaml:"tokenEndpoint"`
	UserInfoEndpoint   string   `mapstructure:"userInfoEndpoint" yaml:"userInfoEndpoint,omitempty"`
	IDClaim            string   `mapstructure:"idClaim" yaml:"idClaim,omitempty"`
	Issuer             string   `mapstructure:"issuer" yaml:"issuer,omitempty"`
	JWKSEndpoint       string   `mapstructure:"jwksEndpoint" yaml:"jwksEndpoint,omitempty"`
	FederatedLogoutURL string   `mapstructure:"federatedLogoutUrl" yaml:"federatedLogoutUrl,omitempty"`
}

// GatewayRoute maps a path pattern to an upstream URL under a security
// profile (selected by Type).
type GatewayRoute struct {
	Path           string      `mapstructure:"path" yaml:"path"`
	URL            string      `mapstructure:"url" yaml:"url"`
	Type           string      `mapstructure:"type" yaml:"type"`
	AllowAnonymous bool        `mapstructure:"allowAnonymous" yaml:"allowAnonymous"`
	AutoLogin      string      `mapstructure:"autoLogin" yaml:"autoLogin,omitempty"`
	Rewrite        PathRewrite `mapstructure:"rewrite" yaml:"rewrite"`
}

// PathBase is the route path with its trailing wildcard removed, so
// "/echo/**" yields "/echo/".
func (r GatewayRoute) PathBase() string {
	p := r.Path
	switch {
	case strings.HasSuffix(p, "**"):
		p = strings.TrimSuffix(p, "**")
	case strings.HasSuffix(p, "*"):
		p = strings.TrimSuffix(p, "*")
	}
	return p
}

// URLPath is the path component of the upstream URL.
func (r GatewayRoute) URLPath() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// PathRewrite rewrites the inbound path into the upstream path. The
// placeholders <route-path-base> and <route-uri-path> are substituted per
// route before the regex is compiled.
type PathRewrite struct {
	Regex       string `mapstructure:"regex" yaml:"regex"`
	Replacement string `mapstructure:"replacement" yaml:"replacement"`
}

const (
	PlaceholderPathBase = "<route-path-base>"
	PlaceholderURIPath  = "<route-uri-path>"
)

// ForRoute substitutes the route placeholders.
func (p PathRewrite) ForRoute(r GatewayRoute) PathRewrite {
	re := strings.NewReplacer(PlaceholderPathBase, regexp.QuoteMeta(r.PathBase()), PlaceholderURIPath, regexp.QuoteMeta(r.URLPath()))
	repl := strings.NewReplacer(PlaceholderPathBase, r.PathBase(), PlaceholderURIPath, r.URLPath())
	return PathRewrite{Regex: re.Replace(p.Regex), Replacement: repl.Replace(p.Replacement)}
}

// SecurityProfile is the policy shared by every route of the same type.
type SecurityProfile struct {
	AllowedMethods  []string          `mapstructure:"allowedMethods" yaml:"allowedMethods"`
	CSRFProtection  string            `mapstructure:"csrfProtection" yaml:"csrfProtection"`
	CSRFSafeMethods []string          `mapstructure:"csrfSafeMethods" yaml:"csrfSafeMethods"`
	ResponseHeaders map[string]string `mapstructure:"responseHeaders" yaml:"responseHeaders,omitempty"`
	UserMapping     UserMapping       `mapstructure:"userMapping" yaml:"userMapping"`
}

// UserMapping selects how the caller's identity is passed upstream.
type UserMapping struct {
	Type     string              `mapstructure:"type" yaml:"type"`
	Settings UserMappingSettings `mapstructure:"settings" yaml:"settings,omitempty"`
}

// UserMappingSettings configure the header and jwt user mappers.
type UserMappingSettings struct {
	HeaderName              string            `mapstructure:"headerName" yaml:"headerName,omitempty"`
	HeaderPrefix            string            `mapstructure:"headerPrefix" yaml:"headerPrefix,omitempty"`
	Audience                string            `mapstructure:"audience" yaml:"audience,omitempty"`
	Issuer                  string            `mapstructure:"issuer" yaml:"issuer,omitempty"`
	TokenLifetimeSeconds    int               `mapstructure:"tokenLifetimeSeconds" yaml:"tokenLifetimeSeconds,omitempty"`
	SignatureImplementation string            `mapstructure:"signatureImplementation" yaml:"signatureImplementation,omitempty"`
	SignatureSecret         string            `mapstructure:"signatureSecret" yaml:"signatureSecret,omitempty"`
	Mappings                map[string]string `mapstructure:"mappings" yaml:"mappings,omitempty"`
}

// SessionBehaviour controls session lifetime and post-login redirects.
type SessionBehaviour struct {
	SessionDuration      int    `mapstructure:"sessionDuration" yaml:"sessionDuration"`
	RenewWhenLessThan    int    `mapstructure:"renewWhenLessThan" yaml:"renewWhenLessThan"`
	RedirectLoginSuccess string `mapstructure:"redirectLoginSuccess" yaml:"redirectLoginSuccess"`
	RedirectLoginFailure string `mapstructure:"redirectLoginFailure" yaml:"redirectLoginFailure"`
	RedirectLogout       string `mapstructure:"redirectLogout" yaml:"redirectLogout"`
}

// TraceProfile selects the correlation-id scheme.
type TraceProfile struct {
	Type                 string `mapstructure:"type" yaml:"type"`
	ForwardIncomingTrace bool   `mapstructure:"forwardIncomingTrace" yaml:"forwardIncomingTrace"`
	SendTraceResponse    bool   `mapstructure:"sendTraceResponse" yaml:"sendTraceResponse"`
}

// KeyManagementProfile controls signing key generation and rotation.
type KeyManagementProfile struct {
	KeyGenerator               KeyGeneratorProfile `mapstructure:"keyGenerator" yaml:"keyGenerator"`
	UseSigningKeyRotation      bool                `mapstructure:"useSigningKeyRotation" yaml:"useSigningKeyRotation"`
	SigningKeyRotationSeconds  int                 `mapstructure:"signingKeyRotationSeconds" yaml:"signingKeyRotationSeconds"`
	JWKCleanupFrequencySeconds int                 `mapstructure:"jwkCleanupFrequencySeconds" yaml:"jwkCleanupFrequencySeconds"`
}

// KeyGeneratorProfile selects the signing key algorithm family and size.
type KeyGeneratorProfile struct {
	Type    string `mapstructure:"type" yaml:"type"`
	KeySize int    `mapstructure:"keySize" yaml:"keySize"`
}

// BlacklistProfile selects the session revocation store.
type BlacklistProfile struct {
	Type                    string `mapstructure:"type" yaml:"type"`
	Path                    string `mapstructure:"path" yaml:"path,omitempty"`
	RedisAddr               string `mapstructure:"redisAddr" yaml:"redisAddr,omitempty"`
	RedisPassword           string `mapstructure:"redisPassword" yaml:"redisPassword,omitempty"`
	RedisDB                 int    `mapstructure:"redisDb" yaml:"redisDb,omitempty"`
	PostgresDSN             string `mapstructure:"postgresDsn" yaml:"postgresDsn,omitempty"`
	CleanupFrequencySeconds int    `mapstructure:"cleanupFrequencySeconds" yaml:"cleanupFrequencySeconds"`
}

// IsHTTPS reports whether the gateway's public host is served over https.
func (c *MainConfig) IsHTTPS() bool {
	u, err := url.Parse(c.HostURI)
	return err == nil && u.Scheme == "https"
}

// HostURL returns the parsed host URI. Validate guarantees it parses.
func (c *MainConfig) HostURL() *url.URL {
	u, err := url.Parse(c.HostURI)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// Redacted returns a copy with secrets masked, for display.
func (c MainConfig) Redacted() MainConfig {
	const mask = "******"
	out := c
	if out.CookieSecret != "" {
		out.CookieSecret = mask
	}
	if out.UpstreamAPIKey != "" {
		out.UpstreamAPIKey = mask
	}
	if out.Blacklist.RedisPassword != "" {
		out.Blacklist.RedisPassword = mask
	}
	if out.Blacklist.PostgresDSN != "" {
		out.Blacklist.PostgresDSN = mask
	}
	out.LoginProviders = make(map[string]LoginProvider, len(c.LoginProviders))
	for name, p := range c.LoginProviders {
		if p.With.ClientSecret != "" {
			p.With.ClientSecret = mask
		}
		out.LoginProviders[name] = p
	}
	out.SecurityProfiles = make(map[string]SecurityProfile, len(c.SecurityProfiles))
	for name, p := range c.SecurityProfiles {
		if p.UserMapping.Settings.SignatureSecret != "" {
			p.UserMapping.Settings.SignatureSecret = mask
		}
		out.SecurityProfiles[name] = p
	}
	return out
}
