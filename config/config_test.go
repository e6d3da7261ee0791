package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
hostUri: https://gateway.example.com
trustedRedirectHosts: [app.example.com]
loginProviders:
  local:
    type: oidc
    with:
      clientId: gateway-client
      clientSecret: s3cret
      scopes: [openid, email]
      authEndpoint: https://idp.example.com/auth
      tokenEndpoint: https://idp.example.com/token
      jwksEndpoint: https://idp.example.com/jwks
      issuer: https://idp.example.com
routes:
  echo:
    type: webapplication
    path: /echo/**
    url: https://backend.example.com/upstream/
    allowAnonymous: true
securityProfiles:
  webapplication:
    allowedMethods: [GET, POST]
    csrfProtection: double-submit-cookie
    userMapping:
      type: jwt
      settings:
        mappings:
          email: "{{.Mappings.email}}"
sessionBehaviour:
  sessionDuration: 7200
  renewWhenLessThan: 600
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "irongate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsHTTPS())
	assert.Equal(t, 7200, cfg.SessionBehaviour.SessionDuration)
	assert.Equal(t, 600, cfg.SessionBehaviour.RenewWhenLessThan)
	assert.Equal(t, "/", cfg.SessionBehaviour.RedirectLogout)
	assert.Equal(t, "w3cTrace", cfg.TraceProfile.Type)
	assert.Equal(t, DefaultRSAKeySize, cfg.KeyManagementProfile.KeyGenerator.KeySize)

	route := cfg.Routes["echo"]
	assert.Equal(t, DefaultRewriteRegex, route.Rewrite.Regex)

	profile := cfg.SecurityProfiles["webapplication"]
	assert.Equal(t, []string{"GET", "HEAD", "OPTIONS"}, profile.CSRFSafeMethods)
	assert.Equal(t, "Authorization", profile.UserMapping.Settings.HeaderName)
	assert.Equal(t, "Bearer ", profile.UserMapping.Settings.HeaderPrefix)
	assert.Equal(t, DefaultTokenLifetimeSeconds, profile.UserMapping.Settings.TokenLifetimeSeconds)
	assert.Equal(t, AudienceRouteURLPlaceholder, profile.UserMapping.Settings.Audience)
	assert.Equal(t, "{{.Mappings.email}}", profile.UserMapping.Settings.Mappings["email"])

	provider := cfg.LoginProviders["local"]
	assert.Equal(t, "gateway-client", provider.With.ClientID)
	assert.Equal(t, []string{"openid", "email"}, provider.With.Scopes)
}

func TestLoadPreservesMappingKeyCase(t *testing.T) {
	api := `  API:
    allowedMethods: [GET]
    userMapping:
      type: header
      settings:
        mappings:
          X-Display: "{{.Mappings.name}}"
          preferredUsername: "{{.ID}}"
`
	body := strings.Replace(sampleYAML, "sessionBehaviour:\n", api+"sessionBehaviour:\n", 1)

	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	profile, ok := cfg.SecurityProfiles["api"]
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"X-Display":         "{{.Mappings.name}}",
		"preferredUsername": "{{.ID}}",
	}, profile.UserMapping.Settings.Mappings)
	assert.Equal(t, "{{.Mappings.email}}", cfg.SecurityProfiles["webapplication"].UserMapping.Settings.Mappings["email"])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IRONGATE_HOSTURI", "https://override.example.com")
	t.Setenv("IRONGATE_COOKIE_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.HostURI)
	assert.Equal(t, "from-env", cfg.CookieSecret)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, `
hostUri: ftp://gateway
routes:
  broken:
    path: /x/**
    url: relative/path
    type: missing
sessionBehaviour:
  sessionDuration: 30
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	msg := err.Error()
	assert.Contains(t, msg, "hostUri must use http or https")
	assert.Contains(t, msg, `no security profile named "missing"`)
	assert.Contains(t, msg, "url must be an absolute URL")
	assert.Contains(t, msg, "sessionDuration must be at least 60")
}

func TestRenewMustBeBelowDuration(t *testing.T) {
	cfg := Default()
	cfg.HostURI = "https://gw.example.com"
	cfg.SessionBehaviour.RenewWhenLessThan = cfg.SessionBehaviour.SessionDuration
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renewWhenLessThan")
}

func TestRotationNeedsInterval(t *testing.T) {
	cfg := Default()
	cfg.HostURI = "https://gw.example.com"
	cfg.KeyManagementProfile.UseSigningKeyRotation = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signingKeyRotationSeconds")
}

func TestPathRewriteForRoute(t *testing.T) {
	route := GatewayRoute{Path: "/echo/**", URL: "https://backend/upstream/"}
	assert.Equal(t, "/echo/", route.PathBase())
	assert.Equal(t, "/upstream/", route.URLPath())

	rw := PathRewrite{Regex: DefaultRewriteRegex, Replacement: DefaultRewriteReplacement}.ForRoute(route)
	re := regexp.MustCompile(rw.Regex)
	assert.Equal(t, "/upstream/a/b", re.ReplaceAllString("/echo/a/b", rw.Replacement))
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.CookieSecret = "cookie"
	cfg.LoginProviders["p"] = LoginProvider{Type: "oidc", With: LoginProviderSettings{ClientSecret: "secret"}}

	red := cfg.Redacted()
	assert.Equal(t, "******", red.CookieSecret)
	assert.Equal(t, "******", red.LoginProviders["p"].With.ClientSecret)
	assert.Equal(t, "secret", cfg.LoginProviders["p"].With.ClientSecret, "original must be untouched")
}

func TestBlacklistBackendSettings(t *testing.T) {
	tests := []struct {
		profile BlacklistProfile
		problem string
	}{
		{BlacklistProfile{Type: "bbolt"}, "blacklist.path"},
		{BlacklistProfile{Type: "redis"}, "blacklist.redisAddr"},
		{BlacklistProfile{Type: "postgres"}, "blacklist.postgresDsn"},
		{BlacklistProfile{Type: "etcd"}, "blacklist.type"},
		{BlacklistProfile{Type: "memory"}, ""},
		{BlacklistProfile{Type: "postgres", PostgresDSN: "postgres://gw@db/irongate"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.profile.Type+"/"+tt.problem, func(t *testing.T) {
			cfg := Default()
			cfg.HostURI = "https://gw.example.com"
			cfg.Blacklist = tt.profile
			err := cfg.Validate()
			if tt.problem == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}

	cfg := Default()
	cfg.Blacklist.PostgresDSN = "postgres://gw:pw@db/irongate"
	assert.Equal(t, "******", cfg.Redacted().Blacklist.PostgresDSN)
}
