package config

const (
	DefaultSessionDuration        = 3600
	DefaultRenewWhenLessThan      = 900
	DefaultTokenLifetimeSeconds   = 60
	DefaultRSAKeySize             = 2048
	DefaultJWKCleanupFrequency    = 3600
	DefaultBlacklistCleanup       = 3600
	DefaultBlacklistPath          = "irongate-blacklist.db"
	DefaultWorkerPoolSize         = 64
	DefaultRewriteRegex           = "^" + PlaceholderPathBase + "(?P<segment>.*)"
	DefaultRewriteReplacement     = PlaceholderURIPath + "${segment}"
	DefaultCSRFProtection         = "none"
	DefaultUserMappingType        = "no"
	DefaultSignatureImpl          = "rsa"
	DefaultKeyGeneratorType       = "rsa"
	DefaultTraceType              = "w3cTrace"
	DefaultBlacklistType          = "bbolt"
	DefaultRedirect               = "/"
	DefaultJWTHeaderName          = "Authorization"
	DefaultJWTHeaderPrefix        = "Bearer "
	AudienceRouteURLPlaceholder   = "<<route-url>>"
	IssuerHostURIPlaceholder      = "<<hostUri>>"
	ResponseHeaderRemoveDirective = "<<remove>>"
)

// DefaultCSRFSafeMethods are the methods never subject to CSRF checks.
func DefaultCSRFSafeMethods() []string {
	return []string{"GET", "HEAD", "OPTIONS"}
}

// Default returns a configuration with every optional field populated.
func Default() MainConfig {
	return MainConfig{
		LoginProviders:   map[string]LoginProvider{},
		Routes:           map[string]GatewayRoute{},
		SecurityProfiles: map[string]SecurityProfile{},
		SessionBehaviour: SessionBehaviour{
			SessionDuration:      DefaultSessionDuration,
			RenewWhenLessThan:    DefaultRenewWhenLessThan,
			RedirectLoginSuccess: DefaultRedirect,
			RedirectLoginFailure: DefaultRedirect,
			RedirectLogout:       DefaultRedirect,
		},
		TraceProfile: TraceProfile{
			Type:                 DefaultTraceType,
			ForwardIncomingTrace: true,
		},
		KeyManagementProfile: KeyManagementProfile{
			KeyGenerator:               KeyGeneratorProfile{Type: DefaultKeyGeneratorType, KeySize: DefaultRSAKeySize},
			JWKCleanupFrequencySeconds: DefaultJWKCleanupFrequency,
		},
		Blacklist: BlacklistProfile{
			Type:                    DefaultBlacklistType,
			Path:                    DefaultBlacklistPath,
			CleanupFrequencySeconds: DefaultBlacklistCleanup,
		},
		WorkerPoolSize: DefaultWorkerPoolSize,
	}
}

// ApplyDefaults fills per-route and per-profile fields left empty after
// decoding.
func (c *MainConfig) ApplyDefaults() {
	for name, r := range c.Routes {
		if r.Rewrite.Regex == "" && r.Rewrite.Replacement == "" {
			r.Rewrite = PathRewrite{Regex: DefaultRewriteRegex, Replacement: DefaultRewriteReplacement}
		}
		c.Routes[name] = r
	}
	for name, p := range c.SecurityProfiles {
		if p.CSRFProtection == "" {
			p.CSRFProtection = DefaultCSRFProtection
		}
		if len(p.CSRFSafeMethods) == 0 {
			p.CSRFSafeMethods = DefaultCSRFSafeMethods()
		}
		if p.ResponseHeaders == nil {
			p.ResponseHeaders = map[string]string{}
		}
		if p.UserMapping.Type == "" {
			p.UserMapping.Type = DefaultUserMappingType
		}
		s := &p.UserMapping.Settings
		if p.UserMapping.Type == "jwt" {
			if s.HeaderName == "" {
				s.HeaderName = DefaultJWTHeaderName
				if s.HeaderPrefix == "" {
					s.HeaderPrefix = DefaultJWTHeaderPrefix
				}
			}
			if s.TokenLifetimeSeconds <= 0 {
				s.TokenLifetimeSeconds = DefaultTokenLifetimeSeconds
			}
			if s.SignatureImplementation == "" {
				s.SignatureImplementation = DefaultSignatureImpl
			}
			if s.Issuer == "" {
				s.Issuer = IssuerHostURIPlaceholder
			}
			if s.Audience == "" {
				s.Audience = AudienceRouteURLPlaceholder
			}
		}
		c.SecurityProfiles[name] = p
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if c.KeyManagementProfile.KeyGenerator.Type == "" {
		c.KeyManagementProfile.KeyGenerator.Type = DefaultKeyGeneratorType
	}
	if c.KeyManagementProfile.JWKCleanupFrequencySeconds <= 0 {
		c.KeyManagementProfile.JWKCleanupFrequencySeconds = DefaultJWKCleanupFrequency
	}
	if c.Blacklist.CleanupFrequencySeconds <= 0 {
		c.Blacklist.CleanupFrequencySeconds = DefaultBlacklistCleanup
	}
}
