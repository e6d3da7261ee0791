package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"sort"
)

// ErrInvalid wraps every configuration problem reported by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Validate reports every structural problem in c. A non-nil result must
// stop the gateway from starting.
func (c *MainConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	host, err := url.Parse(c.HostURI)
	switch {
	case c.HostURI == "":
		add("hostUri is required")
	case err != nil || host.Host == "":
		add("hostUri %q is not an absolute URL", c.HostURI)
	case host.Scheme != "http" && host.Scheme != "https":
		add("hostUri must use http or https")
	case host.Scheme == "http":
		slog.Warn("hostUri uses plain http; cookies will not be marked Secure", "hostUri", c.HostURI)
	}

	for _, name := range sortedKeys(c.LoginProviders) {
		p := c.LoginProviders[name]
		if p.Type == "" {
			add("login provider %q: type is required", name)
		}
		if p.With.FederatedLogoutURL != "" {
			if u, err := url.Parse(p.With.FederatedLogoutURL); err != nil || !u.IsAbs() {
				add("login provider %q: federatedLogoutUrl must be an absolute URL", name)
			}
		}
	}

	for _, name := range sortedKeys(c.Routes) {
		r := c.Routes[name]
		if r.Path == "" {
			add("route %q: path is required", name)
		}
		if u, err := url.Parse(r.URL); r.URL == "" || err != nil || !u.IsAbs() {
			add("route %q: url must be an absolute URL", name)
		}
		if r.Type == "" {
			add("route %q: type is required", name)
		} else if _, ok := c.SecurityProfiles[r.Type]; !ok {
			add("route %q: no security profile named %q", name, r.Type)
		}
		if r.AutoLogin != "" {
			if _, ok := c.LoginProviders[r.AutoLogin]; !ok {
				add("route %q: autoLogin names unknown provider %q", name, r.AutoLogin)
			}
		}
		if r.Rewrite.Regex == "" || r.Rewrite.Replacement == "" {
			add("route %q: rewrite regex and replacement must not be empty", name)
		} else if _, err := regexp.Compile(r.Rewrite.ForRoute(r).Regex); err != nil {
			add("route %q: rewrite regex: %v", name, err)
		}
	}

	for _, name := range sortedKeys(c.SecurityProfiles) {
		p := c.SecurityProfiles[name]
		if len(p.AllowedMethods) == 0 {
			add("security profile %q: allowedMethods must not be empty", name)
		}
		if p.UserMapping.Type == "jwt" && p.UserMapping.Settings.SignatureImplementation == "hmac" &&
			p.UserMapping.Settings.SignatureSecret == "" {
			add("security profile %q: hmac signature needs signatureSecret", name)
		}
	}

	sb := c.SessionBehaviour
	if sb.SessionDuration < 60 {
		add("sessionBehaviour.sessionDuration must be at least 60 seconds")
	}
	if sb.RenewWhenLessThan >= sb.SessionDuration {
		add("sessionBehaviour.renewWhenLessThan must be less than sessionDuration")
	}

	km := c.KeyManagementProfile
	if km.UseSigningKeyRotation && km.SigningKeyRotationSeconds <= 0 {
		add("keyManagementProfile.signingKeyRotationSeconds must be positive when rotation is enabled")
	}
	if km.KeyGenerator.KeySize < 0 {
		add("keyManagementProfile.keyGenerator.keySize must not be negative")
	}

	switch c.Blacklist.Type {
	case "bbolt":
		if c.Blacklist.Path == "" {
			add("blacklist.path is required for bbolt")
		}
	case "redis":
		if c.Blacklist.RedisAddr == "" {
			add("blacklist.redisAddr is required for redis")
		}
	case "postgres":
		if c.Blacklist.PostgresDSN == "" {
			add("blacklist.postgresDsn is required for postgres")
		}
	case "memory":
	default:
		add("blacklist.type %q is not one of bbolt, redis, postgres, memory", c.Blacklist.Type)
	}

	if !slices.Contains([]string{"w3cTrace", "simpleTrace", "noTrace"}, c.TraceProfile.Type) {
		add("traceProfile.type %q is not one of w3cTrace, simpleTrace, noTrace", c.TraceProfile.Type)
	}

	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
