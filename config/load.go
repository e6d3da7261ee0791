package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. IRONGATE_HOSTURI.
const EnvPrefix = "IRONGATE"

// Load reads the YAML file at path (if non-empty), applies environment
// overrides and defaults, and validates the result.
//
// Keys are matched case-insensitively, so route and profile names are folded
// to lower case. User mapping keys keep the case written in the file.
func Load(path string) (*MainConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("workerPoolSize", def.WorkerPoolSize)
	v.SetDefault("sessionBehaviour.sessionDuration", def.SessionBehaviour.SessionDuration)
	v.SetDefault("sessionBehaviour.renewWhenLessThan", def.SessionBehaviour.RenewWhenLessThan)
	v.SetDefault("sessionBehaviour.redirectLoginSuccess", def.SessionBehaviour.RedirectLoginSuccess)
	v.SetDefault("sessionBehaviour.redirectLoginFailure", def.SessionBehaviour.RedirectLoginFailure)
	v.SetDefault("sessionBehaviour.redirectLogout", def.SessionBehaviour.RedirectLogout)
	v.SetDefault("traceProfile.type", def.TraceProfile.Type)
	v.SetDefault("traceProfile.forwardIncomingTrace", def.TraceProfile.ForwardIncomingTrace)
	v.SetDefault("traceProfile.sendTraceResponse", def.TraceProfile.SendTraceResponse)
	v.SetDefault("keyManagementProfile.keyGenerator.type", def.KeyManagementProfile.KeyGenerator.Type)
	v.SetDefault("keyManagementProfile.keyGenerator.keySize", def.KeyManagementProfile.KeyGenerator.KeySize)
	v.SetDefault("keyManagementProfile.useSigningKeyRotation", false)
	v.SetDefault("keyManagementProfile.signingKeyRotationSeconds", 0)
	v.SetDefault("keyManagementProfile.jwkCleanupFrequencySeconds", def.KeyManagementProfile.JWKCleanupFrequencySeconds)
	v.SetDefault("blacklist.type", def.Blacklist.Type)
	v.SetDefault("blacklist.path", def.Blacklist.Path)
	v.SetDefault("blacklist.cleanupFrequencySeconds", def.Blacklist.CleanupFrequencySeconds)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"hostUri", "upstreamApiKey", "blacklist.redisAddr", "blacklist.redisPassword", "blacklist.postgresDsn"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}
	// IRONGATE_COOKIE_SECRET reads better than IRONGATE_COOKIESECRET.
	if err := v.BindEnv("cookieSecret", EnvPrefix+"_COOKIE_SECRET", EnvPrefix+"_COOKIESECRET"); err != nil {
		return nil, fmt.Errorf("binding env for cookieSecret: %w", err)
	}

	var raw []byte
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		raw = b
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.restoreMappingCase(raw); err != nil {
		return nil, fmt.Errorf("decoding user mappings: %w", err)
	}
	cfg.foldNames()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// foldNames lower-cases the values that refer to map keys, matching viper's
// case folding of the keys themselves.
func (c *MainConfig) foldNames() {
	for name, r := range c.Routes {
		r.Type = strings.ToLower(r.Type)
		r.AutoLogin = strings.ToLower(r.AutoLogin)
		c.Routes[name] = r
	}
}

// rawMappings is the part of the file whose keys must keep their case.
type rawMappings struct {
	SecurityProfiles map[string]struct {
		UserMapping struct {
			Settings struct {
				Mappings map[string]string `yaml:"mappings"`
			} `yaml:"settings"`
		} `yaml:"userMapping"`
	} `yaml:"securityProfiles"`
}

// restoreMappingCase replaces the viper-folded mapping keys with the ones
// written in the file. Mapping keys name claims and headers, which are case
// sensitive.
func (c *MainConfig) restoreMappingCase(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var doc rawMappings
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	for name, rp := range doc.SecurityProfiles {
		m := rp.UserMapping.Settings.Mappings
		if m == nil {
			continue
		}
		key := strings.ToLower(name)
		p, ok := c.SecurityProfiles[key]
		if !ok {
			continue
		}
		p.UserMapping.Settings.Mappings = m
		c.SecurityProfiles[key] = p
	}
	return nil
}
