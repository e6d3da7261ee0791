package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/gateway"
)

const sampleConfig = `
hostUri: https://gw.example.com
cookieSecret: do-not-print-me
upstreamApiKey: also-secret
loginProviders:
  corp:
    type: oauth2
    with:
      clientId: gw
      clientSecret: hush
      scopes: [openid]
      authEndpoint: https://idp.example.com/authorize
      tokenEndpoint: https://idp.example.com/token
      userInfoEndpoint: https://idp.example.com/userinfo
securityProfiles:
  api:
    allowedMethods: [GET]
routes:
  echo:
    path: /echo/**
    url: http://upstream/
    type: api
blacklist:
  type: memory
`

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCommandRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irongate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	out, err := runRoot(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "hostUri: https://gw.example.com")
	assert.Contains(t, out, "/echo/**")
	for _, secret := range []string{"do-not-print-me", "also-secret", "hush"} {
		assert.NotContains(t, out, secret)
	}
}

func TestConfigCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irongate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostUri: not a url\n"), 0o600))
	_, err := runRoot(t, "config", "--config", path)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version, strings.TrimSpace(out))
}

func TestSetupLogging(t *testing.T) {
	defer func() { logFormat, logLevel = "text", "info" }()

	logFormat, logLevel = "json", "debug"
	assert.NoError(t, setupLogging(os.Stderr))

	logFormat = "xml"
	assert.Error(t, setupLogging(os.Stderr))

	logFormat, logLevel = "text", "loud"
	assert.Error(t, setupLogging(os.Stderr))
}

func TestOpenBlacklistStore(t *testing.T) {
	ctx := t.Context()

	t.Run("bbolt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "blacklist.db")
		repo, err := openBlacklistStore(ctx, config.BlacklistProfile{Type: "bbolt", Path: path})
		require.NoError(t, err)
		defer repo.Close()
		require.NoError(t, repo.Put(ctx, "s1", time.Now().Add(time.Hour)))
		assert.FileExists(t, path)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		repo, err := openBlacklistStore(ctx, config.BlacklistProfile{Type: "redis", RedisAddr: mr.Addr()})
		require.NoError(t, err)
		defer repo.Close()
		require.NoError(t, repo.Put(ctx, "s1", time.Now().Add(time.Hour)))
	})

	t.Run("memory", func(t *testing.T) {
		repo, err := openBlacklistStore(ctx, config.BlacklistProfile{Type: "memory"})
		require.NoError(t, err)
		assert.NoError(t, repo.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openBlacklistStore(ctx, config.BlacklistProfile{Type: "etcd"})
		assert.Error(t, err)
	})
}

func TestCookieCryptoFromSecretIsStable(t *testing.T) {
	cfg := &config.MainConfig{CookieSecret: "s3cret"}
	a, err := cookieCrypto(cfg, nil)
	require.NoError(t, err)
	b, err := cookieCrypto(cfg, nil)
	require.NoError(t, err)

	token, err := a.Encrypt(t.Context(), []byte("payload"))
	require.NoError(t, err)
	plain, err := b.Decrypt(t.Context(), token)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
}

func TestManagementRouter(t *testing.T) {
	h := managementRouter(gateway.NewMetrics("irongate_cmd_test"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "irongate_cmd_test_token_cache_hits_total 0")
}
