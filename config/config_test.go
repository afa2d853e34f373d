package config

import (
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	p := writeConfig(t, "config.json", `{"listen": ":9090", "change": {"allowDrafts": true}}`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.True(t, cfg.Change.AllowDrafts)
	assert.Equal(t, 3, cfg.Change.RetryAttempts)
	assert.Equal(t, "SiteStyle.css", cfg.Site.CSS)
	assert.Equal(t, "app/app.nocache.js", cfg.Webapp.Module)
	assert.Equal(t, "X-Remote-User", cfg.Auth.Header)
	assert.Equal(t, 60*time.Second, cfg.GitCommandTimeout)
}

func TestLoadYAML(t *testing.T) {
	p := writeConfig(t, "config.yaml", "siteName: Review\nsite:\n  dir: /srv/etc\n  header: Top.md\nwebapp:\n  devMode: true\n")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "Review", cfg.SiteName)
	assert.Equal(t, "/srv/etc/Top.md", cfg.SiteFile(cfg.Site.Header))
	assert.True(t, cfg.Webapp.DevMode)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"tls without certs": `{"enableTLS": true}`,
		"bad proxy":         `{"trustedProxies": ["not-an-ip"]}`,
		"bad metrics path":  `{"metrics": {"path": "metrics"}}`,
		"malformed json":    `{"listen": `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", body))
			assert.Error(t, err)
		})
	}
}

func TestModulePathIsCleaned(t *testing.T) {
	cfg := &Config{Webapp: WebappConfig{Module: "/app/../app//main.js"}}
	require.NoError(t, cfg.applyDefaults())
	assert.Equal(t, "app/main.js", cfg.Webapp.Module)
}

func TestRemoteAddrFromRequestHonoursTrustedProxies(t *testing.T) {
	cfg := &Config{TrustedProxies: []string{"10.0.0.0/8"}}
	require.NoError(t, cfg.applyDefaults())

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:4567"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	addr, chain := cfg.RemoteAddrFromRequest(r)
	assert.Equal(t, netip.MustParseAddr("203.0.113.9"), addr)
	assert.Len(t, chain, 2)
	assert.True(t, cfg.PeerIsTrusted(r))

	r.RemoteAddr = "192.0.2.1:80"
	addr, _ = cfg.RemoteAddrFromRequest(r)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), addr)
	assert.False(t, cfg.PeerIsTrusted(r))
}

func TestUnixSocketPeersNeedExplicitTrust(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)

	cfg := &Config{Listen: "unix:/run/reviewhost.sock", TrustedProxies: []string{"127.0.0.1"}}
	require.NoError(t, cfg.applyDefaults())
	for _, remote := range []string{"", "@", "/run/nginx.sock"} {
		r.RemoteAddr = remote
		assert.False(t, cfg.PeerIsTrusted(r), remote)
	}

	cfg.TrustedProxies = []string{"unix", "127.0.0.1"}
	require.NoError(t, cfg.applyDefaults())
	for _, remote := range []string{"", "@", "/run/nginx.sock"} {
		r.RemoteAddr = remote
		assert.True(t, cfg.PeerIsTrusted(r), remote)
	}

	r.RemoteAddr = "198.51.100.7:4000"
	assert.False(t, cfg.PeerIsTrusted(r))
	r.RemoteAddr = "not-an-address"
	assert.False(t, cfg.PeerIsTrusted(r))
}
