package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteConfig points at the operator-editable fragments spliced into the host page.
type SiteConfig struct {
	Dir    string `json:"dir" yaml:"dir"`
	CSS    string `json:"css" yaml:"css"`
	Header string `json:"header" yaml:"header"`
	Footer string `json:"footer" yaml:"footer"`
	Watch  bool   `json:"watch" yaml:"watch"`
	Minify bool   `json:"minify" yaml:"minify"`
}

// WebappConfig describes where the compiled client application lives.
type WebappConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	HostPage string `json:"hostPage" yaml:"hostPage"`
	Module   string `json:"module" yaml:"module"`
	DevMode  bool   `json:"devMode" yaml:"devMode"`
}

// ChangeConfig groups change workflow switches.
type ChangeConfig struct {
	AllowDrafts   bool `json:"allowDrafts" yaml:"allowDrafts"`
	RetryAttempts int  `json:"retryAttempts" yaml:"retryAttempts"`
}

// GitConfig groups repository storage settings.
type GitConfig struct {
	BinPath           string `json:"binPath" yaml:"binPath"`
	Directory         string `json:"directory" yaml:"directory"`
	CommandTimeoutSec int    `json:"commandTimeoutSec" yaml:"commandTimeoutSec"`
}

// AuthConfig controls trusted-header authentication.
type AuthConfig struct {
	Header string `json:"header" yaml:"header"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Config encapsulates runtime options.
type Config struct {
	Listen                 string         `json:"listen" yaml:"listen"`
	CanonicalURL           string         `json:"canonicalUrl" yaml:"canonicalUrl"`
	SiteName               string         `json:"siteName" yaml:"siteName"`
	Site                   SiteConfig     `json:"site" yaml:"site"`
	Webapp                 WebappConfig   `json:"webapp" yaml:"webapp"`
	Change                 ChangeConfig   `json:"change" yaml:"change"`
	Git                    GitConfig      `json:"git" yaml:"git"`
	Auth                   AuthConfig     `json:"auth" yaml:"auth"`
	Metrics                MetricsConfig  `json:"metrics" yaml:"metrics"`
	DatabasePath           string         `json:"databasePath" yaml:"databasePath"`
	EnableTLS              bool           `json:"enableTLS" yaml:"enableTLS"`
	TLSCert                string         `json:"tlsCert" yaml:"tlsCert"`
	TLSKey                 string         `json:"tlsKey" yaml:"tlsKey"`
	LogLevel               string         `json:"logLevel" yaml:"logLevel"`
	TrustedProxies         []string       `json:"trustedProxies" yaml:"trustedProxies"`
	TrustedRemoteAddrLevel int            `json:"trustedRemoteAddrLevel" yaml:"trustedRemoteAddrLevel"`
	GitCommandTimeout      time.Duration  `json:"-" yaml:"-"`
	trustedProxyPrefixes   []netip.Prefix `json:"-" yaml:"-"`
	trustUnixPeers         bool           `json:"-" yaml:"-"`
}

// Load reads configuration from disk and applies sane defaults.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(bytes, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(bytes, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	c.SiteName = strings.TrimSpace(c.SiteName)
	if c.SiteName == "" {
		c.SiteName = "Code Review"
	}
	c.CanonicalURL = strings.TrimSpace(c.CanonicalURL)

	c.Site.Dir = strings.TrimSpace(c.Site.Dir)
	if c.Site.Dir == "" {
		c.Site.Dir = "./etc"
	}
	if c.Site.CSS == "" {
		c.Site.CSS = "SiteStyle.css"
	}
	if c.Site.Header == "" {
		c.Site.Header = "SiteHeader.html"
	}
	if c.Site.Footer == "" {
		c.Site.Footer = "SiteFooter.html"
	}

	c.Webapp.Dir = strings.TrimSpace(c.Webapp.Dir)
	if c.Webapp.Dir == "" {
		c.Webapp.Dir = "./webapp"
	}
	if c.Webapp.HostPage == "" {
		c.Webapp.HostPage = "HostPage.html"
	}
	if c.Webapp.Module == "" {
		c.Webapp.Module = "app/app.nocache.js"
	}
	c.Webapp.Module = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(c.Webapp.Module)), "/")

	if c.Change.RetryAttempts <= 0 {
		c.Change.RetryAttempts = 3
	}

	c.Git.BinPath = strings.TrimSpace(c.Git.BinPath)
	if c.Git.BinPath == "" {
		c.Git.BinPath = "git"
	}
	c.Git.Directory = strings.TrimSpace(c.Git.Directory)
	if c.Git.Directory == "" {
		c.Git.Directory = "./git/review.git"
	}
	if c.Git.CommandTimeoutSec <= 0 {
		c.Git.CommandTimeoutSec = 60
	}
	c.GitCommandTimeout = time.Duration(c.Git.CommandTimeoutSec) * time.Second

	c.Auth.Header = strings.TrimSpace(c.Auth.Header)
	if c.Auth.Header == "" {
		c.Auth.Header = "X-Remote-User"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "./db/review.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TrustedRemoteAddrLevel <= 0 {
		c.TrustedRemoteAddrLevel = 1
	}

	return c.compileTrustedProxies()
}

func (c *Config) validate() error {
	if c.EnableTLS {
		if c.TLSCert == "" || c.TLSKey == "" {
			return fmt.Errorf("tls enabled but certificates missing")
		}
	}
	if c.CanonicalURL != "" {
		if _, err := url.ParseRequestURI(c.CanonicalURL); err != nil {
			return fmt.Errorf("invalid canonicalUrl: %w", err)
		}
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path)
	}
	for _, name := range []string{c.Site.CSS, c.Site.Header, c.Site.Footer} {
		if strings.ContainsRune(name, 0) {
			return fmt.Errorf("invalid site fragment name %q", name)
		}
	}
	return nil
}

// SiteFile resolves a fragment name against the site directory.
// Absolute names are returned unchanged.
func (c *Config) SiteFile(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Site.Dir, filepath.FromSlash(name))
}

// HostPagePath returns the location of the host page skeleton.
func (c *Config) HostPagePath() string {
	if filepath.IsAbs(c.Webapp.HostPage) {
		return c.Webapp.HostPage
	}
	return filepath.Join(c.Webapp.Dir, filepath.FromSlash(c.Webapp.HostPage))
}

func (c *Config) compileTrustedProxies() error {
	if c.trustedProxyPrefixes != nil {
		c.trustedProxyPrefixes = c.trustedProxyPrefixes[:0]
	}
	c.trustUnixPeers = false
	for _, entry := range c.TrustedProxies {
		token := strings.TrimSpace(entry)
		if token == "" {
			continue
		}
		// "unix" trusts every peer connected over a unix socket listener.
		if strings.EqualFold(token, "unix") {
			c.trustUnixPeers = true
			continue
		}
		if strings.Contains(token, "/") {
			prefix, err := netip.ParsePrefix(token)
			if err != nil {
				return fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			c.trustedProxyPrefixes = append(c.trustedProxyPrefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(token)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		c.trustedProxyPrefixes = append(c.trustedProxyPrefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return nil
}

// IsTrustedProxy reports whether the provided address is within the trusted proxy list.
func (c *Config) IsTrustedProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range c.trustedProxyPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// RemoteAddrFromRequest attempts to determine the originating client address.
// It inspects X-Forwarded-For headers and falls back to the direct remote
// address when no trusted proxy information is available.
func (c *Config) RemoteAddrFromRequest(r *http.Request) (netip.Addr, []netip.Addr) {
	chain := c.remoteAddrChain(r)
	if len(chain) == 0 {
		return netip.Addr{}, nil
	}

	allowed := max(c.TrustedRemoteAddrLevel, 0)

	idx := len(chain) - 1
	for idx > 0 {
		current := chain[idx]
		if !c.IsTrustedProxy(current) {
			break
		}
		if allowed == 0 {
			break
		}
		idx--
		allowed--
	}

	return chain[idx], chain
}

// PeerIsTrusted reports whether the direct peer of the request is a trusted
// proxy. Peers on a unix socket have no IP address and are trusted only when
// TrustedProxies lists "unix".
func (c *Config) PeerIsTrusted(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return c.trustUnixPeers && isUnixPeer(r.RemoteAddr)
	}
	return c.IsTrustedProxy(addr)
}

// isUnixPeer matches the RemoteAddr net/http records for unix socket
// connections: empty for unnamed sockets, "@" for abstract ones, or a path.
func isUnixPeer(remote string) bool {
	remote = strings.TrimSpace(remote)
	return remote == "" || remote == "@" || strings.HasPrefix(remote, "/")
}

func (c *Config) remoteAddrChain(r *http.Request) []netip.Addr {
	chain := make([]netip.Addr, 0, 4)

	header := r.Header.Get("X-Forwarded-For")
	if header != "" {
		for raw := range strings.SplitSeq(header, ",") {
			token := strings.TrimSpace(raw)
			if token == "" {
				continue
			}
			if addr, err := netip.ParseAddr(token); err == nil {
				chain = append(chain, addr)
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(host)); err == nil {
		chain = append(chain, addr)
	}
	return chain
}
