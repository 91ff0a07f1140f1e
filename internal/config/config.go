package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OL_CONNECTOR_BASE.
const EnvPrefix = "OL"

// FileName is the config file looked up in the workspace.
const FileName = "offerline.yml"

// Config models offerline.yml. It is built once at start-up and handed to
// each component; nothing reads the environment after Load.
type Config struct {
	Connector   ConnectorConfig   `yaml:"connector" mapstructure:"connector"`
	Broker      BrokerConfig      `yaml:"broker" mapstructure:"broker"`
	ProviderUI  ProviderUIConfig  `yaml:"provider_ui" mapstructure:"provider_ui"`
	AuthService AuthServiceConfig `yaml:"auth_service" mapstructure:"auth_service"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Journal     JournalConfig     `yaml:"journal" mapstructure:"journal"`
}

type ConnectorConfig struct {
	// Base is where the consumer connector API is reached.
	Base string `yaml:"base" mapstructure:"base"`
	// PublicBase is the connector address used for offer detail and provider
	// UI derivation. Either base falls back to the other.
	PublicBase    string        `yaml:"public_base" mapstructure:"public_base"`
	Authorization string        `yaml:"authorization" mapstructure:"authorization"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	VerifyTLS     bool          `yaml:"verify_tls" mapstructure:"verify_tls"`
	PageSize      int           `yaml:"page_size" mapstructure:"page_size"`
	ProxyPrefix   string        `yaml:"proxy_prefix" mapstructure:"proxy_prefix"`
}

type BrokerConfig struct {
	Recipient string `yaml:"recipient" mapstructure:"recipient"`
	QueryPath string `yaml:"query_path" mapstructure:"query_path"`
}

type ProviderUIConfig struct {
	Base          string        `yaml:"base" mapstructure:"base"`
	Authorization string        `yaml:"authorization" mapstructure:"authorization"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type AuthServiceConfig struct {
	Enforce         bool          `yaml:"enforce" mapstructure:"enforce"`
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	VerifySSL       bool          `yaml:"verify_ssl" mapstructure:"verify_ssl"`
	SessionCookie   string        `yaml:"session_cookie" mapstructure:"session_cookie"`
	Allowlist       []string      `yaml:"allowlist" mapstructure:"allowlist"`
	ProfileEndpoint string        `yaml:"profile_endpoint" mapstructure:"profile_endpoint"`
	LoginPage       string        `yaml:"login_page" mapstructure:"login_page"`
	LogoutPage      string        `yaml:"logout_page" mapstructure:"logout_page"`
	LogoutRedirect  string        `yaml:"logout_redirect" mapstructure:"logout_redirect"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Workspace string `yaml:"workspace" mapstructure:"workspace"`
}

// legacyEnv maps keys to the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	"connector.base":                "CONNECTOR_BASE",
	"connector.public_base":         "BASE_URL",
	"connector.authorization":       "AUTHORIZATION",
	"broker.recipient":              "BROKER",
	"provider_ui.base":              "PROVIDER_UI_BASE",
	"provider_ui.authorization":     "PROVIDER_UI_AUTHORIZATION",
	"auth_service.enforce":          "AUTH_SERVICE_ENFORCE",
	"auth_service.base_url":         "AUTH_SERVICE_BASE_URL",
	"auth_service.timeout":          "AUTH_SERVICE_TIMEOUT",
	"auth_service.verify_ssl":       "AUTH_SERVICE_VERIFY_SSL",
	"auth_service.session_cookie":   "AUTH_SERVICE_SESSION_COOKIE",
	"auth_service.allowlist":        "AUTH_SERVICE_ALLOWLIST",
	"auth_service.profile_endpoint": "AUTH_SERVICE_PROFILE_ENDPOINT",
	"auth_service.login_page":       "AUTH_SERVICE_LOGIN_PAGE",
	"auth_service.logout_page":      "AUTH_SERVICE_LOGOUT_PAGE",
	"auth_service.logout_redirect":  "AUTH_SERVICE_LOGOUT_REDIRECT",
}

var durationKeys = []string{"connector.timeout", "provider_ui.timeout", "auth_service.timeout"}

// Load resolves the configuration from defaults, the optional YAML file and
// the environment, in increasing priority. An empty file falls back to
// offerline.yml in the journal workspace when present.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	defaults, err := defaultMap()
	if err != nil {
		return nil, err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, err
		}
	}

	if file == "" {
		if p := Path(v.GetString("journal.workspace")); fileExists(p) {
			file = p
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	for _, key := range durationKeys {
		if s := strings.TrimSpace(v.GetString(key)); isNumber(s) {
			v.Set(key, s+"s")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies the base URL fallbacks and trims list entries.
func (c *Config) Normalize() {
	c.Connector.Base = normalizeBase(c.Connector.Base)
	c.Connector.PublicBase = normalizeBase(c.Connector.PublicBase)
	if c.Connector.Base == "" {
		c.Connector.Base = c.Connector.PublicBase
	}
	if c.Connector.PublicBase == "" {
		c.Connector.PublicBase = c.Connector.Base
	}
	c.Connector.Authorization = strings.TrimSpace(c.Connector.Authorization)
	c.ProviderUI.Base = strings.TrimRight(strings.TrimSpace(c.ProviderUI.Base), "/")
	c.ProviderUI.Authorization = strings.TrimSpace(c.ProviderUI.Authorization)
	c.AuthService.BaseURL = strings.TrimSpace(c.AuthService.BaseURL)
	allow := c.AuthService.Allowlist[:0]
	for _, entry := range c.AuthService.Allowlist {
		if e := strings.TrimSpace(entry); e != "" {
			allow = append(allow, e)
		}
	}
	c.AuthService.Allowlist = allow
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	if c.Connector.Base == "" {
		return fmt.Errorf("config.connector.base is required (or connector.public_base)")
	}
	for _, f := range []struct{ key, raw string }{
		{"connector.base", c.Connector.Base},
		{"connector.public_base", c.Connector.PublicBase},
		{"provider_ui.base", c.ProviderUI.Base},
		{"auth_service.base_url", c.AuthService.BaseURL},
		{"broker.recipient", c.Broker.Recipient},
	} {
		if f.raw == "" {
			continue
		}
		if err := checkURL(f.raw); err != nil {
			return fmt.Errorf("config.%s: %w", f.key, err)
		}
	}
	if c.Connector.PageSize <= 0 {
		return fmt.Errorf("config.connector.page_size must be positive")
	}
	if c.Connector.Timeout <= 0 || c.ProviderUI.Timeout <= 0 || c.AuthService.Timeout <= 0 {
		return fmt.Errorf("config timeouts must be positive")
	}
	if c.Broker.QueryPath == "" {
		return fmt.Errorf("config.broker.query_path is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	return nil
}

// BrokerEndpoint is the connector endpoint that relays broker queries.
func (c *Config) BrokerEndpoint() string {
	return c.Connector.Base + strings.TrimLeft(c.Broker.QueryPath, "/")
}

// Redacted returns a copy with credentials masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Connector.Authorization = mask(c.Connector.Authorization)
	c.ProviderUI.Authorization = mask(c.ProviderUI.Authorization)
	return c
}

// YAML renders the config.
func (c Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the built-in defaults. The connector base is left empty, so
// the result does not validate until one is set.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// defaultMap flattens defaultTemplate into dotted viper keys.
func defaultMap() (map[string]any, error) {
	var tree map[string]any
	if err := yaml.Unmarshal([]byte(defaultTemplate), &tree); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	out := map[string]any{}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			if v == nil {
				v = ""
			}
			out[key] = v
		}
	}
	walk("", tree)
	return out, nil
}

func normalizeBase(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if s == "" {
		return ""
	}
	return s + "/"
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

const defaultTemplate = `connector:
  base: ""
  public_base: ""
  authorization: ""
  timeout: 30s
  verify_tls: false
  page_size: 30
  proxy_prefix: /connector

broker:
  recipient: ""
  query_path: api/ids/query

provider_ui:
  base: ""
  authorization: ""
  timeout: 10s

auth_service:
  enforce: true
  base_url: ""
  timeout: 3s
  verify_ssl: true
  session_cookie: sessionid
  allowlist: []
  profile_endpoint: /api/auth/me/
  login_page: /api/auth/login-page/
  logout_page: /api/auth/logout/
  logout_redirect: ""

server:
  addr: 127.0.0.1:8080

journal:
  enabled: false
  workspace: .
`
