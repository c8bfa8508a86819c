package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides, e.g. MAILVIEW_OAUTH_CLIENT_SECRET.
const EnvPrefix = "MAILVIEW"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" envconfig:"BASIC"`
	Databases   map[string]DatabaseConfig `json:"databases" ignored:"true"`
	Redis       RedisConfig               `json:"redis" envconfig:"REDIS"`
	OAuth       OAuthConfig               `json:"oauth" envconfig:"OAUTH"`
	Graph       GraphConfig               `json:"graph" envconfig:"GRAPH"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" envconfig:"SERVER_ADDRESS"`
	LogLevel      string `json:"log_level" envconfig:"LOG_LEVEL"`
	// Directory is "memory" or a database driver name (sqlite3, mysql, postgres).
	Directory string `json:"directory" envconfig:"DIRECTORY"`
	// SessionStore is "memory" or "redis".
	SessionStore         string `json:"session_store" envconfig:"SESSION_STORE"`
	SessionTTL           int    `json:"session_ttl" envconfig:"SESSION_TTL"`                       // minutes
	SessionSweepInterval int    `json:"session_sweep_interval" envconfig:"SESSION_SWEEP_INTERVAL"` // minutes
	TokenKey             string `json:"token_key" envconfig:"TOKEN_KEY"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" envconfig:"HOST"`
	Port     int    `json:"port" envconfig:"PORT"`
	Username string `json:"username" envconfig:"USERNAME"`
	Password string `json:"password" envconfig:"PASSWORD"`
	DB       int    `json:"db" envconfig:"DB"`
}

// OAuthConfig describes the Microsoft identity platform app registration.
type OAuthConfig struct {
	ClientID     string   `json:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string   `json:"client_secret" envconfig:"CLIENT_SECRET"`
	Tenant       string   `json:"tenant" envconfig:"TENANT"`
	RedirectURL  string   `json:"redirect_url" envconfig:"REDIRECT_URL"`
	Scopes       []string `json:"scopes" envconfig:"SCOPES"`
	Authority    string   `json:"authority" envconfig:"AUTHORITY"` // overrides https://login.microsoftonline.com
}

type GraphConfig struct {
	BaseURL  string `json:"base_url" envconfig:"BASE_URL"`
	PageSize int    `json:"page_size" envconfig:"PAGE_SIZE"`
}

var defaultScopes = []string{"openid", "profile", "offline_access", "User.Read", "MailboxSettings.Read", "Mail.Read"}

// Load reads configuration from the provided path (defaults to config.json)
// and overlays MAILVIEW_* environment variables on top.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployments are allowed
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if sqlite, ok := cfg.Databases["sqlite3"]; ok && sqlite.DSN != "" && sqlite.DSN != ":memory:" && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(filepath.Dir(absPath), sqlite.DSN)
		cfg.Databases["sqlite3"] = sqlite
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":3000"
	}
	if c.BasicConfig.Directory == "" {
		c.BasicConfig.Directory = "memory"
	}
	if c.BasicConfig.SessionStore == "" {
		c.BasicConfig.SessionStore = "memory"
	}
	if c.BasicConfig.SessionTTL <= 0 {
		c.BasicConfig.SessionTTL = 24 * 60
	}
	if c.BasicConfig.SessionSweepInterval <= 0 {
		c.BasicConfig.SessionSweepInterval = 10
	}
	if c.OAuth.Tenant == "" {
		c.OAuth.Tenant = "common"
	}
	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = append([]string(nil), defaultScopes...)
	}
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	c.Graph.BaseURL = strings.TrimRight(c.Graph.BaseURL, "/")
	if c.Graph.PageSize <= 0 {
		c.Graph.PageSize = 50
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
}

func (c *Config) validate() error {
	if c.OAuth.ClientID == "" {
		return errors.New("oauth client_id must be configured")
	}
	if c.OAuth.RedirectURL == "" {
		return errors.New("oauth redirect_url must be configured")
	}
	switch c.BasicConfig.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported session_store: %s", c.BasicConfig.SessionStore)
	}
	if c.BasicConfig.Directory != "memory" {
		if _, ok := c.Databases[c.BasicConfig.Directory]; !ok {
			return fmt.Errorf("database config for %s not found", c.BasicConfig.Directory)
		}
	}
	return nil
}
