package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"oauth": {"client_id": "app", "redirect_url": "http://localhost:3000/auth/callback"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":3000" {
		t.Fatalf("server address default: %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.Directory != "memory" || cfg.BasicConfig.SessionStore != "memory" {
		t.Fatalf("backend defaults: %+v", cfg.BasicConfig)
	}
	if cfg.OAuth.Tenant != "common" {
		t.Fatalf("tenant default: %q", cfg.OAuth.Tenant)
	}
	if len(cfg.OAuth.Scopes) == 0 {
		t.Fatalf("expected default scopes")
	}
	if cfg.Graph.BaseURL != "https://graph.microsoft.com/v1.0" || cfg.Graph.PageSize != 50 {
		t.Fatalf("graph defaults: %+v", cfg.Graph)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{
		"oauth": {"client_id": "app", "client_secret": "from-file", "redirect_url": "http://localhost/cb"},
		"graph": {"base_url": "http://graph.local/v1.0/"}
	}`)
	t.Setenv("MAILVIEW_OAUTH_CLIENT_SECRET", "from-env")
	t.Setenv("MAILVIEW_BASIC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OAuth.ClientSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.OAuth.ClientSecret)
	}
	if cfg.BasicConfig.LogLevel != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.BasicConfig.LogLevel)
	}
	if cfg.Graph.BaseURL != "http://graph.local/v1.0" {
		t.Fatalf("expected trimmed base url, got %q", cfg.Graph.BaseURL)
	}
}

func TestLoadResolvesRelativeSQLitePath(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"directory": "sqlite3"},
		"databases": {"sqlite3": {"dsn": "data/users.db"}},
		"oauth": {"client_id": "app", "redirect_url": "http://localhost/cb"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "data/users.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("dsn: want %s got %s", want, got)
	}
}

func TestLoadRejectsMissingClientID(t *testing.T) {
	path := writeConfig(t, `{"oauth": {"redirect_url": "http://localhost/cb"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without client_id")
	}
}

func TestLoadRejectsUnknownDirectoryDriver(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"directory": "mysql"},
		"oauth": {"client_id": "app", "redirect_url": "http://localhost/cb"}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for directory without database config")
	}
}
