package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"CONFIG_FILE", "ENV_FILE", "ENVIRONMENT", "PORT", "LOG_LEVEL", "GCP_PROJECT",
	"PORTAL_SECRET", "BACKEND", "SETTINGS_PATH", "MIN_CLIENT_VERSION",
	"SAVE_TIMEOUT", "MAX_ELEMENTS_ANONYMOUS", "MAX_ELEMENTS_LOGGED_IN",
	"PORTAL_URL", "PORTAL_ACCESS_KEY", "PORTAL_SECRET_KEY", "PORTAL_TLS_FINGERPRINT",
}

// isolateEnv unsets every configuration variable for the test and points
// ENV_FILE at a file that does not exist.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadFromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PORTAL_URL", "https://portal.example.org")
	t.Setenv("PORTAL_ACCESS_KEY", "AKEY")
	t.Setenv("PORTAL_SECRET_KEY", "SKEY")
	t.Setenv("PORTAL_TLS_FINGERPRINT", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SAVE_TIMEOUT", "5s")
	t.Setenv("MAX_ELEMENTS_ANONYMOUS", "10")
	t.Setenv("MIN_CLIENT_VERSION", "1.2.0")
	t.Setenv("SETTINGS_PATH", "/tmp/cart.json")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := &Config{
		Port:                 "9090",
		Environment:          "development",
		LogLevel:             "debug",
		PortalSecret:         defaultPortalSecret,
		Backend:              BackendPortal,
		SettingsPath:         "/tmp/cart.json",
		SaveTimeout:          5 * time.Second,
		MaxAnonymousElements: 10,
		MaxLoggedInElements:  8000,
		MinClientVersion:     "1.2.0",
		Portal: PortalConfig{
			URL:            "https://portal.example.org",
			AccessKey:      "AKEY",
			SecretKey:      "SKEY",
			TLSFingerprint: true,
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMemoryBackendNeedsNoPortal(t *testing.T) {
	isolateEnv(t)
	t.Setenv("BACKEND", "memory")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.SaveTimeout != defaultSaveTimeout || cfg.MaxAnonymousElements != 4000 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing portal url", map[string]string{}, "portal url is required"},
		{"relative portal url", map[string]string{"PORTAL_URL": "portal.example.org"}, "invalid portal url"},
		{"half a key pair", map[string]string{"PORTAL_URL": "https://p.example", "PORTAL_ACCESS_KEY": "a"}, "set together"},
		{"unknown backend", map[string]string{"BACKEND": "s3"}, "unknown backend"},
		{"bad timeout", map[string]string{"BACKEND": "memory", "SAVE_TIMEOUT": "soon"}, "invalid SAVE_TIMEOUT"},
		{"negative timeout", map[string]string{"BACKEND": "memory", "SAVE_TIMEOUT": "-1s"}, "must be positive"},
		{"bad limit", map[string]string{"BACKEND": "memory", "MAX_ELEMENTS_LOGGED_IN": "many"}, "invalid MAX_ELEMENTS_LOGGED_IN"},
		{"zero limit", map[string]string{"BACKEND": "memory", "MAX_ELEMENTS_ANONYMOUS": "0"}, "must be positive"},
		{"bad client version", map[string]string{"BACKEND": "memory", "MIN_CLIENT_VERSION": "latest"}, "invalid min client version"},
		{"production without project", map[string]string{"ENVIRONMENT": "production", "PORTAL_URL": "https://p.example"}, "GCP_PROJECT required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "dev.env")
	content := "BACKEND=memory\nPORT=7070\n# comment\nLOG_LEVEL=warn\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("LOG_LEVEL", "error") // set variables win over the file

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.Port != "7070" || cfg.LogLevel != "error" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"cart.json": `{
			"port": "8181",
			"backend": "portal",
			"save_timeout": "12s",
			"max_elements_logged_in": 500,
			"portal": {"url": "https://portal.example.org", "access_key": "a", "secret_key": "s"}
		}`,
		"cart.yaml": `
port: "8181"
backend: portal
save_timeout: 12s
max_elements_logged_in: 500
portal:
  url: https://portal.example.org
  access_key: a
  secret_key: s
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			isolateEnv(t)
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			t.Setenv("CONFIG_FILE", path)

			cfg, err := Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			want := &Config{
				Port:                 "8181",
				Environment:          "development",
				LogLevel:             "info",
				Backend:              BackendPortal,
				SaveTimeout:          12 * time.Second,
				MaxAnonymousElements: 4000,
				MaxLoggedInElements:  500,
				Portal:               PortalConfig{URL: "https://portal.example.org", AccessKey: "a", SecretKey: "s"},
			}
			if diff := cmp.Diff(want, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"missing file", "absent.json", "", "reading config file"},
		{"bad json", "bad.json", "{", "parsing config file"},
		{"bad yaml", "bad.yml", "portal: [", "parsing config file"},
		{"bad timeout", "t.json", `{"backend":"memory","save_timeout":"later"}`, "invalid save_timeout"},
		{"no url", "n.json", `{"backend":"portal"}`, "portal url is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.content != "" {
				os.WriteFile(path, []byte(tt.content), 0o600)
			}
			_, err := loadFromFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("loadFromFile() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplySecret(t *testing.T) {
	cfg := &Config{Portal: PortalConfig{URL: "https://portal.example.org", AccessKey: "dev"}}

	if err := cfg.applySecret([]byte(`{"access_key":"prod-a","secret_key":"prod-s"}`)); err != nil {
		t.Fatal(err)
	}
	want := PortalConfig{URL: "https://portal.example.org", AccessKey: "prod-a", SecretKey: "prod-s"}
	if diff := cmp.Diff(want, cfg.Portal); diff != "" {
		t.Errorf("Portal (-want +got):\n%s", diff)
	}
	if err := cfg.applySecret([]byte("not json")); err == nil {
		t.Error("applySecret() should reject malformed payloads")
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_CART_VAR", "value")
	if got := envOrDefault("TEST_CART_VAR", "default"); got != "value" {
		t.Errorf("envOrDefault() = %s, want value", got)
	}
	if got := envOrDefault("TEST_CART_VAR_UNSET", "default"); got != "default" {
		t.Errorf("envOrDefault() = %s, want default", got)
	}
	if withDefault("", "d") != "d" || withDefault("v", "d") != "v" {
		t.Error("withDefault() mismatch")
	}
}
