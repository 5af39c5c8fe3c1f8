// Package config handles loading and validation of service configuration.
// Supports both development (env vars, .env, CONFIG_FILE) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"portal-cart/internal/cart"
)

// Backends the cart service can persist to.
const (
	BackendPortal = "portal"
	BackendMemory = "memory" // in-process store for local development and demos
)

const (
	defaultSaveTimeout  = 30 * time.Second
	defaultPortalSecret = "portal-cart-credentials"
)

// Config holds all service configuration.
// Environment determines whether portal credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject   string
	PortalSecret string // secret holding the portal credentials JSON

	Backend      string
	SettingsPath string // "" uses settings.DefaultPath

	// Cart behaviour
	SaveTimeout          time.Duration
	MaxAnonymousElements int
	MaxLoggedInElements  int
	MinClientVersion     string // oldest UI version accepted, "" accepts all

	Portal PortalConfig
}

// PortalConfig describes the portal the carts are stored in.
// In production the keys are loaded from Secret Manager as JSON.
type PortalConfig struct {
	URL            string `json:"url" yaml:"url"`
	AccessKey      string `json:"access_key" yaml:"access_key"`
	SecretKey      string `json:"secret_key" yaml:"secret_key"`
	TLSFingerprint bool   `json:"tls_fingerprint,omitempty" yaml:"tls_fingerprint,omitempty"`
}

// fileConfig mirrors the CONFIG_FILE layout, in JSON or YAML.
type fileConfig struct {
	Port                 string       `json:"port" yaml:"port"`
	Environment          string       `json:"environment" yaml:"environment"`
	LogLevel             string       `json:"log_level" yaml:"log_level"`
	Backend              string       `json:"backend" yaml:"backend"`
	SettingsPath         string       `json:"settings_path" yaml:"settings_path"`
	SaveTimeout          string       `json:"save_timeout" yaml:"save_timeout"`
	MaxAnonymousElements int          `json:"max_elements_anonymous" yaml:"max_elements_anonymous"`
	MaxLoggedInElements  int          `json:"max_elements_logged_in" yaml:"max_elements_logged_in"`
	MinClientVersion     string       `json:"min_client_version" yaml:"min_client_version"`
	Portal               PortalConfig `json:"portal" yaml:"portal"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) -> ENV vars / Secret Manager. Outside
// production a .env file (ENV_FILE, default ".env") seeds the environment
// without overriding variables already set.
func Load(ctx context.Context) (*Config, error) {
	if envOrDefault("ENVIRONMENT", "development") != "production" {
		if err := loadDotEnv(envOrDefault("ENV_FILE", ".env")); err != nil {
			return nil, err
		}
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:             envOrDefault("PORT", "8080"),
		Environment:      envOrDefault("ENVIRONMENT", "development"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		GCPProject:       os.Getenv("GCP_PROJECT"),
		PortalSecret:     envOrDefault("PORTAL_SECRET", defaultPortalSecret),
		Backend:          envOrDefault("BACKEND", BackendPortal),
		SettingsPath:     os.Getenv("SETTINGS_PATH"),
		MinClientVersion: os.Getenv("MIN_CLIENT_VERSION"),
	}

	var err error
	if cfg.SaveTimeout, err = durationEnv("SAVE_TIMEOUT", defaultSaveTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxAnonymousElements, err = intEnv("MAX_ELEMENTS_ANONYMOUS", cart.MaxAnonymousElements); err != nil {
		return nil, err
	}
	if cfg.MaxLoggedInElements, err = intEnv("MAX_ELEMENTS_LOGGED_IN", cart.MaxLoggedInElements); err != nil {
		return nil, err
	}

	cfg.loadPortalFromEnv()
	if cfg.Environment == "production" && cfg.Backend == BackendPortal {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading portal credentials: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the environment when it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadFromFile reads all configuration from a JSON or YAML file, chosen
// by extension.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:                 withDefault(fc.Port, "8080"),
		Environment:          withDefault(fc.Environment, "development"),
		LogLevel:             withDefault(fc.LogLevel, "info"),
		Backend:              withDefault(fc.Backend, BackendPortal),
		SettingsPath:         fc.SettingsPath,
		MaxAnonymousElements: fc.MaxAnonymousElements,
		MaxLoggedInElements:  fc.MaxLoggedInElements,
		MinClientVersion:     fc.MinClientVersion,
		Portal:               fc.Portal,
		SaveTimeout:          defaultSaveTimeout,
	}
	if cfg.MaxAnonymousElements == 0 {
		cfg.MaxAnonymousElements = cart.MaxAnonymousElements
	}
	if cfg.MaxLoggedInElements == 0 {
		cfg.MaxLoggedInElements = cart.MaxLoggedInElements
	}
	if fc.SaveTimeout != "" {
		if cfg.SaveTimeout, err = time.ParseDuration(fc.SaveTimeout); err != nil {
			return nil, fmt.Errorf("invalid save_timeout %q: %w", fc.SaveTimeout, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the portal keys from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{portal_secret}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.PortalSecret)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}
	return c.applySecret(result.Payload.Data)
}

// applySecret overlays the keys (and optionally the URL) from a secret
// payload onto the portal config.
func (c *Config) applySecret(data []byte) error {
	var secret PortalConfig
	if err := json.Unmarshal(data, &secret); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	c.Portal.AccessKey = secret.AccessKey
	c.Portal.SecretKey = secret.SecretKey
	if secret.URL != "" {
		c.Portal.URL = secret.URL
	}
	return nil
}

// loadPortalFromEnv reads the portal settings from individual variables.
func (c *Config) loadPortalFromEnv() {
	c.Portal = PortalConfig{
		URL:            os.Getenv("PORTAL_URL"),
		AccessKey:      os.Getenv("PORTAL_ACCESS_KEY"),
		SecretKey:      os.Getenv("PORTAL_SECRET_KEY"),
		TLSFingerprint: os.Getenv("PORTAL_TLS_FINGERPRINT") == "true",
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPortal:
		if c.Portal.URL == "" {
			return fmt.Errorf("portal url is required")
		}
		u, err := url.Parse(c.Portal.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid portal url %q", c.Portal.URL)
		}
		if (c.Portal.AccessKey == "") != (c.Portal.SecretKey == "") {
			return fmt.Errorf("portal access_key and secret_key must be set together")
		}
	default:
		return fmt.Errorf("unknown backend %q (portal or memory)", c.Backend)
	}

	if c.SaveTimeout <= 0 {
		return fmt.Errorf("save timeout must be positive")
	}
	if c.MaxAnonymousElements <= 0 || c.MaxLoggedInElements <= 0 {
		return fmt.Errorf("element limits must be positive")
	}
	if c.MinClientVersion != "" && !semver.IsValid(canonicalVersion(c.MinClientVersion)) {
		return fmt.Errorf("invalid min client version %q", c.MinClientVersion)
	}
	return nil
}

func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
