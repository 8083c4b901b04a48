// Package config loads docshare client configuration.
//
// Configuration comes from an optional YAML file (the --config flag or
// DOCSHARE_CONFIG), then environment overrides, then Validate. Business logic
// never reads the environment directly.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jun/docshare/internal/credstore"
)

const (
	DefaultAPIURL  = "http://localhost:8000/api"
	DefaultTimeout = 15 * time.Second
)

// Config holds everything a docshare client process needs.
type Config struct {
	Environment string           `yaml:"environment"`
	LogLevel    string           `yaml:"log_level"`
	API         APIConfig        `yaml:"api"`
	Credentials CredentialConfig `yaml:"credentials"`
	Preview     PreviewConfig    `yaml:"preview"`
}

// APIConfig locates the document service.
type APIConfig struct {
	// BaseURL is the API root, e.g. https://docs.example.com/api.
	BaseURL string `yaml:"base_url"`

	// WebURL is where the web client serves /shared-document/<token>.
	// Defaults to BaseURL without its /api suffix.
	WebURL string `yaml:"web_url"`

	Timeout time.Duration `yaml:"timeout"`
}

// CredentialConfig selects and configures the credential store.
type CredentialConfig struct {
	// Target forces a backend; empty means detect from the runtime.
	Target string `yaml:"target"`

	// Path is the encrypted credential file for the native target.
	Path string `yaml:"path"`

	// PassphraseParam names the secret holding the credential file passphrase.
	PassphraseParam string `yaml:"passphrase_param"`

	// Table, KMSKeyID and Principal configure the serverless target.
	Table     string `yaml:"table"`
	KMSKeyID  string `yaml:"kms_key_id"`
	Principal string `yaml:"principal"`
}

// PreviewConfig configures the shared-document preview function.
type PreviewConfig struct {
	// OriginSecretParam names the secret the CDN sends in X-Origin-Verify.
	// Empty disables the check.
	OriginSecretParam string `yaml:"origin_secret_param"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		API: APIConfig{
			BaseURL: DefaultAPIURL,
			Timeout: DefaultTimeout,
		},
		Credentials: CredentialConfig{
			Path:            defaultCredentialPath(),
			PassphraseParam: "/docshare/credential-passphrase",
			Table:           "DocshareCredentials",
			KMSKeyID:        "alias/docshare-credentials",
			Principal:       "default",
		},
	}
}

func defaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "docshare", "credentials.age")
}

// Load reads path (when non-empty), applies environment overrides from getenv,
// and validates the result.
func Load(path string, getenv func(string) string) (Config, error) {
	c := Default()

	if path == "" {
		path = getenv("DOCSHARE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Environment, "DOCSHARE_ENV")
	set(&c.LogLevel, "DOCSHARE_LOG_LEVEL")
	set(&c.API.BaseURL, "DOCSHARE_API_URL")
	set(&c.API.WebURL, "DOCSHARE_WEB_URL")
	set(&c.Credentials.Target, "DOCSHARE_STORE")
	set(&c.Credentials.Path, "DOCSHARE_STORE_PATH")
	set(&c.Credentials.PassphraseParam, "DOCSHARE_PASSPHRASE_PARAM")
	set(&c.Credentials.Table, "DOCSHARE_TOKEN_TABLE")
	set(&c.Credentials.KMSKeyID, "DOCSHARE_KMS_KEY_ID")
	set(&c.Credentials.Principal, "DOCSHARE_PRINCIPAL")
	set(&c.Preview.OriginSecretParam, "DOCSHARE_ORIGIN_SECRET_PARAM")

	if v := strings.TrimSpace(getenv("DOCSHARE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DOCSHARE_TIMEOUT must be a duration, got %q", v)
		}
		c.API.Timeout = d
	}
	return nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("environment must be one of development, staging, production, got %q", c.Environment))
	}

	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL))
	} else if c.Environment == "production" && u.Scheme != "https" {
		errs = append(errs, errors.New("api.base_url must use https in production"))
	}
	if c.API.WebURL == "" {
		c.API.WebURL = strings.TrimSuffix(c.API.BaseURL, "/api")
	}
	c.API.WebURL = strings.TrimRight(c.API.WebURL, "/")

	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout))
	}

	target, err := credstore.ParseTarget(c.Credentials.Target)
	if err != nil {
		errs = append(errs, err)
	}
	switch target {
	case credstore.TargetNative:
		if c.Credentials.Path == "" {
			errs = append(errs, errors.New("credentials.path is required for the native target"))
		}
	case credstore.TargetServerless:
		if c.Credentials.Table == "" || c.Credentials.KMSKeyID == "" {
			errs = append(errs, errors.New("credentials.table and credentials.kms_key_id are required for the serverless target"))
		}
	}

	return errors.Join(errs...)
}

// StoreTarget resolves the credential backend, detecting it when not forced.
func (c Config) StoreTarget() credstore.Target {
	if c.Credentials.Target != "" {
		return credstore.Target(c.Credentials.Target)
	}
	return credstore.RuntimeTarget()
}
