package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"gopkg.in/yaml.v3"
)

const (
	AppName = "cf-ddns-sync"

	defaultHTTPTimeout = 10 // seconds
	defaultAPIURL      = "https://api.cloudflare.com/client/v4"
	defaultLogLevel    = "info"
	defaultLogEnv      = "prod"
	envPrefix          = "CF_"
)

var defaultIPSources = []string{"https://ipv4.icanhazip.com", "https://api.ipify.org"}

var (
	ErrMissingFields = errors.New("missing configuration entries")
	ErrInvalid       = errors.New("invalid configuration")

	ErrCreatedDefault = errors.New("created default config file")
)

// Config is read from a YAML file and then overlaid with CF_-prefixed
// environment variables.
type Config struct {
	IPSources          []string `yaml:"ip_src" env:"IP_SRC" envSeparator:","`
	AuthKey            string   `yaml:"auth_key" env:"AUTH_KEY"`
	AuthEmail          string   `yaml:"auth_email" env:"AUTH_EMAIL"`
	ZoneID             string   `yaml:"zone_id" env:"ZONE_ID"`
	ZoneName           string   `yaml:"zone_name,omitempty" env:"ZONE_NAME"`
	Patterns           []string `yaml:"patterns,omitempty" env:"PATTERNS" envSeparator:","`
	InvertPatterns     bool     `yaml:"invert_patterns" env:"INVERT_PATTERNS"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_s" env:"HTTP_TIMEOUT_S"`
	APIURL             string   `yaml:"api_url" env:"API_URL"`
	DryRun             bool     `yaml:"dry_run" env:"DRY_RUN"`
	LogLevel           string   `yaml:"log_level" env:"LOG_LEVEL"`
	LogEnv             string   `yaml:"log_env" env:"LOG_ENV"`
	MetricsTextfile    string   `yaml:"metrics_textfile,omitempty" env:"METRICS_TEXTFILE"`
}

func Default() Config {
	sources := make([]string, len(defaultIPSources))
	copy(sources, defaultIPSources)
	return Config{
		IPSources:          sources,
		InvertPatterns:     true,
		HTTPTimeoutSeconds: defaultHTTPTimeout,
		APIURL:             defaultAPIURL,
		LogLevel:           defaultLogLevel,
		LogEnv:             defaultLogEnv,
	}
}

// DefaultPath is config.yaml under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, AppName, "config.yaml"), nil
}

// Load reads path on top of the defaults and applies the environment overlay.
// A missing file is created with default contents and Load returns
// ErrCreatedDefault so the caller stops until the file is filled in.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := WriteDefault(path); err != nil {
			return nil, fmt.Errorf("create default config %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w %s, fill in %s", ErrCreatedDefault, path, strings.Join(requiredFields, ", "))
	case err != nil:
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		slog.Default().Warn("fail close config file", "path", path, "error", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. The file holds credentials once filled in, so it is private.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var requiredFields = []string{"auth_key", "auth_email", "zone_id"}

// Validate reports every missing required field at once, along with any
// other invalid values.
func (c *Config) Validate() error {
	var missing []string
	if c.AuthKey == "" {
		missing = append(missing, "auth_key")
	}
	if c.AuthEmail == "" {
		missing = append(missing, "auth_email")
	}
	if c.ZoneID == "" && c.ZoneName == "" {
		missing = append(missing, "zone_id")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", ")))
	}
	if len(c.IPSources) == 0 {
		errs = append(errs, fmt.Errorf("%w: ip_src must list at least one url", ErrInvalid))
	}
	if c.HTTPTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: http_timeout_s must be positive, got %d", ErrInvalid, c.HTTPTimeoutSeconds))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
