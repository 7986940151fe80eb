package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jw6ventures/studydesk/internal/logging"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	BaseURL    string `yaml:"base_url"`
	DataDir    string `yaml:"data_dir"`

	Session struct {
		Secret string `yaml:"secret"`
	} `yaml:"session"`

	Auth struct {
		InsecureLocalAuth bool `yaml:"insecure_local_auth"`
	} `yaml:"auth"`

	Assets struct {
		Origin      string   `yaml:"origin"`
		Version     string   `yaml:"version"`
		Manifest    []string `yaml:"manifest"`
		Shell       string   `yaml:"shell"`
		SkipWaiting bool     `yaml:"skip_waiting"`
	} `yaml:"assets"`

	Connectivity struct {
		ProbeURL      string        `yaml:"probe_url"`
		ProbeInterval time.Duration `yaml:"probe_interval"`
		ProbeTimeout  time.Duration `yaml:"probe_timeout"`
		StartOnline   bool          `yaml:"start_online"`
	} `yaml:"connectivity"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	TrustedProxies    []string `yaml:"trusted_proxies"`

	warnings []string
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() *Config {
	cfg := &Config{
		ListenAddr: "127.0.0.1:8080",
		BaseURL:    "http://localhost:8080",
		DataDir:    defaultDataDir(),
	}
	cfg.Auth.InsecureLocalAuth = true
	cfg.Assets.Version = "v1"
	cfg.Assets.Shell = "/index.html"
	cfg.Assets.SkipWaiting = true
	cfg.Assets.Manifest = []string{
		"/",
		"/index.html",
		"/css/main.css",
		"/js/app.js",
		"/manifest.json",
	}
	cfg.Connectivity.ProbeInterval = 30 * time.Second
	cfg.Connectivity.ProbeTimeout = 5 * time.Second
	cfg.Connectivity.StartOnline = true
	cfg.Log.Level = "info"
	return cfg
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "studydesk")
	}
	return ".studydesk"
}

// Load builds the configuration from defaults, then the YAML file at path
// (a missing file is not an error), then APP_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if cfg.Session.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		cfg.Session.Secret = secret
		cfg.warnings = append(cfg.warnings, "no APP_SESSION_SECRET configured; using a random secret, sessions will not survive a restart")
	}
	if len(cfg.TrustedProxies) == 0 {
		cfg.warnings = append(cfg.warnings, "no APP_TRUSTED_PROXIES configured; forwarded headers from any proxy are trusted")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	c.ListenAddr = getenvDefault("APP_LISTEN_ADDR", c.ListenAddr)
	c.BaseURL = getenvDefault("APP_BASE_URL", c.BaseURL)
	c.DataDir = getenvDefault("APP_DATA_DIR", c.DataDir)
	c.Session.Secret = getenvDefault("APP_SESSION_SECRET", c.Session.Secret)
	c.Auth.InsecureLocalAuth = getenvBool("APP_INSECURE_LOCAL_AUTH", c.Auth.InsecureLocalAuth)

	c.Assets.Origin = getenvDefault("APP_ASSETS_ORIGIN", c.Assets.Origin)
	c.Assets.Version = getenvDefault("APP_ASSETS_VERSION", c.Assets.Version)
	c.Assets.Shell = getenvDefault("APP_ASSETS_SHELL", c.Assets.Shell)
	c.Assets.SkipWaiting = getenvBool("APP_ASSETS_SKIP_WAITING", c.Assets.SkipWaiting)
	if manifest := getenvList("APP_ASSETS_MANIFEST"); manifest != nil {
		c.Assets.Manifest = manifest
	}

	c.Connectivity.ProbeURL = getenvDefault("APP_PROBE_URL", c.Connectivity.ProbeURL)
	c.Connectivity.StartOnline = getenvBool("APP_START_ONLINE", c.Connectivity.StartOnline)
	var err error
	if c.Connectivity.ProbeInterval, err = getenvDuration("APP_PROBE_INTERVAL", c.Connectivity.ProbeInterval); err != nil {
		return err
	}
	if c.Connectivity.ProbeTimeout, err = getenvDuration("APP_PROBE_TIMEOUT", c.Connectivity.ProbeTimeout); err != nil {
		return err
	}

	c.Log.Level = getenvDefault("APP_LOG_LEVEL", c.Log.Level)
	c.Log.Development = getenvBool("APP_LOG_DEVELOPMENT", c.Log.Development)
	c.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", c.PrometheusEnabled)
	if proxies := getenvList("APP_TRUSTED_PROXIES"); proxies != nil {
		c.TrustedProxies = proxies
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(c.Session.Secret))
	}
	if c.Assets.Origin != "" {
		u, err := url.Parse(c.Assets.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("assets.origin %q must be an absolute URL", c.Assets.Origin)
		}
		if c.Assets.Version == "" {
			return errors.New("assets.version is required when assets.origin is set")
		}
		if !strings.HasPrefix(c.Assets.Shell, "/") {
			return fmt.Errorf("assets.shell %q must be an absolute path", c.Assets.Shell)
		}
	}
	if c.Connectivity.ProbeURL != "" {
		if c.Connectivity.ProbeInterval <= 0 {
			return errors.New("connectivity.probe_interval must be positive")
		}
		if c.Connectivity.ProbeTimeout <= 0 {
			return errors.New("connectivity.probe_timeout must be positive")
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Warnings returns the non-fatal problems found while loading.
func (c *Config) Warnings() []string {
	return c.warnings
}

// StorePath is the bbolt file holding user data.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "studydesk.db")
}

// AssetCachePath is the bbolt file holding cached assets.
func (c *Config) AssetCachePath() string {
	return filepath.Join(c.DataDir, "assets.db")
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
