package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription imported into the calendar store.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name becomes the display name of the calendar folder.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the module endpoint.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" json:"driver" env:"GROUPCAL_STORE_DRIVER"`
	// Path is the sqlite database file. Ignored by the memory driver.
	Path string `yaml:"path" json:"path" env:"GROUPCAL_STORE_PATH"`
	// Owner is the user name owning the default store.
	Owner string `yaml:"owner" json:"owner" env:"GROUPCAL_STORE_OWNER"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the module endpoint.
	Listen string `yaml:"listen" json:"listen" env:"GROUPCAL_LISTEN"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"GROUPCAL_LOG_LEVEL"`

	// Language selects the catalog for client-visible placeholder strings (BCP 47).
	Language string `yaml:"language" json:"language" env:"GROUPCAL_LANGUAGE"`

	// Timezone is the IANA zone floating and date-only feed times are read in.
	Timezone string `yaml:"timezone" json:"timezone" env:"GROUPCAL_TIMEZONE"`

	// PageSize is the default row limit for plain list requests.
	PageSize int `yaml:"page_size" json:"page_size" env:"GROUPCAL_PAGE_SIZE"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// controlling how often ICS subscriptions are re-imported.
	RefreshCron string `yaml:"refresh" json:"refresh" env:"GROUPCAL_REFRESH"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"GROUPCAL_CACHE_DIR"`

	Store StoreConfig `yaml:"store" json:"store"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins" env:"GROUPCAL_CORS_ORIGINS" envSeparator:","`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health. The authenticated user name becomes the session user.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		LogLevel:    "info",
		Language:    "en",
		Timezone:    "UTC",
		PageSize:    50,
		RefreshCron: "*/15 * * * *",
		CacheDir:    "./var/ics-cache",
		Store: StoreConfig{
			Driver: "memory",
			Path:   "./var/groupcal.db",
			Owner:  "admin",
		},
		ICS:         []ICSConfig{},
		CORSOrigins: []string{"http://localhost:8080"},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		// Unknown or empty driver; the memory store always works.
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.Owner == "" {
		c.Store.Owner = def.Store.Owner
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = def.CORSOrigins
	}
}

// Load loads configuration from the given YAML path and applies
// GROUPCAL_* environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600 perms.
//   - Environment variables win over file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save normalizes cfg and writes it to path as YAML, replacing the file
// atomically. The file is readable by the owner only.
func Save(path string, cfg *Config) error {
	switch {
	case path == "":
		return errors.New("config path is empty")
	case cfg == nil:
		return errors.New("config is nil")
	}
	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".groupcal-config-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
