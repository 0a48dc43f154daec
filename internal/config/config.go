package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illarion/lockpass/internal/crypto"
	"gopkg.in/yaml.v3"
)

//go:embed config.yml
var defaultConfig string

const (
	ConfigEnv     = "LOCKPASS_CONFIG"
	configDir     = "lockpass"
	configFile    = "config.yml"
	vaultFile     = "vault.lockpass"
	minIterations = 1000
)

var ErrInvalidConfig = errors.New("invalid config")

// SyncConfig holds LAN sync settings
type SyncConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	AnswerTimeout    time.Duration `yaml:"answer_timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	RateBurst        int           `yaml:"rate_burst"`
}

type Config struct {
	VaultPath     string     `yaml:"vault_path"`
	DeviceID      string     `yaml:"device_id"`
	DeviceName    string     `yaml:"device_name"`
	KDFIterations int        `yaml:"kdf_iterations"`
	LogLevel      string     `yaml:"log_level"`
	Sync          SyncConfig `yaml:"sync"`

	path string
}

// Path returns the file the config was read from
func (c *Config) Path() string {
	return c.path
}

// DefaultPath returns $LOCKPASS_CONFIG, or config.yml under the user config
// directory ($XDG_CONFIG_HOME or ~/.config)
func DefaultPath() (string, error) {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to find home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, configDir, configFile), nil
}

// Load reads the config file at path, writing the defaults first when it
// does not exist yet. A missing device id is generated and saved.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := setupDefaultConfig(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = path

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	cfg.resolve()
	return cfg, cfg.validate()
}

// Save writes the config back to the file it came from
func (c *Config) Save() error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, out, 0600)
}

// parse decodes data over the embedded defaults, so keys left out of the
// file keep their default values
func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultConfig), &cfg); err != nil {
		return nil, fmt.Errorf("embedded config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func setupDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfig), 0600)
}

// resolve fills values that depend on the environment
func (c *Config) resolve() {
	switch {
	case c.VaultPath == "":
		c.VaultPath = filepath.Join(filepath.Dir(c.path), vaultFile)
	case c.VaultPath == "~" || strings.HasPrefix(c.VaultPath, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			c.VaultPath = filepath.Join(home, strings.TrimPrefix(c.VaultPath, "~"))
		}
	}
	if c.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			c.DeviceName = host
		}
	}
}

func (c *Config) validate() error {
	if c.KDFIterations < minIterations || c.KDFIterations > crypto.MaxIterations {
		return fmt.Errorf("%w: kdf_iterations must be between %d and %d", ErrInvalidConfig, minIterations, crypto.MaxIterations)
	}
	if c.Sync.RateLimit < 0 || c.Sync.RateBurst < 0 {
		return fmt.Errorf("%w: sync rate settings must not be negative", ErrInvalidConfig)
	}
	if c.Sync.RequestTimeout < 0 || c.Sync.HandshakeTimeout < 0 || c.Sync.AnswerTimeout < 0 {
		return fmt.Errorf("%w: sync timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}
