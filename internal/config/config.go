// Package config provides configuration management for fleetdeploy.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration structure
type Config struct {
	User          string `mapstructure:"user"`           // Remote username
	Password      string `mapstructure:"password"`       // Password credential
	UseKey        bool   `mapstructure:"use-key"`        // Authenticate with KeyFile instead of Password
	KeyFile       string `mapstructure:"key-file"`       // Private key path
	KeyPassphrase string `mapstructure:"key-passphrase"` // Passphrase for encrypted keys
	Port          int    `mapstructure:"port"`           // SSH port

	RemoteDir string `mapstructure:"remote-dir"` // Directory files are copied into
	LocalDir  string `mapstructure:"local-dir"`  // Directory whose files are pushed
	Target    string `mapstructure:"target"`     // Executable run after the transfer
	Shell     string `mapstructure:"shell"`      // Interpreter used to run Target

	Exclude        []string `mapstructure:"exclude"`         // Addresses never deployed to
	PrefixLength   int      `mapstructure:"prefix-length"`   // Subnet mask width
	LocalAddress   string   `mapstructure:"local-address"`   // Override for the local interface address
	Inventory      string   `mapstructure:"inventory"`       // Inventory file replacing subnet candidates
	InventoryGroup string   `mapstructure:"inventory-group"` // Restrict the inventory to one group

	Concurrency      int           `mapstructure:"concurrency"`       // Deployment ceiling
	ProbeConcurrency int           `mapstructure:"probe-concurrency"` // Discovery ceiling (0 = every candidate)
	ProbeTimeout     time.Duration `mapstructure:"probe-timeout"`     // Liveness probe timeout
	ConnectTimeout   time.Duration `mapstructure:"connect-timeout"`   // TCP dial timeout
	BannerTimeout    time.Duration `mapstructure:"banner-timeout"`    // Version and key exchange timeout
	AuthTimeout      time.Duration `mapstructure:"auth-timeout"`      // Authentication timeout

	LogDir    string `mapstructure:"log-dir"`    // Journal directory
	LogLevel  string `mapstructure:"log-level"`  // Diagnostic log level (debug, info, error)
	LogFormat string `mapstructure:"log-format"` // Diagnostic log format (json, text)
	Quiet     bool   `mapstructure:"quiet"`      // Suppress non-error diagnostics
	Progress  bool   `mapstructure:"progress"`   // Print a progress line per finished host
	DryRun    bool   `mapstructure:"dry-run"`    // Discover and filter only
}

// Manager loads and validates configuration
type Manager struct {
	v          *viper.Viper
	configFile string
}

// NewManager creates a configuration manager. configFile, when set, replaces
// the search path lookup.
func NewManager(configFile string) *Manager {
	return &Manager{v: viper.New(), configFile: configFile}
}

// SetDefaults establishes default configuration values
func (m *Manager) SetDefaults() {
	m.v.SetDefault("user", "pi")
	m.v.SetDefault("password", "")
	m.v.SetDefault("use-key", false)
	m.v.SetDefault("key-file", "~/.ssh/id_rsa")
	m.v.SetDefault("key-passphrase", "")
	m.v.SetDefault("port", 22)
	m.v.SetDefault("remote-dir", "/home/pi/")
	m.v.SetDefault("local-dir", "./files")
	m.v.SetDefault("target", "update.sh")
	m.v.SetDefault("shell", "bash")
	m.v.SetDefault("exclude", []string{})
	m.v.SetDefault("prefix-length", 24)
	m.v.SetDefault("local-address", "")
	m.v.SetDefault("inventory", "")
	m.v.SetDefault("inventory-group", "")
	m.v.SetDefault("concurrency", 250)
	m.v.SetDefault("probe-concurrency", 0)
	m.v.SetDefault("probe-timeout", time.Second)
	m.v.SetDefault("connect-timeout", 10*time.Second)
	m.v.SetDefault("banner-timeout", 10*time.Second)
	m.v.SetDefault("auth-timeout", 10*time.Second)
	m.v.SetDefault("log-dir", "./logs")
	m.v.SetDefault("log-level", "error")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("progress", false)
	m.v.SetDefault("dry-run", false)
}

// Load reads configuration from defaults, the config file and the
// environment, in increasing precedence. CLI flags are applied by the caller.
func (m *Manager) Load() (*Config, error) {
	m.SetDefaults()

	if m.configFile != "" {
		m.v.SetConfigFile(m.configFile)
	} else {
		m.v.SetConfigName("fleetdeploy")
		m.v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			m.v.AddConfigPath(filepath.Join(homeDir, ".config", "fleetdeploy"))
		}
		m.v.AddConfigPath("/etc/fleetdeploy/")
	}

	m.v.SetEnvPrefix("FLEETDEPLOY")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.KeyFile = ExpandHome(config.KeyFile)

	return &config, nil
}

// ConfigFileUsed returns the config file that was read, if any
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate ensures configuration values are valid and consistent
func (m *Manager) Validate(config *Config) error {
	return Validate(config)
}

// Validate ensures configuration values are valid and consistent
func Validate(config *Config) error {
	required := []struct{ key, value string }{
		{"user", config.User},
		{"remote-dir", config.RemoteDir},
		{"local-dir", config.LocalDir},
		{"target", config.Target},
		{"shell", config.Shell},
		{"log-dir", config.LogDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s cannot be empty", r.key)
		}
	}

	if strings.ContainsAny(config.Target, "/\x00") {
		return fmt.Errorf("target must be a file name, got %q", config.Target)
	}

	// Credentials: exactly one variant, chosen by use-key
	if config.UseKey {
		if strings.TrimSpace(config.KeyFile) == "" {
			return fmt.Errorf("use-key requires key-file")
		}
	} else if config.Password == "" {
		return fmt.Errorf("password is required unless use-key is set")
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", config.Concurrency)
	}
	if config.ProbeConcurrency < 0 {
		return fmt.Errorf("probe-concurrency must be non-negative, got %d", config.ProbeConcurrency)
	}

	timeouts := []struct {
		key   string
		value time.Duration
	}{
		{"probe-timeout", config.ProbeTimeout},
		{"connect-timeout", config.ConnectTimeout},
		{"banner-timeout", config.BannerTimeout},
		{"auth-timeout", config.AuthTimeout},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", t.key, t.value)
		}
	}

	if config.PrefixLength < 16 || config.PrefixLength > 32 {
		return fmt.Errorf("prefix-length must be between 16 and 32, got %d", config.PrefixLength)
	}

	for _, addr := range config.Exclude {
		if !isIPv4(addr) {
			return fmt.Errorf("invalid exclude entry %q: must be an IPv4 address", addr)
		}
	}
	if config.LocalAddress != "" && !isIPv4(config.LocalAddress) {
		return fmt.Errorf("invalid local-address %q: must be an IPv4 address", config.LocalAddress)
	}
	if config.InventoryGroup != "" && config.Inventory == "" {
		return fmt.Errorf("inventory-group requires inventory")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info' or 'error'", config.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	return nil
}

func isIPv4(s string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	return err == nil && addr.Unmap().Is4()
}

// ExpandHome replaces a leading "~/" with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

// GetEnvVarNames returns every supported environment variable name
func GetEnvVarNames() []string {
	keys := []string{
		"user", "password", "use-key", "key-file", "key-passphrase", "port",
		"remote-dir", "local-dir", "target", "shell",
		"exclude", "prefix-length", "local-address", "inventory", "inventory-group",
		"concurrency", "probe-concurrency", "probe-timeout",
		"connect-timeout", "banner-timeout", "auth-timeout",
		"log-dir", "log-level", "log-format", "quiet", "progress", "dry-run",
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = "FLEETDEPLOY_" + strings.ToUpper(strings.ReplaceAll(k, "-", "_"))
	}
	return names
}
