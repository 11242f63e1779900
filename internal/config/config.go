package config

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config represents the complete yarals configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Install InstallConfig `json:"install" mapstructure:"install"`
	Resolve ResolveConfig `json:"resolve" mapstructure:"resolve"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig controls how the companion process is launched and awaited.
type ServerConfig struct {
	Host       string `json:"host" mapstructure:"host"`
	Port       int    `json:"port" mapstructure:"port"`
	Entrypoint string `json:"entrypoint" mapstructure:"entrypoint"`

	// Command replaces the environment interpreter when set. Entrypoint is
	// still passed unless Args is set.
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`

	StartTimeoutMs    int  `json:"startTimeoutMs" mapstructure:"startTimeoutMs"`
	PollIntervalMs    int  `json:"pollIntervalMs" mapstructure:"pollIntervalMs"`
	KillOnUnreachable bool `json:"killOnUnreachable" mapstructure:"killOnUnreachable"`

	// OutputLog receives the companion's stdout and stderr, relative to
	// .yarals/logs. It rotates with the logging maxSize and maxBackups.
	OutputLog string `json:"outputLog,omitempty" mapstructure:"outputLog"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StartTimeout is the bound on the port wait.
func (s ServerConfig) StartTimeout() time.Duration {
	return time.Duration(s.StartTimeoutMs) * time.Millisecond
}

// PollInterval is the delay between two port checks.
func (s ServerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// InstallConfig describes the companion runtime environment.
type InstallConfig struct {
	// Dir is the environment directory relative to the root dir.
	Dir          string `json:"dir" mapstructure:"dir"`
	BaseRuntime  string `json:"baseRuntime" mapstructure:"baseRuntime"`
	Requirements string `json:"requirements" mapstructure:"requirements"`
	// Bundle is an optional prebuilt environment archive relative to the
	// root dir (.tar.zst, .tar.gz or .tgz).
	Bundle string `json:"bundle,omitempty" mapstructure:"bundle"`
}

// ResolveConfig contains symbol resolution settings
type ResolveConfig struct {
	Sigils string `json:"sigils" mapstructure:"sigils"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format     string `json:"format" mapstructure:"format"`
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file,omitempty" mapstructure:"file"`
	MaxSize    string `json:"maxSize,omitempty" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups,omitempty" mapstructure:"maxBackups"`
}

var sizeUnits = []struct {
	suffix string
	scale  int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// MaxSizeBytes parses MaxSize ("512KB", "10MB", "1GB" or a plain byte
// count). An empty value means no rotation and yields 0.
func (l LoggingConfig) MaxSizeBytes() (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(l.MaxSize))
	if s == "" {
		return 0, nil
	}
	scale := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, scale = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.scale
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, &ConfigError{Field: "logging.maxSize", Message: "must be a size such as 512KB, 10MB or 1GB"}
	}
	return n * scale, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8471,
			Entrypoint:     "vscode_yara.py",
			StartTimeoutMs: 10000,
			PollIntervalMs: 200,
		},
		Install: InstallConfig{
			Dir:          filepath.Join("server", "env"),
			BaseRuntime:  "python3",
			Requirements: filepath.Join("server", "requirements.txt"),
		},
		Resolve: ResolveConfig{
			Sigils: "$#@!",
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxBackups: 3,
		},
	}
}

// EnvPrefix prefixes every environment override, e.g. YARALS_SERVER_PORT.
const EnvPrefix = "YARALS"

// LoadConfig loads configuration from .yarals/config.json under root.
// A missing file yields the defaults; environment overrides apply either way.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(root, ".yarals"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.entrypoint", d.Server.Entrypoint)
	v.SetDefault("server.command", d.Server.Command)
	v.SetDefault("server.args", d.Server.Args)
	v.SetDefault("server.env", d.Server.Env)
	v.SetDefault("server.startTimeoutMs", d.Server.StartTimeoutMs)
	v.SetDefault("server.pollIntervalMs", d.Server.PollIntervalMs)
	v.SetDefault("server.killOnUnreachable", d.Server.KillOnUnreachable)
	v.SetDefault("server.outputLog", d.Server.OutputLog)

	v.SetDefault("install.dir", d.Install.Dir)
	v.SetDefault("install.baseRuntime", d.Install.BaseRuntime)
	v.SetDefault("install.requirements", d.Install.Requirements)
	v.SetDefault("install.bundle", d.Install.Bundle)

	v.SetDefault("resolve.sigils", d.Resolve.Sigils)

	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// Save writes the configuration to .yarals/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, ".yarals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Server.Host == "" {
		return &ConfigError{Field: "server.host", Message: "must not be empty"}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Server.Command == "" && c.Server.Entrypoint == "" {
		return &ConfigError{Field: "server.entrypoint", Message: "required when server.command is not set"}
	}
	if c.Server.StartTimeoutMs <= 0 {
		return &ConfigError{Field: "server.startTimeoutMs", Message: "must be positive"}
	}
	if c.Server.PollIntervalMs <= 0 || c.Server.PollIntervalMs > c.Server.StartTimeoutMs {
		return &ConfigError{Field: "server.pollIntervalMs", Message: "must be positive and not exceed startTimeoutMs"}
	}
	if c.Install.Dir == "" {
		return &ConfigError{Field: "install.dir", Message: "must not be empty"}
	}
	if c.Resolve.Sigils == "" {
		return &ConfigError{Field: "resolve.sigils", Message: "must not be empty"}
	}
	switch c.Logging.Format {
	case "", "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be human or json"}
	}
	if _, err := c.Logging.MaxSizeBytes(); err != nil {
		return err
	}
	if c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging.maxBackups", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
