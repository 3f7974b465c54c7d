package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Registry RegistryConfig `yaml:"registry"`
	Roster   RosterConfig   `yaml:"roster"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig locates the registry store. Addrs, when set, takes
// precedence over Host and Port and may list cluster nodes.
type RedisConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	Password         string   `yaml:"password"`
	Addrs            []string `yaml:"addrs"`
	PoolSize         int      `yaml:"pool_size"`
	BlockingPoolSize int      `yaml:"blocking_pool_size"`
}

// RegistryConfig tunes liveness and change polling.
type RegistryConfig struct {
	MaxSfuLoad         int           `yaml:"max_sfu_load"`
	LivenessWindow     time.Duration `yaml:"liveness_window"`
	PurgeProbability   float64       `yaml:"purge_probability"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	NotificationMaxLen int64         `yaml:"notification_max_len"`
}

// RosterConfig locates the schedule service.
type RosterConfig struct {
	Endpoint string        `yaml:"endpoint"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`

	// Debug is "students,teachers". When set no schedule service is called.
	Debug string `yaml:"debug"`
}

// AuthConfig selects how tokens are verified.
type AuthConfig struct {
	Disabled      bool   `yaml:"disabled"`
	DevMode       bool   `yaml:"dev_mode"`
	PublicKeyPath string `yaml:"public_key_path"`
	HMACSecret    string `yaml:"hmac_secret"`
}

// Default values for optional configuration fields.
const (
	DefaultPort               = 8002
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultRedisHost          = "localhost"
	DefaultRedisPort          = 6379
	DefaultPoolSize           = 10
	DefaultBlockingPoolSize   = 1000
	DefaultMaxSfuLoad         = 500
	DefaultLivenessWindow     = 15 * time.Second
	DefaultPurgeProbability   = 0.05
	DefaultPollTimeout        = 10 * time.Second
	DefaultNotificationMaxLen = 128
	DefaultCacheTTL           = 15000 * time.Millisecond
	DefaultRosterTimeout      = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	if c.Redis.Host == "" {
		c.Redis.Host = DefaultRedisHost
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = DefaultRedisPort
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultPoolSize
	}
	if c.Redis.BlockingPoolSize == 0 {
		c.Redis.BlockingPoolSize = DefaultBlockingPoolSize
	}

	if c.Registry.MaxSfuLoad == 0 {
		c.Registry.MaxSfuLoad = DefaultMaxSfuLoad
	}
	if c.Registry.LivenessWindow == 0 {
		c.Registry.LivenessWindow = DefaultLivenessWindow
	}
	if c.Registry.PurgeProbability == 0 {
		c.Registry.PurgeProbability = DefaultPurgeProbability
	}
	if c.Registry.PollTimeout == 0 {
		c.Registry.PollTimeout = DefaultPollTimeout
	}
	if c.Registry.NotificationMaxLen == 0 {
		c.Registry.NotificationMaxLen = DefaultNotificationMaxLen
	}

	if c.Roster.CacheTTL == 0 {
		c.Roster.CacheTTL = DefaultCacheTTL
	}
	if c.Roster.Timeout == 0 {
		c.Roster.Timeout = DefaultRosterTimeout
	}
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if len(c.Redis.Addresses()) == 0 {
		return errors.New("redis.host or redis.addrs is required")
	}
	if c.Registry.MaxSfuLoad < 1 {
		return errors.New("registry.max_sfu_load must be >= 1")
	}
	if c.Registry.PurgeProbability <= 0 || c.Registry.PurgeProbability > 1 {
		return fmt.Errorf("registry.purge_probability must be in (0, 1], got %g", c.Registry.PurgeProbability)
	}
	if c.Registry.PollTimeout <= 0 {
		return errors.New("registry.poll_timeout must be positive")
	}

	if c.Roster.Debug != "" {
		if _, _, err := c.Roster.DebugRoster(); err != nil {
			return err
		}
	} else if c.Roster.Endpoint == "" {
		return errors.New("roster.endpoint is required unless roster.debug is set")
	}

	if !c.Auth.Disabled && c.Auth.PublicKeyPath == "" && c.Auth.HMACSecret == "" {
		return errors.New("auth.public_key_path or auth.hmac_secret is required unless auth is disabled")
	}
	return nil
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// Addresses returns the Redis node addresses.
func (r RedisConfig) Addresses() []string {
	if len(r.Addrs) > 0 {
		return r.Addrs
	}
	if r.Host == "" {
		return nil
	}
	return []string{net.JoinHostPort(r.Host, strconv.Itoa(r.Port))}
}

// DebugRoster parses Debug.
func (r RosterConfig) DebugRoster() (students, teachers int, err error) {
	s, t, ok := strings.Cut(r.Debug, ",")
	if !ok {
		return 0, 0, fmt.Errorf("roster.debug must be \"students,teachers\", got %q", r.Debug)
	}
	students, err1 := strconv.Atoi(strings.TrimSpace(s))
	teachers, err2 := strconv.Atoi(strings.TrimSpace(t))
	if err1 != nil || err2 != nil || students < 0 || teachers < 0 {
		return 0, 0, fmt.Errorf("roster.debug must be two non-negative integers, got %q", r.Debug)
	}
	return students, teachers, nil
}

// FromEnv builds a Config from environment variables, applies defaults and
// validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: GetEnvInt("PORT", DefaultPort),
		},
		Log: LogConfig{
			Level:  GetEnv("LOG_LEVEL", DefaultLogLevel),
			Format: GetEnv("LOG_FORMAT", DefaultLogFormat),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", DefaultRedisHost),
			Port:     GetEnvInt("REDIS_PORT", DefaultRedisPort),
			Password: GetEnv("REDIS_PASS", ""),
			Addrs:    GetEnvList("REDIS_ADDRS"),
		},
		Registry: RegistryConfig{
			MaxSfuLoad:         GetEnvInt("MAX_SFU_LOAD", DefaultMaxSfuLoad),
			LivenessWindow:     GetEnvDuration("LIVENESS_WINDOW", DefaultLivenessWindow),
			PurgeProbability:   GetEnvFloat("PURGE_PROBABILITY", DefaultPurgeProbability),
			PollTimeout:        GetEnvDuration("POLL_TIMEOUT", DefaultPollTimeout),
			NotificationMaxLen: int64(GetEnvInt("NOTIFICATION_MAXLEN", DefaultNotificationMaxLen)),
		},
		Roster: RosterConfig{
			Endpoint: GetEnv("CMS_ENDPOINT", ""),
			CacheTTL: GetEnvDuration("CACHE_TTL", DefaultCacheTTL),
			Debug:    GetEnv("DEBUG_ROSTER", ""),
		},
		Auth: AuthConfig{
			Disabled:      GetEnvBool("DISABLE_AUTH", false),
			DevMode:       strings.HasPrefix(strings.ToLower(GetEnv("APP_ENV", "")), "dev"),
			PublicKeyPath: GetEnv("AUTH_PUBLIC_KEY_PATH", ""),
			HMACSecret:    GetEnv("AUTH_HMAC_SECRET", ""),
		},
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML config file, expanding ${VAR} references, then
// applies defaults and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Load returns the configuration from CONFIG_FILE when it is set, otherwise
// from the environment. A .env file, if present, is read first.
func Load() (*Config, error) {
	_ = LoadDotEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFile(path)
	}
	return FromEnv()
}
