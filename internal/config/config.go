package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"proctordraw/internal/auth"
	"proctordraw/internal/draw"
	"proctordraw/internal/session"
	dbconfig "proctordraw/pkg/database"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PROCTORDRAW_"

// FileEnvVar names the JSON config file.
const FileEnvVar = EnvPrefix + "CONFIG_FILE"

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config is the system-wide settings tree.
type Config struct {
	Database  *DatabaseConfig  `json:"database" envPrefix:"DATABASE_"`
	HTTP      *HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	WebSocket *WebSocketConfig `json:"websocket" envPrefix:"WEBSOCKET_"`
	Draw      *DrawConfig      `json:"draw" envPrefix:"DRAW_"`
	Rooms     *RoomsConfig     `json:"rooms" envPrefix:"ROOMS_"`
	Auth      *AuthConfig      `json:"auth" envPrefix:"AUTH_"`
}

// DatabaseConfig selects the blob store. SyncInterval is how often the
// stored snapshot is polled for writes from other instances; zero disables it.
type DatabaseConfig struct {
	Driver       string        `json:"driver" env:"DRIVER"`
	Path         string        `json:"path" env:"PATH"`
	Timeout      time.Duration `json:"timeout" env:"TIMEOUT"`
	SyncInterval time.Duration `json:"sync_interval" env:"SYNC_INTERVAL"`
}

type HTTPConfig struct {
	Port         int           `json:"port" env:"PORT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	Host         string        `json:"host" env:"HOST"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	BufferSize   int           `json:"buffer_size" env:"BUFFER_SIZE"`
}

// DrawConfig tunes the draw engine and its HTTP throttle.
type DrawConfig struct {
	NameMatching       string `json:"name_matching" env:"NAME_MATCHING"`
	Seed               uint64 `json:"seed" env:"SEED"`
	MaxRetries         int    `json:"max_retries" env:"MAX_RETRIES"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`
}

type RoomsConfig struct {
	Mode    string   `json:"mode" env:"MODE"`
	Catalog []string `json:"catalog" env:"CATALOG" envSeparator:","`
}

// AuthConfig lists the static logins. In the environment, accounts are
// written as "user:password:role" separated by commas.
type AuthConfig struct {
	Accounts     []auth.Account `json:"accounts" env:"-"`
	AccountsSpec string         `json:"-" env:"ACCOUNTS"`
	TokenSecret  string         `json:"token_secret" env:"TOKEN_SECRET"`
	TokenTTL     time.Duration  `json:"token_ttl" env:"TOKEN_TTL"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:       DriverSQLite,
			Path:         "./data/proctordraw.db",
			Timeout:      30 * time.Second,
			SyncInterval: 2 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   1024,
		},
		Draw: &DrawConfig{
			NameMatching:       string(draw.CaseInsensitive),
			MaxRetries:         session.DefaultMaxRetries,
			RateLimitPerMinute: 10,
		},
		Rooms: &RoomsConfig{
			Mode:    string(session.RoomModeSelect),
			Catalog: append([]string(nil), session.DefaultCatalog...),
		},
		Auth: &AuthConfig{
			Accounts: auth.DefaultAccounts(),
			TokenTTL: auth.DefaultTokenTTL,
		},
	}
}

// Validate rejects configurations the application cannot start with.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database driver must be %q or %q", DriverSQLite, DriverMemory)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.SyncInterval < 0 {
		return fmt.Errorf("database sync interval cannot be negative")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Draw == nil {
		return fmt.Errorf("draw configuration is required")
	}
	if _, err := draw.ParseNamePolicy(c.Draw.NameMatching); err != nil {
		return err
	}
	if c.Draw.MaxRetries <= 0 {
		return fmt.Errorf("draw max retries must be positive")
	}
	if c.Draw.RateLimitPerMinute < 0 {
		return fmt.Errorf("draw rate limit cannot be negative")
	}

	if c.Rooms == nil {
		return fmt.Errorf("rooms configuration is required")
	}
	if _, err := c.RoomPolicy(); err != nil {
		return err
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if len(c.Auth.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for _, account := range c.Auth.Accounts {
		if err := account.Validate(); err != nil {
			return err
		}
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	return nil
}

// RoomPolicy builds the session room policy.
func (c *Config) RoomPolicy() (session.RoomPolicy, error) {
	mode, err := session.ParseRoomMode(c.Rooms.Mode)
	if err != nil {
		return session.RoomPolicy{}, err
	}
	return session.NewRoomPolicy(mode, c.Rooms.Catalog)
}

// NamePolicy returns the draw name matching policy.
func (c *Config) NamePolicy() (draw.NamePolicy, error) {
	return draw.ParseNamePolicy(c.Draw.NameMatching)
}

// SQLiteConfig returns the SQLite store configuration.
func (c *Config) SQLiteConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.WriteTimeout = c.Database.Timeout
	return db
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays PROCTORDRAW_* variables on the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if config.Auth.AccountsSpec != "" {
		accounts, err := auth.ParseAccounts(config.Auth.AccountsSpec)
		if err != nil {
			return fmt.Errorf("failed to parse %sAUTH_ACCOUNTS: %w", EnvPrefix, err)
		}
		config.Auth.Accounts = accounts
		config.Auth.AccountsSpec = ""
	}
	return nil
}

// ConfigFile is the JSON file layout. Durations are strings such as "30s".
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Draw      *DrawConfig          `json:"draw"`
	Rooms     *RoomsConfig         `json:"rooms"`
	Auth      *AuthConfigFile      `json:"auth"`
}

type DatabaseConfigFile struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	Timeout      string `json:"timeout"`
	SyncInterval string `json:"sync_interval"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type AuthConfigFile struct {
	Accounts    []auth.Account `json:"accounts"`
	TokenSecret string         `json:"token_secret"`
	TokenTTL    string         `json:"token_ttl"`
}

// LoadFromFile reads a JSON config file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if f := file.Database; f != nil {
		setString(&config.Database.Driver, f.Driver)
		setString(&config.Database.Path, f.Path)
		if err := setDuration(&config.Database.Timeout, f.Timeout, "database.timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.Database.SyncInterval, f.SyncInterval, "database.sync_interval"); err != nil {
			return err
		}
	}

	if f := file.HTTP; f != nil {
		setInt(&config.HTTP.Port, f.Port)
		setString(&config.HTTP.Host, f.Host)
		if err := setDuration(&config.HTTP.ReadTimeout, f.ReadTimeout, "http.read_timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.HTTP.WriteTimeout, f.WriteTimeout, "http.write_timeout"); err != nil {
			return err
		}
	}

	if f := file.WebSocket; f != nil {
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		if err := setDuration(&config.WebSocket.PingInterval, f.PingInterval, "websocket.ping_interval"); err != nil {
			return err
		}
		if err := setDuration(&config.WebSocket.ReadTimeout, f.ReadTimeout, "websocket.read_timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.WebSocket.WriteTimeout, f.WriteTimeout, "websocket.write_timeout"); err != nil {
			return err
		}
	}

	if f := file.Draw; f != nil {
		setString(&config.Draw.NameMatching, f.NameMatching)
		if f.Seed != 0 {
			config.Draw.Seed = f.Seed
		}
		setInt(&config.Draw.MaxRetries, f.MaxRetries)
		setInt(&config.Draw.RateLimitPerMinute, f.RateLimitPerMinute)
	}

	if f := file.Rooms; f != nil {
		setString(&config.Rooms.Mode, f.Mode)
		if len(f.Catalog) > 0 {
			config.Rooms.Catalog = f.Catalog
		}
	}

	if f := file.Auth; f != nil {
		if len(f.Accounts) > 0 {
			config.Auth.Accounts = f.Accounts
		}
		setString(&config.Auth.TokenSecret, f.TokenSecret)
		if err := setDuration(&config.Auth.TokenTTL, f.TokenTTL, "auth.token_ttl"); err != nil {
			return err
		}
	}

	return nil
}

// LoadConfigWithPrecedence builds the configuration: defaults, then
// environment, then the JSON file at filepath when one is given. An empty
// filepath falls back to PROCTORDRAW_CONFIG_FILE.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if filepath == "" {
		filepath = os.Getenv(FileEnvVar)
	}
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value, field string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	*dst = d
	return nil
}
