package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML config file.
const ConfigFileEnv = "GATHERING_CONFIG"

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // "sqlite3" or "pgx"
	Path           string        `yaml:"path"`   // SQLite database file path
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Name           string        `yaml:"name"`
	SSLMode        string        `yaml:"sslmode"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Address      string        `yaml:"address"` // e.g. ":5000"
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// GRPCConfig contains the health service settings. An empty address disables it.
type GRPCConfig struct {
	Address string `yaml:"address"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Defaults returns the configuration used when neither a file nor the
// environment set a value. It never contains credentials.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:         "sqlite3",
			Path:           "gathering.db",
			Port:           5432,
			SSLMode:        "require",
			ConnectTimeout: 10 * time.Second,
			MaxOpenConns:   10,
		},
		HTTP: HTTPConfig{
			Address:      ":5000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is empty, the file named by GATHERING_CONFIG, if any), and finally
// environment variables. The result is validated; a Postgres store without
// credentials is an error rather than a silent fallback.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	db := &cfg.Database
	db.Driver = getEnv("DB_DRIVER", db.Driver)
	db.Path = getEnv("DB_PATH", db.Path)
	db.Host = getEnv("DB_HOST", db.Host)
	db.User = getEnv("DB_USER", db.User)
	db.Password = getEnv("DB_PASSWORD", db.Password)
	db.Name = getEnv("DB_NAME", db.Name)
	db.SSLMode = getEnv("DB_SSLMODE", db.SSLMode)

	var err error
	if db.Port, err = getEnvInt("DB_PORT", db.Port); err != nil {
		return err
	}
	if db.MaxOpenConns, err = getEnvInt("DB_MAX_OPEN_CONNS", db.MaxOpenConns); err != nil {
		return err
	}
	if db.ConnectTimeout, err = getEnvSeconds("DB_CONNECT_TIMEOUT_SEC", db.ConnectTimeout); err != nil {
		return err
	}

	h := &cfg.HTTP
	h.Address = getEnv("HTTP_ADDRESS", h.Address)
	if h.ReadTimeout, err = getEnvSeconds("HTTP_READ_TIMEOUT_SEC", h.ReadTimeout); err != nil {
		return err
	}
	if h.WriteTimeout, err = getEnvSeconds("HTTP_WRITE_TIMEOUT_SEC", h.WriteTimeout); err != nil {
		return err
	}
	if h.IdleTimeout, err = getEnvSeconds("HTTP_IDLE_TIMEOUT_SEC", h.IdleTimeout); err != nil {
		return err
	}

	cfg.GRPC.Address = getEnv("GRPC_ADDRESS", cfg.GRPC.Address)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	return nil
}

// Validate checks that the settings required by the selected driver are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("DB_PATH must not be empty for sqlite3")
		}
	case "pgx":
		var missing []string
		for _, kv := range []struct{ key, val string }{
			{"DB_HOST", c.Database.Host},
			{"DB_USER", c.Database.User},
			{"DB_PASSWORD", c.Database.Password},
			{"DB_NAME", c.Database.Name},
		} {
			if kv.val == "" {
				missing = append(missing, kv.key)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("database credentials not set: %v", missing)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.HTTP.Address == "" {
		return errors.New("HTTP_ADDRESS must not be empty")
	}
	return nil
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// getEnvInt retrieves an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return intVal, nil
	}
	return defaultVal, nil
}

func getEnvSeconds(key string, defaultVal time.Duration) (time.Duration, error) {
	if _, exists := os.LookupEnv(key); !exists {
		return defaultVal, nil
	}
	n, err := getEnvInt(key, 0)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return time.Duration(n) * time.Second, nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	store := c.Database.Path
	if c.Database.Driver == "pgx" {
		store = fmt.Sprintf("%s@%s:%d/%s", c.Database.User, c.Database.Host, c.Database.Port, c.Database.Name)
	}
	return fmt.Sprintf("Config{DB: %s %s, Password: *** (masked) ***, HTTP: %s, gRPC: %q, Log: %s}",
		c.Database.Driver, store, c.HTTP.Address, c.GRPC.Address, c.Log.Level)
}
