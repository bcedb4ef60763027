package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pthm/quince/internal/database"
	"github.com/pthm/quince/pkg/authn"
)

const (
	maxWalkDepth = 25
)

// Config represents the quince configuration from quince.yaml.
type Config struct {
	// Schema is the path to the SDL type definitions.
	Schema   string `mapstructure:"schema" json:"schema"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	// Output is the default output format of translate and execute.
	Output string `mapstructure:"output" json:"output"`

	Auth     AuthConfig     `mapstructure:"auth" json:"auth"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics" json:"metrics"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	// Verify enables signature verification. It defaults to true; with no
	// secret or jwks_url configured every token is then rejected. Setting it
	// to false decodes tokens without checking signatures.
	Verify      bool          `mapstructure:"verify" json:"verify"`
	Secret      string        `mapstructure:"secret" json:"secret,omitempty"`
	JWKSURL     string        `mapstructure:"jwks_url" json:"jwks_url,omitempty"`
	JWKSRefresh time.Duration `mapstructure:"jwks_refresh" json:"jwks_refresh"`
	// RoleClaim is the claim path that --role values are written to.
	RoleClaim string `mapstructure:"role_claim" json:"role_claim"`
}

// DatabaseConfig holds Neo4j connection settings.
type DatabaseConfig struct {
	URI      string `mapstructure:"uri" json:"uri"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	Name     string `mapstructure:"name" json:"name"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Namespace string `mapstructure:"namespace" json:"namespace"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("QUINCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Top-level defaults
	v.SetDefault("schema", "schema.graphql")
	v.SetDefault("log_level", "warn")
	v.SetDefault("output", "json")

	// Auth defaults
	v.SetDefault("auth.verify", true)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.jwks_refresh", time.Hour)
	v.SetDefault("auth.role_claim", "roles")

	// Database defaults
	v.SetDefault("database.uri", "neo4j://localhost:7687")
	v.SetDefault("database.username", "neo4j")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "quince")
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for quince.yaml or quince.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range []string{"quince.yaml", "quince.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DecoderOptions returns the authn options for the auth section. A secret or
// a key set URL turns verification on; decoding without verification must
// be asked for with auth.verify set to false and neither configured.
func (c *Config) DecoderOptions() ([]authn.Option, error) {
	a := c.Auth
	switch {
	case a.Secret != "" && a.JWKSURL != "":
		return nil, errors.New("auth.secret and auth.jwks_url are mutually exclusive")
	case (a.Secret != "" || a.JWKSURL != "") && !a.Verify:
		return nil, errors.New("auth.verify is false but auth.secret or auth.jwks_url is set")
	case a.Secret != "":
		return []authn.Option{authn.WithSecret([]byte(a.Secret))}, nil
	case a.JWKSURL != "":
		opts := []authn.Option{authn.WithJWKSURL(a.JWKSURL)}
		if a.JWKSRefresh > 0 {
			opts = append(opts, authn.WithRefreshInterval(a.JWKSRefresh))
		}
		return opts, nil
	case !a.Verify:
		return []authn.Option{authn.WithoutVerification()}, nil
	default:
		return nil, nil
	}
}

// Neo4j returns the connection settings of the database section.
func (c *Config) Neo4j() (database.Config, error) {
	db := c.Database
	if db.URI == "" {
		return database.Config{}, errors.New("database.uri is required")
	}
	return database.Config{
		URI:      db.URI,
		Username: db.Username,
		Password: db.Password,
		Database: db.Name,
	}, nil
}

// Level returns the slog level named by log_level, defaulting to warn.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return level
}
