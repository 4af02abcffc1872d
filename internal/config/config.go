package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings for the gallery service.
type Config struct {
	Port          int    `yaml:"port"`
	DatabasePath  string `yaml:"databasePath"`
	UploadDir     string `yaml:"uploadDir"`
	PublicBaseURL string `yaml:"publicBaseURL"`

	// AllowedOrigins is the set of origins permitted by the CORS middleware.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// ExportSpoolDir, when non-empty, makes export endpoints write the zip
	// to a file in this directory instead of streaming it. Spooled files
	// are removed after ExportTTLSeconds.
	ExportSpoolDir   string `yaml:"exportSpoolDir"`
	ExportTTLSeconds int    `yaml:"exportTTLSeconds"`

	DBConnectRetries           int `yaml:"dbConnectRetries"`
	DBConnectRetryDelaySeconds int `yaml:"dbConnectRetryDelaySeconds"`
}

func defaults() *Config {
	return &Config{
		Port:                       8000,
		DatabasePath:               "gallery.db",
		UploadDir:                  "uploads",
		PublicBaseURL:              "http://localhost:8000",
		AllowedOrigins:             []string{"*"},
		ExportTTLSeconds:           60,
		DBConnectRetries:           5,
		DBConnectRetryDelaySeconds: 5,
	}
}

// Load reads the YAML config file at path and applies environment variable
// overrides. A missing file is not an error; defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Run on defaults and environment overrides only.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("uploadDir must not be empty")
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("EXPORT_SPOOL_DIR"); v != "" {
		cfg.ExportSpoolDir = v
	}
	if v := os.Getenv("EXPORT_TTL_SECONDS"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EXPORT_TTL_SECONDS: %w", err)
		}
		cfg.ExportTTLSeconds = ttl
	}
	if v := os.Getenv("DB_CONNECT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_CONNECT_RETRIES: %w", err)
		}
		cfg.DBConnectRetries = n
	}
	if v := os.Getenv("DB_CONNECT_RETRY_DELAY_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_CONNECT_RETRY_DELAY_SECONDS: %w", err)
		}
		cfg.DBConnectRetryDelaySeconds = n
	}
	return nil
}

// ExportTTL returns the spooled-archive lifetime as a duration.
func (c *Config) ExportTTL() time.Duration {
	return time.Duration(c.ExportTTLSeconds) * time.Second
}

// DBConnectRetryDelay returns the pause between startup connection attempts.
func (c *Config) DBConnectRetryDelay() time.Duration {
	return time.Duration(c.DBConnectRetryDelaySeconds) * time.Second
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
