// Package config loads tier engine settings from defaults, an optional YAML
// file, optional .env files and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rcourtman/tierengine/internal/kvstore"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultDataDir             = "/var/lib/tierengine"
	DefaultStore               = kvstore.KindFile
	DefaultStoreTimeout        = kvstore.DefaultOpTimeout
	DefaultTrialDays           = 9
	DefaultBackupRetentionDays = 30
	DefaultRedisNamespace      = "tierengine:"
	configFileName             = "tierengine.yaml"
)

// RedisConfig holds connection settings for the redis store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	Namespace string `yaml:"namespace"`
}

// Config holds all tier engine settings.
type Config struct {
	DataDir             string        `yaml:"dataDir" validate:"required"`
	Store               string        `yaml:"store" validate:"oneof=memory file sqlite redis"`
	StoreTimeout        time.Duration `yaml:"storeTimeout" validate:"gt=0"`
	Redis               RedisConfig   `yaml:"redis"`
	Admins              []string      `yaml:"admins"`
	TrialDays           int           `yaml:"trialDays" validate:"gte=1"`
	BackupRetentionDays int           `yaml:"backupRetentionDays" validate:"gte=1"`
	LogLevel            string        `yaml:"logLevel"`
	LogFormat           string        `yaml:"logFormat"`

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:             DefaultDataDir,
		Store:               DefaultStore,
		StoreTimeout:        DefaultStoreTimeout,
		Redis:               RedisConfig{Namespace: DefaultRedisNamespace},
		TrialDays:           DefaultTrialDays,
		BackupRetentionDays: DefaultBackupRetentionDays,
		LogLevel:            "info",
		LogFormat:           "auto",
	}
}

// Load builds the configuration. TIERENGINE_CONFIG names the YAML file; when
// unset, tierengine.yaml in the data directory is used if present.
func Load() (*Config, error) {
	cfg := Default()
	cfg.DataDir = envOrDefault("TIERENGINE_DATA_DIR", DefaultDataDir)

	configPath, explicit := strings.TrimSpace(os.Getenv("TIERENGINE_CONFIG")), true
	if configPath == "" {
		configPath, explicit = filepath.Join(cfg.DataDir, configFileName), false
	}
	if err := cfg.loadFile(configPath, explicit); err != nil {
		return nil, err
	}

	loadDotEnv(cfg.DataDir)

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	log.Debug().Str("file", path).Msg("Loaded configuration file")
	return nil
}

// loadDotEnv loads .env files without overriding variables already set.
func loadDotEnv(dataDir string) {
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Debug().Str("file", envFile).Msg("Loaded .env file")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from current directory")
	}
}

func (c *Config) applyEnv() error {
	c.DataDir = envOrDefault("TIERENGINE_DATA_DIR", c.DataDir)
	c.Store = strings.ToLower(envOrDefault("TIERENGINE_STORE", c.Store))
	c.Redis.Addr = envOrDefault("TIERENGINE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOrDefault("TIERENGINE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.Namespace = envOrDefault("TIERENGINE_REDIS_NAMESPACE", c.Redis.Namespace)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)

	var err error
	if c.Redis.DB, err = envOrDefaultInt("TIERENGINE_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.TrialDays, err = envOrDefaultInt("TIERENGINE_TRIAL_DAYS", c.TrialDays); err != nil {
		return err
	}
	if c.BackupRetentionDays, err = envOrDefaultInt("TIERENGINE_BACKUP_RETENTION_DAYS", c.BackupRetentionDays); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("TIERENGINE_STORE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TIERENGINE_STORE_TIMEOUT must be a duration: %w", err)
		}
		c.StoreTimeout = d
	}
	if v, ok := os.LookupEnv("TIERENGINE_ADMINS"); ok {
		c.Admins = splitList(v)
	}
	return nil
}

var configValidator = validator.New()

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}
	if c.Store == kvstore.KindRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis store requires TIERENGINE_REDIS_ADDR")
	}
	return nil
}

// BackupRetention returns the retention window as a duration.
func (c *Config) BackupRetention() time.Duration {
	return time.Duration(c.BackupRetentionDays) * 24 * time.Hour
}

// StoreOptions returns the backend options for kvstore.Open.
func (c *Config) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Kind:    c.Store,
		DataDir: c.DataDir,
		Timeout: c.StoreTimeout,
		Redis: kvstore.RedisOptions{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			Namespace: c.Redis.Namespace,
			Timeout:   c.StoreTimeout,
		},
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}
