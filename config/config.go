package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	AccessConfig   AccessConfig   `json:"access"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	VaultConfig    VaultConfig    `json:"vault"`
	SignalConfig   SignalConfig   `json:"signal"`
	OCRConfig      OCRConfig      `json:"ocr"`
	SessionConfig  SessionConfig  `json:"session"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
	ProductionMode  bool   `json:"production_mode"`
}

// AuthConfig holds JWT authentication configuration
type AuthConfig struct {
	Enabled              bool          `json:"enabled"`
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
}

// AccessConfig holds allow-list configuration
type AccessConfig struct {
	RosterPath string `json:"roster_path"` // Flat file, one identifier per line
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for live session snapshots
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for broker API tokens
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for broker tokens
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// SignalConfig holds moving-average crossover configuration
type SignalConfig struct {
	ShortWindow int `json:"short_window"`
	LongWindow  int `json:"long_window"`
}

// OCRConfig holds balance recognition configuration
type OCRConfig struct {
	TessdataPrefix string `json:"tessdata_prefix"` // Empty uses the system default
	Language       string `json:"language"`
	Whitelist      string `json:"whitelist"` // Characters the engine may emit
}

// SessionConfig holds trading session defaults and the scheduler cadence
type SessionConfig struct {
	PollInterval         time.Duration `json:"poll_interval"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	SizingPolicy         string        `json:"sizing_policy"` // "flat" or "martingale"
	MartingaleFactor     float64       `json:"martingale_factor"`
	MartingaleCap        float64       `json:"martingale_cap"` // Max multiple of base amount, 0 = uncapped
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Broker API tokens are NOT read from the environment; they are per-user and
// held in Vault or encrypted at rest in the database.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 10000)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "true") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute)
	cfg.AuthConfig.RefreshTokenDuration = getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_DURATION", 7*24*time.Hour)

	// Access roster
	cfg.AccessConfig.RosterPath = getEnvOrDefault("ACCESS_ROSTER_PATH", "authorized_users.txt")

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "trading_assistant")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", "trading_assistant_password")
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "trading_assistant")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "trading-assistant/broker-tokens")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Signal config
	cfg.SignalConfig.ShortWindow = getEnvIntOrDefault("SIGNAL_SHORT_WINDOW", 5)
	cfg.SignalConfig.LongWindow = getEnvIntOrDefault("SIGNAL_LONG_WINDOW", 10)

	// OCR config
	cfg.OCRConfig.TessdataPrefix = getEnvOrDefault("OCR_TESSDATA_PREFIX", cfg.OCRConfig.TessdataPrefix)
	cfg.OCRConfig.Language = getEnvOrDefault("OCR_LANGUAGE", "eng")
	cfg.OCRConfig.Whitelist = getEnvOrDefault("OCR_WHITELIST", "0123456789.,$")

	// Session config
	cfg.SessionConfig.PollInterval = getEnvDurationOrDefault("SESSION_POLL_INTERVAL", 5*time.Second)
	cfg.SessionConfig.MaxConsecutiveLosses = getEnvIntOrDefault("SESSION_MAX_CONSECUTIVE_LOSSES", 5)
	cfg.SessionConfig.SizingPolicy = getEnvOrDefault("SESSION_SIZING_POLICY", "flat")
	cfg.SessionConfig.MartingaleFactor = getEnvFloatOrDefault("SESSION_MARTINGALE_FACTOR", 2.0)
	cfg.SessionConfig.MartingaleCap = getEnvFloatOrDefault("SESSION_MARTINGALE_CAP", 16.0)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            10000,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		AccessConfig: AccessConfig{
			RosterPath: "authorized_users.txt",
		},
		SignalConfig: SignalConfig{
			ShortWindow: 5,
			LongWindow:  10,
		},
		OCRConfig: OCRConfig{
			Language:  "eng",
			Whitelist: "0123456789.,$",
		},
		SessionConfig: SessionConfig{
			PollInterval:         5 * time.Second,
			MaxConsecutiveLosses: 5,
			SizingPolicy:         "flat",
			MartingaleFactor:     2.0,
			MartingaleCap:        16.0,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
