package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type (
	// Config represents an application configuration.
	Config struct {
		// The data source name (DSN) for connecting to the database.
		// Takes precedence over the Database section when set.
		DSN string `yaml:"dsn" env:"DATABASE_URI"`
		// Apply database migrations on startup.
		Migrate bool `yaml:"migrate" env:"APP_MIGRATE" env-default:"true"`
		// Subconfigs.
		Database   Database   `yaml:"database"`
		HTTPServer HTTPServer `yaml:"http_server"`
		Logger     Logger     `yaml:"logger"`
		Ledger     Ledger     `yaml:"ledger"`
		RateLimit  RateLimit  `yaml:"rate_limit"`
		CORS       CORS       `yaml:"cors"`
	}
	// Config for database connection.
	Database struct {
		Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
		Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
		User     string `yaml:"user" env:"DB_USER" env-default:"ledger"`
		Password string `yaml:"password" env:"DB_PASSWORD" env-default:"ledger"`
		Name     string `yaml:"name" env:"DB_NAME" env-default:"ledger"`
		SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	}
	// Config for HTTP server.
	HTTPServer struct {
		// The server startup address.
		Address string `yaml:"run_address" env:"RUN_ADDRESS" env-default:"0.0.0.0:5000"`
		// Read Header Timeout in seconds.
		Timeout time.Duration `yaml:"timeout" env-default:"5s"`
		// Idle timeout in seconds.
		IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
		// Shutdown timeout in seconds.
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	}
	// Config for application's logger.
	Logger struct {
		// Path to store log files. Stdout only when empty.
		Path string `yaml:"path" env:"LOG_PATH"`
		// Application logging level.
		Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		// Log files details.
		MaxSizeMB  int `yaml:"max_size_mb" env-default:"100"`
		MaxBackups int `yaml:"max_backups" env-default:"3"`
		MaxAgeDays int `yaml:"max_age_days" env-default:"28"`
	}
	// Config for ledger limits.
	Ledger struct {
		// Maximum amount of a single withdrawal.
		LimitPerWithdraw string `yaml:"limit_per_withdraw" env:"LIMIT_PER_WITHDRAW" env-default:"500.00"`
		// Maximum number of withdrawals per calendar day.
		MaxWithdrawsPerDay int `yaml:"max_withdraws_per_day" env:"MAX_WITHDRAWS_PER_DAY" env-default:"3"`
		// Number of operations returned by the extract.
		ExtractLimit int `yaml:"extract_limit" env:"EXTRACT_LIMIT" env-default:"200"`
		// Run withdrawals in serializable transactions.
		SerializableWithdrawals bool `yaml:"serializable_withdrawals" env:"SERIALIZABLE_WITHDRAWALS" env-default:"false"`
	}
	// Config for rate limiting of mutating requests.
	RateLimit struct {
		// Interval between two token refills.
		Interval time.Duration `yaml:"interval" env:"RATE_LIMIT_INTERVAL" env-default:"100ms"`
		// Bucket size. Zero disables the limiter.
		Burst int `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"20"`
	}
	// Config for CORS.
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	}
)

// DataSourceName returns the configured DSN or builds one
// from the database section.
func (c *Config) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     c.Database.Host + ":" + c.Database.Port,
		Path:     c.Database.Name,
		RawQuery: url.Values{"sslmode": []string{c.Database.SSLMode}}.Encode(),
	}

	return dsn.String()
}

// Load returns an application configuration populated from the given YAML
// file, if it exists, and environment variables. A .env file in the
// working directory is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	var cfg Config

	if _, err := os.Stat(configPath); err == nil {
		if err = cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment variables: %w", err)
	}

	return &cfg, nil
}

// MustLoad returns an application configuration which is populated
// from the given configuration file, environment variables and flags.
func MustLoad() *Config {
	// Configuration yaml file path.
	configPath := flag.String("config", "./config/local.yml", "path to the config file")
	address := flag.String("a", "", "server startup address")
	dsn := flag.String("d", "", "server data source name")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}

	// Given flags win over file and environment.
	if *address != "" {
		cfg.HTTPServer.Address = *address
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}

	return cfg
}
