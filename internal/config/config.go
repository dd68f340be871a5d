package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"storefront"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"storefront"`

	// Optional external broker; when unset the queue falls back to the
	// database, and failing that to process memory.
	NSQDHost   string `envconfig:"NSQD_HOST"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`

	// Queue
	QueueSecret     string `envconfig:"QUEUE_SECRET"`
	QueueBatchLimit int    `envconfig:"QUEUE_BATCH_LIMIT" default:"25"`

	// Sinks
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID      string `envconfig:"TELEGRAM_CHAT_ID"`
	SheetsSpreadsheetID string `envconfig:"SHEETS_SPREADSHEET_ID"`
	GoogleCredentials   string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`

	// Circuit breaker
	BreakerFailureThreshold int `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerCooldownSeconds  int `envconfig:"BREAKER_COOLDOWN_SECONDS" default:"60"`
	BreakerSuccessThreshold int `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`

	// Bootstrap resilience
	BootstrapRetryAttempts int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"5"`
	BootstrapRetryDelayMS  int `envconfig:"BOOTSTRAP_RETRY_DELAY_MS" default:"2000"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell; .env files are best effort.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.QueueSecret == "" {
		return fmt.Errorf("%w: QUEUE_SECRET", ErrMissingRequired)
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("%w: TELEGRAM_CHAT_ID (required when TELEGRAM_BOT_TOKEN is set)", ErrMissingRequired)
	}
	if c.SheetsSpreadsheetID != "" && c.GoogleCredentials == "" {
		return fmt.Errorf("%w: GOOGLE_APPLICATION_CREDENTIALS (required when SHEETS_SPREADSHEET_ID is set)", ErrMissingRequired)
	}
	if c.QueueBatchLimit < 1 || c.QueueBatchLimit > 200 {
		return fmt.Errorf("QUEUE_BATCH_LIMIT must be between 1 and 200, got %d", c.QueueBatchLimit)
	}
	return nil
}
