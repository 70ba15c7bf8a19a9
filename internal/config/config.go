package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		DSN string
	}
	Twilio struct {
		AccountSID string
		AuthToken  string
		BaseURL    string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromAddr   string
	}
	Dispatch struct {
		MaxAttempts    int
		InitialBackoff time.Duration
		MaxBackoff     time.Duration
		Timeout        time.Duration
		Workers        int
	}
	Poll struct {
		Interval  time.Duration
		Lookback  time.Duration
		PageLimit int
	}
	API struct {
		Port     string
		BasePath string
	}
	Logging struct {
		Dir   string
		Level string
	}
	RateLimit struct {
		TelegramPerSecond int
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Twilio settings
	cfg.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.Twilio.BaseURL = os.Getenv("TWILIO_BASE_URL")

	// Kafka settings (optional alternate event source)
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	if p, err := strconv.Atoi(os.Getenv("EMAIL_SMTP_PORT")); err == nil {
		cfg.Email.SMTPPort = p
	}
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromAddr = os.Getenv("EMAIL_FROM_ADDR")

	// Dispatch settings
	if n, err := strconv.Atoi(os.Getenv("DISPATCH_MAX_ATTEMPTS")); err == nil {
		cfg.Dispatch.MaxAttempts = n
	}
	if d, err := time.ParseDuration(os.Getenv("DISPATCH_INITIAL_BACKOFF")); err == nil {
		cfg.Dispatch.InitialBackoff = d
	}
	if d, err := time.ParseDuration(os.Getenv("DISPATCH_MAX_BACKOFF")); err == nil {
		cfg.Dispatch.MaxBackoff = d
	}
	if d, err := time.ParseDuration(os.Getenv("DISPATCH_TIMEOUT")); err == nil {
		cfg.Dispatch.Timeout = d
	}
	if n, err := strconv.Atoi(os.Getenv("DISPATCH_WORKERS")); err == nil {
		cfg.Dispatch.Workers = n
	}

	// Poll settings
	if d, err := time.ParseDuration(os.Getenv("POLL_INTERVAL")); err == nil {
		cfg.Poll.Interval = d
	}
	if d, err := time.ParseDuration(os.Getenv("POLL_LOOKBACK")); err == nil {
		cfg.Poll.Lookback = d
	}
	if n, err := strconv.Atoi(os.Getenv("POLL_PAGE_LIMIT")); err == nil {
		cfg.Poll.PageLimit = n
	}

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Logging settings
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	if n, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_LIMIT")); err == nil {
		cfg.RateLimit.TelegramPerSecond = n
	}

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Twilio.BaseURL == "" {
		cfg.Twilio.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.InitialBackoff == 0 {
		cfg.Dispatch.InitialBackoff = 2 * time.Second
	}
	if cfg.Dispatch.MaxBackoff == 0 {
		cfg.Dispatch.MaxBackoff = 30 * time.Second
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = 30 * time.Second
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 8
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 5 * time.Minute
	}
	if cfg.Poll.Lookback == 0 {
		cfg.Poll.Lookback = 15 * time.Minute
	}
	if cfg.Poll.PageLimit == 0 {
		cfg.Poll.PageLimit = 500
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v1"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.RateLimit.TelegramPerSecond == 0 {
		cfg.RateLimit.TelegramPerSecond = 20
	}
}
