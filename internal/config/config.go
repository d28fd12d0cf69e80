package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
	Parser      ParserConfig     `mapstructure:"parser"`
	OCR         OCRConfig        `mapstructure:"ocr"`
	Correlator  CorrelatorConfig `mapstructure:"correlator"`
	Monitor     MonitorConfig    `mapstructure:"monitor"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// ParserConfig controls the text signal parser vocabulary and scan window.
type ParserConfig struct {
	ExtraSymbols []string `mapstructure:"extra_symbols"`
	TokenWindow  int      `mapstructure:"token_window"`
}

// OCRConfig controls screenshot extraction thresholds.
type OCRConfig struct {
	MinConfidence  float64 `mapstructure:"min_confidence"`
	MinBalance     float64 `mapstructure:"min_balance"`
	MinColorRatio  float64 `mapstructure:"min_color_ratio"`
	ColorHintBoost float64 `mapstructure:"color_hint_boost"`
}

// CorrelatorConfig controls trade lifecycle matching.
type CorrelatorConfig struct {
	BreakevenEpsilon float64 `mapstructure:"breakeven_epsilon"`
}

// MonitorConfig controls the live-status poller and its quota budget.
type MonitorConfig struct {
	Channels       []string `mapstructure:"channels"`
	FeedBaseURL    string   `mapstructure:"feed_base_url"`
	APIBaseURL     string   `mapstructure:"api_base_url"`
	APIKey         string   `mapstructure:"api_key"`
	DailyQuota     int      `mapstructure:"daily_quota"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	SnapshotTTL    string   `mapstructure:"snapshot_ttl"`
}

// RequestTimeoutDuration parses the per-call timeout, falling back to 10s.
func (m MonitorConfig) RequestTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(m.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// SnapshotTTLDuration parses the cached snapshot TTL, falling back to 5m.
func (m MonitorConfig) SnapshotTTLDuration() time.Duration {
	if d, err := time.ParseDuration(m.SnapshotTTL); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

func Load() (*Config, error) {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("monitor.api_key", "STREAM_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind STREAM_API_KEY environment variable: %w", err)
	}
	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if config.OCR.MinConfidence < 0 || config.OCR.MinConfidence > 1 {
		return nil, fmt.Errorf("ocr.min_confidence must be in [0,1], got %v", config.OCR.MinConfidence)
	}
	if config.Correlator.BreakevenEpsilon < 0 {
		return nil, fmt.Errorf("correlator.breakeven_epsilon must be >= 0, got %v", config.Correlator.BreakevenEpsilon)
	}
	if config.Monitor.DailyQuota < 0 {
		return nil, fmt.Errorf("monitor.daily_quota must be >= 0, got %d", config.Monitor.DailyQuota)
	}
	if _, err := time.ParseDuration(config.Monitor.RequestTimeout); err != nil {
		return nil, fmt.Errorf("invalid monitor.request_timeout: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "tradewatch")
	viper.SetDefault("database.sslmode", "disable")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	// Parser
	viper.SetDefault("parser.extra_symbols", []string{})
	viper.SetDefault("parser.token_window", 8)

	// OCR
	viper.SetDefault("ocr.min_confidence", 0.5)
	viper.SetDefault("ocr.min_balance", 100.0)
	viper.SetDefault("ocr.min_color_ratio", 1.5)
	viper.SetDefault("ocr.color_hint_boost", 0.1)

	// Correlator
	viper.SetDefault("correlator.breakeven_epsilon", 0.01)

	// Monitor
	viper.SetDefault("monitor.channels", []string{})
	viper.SetDefault("monitor.feed_base_url", "https://www.youtube.com/feeds/videos.xml")
	viper.SetDefault("monitor.api_base_url", "https://www.googleapis.com/youtube/v3")
	viper.SetDefault("monitor.api_key", "")
	viper.SetDefault("monitor.daily_quota", 10000)
	viper.SetDefault("monitor.request_timeout", "10s")
	viper.SetDefault("monitor.snapshot_ttl", "5m")
}
