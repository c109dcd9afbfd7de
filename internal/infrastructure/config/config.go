package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存警報服務及外部相依的執行設定。
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Notifier  NotifierConfig  `yaml:"notifier"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DBConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
}

// StoreConfig 在未設定 db.dsn 時決定是否改用本機 SQLite。
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	RunOnStart  bool          `yaml:"run_on_start"`
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

type EngineConfig struct {
	MaxSnapshotAge   time.Duration `yaml:"max_snapshot_age"`
	ApplyConcurrency int           `yaml:"apply_concurrency"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout"`
}

// GatewayConfig 行情來源設定；Provider 為 binance、finnhub 或 alpaca。
type GatewayConfig struct {
	Provider    string        `yaml:"provider"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	Burst       int           `yaml:"burst"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Binance     BinanceConfig `yaml:"binance"`
	Finnhub     FinnhubConfig `yaml:"finnhub"`
	Alpaca      AlpacaConfig  `yaml:"alpaca"`
}

type BinanceConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	UseTestnet bool   `yaml:"use_testnet"`
}

type FinnhubConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	Feed      string `yaml:"feed"`
}

type NotifierConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// EmailConfig 以 SMTP 寄送警報信到警報設定的 email。
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadFromFile 從 YAML 組態檔載入設定。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	cfg := Config{Scheduler: SchedulerConfig{Enabled: true, RunOnStart: true}}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 5
	}
	if cfg.DB.MaxIdleConns == 0 {
		cfg.DB.MaxIdleConns = 2
	}
	if cfg.DB.MaxIdleTime == 0 {
		cfg.DB.MaxIdleTime = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 10 * time.Minute
	}
	if cfg.Scheduler.PassTimeout == 0 {
		cfg.Scheduler.PassTimeout = 2 * time.Minute
	}
	if cfg.Engine.MaxSnapshotAge == 0 {
		cfg.Engine.MaxSnapshotAge = 15 * time.Minute
	}
	if cfg.Engine.ApplyConcurrency == 0 {
		cfg.Engine.ApplyConcurrency = 8
	}
	if cfg.Engine.NotifyTimeout == 0 {
		cfg.Engine.NotifyTimeout = 15 * time.Second
	}
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "binance"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.Concurrency == 0 {
		cfg.Gateway.Concurrency = 8
	}
	if cfg.Gateway.RatePerSec == 0 {
		cfg.Gateway.RatePerSec = 5
	}
	if cfg.Gateway.Burst == 0 {
		cfg.Gateway.Burst = 5
	}
	if cfg.Gateway.CacheTTL == 0 {
		cfg.Gateway.CacheTTL = 60 * time.Second
	}
	if cfg.Gateway.Alpaca.Feed == "" {
		cfg.Gateway.Alpaca.Feed = "iex"
	}
	if cfg.Notifier.Email.Port == 0 {
		cfg.Notifier.Email.Port = 587
	}
	if cfg.Notifier.Webhook.Timeout == 0 {
		cfg.Notifier.Webhook.Timeout = 10 * time.Second
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv("PORT"); val != "" {
		cfg.HTTP.Addr = ":" + val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.DB.DSN = val
	}
	if val := os.Getenv("SQLITE_PATH"); val != "" {
		cfg.Store.SQLitePath = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FILE"); val != "" {
		cfg.Log.File = val
	}
	if val := os.Getenv("ALERT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if val := os.Getenv("SCHEDULER_ENABLED"); val != "" {
		cfg.Scheduler.Enabled = (val == "true")
	}
	if val := os.Getenv("MAX_SNAPSHOT_AGE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.MaxSnapshotAge = d
		}
	}
	if val := os.Getenv("GATEWAY_PROVIDER"); val != "" {
		cfg.Gateway.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("BINANCE_API_KEY"); val != "" {
		cfg.Gateway.Binance.APIKey = val
	}
	if val := os.Getenv("BINANCE_API_SECRET"); val != "" {
		cfg.Gateway.Binance.APISecret = val
	}
	if val := os.Getenv("BINANCE_USE_TESTNET"); val != "" {
		cfg.Gateway.Binance.UseTestnet = (val == "true")
	}
	if val := os.Getenv("FINNHUB_API_KEY"); val != "" {
		cfg.Gateway.Finnhub.APIKey = val
	}
	if val := os.Getenv("ALPACA_API_KEY"); val != "" {
		cfg.Gateway.Alpaca.APIKey = val
	}
	if val := os.Getenv("ALPACA_API_SECRET"); val != "" {
		cfg.Gateway.Alpaca.APISecret = val
	}
	if val := os.Getenv("TELEGRAM_TOKEN"); val != "" {
		cfg.Notifier.Telegram.Token = val
	}
	if val := os.Getenv("TELEGRAM_CHAT_ID"); val != "" {
		if id, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Notifier.Telegram.ChatID = id
		}
	}
	if val := os.Getenv("TELEGRAM_ENABLED"); val != "" {
		cfg.Notifier.Telegram.Enabled = (val == "true")
	}
	if val := os.Getenv("SMTP_HOST"); val != "" {
		cfg.Notifier.Email.Host = val
	}
	if val := os.Getenv("SMTP_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Notifier.Email.Port = p
		}
	}
	if val := os.Getenv("SMTP_USERNAME"); val != "" {
		cfg.Notifier.Email.Username = val
	}
	if val := os.Getenv("SMTP_PASSWORD"); val != "" {
		cfg.Notifier.Email.Password = val
	}
	if val := os.Getenv("SMTP_FROM"); val != "" {
		cfg.Notifier.Email.From = val
	}
	if val := os.Getenv("EMAIL_ENABLED"); val != "" {
		cfg.Notifier.Email.Enabled = (val == "true")
	}
	if val := os.Getenv("WEBHOOK_URL"); val != "" {
		cfg.Notifier.Webhook.URL = val
		cfg.Notifier.Webhook.Enabled = true
	}
	return cfg
}

// Validate 檢查無法靠預設值修正的設定。
func (c Config) Validate() error {
	switch c.Gateway.Provider {
	case "binance", "finnhub", "alpaca":
	default:
		return fmt.Errorf("gateway.provider must be binance, finnhub or alpaca, got %q", c.Gateway.Provider)
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval too short: %s", c.Scheduler.Interval)
	}
	if c.Engine.ApplyConcurrency < 0 || c.Gateway.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if c.Notifier.Email.Enabled && (c.Notifier.Email.Host == "" || c.Notifier.Email.From == "") {
		return fmt.Errorf("notifier.email requires host and from")
	}
	if c.Notifier.Webhook.Enabled && c.Notifier.Webhook.URL == "" {
		return fmt.Errorf("notifier.webhook requires url")
	}
	return nil
}
