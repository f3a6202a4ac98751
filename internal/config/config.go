package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Media     MediaConfig     `yaml:"media"`
	Followup  FollowupConfig  `yaml:"followup"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig is optional. With no URL the runner guard falls back to
// PostgreSQL advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// WhatsAppConfig is the gateway endpoint plus the deployment-wide tenant
// used when no stored tenant matches.
type WhatsAppConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIVersion        string  `yaml:"api_version"`
	WABAID            string  `yaml:"waba_id"`
	AccessToken       string  `yaml:"access_token"`
	PhoneNumberID     string  `yaml:"phone_number_id"`
	DisplayPhone      string  `yaml:"display_phone"`
	TemplateLanguage  string  `yaml:"template_language"`
	DefaultRegion     string  `yaml:"default_region"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MetadataRetries   int     `yaml:"metadata_retries"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
}

// Timeout returns the per-call gateway timeout.
func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether the deployment fallback tenant is usable.
func (c WhatsAppConfig) Configured() bool {
	return c.AccessToken != "" && (c.WABAID != "" || c.PhoneNumberID != "")
}

// WebhookConfig holds the inbound webhook settings.
type WebhookConfig struct {
	VerifyToken  string `yaml:"verify_token"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// SchedulerConfig holds the scheduled-run trigger settings.
type SchedulerConfig struct {
	RunSecret              string `yaml:"run_secret"`
	PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
	ImmediateWindowSeconds int    `yaml:"immediate_window_seconds"`
	Timezone               string `yaml:"timezone"`
	BatchLimit             int    `yaml:"batch_limit"`
	LockTTLSeconds         int    `yaml:"lock_ttl_seconds"`
}

// PollInterval returns how often cmd/worker triggers a run.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ImmediateWindow is the threshold below which a scheduled time counts as now.
func (c SchedulerConfig) ImmediateWindow() time.Duration {
	return time.Duration(c.ImmediateWindowSeconds) * time.Second
}

// LockTTL bounds how long a crashed runner can hold the guard.
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Location resolves Timezone, falling back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// MediaConfig controls document filename normalization.
type MediaConfig struct {
	DocumentExtension string `yaml:"document_extension"`
	DefaultFilename   string `yaml:"default_filename"`
}

// FollowupConfig holds follow-up trigger settings.
type FollowupConfig struct {
	DefaultTrigger         string `yaml:"default_trigger"`
	ScopeToSendingIdentity bool   `yaml:"scope_to_sending_identity"`
}

// LoggingConfig holds structured logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v20.0"
	}
	if cfg.WhatsApp.TemplateLanguage == "" {
		cfg.WhatsApp.TemplateLanguage = "en"
	}
	if cfg.WhatsApp.DefaultRegion == "" {
		cfg.WhatsApp.DefaultRegion = "ID"
	}
	if cfg.WhatsApp.TimeoutSeconds == 0 {
		cfg.WhatsApp.TimeoutSeconds = 20
	}
	if cfg.WhatsApp.MetadataRetries == 0 {
		cfg.WhatsApp.MetadataRetries = 2
	}
	if cfg.Webhook.MaxBodyBytes == 0 {
		cfg.Webhook.MaxBodyBytes = 1 << 20
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 60
	}
	if cfg.Scheduler.ImmediateWindowSeconds == 0 {
		cfg.Scheduler.ImmediateWindowSeconds = 15
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Asia/Jakarta"
	}
	if cfg.Scheduler.BatchLimit == 0 {
		cfg.Scheduler.BatchLimit = 20
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 600
	}
	if cfg.Media.DocumentExtension == "" {
		cfg.Media.DocumentExtension = ".pdf"
	}
	if cfg.Media.DefaultFilename == "" {
		cfg.Media.DefaultFilename = "document"
	}
	if cfg.Followup.DefaultTrigger == "" {
		cfg.Followup.DefaultTrigger = "yes"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.RedactPII == nil {
		redact := true
		cfg.Logging.RedactPII = &redact
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first if present. A missing config file is not an
// error here: env-only deployments get defaults plus overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	overrideString(&cfg.WhatsApp.WABAID, "WABA_ID")
	overrideString(&cfg.WhatsApp.AccessToken, "WA_TOKEN")
	overrideString(&cfg.WhatsApp.APIVersion, "WA_VERSION")
	overrideString(&cfg.WhatsApp.PhoneNumberID, "PHONE_NUMBER_ID")
	overrideString(&cfg.WhatsApp.DisplayPhone, "DISPLAY_PHONE")
	overrideString(&cfg.WhatsApp.BaseURL, "WA_BASE_URL")
	overrideString(&cfg.Database.URL, "DATABASE_URL")
	overrideString(&cfg.Redis.URL, "REDIS_URL")
	overrideString(&cfg.Webhook.VerifyToken, "WEBHOOK_VERIFY_TOKEN")
	overrideString(&cfg.Scheduler.RunSecret, "CRON_SECRET")
	overrideString(&cfg.Logging.Level, "LOG_LEVEL")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
