package conf

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tgwatch/tg-session-watch/internal/biz/usecase"
	"github.com/tgwatch/tg-session-watch/internal/pkg/validate"
)

// Config represents application configuration
type Config struct {
	// Telegram bots and MTProto application
	Telegram TelegramConfig

	// Credential store
	Store StoreConfig

	// Quotas, queue sizes and timeouts
	Limits LimitsConfig

	// Feishu mirror (optional)
	Feishu FeishuConfig

	// Admin API
	API APIConfig

	// Logging
	Log LogConfig

	// Reply texts (loaded from YAML)
	Messages *MessagesConfig
}

// TelegramConfig contains bot tokens and MTProto app credentials
type TelegramConfig struct {
	SessionBotToken    string `mapstructure:"session_bot_token" validate:"required"`
	MonitorBotToken    string `mapstructure:"monitor_bot_token"`
	APIID              int    `mapstructure:"telegram_api_id" validate:"required,gt=0"`
	APIHash            string `mapstructure:"telegram_api_hash" validate:"required"`
	BotAPIURL          string `mapstructure:"telegram_bot_api_url" validate:"required,url"`
	PollTimeoutSeconds int    `mapstructure:"poll_timeout_seconds" validate:"gte=1,lte=50"`
}

// StoreConfig selects the credential backend
type StoreConfig struct {
	DBPath      string `mapstructure:"session_db_path" validate:"required_without=DatabaseURL"`
	DatabaseURL string `mapstructure:"database_url" validate:"omitempty,url"`
}

// LimitsConfig contains per-owner and engine limits
type LimitsConfig struct {
	MaxSessions            int `mapstructure:"max_sessions_per_user" validate:"gte=1"`
	PendingLoginTTLMinutes int `mapstructure:"pending_login_ttl_minutes" validate:"gte=1"`
	MonitorQueueSize       int `mapstructure:"monitor_queue_size" validate:"gte=1"`
	DeliveryTimeoutSeconds int `mapstructure:"delivery_timeout_seconds" validate:"gte=1"`
	MaxConcurrency         int `mapstructure:"max_concurrency" validate:"gte=1"`
}

// FeishuConfig contains the mirror app credentials
type FeishuConfig struct {
	AppID        string `mapstructure:"feishu_app_id"`
	AppSecret    string `mapstructure:"feishu_app_secret" validate:"required_with=AppID"`
	MirrorChatID string `mapstructure:"feishu_mirror_chat_id" validate:"required_with=AppID"`
}

// APIConfig contains the admin API listener; empty disables it
type APIConfig struct {
	Listen string `mapstructure:"api_listen" validate:"omitempty,hostname_port"`

	// CORSOrigins lists browser origins allowed to call the API
	CORSOrigins []string `mapstructure:"api_cors_origins" validate:"dive,required"`
}

// LogConfig contains logging options
type LogConfig struct {
	Level  string `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal"`
	Format string `mapstructure:"log_format" validate:"omitempty,oneof=console json"`
}

// Defaults are registered on the viper instance before reading
var defaults = map[string]any{
	"telegram_bot_api_url":      "https://api.telegram.org",
	"poll_timeout_seconds":      30,
	"max_sessions_per_user":     3,
	"pending_login_ttl_minutes": 10,
	"monitor_queue_size":        64,
	"delivery_timeout_seconds":  15,
	"max_concurrency":           8,
	"api_listen":                "127.0.0.1:9876",
	"log_level":                 "info",
	"log_format":                "console",
	"messages_config_path":      "",
}

// Load reads configuration from the environment through v.
// Flags bound on v by the caller take precedence.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	// an explicitly empty API_LISTEN disables the admin API
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetDefault("session_db_path", defaultDBPath())

	messages, err := LoadMessagesConfig(v.GetString("messages_config_path"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Telegram: TelegramConfig{
			SessionBotToken:    v.GetString("session_bot_token"),
			MonitorBotToken:    v.GetString("monitor_bot_token"),
			APIID:              v.GetInt("telegram_api_id"),
			APIHash:            v.GetString("telegram_api_hash"),
			BotAPIURL:          v.GetString("telegram_bot_api_url"),
			PollTimeoutSeconds: v.GetInt("poll_timeout_seconds"),
		},
		Store: StoreConfig{
			DBPath:      v.GetString("session_db_path"),
			DatabaseURL: v.GetString("database_url"),
		},
		Limits: LimitsConfig{
			MaxSessions:            v.GetInt("max_sessions_per_user"),
			PendingLoginTTLMinutes: v.GetInt("pending_login_ttl_minutes"),
			MonitorQueueSize:       v.GetInt("monitor_queue_size"),
			DeliveryTimeoutSeconds: v.GetInt("delivery_timeout_seconds"),
			MaxConcurrency:         v.GetInt("max_concurrency"),
		},
		Feishu: FeishuConfig{
			AppID:        v.GetString("feishu_app_id"),
			AppSecret:    v.GetString("feishu_app_secret"),
			MirrorChatID: v.GetString("feishu_mirror_chat_id"),
		},
		API: APIConfig{
			Listen:      v.GetString("api_listen"),
			CORSOrigins: splitList(v.GetString("api_cors_origins")),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
		Messages: messages,
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func defaultDBPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tg-session-watch", "sessions.db")
}

// MonitorToken returns the monitor bot token, falling back to the session bot
func (c *TelegramConfig) MonitorToken() string {
	if c.MonitorBotToken != "" {
		return c.MonitorBotToken
	}
	return c.SessionBotToken
}

// SharedBot reports whether one bot serves both command sets
func (c *TelegramConfig) SharedBot() bool {
	return c.MonitorBotToken == "" || c.MonitorBotToken == c.SessionBotToken
}

// PollTimeout returns the long-poll timeout
func (c *TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

// MirrorEnabled reports whether forwarded messages are copied to Feishu
func (c *FeishuConfig) MirrorEnabled() bool {
	return c.AppID != "" && c.AppSecret != "" && c.MirrorChatID != ""
}

// ToAcquisitionConfig converts to the login flow configuration
func (c *LimitsConfig) ToAcquisitionConfig() usecase.AcquisitionConfig {
	return usecase.AcquisitionConfig{
		MaxCredentials: c.MaxSessions,
		PendingTTL:     time.Duration(c.PendingLoginTTLMinutes) * time.Minute,
	}
}

// ToMonitorConfig converts to the monitoring engine configuration
func (c *LimitsConfig) ToMonitorConfig() usecase.MonitorConfig {
	return usecase.MonitorConfig{
		QueueSize:       c.MonitorQueueSize,
		DeliveryTimeout: time.Duration(c.DeliveryTimeoutSeconds) * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	for _, part := range []any{&c.Telegram, &c.Store, &c.Limits, &c.Feishu, &c.API, &c.Log} {
		if err := validatePart(part); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates only the store settings
func (c *StoreConfig) Validate() error {
	return validatePart(c)
}

func validatePart(part any) error {
	if err := validate.Struct(part); err != nil {
		var fes validate.Errors
		if errors.As(err, &fes) && len(fes) > 0 {
			return &ConfigError{Field: fes[0].Field, Message: fes[0].Message}
		}
		return &ConfigError{Field: "config", Message: err.Error()}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
