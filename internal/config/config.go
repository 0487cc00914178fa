// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram        TelegramConfig        `yaml:"telegram"`
	Port            string                `yaml:"port"`
	GRPCHealthAddr  string                `yaml:"grpc_health_addr"`
	Session         SessionConfig         `yaml:"session"`
	Agent           AgentConfig           `yaml:"agent"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
	LogLevel        string                `yaml:"log_level"`
}

// TelegramConfig configures the chat transport.
type TelegramConfig struct {
	Token string `yaml:"token"`
	// AdminIDs is a comma-separated allowlist; empty admits everyone.
	AdminIDs      string `yaml:"admin_ids"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	WebhookPath   string `yaml:"webhook_path"`
}

// SessionConfig selects the durable session store.
type SessionConfig struct {
	Backend string `yaml:"backend"`
	File    string `yaml:"file"`
	DBPath  string `yaml:"db_path"`
}

// AgentConfig controls how agent runs are launched.
type AgentConfig struct {
	Binary         string   `yaml:"binary"`
	WorkDir        string   `yaml:"work_dir"`
	AllowedTools   []string `yaml:"allowed_tools"`
	PermissionMode string   `yaml:"permission_mode"`
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port: "8080",
		Telegram: TelegramConfig{
			WebhookPath: "/telegram/webhook",
		},
		Session: SessionConfig{
			Backend: "json",
			File:    "sessions.json",
			DBPath:  "./data/sessions.db",
		},
		Agent: AgentConfig{
			Binary:         "claude",
			AllowedTools:   []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"},
			PermissionMode: "bypassPermissions",
		},
		ConversationLog: ConversationLogConfig{
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
		LogLevel: "info",
	}
}

// Load reads defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	c.Telegram.AdminIDs = getEnv("TELEGRAM_ADMIN_IDS", c.Telegram.AdminIDs)
	c.Telegram.WebhookURL = getEnv("TELEGRAM_WEBHOOK_URL", c.Telegram.WebhookURL)
	c.Telegram.WebhookSecret = getEnv("TELEGRAM_WEBHOOK_SECRET", c.Telegram.WebhookSecret)
	c.Telegram.WebhookPath = getEnv("TELEGRAM_WEBHOOK_PATH", c.Telegram.WebhookPath)

	c.Port = getEnv("PORT", c.Port)
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)

	c.Session.Backend = getEnv("SESSION_BACKEND", c.Session.Backend)
	c.Session.File = getEnv("SESSION_FILE", c.Session.File)
	c.Session.DBPath = getEnv("DB_PATH", c.Session.DBPath)

	c.Agent.Binary = getEnv("CLAUDE_BINARY", c.Agent.Binary)
	c.Agent.WorkDir = getEnv("WORK_DIR", c.Agent.WorkDir)
	c.Agent.AllowedTools = getEnvList("CLAUDE_ALLOWED_TOOLS", c.Agent.AllowedTools)
	c.Agent.PermissionMode = getEnv("CLAUDE_PERMISSION_MODE", c.Agent.PermissionMode)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case "json":
		if c.Session.File == "" {
			return errors.New("SESSION_FILE cannot be empty")
		}
	case "sqlite":
		if c.Session.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be json or sqlite, got %q", c.Session.Backend)
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ValidateServe checks the settings needed to run the bot.
func (c *Config) ValidateServe() error {
	if c.Telegram.Token == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.UsesWebhook() && !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
		return errors.New("TELEGRAM_WEBHOOK_PATH must start with /")
	}
	return nil
}

// UsesWebhook reports whether updates arrive by webhook instead of long polling.
func (c *Config) UsesWebhook() bool {
	return c.Telegram.WebhookURL != ""
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
