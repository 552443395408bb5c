package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	App      AppConfig      `toml:"app"`
	Log      LogConfig      `toml:"log"`
	Auth     AuthConfig     `toml:"auth"`
	LLM      LLMConfig      `toml:"llm"`
	Chat     ChatConfig     `toml:"chat"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
}

type AppConfig struct {
	Name    string `toml:"name" validate:"required"`
	Env     string `toml:"env" validate:"oneof=dev test prod"`
	Host    string `toml:"host"`
	Port    int    `toml:"port" validate:"gt=0,lt=65536"`
	GinMode string `toml:"gin_mode" validate:"oneof=debug release test"`
}

type LogConfig struct {
	Level    string `toml:"level" validate:"oneof=debug info warn error"`
	FilePath string `toml:"file_path"`
}

type DatabaseConfig struct {
	Driver   string `toml:"driver" validate:"oneof=mysql postgres sqlite"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name" validate:"required"`
	Params   string `toml:"params"`
}

type RedisConfig struct {
	Addr                   string `toml:"addr"`
	Password               string `toml:"password"`
	DB                     int    `toml:"db"`
	HistoryTTLSeconds      int    `toml:"history_ttl_seconds"`
	HistoryDirtyTTLSeconds int    `toml:"history_dirty_ttl_seconds"`
}

type RabbitMQConfig struct {
	URL                 string `toml:"url"`
	MessagePersistQueue string `toml:"message_persist_queue"`
}

type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret" validate:"required,min=16"`
	JWTExpireMinute int    `toml:"jwt_expire_minute" validate:"gt=0"`
}

type LLMConfig struct {
	Provider           string `toml:"provider" validate:"oneof=openai gemini"`
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	Model              string `toml:"model" validate:"required"`
	SystemPrompt       string `toml:"system_prompt"`
	MaxContextMessages int    `toml:"max_context_messages" validate:"gte=0"`
	MaxContextChars    int    `toml:"max_context_chars" validate:"gte=0"`
	TimeoutSeconds     int    `toml:"timeout_seconds" validate:"gte=0"`
}

type ChatConfig struct {
	PersistReply           bool `toml:"persist_reply"`
	PersistViaQueue        bool `toml:"persist_via_queue"`
	ExchangeLockTTLSeconds int  `toml:"exchange_lock_ttl_seconds" validate:"gt=0"`
	RateLimitPerMinute     int  `toml:"rate_limit_per_minute" validate:"gte=0"`
	RateLimitBurst         int  `toml:"rate_limit_burst" validate:"gte=0"`
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// the lock must outlive the slowest exchange or a second one can start
	if c.LLM.TimeoutSeconds > 0 && c.Chat.ExchangeLockTTLSeconds <= c.LLM.TimeoutSeconds {
		return fmt.Errorf("invalid config: chat.exchange_lock_ttl_seconds (%d) must exceed llm.timeout_seconds (%d)",
			c.Chat.ExchangeLockTTLSeconds, c.LLM.TimeoutSeconds)
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// DSN renders the connection string for the configured driver. For sqlite,
// Name is the file path (or ":memory:").
func (c *Config) DSN() string {
	db := c.Database
	switch db.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
			db.Host, db.Port, db.User, db.Password, db.Name)
		if db.Params != "" {
			dsn += " " + db.Params
		}
		return dsn
	case "sqlite":
		if db.Params != "" {
			return db.Name + "?" + db.Params
		}
		return db.Name
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			db.User,
			db.Password,
			db.Host,
			db.Port,
			db.Name,
			db.Params,
		)
	}
}

func (c *Config) JWTExpiration() time.Duration {
	return time.Duration(c.Auth.JWTExpireMinute) * time.Minute
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) ExchangeLockTTL() time.Duration {
	return time.Duration(c.Chat.ExchangeLockTTLSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "gopherchat",
			Env:     "dev",
			Host:    "0.0.0.0",
			Port:    8080,
			GinMode: "debug",
		},
		Log: LogConfig{
			Level:    "info",
			FilePath: "logs/gopherchat.log",
		},
		Auth: AuthConfig{
			JWTSecret:       "change-me-in-production",
			JWTExpireMinute: 120,
		},
		LLM: LLMConfig{
			Provider:           "openai",
			BaseURL:            "https://api.openai.com/v1",
			Model:              "gpt-4-turbo",
			SystemPrompt:       "You are a concise and helpful AI assistant.",
			MaxContextMessages: 50,
			MaxContextChars:    32000,
			TimeoutSeconds:     120,
		},
		Chat: ChatConfig{
			PersistReply:           true,
			PersistViaQueue:        false,
			ExchangeLockTTLSeconds: 180,
			RateLimitPerMinute:     30,
			RateLimitBurst:         5,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "127.0.0.1",
			Port:   3306,
			User:   "root",
			Name:   "gopherchat",
			Params: "parseTime=true&loc=UTC&charset=utf8mb4",
		},
		Redis: RedisConfig{
			Addr:                   "127.0.0.1:6379",
			HistoryTTLSeconds:      60,
			HistoryDirtyTTLSeconds: 5,
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 "",
			MessagePersistQueue: "chat.message.persist",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.FilePath = getEnv("LOG_FILE", cfg.Log.FilePath)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTExpireMinute = getEnvAsInt("JWT_EXPIRE_MINUTE", cfg.Auth.JWTExpireMinute)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.SystemPrompt = getEnv("LLM_SYSTEM_PROMPT", cfg.LLM.SystemPrompt)
	cfg.LLM.MaxContextMessages = getEnvAsInt("LLM_MAX_CONTEXT_MESSAGES", cfg.LLM.MaxContextMessages)
	cfg.LLM.MaxContextChars = getEnvAsInt("LLM_MAX_CONTEXT_CHARS", cfg.LLM.MaxContextChars)
	cfg.LLM.TimeoutSeconds = getEnvAsInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)

	cfg.Chat.PersistReply = getEnvAsBool("CHAT_PERSIST_REPLY", cfg.Chat.PersistReply)
	cfg.Chat.PersistViaQueue = getEnvAsBool("CHAT_PERSIST_VIA_QUEUE", cfg.Chat.PersistViaQueue)
	cfg.Chat.ExchangeLockTTLSeconds = getEnvAsInt("CHAT_EXCHANGE_LOCK_TTL_SECONDS", cfg.Chat.ExchangeLockTTLSeconds)
	cfg.Chat.RateLimitPerMinute = getEnvAsInt("CHAT_RATE_LIMIT_PER_MINUTE", cfg.Chat.RateLimitPerMinute)
	cfg.Chat.RateLimitBurst = getEnvAsInt("CHAT_RATE_LIMIT_BURST", cfg.Chat.RateLimitBurst)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.Params = getEnv("DB_PARAMS", cfg.Database.Params)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.HistoryTTLSeconds = getEnvAsInt("REDIS_HISTORY_TTL_SECONDS", cfg.Redis.HistoryTTLSeconds)
	cfg.Redis.HistoryDirtyTTLSeconds = getEnvAsInt("REDIS_HISTORY_DIRTY_TTL_SECONDS", cfg.Redis.HistoryDirtyTTLSeconds)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.MessagePersistQueue = getEnv("RABBITMQ_MESSAGE_PERSIST_QUEUE", cfg.RabbitMQ.MessagePersistQueue)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
