// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the dashboard HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// OpenAIConfig provides settings for the OpenAI-backed providers.
type OpenAIConfig interface {
	GetOpenAIKey() string
	GetGPTModel() string
	GetGPTModelFast() string
	GetGPTTemperature() float32
	GetTTSVoice() string
	GetTTSModel() string
	GetTTSSpeed() float64
	GetWhisperLanguage() string
}

// WhatsAppConfig provides settings for the chat transport.
type WhatsAppConfig interface {
	GetWhatsAppTransport() string
	GetWhatsAppStorePath() string
	GetGowaURL() string
	GetGowaAPIKey() string
	GetGowaDeviceID() string
}

// ConversationConfig provides settings for session tracking.
type ConversationConfig interface {
	GetSessionTimeout() time.Duration
	GetContextWindow() int
}

// FollowUpConfig provides settings for the follow-up scheduler.
type FollowUpConfig interface {
	GetFollowUpTick() time.Duration
	GetFollowUpInterval() time.Duration
	GetMaxFollowUps() int
	GetSessionTimeout() time.Duration
}

// ARIConfig provides settings for the Asterisk REST Interface adapter.
type ARIConfig interface {
	GetARIURL() string
	GetARIUsername() string
	GetARIPassword() string
	GetARIApp() string
	GetTrunkName() string
	GetTrunkPrefix() string
	GetTrunkCallerID() string
	GetSoundsPath() string
	GetRecordingPath() string
	IsARIEnabled() bool
}

// VoicebotConfig provides settings for the call dispatcher and turn loop.
type VoicebotConfig interface {
	GetMaxConcurrentCalls() int
	GetMaxTurns() int
	GetMaxCallDuration() time.Duration
	GetAnswerTimeout() time.Duration
	GetRecordSeconds() int
	GetRecordMaxSilence() float64
}

// SchedulerConfig provides settings for the asynq task scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// CatalogConfig provides settings for the property catalog.
type CatalogConfig interface {
	GetCatalogDir() string
}

// AdvisorConfig provides settings for the advisor roster.
type AdvisorConfig interface {
	GetAdvisorsPath() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env          string
	HTTPAddr     string
	DatabaseURL  string
	RedisURL     string
	CORSAllowAll bool
	CORSOrigins  []string

	OpenAIKey       string
	GPTModel        string
	GPTModelFast    string
	GPTTemperature  float32
	TTSVoice        string
	TTSModel        string
	TTSSpeed        float64
	WhisperLanguage string

	WhatsAppTransport string
	WhatsAppStorePath string
	GowaURL           string
	GowaAPIKey        string
	GowaDeviceID      string

	SessionTimeout   time.Duration
	ContextWindow    int
	FollowUpTick     time.Duration
	FollowUpInterval time.Duration
	MaxFollowUps     int

	ARIURL        string
	ARIUsername   string
	ARIPassword   string
	ARIApp        string
	TrunkName     string
	TrunkPrefix   string
	TrunkCallerID string
	SoundsPath    string
	RecordingPath string

	MaxConcurrentCalls int
	MaxTurns           int
	MaxCallDuration    time.Duration
	AnswerTimeout      time.Duration
	RecordSeconds      int
	RecordMaxSilence   float64

	AsynqQueueName   string
	AsynqConcurrency int

	CatalogDir   string
	AdvisorsPath string

	MigrationsDir string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// OpenAIConfig implementation
func (c *Config) GetOpenAIKey() string        { return c.OpenAIKey }
func (c *Config) GetGPTModel() string         { return c.GPTModel }
func (c *Config) GetGPTModelFast() string     { return c.GPTModelFast }
func (c *Config) GetGPTTemperature() float32  { return c.GPTTemperature }
func (c *Config) GetTTSVoice() string         { return c.TTSVoice }
func (c *Config) GetTTSModel() string         { return c.TTSModel }
func (c *Config) GetTTSSpeed() float64        { return c.TTSSpeed }
func (c *Config) GetWhisperLanguage() string  { return c.WhisperLanguage }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppTransport() string { return c.WhatsAppTransport }
func (c *Config) GetWhatsAppStorePath() string { return c.WhatsAppStorePath }
func (c *Config) GetGowaURL() string           { return c.GowaURL }
func (c *Config) GetGowaAPIKey() string        { return c.GowaAPIKey }
func (c *Config) GetGowaDeviceID() string      { return c.GowaDeviceID }

// ConversationConfig / FollowUpConfig implementation
func (c *Config) GetSessionTimeout() time.Duration   { return c.SessionTimeout }
func (c *Config) GetContextWindow() int              { return c.ContextWindow }
func (c *Config) GetFollowUpTick() time.Duration     { return c.FollowUpTick }
func (c *Config) GetFollowUpInterval() time.Duration { return c.FollowUpInterval }
func (c *Config) GetMaxFollowUps() int               { return c.MaxFollowUps }

// ARIConfig implementation
func (c *Config) GetARIURL() string        { return c.ARIURL }
func (c *Config) GetARIUsername() string   { return c.ARIUsername }
func (c *Config) GetARIPassword() string   { return c.ARIPassword }
func (c *Config) GetARIApp() string        { return c.ARIApp }
func (c *Config) GetTrunkName() string     { return c.TrunkName }
func (c *Config) GetTrunkPrefix() string   { return c.TrunkPrefix }
func (c *Config) GetTrunkCallerID() string { return c.TrunkCallerID }
func (c *Config) GetSoundsPath() string    { return c.SoundsPath }
func (c *Config) GetRecordingPath() string { return c.RecordingPath }
func (c *Config) IsARIEnabled() bool       { return c.ARIURL != "" }

// VoicebotConfig implementation
func (c *Config) GetMaxConcurrentCalls() int         { return c.MaxConcurrentCalls }
func (c *Config) GetMaxTurns() int                   { return c.MaxTurns }
func (c *Config) GetMaxCallDuration() time.Duration  { return c.MaxCallDuration }
func (c *Config) GetAnswerTimeout() time.Duration    { return c.AnswerTimeout }
func (c *Config) GetRecordSeconds() int              { return c.RecordSeconds }
func (c *Config) GetRecordMaxSilence() float64       { return c.RecordMaxSilence }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// CatalogConfig implementation
func (c *Config) GetCatalogDir() string { return c.CatalogDir }

// AdvisorConfig implementation
func (c *Config) GetAdvisorsPath() string { return c.AdvisorsPath }

// Load reads configuration from environment variables.
// Missing required credentials are a fatal startup error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:          getEnv("APP_ENV", "development"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":4242"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		CORSAllowAll: corsAllowAll,
		CORSOrigins:  corsOrigins,

		OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
		GPTModel:        getEnv("OPENAI_GPT_MODEL", "gpt-4o"),
		GPTModelFast:    getEnv("OPENAI_GPT_MODEL_FAST", "gpt-4o-mini"),
		GPTTemperature:  float32(getFloat("OPENAI_GPT_TEMPERATURE", 0.6)),
		TTSVoice:        getEnv("OPENAI_TTS_VOICE", "nova"),
		TTSModel:        getEnv("OPENAI_TTS_MODEL", "tts-1-hd"),
		TTSSpeed:        getFloat("OPENAI_TTS_SPEED", 1.0),
		WhisperLanguage: getEnv("OPENAI_WHISPER_LANGUAGE", "es"),

		WhatsAppTransport: getEnv("WHATSAPP_TRANSPORT", "whatsmeow"),
		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "file:store.db?_foreign_keys=on"),
		GowaURL:           getEnv("WHATSAPP_GOWA_URL", ""),
		GowaAPIKey:        getEnv("WHATSAPP_GOWA_KEY", ""),
		GowaDeviceID:      getEnv("WHATSAPP_GOWA_DEVICE_ID", ""),

		SessionTimeout:   getDuration("SESSION_TIMEOUT", 5*time.Minute),
		ContextWindow:    getInt("CONTEXT_WINDOW", 10),
		FollowUpTick:     getDuration("FOLLOWUP_TICK", time.Minute),
		FollowUpInterval: getDuration("FOLLOWUP_INTERVAL", 24*time.Hour),
		MaxFollowUps:     getInt("FOLLOWUP_MAX_ATTEMPTS", 3),

		ARIURL:        getEnv("ASTERISK_ARI_URL", ""),
		ARIUsername:   getEnv("ASTERISK_ARI_USERNAME", "voicebot"),
		ARIPassword:   getEnv("ASTERISK_ARI_PASSWORD", ""),
		ARIApp:        getEnv("ASTERISK_ARI_APP", "voicebot-outreach"),
		TrunkName:     getEnv("ASTERISK_TRUNK_NAME", "trunk-main"),
		TrunkPrefix:   getEnv("TRUNK_PREFIX", ""),
		TrunkCallerID: getEnv("TRUNK_CALLER_ID", "Outreach"),
		SoundsPath:    getEnv("ASTERISK_SOUNDS_PATH", "/usr/share/asterisk/sounds/custom"),
		RecordingPath: getEnv("ASTERISK_RECORDING_PATH", "/var/spool/asterisk/recording"),

		MaxConcurrentCalls: getInt("VOICEBOT_CONCURRENT_CALLS", 2),
		MaxTurns:           getInt("VOICEBOT_MAX_TURNS", 8),
		MaxCallDuration:    getDuration("VOICEBOT_MAX_CALL_DURATION", 300*time.Second),
		AnswerTimeout:      getDuration("VOICEBOT_ANSWER_TIMEOUT", 45*time.Second),
		RecordSeconds:      getInt("VOICEBOT_RECORD_SECONDS", 3),
		RecordMaxSilence:   getFloat("VOICEBOT_RECORD_MAX_SILENCE", 1.5),

		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "outreach"),
		AsynqConcurrency: getInt("ASYNQ_CONCURRENCY", 10),

		CatalogDir:   getEnv("CATALOG_DIR", "data/terrenos"),
		AdvisorsPath: getEnv("ADVISORS_PATH", "configs/advisors.yaml"),

		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return cfg, nil
}

// =============================================================================
// Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		// Bare numbers are treated as seconds for compatibility with the
		// legacy deployment's env files.
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
