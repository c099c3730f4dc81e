package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Relay behaviour
	DefaultErrorMessage string
	ResetKeyword        string
	ResetGreeting       string
	HelpMessage         string
	ExternalCallTimeout time.Duration

	// Conversation document store
	DocumentStore      string
	ConversationsTable string
	DatabaseURL        string
	AuditDatabaseURL   string

	// Session cache
	SessionCache  string
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	MediaBucket         string
	MediaPublicBaseURL  string
	S3UsePathStyle      bool

	// Dialogue backend
	DialogueBackend     string
	AssistantAPIKey     string
	AssistantID         string
	AssistantServiceURL string
	AssistantVersion    string
	BedrockModelID      string
	BedrockSystemPrompt string
	BedrockSessionTTL   time.Duration

	// Speech services
	STTAPIKey       string
	STTServiceURL   string
	STTModel        string
	TTSAPIKey       string
	TTSServiceURL   string
	TTSDefaultVoice string

	// Channels
	TelegramBotToken      string
	TelegramWebhookSecret string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioWebhookSecret   string
	TwilioFromNumber      string

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		// Deployment env files cannot hold spaces, so underscores stand in for them.
		DefaultErrorMessage: strings.ReplaceAll(getEnv("DEFAULT_ERROR_MESSAGE", "Sorry, I could not understand that. Please try again."), "_", " "),
		ResetKeyword:        getEnv("RESET_KEYWORD", "break"),
		ResetGreeting:       getEnv("RESET_GREETING", "Hi"),
		HelpMessage:         getEnv("HELP_MESSAGE", "How can I help you? Please type or say your needs."),
		ExternalCallTimeout: getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", 15*time.Second),

		DocumentStore:      strings.ToLower(strings.TrimSpace(getEnv("DOCUMENT_STORE", "memory"))),
		ConversationsTable: getEnv("CONVERSATIONS_TABLE", "chatbot_conversations"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AuditDatabaseURL:   getEnv("AUDIT_DATABASE_URL", ""),

		SessionCache:  strings.ToLower(strings.TrimSpace(getEnv("SESSION_CACHE", "memory"))),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 0),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		MediaBucket:         getEnv("MEDIA_BUCKET", ""),
		MediaPublicBaseURL:  getEnv("MEDIA_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:      getEnvAsBool("S3_USE_PATH_STYLE", false),

		DialogueBackend:     strings.ToLower(strings.TrimSpace(getEnv("DIALOGUE_BACKEND", "watson"))),
		AssistantAPIKey:     getEnv("WA_API_KEY", ""),
		AssistantID:         getEnv("WA_ID", ""),
		AssistantServiceURL: getEnv("WA_SERVICE_URL", ""),
		AssistantVersion:    getEnv("WA_VERSION", "2021-11-27"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		BedrockSystemPrompt: getEnv("BEDROCK_SYSTEM_PROMPT", "You are a helpful assistant replying to chat users. Keep answers short."),
		BedrockSessionTTL:   getEnvAsDuration("BEDROCK_SESSION_TTL", 30*time.Minute),

		STTAPIKey:       getEnv("STT_API_KEY", ""),
		STTServiceURL:   getEnv("STT_SERVICE_URL", ""),
		STTModel:        getEnv("STT_MODEL", "en-US_BroadbandModel"),
		TTSAPIKey:       getEnv("TTS_API_KEY", ""),
		TTSServiceURL:   getEnv("TTS_SERVICE_URL", ""),
		TTSDefaultVoice: getEnv("TTS_DEFAULT_VOICE", "en-US_AllisonV3Voice"),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret:   getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:      getEnv("TWILIO_FROM_NUMBER", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// Validate reports settings that make the selected backends unusable.
func (c *Config) Validate() error {
	switch c.DocumentStore {
	case "memory":
	case "dynamodb":
		if c.ConversationsTable == "" {
			return fmt.Errorf("config: CONVERSATIONS_TABLE required for dynamodb store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL required for postgres store")
		}
	default:
		return fmt.Errorf("config: unknown DOCUMENT_STORE %q", c.DocumentStore)
	}
	switch c.SessionCache {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown SESSION_CACHE %q", c.SessionCache)
	}
	switch c.DialogueBackend {
	case "watson":
		if c.AssistantServiceURL == "" || c.AssistantID == "" {
			return fmt.Errorf("config: WA_SERVICE_URL and WA_ID required for watson backend")
		}
	case "bedrock":
		if c.BedrockModelID == "" {
			return fmt.Errorf("config: BEDROCK_MODEL_ID required for bedrock backend")
		}
	default:
		return fmt.Errorf("config: unknown DIALOGUE_BACKEND %q", c.DialogueBackend)
	}
	if c.ExternalCallTimeout <= 0 {
		return fmt.Errorf("config: EXTERNAL_CALL_TIMEOUT must be positive")
	}
	// Inbound voice notes and media are stored before the turn runs.
	if (c.TelegramEnabled() || c.WhatsAppEnabled()) && strings.TrimSpace(c.MediaBucket) == "" {
		return fmt.Errorf("config: MEDIA_BUCKET required when a channel is enabled")
	}
	return nil
}

// TelegramEnabled reports whether the Telegram webhook is served.
func (c *Config) TelegramEnabled() bool {
	return strings.TrimSpace(c.TelegramBotToken) != ""
}

// WhatsAppEnabled reports whether the Twilio WhatsApp webhook is served.
func (c *Config) WhatsAppEnabled() bool {
	return strings.TrimSpace(c.TwilioAccountSID) != "" && strings.TrimSpace(c.TwilioAuthToken) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
