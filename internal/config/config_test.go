package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "DEFAULT_ERROR_MESSAGE", "RESET_KEYWORD", "DOCUMENT_STORE", "EXTERNAL_CALL_TIMEOUT", "WA_VERSION"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.ResetKeyword != "break" {
		t.Fatalf("expected default reset keyword, got %q", cfg.ResetKeyword)
	}
	if cfg.ResetGreeting != "Hi" {
		t.Fatalf("expected default greeting, got %q", cfg.ResetGreeting)
	}
	if cfg.DocumentStore != "memory" {
		t.Fatalf("expected memory store by default, got %s", cfg.DocumentStore)
	}
	if cfg.ExternalCallTimeout != 15*time.Second {
		t.Fatalf("expected default call timeout, got %s", cfg.ExternalCallTimeout)
	}
	if cfg.AssistantVersion != "2021-11-27" {
		t.Fatalf("expected default assistant version, got %s", cfg.AssistantVersion)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEFAULT_ERROR_MESSAGE", "Oops_try_again")
	t.Setenv("DOCUMENT_STORE", " DynamoDB ")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "3s")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DefaultErrorMessage != "Oops try again" {
		t.Fatalf("expected underscores replaced, got %q", cfg.DefaultErrorMessage)
	}
	if cfg.DocumentStore != "dynamodb" {
		t.Fatalf("expected normalized store name, got %q", cfg.DocumentStore)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected session ttl override, got %s", cfg.SessionTTL)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.ExternalCallTimeout != 3*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.ExternalCallTimeout)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_TLS", "maybe")
	t.Setenv("SESSION_TTL", "soon")
	cfg := Load()
	if cfg.RedisTLS {
		t.Fatalf("expected invalid bool to fall back to false")
	}
	if cfg.SessionTTL != 0 {
		t.Fatalf("expected invalid duration to fall back, got %s", cfg.SessionTTL)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DocumentStore:       "memory",
			SessionCache:        "memory",
			DialogueBackend:     "watson",
			AssistantServiceURL: "https://assistant.example",
			AssistantID:         "asst",
			ExternalCallTimeout: time.Second,
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"unknown store":      func(c *Config) { c.DocumentStore = "mongo" },
		"postgres no dsn":    func(c *Config) { c.DocumentStore = "postgres" },
		"unknown cache":      func(c *Config) { c.SessionCache = "memcached" },
		"watson missing id":  func(c *Config) { c.AssistantID = "" },
		"bedrock no model":   func(c *Config) { c.DialogueBackend = "bedrock" },
		"zero timeout":       func(c *Config) { c.ExternalCallTimeout = 0 },
		"unknown backend":    func(c *Config) { c.DialogueBackend = "rasa" },
		"dynamodb no table":  func(c *Config) { c.DocumentStore = "dynamodb"; c.ConversationsTable = "" },
		"telegram no bucket": func(c *Config) { c.TelegramBotToken = "123:abc" },
		"whatsapp no bucket": func(c *Config) { c.TwilioAccountSID = "AC1"; c.TwilioAuthToken = "tok" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateChannelsWithMediaBucket(t *testing.T) {
	cfg := &Config{
		DocumentStore:       "memory",
		SessionCache:        "memory",
		DialogueBackend:     "watson",
		AssistantServiceURL: "https://assistant.example",
		AssistantID:         "asst",
		ExternalCallTimeout: time.Second,
		TelegramBotToken:    "123:abc",
		TwilioAccountSID:    "AC1",
		TwilioAuthToken:     "tok",
		MediaBucket:         "relay-media",
	}
	if !cfg.TelegramEnabled() || !cfg.WhatsAppEnabled() {
		t.Fatalf("expected both channels enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.TwilioAuthToken = ""
	if cfg.WhatsAppEnabled() {
		t.Fatalf("expected whatsapp disabled without auth token")
	}
}
