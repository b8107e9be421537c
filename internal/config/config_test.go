package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callbridge", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth: AuthConfig{
			JWTSecret:       "secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Telnyx: TelnyxConfig{
			APIKey:        "key",
			APIBaseURL:    "https://api.telnyx.com/v2",
			ConnectionID:  "conn-1",
			FromNumber:    "+15550001111",
			WebhookURL:    "https://api.example.com/v1/telnyx/webhook",
			StreamBaseURL: "wss://api.example.com",
		},
		Storage: StorageConfig{BaseURL: "https://storage.example.com", ServiceKey: "svc", Bucket: "voice-audio"},
		Preload: PreloadConfig{MaxAge: 30 * time.Minute, MaxDownloads: 5},
		Media:   MediaConfig{FrameDuration: 200 * time.Millisecond, SessionTTL: 2 * time.Hour, MaxConcurrentCalls: 3},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	c.DB.SSLMode = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_StreamBaseURLMustBeWebSocket(t *testing.T) {
	c := validConfig()
	c.Telnyx.StreamBaseURL = "https://api.example.com"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "STREAM_BASE_URL") {
		t.Fatalf("expected STREAM_BASE_URL error, got %v", err)
	}
}

func TestValidate_RequiresProviderCredentials(t *testing.T) {
	c := validConfig()
	c.Telnyx.APIKey = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing TELNYX_API_KEY")
	}
}
