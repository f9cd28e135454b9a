package config

import (
	"testing"
	"time"
)

func baseConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "engine", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := baseConfig("production")
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := baseConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_ProductionRequiresProviderConfig(t *testing.T) {
	c := baseConfig("production")
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "engine"
	c.Auth.JWTAudience = "engine-api"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without provider credentials")
	}

	c.Twilio = TwilioConfig{AccountSID: "AC123", AuthToken: "tok"}
	c.Engine.PublicBaseURL = "https://engine.example.com"
	c.Engine.DefaultCallerID = "+15550009999"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_EngineDefaults(t *testing.T) {
	c := baseConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.Engine.LockTTL != 10*time.Second {
		t.Fatalf("LockTTL default = %v", c.Engine.LockTTL)
	}
	if c.Engine.EvictInterval != 15*time.Second {
		t.Fatalf("EvictInterval default = %v", c.Engine.EvictInterval)
	}
	if c.Engine.CallbackInterval != 30*time.Second {
		t.Fatalf("CallbackInterval default = %v", c.Engine.CallbackInterval)
	}
}

func TestValidate_SlackChannelRequiredWithToken(t *testing.T) {
	c := baseConfig("local")
	c.Slack.Token = "xoxb-123"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for slack token without channel")
	}
	c.Slack.Channel = "#call-center-alerts"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
