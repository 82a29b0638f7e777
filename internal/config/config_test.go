package config

import (
	"strings"
	"testing"
	"time"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{"JWT_SECRET": "s3cret"}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DefaultAIProvider != "openai" {
		t.Errorf("DefaultAIProvider = %q, want openai", cfg.DefaultAIProvider)
	}
	if cfg.RelayMaxAttempts != 3 || cfg.RelayTimeout != 30*time.Second {
		t.Errorf("relay settings = %d/%v", cfg.RelayMaxAttempts, cfg.RelayTimeout)
	}
	if !cfg.InMemory() {
		t.Error("expected in-memory mode without DATABASE_URL")
	}
	if cfg.GraphAPIBase != "https://graph.facebook.com/v18.0" {
		t.Errorf("GraphAPIBase = %q", cfg.GraphAPIBase)
	}
}

func TestFromEnvProviderKeys(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"JWT_SECRET":        "x",
		"OPENAI_API_KEY":    "sk-1",
		"ANTHROPIC_API_KEY": "ak-2",
		"GRAPH_API_BASE":    "http://localhost:9000/",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.AIKeys["openai"] != "sk-1" || cfg.AIKeys["anthropic"] != "ak-2" {
		t.Errorf("AIKeys = %v", cfg.AIKeys)
	}
	if _, ok := cfg.AIKeys["groq"]; ok {
		t.Error("groq key should be absent")
	}
	if cfg.GraphAPIBase != "http://localhost:9000" {
		t.Errorf("trailing slash not trimmed: %q", cfg.GraphAPIBase)
	}
}

func TestFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"supabase without creds", map[string]string{"JWT_SECRET": "x", "DIRECTORY_BACKEND": "supabase"}, "SUPABASE_URL"},
		{"qdrant without url", map[string]string{"JWT_SECRET": "x", "KB_BACKEND": "qdrant"}, "QDRANT_URL"},
		{"unknown kb", map[string]string{"JWT_SECRET": "x", "KB_BACKEND": "pinecone"}, "KB_BACKEND"},
		{"zero attempts", map[string]string{"JWT_SECRET": "x", "RELAY_MAX_ATTEMPTS": "0"}, "RELAY_MAX_ATTEMPTS"},
		{"bad timeout", map[string]string{"JWT_SECRET": "x", "RELAY_TIMEOUT": "soon"}, "RELAY_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envOf(tt.env))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
