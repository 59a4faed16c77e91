package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Checkpoint.Backend != BackendSQLite {
		t.Errorf("Checkpoint.Backend = %q, want sqlite", cfg.Checkpoint.Backend)
	}
	if cfg.Model.Provider != ProviderEcho {
		t.Errorf("Model.Provider = %q, want echo", cfg.Model.Provider)
	}
	if cfg.CompressionThreshold != 3 {
		t.Errorf("CompressionThreshold = %d, want 3", cfg.CompressionThreshold)
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
}

func TestLoadFileFallbackAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatd.yaml")
	content := strings.Join([]string{
		"PORT: 9090",
		"model_provider: gemini",
		"MODEL_API_KEY: from-file",
		"COMPRESSION_THRESHOLD: 5",
		"TRANSCRIPT_LOG_ENABLED: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("env should win over file: Port = %q", cfg.Port)
	}
	if cfg.Model.Provider != ProviderGemini {
		t.Errorf("Model.Provider = %q, want gemini", cfg.Model.Provider)
	}
	if cfg.Model.APIKey != "from-file" {
		t.Errorf("Model.APIKey = %q", cfg.Model.APIKey)
	}
	if cfg.Model.APIBase == "" || !strings.Contains(cfg.Model.APIBase, "generativelanguage") {
		t.Errorf("expected gemini default API base, got %q", cfg.Model.APIBase)
	}
	if cfg.CompressionThreshold != 5 {
		t.Errorf("CompressionThreshold = %d, want 5", cfg.CompressionThreshold)
	}
	if !cfg.Transcript.FileLogEnabled {
		t.Error("expected transcript file log to be enabled from file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"CHECKPOINT_BACKEND": "etcd"}, "CHECKPOINT_BACKEND"},
		{"postgres without url", map[string]string{"CHECKPOINT_BACKEND": "postgres"}, "POSTGRES_URL"},
		{"openai without key", map[string]string{"MODEL_PROVIDER": "openai"}, "MODEL_API_KEY"},
		{"unknown provider", map[string]string{"MODEL_PROVIDER": "llama"}, "MODEL_PROVIDER"},
		{"zero threshold", map[string]string{"COMPRESSION_THRESHOLD": "0"}, "COMPRESSION_THRESHOLD"},
		{"negative ttl", map[string]string{"SESSION_TTL": "-1h"}, "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	if !(&Config{}).IsDevelopment() {
		t.Error("empty frontend URL should be development")
	}
	if !(&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment() {
		t.Error("localhost frontend should be development")
	}
	if (&Config{FrontendURL: "https://chat.example.com"}).IsDevelopment() {
		t.Error("public frontend should not be development")
	}
}
