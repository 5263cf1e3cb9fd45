package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOICENOTE_CONFIG", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AUTH_TOKENS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.ConfidenceThreshold != 0.5 {
		t.Errorf("threshold: got %v, want 0.5", cfg.Pipeline.ConfidenceThreshold)
	}
	if cfg.Pipeline.MaxGenerations != 3 {
		t.Errorf("max generations: got %d, want 3", cfg.Pipeline.MaxGenerations)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("address: got %q", cfg.Server.Address)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "voicenote.yaml")
	body := `
server:
  address: ":9090"
pipeline:
  max_generations: 2
  content_budget: 10s
auth:
  tokens:
    file-token: alice
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICENOTE_CONFIG", path)
	t.Setenv("VOICENOTE_ADDR", ":7070")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AUTH_TOKENS", "env-token:bob")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("env should override file: got %q", cfg.Server.Address)
	}
	if cfg.Pipeline.MaxGenerations != 2 {
		t.Errorf("max generations: got %d, want 2", cfg.Pipeline.MaxGenerations)
	}
	if cfg.Pipeline.ContentBudget != 10*time.Second {
		t.Errorf("content budget: got %v", cfg.Pipeline.ContentBudget)
	}
	if cfg.Agent.APIKey != "sk-test" || cfg.Transcription.APIKey != "sk-test" {
		t.Errorf("OPENAI_API_KEY should populate both clients")
	}
	if cfg.Auth.Tokens["file-token"] != "alice" || cfg.Auth.Tokens["env-token"] != "bob" {
		t.Errorf("unexpected tokens: %v", cfg.Auth.Tokens)
	}
}

func TestParseTokens(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"single", "abc:u1", 1, false},
		{"multiple with spaces", " abc:u1 , def:u2 ", 2, false},
		{"trailing comma", "abc:u1,", 1, false},
		{"missing user", "abc:", 0, true},
		{"no separator", "abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTokens(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d tokens, want %d", len(got), tt.want)
			}
		})
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.ConfidenceThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for threshold > 1")
	}
}

func TestWriteTimeoutCoversRequestBudget(t *testing.T) {
	cfg := Default()
	if cfg.Server.WriteTimeout < cfg.RequestBudget() {
		t.Errorf("default write timeout %v shorter than request budget %v", cfg.Server.WriteTimeout, cfg.RequestBudget())
	}

	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "voicenote.yaml")
	body := `
server:
  write_timeout: 30s
agent:
  timeout: 2m
pipeline:
  content_budget: 1m
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICENOTE_CONFIG", path)
	t.Setenv("AUTH_TOKENS", "")

	loaded, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := loaded.Transcription.Timeout + 2*time.Minute + time.Minute + writeMargin
	if loaded.Server.WriteTimeout != want {
		t.Errorf("write timeout: got %v, want %v", loaded.Server.WriteTimeout, want)
	}
}
