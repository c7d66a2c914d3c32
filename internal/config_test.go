package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestSemanticConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SemanticConfig)
		wantErr bool
	}{
		{"hash needs no model", func(c *SemanticConfig) { c.Model = "" }, false},
		{"unknown provider", func(c *SemanticConfig) { c.Provider = "word2vec" }, true},
		{"ollama without model", func(c *SemanticConfig) { c.Provider = "ollama" }, true},
		{"ollama with model", func(c *SemanticConfig) { c.Provider = "ollama"; c.Model = "nomic-embed-text" }, false},
		{"negative workers", func(c *SemanticConfig) { c.Workers = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg.Semantic)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSearchConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Search.DefaultLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero default limit should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Search.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero timeout should fail")
	}
}

func TestIndexConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Index.SnippetTokens = 100
	if err := cfg.Validate(); err == nil {
		t.Error("snippet window above 64 should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Index.CacheDir = "/tmp/ns"
	if got := cfg.Index.Path(); got != "/tmp/ns/fulltext.db" {
		t.Errorf("Path() = %q", got)
	}
}

func TestVaultConfig_NegativeModTimeCache(t *testing.T) {
	cfg := VaultConfig{Path: "./vault", ModTimeCache: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative mod_time_cache should fail validation")
	}
}
