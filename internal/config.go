package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notesearch/internal/embedder"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	Index    IndexConfig       `yaml:"index"`
	Semantic SemanticConfig    `yaml:"semantic"`
	Search   SearchConfig      `yaml:"search"`
	Watch    WatchConfig       `yaml:"watch"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{&c.App, &c.Vault, &c.Index, &c.Semantic, &c.Search, &c.Watch} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
	// ModTimeCache reuses the vault's latest modification time between
	// staleness checks. The watcher drops it on every change.
	ModTimeCache time.Duration `yaml:"mod_time_cache"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.ModTimeCache, validation.Min(time.Duration(0))),
	)
}

// IndexConfig holds full-text index settings.
type IndexConfig struct {
	CacheDir       string `yaml:"cache_dir"`
	ProgressEvery  int    `yaml:"progress_every"`
	SnippetTokens  int    `yaml:"snippet_tokens"`
	HighlightOpen  string `yaml:"highlight_open"`
	HighlightClose string `yaml:"highlight_close"`
}

// Path returns the full-text database file.
func (c *IndexConfig) Path() string {
	return filepath.Join(c.CacheDir, "fulltext.db")
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CacheDir, validation.Required),
		validation.Field(&c.ProgressEvery, validation.Min(0)),
		validation.Field(&c.SnippetTokens, validation.Min(0), validation.Max(64)),
	)
}

// SemanticConfig holds embedding model and semantic index settings.
type SemanticConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Dimensions  int           `yaml:"dimensions"`
	CacheSize   int           `yaml:"cache_size"`
	Timeout     time.Duration `yaml:"timeout"`
	Workers     int           `yaml:"workers"`
	PersistPath string        `yaml:"persist_path"`
	AutoRebuild bool          `yaml:"auto_rebuild"`
}

// Validate validates the semantic configuration.
func (c *SemanticConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required,
			validation.In(embedder.ProviderHash, embedder.ProviderOllama, embedder.ProviderOpenAI)),
		validation.Field(&c.Model, validation.When(c.Provider != embedder.ProviderHash, validation.Required)),
		validation.Field(&c.Dimensions, validation.Min(0)),
		validation.Field(&c.CacheSize, validation.Min(0)),
		validation.Field(&c.Workers, validation.Min(0)),
	)
}

// Embedder converts the section into embedder settings.
func (c *SemanticConfig) Embedder() embedder.Config {
	return embedder.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Dimensions: c.Dimensions,
		CacheSize:  c.CacheSize,
		Timeout:    c.Timeout,
	}
}

// SearchConfig holds coordinator settings.
type SearchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Debounce     time.Duration `yaml:"debounce"`
	DefaultLimit int           `yaml:"default_limit"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1), validation.Max(500)),
	)
}

// WatchConfig controls the vault file watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:         "./vault",
			ModTimeCache: time.Second,
		},
		Index: IndexConfig{
			CacheDir:       "./.notesearch",
			ProgressEvery:  50,
			SnippetTokens:  20,
			HighlightOpen:  "**",
			HighlightClose: "**",
		},
		Semantic: SemanticConfig{
			Provider:    embedder.ProviderHash,
			Dimensions:  384,
			CacheSize:   1024,
			Timeout:     30 * time.Second,
			AutoRebuild: true,
		},
		Search: SearchConfig{
			Timeout:      2 * time.Second,
			Debounce:     150 * time.Millisecond,
			DefaultLimit: 20,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 2 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
