package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "chatgate.toml"

// CuratedModel is one catalog entry the deployer pins in configuration
// instead of discovering over the network.
type CuratedModel struct {
	ID            string `toml:"id" json:"id"`
	DisplayName   string `toml:"name" json:"name"`
	Tag           string `toml:"tag,omitempty" json:"tag,omitempty"`
	SupportsImage bool   `toml:"supports_image,omitempty" json:"supports_image,omitempty"`
}

// CatalogConfig holds the curated model lists plus the filter rules applied
// to the live Gemini listing. The rules are deployment policy, not code.
type CatalogConfig struct {
	AllowPatterns []string       `toml:"allow_patterns"`
	DenyPatterns  []string       `toml:"deny_patterns"`
	LiveTag       string         `toml:"live_tag,omitempty"`
	CacheSeconds  int            `toml:"cache_seconds,omitempty"`
	Curated       []CuratedModel `toml:"curated"`
	Extended      []CuratedModel `toml:"extended"`
}

type GeminiConfig struct {
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

type WorkersAIConfig struct {
	AccountID string `toml:"account_id,omitempty"`
	APIToken  string `toml:"api_token,omitempty"`
	BaseURL   string `toml:"base_url,omitempty"`
}

type OpenAICompatConfig struct {
	BaseURL string `toml:"base_url,omitempty"`
	APIKey  string `toml:"api_key,omitempty"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain,omitempty"`
	Email    string `toml:"email,omitempty"`
	CacheDir string `toml:"cache_dir,omitempty"`
}

type GatewayConfig struct {
	ListenAddr            string             `toml:"listen_addr"`
	LogLevel              string             `toml:"log_level"`
	DailyLimit            int                `toml:"daily_limit"`
	DatabasePath          string             `toml:"database_path"`
	RequestTimeoutSeconds int                `toml:"request_timeout_seconds"`
	AIProxy               string             `toml:"ai_proxy,omitempty"`
	Gemini                GeminiConfig       `toml:"gemini"`
	WorkersAI             WorkersAIConfig    `toml:"workers_ai"`
	OpenAICompat          OpenAICompatConfig `toml:"openai_compat"`
	Catalog               CatalogConfig      `toml:"catalog"`
	TLS                   TLSConfig          `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "chatgate", defaultConfigFileName)
}

func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatgate.db"
	}
	return filepath.Join(home, ".local", "share", "chatgate", "chatgate.db")
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "chatgate", "tls-autocert")
}

func NewDefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		ListenAddr:            "127.0.0.1:8788",
		LogLevel:              "info",
		DailyLimit:            20,
		DatabasePath:          DefaultDatabasePath(),
		RequestTimeoutSeconds: 30,
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
		},
		WorkersAI: WorkersAIConfig{
			BaseURL: "https://api.cloudflare.com",
		},
		Catalog: CatalogConfig{
			AllowPatterns: []string{"flash"},
			DenyPatterns:  []string{"pro", "lite", "vision"},
			LiveTag:       "recommended",
			Curated:       defaultCuratedModels(),
			Extended:      defaultExtendedModels(),
		},
		TLS: TLSConfig{
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

// defaultCuratedModels is the minimal self-hosted set advertised on every
// catalog request.
func defaultCuratedModels() []CuratedModel {
	return []CuratedModel{
		{ID: "@cf/meta/llama-3.1-8b-instruct", DisplayName: "Llama 3.1 8B", Tag: "fast"},
		{ID: "@cf/deepseek-ai/deepseek-r1-distill-qwen-32b", DisplayName: "DeepSeek R1", Tag: "recommended"},
		{ID: "@cf/qwen/qwen2.5-7b-instruct", DisplayName: "Qwen 2.5 7B", Tag: "light"},
		{ID: "@cf/google/gemma-2-9b-it", DisplayName: "Gemma 2 9B", Tag: "fast"},
		{ID: "@cf/microsoft/phi-2", DisplayName: "Phi-2", Tag: "light"},
	}
}

// defaultExtendedModels is the longer tail returned only when the caller asks
// for the extended catalog.
func defaultExtendedModels() []CuratedModel {
	return []CuratedModel{
		{ID: "@cf/meta/llama-2-7b-chat-fp16", DisplayName: "Llama 2 7B", Tag: "classic"},
		{ID: "@cf/mistralai/mistral-7b-instruct-v0.1", DisplayName: "Mistral 7B", Tag: "stable"},
		{ID: "@cf/tiiuae/falcon-7b-instruct", DisplayName: "Falcon 7B", Tag: "classic"},
		{ID: "@cf/tinyllama/tinyllama-1.1b-chat-v1.0", DisplayName: "TinyLlama", Tag: "fast"},
		{ID: "@cf/qwen/qwen1.5-0.5b-chat", DisplayName: "Qwen 0.5B", Tag: "tiny"},
		{ID: "@cf/baichuan-inc/baichuan-7b-chat", DisplayName: "Baichuan 7B", Tag: "stable"},
		{ID: "@cf/defog/sql-coder-7b-v2", DisplayName: "SQL Coder", Tag: "tools"},
		{ID: "@cf/openchat/openchat-3.5-0106", DisplayName: "OpenChat 3.5", Tag: "stable"},
	}
}

func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	cfg := NewDefaultGatewayConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreateGatewayConfig loads path, writing the default config there
// first when the file does not exist yet.
func LoadOrCreateGatewayConfig(path string) (*GatewayConfig, error) {
	cfg := NewDefaultGatewayConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetArraysMultiline(true)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

// Normalize trims fields, fills defaults, and applies environment overrides
// for deployment secrets so keys never have to live in the config file.
func (c *GatewayConfig) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = ":8788"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DatabasePath = strings.TrimSpace(c.DatabasePath); c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath()
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 30
	}
	c.AIProxy = strings.TrimSpace(c.AIProxy)

	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	c.Gemini.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gemini.BaseURL), "/")
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	c.WorkersAI.AccountID = strings.TrimSpace(c.WorkersAI.AccountID)
	c.WorkersAI.APIToken = strings.TrimSpace(c.WorkersAI.APIToken)
	c.WorkersAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.WorkersAI.BaseURL), "/")
	if c.WorkersAI.BaseURL == "" {
		c.WorkersAI.BaseURL = "https://api.cloudflare.com"
	}
	c.OpenAICompat.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAICompat.BaseURL), "/")
	c.OpenAICompat.APIKey = strings.TrimSpace(c.OpenAICompat.APIKey)

	if c.Catalog.LiveTag = strings.TrimSpace(c.Catalog.LiveTag); c.Catalog.LiveTag == "" {
		c.Catalog.LiveTag = "recommended"
	}
	if c.Catalog.CacheSeconds < 0 {
		c.Catalog.CacheSeconds = 0
	}
	if c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir); c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}

	c.applyEnvOverrides()
}

func (c *GatewayConfig) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		c.Gemini.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CF_ACCOUNT_ID")); v != "" {
		c.WorkersAI.AccountID = v
	}
	if v := strings.TrimSpace(os.Getenv("CF_API_TOKEN")); v != "" {
		c.WorkersAI.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.OpenAICompat.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AI_PROXY")); v != "" {
		c.AIProxy = v
	}
	if v := strings.TrimSpace(os.Getenv("DAILY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.DailyLimit = n
		}
	}
}

func (c *GatewayConfig) Validate() error {
	if c.DailyLimit < 0 {
		return errors.New("daily_limit must be >= 0")
	}
	if _, err := c.Catalog.CompilePatterns(); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for _, m := range append(append([]CuratedModel{}, c.Catalog.Curated...), c.Catalog.Extended...) {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return errors.New("curated model id cannot be empty")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate curated model id %q", id)
		}
		seen[id] = struct{}{}
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.Domain) == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}

// FilterRules is the compiled form of the catalog allow/deny patterns.
type FilterRules struct {
	Allow []*regexp.Regexp
	Deny  []*regexp.Regexp
}

// Keep reports whether a model identifier passes the rule set: it must match
// at least one allow pattern and no deny pattern. Matching is
// case-insensitive on the full identifier.
func (r FilterRules) Keep(id string) bool {
	id = strings.ToLower(id)
	allowed := len(r.Allow) == 0
	for _, re := range r.Allow {
		if re.MatchString(id) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	for _, re := range r.Deny {
		if re.MatchString(id) {
			return false
		}
	}
	return true
}

func (c CatalogConfig) CompilePatterns() (FilterRules, error) {
	compile := func(kind string, patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("catalog %s pattern %q: %w", kind, p, err)
			}
			out = append(out, re)
		}
		return out, nil
	}
	allow, err := compile("allow", c.AllowPatterns)
	if err != nil {
		return FilterRules{}, err
	}
	deny, err := compile("deny", c.DenyPatterns)
	if err != nil {
		return FilterRules{}, err
	}
	return FilterRules{Allow: allow, Deny: deny}, nil
}
