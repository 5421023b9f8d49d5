// Package config loads the relay configuration once at startup.
//
// Sources, lowest precedence first: Defaults, an optional JSON or YAML file
// (with ${VAR} and ${VAR:-default} expansion), then the environment
// variables TELEGRAM_BOT_TOKEN, OLLAMA_URL, OLLAMA_MODEL and
// LLMRELAY_LOG_LEVEL. .env files in the working directory are loaded into
// the environment first without overriding variables that are already set.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "LLMRELAY_CONFIG"
	EnvToken      = "TELEGRAM_BOT_TOKEN"
	EnvOllamaURL  = "OLLAMA_URL"
	EnvModel      = "OLLAMA_MODEL"
	EnvLogLevel   = "LLMRELAY_LOG_LEVEL"
)

// MinMessageLen is the smallest accepted telegram.maxMessageLen.
const MinMessageLen = 64

// envFiles are loaded in order; earlier files win since godotenv never overrides.
var envFiles = []string{".env.local", ".env"}

type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Ollama   OllamaConfig   `json:"ollama" yaml:"ollama"`
	Trigger  TriggerConfig  `json:"trigger" yaml:"trigger"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat             string `json:"logFormat" yaml:"logFormat"` // text | json
	MaxConcurrentMessages int    `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
	ShutdownGraceSeconds  int    `json:"shutdownGraceSeconds" yaml:"shutdownGraceSeconds"` // added to the Ollama timeout
}

type TelegramConfig struct {
	Token         string `json:"token" yaml:"token"`
	APIEndpoint   string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // self-hosted Bot API, e.g. http://localhost:8081/bot%s/%s
	ParseMode     string `json:"parseMode" yaml:"parseMode"`
	MaxMessageLen int    `json:"maxMessageLen" yaml:"maxMessageLen"`
}

type OllamaConfig struct {
	URL            string `json:"url" yaml:"url"` // full generate endpoint
	Model          string `json:"model" yaml:"model"`
	SystemPrompt   string `json:"systemPrompt" yaml:"systemPrompt"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	NoResponse     string `json:"noResponse" yaml:"noResponse"`
}

// Timeout is the per-request deadline.
func (o OllamaConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

type TriggerConfig struct {
	Prefixes []string `json:"prefixes" yaml:"prefixes"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// ShutdownTimeout is how long the host waits for in-flight dispatches.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.Ollama.Timeout() + time.Duration(c.General.ShutdownGraceSeconds)*time.Second
}

// Load resolves and validates the configuration. path may be empty, in
// which case only defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg, err := Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Resolve merges every source without validating the result.
func Resolve(path string) (*Config, error) {
	loadEnvFiles()

	cfg := Defaults()
	if path != "" {
		if err := decodeFile(ExpandPath(path), cfg); err != nil {
			return nil, err
		}
	}
	ApplyEnv(cfg)
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	data = []byte(ExpandEnvVars(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return nil
}

func loadEnvFiles() {
	for _, f := range envFiles {
		// Missing files are fine; existing variables are never overridden.
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overlays the well-known environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOllamaURL)); v != "" {
		cfg.Ollama.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModel)); v != "" {
		cfg.Ollama.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.General.LogLevel = strings.ToLower(v)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with its value. ${VAR:-default} falls back to
// default when VAR is unset or empty; an unset ${VAR} without default is kept.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		def, hasDefault := groups[2], strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// Validate reports every problem at once so the process can fail fast.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, "telegram.token is required (or set "+EnvToken+")")
	}
	if cfg.Ollama.URL == "" {
		errs = append(errs, "ollama.url is required (or set "+EnvOllamaURL+")")
	} else if u, err := url.Parse(cfg.Ollama.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "ollama.url must be an http(s) URL")
	}
	if strings.TrimSpace(cfg.Ollama.Model) == "" {
		errs = append(errs, "ollama.model is required (or set "+EnvModel+")")
	}
	if cfg.Ollama.TimeoutSeconds < 1 || cfg.Ollama.TimeoutSeconds > 3600 {
		errs = append(errs, "ollama.timeoutSeconds must be between 1 and 3600")
	}

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.ShutdownGraceSeconds < 0 {
		errs = append(errs, "general.shutdownGraceSeconds must be >= 0")
	}
	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	switch cfg.Telegram.ParseMode {
	case "Markdown", "MarkdownV2", "HTML":
	default:
		errs = append(errs, "telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}
	if n := cfg.Telegram.MaxMessageLen; n != 0 && (n < MinMessageLen || n > 4096) {
		errs = append(errs, fmt.Sprintf("telegram.maxMessageLen must be 0 (default) or between %d and 4096", MinMessageLen))
	}
	if ep := cfg.Telegram.APIEndpoint; ep != "" && strings.Count(ep, "%s") != 2 {
		errs = append(errs, "telegram.apiEndpoint must contain two %s placeholders (token, method)")
	}

	usable := 0
	for _, p := range cfg.Trigger.Prefixes {
		if strings.TrimSpace(p) != "" {
			usable++
		}
	}
	if usable == 0 {
		errs = append(errs, "trigger.prefixes must contain at least one non-blank prefix")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			errs = append(errs, "metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy of cfg that is safe to print.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Trigger.Prefixes = append([]string(nil), cfg.Trigger.Prefixes...)
	out.Telegram.Token = maskSecret(cfg.Telegram.Token)
	return &out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
