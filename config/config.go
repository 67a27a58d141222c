package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// EmbeddingConfig selects and tunes the embedding adapter.
type EmbeddingConfig struct {
	Provider      string `yaml:"provider,omitempty"`   // "ollama" or "openai"
	Model         string `yaml:"model,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`    // ollama host, or an OpenAI-compatible gateway
	APIKey        string `yaml:"api_key,omitempty"`     // required for openai
	Dimensions    int    `yaml:"dimensions,omitempty"`  // override for models outside the recognized table
	HTTPTimeoutMS int    `yaml:"http_timeout_ms,omitempty"`
	HTTPRetries   int    `yaml:"http_retries,omitempty"` // retries on safe-transient failures only
}

// BatcherConfig tunes the embedding batcher.
type BatcherConfig struct {
	Size      int `yaml:"size,omitempty"`
	TimeoutMS int `yaml:"timeout_ms,omitempty"`
}

// LinkerConfig tunes the auto-linker. Auto-linking is on by
// default; Disabled turns it off entirely.
type LinkerConfig struct {
	Disabled      bool    `yaml:"disabled,omitempty"`
	Threshold     float64 `yaml:"threshold,omitempty"`
	MaxCandidates int     `yaml:"max_candidates,omitempty"`
	MaxLinks      int     `yaml:"max_links,omitempty"`
}

// RecallConfig holds retrieval settings read from the config file.
// cortexd loads them but does not apply them: limit, threshold and
// graph expansion come from each recall call's own RecallOptions.
type RecallConfig struct {
	Limit       int     `yaml:"limit,omitempty"`
	Threshold   float64 `yaml:"threshold,omitempty"`
	ExpandGraph bool    `yaml:"expand_graph,omitempty"`
	GraphDepth  int     `yaml:"graph_depth,omitempty"`
}

// BackendConfig selects the storage backend.
type BackendConfig struct {
	Kind string `yaml:"kind,omitempty"` // "memory", "sqlite", or "postgres"
	DSN  string `yaml:"dsn,omitempty"`
}

// IndexerConfig selects ephemeral/durable indexing.
type IndexerConfig struct {
	Mode            string `yaml:"mode,omitempty"` // "ephemeral" or "durable"
	Workers         int    `yaml:"workers,omitempty"`
	RetrySweepCron  string `yaml:"retry_sweep_cron,omitempty"` // durable mode only
}

// ReflectTopic is one owner/topic pair the scheduler reflects on.
type ReflectTopic struct {
	AgentID string `yaml:"agent_id,omitempty"`
	Topic   string `yaml:"topic,omitempty"`
}

// ReflectConfig tunes the reflect orchestrator and its summarizer.
type ReflectConfig struct {
	Schedule        string         `yaml:"schedule,omitempty"` // cron expression, run via robfig/cron
	AnthropicAPIKey string         `yaml:"anthropic_api_key,omitempty"`
	Model           string         `yaml:"model,omitempty"`
	MaxTokens       int64          `yaml:"max_tokens,omitempty"`
	Topics          []ReflectTopic `yaml:"topics,omitempty"`
}

// Config is the daemon's full configuration surface.
type Config struct {
	Server struct {
		Socket string `yaml:"socket,omitempty"` // Unix socket path (default: /tmp/cortexd.sock)
		TCP    string `yaml:"tcp,omitempty"`     // TCP address, e.g. localhost:7443
	} `yaml:"server,omitempty"`

	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
	Batcher   BatcherConfig   `yaml:"batcher,omitempty"`
	Linker    LinkerConfig    `yaml:"linker,omitempty"`
	Recall    RecallConfig    `yaml:"recall,omitempty"`
	Backend   BackendConfig   `yaml:"backend,omitempty"`
	Indexer   IndexerConfig   `yaml:"indexer,omitempty"`
	Reflect   ReflectConfig   `yaml:"reflect,omitempty"`
}

// GetConfigPath returns the default config file path, expanding ~ to
// the home directory. Override via CORTEX_CONFIG_PATH.
func GetConfigPath() string {
	if envPath := os.Getenv("CORTEX_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.cortex/config.yaml"
	}
	return filepath.Join(homeDir, ".cortex", "config.yaml")
}

// expandPath expands a leading ~/ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func defaults() Config {
	var c Config
	c.Server.Socket = "/tmp/cortexd.sock"
	c.Embedding = EmbeddingConfig{
		Provider:      "ollama",
		Model:         "nomic-embed-text",
		BaseURL:       "http://localhost:11434",
		HTTPTimeoutMS: 30_000,
		HTTPRetries:   2,
	}
	c.Batcher = BatcherConfig{Size: 32, TimeoutMS: 50}
	c.Linker = LinkerConfig{Threshold: 0.75, MaxCandidates: 20, MaxLinks: 5}
	c.Recall = RecallConfig{Limit: 5, Threshold: 0.3, GraphDepth: 1}
	c.Backend = BackendConfig{Kind: "memory"}
	c.Indexer = IndexerConfig{Mode: "ephemeral", Workers: 4, RetrySweepCron: "*/5 * * * *"}
	c.Reflect = ReflectConfig{Schedule: "0 */6 * * *", Model: "claude-haiku-4-5", MaxTokens: 512}
	return c
}

// Load reads the config file at path (if present) and merges it onto
// defaults, with the file taking precedence, then applies environment
// overrides. A missing file is not an error; Load then returns the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		applyEnvOverrides(&cfg)
		return &cfg, nil
	}

	data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
	}

	if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets deploy-time secrets bypass the config file —
// api keys in particular should rarely live on disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORTEX_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CORTEX_BACKEND_DSN"); v != "" {
		cfg.Backend.DSN = v
	}
	if v := os.Getenv("CORTEX_ANTHROPIC_API_KEY"); v != "" {
		cfg.Reflect.AnthropicAPIKey = v
	}
}

// Save writes cfg to path, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
