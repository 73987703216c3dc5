package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML. Secrets never
// live in the file: LLM sections name the environment variable holding their
// API key instead.
type Config struct {
	LogLevel     string      `yaml:"log_level"`
	EmbedLLM     EmbedConfig `yaml:"embed_llm"`
	InferenceLLM LLMConfig   `yaml:"inference_llm"`
	RAG          RAGConfig   `yaml:"rag"`
	Store        StoreConfig `yaml:"store"`
}

// LLMConfig points at one model behind one provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	KeyEnv      string  `yaml:"key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// Key resolves the API key from the configured environment variable.
func (c *LLMConfig) Key() string {
	if c.KeyEnv == "" {
		return ""
	}
	return os.Getenv(c.KeyEnv)
}

// EmbedConfig extends LLMConfig with embedding-specific knobs.
type EmbedConfig struct {
	LLMConfig `yaml:",inline"`
	Dimension int   `yaml:"dimension"`
	Normalize *bool `yaml:"normalize"`
	BatchSize int   `yaml:"batch_size"`
}

// Normalized reports the normalize flag, defaulting to true when unset.
func (c *EmbedConfig) Normalized() bool {
	return c.Normalize == nil || *c.Normalize
}

// RAGConfig drives chunking and retrieval.
type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Method       string `yaml:"method"`
	Encoding     string `yaml:"encoding"`
	TopK         int    `yaml:"top_k"`
}

// StoreConfig drives vector index construction and persistence.
type StoreConfig struct {
	Kind   string `yaml:"kind"`
	Metric string `yaml:"metric"`
	NList  int    `yaml:"nlist"`
	NProbe int    `yaml:"nprobe"`
	Dir    string `yaml:"dir"`
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults alone describe a working offline setup.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults mirror the service's stock setup: semantic 512/50 chunking with
// cl100k_base counts, top-5 retrieval, a flat L2 index and the offline
// embedding backend.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		EmbedLLM: EmbedConfig{
			LLMConfig: LLMConfig{Provider: "local"},
			Dimension: 768,
			BatchSize: 32,
		},
		InferenceLLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			KeyEnv:      "OPENAI_API_KEY",
			Temperature: 0.3,
			MaxTokens:   1000,
			TimeoutSecs: 60,
		},
		RAG: RAGConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
			Method:       "semantic",
			Encoding:     "cl100k_base",
			TopK:         5,
		},
		Store: StoreConfig{
			Kind:   "flat",
			Metric: "l2",
			NList:  100,
			NProbe: 4,
			Dir:    "indices",
		},
	}
}
