package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAG.ChunkSize != 512 || cfg.RAG.Method != "semantic" {
		t.Errorf("defaults not applied: %+v", cfg.RAG)
	}
	if !cfg.EmbedLLM.Normalized() {
		t.Error("Normalized() = false by default, want true")
	}
	if cfg.Store.Kind != "flat" || cfg.Store.Metric != "l2" {
		t.Errorf("store defaults not applied: %+v", cfg.Store)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "rag:\n  chunk_size: 128\nembed_llm:\n  provider: ollama\n  normalize: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAG.ChunkSize != 128 {
		t.Errorf("ChunkSize = %d, want 128", cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap != 50 {
		t.Errorf("ChunkOverlap default lost: %d", cfg.RAG.ChunkOverlap)
	}
	if cfg.EmbedLLM.Provider != "ollama" {
		t.Errorf("Provider = %q", cfg.EmbedLLM.Provider)
	}
	if cfg.EmbedLLM.Normalized() {
		t.Error("Normalized() = true after explicit false")
	}
	if cfg.InferenceLLM.Model != "gpt-4o-mini" {
		t.Errorf("untouched section changed: %q", cfg.InferenceLLM.Model)
	}
}

func TestKeyEnv(t *testing.T) {
	t.Setenv("STUDY_RAG_TEST_KEY", "sk-test")
	c := LLMConfig{KeyEnv: "STUDY_RAG_TEST_KEY"}
	if got := c.Key(); got != "sk-test" {
		t.Errorf("Key() = %q", got)
	}
	c.KeyEnv = ""
	if got := c.Key(); got != "" {
		t.Errorf("Key() with empty KeyEnv = %q", got)
	}
}
