package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: first
`)

	reloads := make(chan *Config, 4)
	w, err := Watch(context.Background(), path, nil, func(cfg *Config) { reloads <- cfg })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("llm:\n  model: second\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := waitForReload(t, reloads)
	if cfg.LLM.Model != "second" {
		t.Fatalf("Model = %q, want %q", cfg.LLM.Model, "second")
	}
}

func TestWatchKeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: first
`)

	reloads := make(chan *Config, 4)
	w, err := Watch(context.Background(), path, nil, func(cfg *Config) { reloads <- cfg })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	// A write that fails validation must not reach the callback.
	if err := os.WriteFile(path, []byte("policy:\n  max_risk: bogus\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	time.Sleep(2 * watchDebounce)
	select {
	case cfg := <-reloads:
		t.Fatalf("invalid config was delivered: %+v", cfg.Policy)
	default:
	}

	if err := os.WriteFile(path, []byte("llm:\n  model: third\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg := waitForReload(t, reloads)
	if cfg.LLM.Model != "third" {
		t.Fatalf("Model = %q, want %q", cfg.LLM.Model, "third")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: first
`)

	reloads := make(chan *Config, 4)
	w, err := Watch(context.Background(), path, nil, func(cfg *Config) { reloads <- cfg })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	sibling := path + ".bak"
	if err := os.WriteFile(sibling, []byte("llm:\n  model: other\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	time.Sleep(2 * watchDebounce)
	select {
	case cfg := <-reloads:
		t.Fatalf("sibling write triggered reload: %+v", cfg.LLM)
	default:
	}
}

func waitForReload(t *testing.T, reloads <-chan *Config) *Config {
	t.Helper()
	select {
	case cfg := <-reloads:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
		return nil
	}
}
