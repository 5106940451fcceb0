package main

import (
	"os"
	"path/filepath"
	"testing"

	"kylo/internal/config"
)

func TestRunInitCreatesWorkspace(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.ProjectRoot = root

	if err := runInit(cfg); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, ".kylo")); err != nil {
		t.Errorf("expected .kylo directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "README.md")); err != nil {
		t.Errorf("expected README scaffold: %v", err)
	}
}

func TestNewOrchestratorWithoutWorkspace(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.ProjectRoot = root

	orchestrator, hist, err := newOrchestrator(cfg)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	if orchestrator == nil {
		t.Fatal("expected orchestrator")
	}
	// No .kylo directory yet, so trend recording stays off.
	if hist != nil {
		hist.Close()
		t.Error("expected nil history store before init")
	}
}

func TestNewOrchestratorAfterInit(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.ProjectRoot = root

	if err := runInit(cfg); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	orchestrator, hist, err := newOrchestrator(cfg)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	if orchestrator == nil {
		t.Fatal("expected orchestrator")
	}
	if hist == nil {
		t.Fatal("expected history store after init")
	}
	hist.Close()
}
