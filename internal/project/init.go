// Package project handles first-time setup of a kylo project directory.
package project

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"kylo/internal/audit"
	"kylo/internal/state"
)

const readmeTemplate = `# Project README

Please describe your project goals here. Kylo uses this document to align
audit results with project intent.
`

// Init idempotently creates the hidden project directory with an empty
// state document. An existing README is never overwritten; a missing one is
// scaffolded with a template the operator should fill in. A requirements.txt
// at the root is copied into the deps snapshot when present.
func Init(projectRoot string) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	depsDir := filepath.Join(root, state.DirName, "deps")
	if err := os.MkdirAll(depsDir, 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	readmePath := filepath.Join(root, "README.md")
	if _, err := os.Stat(readmePath); os.IsNotExist(err) {
		if err := os.WriteFile(readmePath, []byte(readmeTemplate), 0o644); err != nil {
			return fmt.Errorf("scaffold README: %w", err)
		}
		slog.Info("created README template; fill in project goals and re-run init", "path", readmePath)
	} else {
		slog.Info("found existing README", "path", readmePath)
	}

	if err := snapshotRequirements(root, depsDir); err != nil {
		slog.Warn("failed to snapshot requirements", "error", err)
	}

	store := state.NewStore(root)
	if err := store.Save(audit.NewProjectState()); err != nil {
		return fmt.Errorf("write initial state: %w", err)
	}
	slog.Info("initialized project state", "path", store.Path())
	return nil
}

func snapshotRequirements(root, depsDir string) error {
	src, err := os.Open(filepath.Join(root, "requirements.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(depsDir, "requirements.txt"))
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
