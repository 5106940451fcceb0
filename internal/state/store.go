package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kylo/internal/audit"
)

const (
	DirName  = ".kylo"
	FileName = "state.json"
)

// Store persists the full ProjectState as one JSON document under the
// project's hidden directory. The document is rewritten wholesale after
// every scan; no concurrent writers are assumed.
type Store struct {
	path string
}

func NewStore(projectRoot string) *Store {
	return &Store{path: filepath.Join(projectRoot, DirName, FileName)}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted state. A missing or unparsable file is treated as
// empty initial state, not an error; a full rescan repopulates it.
func (s *Store) Load() *audit.ProjectState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return audit.NewProjectState()
	}

	var st audit.ProjectState
	if err := json.Unmarshal(data, &st); err != nil {
		return audit.NewProjectState()
	}
	if st.Files == nil {
		st.Files = make(map[string]audit.ScanRecord)
	}
	return &st
}

// Save rewrites the state file wholesale. The write goes through a temp file
// in the same directory followed by a rename, so readers never observe a
// partial document.
func (s *Store) Save(st *audit.ProjectState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
