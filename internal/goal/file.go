package goal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const frontmatterSeparator = "---"

// FileStore persists one markdown file per scope: YAML frontmatter carries the
// goal metadata and history, the body is the active goal's description.
type FileStore struct {
	root string

	mu sync.Mutex
}

// NewFileStore creates a file-backed goal store rooted at dir. A leading "~/"
// resolves against the user's home directory.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create goals dir: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) path(scope string) string {
	return filepath.Join(s.root, scope+".md")
}

// Get reads the scope's goal file; a missing file yields an empty state.
func (s *FileStore) Get(_ context.Context, scope string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(scope)
}

// Update applies fn to the scope's state and writes the result atomically via
// temp file + rename. The store lock serializes overlapping updates.
func (s *FileStore) Update(_ context.Context, scope string, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read(scope)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}

	data, err := renderStateFile(st)
	if err != nil {
		return fmt.Errorf("render goal state %s: %w", scope, err)
	}
	dest := s.path(scope)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp goal state: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename goal state: %w", err)
	}
	return nil
}

func (s *FileStore) read(scope string) (*State, error) {
	data, err := os.ReadFile(s.path(scope))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read goal state %s: %w", scope, err)
	}
	return parseStateFile(data)
}

type historyEntry struct {
	Goal        `yaml:",inline"`
	Description string `yaml:"description"`
}

type stateFrontmatter struct {
	Active  *Goal          `yaml:"active,omitempty"`
	History []historyEntry `yaml:"history,omitempty"`
}

func renderStateFile(st *State) ([]byte, error) {
	fm := stateFrontmatter{Active: st.Active}
	for _, g := range st.History {
		fm.History = append(fm.History, historyEntry{Goal: g, Description: g.Description})
	}
	meta, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(frontmatterSeparator + "\n")
	b.Write(meta)
	b.WriteString(frontmatterSeparator + "\n")
	if st.Active != nil {
		b.WriteString("\n" + st.Active.Description + "\n")
	}
	return []byte(b.String()), nil
}

func parseStateFile(data []byte) (*State, error) {
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, frontmatterSeparator) {
		return nil, fmt.Errorf("goal file must start with YAML frontmatter (---)")
	}

	rest := content[len(frontmatterSeparator):]
	idx := strings.Index(rest, "\n"+frontmatterSeparator)
	if idx < 0 {
		return nil, fmt.Errorf("unterminated YAML frontmatter")
	}
	yamlBlock := strings.TrimSpace(rest[:idx])
	body := strings.TrimSpace(rest[idx+len("\n"+frontmatterSeparator):])

	var fm stateFrontmatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("parse YAML frontmatter: %w", err)
	}

	st := &State{Active: fm.Active}
	if st.Active != nil {
		st.Active.Description = body
	}
	for _, h := range fm.History {
		g := h.Goal
		g.Description = h.Description
		st.History = append(st.History, g)
	}
	return st, nil
}
