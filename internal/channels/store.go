// Package channels persists the active-channel allow-list as a flat
// newline-delimited file: additions append a line, removals rewrite the
// file in full.
package channels

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type Store struct {
	mu   sync.Mutex
	path string
	ids  map[string]struct{}
}

// Open loads the allow-list at path. A missing file is an empty list,
// not an error.
func Open(path string) (*Store, error) {
	store := &Store{path: path, ids: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read channel list: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			store.ids[line] = struct{}{}
		}
	}

	return store, nil
}

// Contains reports whether the channel is on the allow-list.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.ids[id]
	return ok
}

// Toggle flips the channel's membership and persists the change. The
// returned flag is the channel's new state.
func (s *Store) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false, s.rewrite()
	}

	s.ids[id] = struct{}{}
	return true, s.appendLine(id)
}

// List returns the allow-listed channel IDs in sorted order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}

func (s *Store) appendLine(id string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("append channel: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append channel: %w", err)
	}

	return nil
}

func (s *Store) rewrite() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	var builder strings.Builder
	for id := range s.ids {
		builder.WriteString(id)
		builder.WriteByte('\n')
	}

	if err := os.WriteFile(s.path, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("rewrite channel list: %w", err)
	}

	return nil
}
