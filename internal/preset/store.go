package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store supplies named presets and remembers the last-used preset name.
type Store interface {
	Presets() ([]FanPreset, error)
	Find(name string) (FanPreset, bool, error)
	Save(p FanPreset) error
	Delete(name string) error
	LastUsed() (string, error)
	SetLastUsed(name string) error
}

// fileStore persists custom presets and the last-used name as one JSON
// file. Built-in presets are merged in at read time and never written.
type fileStore struct {
	mu   sync.Mutex
	path string
}

type storeFile struct {
	LastUsed string      `json:"LastUsed"`
	Presets  []FanPreset `json:"Presets"`
}

// NewFileStore creates a JSON-file preset store at the given path.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

func (s *fileStore) load() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &storeFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preset store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse preset store: %w", err)
	}
	return &f, nil
}

func (s *fileStore) save(f *storeFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preset store: %w", err)
	}
	return nil
}

// Presets returns built-ins followed by custom presets, custom ones
// shadowing a built-in of the same name.
func (s *fileStore) Presets() ([]FanPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]FanPreset)
	for _, p := range BuiltIn() {
		byName[strings.ToLower(p.Name)] = p
	}
	for _, p := range f.Presets {
		p.IsBuiltIn = false
		byName[strings.ToLower(p.Name)] = p
	}

	out := make([]FanPreset, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fileStore) Find(name string) (FanPreset, bool, error) {
	presets, err := s.Presets()
	if err != nil {
		return FanPreset{}, false, err
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p, true, nil
		}
	}
	return FanPreset{}, false, nil
}

func (s *fileStore) Save(p FanPreset) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	p.IsBuiltIn = false
	replaced := false
	for i, existing := range f.Presets {
		if strings.EqualFold(existing.Name, p.Name) {
			f.Presets[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		f.Presets = append(f.Presets, p)
	}

	return s.save(f)
}

func (s *fileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	kept := f.Presets[:0]
	for _, p := range f.Presets {
		if !strings.EqualFold(p.Name, name) {
			kept = append(kept, p)
		}
	}
	f.Presets = kept
	return s.save(f)
}

func (s *fileStore) LastUsed() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", err
	}
	return f.LastUsed, nil
}

func (s *fileStore) SetLastUsed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	f.LastUsed = name
	return s.save(f)
}
