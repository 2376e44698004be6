package institution

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var builtin embed.FS

// Registry holds institution definitions by key. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Default returns a registry holding the built-in definitions.
func Default() (*Registry, error) {
	r := NewRegistry()
	if err := r.loadFS(builtin, "definitions"); err != nil {
		return nil, err
	}
	return r, nil
}

// Add validates d and stores it, replacing any definition with the same key.
func (r *Registry) Add(d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Key] = d
	return nil
}

func (r *Registry) Get(key string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstitution, key)
	}
	return d, nil
}

// List returns the definitions ordered by key.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// TextPositionTables returns the tables whose position column holds text.
func (r *Registry) TextPositionTables() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tables := make(map[string]bool)
	for _, d := range r.defs {
		if d.Sink.Position == PositionText {
			tables[d.Table] = true
		}
	}
	return tables
}

// Load adds the definitions in path, a YAML file or a directory of them.
// A file may hold several documents separated by "---".
func (r *Registry) Load(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat definitions %s: %w", path, err)
	}
	if info.IsDir() {
		return r.loadFS(os.DirFS(path), ".")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read definitions %s: %w", path, err)
	}
	return r.add(path, data)
}

func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		name := e.Name()
		if dir != "." {
			name = dir + "/" + name
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read definitions %s: %w", name, err)
		}
		if err := r.add(name, data); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) add(name string, data []byte) error {
	defs, err := Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	for _, d := range defs {
		if err := r.Add(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Parse decodes every YAML document in data. Unknown keys are rejected.
func Parse(data []byte) ([]*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []*Definition
	for {
		d := &Definition{}
		err := dec.Decode(d)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}
