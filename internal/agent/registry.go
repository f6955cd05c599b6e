package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrAgentNotFound is returned when no definition exists for an agent id.
var ErrAgentNotFound = errors.New("agent not found")

// Registry resolves agent ids to definitions, loading YAML files from a
// directory on demand and caching them.
type Registry struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*Agent
}

// NewRegistry creates a Registry over dir. Definitions live in <dir>/<id>.yaml.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		cache: make(map[string]*Agent),
	}
}

// Resolve returns the agent definition for id, loading it on first use.
func (r *Registry) Resolve(id string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.cache[id]; ok {
		return a, nil
	}

	path := filepath.Join(r.dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return nil, fmt.Errorf("read agent definition %s: %w", path, err)
	}

	a := &Agent{}
	if err := yaml.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("parse agent definition %s: %w", path, err)
	}
	if a.ID == "" {
		a.ID = id
	}
	if a.ID != id {
		return nil, fmt.Errorf("agent definition %s declares id %q", path, a.ID)
	}

	r.cache[id] = a
	return a, nil
}

// Register adds or replaces a definition directly, bypassing the directory.
// Useful for built-in agents and tests.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[a.ID] = a
}

// List returns the ids of every definition file in the registry directory
// plus any directly registered agents.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]bool)
	for id := range r.cache {
		ids[id] = true
	}

	if r.dir != "" {
		entries, err := os.ReadDir(r.dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("list agent definitions: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if filepath.Ext(name) == ".yaml" {
				ids[name[:len(name)-len(".yaml")]] = true
			}
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}
