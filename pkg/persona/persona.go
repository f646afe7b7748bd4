// Package persona loads YAML-defined bot personalities. A persona bundles a
// system prompt with optional sampling overrides, so a deployment can change
// the bot's voice without touching code or the main config file.
//
// Persona directories searched (in order):
//  1. ./personas/         (relative to working directory)
//  2. ~/.pingpal/personas/
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pingpal-io/pingpal/pkg/providers"
)

// Persona is the YAML schema for one bot personality.
type Persona struct {
	// Identity
	Name        string `yaml:"name"` // machine identifier (slug)
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`

	// The system turn installed at the head of every conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// Optional sampling overrides; zero values leave the config untouched.
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	// Set by the loader, not in YAML.
	SourceFile string `yaml:"-"`
}

// Apply overlays the persona's sampling overrides on opts.
func (p *Persona) Apply(opts providers.Options) providers.Options {
	if p.Model != "" {
		opts.Model = p.Model
	}
	if p.Temperature != nil {
		opts.Temperature = *p.Temperature
	}
	if p.MaxTokens > 0 {
		opts.MaxTokens = p.MaxTokens
	}
	return opts
}

// Registry is a thread-safe store of loaded personas.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]*Persona
}

func NewRegistry() *Registry {
	return &Registry{personas: make(map[string]*Persona)}
}

// Load reads all *.yaml files from dir and registers them. Errors in
// individual files don't abort loading.
func (r *Registry) Load(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("cannot read persona dir %s: %w", dir, err)}
	}

	loaded := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := LoadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", e.Name(), err))
			continue
		}
		r.Register(p)
		loaded++
	}
	return loaded, errs
}

// LoadFile parses a single YAML persona file.
func LoadFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("persona at %s has no 'name' field", path)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return nil, fmt.Errorf("persona '%s' has no 'system_prompt' field", p.Name)
	}
	p.SourceFile = path
	return &p, nil
}

// Register adds or replaces a persona in the registry.
func (r *Registry) Register(p *Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.Name] = p
}

// Get retrieves a persona by name.
func (r *Registry) Get(name string) (*Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[name]
	return p, ok
}

// List returns all registered personas, sorted by name.
func (r *Registry) List() []*Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered personas.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.personas)
}

// LoadDefaults loads personas from all standard locations. Missing
// directories are skipped silently; parse failures come back as warnings.
func (r *Registry) LoadDefaults() (int, []string) {
	dirs := []string{
		"personas",
		filepath.Join(os.Getenv("HOME"), ".pingpal", "personas"),
	}

	total := 0
	var warnings []string
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		n, errs := r.Load(dir)
		total += n
		for _, e := range errs {
			warnings = append(warnings, e.Error())
		}
	}
	return total, warnings
}
