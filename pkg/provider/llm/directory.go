package llm

import (
	"fmt"
	"sync"
)

// Builder constructs a Provider for a specific model. An empty model string
// asks for the backend's configured default.
type Builder func(model string) (Provider, error)

// Directory resolves an agent's provider label (and optional per-agent model
// override) to a ready Provider. Constructed providers are cached per
// (label, model) pair so repeated ticks reuse clients.
//
// Directory is safe for concurrent use.
type Directory struct {
	mu       sync.Mutex
	builders map[string]Builder
	cache    map[string]Provider
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		builders: make(map[string]Builder),
		cache:    make(map[string]Provider),
	}
}

// Register associates a provider label with its builder. Registering the same
// label twice replaces the previous builder.
func (d *Directory) Register(label string, b Builder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builders[label] = b
}

// Labels returns the registered provider labels.
func (d *Directory) Labels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	labels := make([]string, 0, len(d.builders))
	for l := range d.builders {
		labels = append(labels, l)
	}
	return labels
}

// For returns a Provider for the given label and model override. It returns
// an error when no builder is registered for the label or when construction
// fails; callers treat either as "no LLM available for this agent".
func (d *Directory) For(label, model string) (Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := label + "/" + model
	if p, ok := d.cache[key]; ok {
		return p, nil
	}

	b, ok := d.builders[label]
	if !ok {
		return nil, fmt.Errorf("llm: no provider registered for label %q", label)
	}
	p, err := b(model)
	if err != nil {
		return nil, fmt.Errorf("llm: build provider %q: %w", label, err)
	}
	d.cache[key] = p
	return p, nil
}
