package provider

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownProvider is matched by errors returned for a provider prefix that is not configured.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrEmptyModel is returned when a model string resolves to an empty model name.
	ErrEmptyModel = errors.New("model name is required")
)

// UnknownProviderError names the requested provider and what is available instead.
type UnknownProviderError struct {
	Name      string
	Available []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q is not configured; available providers: %s", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownProviderError) Is(target error) bool {
	return target == ErrUnknownProvider
}

// Registry holds the configured providers and resolves model strings to them.
type Registry struct {
	providers   map[string]*Provider
	names       []string
	defaultName string
}

// NewRegistry builds a registry. defaultName must name one of providers.
func NewRegistry(defaultName string, providers ...*Provider) (*Registry, error) {
	r := &Registry{
		providers:   make(map[string]*Provider, len(providers)),
		defaultName: strings.ToLower(defaultName),
	}
	for _, p := range providers {
		key := strings.ToLower(p.Name())
		if _, dup := r.providers[key]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		r.providers[key] = p
		r.names = append(r.names, key)
	}
	slices.Sort(r.names)

	if _, ok := r.providers[r.defaultName]; !ok {
		return nil, &UnknownProviderError{Name: defaultName, Available: r.Names()}
	}
	return r, nil
}

// Resolve maps a client model string to a provider and the upstream model name.
// "name:model" selects a provider by (case-insensitive) name; anything else uses the
// default provider. Provider aliases are expanded afterwards unless the model
// starts with "!".
func (r *Registry) Resolve(model string) (*Provider, string, error) {
	model, literal := strings.CutPrefix(model, "!")
	name := r.defaultName
	if prefix, rest, found := strings.Cut(model, ":"); found {
		name, model = strings.ToLower(prefix), rest
	}
	if literal {
		model = "!" + model
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, "", &UnknownProviderError{Name: name, Available: r.Names()}
	}

	resolved := p.ResolveAlias(model)
	if resolved == "" {
		return nil, "", ErrEmptyModel
	}
	return p, resolved, nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names returns the provider names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Default returns the default provider's name.
func (r *Registry) Default() string {
	return r.defaultName
}

// All returns the providers sorted by name.
func (r *Registry) All() []*Provider {
	out := make([]*Provider, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.providers[n])
	}
	return out
}
