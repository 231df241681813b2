package adapters

import "sort"

// Registry maps tool names to their normalizers. Tools are registered
// explicitly at startup; an unknown tool name is rejected rather than
// guessed at.
type Registry struct {
	byName map[string]Normalizer
}

func NewRegistry(ns ...Normalizer) *Registry {
	r := &Registry{byName: make(map[string]Normalizer, len(ns))}
	for _, n := range ns {
		r.Register(n)
	}
	return r
}

// DefaultRegistry returns a registry with all shipped normalizers.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewGitleaks(),
		NewTrivy(),
		NewSemgrep(),
		NewNuclei(),
	)
}

func (r *Registry) Register(n Normalizer) {
	r.byName[n.Tool()] = n
}

func (r *Registry) Lookup(tool string) (Normalizer, bool) {
	n, ok := r.byName[tool]
	return n, ok
}

// EmptyFor returns the minimal valid empty output for a registered
// tool, the stub written when a scanner binary is absent.
func (r *Registry) EmptyFor(tool string) ([]byte, bool) {
	n, ok := r.byName[tool]
	if !ok {
		return nil, false
	}
	return n.EmptyOutput(), true
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
