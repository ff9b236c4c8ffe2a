package modelspec

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Family groups models by capability tier.
type Family string

const (
	FamilyOpus   Family = "opus"
	FamilySonnet Family = "sonnet"
	FamilyHaiku  Family = "haiku"
)

// Capabilities describes the hard limits of a model.
type Capabilities struct {
	ContextLimit         int64
	ExtendedContextLimit int64
	MaxOutputTokens      int64
	Vision               bool
	ExtendedThinking     bool
}

// Spec describes one model and its per-provider identifiers.
type Spec struct {
	ID           string
	Family       Family
	Capabilities Capabilities
	// ProviderIDs maps a provider key ("anthropic", "bedrock", "vertex") to
	// the identifier that provider expects. Falls back to ID when absent.
	ProviderIDs map[string]string
}

// ProviderID resolves the model identifier for a provider key.
func (s Spec) ProviderID(provider string) string {
	if id, ok := s.ProviderIDs[provider]; ok && id != "" {
		return id
	}
	return s.ID
}

// Registry resolves short aliases, full IDs and family substrings to specs.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Spec
	aliases map[string]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]Spec{}, aliases: map[string]string{}}
}

// Register adds or replaces a spec and optional aliases.
func (r *Registry) Register(spec Spec, aliases ...string) error {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return fmt.Errorf("modelspec: empty model id")
	}
	spec.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = spec
	for _, alias := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias != "" {
			r.aliases[alias] = id
		}
	}
	return nil
}

// Resolve finds a spec by alias, exact ID, or family substring, in that
// order. Substring fallback picks the lexicographically newest match so
// "sonnet" resolves to the latest sonnet snapshot.
func (r *Registry) Resolve(name string) (Spec, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Spec{}, fmt.Errorf("modelspec: empty model name")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.aliases[needle]; ok {
		if spec, ok := r.byID[id]; ok {
			return spec, nil
		}
	}
	if spec, ok := r.byID[needle]; ok {
		return spec, nil
	}

	var candidates []string
	for id := range r.byID {
		if strings.Contains(strings.ToLower(id), needle) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return Spec{}, fmt.Errorf("modelspec: unknown model %q", name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))
	return r.byID[candidates[0]], nil
}

// List returns all registered specs sorted by ID.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.byID))
	for _, spec := range r.byID {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultRegistry returns a registry seeded with the bundled catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	seed := []struct {
		spec    Spec
		aliases []string
	}{
		{
			spec: Spec{
				ID:     "claude-opus-4-5-20251101",
				Family: FamilyOpus,
				Capabilities: Capabilities{
					ContextLimit:         200_000,
					ExtendedContextLimit: 1_000_000,
					MaxOutputTokens:      64_000,
					Vision:               true,
					ExtendedThinking:     true,
				},
				ProviderIDs: map[string]string{
					"bedrock": "us.anthropic.claude-opus-4-5-20251101-v1:0",
					"vertex":  "claude-opus-4-5@20251101",
				},
			},
			aliases: []string{"opus"},
		},
		{
			spec: Spec{
				ID:     "claude-sonnet-4-5-20250929",
				Family: FamilySonnet,
				Capabilities: Capabilities{
					ContextLimit:         200_000,
					ExtendedContextLimit: 1_000_000,
					MaxOutputTokens:      64_000,
					Vision:               true,
					ExtendedThinking:     true,
				},
				ProviderIDs: map[string]string{
					"bedrock": "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
					"vertex":  "claude-sonnet-4-5@20250929",
				},
			},
			aliases: []string{"sonnet"},
		},
		{
			spec: Spec{
				ID:     "claude-haiku-4-5-20251001",
				Family: FamilyHaiku,
				Capabilities: Capabilities{
					ContextLimit:    200_000,
					MaxOutputTokens: 64_000,
					Vision:          true,
				},
				ProviderIDs: map[string]string{
					"bedrock": "us.anthropic.claude-haiku-4-5-20251001-v1:0",
					"vertex":  "claude-haiku-4-5@20251001",
				},
			},
			aliases: []string{"haiku"},
		},
	}
	for _, entry := range seed {
		_ = r.Register(entry.spec, entry.aliases...)
	}
	return r
}
