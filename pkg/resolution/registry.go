package resolution

import (
	"sort"
	"sync"

	"github.com/scenescout/meld/pkg/models"
)

// defaultTrustScore is assumed for sources that were never registered.
const defaultTrustScore = 0.5

// SourceRegistry holds trust scores for registered data sources. It is
// injected into the resolver rather than held as package state, so
// concurrent batches with different registries stay isolated.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]models.DataSource
}

// NewSourceRegistry creates an empty source registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[string]models.DataSource)}
}

// Register adds or replaces a data source. Registration is an administrative
// operation, expected before resolution runs, not per-request.
func (r *SourceRegistry) Register(source models.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.Name] = source
}

// Get returns the registered source by name.
func (r *SourceRegistry) Get(name string) (models.DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[name]
	return source, ok
}

// TrustScore returns the combined trust score for a source name, falling
// back to a neutral default for unregistered sources.
func (r *SourceRegistry) TrustScore(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if source, ok := r.sources[name]; ok {
		return source.TrustScore()
	}
	return defaultTrustScore
}

// List returns all registered sources ordered by name.
func (r *SourceRegistry) List() []models.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sources := make([]models.DataSource, 0, len(r.sources))
	for _, source := range r.sources {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources
}
