// Package registry implements the model/provider catalog: CRUD over model
// and provider entries, shadow/active lifecycle transitions, and
// performance-driven promotion, plus the repository manager that coordinates
// persistence for models, providers, requests, policies, compliance, and
// audit behind a single transactional boundary.
package registry

import (
	"errors"
	"hash/crc32"
	"strings"
	"sync"
	"time"
)

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrAlreadyActive    = errors.New("model is already active")
	ErrAlreadyShadow    = errors.New("model is already shadow")
)

// Stats summarizes the catalog's current composition.
type Stats struct {
	TotalModels    int
	ActiveModels   int
	ShadowModels   int
	RetiredModels  int
	TotalProviders int
	HealthyProvs   int
}

// Registry is the in-memory model/provider catalog. All mutating operations
// invalidate the per-repository cache (the flattened registry view).
type Registry struct {
	mu        sync.RWMutex
	models    map[string]*ModelEntry
	providers map[string]*ProviderEntry
	viewCache map[string]map[string]interface{}
}

// NewRegistry creates an empty catalog.
func NewRegistry() *Registry {
	return &Registry{
		models:    make(map[string]*ModelEntry),
		providers: make(map[string]*ProviderEntry),
	}
}

// CreateProvider registers a new provider entry.
func (r *Registry) CreateProvider(p ProviderEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name] = &p
	r.invalidateCacheLocked()
	return nil
}

// GetProvider reads a provider by name.
func (r *Registry) GetProvider(name string) (ProviderEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return ProviderEntry{}, ErrProviderNotFound
	}
	return *p, nil
}

// UpdateProvider replaces a provider entry.
func (r *Registry) UpdateProvider(p ProviderEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name]; !ok {
		return ErrProviderNotFound
	}
	r.providers[p.Name] = &p
	r.invalidateCacheLocked()
	return nil
}

// DeleteProvider removes a provider entry.
func (r *Registry) DeleteProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return ErrProviderNotFound
	}
	delete(r.providers, name)
	r.invalidateCacheLocked()
	return nil
}

// CreateModel registers a new model entry.
func (r *Registry) CreateModel(m ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.ModifiedAt = now
	r.models[m.Name] = &m
	r.invalidateCacheLocked()
	return nil
}

// GetModel reads a model by name.
func (r *Registry) GetModel(name string) (ModelEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return ModelEntry{}, ErrModelNotFound
	}
	return *m, nil
}

// UpdateModel replaces a model entry, bumping its modified timestamp.
func (r *Registry) UpdateModel(m ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.models[m.Name]
	if !ok {
		return ErrModelNotFound
	}
	m.CreatedAt = existing.CreatedAt
	m.ModifiedAt = time.Now().UTC()
	r.models[m.Name] = &m
	r.invalidateCacheLocked()
	return nil
}

// DeleteModel removes a model entry.
func (r *Registry) DeleteModel(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; !ok {
		return ErrModelNotFound
	}
	delete(r.models, name)
	r.invalidateCacheLocked()
	return nil
}

// GetEnabledModels returns active, enabled models whose owning provider is
// healthy — the selectable set for production traffic.
func (r *Registry) GetEnabledModels() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ModelEntry
	for _, m := range r.models {
		p, ok := r.providers[m.ProviderID]
		if !ok {
			continue
		}
		if Selectable(*m, *p) {
			out = append(out, *m)
		}
	}
	return out
}

// GetShadowModels returns models in shadow status regardless of provider
// health (shadow traffic is mirrored, not selected for production).
func (r *Registry) GetShadowModels() []ModelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ModelEntry
	for _, m := range r.models {
		if m.Status == ModelShadow {
			out = append(out, *m)
		}
	}
	return out
}

// UpdatePerformanceMetrics applies fresh latency/quality measurements to a
// model entry.
func (r *Registry) UpdatePerformanceMetrics(name string, p50, p95, quality float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[name]
	if !ok {
		return ErrModelNotFound
	}
	m.LatencyP50Ms = p50
	m.LatencyP95Ms = p95
	m.QualityScore = quality
	m.ModifiedAt = time.Now().UTC()
	r.invalidateCacheLocked()
	return nil
}

// PromoteToActive atomically transitions a shadow model to active. A model
// can never be simultaneously active and shadow.
func (r *Registry) PromoteToActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[name]
	if !ok {
		return ErrModelNotFound
	}
	if m.Status == ModelActive {
		return ErrAlreadyActive
	}
	m.Status = ModelActive
	m.ModifiedAt = time.Now().UTC()
	r.invalidateCacheLocked()
	return nil
}

// DemoteToShadow atomically transitions an active model to shadow.
func (r *Registry) DemoteToShadow(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[name]
	if !ok {
		return ErrModelNotFound
	}
	if m.Status == ModelShadow {
		return ErrAlreadyShadow
	}
	m.Status = ModelShadow
	m.ModifiedAt = time.Now().UTC()
	r.invalidateCacheLocked()
	return nil
}

// Stats computes catalog-wide counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	s.TotalModels = len(r.models)
	for _, m := range r.models {
		switch m.Status {
		case ModelActive:
			s.ActiveModels++
		case ModelShadow:
			s.ShadowModels++
		case ModelRetired:
			s.RetiredModels++
		}
	}
	s.TotalProviders = len(r.providers)
	for _, p := range r.providers {
		if p.IsHealthy() {
			s.HealthyProvs++
		}
	}
	return s
}

// RegistryView returns the flattened name -> attribute map view, cached
// until the next write invalidates it.
func (r *Registry) RegistryView() map[string]map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.viewCache != nil {
		return r.viewCache
	}
	view := make(map[string]map[string]interface{}, len(r.models))
	for name, m := range r.models {
		view[name] = map[string]interface{}{
			"provider_id":   m.ProviderID,
			"status":        string(m.Status),
			"enabled":       m.Enabled,
			"family":        m.Family,
			"quality_score": m.QualityScore,
		}
	}
	r.viewCache = view
	return view
}

func (r *Registry) invalidateCacheLocked() {
	r.viewCache = nil
}

// RouteShadowMirror decides whether a request for an active model should
// also be mirrored to a configured shadow counterpart for the given user,
// using deterministic crc32 bucketing so the same user always lands in the
// same bucket for a given mirror percentage.
func RouteShadowMirror(userID string, mirrorPercentage int) bool {
	if mirrorPercentage <= 0 {
		return false
	}
	if mirrorPercentage >= 100 {
		return true
	}
	hash := crc32.ChecksumIEEE([]byte(strings.ToLower(userID)))
	bucket := int(hash % 10000)
	return bucket < mirrorPercentage*100
}
