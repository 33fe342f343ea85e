package finance

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// ModelPricing is the per-token/per-request rate for a (provider, model)
// pair.
type ModelPricing struct {
	Provider        string
	Model           string
	InputCostPer1K  float64
	OutputCostPer1K float64
	CostPerRequest  float64
}

// PricingChange records a detected price movement for a (provider, model)
// pair, captured when a write's delta crosses the 1% threshold.
type PricingChange struct {
	Timestamp    time.Time
	Field        string // "input" or "output"
	PreviousRate float64
	NewRate      float64
	DeltaPct     float64
}

type pricingEntry struct {
	pricing   ModelPricing
	timestamp time.Time
	metadata  map[string]string
	history   []PricingChange
}

// PricingCache maps (provider, model) to the most recent pricing known for
// it, a bounded change history, and a TTL past which a read should be
// treated as stale.
type PricingCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]*pricingEntry
}

const pricingHistoryCap = 100
const pricingChangeThreshold = 0.01 // 1%

// NewPricingCache creates a cache whose entries are considered stale after
// ttl.
func NewPricingCache(ttl time.Duration) *PricingCache {
	return &PricingCache{
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]*pricingEntry),
	}
}

func pricingKey(provider, model string) string {
	return provider + "::" + model
}

// Put writes pricing for (provider, model), detecting and recording any
// change whose absolute relative delta is at least 1% against the previous
// entry.
func (c *PricingCache) Put(pricing ModelPricing, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pricingKey(pricing.Provider, pricing.Model)
	now := c.clock()
	prev, existed := c.entries[key]

	var changes []PricingChange
	if existed {
		changes = append(changes, detectChange(now, "input", prev.pricing.InputCostPer1K, pricing.InputCostPer1K)...)
		changes = append(changes, detectChange(now, "output", prev.pricing.OutputCostPer1K, pricing.OutputCostPer1K)...)
	}

	entry := &pricingEntry{
		pricing:   pricing,
		timestamp: now,
		metadata:  metadata,
	}
	if existed {
		entry.history = append(prev.history, changes...)
		if len(entry.history) > pricingHistoryCap {
			entry.history = entry.history[len(entry.history)-pricingHistoryCap:]
		}
	}
	c.entries[key] = entry
}

func detectChange(now time.Time, field string, previous, next float64) []PricingChange {
	if previous == 0 {
		return nil
	}
	delta := math.Abs(next-previous) / math.Abs(previous)
	if delta < pricingChangeThreshold {
		return nil
	}
	return []PricingChange{{
		Timestamp:    now,
		Field:        field,
		PreviousRate: previous,
		NewRate:      next,
		DeltaPct:     delta,
	}}
}

// Get returns the cached pricing for (provider, model) and whether the
// entry is still within its TTL. A missing entry returns (zero, false,
// false).
func (c *PricingCache) Get(provider, model string) (ModelPricing, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[pricingKey(provider, model)]
	if !ok {
		return ModelPricing{}, false, false
	}
	fresh := c.ttl <= 0 || c.clock().Sub(entry.timestamp) < c.ttl
	return entry.pricing, true, fresh
}

// History returns the bounded change history for (provider, model).
func (c *PricingCache) History(provider, model string) []PricingChange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[pricingKey(provider, model)]
	if !ok {
		return nil
	}
	out := make([]PricingChange, len(entry.history))
	copy(out, entry.history)
	return out
}

// All returns every pricing entry currently cached, regardless of
// freshness.
func (c *PricingCache) All() []ModelPricing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ModelPricing, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.pricing)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// PricingFetcher retrieves authoritative pricing for a provider's models,
// e.g. from that provider's billing API.
type PricingFetcher interface {
	FetchPricing(provider string) ([]ModelPricing, error)
}

// CostEstimate is the outcome of calculating the expected cost of a
// request against cached pricing.
type CostEstimate struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	ExpectedCost float64
}

// ValidationResult reports whether an actual observed cost matches the
// expected estimate within tolerance.
type ValidationResult struct {
	Expected        float64
	Actual          float64
	DeltaPct        float64
	WithinTolerance bool
}

// OptimizationRecommendation suggests switching (provider, model) for a
// usage pattern to a cheaper alternative.
type OptimizationRecommendation struct {
	FromProvider, FromModel string
	ToProvider, ToModel     string
	EstimatedSavingsPerCall float64
	EstimatedSavingsPct     float64
}

// PricingManager composes a PricingCache with per-provider fetchers to
// serve pricing lookups, cost calculations, and cost-optimization
// recommendations.
type PricingManager struct {
	cache     *PricingCache
	fetchers  map[string]PricingFetcher
	tolerance float64
}

// NewPricingManager creates a manager backed by cache, with validateActualCost
// tolerance (fractional, e.g. 0.05 for 5%).
func NewPricingManager(cache *PricingCache, tolerance float64) *PricingManager {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &PricingManager{
		cache:     cache,
		fetchers:  make(map[string]PricingFetcher),
		tolerance: tolerance,
	}
}

// RegisterFetcher wires a per-provider pricing fetcher used by
// GetModelPricing(forceRefresh=true) and RefreshAllPricing.
func (m *PricingManager) RegisterFetcher(provider string, fetcher PricingFetcher) {
	m.fetchers[provider] = fetcher
}

// GetModelPricing returns cached pricing for (provider, model), refreshing
// from the registered fetcher first if forceRefresh is true or the cached
// entry has gone stale.
func (m *PricingManager) GetModelPricing(provider, model string, forceRefresh bool) (ModelPricing, error) {
	pricing, found, fresh := m.cache.Get(provider, model)
	if found && fresh && !forceRefresh {
		return pricing, nil
	}

	fetcher, ok := m.fetchers[provider]
	if !ok {
		if found {
			return pricing, nil // stale but no fetcher to refresh from
		}
		return ModelPricing{}, fmt.Errorf("finance: no pricing fetcher registered for provider %q", provider)
	}

	fetched, err := fetcher.FetchPricing(provider)
	if err != nil {
		if found {
			return pricing, nil // serve stale on fetch failure
		}
		return ModelPricing{}, fmt.Errorf("finance: fetch pricing for %q: %w", provider, err)
	}
	for _, p := range fetched {
		m.cache.Put(p, nil)
		if p.Model == model {
			pricing = p
		}
	}
	return pricing, nil
}

// GetAllPricing returns every pricing entry currently cached.
func (m *PricingManager) GetAllPricing() []ModelPricing {
	return m.cache.All()
}

// CalculateRequestCost computes the expected cost of a request given its
// token counts and the cached pricing for (provider, model).
func (m *PricingManager) CalculateRequestCost(provider, model string, inTokens, outTokens int64) (CostEstimate, error) {
	pricing, found, _ := m.cache.Get(provider, model)
	if !found {
		return CostEstimate{}, fmt.Errorf("finance: no pricing cached for %s/%s", provider, model)
	}
	cost := (float64(inTokens)/1000.0)*pricing.InputCostPer1K +
		(float64(outTokens)/1000.0)*pricing.OutputCostPer1K +
		pricing.CostPerRequest
	return CostEstimate{
		Provider:     provider,
		Model:        model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		ExpectedCost: cost,
	}, nil
}

// ValidateActualCost compares an observed actual cost against the expected
// estimate, flagging whether it falls within the manager's configured
// tolerance.
func (m *PricingManager) ValidateActualCost(estimate CostEstimate, actualCost float64) ValidationResult {
	var deltaPct float64
	if estimate.ExpectedCost != 0 {
		deltaPct = math.Abs(actualCost-estimate.ExpectedCost) / math.Abs(estimate.ExpectedCost)
	} else if actualCost != 0 {
		deltaPct = 1.0
	}
	return ValidationResult{
		Expected:        estimate.ExpectedCost,
		Actual:          actualCost,
		DeltaPct:        deltaPct,
		WithinTolerance: deltaPct <= m.tolerance,
	}
}

// GetPricingTrends returns the bounded change history for (provider, model).
func (m *PricingManager) GetPricingTrends(provider, model string) []PricingChange {
	return m.cache.History(provider, model)
}

// GetCostOptimizationRecommendations compares usage across the given
// (provider, model) -> token-volume map against all cached pricing and
// recommends cheaper alternatives, ranked by estimated savings.
func (m *PricingManager) GetCostOptimizationRecommendations(usage map[string]int64) []OptimizationRecommendation {
	all := m.cache.All()
	var recs []OptimizationRecommendation

	for key, volume := range usage {
		provider, model, ok := splitPricingKey(key)
		if !ok {
			continue
		}
		current, found, _ := m.cache.Get(provider, model)
		if !found {
			continue
		}
		currentCost := current.InputCostPer1K + current.OutputCostPer1K

		for _, candidate := range all {
			if candidate.Provider == provider && candidate.Model == model {
				continue
			}
			candidateCost := candidate.InputCostPer1K + candidate.OutputCostPer1K
			if candidateCost >= currentCost || currentCost == 0 {
				continue
			}
			savingsPerCall := (currentCost - candidateCost) * float64(volume) / 1000.0
			recs = append(recs, OptimizationRecommendation{
				FromProvider:            provider,
				FromModel:               model,
				ToProvider:              candidate.Provider,
				ToModel:                 candidate.Model,
				EstimatedSavingsPerCall: savingsPerCall,
				EstimatedSavingsPct:     (currentCost - candidateCost) / currentCost,
			})
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EstimatedSavingsPerCall > recs[j].EstimatedSavingsPerCall
	})
	return recs
}

func splitPricingKey(key string) (provider, model string, ok bool) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == ':' && key[i+1] == ':' {
			return key[:i], key[i+2:], true
		}
	}
	return "", "", false
}

// RefreshAllPricing re-fetches pricing from every registered fetcher and
// writes the results into the cache.
func (m *PricingManager) RefreshAllPricing() error {
	var firstErr error
	for provider, fetcher := range m.fetchers {
		pricings, err := fetcher.FetchPricing(provider)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("finance: refresh pricing for %q: %w", provider, err)
			}
			continue
		}
		for _, p := range pricings {
			m.cache.Put(p, nil)
		}
	}
	return firstErr
}

// Health reports whether every registered fetcher is currently reachable.
func (m *PricingManager) Health() map[string]bool {
	status := make(map[string]bool, len(m.fetchers))
	for provider, fetcher := range m.fetchers {
		_, err := fetcher.FetchPricing(provider)
		status[provider] = err == nil
	}
	return status
}
