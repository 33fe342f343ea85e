package registry

import "time"

// ModelStatus is the lifecycle state of a model entry.
type ModelStatus string

const (
	ModelActive  ModelStatus = "active"
	ModelShadow  ModelStatus = "shadow"
	ModelRetired ModelStatus = "retired"
)

// ProviderType categorizes where a provider's inference runs.
type ProviderType string

const (
	ProviderCloud   ProviderType = "cloud"
	ProviderLocal   ProviderType = "local"
	ProviderGeneric ProviderType = "generic"
)

// HealthStatus is a provider's current health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Capabilities flags a model or provider's supported feature set.
type Capabilities struct {
	Streaming       bool `json:"streaming"`
	FunctionCalling bool `json:"function_calling"`
	Vision          bool `json:"vision"`
}

// ModelEntry is a catalog entry for a single routable model.
type ModelEntry struct {
	Name             string       `json:"name"`
	DisplayName      string       `json:"display_name"`
	ProviderID       string       `json:"provider_id"`
	Status           ModelStatus  `json:"status"`
	Enabled          bool         `json:"enabled"`
	Family           string       `json:"family"`
	ContextWindow    int          `json:"context_window"`
	MaxOutputTokens  int          `json:"max_output_tokens"`
	Capabilities     Capabilities `json:"capabilities"`
	CostPerInputTok  float64      `json:"cost_per_input_token"`
	CostPerOutputTok float64      `json:"cost_per_output_token"`
	CostPerRequest   float64      `json:"cost_per_request"`
	LatencyP50Ms     float64      `json:"latency_p50_ms"`
	LatencyP95Ms     float64      `json:"latency_p95_ms"`
	QualityScore     float64      `json:"quality_score"`
	CreatedAt        time.Time    `json:"created_at"`
	ModifiedAt       time.Time    `json:"modified_at"`
}

// ProviderEntry is a catalog entry for an inference provider.
type ProviderEntry struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Type         ProviderType `json:"type"`
	Enabled      bool         `json:"enabled"`
	Health       HealthStatus `json:"health"`
	Capabilities Capabilities `json:"capabilities"`
}

// IsHealthy reports whether a provider's models may be selected.
func (p ProviderEntry) IsHealthy() bool {
	return p.Enabled && p.Health == HealthHealthy
}

// Selectable reports whether a model may receive production traffic: it
// must be active, enabled, never retired, and owned by a healthy provider.
func Selectable(model ModelEntry, provider ProviderEntry) bool {
	if model.Status != ModelActive || !model.Enabled {
		return false
	}
	return provider.IsHealthy()
}
