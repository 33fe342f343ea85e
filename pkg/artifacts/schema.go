package artifacts

import (
	"encoding/json"
	"time"
)

// Type definitions for routing-evidence artifacts.
const (
	TypeRouteAnomalyEvidence = "evidence/route-anomaly"
	TypeCostForecastEvidence = "evidence/cost-forecast"
	TypePolicyProposal       = "governance/policy-proposal"
	TypeModelHealthProbe     = "evidence/model-health-probe"
)

// ArtifactEnvelope is the signed wrapper for all artifact payloads.
type ArtifactEnvelope struct {
	Type           string          `json:"type"`             // e.g., "evidence/route-anomaly"
	SchemaVersion  string          `json:"schema_version"`   // e.g., "v1"
	ProducerID     string          `json:"producer_id"`      // e.g., "cardinality.advisor"
	Timestamp      time.Time       `json:"timestamp"`        // RFC3339
	Payload        json.RawMessage `json:"payload"`          // the typed evidence payload
	Signature      string          `json:"signature"`        // signature over Payload
	SignatureKeyID string          `json:"signature_key_id"` // ID of the key used to sign
}

// RouteAnomalyEvidence captures a cardinality-advisor or abuse-engine alert
// for a routing decision that deviated from expected shape.
type RouteAnomalyEvidence struct {
	MetricName      string  `json:"metric_name"`
	Value           float64 `json:"value"`
	Threshold       float64 `json:"threshold"`
	Severity        string  `json:"severity"` // warning, critical, high, extreme
	ContextSnapshot string  `json:"context_snapshot"`
}

// CostForecastEvidence captures a pricing-core cost projection for a
// provider/model pair ahead of a routing decision.
type CostForecastEvidence struct {
	Provider           string  `json:"provider"`
	Model              string  `json:"model"`
	EstimatedUSDMicros int64   `json:"estimated_usd_micros"`
	ConfidenceScore    float64 `json:"confidence_score"` // 0.0 - 1.0
}

// PolicyProposal captures a continuous-improvement-pipeline policy change
// recommendation awaiting review.
type PolicyProposal struct {
	PolicyName         string `json:"policy_name"`
	ExpressionCEL      string `json:"expression_cel"`
	SourceHistoryRange string `json:"source_history_range"` // e.g. "req-100 to req-2000"
	Rationale          string `json:"rationale"`
}

// ModelHealthProbe captures a registry health check verdict for a model or
// provider entry.
type ModelHealthProbe struct {
	SubjectName string  `json:"subject_name"` // model or provider name
	VerifierID  string  `json:"verifier_id"`
	ErrorRate   float64 `json:"error_rate"`
	IsHealthy   bool    `json:"is_healthy"`
}
