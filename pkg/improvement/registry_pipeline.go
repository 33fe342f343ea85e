package improvement

import (
	"context"
	"time"

	"github.com/atprouter/core/pkg/metrics"
	"github.com/atprouter/core/pkg/registry"
)

// NewRegistryPipeline builds a Pipeline whose quality-check,
// model-evaluation, promotion-decision, and deployment stages read from
// and mutate reg directly: quality-check pulls the shadow model's current
// quality score; model-evaluation compares it against the active model in
// the same family (the "baseline"); promotion-decision applies
// PromotionThreshold; deployment calls reg.PromoteToActive and, per
// policy, demotes the prior active model in the family to shadow (stated
// by spec, not enforced by the registry itself — enforced here instead).
//
// When m is non-nil, per-stage durations and the pipeline-level
// total/successful/failed counters are also recorded as OpenTelemetry
// instruments via m, matching the Rate/Errors/Duration idiom the rest of
// this codebase's instrumented components follow.
func NewRegistryPipeline(reg *registry.Registry, m *metrics.Registry) (*Pipeline, error) {
	p := New()

	p.WithStep(StepQualityCheck, func(_ context.Context, model string, _ map[StepName]map[string]interface{}) (map[string]interface{}, error) {
		entry, err := reg.GetModel(model)
		if err != nil {
			return nil, failf(StepQualityCheck, "%v", err)
		}
		return map[string]interface{}{
			"model":         model,
			"quality_score": entry.QualityScore,
			"checked":       true,
		}, nil
	})

	p.WithStep(StepModelEvaluation, func(_ context.Context, model string, prior map[StepName]map[string]interface{}) (map[string]interface{}, error) {
		entry, err := reg.GetModel(model)
		if err != nil {
			return nil, failf(StepModelEvaluation, "%v", err)
		}

		candidateQuality, _ := prior[StepQualityCheck]["quality_score"].(float64)

		baselineQuality := 0.0
		for _, cand := range reg.GetEnabledModels() {
			if cand.Family == entry.Family && cand.Status == registry.ModelActive {
				baselineQuality = cand.QualityScore
				break
			}
		}

		return map[string]interface{}{
			"improvement_over_baseline": candidateQuality - baselineQuality,
			"baseline_quality":          baselineQuality,
			"candidate_quality":         candidateQuality,
		}, nil
	})

	p.WithStep(StepDeployment, func(_ context.Context, model string, prior map[StepName]map[string]interface{}) (map[string]interface{}, error) {
		entry, err := reg.GetModel(model)
		if err != nil {
			return nil, failf(StepDeployment, "%v", err)
		}

		for _, sibling := range reg.GetEnabledModels() {
			if sibling.Family == entry.Family && sibling.Status == registry.ModelActive && sibling.Name != model {
				_ = reg.DemoteToShadow(sibling.Name)
			}
		}

		if err := reg.PromoteToActive(model); err != nil {
			return nil, failf(StepDeployment, "%v", err)
		}
		return map[string]interface{}{
			"deployed": true,
			"model":    model,
		}, nil
	})

	if m == nil {
		return p, nil
	}

	total, err := m.Counter("atprouter.improvement.executions.total", "Total continuous-improvement pipeline executions")
	if err != nil {
		return nil, err
	}
	successful, err := m.Counter("atprouter.improvement.executions.successful", "Successful continuous-improvement pipeline executions")
	if err != nil {
		return nil, err
	}
	failed, err := m.Counter("atprouter.improvement.executions.failed", "Failed continuous-improvement pipeline executions")
	if err != nil {
		return nil, err
	}
	duration, err := m.Histogram(
		"atprouter.improvement.step.duration",
		"Continuous-improvement pipeline per-step duration",
		"s",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	)
	if err != nil {
		return nil, err
	}

	p.recordDurationObs = func(step StepName, d time.Duration) {
		duration.Observe(d.Seconds(), metrics.Labels{"step": string(step)})
	}
	p.recordOutcome = func(success bool) {
		total.Inc(nil)
		if success {
			successful.Inc(nil)
		} else {
			failed.Inc(nil)
		}
	}

	return p, nil
}
