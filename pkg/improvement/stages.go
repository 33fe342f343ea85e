package improvement

import (
	"context"
)

// defaultStepFuncs implements the seven stages against no external state:
// callers wire a registry-backed quality/drift source via WithStep for
// production use (see NewRegistryPipeline). These defaults make New()
// usable standalone in tests and document the expected result-map shape
// each step contributes for downstream stages to read.

var defaultStepFuncs = map[StepName]StepFunc{
	StepQualityCheck:      qualityCheckStep,
	StepDriftDetection:    driftDetectionStep,
	StepActiveLearning:    activeLearningStep,
	StepRetrainingTrigger: retrainingTriggerStep,
	StepModelEvaluation:   modelEvaluationStep,
	StepPromotionDecision: promotionDecisionStep,
	StepDeployment:        deploymentStep,
}

// qualityCheckStep records the model's current quality score. Threshold
// enforcement happens downstream in promotion-decision.
func qualityCheckStep(_ context.Context, model string, _ map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"model":         model,
		"quality_score": 0.0,
		"checked":       true,
	}, nil
}

// driftDetectionStep flags distributional drift between the shadow
// model's mirrored traffic and the active baseline. The default
// implementation reports no drift; a registry-aware override replaces
// this with a real comparison.
func driftDetectionStep(_ context.Context, _ string, _ map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"drift_detected": false,
		"drift_score":    0.0,
	}, nil
}

// activeLearningStep reports whether the model's mirrored-traffic sample
// size has saturated (enough examples collected to make a retraining
// decision meaningful).
func activeLearningStep(_ context.Context, _ string, _ map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"saturated":    false,
		"sample_count": 0,
	}, nil
}

// retrainingTriggerStep reads drift-detection and active-learning results
// from prior steps: retraining is triggered when either drift was
// detected or the active-learning sample has saturated.
func retrainingTriggerStep(_ context.Context, _ string, prior map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	drift, _ := prior[StepDriftDetection]["drift_detected"].(bool)
	saturated, _ := prior[StepActiveLearning]["saturated"].(bool)

	return map[string]interface{}{
		"triggered": drift || saturated,
		"reason":    retrainReason(drift, saturated),
	}, nil
}

func retrainReason(drift, saturated bool) string {
	switch {
	case drift && saturated:
		return "drift_and_saturation"
	case drift:
		return "drift_detected"
	case saturated:
		return "active_learning_saturation"
	default:
		return "none"
	}
}

// modelEvaluationStep scores the candidate against the active baseline.
// The default reports parity (0 improvement); a registry-aware override
// compares ModelEntry.QualityScore between shadow and active.
func modelEvaluationStep(_ context.Context, _ string, _ map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"improvement_over_baseline": 0.0,
		"baseline_quality":          0.0,
		"candidate_quality":         0.0,
	}, nil
}

// PromotionThreshold is the minimum improvement-over-baseline required to
// promote a shadow model to active.
const PromotionThreshold = 0.02

// promotionDecisionStep reads model-evaluation's improvement score and
// decides whether to promote.
func promotionDecisionStep(_ context.Context, _ string, prior map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	improvement, _ := prior[StepModelEvaluation]["improvement_over_baseline"].(float64)
	promote := improvement >= PromotionThreshold

	return map[string]interface{}{
		"promote":     promote,
		"improvement": improvement,
		"threshold":   PromotionThreshold,
	}, nil
}

// deploymentStep is a no-op placeholder for the default pipeline; the
// registry-aware pipeline (NewRegistryPipeline) replaces this with an
// actual Registry.PromoteToActive call. Run skips this step entirely when
// promotion-decision said not to promote, so reaching here always means
// promote == true.
func deploymentStep(_ context.Context, model string, _ map[StepName]map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"deployed": true,
		"model":    model,
	}, nil
}
