// Package improvement implements the continuous-improvement pipeline: a
// fixed, seven-stage DAG that takes a shadow model from quality signal
// through drift detection, active-learning assessment, a retraining
// trigger, evaluation against the active baseline, a promotion decision,
// and finally deployment (promotion of the registry entry).
package improvement

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StepStatus is the lifecycle state of a single DAG step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepName identifies one of the seven fixed stages, in execution order.
type StepName string

const (
	StepQualityCheck      StepName = "quality_check"
	StepDriftDetection    StepName = "drift_detection"
	StepActiveLearning    StepName = "active_learning"
	StepRetrainingTrigger StepName = "retraining_trigger"
	StepModelEvaluation   StepName = "model_evaluation"
	StepPromotionDecision StepName = "promotion_decision"
	StepDeployment        StepName = "deployment"
)

// Stages is the fixed, strictly sequential execution order. Subsequent
// steps read the result maps of every step that ran before them.
var Stages = []StepName{
	StepQualityCheck,
	StepDriftDetection,
	StepActiveLearning,
	StepRetrainingTrigger,
	StepModelEvaluation,
	StepPromotionDecision,
	StepDeployment,
}

// Step is one executed (or skipped) DAG node.
type Step struct {
	Name      StepName               `json:"name"`
	Status    StepStatus             `json:"status"`
	StartedAt time.Time              `json:"started_at,omitempty"`
	EndedAt   time.Time              `json:"ended_at,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ErrStepFailed is returned by Run when a step fails; the caller inspects
// the returned Execution for which step and why.
var ErrStepFailed = errors.New("improvement: step failed")

// Execution is one run of the pipeline against a single model.
type Execution struct {
	ModelName string     `json:"model_name"`
	Status    StepStatus `json:"status"` // pending | running | success | failed
	Steps     []Step     `json:"steps"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// StepFunc implements one stage's logic. It receives the results of every
// prior step (keyed by StepName) and returns its own result map, or an
// error to fail the whole execution.
type StepFunc func(ctx context.Context, model string, prior map[StepName]map[string]interface{}) (map[string]interface{}, error)

// Pipeline runs the seven-stage DAG against model-registry entries,
// tracking per-stage duration and execution counts.
type Pipeline struct {
	steps map[StepName]StepFunc
	clock func() time.Time

	total      int64
	successful int64
	failed     int64
	durations  map[StepName][]time.Duration

	// recordDurationObs and recordOutcome are optional instrumentation
	// hooks wired by NewRegistryPipeline; nil means in-process counters
	// only (Counters/StepDurations), no OTel emission.
	recordDurationObs func(step StepName, d time.Duration)
	recordOutcome     func(success bool)
}

// New creates a Pipeline with the default stage implementations, which can
// be overridden individually via WithStep (e.g. in tests, or to plug in a
// real drift-detection model).
func New() *Pipeline {
	p := &Pipeline{
		steps:     make(map[StepName]StepFunc),
		clock:     time.Now,
		durations: make(map[StepName][]time.Duration),
	}
	for _, name := range Stages {
		p.steps[name] = defaultStepFuncs[name]
	}
	return p
}

// WithStep overrides the implementation for a single named stage.
func (p *Pipeline) WithStep(name StepName, fn StepFunc) *Pipeline {
	p.steps[name] = fn
	return p
}

// WithClock overrides the clock used to stamp step start/end times.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Run executes all seven stages in fixed order against model. A failing
// step stops the DAG immediately; every step after it is recorded as
// skipped. Promotion-decision and deployment are the only two steps that
// may legitimately skip without failing (skipped deployment when the
// promotion-decision step decided not to promote).
func (p *Pipeline) Run(ctx context.Context, model string) *Execution {
	exec := &Execution{
		ModelName: model,
		Status:    StepRunning,
		StartedAt: p.clock(),
	}

	prior := make(map[StepName]map[string]interface{}, len(Stages))
	failedAt := -1

	for i, name := range Stages {
		if failedAt >= 0 {
			exec.Steps = append(exec.Steps, Step{Name: name, Status: StepSkipped})
			continue
		}

		if name == StepDeployment {
			if decision, ok := prior[StepPromotionDecision]; ok {
				if promoted, _ := decision["promote"].(bool); !promoted {
					exec.Steps = append(exec.Steps, Step{Name: name, Status: StepSkipped})
					continue
				}
			}
		}

		step := Step{Name: name, Status: StepRunning, StartedAt: p.clock()}
		fn := p.steps[name]
		result, err := fn(ctx, model, prior)
		step.EndedAt = p.clock()
		p.recordDuration(name, step.EndedAt.Sub(step.StartedAt))

		if err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			failedAt = i
		} else {
			step.Status = StepSuccess
			step.Result = result
			prior[name] = result
		}
		exec.Steps = append(exec.Steps, step)
	}

	exec.EndedAt = p.clock()
	p.total++
	success := failedAt < 0
	if success {
		exec.Status = StepSuccess
		p.successful++
	} else {
		exec.Status = StepFailed
		p.failed++
	}
	if p.recordOutcome != nil {
		p.recordOutcome(success)
	}
	return exec
}

func (p *Pipeline) recordDuration(name StepName, d time.Duration) {
	p.durations[name] = append(p.durations[name], d)
	if p.recordDurationObs != nil {
		p.recordDurationObs(name, d)
	}
}

// Counters reports the pipeline-level execution totals.
type Counters struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// Counters returns the total/successful/failed execution counts.
func (p *Pipeline) Counters() Counters {
	return Counters{Total: p.total, Successful: p.successful, Failed: p.failed}
}

// StepDurations returns every recorded duration for name, in call order.
func (p *Pipeline) StepDurations(name StepName) []time.Duration {
	return p.durations[name]
}

// ResultOf returns the named step's result from an execution, or nil if
// the step did not run or did not succeed.
func (e *Execution) ResultOf(name StepName) map[string]interface{} {
	for _, s := range e.Steps {
		if s.Name == name && s.Status == StepSuccess {
			return s.Result
		}
	}
	return nil
}

// FailedStep returns the name of the step that failed the execution, or
// "" if the execution succeeded.
func (e *Execution) FailedStep() StepName {
	for _, s := range e.Steps {
		if s.Status == StepFailed {
			return s.Name
		}
	}
	return ""
}

func failf(step StepName, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrStepFailed, step, fmt.Sprintf(format, args...))
}
