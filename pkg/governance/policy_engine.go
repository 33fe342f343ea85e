package governance

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// PolicyEngine compiles and evaluates CEL expressions used for WAF rule
// action overrides and cost-optimization eligibility rules. Variables
// available to every expression: action, resource, principal, context (a
// free-form string->any map carrying request attributes like tenant,
// threat_level, rule_name).
type PolicyEngine struct {
	mu          sync.RWMutex
	env         *cel.Env
	policySet   map[string]cel.Program
	definitions map[string]string
}

// NewPolicyEngine initializes the CEL environment.
func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("action", types.StringType),
			decls.NewVariable("resource", types.StringType),
			decls.NewVariable("principal", types.StringType),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &PolicyEngine{
		env:         env,
		policySet:   make(map[string]cel.Program),
		definitions: make(map[string]string),
	}, nil
}

// LoadPolicy compiles and registers a named policy expression.
func (pe *PolicyEngine) LoadPolicy(policyID, source string) error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	ast, issues := pe.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy compilation failed: %w", issues.Err())
	}

	prg, err := pe.env.Program(ast)
	if err != nil {
		return fmt.Errorf("program construction failed: %w", err)
	}

	pe.policySet[policyID] = prg
	pe.definitions[policyID] = source
	return nil
}

// ListDefinitions returns a copy of all loaded policy definitions (ID -> source).
func (pe *PolicyEngine) ListDefinitions() map[string]string {
	pe.mu.RLock()
	defer pe.mu.RUnlock()
	out := make(map[string]string, len(pe.definitions))
	for k, v := range pe.definitions {
		out[k] = v
	}
	return out
}

// PolicyDecision is the outcome of evaluating a CEL policy.
type PolicyDecision struct {
	Allowed   bool
	PolicyID  string
	Reason    string
	Evaluated time.Time
}

// Evaluate runs a named policy against the supplied attributes. Evaluation
// errors and missing policies both fail closed (Allowed=false).
func (pe *PolicyEngine) Evaluate(policyID, action, resource, principal string, context map[string]interface{}) PolicyDecision {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	decision := PolicyDecision{PolicyID: policyID, Evaluated: time.Now().UTC()}

	prg, exists := pe.policySet[policyID]
	if !exists {
		decision.Reason = fmt.Sprintf("policy %s not found", policyID)
		return decision
	}

	input := map[string]interface{}{
		"action":    action,
		"resource":  resource,
		"principal": principal,
		"context":   context,
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		decision.Reason = fmt.Sprintf("evaluation error: %v", err)
		return decision
	}

	if allowed, ok := out.Value().(bool); ok && allowed {
		decision.Allowed = true
		decision.Reason = fmt.Sprintf("allowed by policy %s", policyID)
	} else {
		decision.Reason = fmt.Sprintf("denied by policy %s", policyID)
	}
	return decision
}
