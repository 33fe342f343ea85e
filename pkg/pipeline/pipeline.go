// Package pipeline composes the admission and dispatch stages that every
// inbound inference request passes through: input hardening, the WAF,
// replay detection, abuse prevention, policy evaluation, model selection,
// cost pre-check, adapter dispatch, and differential-privacy ledger
// recording, in that fixed order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/atprouter/core/pkg/adapter"
	"github.com/atprouter/core/pkg/events"
	"github.com/atprouter/core/pkg/finance"
	"github.com/atprouter/core/pkg/firewall"
	"github.com/atprouter/core/pkg/guardian"
	"github.com/atprouter/core/pkg/ledger"
	"github.com/atprouter/core/pkg/metering"
	"github.com/atprouter/core/pkg/nonce"
	"github.com/atprouter/core/pkg/pdp"
	"github.com/atprouter/core/pkg/registry"
	"github.com/atprouter/core/pkg/waf"
)

// Request is one inbound admission request.
type Request struct {
	RequestID  string
	Tenant     string
	User       string
	Endpoint   string
	BearerToken string
	Nonce      string
	Depth      int
	Signature  string
	ModelFamily string
	Payload    map[string]interface{}
	PromptJSON []byte
	RequiredKeys []string
	SchemaName   string
	ClientAddress string
	EpsilonCost   float64
	Sensitivity   float64
}

// StageName identifies which pipeline stage produced a Decision.
type StageName string

const (
	StageAuth           StageName = "auth"
	StageInputHardening StageName = "input-hardening"
	StageWAF            StageName = "waf"
	StageReplay         StageName = "replay"
	StageAbuse          StageName = "abuse-prevention"
	StagePolicy         StageName = "policy"
	StageModelSelection StageName = "model-selection"
	StageCostPreCheck   StageName = "cost-pre-check"
	StageDispatch       StageName = "dispatch"
	StageLedger         StageName = "ledger"
)

// Decision is the outcome of running a Request through the pipeline.
type Decision struct {
	Allowed    bool
	Stage      StageName
	Reason     string
	Model      registry.ModelEntry
	CostEstimate finance.CostEstimate
	AdapterResponse adapter.EstimateResponse
	LedgerEntry *ledger.Entry
}

// Pipeline wires together the admission/dispatch components. All fields
// are required except Adapters, which may be empty for dry-run deployments
// that stop at model selection.
type Pipeline struct {
	Firewall  *firewall.Firewall
	WAF       *waf.Firewall
	Nonces    *nonce.Store
	Abuse     *guardian.Engine
	PDP       pdp.PolicyDecisionPoint
	Registry  *registry.Registry
	Pricing   *finance.PricingManager
	Budgets   finance.Tracker
	Ledger    *ledger.Ledger
	Bus       *events.Bus
	Meter     metering.Meter // optional; when set, every admitted or rejected request is metered per-tenant
	Adapters  map[string]adapter.Adapter // model name -> adapter
	BudgetID  string
	JWTSecret []byte // when set, requests carrying a BearerToken are validated and bound to its tenant claim
	clock     func() time.Time
}

// New creates a Pipeline from its component dependencies.
func New(fw *firewall.Firewall, w *waf.Firewall, nonces *nonce.Store, abuse *guardian.Engine, p pdp.PolicyDecisionPoint, reg *registry.Registry, pricing *finance.PricingManager, budgets finance.Tracker, led *ledger.Ledger, bus *events.Bus) *Pipeline {
	return &Pipeline{
		Firewall: fw,
		WAF:      w,
		Nonces:   nonces,
		Abuse:    abuse,
		PDP:      p,
		Registry: reg,
		Pricing:  pricing,
		Budgets:  budgets,
		Ledger:   led,
		Bus:      bus,
		Adapters: make(map[string]adapter.Adapter),
		clock:    time.Now,
	}
}

// RegisterAdapter wires an Adapter for dispatch once a model has been
// selected that routes to it.
func (p *Pipeline) RegisterAdapter(modelName string, a adapter.Adapter) {
	p.Adapters[modelName] = a
}

// Admit runs req through the full admission and dispatch sequence, stopping
// at the first stage that denies it.
func (p *Pipeline) Admit(ctx context.Context, req Request) (decision Decision, err error) {
	if p.Meter != nil {
		defer func() {
			p.recordUsage(ctx, req, decision)
		}()
	}

	if len(p.JWTSecret) > 0 && req.BearerToken != "" {
		claims, err := ParseBearerClaims(req.BearerToken, p.JWTSecret)
		if err != nil {
			return Decision{Allowed: false, Stage: StageAuth, Reason: err.Error()}, nil
		}
		if claims.Tenant != req.Tenant {
			return Decision{Allowed: false, Stage: StageAuth, Reason: "bearer tenant claim does not match request tenant"}, nil
		}
	}

	if err := p.checkInputHardening(req); err != nil {
		return Decision{Allowed: false, Stage: StageInputHardening, Reason: err.Error()}, nil
	}

	wafVerdict := p.WAF.Inspect(req.RequestID, req.ClientAddress, string(req.PromptJSON))
	if wafVerdict.Action == waf.ActionBlock || wafVerdict.Action == waf.ActionQuarantine {
		return Decision{Allowed: false, Stage: StageWAF, Reason: fmt.Sprintf("waf action=%s", wafVerdict.Action)}, nil
	}
	if wafVerdict.Action == waf.ActionRateLimit {
		return Decision{Allowed: false, Stage: StageWAF, Reason: "waf rate limit"}, nil
	}

	if req.Nonce != "" && p.Nonces != nil {
		if !p.Nonces.CheckAndStore(req.Nonce, p.clock()) {
			return Decision{Allowed: false, Stage: StageReplay, Reason: "nonce replay detected"}, nil
		}
	}

	abuseCtx := guardian.RequestContext{
		RequestID: req.RequestID,
		Tenant:    req.Tenant,
		User:      req.User,
		Endpoint:  req.Endpoint,
		Method:    "POST",
		Depth:     req.Depth,
		Signature: req.Signature,
	}
	if p.Abuse != nil {
		abuseDecision := p.Abuse.CheckRequest(abuseCtx, req.ClientAddress)
		if !abuseDecision.Allowed {
			return Decision{Allowed: false, Stage: StageAbuse, Reason: string(abuseDecision.Reason)}, nil
		}
		defer p.Abuse.EndRequest(abuseCtx, true)
	}

	if p.PDP != nil {
		decision, err := p.PDP.Evaluate(ctx, &pdp.DecisionRequest{
			Principal: req.User,
			Action:    "invoke",
			Resource:  req.Endpoint,
			Context:   map[string]any{"tenant": req.Tenant, "model_family": req.ModelFamily},
			Timestamp: p.clock(),
		})
		if err != nil {
			return Decision{Allowed: false, Stage: StagePolicy, Reason: err.Error()}, nil
		}
		if !decision.Allow {
			return Decision{Allowed: false, Stage: StagePolicy, Reason: decision.ReasonCode}, nil
		}
	}

	model, err := p.selectModel(req.ModelFamily)
	if err != nil {
		return Decision{Allowed: false, Stage: StageModelSelection, Reason: err.Error()}, nil
	}

	var estimate finance.CostEstimate
	if p.Pricing != nil {
		estimate, err = p.Pricing.CalculateRequestCost(model.ProviderID, model.Name, 0, 0)
		if err == nil && p.Budgets != nil && p.BudgetID != "" {
			ok, checkErr := p.Budgets.Check(p.BudgetID, finance.Cost{Tokens: estimate.InputTokens + estimate.OutputTokens})
			if checkErr == nil && !ok {
				return Decision{Allowed: false, Stage: StageCostPreCheck, Reason: "budget exhausted"}, nil
			}
		}
	}

	var adapterEstimate adapter.EstimateResponse
	if a, ok := p.Adapters[model.Name]; ok {
		adapterEstimate, err = a.Estimate(ctx, adapter.EstimateRequest{PromptJSON: req.PromptJSON})
		if err != nil {
			return Decision{Allowed: false, Stage: StageDispatch, Reason: err.Error()}, nil
		}
	}

	var entry *ledger.Entry
	if p.Ledger != nil && req.EpsilonCost > 0 {
		entry, err = p.Ledger.AddEntry(req.Tenant, "inference", req.EpsilonCost, req.EpsilonCost, req.Sensitivity, map[string]interface{}{
			"request_id": req.RequestID,
			"model":      model.Name,
		})
		if err != nil {
			return Decision{Allowed: false, Stage: StageLedger, Reason: err.Error()}, nil
		}
	}

	return Decision{
		Allowed:         true,
		Stage:           StageDispatch,
		Model:           model,
		CostEstimate:    estimate,
		AdapterResponse: adapterEstimate,
		LedgerEntry:     entry,
	}, nil
}

func (p *Pipeline) checkInputHardening(req Request) error {
	if p.Firewall == nil {
		return nil
	}
	if req.Payload != nil {
		return p.Firewall.CheckStructured(req.RequestID, req.Payload, req.RequiredKeys, req.SchemaName)
	}
	return p.Firewall.CheckBytes(req.RequestID, req.PromptJSON)
}

// selectModel picks the first selectable, enabled model in family. Callers
// needing a more elaborate ranking (latency, cost, quality) should query
// Registry directly and pass the chosen model name through a narrower
// ModelFamily filter.
func (p *Pipeline) selectModel(family string) (registry.ModelEntry, error) {
	if p.Registry == nil {
		return registry.ModelEntry{}, fmt.Errorf("pipeline: no model registry configured")
	}
	for _, m := range p.Registry.GetEnabledModels() {
		if family != "" && m.Family != family {
			continue
		}
		provider, err := p.Registry.GetProvider(m.ProviderID)
		if err != nil {
			continue
		}
		if registry.Selectable(m, provider) {
			return m, nil
		}
	}
	return registry.ModelEntry{}, fmt.Errorf("pipeline: no selectable model for family %q", family)
}

// recordUsage meters every request that passes through Admit, allowed or
// not. A metering failure is swallowed: a metering outage must not block
// admission.
func (p *Pipeline) recordUsage(ctx context.Context, req Request, decision Decision) {
	event := metering.Event{
		TenantID:  req.Tenant,
		EventType: metering.EventRequest,
		Quantity:  1,
		Timestamp: p.clock(),
		Metadata: map[string]any{
			"request_id": req.RequestID,
			"allowed":    decision.Allowed,
			"stage":      string(decision.Stage),
		},
	}
	_ = p.Meter.Record(ctx, event)

	if decision.Allowed && decision.AdapterResponse.OutTokens > 0 {
		tokenEvent := metering.Event{
			TenantID:  req.Tenant,
			EventType: metering.EventLLMToken,
			Quantity:  decision.AdapterResponse.InTokens + decision.AdapterResponse.OutTokens,
			Timestamp: p.clock(),
			Metadata:  map[string]any{"request_id": req.RequestID, "model": decision.Model.Name},
		}
		_ = p.Meter.Record(ctx, tokenEvent)
	}
}
