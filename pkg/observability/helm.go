// Package observability provides router-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Router-specific semantic convention attributes.
var (
	// Request attributes
	AttrTenantID  = attribute.Key("atprouter.tenant.id")
	AttrRequestID = attribute.Key("atprouter.request.id")

	// Pipeline stage attributes
	AttrPipelineStage  = attribute.Key("atprouter.pipeline.stage")
	AttrPipelineModel  = attribute.Key("atprouter.pipeline.model")
	AttrPipelineResult = attribute.Key("atprouter.pipeline.result")

	// Speculative sampling / sub-request attributes
	AttrFanoutID     = attribute.Key("atprouter.fanout.id")
	AttrFanoutBranch = attribute.Key("atprouter.fanout.branch")
	AttrFanoutStatus = attribute.Key("atprouter.fanout.status")

	// PDP/policy attributes
	AttrPolicyDomain = attribute.Key("atprouter.policy.domain")
	AttrPolicyAction = attribute.Key("atprouter.policy.action")
	AttrPDPDecision  = attribute.Key("atprouter.pdp.decision")
	AttrPDPLatencyMs = attribute.Key("atprouter.pdp.latency_ms")

	// Finance attributes
	AttrBudgetID       = attribute.Key("atprouter.finance.budget_id")
	AttrPricingModel   = attribute.Key("atprouter.finance.model")
	AttrBudgetExceeded = attribute.Key("atprouter.finance.budget_exceeded")

	// Ledger/crypto attributes
	AttrLedgerEntryHash = attribute.Key("atprouter.ledger.entry_hash")
	AttrCryptoAlgorithm = attribute.Key("atprouter.crypto.algorithm")
	AttrCryptoOperation = attribute.Key("atprouter.crypto.operation")
	AttrCryptoKeyID     = attribute.Key("atprouter.crypto.key_id")
)

// PipelineOperation creates attributes for an admission-pipeline stage
// transition.
func PipelineOperation(tenantID, requestID, stage, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrRequestID.String(requestID),
		AttrPipelineStage.String(stage),
		AttrPipelineResult.String(result),
	}
}

// FanoutOperation creates attributes for a speculative sub-request branch.
func FanoutOperation(fanoutID, branch, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrFanoutID.String(fanoutID),
		AttrFanoutBranch.String(branch),
		AttrFanoutStatus.String(status),
	}
}

// PDPOperation creates attributes for PDP evaluation.
func PDPOperation(domain, action, decision string, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyDomain.String(domain),
		AttrPolicyAction.String(action),
		AttrPDPDecision.String(decision),
		AttrPDPLatencyMs.Float64(latencyMs),
	}
}

// BudgetOperation creates attributes for a budget/pricing check.
func BudgetOperation(budgetID, model string, exceeded bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBudgetID.String(budgetID),
		AttrPricingModel.String(model),
		AttrBudgetExceeded.Bool(exceeded),
	}
}

// LedgerOperation creates attributes for a ledger append.
func LedgerOperation(entryHash, algorithm, keyID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLedgerEntryHash.String(entryHash),
		AttrCryptoAlgorithm.String(algorithm),
		AttrCryptoKeyID.String(keyID),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
