package adapter

import (
	"context"
	"time"
)

// EchoAdapter is a minimal in-process Adapter used for local development,
// tests, and dry-run dispatch: it streams its input back token-by-token and
// derives Estimate/Health purely from recorded Stats.
type EchoAdapter struct {
	name  string
	stats *Stats
}

// NewEchoAdapter creates an EchoAdapter identified by name.
func NewEchoAdapter(name string) *EchoAdapter {
	return &EchoAdapter{name: name, stats: NewStats(200)}
}

func (e *EchoAdapter) Name() string { return e.name }

func (e *EchoAdapter) Estimate(ctx context.Context, req EstimateRequest) (EstimateResponse, error) {
	est := e.stats.Estimate()
	if est.Confidence == 0 {
		// No history yet: fall back to a cheap heuristic off prompt size.
		tokens := int64(len(req.PromptJSON) / 4)
		return EstimateResponse{InTokens: tokens, OutTokens: tokens, Confidence: 0.1}, nil
	}
	return est, nil
}

func (e *EchoAdapter) Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 1)
	go func() {
		defer close(out)
		start := time.Now()
		select {
		case out <- StreamChunk{Type: ChunkToken, ContentJSON: req.PromptJSON, Confidence: 1.0, More: true}:
		case <-ctx.Done():
			return
		}
		select {
		case out <- StreamChunk{Type: ChunkDone, More: false}:
		case <-ctx.Done():
			return
		}
		e.stats.Record(int64(len(req.PromptJSON)/4), 0, time.Since(start), false)
	}()
	return out, nil
}

func (e *EchoAdapter) Health(ctx context.Context, req HealthRequest) (HealthResponse, error) {
	return e.stats.Health(), nil
}
