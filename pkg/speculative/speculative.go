// Package speculative implements draft/target speculative sampling: a
// cheap draft adapter proposes a continuation, a target adapter is queried
// only far enough to validate the draft's first token, and the draft is
// accepted outright whenever that token matches — saving the latency of a
// full target generation on the common case.
package speculative

import (
	"context"
	"fmt"
	"time"

	"github.com/atprouter/core/pkg/adapter"
	"github.com/atprouter/core/pkg/events"
)

// Attempt is the outcome of one speculative-sampling round.
type Attempt struct {
	Outcome        events.SpeculativeOutcome
	Confidence     float64
	DraftChunk     adapter.StreamChunk
	TargetChunk    adapter.StreamChunk
	LatencySavedMs float64
}

// Sampler runs draft/target speculative sampling for a single model family,
// emitting a SpeculativeEvent at each stage via bus.
type Sampler struct {
	draft  adapter.Adapter
	target adapter.Adapter
	bus    *events.Bus
}

// New creates a Sampler pairing draft (fast, cheap) with target
// (authoritative) adapters.
func New(draft, target adapter.Adapter, bus *events.Bus) *Sampler {
	return &Sampler{draft: draft, target: target, bus: bus}
}

// Confidence scores how much the draft's first emitted token is trusted:
// 0 if either chunk is empty/absent, 0.8 if the first token matches the
// target's first token exactly, 0.2 otherwise.
func Confidence(draftFirst, targetFirst []byte) float64 {
	if len(draftFirst) == 0 || len(targetFirst) == 0 {
		return 0
	}
	if string(draftFirst) == string(targetFirst) {
		return 0.8
	}
	return 0.2
}

// Speculate runs the draft adapter, then enough of the target adapter to
// compare first tokens, and emits the corresponding sequence of
// SpeculativeEvents (attempted, then accepted/rejected, then, on accept, a
// latency-saved event carrying the estimated savings).
func (s *Sampler) Speculate(ctx context.Context, prompt []byte, requestID string) (Attempt, error) {
	s.emit(events.SpeculativeEvent{Outcome: events.SpeculativeAttempted, ModelName: s.draft.Name(), RequestID: requestID})

	draftStart := time.Now()
	draftCh, err := s.draft.Stream(ctx, adapter.StreamRequest{PromptJSON: prompt})
	if err != nil {
		return Attempt{}, fmt.Errorf("speculative: draft stream: %w", err)
	}
	draftFirst, ok := firstTokenChunk(draftCh)
	draftLatency := time.Since(draftStart)
	if !ok {
		return s.reject(requestID, adapter.StreamChunk{}, adapter.StreamChunk{}, 0), nil
	}

	targetStart := time.Now()
	targetCh, err := s.target.Stream(ctx, adapter.StreamRequest{PromptJSON: prompt})
	if err != nil {
		return Attempt{}, fmt.Errorf("speculative: target stream: %w", err)
	}
	targetFirst, ok := firstTokenChunk(targetCh)
	targetFirstLatency := time.Since(targetStart)
	if !ok {
		return s.reject(requestID, draftFirst, adapter.StreamChunk{}, 0), nil
	}

	confidence := Confidence(draftFirst.ContentJSON, targetFirst.ContentJSON)
	if confidence >= 0.8 {
		saved := estimateSavedMs(draftLatency, targetFirstLatency)
		return s.accept(requestID, draftFirst, targetFirst, confidence, saved), nil
	}
	return s.reject(requestID, draftFirst, targetFirst, confidence), nil
}

func (s *Sampler) accept(requestID string, draft, target adapter.StreamChunk, confidence, savedMs float64) Attempt {
	conf := confidence
	s.emit(events.SpeculativeEvent{Outcome: events.SpeculativeAccepted, ModelName: s.draft.Name(), RequestID: requestID, Confidence: &conf})
	saved := savedMs
	s.emit(events.SpeculativeEvent{Outcome: events.SpeculativeLatencySaved, ModelName: s.draft.Name(), RequestID: requestID, LatencySavedMs: &saved})
	return Attempt{Outcome: events.SpeculativeAccepted, Confidence: confidence, DraftChunk: draft, TargetChunk: target, LatencySavedMs: savedMs}
}

func (s *Sampler) reject(requestID string, draft, target adapter.StreamChunk, confidence float64) Attempt {
	conf := confidence
	s.emit(events.SpeculativeEvent{Outcome: events.SpeculativeRejected, ModelName: s.draft.Name(), RequestID: requestID, Confidence: &conf})
	return Attempt{Outcome: events.SpeculativeRejected, Confidence: confidence, DraftChunk: draft, TargetChunk: target}
}

func (s *Sampler) emit(ev events.SpeculativeEvent) {
	if s.bus != nil {
		s.bus.EmitSpeculative(ev)
	}
}

// estimateSavedMs approximates the latency a caller avoided by accepting
// the draft instead of waiting on the full target generation: the
// difference between the draft's first-token time and the target's.
func estimateSavedMs(draftLatency, targetFirstLatency time.Duration) float64 {
	saved := targetFirstLatency - draftLatency
	if saved < 0 {
		return 0
	}
	return float64(saved.Microseconds()) / 1000.0
}

func firstTokenChunk(ch <-chan adapter.StreamChunk) (adapter.StreamChunk, bool) {
	for chunk := range ch {
		if chunk.Type == adapter.ChunkToken {
			return chunk, true
		}
		if chunk.Type == adapter.ChunkError || chunk.Type == adapter.ChunkDone {
			break
		}
	}
	return adapter.StreamChunk{}, false
}
