package speculative

import (
	"context"
	"testing"

	"github.com/atprouter/core/pkg/adapter"
	"github.com/atprouter/core/pkg/events"
)

func TestConfidence(t *testing.T) {
	cases := []struct {
		name   string
		draft  []byte
		target []byte
		want   float64
	}{
		{"both empty", nil, nil, 0},
		{"draft empty", nil, []byte("x"), 0},
		{"target empty", []byte("x"), nil, 0},
		{"match", []byte("the"), []byte("the"), 0.8},
		{"mismatch", []byte("the"), []byte("a"), 0.2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Confidence(c.draft, c.target); got != c.want {
				t.Fatalf("Confidence(%q,%q) = %f, want %f", c.draft, c.target, got, c.want)
			}
		})
	}
}

func TestSampler_Speculate_AcceptsOnMatchingFirstToken(t *testing.T) {
	draft := adapter.NewEchoAdapter("draft")
	target := adapter.NewEchoAdapter("target")
	bus := events.New(nil)

	var outcomes []events.SpeculativeOutcome
	bus.OnSpeculative(func(e events.SpeculativeEvent) { outcomes = append(outcomes, e.Outcome) })

	s := New(draft, target, bus)
	attempt, err := s.Speculate(context.Background(), []byte(`"shared prompt"`), "req-1")
	if err != nil {
		t.Fatalf("Speculate: %v", err)
	}
	if attempt.Outcome != events.SpeculativeAccepted {
		t.Fatalf("expected accepted outcome (identical echo adapters produce identical first tokens), got %q", attempt.Outcome)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected attempted+accepted+latency-saved events, got %v", outcomes)
	}
}
