package orchestrator

import (
	"fmt"
	"testing"
)

func TestSession_ReadyRespectsDependencies(t *testing.T) {
	s := NewSession("sess-1")
	mustAdd(t, s, SubRequest{ID: "a"})
	mustAdd(t, s, SubRequest{ID: "b", DependsOn: []string{"a"}})
	mustAdd(t, s, SubRequest{ID: "c", DependsOn: []string{"a"}})
	mustAdd(t, s, SubRequest{ID: "d", DependsOn: []string{"b", "c"}})

	ready := s.Ready()
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected only 'a' ready initially, got %v", ready)
	}

	if err := s.MarkRunning("a"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := s.MarkDone("a", nil); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	ready = s.Ready()
	if len(ready) != 2 {
		t.Fatalf("expected b and c ready after a completes, got %v", ready)
	}

	s.MarkRunning("b")
	s.MarkDone("b", nil)
	s.MarkRunning("c")
	s.MarkDone("c", nil)

	ready = s.Ready()
	if len(ready) != 1 || ready[0] != "d" {
		t.Fatalf("expected only 'd' ready after b,c complete, got %v", ready)
	}
}

func TestSession_FailurePropagatesToDependents(t *testing.T) {
	s := NewSession("sess-2")
	mustAdd(t, s, SubRequest{ID: "a"})
	mustAdd(t, s, SubRequest{ID: "b", DependsOn: []string{"a"}})
	mustAdd(t, s, SubRequest{ID: "c", DependsOn: []string{"b"}})

	s.MarkRunning("a")
	if err := s.MarkFailed("a", errTest); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if !s.IsComplete() {
		t.Fatalf("expected session complete once failure propagates through the whole chain")
	}
	if !s.Failed() {
		t.Fatalf("expected Failed() true")
	}
	b, _ := s.Get("b")
	if b.Status != SubRequestFailed {
		t.Fatalf("expected b to be marked failed by propagation, got %s", b.Status)
	}
	c, _ := s.Get("c")
	if c.Status != SubRequestFailed {
		t.Fatalf("expected c to be marked failed by transitive propagation, got %s", c.Status)
	}
}

func TestSession_RejectsDuplicateAndSelfDependency(t *testing.T) {
	s := NewSession("sess-3")
	mustAdd(t, s, SubRequest{ID: "a"})
	if err := s.AddSubRequest(SubRequest{ID: "a"}); err == nil {
		t.Fatalf("expected duplicate ID to be rejected")
	}
	if err := s.AddSubRequest(SubRequest{ID: "b", DependsOn: []string{"b"}}); err == nil {
		t.Fatalf("expected self-dependency to be rejected")
	}
}

func TestSession_IsCompleteFalseWhilePending(t *testing.T) {
	s := NewSession("sess-4")
	mustAdd(t, s, SubRequest{ID: "a"})
	if s.IsComplete() {
		t.Fatalf("expected incomplete session with a pending sub-request")
	}
}

func mustAdd(t *testing.T, s *OrchestrationSession, sr SubRequest) {
	t.Helper()
	if err := s.AddSubRequest(sr); err != nil {
		t.Fatalf("AddSubRequest(%s): %v", sr.ID, err)
	}
}

var errTest = fmt.Errorf("boom")
