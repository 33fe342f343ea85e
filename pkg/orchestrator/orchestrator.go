// Package orchestrator runs a request that has been decomposed into a DAG
// of sub-requests: each sub-request names the others it depends on, and the
// orchestration session tracks readiness (all dependencies complete, not
// yet started) and overall completion as sub-requests finish.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SubRequestStatus is the lifecycle state of one sub-request within a
// session.
type SubRequestStatus string

const (
	SubRequestPending SubRequestStatus = "pending"
	SubRequestRunning SubRequestStatus = "running"
	SubRequestDone    SubRequestStatus = "done"
	SubRequestFailed  SubRequestStatus = "failed"
)

// SubRequest is one node in an orchestration session's dependency DAG.
type SubRequest struct {
	ID         string
	Endpoint   string
	PromptJSON json.RawMessage
	DependsOn  []string

	Status    SubRequestStatus
	Result    json.RawMessage
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// OrchestrationSession tracks a set of sub-requests and their dependency
// edges for one top-level request.
type OrchestrationSession struct {
	mu      sync.Mutex
	ID      string
	clock   func() time.Time
	subs    map[string]*SubRequest
	order   []string // insertion order, for deterministic iteration
}

// NewSession creates an empty orchestration session identified by id.
func NewSession(id string) *OrchestrationSession {
	return &OrchestrationSession{
		ID:    id,
		clock: time.Now,
		subs:  make(map[string]*SubRequest),
	}
}

// AddSubRequest registers a sub-request with its dependency edges. Adding a
// sub-request whose ID already exists, or that depends on an unknown ID
// (including itself), is an error.
func (s *OrchestrationSession) AddSubRequest(sr SubRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sr.ID]; exists {
		return fmt.Errorf("orchestrator: sub-request %q already registered", sr.ID)
	}
	for _, dep := range sr.DependsOn {
		if dep == sr.ID {
			return fmt.Errorf("orchestrator: sub-request %q cannot depend on itself", sr.ID)
		}
	}
	sr.Status = SubRequestPending
	s.subs[sr.ID] = &sr
	s.order = append(s.order, sr.ID)
	return nil
}

// Ready returns the IDs of sub-requests that are still pending and whose
// every dependency has reached SubRequestDone, in insertion order.
func (s *OrchestrationSession) Ready() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []string
	for _, id := range s.order {
		sr := s.subs[id]
		if sr.Status != SubRequestPending {
			continue
		}
		if s.dependenciesSatisfiedLocked(sr) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (s *OrchestrationSession) dependenciesSatisfiedLocked(sr *SubRequest) bool {
	for _, dep := range sr.DependsOn {
		depReq, ok := s.subs[dep]
		if !ok || depReq.Status != SubRequestDone {
			return false
		}
	}
	return true
}

// MarkRunning transitions a pending sub-request to running.
func (s *OrchestrationSession) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("orchestrator: unknown sub-request %q", id)
	}
	if sr.Status != SubRequestPending {
		return fmt.Errorf("orchestrator: sub-request %q is not pending (status=%s)", id, sr.Status)
	}
	sr.Status = SubRequestRunning
	sr.StartedAt = s.clock()
	return nil
}

// MarkDone transitions a running sub-request to done, recording its result.
func (s *OrchestrationSession) MarkDone(id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("orchestrator: unknown sub-request %q", id)
	}
	sr.Status = SubRequestDone
	sr.Result = result
	sr.EndedAt = s.clock()
	return nil
}

// MarkFailed transitions a running sub-request to failed, recording the
// error. Any sub-requests that transitively depend on it, directly or
// indirectly, are also marked failed with a propagation error, since they
// can never become ready.
func (s *OrchestrationSession) MarkFailed(id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("orchestrator: unknown sub-request %q", id)
	}
	sr.Status = SubRequestFailed
	sr.Err = cause
	sr.EndedAt = s.clock()
	s.propagateFailureLocked(id)
	return nil
}

func (s *OrchestrationSession) propagateFailureLocked(failedID string) {
	changed := true
	for changed {
		changed = false
		for _, id := range s.order {
			sr := s.subs[id]
			if sr.Status != SubRequestPending {
				continue
			}
			for _, dep := range sr.DependsOn {
				if depReq := s.subs[dep]; depReq != nil && depReq.Status == SubRequestFailed {
					sr.Status = SubRequestFailed
					sr.Err = fmt.Errorf("orchestrator: upstream dependency %q failed", dep)
					changed = true
					break
				}
			}
		}
	}
}

// IsComplete reports whether every sub-request has reached a terminal
// state (done or failed).
func (s *OrchestrationSession) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sr := range s.subs {
		if sr.Status == SubRequestPending || sr.Status == SubRequestRunning {
			return false
		}
	}
	return true
}

// Failed reports whether any sub-request in the session ended failed.
func (s *OrchestrationSession) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sr := range s.subs {
		if sr.Status == SubRequestFailed {
			return true
		}
	}
	return false
}

// Get returns a copy of the current state of sub-request id.
func (s *OrchestrationSession) Get(id string) (SubRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.subs[id]
	if !ok {
		return SubRequest{}, false
	}
	return *sr, true
}

// Snapshot returns a copy of every sub-request in insertion order.
func (s *OrchestrationSession) Snapshot() []SubRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubRequest, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.subs[id])
	}
	return out
}
