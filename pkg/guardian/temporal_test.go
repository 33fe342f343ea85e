package guardian

import (
	"testing"
	"time"
)

// fixedClock is a test clock that returns a controllable time.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
}

func TestLoopDetector_DepthExceeded(t *testing.T) {
	clk := newFixedClock()
	d := NewLoopDetector(3, time.Minute, clk)

	reason := d.StartRequest(RequestContext{RequestID: "r1", Tenant: "t1", Depth: 4, Signature: "sig-a"})
	if reason != DenyDepthExceeded {
		t.Fatalf("expected depth_exceeded, got %q", reason)
	}
}

func TestLoopDetector_ImmediateLoop(t *testing.T) {
	clk := newFixedClock()
	d := NewLoopDetector(8, time.Minute, clk)

	if reason := d.StartRequest(RequestContext{RequestID: "r1", Tenant: "t1", Signature: "sig-a"}); reason != DenyNone {
		t.Fatalf("expected first request admitted, got %q", reason)
	}
	if reason := d.StartRequest(RequestContext{RequestID: "r2", Tenant: "t1", Signature: "sig-a"}); reason != DenyImmediateLoop {
		t.Fatalf("expected immediate_loop, got %q", reason)
	}
}

func TestLoopDetector_PatternLoop(t *testing.T) {
	clk := newFixedClock()
	d := NewLoopDetector(8, time.Minute, clk)

	for i := 0; i < patternLoopThreshold; i++ {
		id := "r" + string(rune('a'+i))
		if reason := d.StartRequest(RequestContext{RequestID: id, Tenant: "t1", Signature: "sig-repeat"}); reason != DenyNone {
			t.Fatalf("iteration %d: expected admission, got %q", i, reason)
		}
		d.EndRequest(id)
	}

	reason := d.StartRequest(RequestContext{RequestID: "rnext", Tenant: "t1", Signature: "sig-repeat"})
	if reason != DenyPatternLoop {
		t.Fatalf("expected pattern_loop after %d repeats, got %q", patternLoopThreshold, reason)
	}
}

func TestLoopDetector_EndRequestPrunesActive(t *testing.T) {
	clk := newFixedClock()
	d := NewLoopDetector(8, time.Minute, clk)

	d.StartRequest(RequestContext{RequestID: "r1", Tenant: "t1", Signature: "sig-a"})
	if d.ActiveCount() != 1 {
		t.Fatalf("expected 1 active request")
	}
	d.EndRequest("r1")
	if d.ActiveCount() != 0 {
		t.Fatalf("expected 0 active requests after EndRequest")
	}

	if reason := d.StartRequest(RequestContext{RequestID: "r2", Tenant: "t1", Signature: "sig-a"}); reason != DenyNone {
		t.Fatalf("expected re-admission after completion, got %q", reason)
	}
}

func TestRateLimiter_EscalatesTiers(t *testing.T) {
	clk := newFixedClock()
	r := NewRateLimiter(time.Minute, clk)
	saved := tierLimitPerMinute[TierNormal]
	tierLimitPerMinute[TierNormal] = 2
	defer func() { tierLimitPerMinute[TierNormal] = saved }()

	for i := 0; i < 2; i++ {
		allowed, _ := r.Allow("t1", "u1", "/infer")
		if !allowed {
			t.Fatalf("request %d should be allowed under normal tier", i)
		}
	}

	var lastAllowed bool
	for i := 0; i < 5; i++ {
		lastAllowed, _ = r.Allow("t1", "u1", "/infer")
	}
	if lastAllowed {
		t.Fatalf("expected requests beyond the normal tier limit to be denied")
	}
	if tier := r.Tier("t1", "u1", "/infer"); tier == TierNormal {
		t.Fatalf("expected tier to escalate past normal, got %q", tier)
	}
}

func TestRateLimiter_ResetViolations(t *testing.T) {
	clk := newFixedClock()
	r := NewRateLimiter(time.Minute, clk)
	r.keys[rateLimiterKey("t1", "u1", "/infer")] = &rateLimiterState{tier: TierRestricted, violations: 1, windowStart: clk.Now()}

	r.ResetViolations("t1", "u1", "/infer")
	if tier := r.Tier("t1", "u1", "/infer"); tier != TierNormal {
		t.Fatalf("expected reset to normal tier, got %q", tier)
	}
}

func TestAnomalyScorer_FlagsHighDiversity(t *testing.T) {
	clk := newFixedClock()
	a := NewAnomalyScorer(clk)

	var score float64
	for i := 0; i < 25; i++ {
		endpoint := "/ep" + string(rune('a'+i%26))
		score = a.Observe("t1", endpoint, "POST", 0)
	}
	if score <= 0 {
		t.Fatalf("expected nonzero anomaly score from high endpoint diversity, got %f", score)
	}
}

func TestAnomalyScorer_BansOnSustainedAnomaly(t *testing.T) {
	clk := newFixedClock()
	a := NewAnomalyScorer(clk)

	for i := 0; i < 200; i++ {
		endpoint := "/ep" + string(rune('a'+i%26))
		a.Observe("t1", endpoint, "POST", 10)
	}
	if !a.IsBanned("t1") {
		t.Fatalf("expected tenant to be banned after sustained high-signal anomaly")
	}
}

func TestCircuitBreakers_OpensAfterThreshold(t *testing.T) {
	clk := newFixedClock()
	cb := NewCircuitBreakers(3, 10*time.Second, 1, clk)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("t1", "/infer")
	}
	if cb.State("t1", "/infer") != BreakerOpen {
		t.Fatalf("expected breaker open after 3 failures")
	}
	if cb.Allow("t1", "/infer") {
		t.Fatalf("expected open breaker to deny calls")
	}
}

func TestCircuitBreakers_HalfOpenRecovery(t *testing.T) {
	clk := newFixedClock()
	cb := NewCircuitBreakers(2, 5*time.Second, 1, clk)

	cb.RecordFailure("t1", "/infer")
	cb.RecordFailure("t1", "/infer")
	if cb.State("t1", "/infer") != BreakerOpen {
		t.Fatalf("expected open")
	}

	clk.Advance(6 * time.Second)
	if !cb.Allow("t1", "/infer") {
		t.Fatalf("expected half-open trial call to be allowed")
	}
	cb.RecordSuccess("t1", "/infer")
	if cb.State("t1", "/infer") != BreakerClosed {
		t.Fatalf("expected breaker to close after half-open success")
	}
}

func TestCircuitBreakers_Call(t *testing.T) {
	clk := newFixedClock()
	cb := NewCircuitBreakers(1, time.Second, 1, clk)

	err := cb.Call("t1", "/infer", func() error { return errBoom })
	if err == nil {
		t.Fatalf("expected wrapped error to propagate")
	}
	if cb.State("t1", "/infer") != BreakerOpen {
		t.Fatalf("expected breaker to open after Call failure")
	}

	err = cb.Call("t1", "/infer", func() error { return nil })
	if err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen while breaker is open, got %v", err)
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestEngine_CheckRequest_AllowsThenDetectsLoop(t *testing.T) {
	clk := newFixedClock()
	e := NewEngine(DefaultEngineConfig(), clk)

	req := RequestContext{RequestID: "r1", Tenant: "t1", User: "u1", Endpoint: "/infer", Signature: "sig-a"}
	d := e.CheckRequest(req, "10.0.0.1")
	if !d.Allowed {
		t.Fatalf("expected first request admitted, got reason %q", d.Reason)
	}

	d2 := e.CheckRequest(RequestContext{RequestID: "r2", Tenant: "t1", User: "u1", Endpoint: "/infer", Signature: "sig-a"}, "10.0.0.1")
	if d2.Allowed || d2.Reason != DenyImmediateLoop {
		t.Fatalf("expected immediate_loop denial, got %+v", d2)
	}
	if d2.Event == nil || d2.Event.Action != "blocked" {
		t.Fatalf("expected an abuse event recorded for the denial")
	}

	e.EndRequest(req, true)
	if len(e.Events()) != 1 {
		t.Fatalf("expected exactly one recorded abuse event, got %d", len(e.Events()))
	}
}
