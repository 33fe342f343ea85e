package observability

import (
	"testing"
	"time"
)

func TestSLOSetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "compile",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status("compile")
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance with no observations")
	}
}

func TestSLOInCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "execute",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// Add 100 successful observations under latency target
	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: "execute", Latency: 100 * time.Millisecond, Success: true})
	}

	status, _ := tracker.Status("execute")
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
	if status.CurrentSuccess != 1.0 {
		t.Fatalf("expected 100%% success rate, got %.2f", status.CurrentSuccess)
	}
}

func TestSLOOutOfCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "verify",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// Add 90 success + 10 failures = 90% (below 99% target)
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "verify", Latency: 100 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "verify", Latency: 100 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("verify")
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOBurnRate(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "plan",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99, // 1% error budget
		WindowHours: 1,
	})

	// 5% error rate → burn rate = 5x
	for i := 0; i < 95; i++ {
		tracker.Record(SLOObservation{Operation: "plan", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "plan", Latency: 10 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("plan")
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
}

func TestSLONoTarget(t *testing.T) {
	tracker := NewSLOTracker()
	_, err := tracker.Status("nonexistent")
	if err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestSLOErrorBudgetLeft_FullWhenUnderBudget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "route",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.95, // 5% allowed error budget
		WindowHours: 1,
	})

	// 2% observed error rate, well within the 5% allowed budget.
	for i := 0; i < 98; i++ {
		tracker.Record(SLOObservation{Operation: "route", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 2; i++ {
		tracker.Record(SLOObservation{Operation: "route", Latency: 10 * time.Millisecond, Success: false})
	}

	status, err := tracker.Status("route")
	if err != nil {
		t.Fatal(err)
	}
	if status.ErrorBudgetLeft != 100.0 {
		t.Fatalf("expected full error budget remaining when actual rate is under the allowed budget, got %.2f", status.ErrorBudgetLeft)
	}
}

func TestSLOErrorBudgetLeft_PartiallyConsumedOverBudget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   "route2",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.95, // 5% allowed error budget
		WindowHours: 1,
	})

	// 10% observed error rate against a 5% budget: overBudgetRatio = (0.10-0.05)/0.05 = 1.0 → 0% left.
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "route2", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "route2", Latency: 10 * time.Millisecond, Success: false})
	}

	status, err := tracker.Status("route2")
	if err != nil {
		t.Fatal(err)
	}
	if status.ErrorBudgetLeft != 0.0 {
		t.Fatalf("expected error budget fully consumed at 2x the allowed rate, got %.2f", status.ErrorBudgetLeft)
	}
}

func TestCheckAllSLOs_ReturnsOnlyViolations(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{SLOID: "good", Operation: "good-op", LatencyP99: time.Second, SuccessRate: 0.9, WindowHours: 1})
	tracker.SetTarget(&SLOTarget{SLOID: "bad", Operation: "bad-op", LatencyP99: time.Second, SuccessRate: 0.99, WindowHours: 1})

	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "good-op", Latency: time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "bad-op", Latency: time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "bad-op", Latency: time.Millisecond, Success: false})
	}

	violations, err := tracker.CheckAllSLOs()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 1 || violations[0].Operation != "bad-op" {
		t.Fatalf("expected exactly one violation for bad-op, got %+v", violations)
	}

	if tracker.EnforceBudgetGates() {
		t.Fatalf("expected EnforceBudgetGates to report false with an active violation")
	}
}

func TestEnforceBudgetGates_TrueWhenAllCompliant(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{SLOID: "good", Operation: "good-op-2", LatencyP99: time.Second, SuccessRate: 0.9, WindowHours: 1})

	if !tracker.EnforceBudgetGates() {
		t.Fatalf("expected EnforceBudgetGates true with no observations and a lenient target")
	}
}
