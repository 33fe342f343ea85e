// Package guardian implements the routing plane's abuse-prevention engine:
// a loop detector, a progressive rate limiter, a per-tenant anomaly scorer,
// and per-(tenant,endpoint) circuit breakers, composed behind a single
// CheckRequest call that the admission pipeline consults before dispatch.
package guardian

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Clock provides authority time for the guardian's sliding windows.
type Clock interface {
	Now() time.Time
}

// wallClock is the default clock.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// RequestContext describes an in-flight admission request for loop
// detection and anomaly scoring purposes.
type RequestContext struct {
	RequestID string
	Tenant    string
	User      string
	Endpoint  string
	Method    string
	Depth     int    // sub-request nesting depth (0 for a top-level request)
	Signature string // caller-computed fingerprint of (endpoint, params) used to detect repeats
}

// ThreatLevel grades the severity of an abuse determination.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// AbuseEvent records one blocked or logged abuse determination.
type AbuseEvent struct {
	ID        string
	Timestamp time.Time
	Tenant    string
	User      string
	Address   string
	Reason    string
	Level     ThreatLevel
	Detail    map[string]interface{}
	Action    string // "blocked" or "logged"
}

// DenialReason enumerates why CheckRequest refused a request.
type DenialReason string

const (
	DenyNone           DenialReason = ""
	DenyDepthExceeded  DenialReason = "depth_exceeded"
	DenyImmediateLoop  DenialReason = "immediate_loop"
	DenyPatternLoop    DenialReason = "pattern_loop"
	DenyRateLimited    DenialReason = "rate_limited"
	DenyAnomalyBlocked DenialReason = "anomaly_blocked"
	DenyEntityBanned   DenialReason = "entity_banned"
	DenyCircuitOpen    DenialReason = "circuit_open"
)

// Decision is the outcome of CheckRequest.
type Decision struct {
	Allowed    bool
	Reason     DenialReason
	RetryAfter time.Duration
	Event      *AbuseEvent
}

// ===== Loop detector =====

type loopHistoryEntry struct {
	signature   string
	completedAt time.Time
}

// LoopDetector tracks in-flight requests by signature to reject immediate
// re-entrant loops and, via a bounded per-tenant completion history, tight
// repeating patterns.
type LoopDetector struct {
	mu         sync.Mutex
	clock      Clock
	maxDepth   int
	loopWindow time.Duration

	active  map[string]RequestContext            // requestID -> context
	history map[string][]loopHistoryEntry         // tenant -> recent completions
	sigOf   map[string]map[string]int             // tenant -> signature -> active count
}

// NewLoopDetector creates a detector with the given maximum nesting depth
// and pattern-detection window.
func NewLoopDetector(maxDepth int, loopWindow time.Duration, clock Clock) *LoopDetector {
	if clock == nil {
		clock = wallClock{}
	}
	return &LoopDetector{
		clock:      clock,
		maxDepth:   maxDepth,
		loopWindow: loopWindow,
		active:     make(map[string]RequestContext),
		history:    make(map[string][]loopHistoryEntry),
		sigOf:      make(map[string]map[string]int),
	}
}

const patternLoopThreshold = 5

// StartRequest admits req into the active set, or returns a denial reason.
func (d *LoopDetector) StartRequest(req RequestContext) DenialReason {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.maxDepth > 0 && req.Depth > d.maxDepth {
		return DenyDepthExceeded
	}

	if counts, ok := d.sigOf[req.Tenant]; ok && counts[req.Signature] > 0 {
		return DenyImmediateLoop
	}

	now := d.clock.Now()
	d.pruneHistoryLocked(req.Tenant, now)
	completions := 0
	for _, h := range d.history[req.Tenant] {
		if h.signature == req.Signature {
			completions++
		}
	}
	if completions >= patternLoopThreshold {
		return DenyPatternLoop
	}

	d.active[req.RequestID] = req
	if d.sigOf[req.Tenant] == nil {
		d.sigOf[req.Tenant] = make(map[string]int)
	}
	d.sigOf[req.Tenant][req.Signature]++
	return DenyNone
}

// EndRequest removes a request from the active set and records it into the
// tenant's completion history for pattern-loop detection.
func (d *LoopDetector) EndRequest(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, ok := d.active[requestID]
	if !ok {
		return
	}
	delete(d.active, requestID)
	if counts := d.sigOf[req.Tenant]; counts != nil {
		counts[req.Signature]--
		if counts[req.Signature] <= 0 {
			delete(counts, req.Signature)
		}
	}

	now := d.clock.Now()
	d.history[req.Tenant] = append(d.history[req.Tenant], loopHistoryEntry{signature: req.Signature, completedAt: now})
	d.pruneHistoryLocked(req.Tenant, now)
}

// pruneHistoryLocked evicts completion history older than 2x the loop
// window. Caller must hold mu.
func (d *LoopDetector) pruneHistoryLocked(tenant string, now time.Time) {
	cutoff := now.Add(-2 * d.loopWindow)
	entries := d.history[tenant]
	i := 0
	for i < len(entries) && entries[i].completedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.history[tenant] = entries[i:]
	}
}

// Sweep evicts stale history across all tenants; intended to run
// periodically from a background goroutine.
func (d *LoopDetector) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	for tenant := range d.history {
		d.pruneHistoryLocked(tenant, now)
	}
}

// ActiveCount returns the number of requests currently in flight.
func (d *LoopDetector) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// ===== Progressive rate limiter =====

// RateTier is an escalation level in the progressive rate limiter.
type RateTier string

const (
	TierNormal     RateTier = "normal"
	TierElevated   RateTier = "elevated"
	TierRestricted RateTier = "restricted"
	TierBlocked    RateTier = "blocked"
)

var tierLimitPerMinute = map[RateTier]int{
	TierNormal:     1000,
	TierElevated:   500,
	TierRestricted: 100,
	TierBlocked:    10,
}

var tierEscalation = map[RateTier]struct {
	violationsToEscalate int
	next                 RateTier
}{
	TierNormal:     {violationsToEscalate: 5, next: TierElevated},
	TierElevated:   {violationsToEscalate: 3, next: TierRestricted},
	TierRestricted: {violationsToEscalate: 2, next: TierBlocked},
}

const blockedDuration = 300 * time.Second

type rateLimiterState struct {
	tier          RateTier
	violations    int
	windowStart   time.Time
	windowCount   int
	blockedUntil  time.Time
}

// RateLimiter enforces a progressive per-key (tenant, user, endpoint) rate
// limit: repeated violations escalate the key through normal -> elevated ->
// restricted -> blocked tiers, each with a tighter per-minute cap.
type RateLimiter struct {
	mu     sync.Mutex
	clock  Clock
	window time.Duration
	keys   map[string]*rateLimiterState
}

// NewRateLimiter creates a rate limiter using a sliding window of the given
// duration (typically one minute).
func NewRateLimiter(window time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = wallClock{}
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{clock: clock, window: window, keys: make(map[string]*rateLimiterState)}
}

func rateLimiterKey(tenant, user, endpoint string) string {
	return tenant + "|" + user + "|" + endpoint
}

// Allow records one request against (tenant, user, endpoint) and reports
// whether it is permitted, along with a retry-after duration when it is not.
func (r *RateLimiter) Allow(tenant, user, endpoint string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rateLimiterKey(tenant, user, endpoint)
	now := r.clock.Now()
	st, ok := r.keys[key]
	if !ok {
		st = &rateLimiterState{tier: TierNormal, windowStart: now}
		r.keys[key] = st
	}

	if st.tier == TierBlocked && now.Before(st.blockedUntil) {
		return false, st.blockedUntil.Sub(now)
	}
	if st.tier == TierBlocked && !now.Before(st.blockedUntil) {
		st.tier = TierNormal
		st.violations = 0
	}

	if now.Sub(st.windowStart) >= r.window {
		st.windowStart = now
		st.windowCount = 0
	}
	st.windowCount++

	limit := tierLimitPerMinute[st.tier]
	if st.windowCount <= limit {
		return true, 0
	}

	st.violations++
	esc, hasEsc := tierEscalation[st.tier]
	if hasEsc && st.violations >= esc.violationsToEscalate {
		st.tier = esc.next
		st.violations = 0
		if st.tier == TierBlocked {
			st.blockedUntil = now.Add(blockedDuration)
			return false, blockedDuration
		}
	}
	return false, r.window - now.Sub(st.windowStart)
}

// ResetViolations returns a key to the normal tier, clearing its violation
// count. Used to rehabilitate a key after manual review.
func (r *RateLimiter) ResetViolations(tenant, user, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rateLimiterKey(tenant, user, endpoint)
	if st, ok := r.keys[key]; ok {
		st.tier = TierNormal
		st.violations = 0
	}
}

// Tier reports the current tier for a key, for observability.
func (r *RateLimiter) Tier(tenant, user, endpoint string) RateTier {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.keys[rateLimiterKey(tenant, user, endpoint)]; ok {
		return st.tier
	}
	return TierNormal
}

// ===== Anomaly scorer =====

type anomalySample struct {
	timestamp time.Time
	endpoint  string
	method    string
	depth     int
}

// AnomalyScorer maintains a rolling 10-minute window of request samples per
// tenant and combines request frequency, endpoint diversity, mean nesting
// depth, and method-distribution entropy into a single score in [0,1].
type AnomalyScorer struct {
	mu          sync.Mutex
	clock       Clock
	window      time.Duration
	samples     map[string][]anomalySample
	bannedUntil map[string]time.Time
}

// NewAnomalyScorer creates a scorer with a 10-minute rolling window.
func NewAnomalyScorer(clock Clock) *AnomalyScorer {
	if clock == nil {
		clock = wallClock{}
	}
	return &AnomalyScorer{
		clock:       clock,
		window:      10 * time.Minute,
		samples:     make(map[string][]anomalySample),
		bannedUntil: make(map[string]time.Time),
	}
}

const (
	anomalyFrequencyThreshold = 100
	anomalyDiversityThreshold = 20
	anomalyDepthThreshold     = 5.0
	anomalyEntropyThreshold   = 1.5
	anomalyScoreThreshold     = 0.8
	anomalyBanThreshold       = 0.9
	anomalyBanDuration        = 10 * time.Minute
)

// Observe records a sample for tenant and returns the tenant's current
// anomaly score in [0,1].
func (a *AnomalyScorer) Observe(tenant, endpoint, method string, depth int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.samples[tenant] = append(a.prune(tenant, now), anomalySample{
		timestamp: now, endpoint: endpoint, method: method, depth: depth,
	})

	return a.scoreLocked(tenant)
}

// IsBanned reports whether tenant is currently under a temporary anomaly
// ban.
func (a *AnomalyScorer) IsBanned(tenant string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.bannedUntil[tenant]
	return ok && a.clock.Now().Before(until)
}

func (a *AnomalyScorer) prune(tenant string, now time.Time) []anomalySample {
	cutoff := now.Add(-a.window)
	existing := a.samples[tenant]
	i := 0
	for i < len(existing) && existing[i].timestamp.Before(cutoff) {
		i++
	}
	return existing[i:]
}

func (a *AnomalyScorer) scoreLocked(tenant string) float64 {
	samples := a.samples[tenant]
	if len(samples) == 0 {
		return 0
	}

	endpoints := make(map[string]struct{})
	methodCounts := make(map[string]int)
	depthSum := 0
	for _, s := range samples {
		endpoints[s.endpoint] = struct{}{}
		methodCounts[s.method]++
		depthSum += s.depth
	}
	meanDepth := float64(depthSum) / float64(len(samples))
	entropy := shannonEntropy(methodCounts, len(samples))

	var signals float64
	var fired float64
	signals++
	if len(samples) > anomalyFrequencyThreshold {
		fired++
	}
	signals++
	if len(endpoints) > anomalyDiversityThreshold {
		fired++
	}
	signals++
	if meanDepth > anomalyDepthThreshold {
		fired++
	}
	signals++
	if entropy > anomalyEntropyThreshold {
		fired++
	}

	score := fired / signals
	if score > anomalyBanThreshold {
		a.bannedUntil[tenant] = a.clock.Now().Add(anomalyBanDuration)
	}
	return score
}

func shannonEntropy(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// ===== Circuit breaker =====

// BreakerState is one of the three standard circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type breakerEntry struct {
	state           BreakerState
	failures        int
	openedAt        time.Time
	halfOpenInGame  int
}

// CircuitBreakers tracks per-(tenant,endpoint) circuit breaker state: a
// breaker opens after failureThreshold consecutive failures, stays open for
// recoveryTimeout, then allows a bounded number of half-open trial calls
// before closing again on success or re-opening on any failure.
type CircuitBreakers struct {
	mu               sync.Mutex
	clock            Clock
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenBudget   int
	breakers         map[string]*breakerEntry
}

// NewCircuitBreakers creates a breaker set with the given failure threshold,
// recovery timeout, and half-open call budget.
func NewCircuitBreakers(failureThreshold int, recoveryTimeout time.Duration, halfOpenBudget int, clock Clock) *CircuitBreakers {
	if clock == nil {
		clock = wallClock{}
	}
	if halfOpenBudget <= 0 {
		halfOpenBudget = 1
	}
	return &CircuitBreakers{
		clock:            clock,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenBudget:   halfOpenBudget,
		breakers:         make(map[string]*breakerEntry),
	}
}

func breakerKey(tenant, endpoint string) string { return tenant + "|" + endpoint }

// Allow reports whether a call against (tenant, endpoint) may proceed,
// transitioning open breakers to half-open once the recovery timeout has
// elapsed.
func (c *CircuitBreakers) Allow(tenant, endpoint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(tenant, endpoint)

	switch e.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if c.clock.Now().Sub(e.openedAt) >= c.recoveryTimeout {
			e.state = BreakerHalfOpen
			e.halfOpenInGame = 0
			return c.allowHalfOpenLocked(e)
		}
		return false
	case BreakerHalfOpen:
		return c.allowHalfOpenLocked(e)
	default:
		return true
	}
}

func (c *CircuitBreakers) allowHalfOpenLocked(e *breakerEntry) bool {
	if e.halfOpenInGame >= c.halfOpenBudget {
		return false
	}
	e.halfOpenInGame++
	return true
}

// RecordSuccess reports a successful call, closing a half-open breaker.
func (c *CircuitBreakers) RecordSuccess(tenant, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(tenant, endpoint)
	e.state = BreakerClosed
	e.failures = 0
	e.halfOpenInGame = 0
}

// RecordFailure reports a failed call, opening the breaker once the failure
// threshold is reached (or immediately, from half-open).
func (c *CircuitBreakers) RecordFailure(tenant, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(tenant, endpoint)
	if e.state == BreakerHalfOpen {
		e.state = BreakerOpen
		e.openedAt = c.clock.Now()
		return
	}
	e.failures++
	if e.failures >= c.failureThreshold {
		e.state = BreakerOpen
		e.openedAt = c.clock.Now()
	}
}

func (c *CircuitBreakers) entryLocked(tenant, endpoint string) *breakerEntry {
	key := breakerKey(tenant, endpoint)
	e, ok := c.breakers[key]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		c.breakers[key] = e
	}
	return e
}

// State reports the current breaker state for (tenant, endpoint).
func (c *CircuitBreakers) State(tenant, endpoint string) BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entryLocked(tenant, endpoint).state
}

// Call invokes fn through the breaker for (tenant, endpoint), recording the
// outcome. It returns ErrCircuitOpen without calling fn when the breaker is
// open or the half-open trial budget is exhausted.
func (c *CircuitBreakers) Call(tenant, endpoint string, fn func() error) error {
	if !c.Allow(tenant, endpoint) {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		c.RecordFailure(tenant, endpoint)
		return err
	}
	c.RecordSuccess(tenant, endpoint)
	return nil
}

// ErrCircuitOpen is returned by Call when the breaker rejects the attempt.
var ErrCircuitOpen = fmt.Errorf("guardian: circuit open")

// ===== Composed abuse-prevention engine =====

// EngineConfig bundles the tunables for each guardian subsystem.
type EngineConfig struct {
	MaxDepth             int
	LoopWindow           time.Duration
	RateLimitWindow      time.Duration
	CircuitFailThreshold int
	CircuitRecovery      time.Duration
	CircuitHalfOpenCalls int
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxDepth:             8,
		LoopWindow:           60 * time.Second,
		RateLimitWindow:      time.Minute,
		CircuitFailThreshold: 5,
		CircuitRecovery:      30 * time.Second,
		CircuitHalfOpenCalls: 1,
	}
}

// Engine composes the loop detector, progressive rate limiter, anomaly
// scorer, and circuit breakers behind a single CheckRequest/EndRequest pair.
type Engine struct {
	clock    Clock
	loops    *LoopDetector
	rates    *RateLimiter
	anomaly  *AnomalyScorer
	breakers *CircuitBreakers

	mu     sync.Mutex
	events []AbuseEvent
	seq    uint64
}

// NewEngine creates an abuse-prevention engine from cfg.
func NewEngine(cfg EngineConfig, clock Clock) *Engine {
	if clock == nil {
		clock = wallClock{}
	}
	return &Engine{
		clock:    clock,
		loops:    NewLoopDetector(cfg.MaxDepth, cfg.LoopWindow, clock),
		rates:    NewRateLimiter(cfg.RateLimitWindow, clock),
		anomaly:  NewAnomalyScorer(clock),
		breakers: NewCircuitBreakers(cfg.CircuitFailThreshold, cfg.CircuitRecovery, cfg.CircuitHalfOpenCalls, clock),
	}
}

// CheckRequest runs req through entity-ban, rate-limit, loop-detection, and
// anomaly checks (in that order), then reports the destination breaker's
// state. Any denial is recorded as an AbuseEvent.
func (e *Engine) CheckRequest(req RequestContext, address string) Decision {
	if e.anomaly.IsBanned(req.Tenant) {
		return e.deny(req, address, DenyEntityBanned, ThreatCritical, "tenant under temporary anomaly ban", 0)
	}

	if allowed, retryAfter := e.rates.Allow(req.Tenant, req.User, req.Endpoint); !allowed {
		return e.deny(req, address, DenyRateLimited, ThreatMedium, "rate limit exceeded", retryAfter)
	}

	if reason := e.loops.StartRequest(req); reason != DenyNone {
		return e.deny(req, address, reason, ThreatHigh, string(reason), 0)
	}

	score := e.anomaly.Observe(req.Tenant, req.Endpoint, req.Method, req.Depth)
	if score > anomalyBanThreshold {
		e.loops.EndRequest(req.RequestID)
		return e.deny(req, address, DenyAnomalyBlocked, ThreatCritical, fmt.Sprintf("anomaly score %.2f", score), 0)
	}
	if score > anomalyScoreThreshold {
		e.loops.EndRequest(req.RequestID)
		return e.deny(req, address, DenyAnomalyBlocked, ThreatHigh, fmt.Sprintf("anomaly score %.2f", score), 0)
	}

	if !e.breakers.Allow(req.Tenant, req.Endpoint) {
		e.loops.EndRequest(req.RequestID)
		return e.deny(req, address, DenyCircuitOpen, ThreatMedium, "circuit open", e.breakerRecoveryLocked())
	}

	return Decision{Allowed: true}
}

func (e *Engine) breakerRecoveryLocked() time.Duration {
	return e.breakers.recoveryTimeout
}

// EndRequest must be called by the caller once a request admitted by
// CheckRequest completes, whether successfully or not. success reports the
// outcome to the destination's circuit breaker.
func (e *Engine) EndRequest(req RequestContext, success bool) {
	e.loops.EndRequest(req.RequestID)
	if success {
		e.breakers.RecordSuccess(req.Tenant, req.Endpoint)
	} else {
		e.breakers.RecordFailure(req.Tenant, req.Endpoint)
	}
}

// ResetViolations rehabilitates a rate-limited key back to the normal tier.
func (e *Engine) ResetViolations(tenant, user, endpoint string) {
	e.rates.ResetViolations(tenant, user, endpoint)
}

// Events returns a snapshot of recorded abuse events, most recent last.
func (e *Engine) Events() []AbuseEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AbuseEvent, len(e.events))
	copy(out, e.events)
	return out
}

func (e *Engine) deny(req RequestContext, address string, reason DenialReason, level ThreatLevel, detail string, retryAfter time.Duration) Decision {
	e.mu.Lock()
	e.seq++
	ev := AbuseEvent{
		ID:        fmt.Sprintf("abuse-%d", e.seq),
		Timestamp: e.clock.Now(),
		Tenant:    req.Tenant,
		User:      req.User,
		Address:   address,
		Reason:    string(reason),
		Level:     level,
		Action:    "blocked",
		Detail: map[string]interface{}{
			"endpoint":  req.Endpoint,
			"depth":     req.Depth,
			"signature": req.Signature,
			"detail":    detail,
		},
	}
	e.events = append(e.events, ev)
	e.mu.Unlock()

	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter, Event: &ev}
}

// sortedTenants is a small helper used by tests that need deterministic
// iteration over the engine's tracked tenants.
func sortedTenants(m map[string][]anomalySample) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
