// Package waf implements the routing plane's web-application-firewall
// layer: a rule-driven matcher over inbound prompts with action
// arbitration, built-in rule families for prompt injection and common
// injection classes, span-level sanitization, an output-only secret
// scanner, and a per-client token-bucket rate limiter.
package waf

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/atprouter/core/pkg/events"
	"github.com/atprouter/core/pkg/governance"
	"github.com/atprouter/core/pkg/metrics"
)

// Action is the arbitrated outcome of evaluating a payload against the rule
// set.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionSanitize  Action = "sanitize"
	ActionBlock     Action = "block"
	ActionRateLimit Action = "rate-limit"
	ActionQuarantine Action = "quarantine"
	ActionLogOnly   Action = "log-only"
)

// actionSeverity orders actions from least to most severe, used to pick the
// arbitrated action among multiple rule firings.
var actionSeverity = map[Action]int{
	ActionAllow:      0,
	ActionLogOnly:    1,
	ActionSanitize:   2,
	ActionRateLimit:  3,
	ActionBlock:      4,
	ActionQuarantine: 5,
}

func moreSevere(a, b Action) bool {
	return actionSeverity[a] > actionSeverity[b]
}

// ThreatLevel grades how dangerous a matched rule is believed to be.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Rule is a single regex-driven detector.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	AttackType  string
	Level       ThreatLevel
	Action      Action
	Enabled     bool
	Confidence  float64
	Description string
	Tags        []string
}

// MustRule compiles pattern and panics on failure. Intended for package-
// level rule-table construction where the pattern is a compile-time
// constant.
func MustRule(name, pattern, attackType string, level ThreatLevel, action Action, confidence float64, description string, tags ...string) Rule {
	return Rule{
		Name:        name,
		Pattern:     regexp.MustCompile(pattern),
		AttackType:  attackType,
		Level:       level,
		Action:      action,
		Enabled:     true,
		Confidence:  confidence,
		Description: description,
		Tags:        tags,
	}
}

// Match is one rule firing against a payload, with the byte span it matched.
type Match struct {
	Rule  string
	Level ThreatLevel
	Start int
	End   int
	Text  string
}

// Config tunes the arbitration and rate-limiting behavior of a Firewall.
type Config struct {
	BlockOnHighThreat     bool
	SanitizeOnMediumThreat bool
	RateLimitRPS          float64
	RateLimitBurst        int
}

// DefaultConfig returns production defaults: block on critical, sanitize-or-
// block on high, sanitize on medium, allow-with-log on low.
func DefaultConfig() Config {
	return Config{
		BlockOnHighThreat:      true,
		SanitizeOnMediumThreat: true,
		RateLimitRPS:           20,
		RateLimitBurst:         40,
	}
}

// Verdict is the outcome of evaluating one payload.
type Verdict struct {
	Action      Action
	Matches     []Match
	Sanitized   string
	InputLength int
	InputHash   string
	Latency     time.Duration
}

// Limiter is a pluggable per-client rate limiter backend. Firewall uses an
// in-process token bucket by default; set Distributed to share limits
// across a multi-instance deployment (see pkg/ratelimit for a Redis-backed
// implementation).
type Limiter interface {
	Allow(clientID string) (bool, error)
	RetryAfter(clientID string) (time.Duration, error)
}

// Firewall evaluates inbound (and outbound) text against a configured rule
// set, arbitrates the most severe action among firing rules, sanitizes
// matched spans when required, and enforces a per-client token-bucket rate
// limit ahead of evaluation.
type Firewall struct {
	cfg   Config
	rules []Rule
	bus   *events.Bus

	evalHist    *metrics.Histogram
	ruleCounter *metrics.Counter
	rejectCtr   *metrics.Counter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// Distributed, when set, backs Allow/RetryAfter instead of the local
	// token bucket. A backend error falls back to the local bucket so a
	// Redis outage degrades to per-instance limiting rather than failing
	// open or closed outright.
	Distributed Limiter

	// Overrides, when set, is consulted for every firing rule before the
	// arbitrated action is finalized. A loaded policy named
	// "waf-override:<rule name>" that evaluates true downgrades that
	// firing to ActionLogOnly, letting an operator carve out exceptions
	// (e.g. a tenant known to legitimately send regex-matching payloads)
	// without editing the built-in rule table.
	Overrides *governance.PolicyEngine
}

// LoadRuleOverride compiles and registers a CEL eligibility expression for
// ruleName. The expression sees action, resource, principal, and context
// (clientID, rule, attack_type, threat_level); a true result exempts that
// firing from arbitration.
func (f *Firewall) LoadRuleOverride(ruleName, celExpr string) error {
	if f.Overrides == nil {
		pe, err := governance.NewPolicyEngine()
		if err != nil {
			return fmt.Errorf("init waf override policy engine: %w", err)
		}
		f.Overrides = pe
	}
	return f.Overrides.LoadPolicy(overridePolicyID(ruleName), celExpr)
}

func overridePolicyID(ruleName string) string {
	return "waf-override:" + ruleName
}

// New creates a Firewall with the built-in rule families plus any
// additional rules, wired to bus for rejection events and reg for
// observability.
func New(cfg Config, bus *events.Bus, reg *metrics.Registry, extra ...Rule) (*Firewall, error) {
	f := &Firewall{
		cfg:      cfg,
		bus:      bus,
		limiters: make(map[string]*rate.Limiter),
	}
	f.rules = append(f.rules, BuiltinRules()...)
	f.rules = append(f.rules, extra...)

	if reg != nil {
		hist, err := reg.Histogram("waf_eval_latency_ms", "WAF rule evaluation latency", "ms", nil)
		if err != nil {
			return nil, err
		}
		f.evalHist = hist
		ruleCtr, err := reg.Counter("waf_rule_fired_total", "Total WAF rule firings by rule name")
		if err != nil {
			return nil, err
		}
		f.ruleCounter = ruleCtr
		rejectCtr, err := reg.Counter("waf_reject_total", "Total payloads blocked or quarantined by the WAF")
		if err != nil {
			return nil, err
		}
		f.rejectCtr = rejectCtr
	}
	return f, nil
}

// Allow consults the per-client rate limit for clientID, consuming one
// token. A false return means the caller should reject with retry-after
// information from RetryAfter.
func (f *Firewall) Allow(clientID string) bool {
	if f.Distributed != nil {
		ok, err := f.Distributed.Allow(clientID)
		if err == nil {
			return ok
		}
	}
	return f.limiterFor(clientID).Allow()
}

// RetryAfter reports how long clientID must wait before its next token is
// available, without consuming one.
func (f *Firewall) RetryAfter(clientID string) time.Duration {
	if f.Distributed != nil {
		d, err := f.Distributed.RetryAfter(clientID)
		if err == nil {
			return d
		}
	}
	r := f.limiterFor(clientID).Reserve()
	defer r.Cancel()
	if r.OK() {
		return r.Delay()
	}
	return time.Second
}

func (f *Firewall) limiterFor(clientID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.cfg.RateLimitRPS), f.cfg.RateLimitBurst)
		f.limiters[clientID] = l
	}
	return l
}

// Inspect evaluates input against every enabled rule, arbitrates an action,
// and (when the arbitrated action is sanitize) rewrites matched spans.
// requestID is used only for the audit trail; the raw input is never
// logged, only its length and hash.
func (f *Firewall) Inspect(requestID, clientID, input string) Verdict {
	start := time.Now()
	var matches []Match
	arbitrated := ActionAllow

	for _, r := range f.rules {
		if !r.Enabled {
			continue
		}
		locs := r.Pattern.FindAllStringIndex(input, -1)
		if len(locs) == 0 {
			continue
		}
		for _, loc := range locs {
			matches = append(matches, Match{Rule: r.Name, Level: r.Level, Start: loc[0], End: loc[1], Text: input[loc[0]:loc[1]]})
		}
		if f.ruleCounter != nil {
			f.ruleCounter.Add(int64(len(locs)), metrics.Labels{"rule": r.Name, "attack_type": r.AttackType})
		}
		action := r.Action
		if action == ActionBlock && r.Level == ThreatHigh && !f.cfg.BlockOnHighThreat {
			action = ActionSanitize
		}
		if action == ActionSanitize && r.Level == ThreatMedium && !f.cfg.SanitizeOnMediumThreat {
			action = ActionLogOnly
		}
		if f.Overrides != nil {
			decision := f.Overrides.Evaluate(overridePolicyID(r.Name), string(action), r.AttackType, clientID, map[string]interface{}{
				"client_id":    clientID,
				"rule":         r.Name,
				"attack_type":  r.AttackType,
				"threat_level": string(r.Level),
			})
			if decision.Allowed {
				action = ActionLogOnly
			}
		}
		if moreSevere(action, arbitrated) {
			arbitrated = action
		}
	}

	verdict := Verdict{
		Action:      arbitrated,
		Matches:     matches,
		InputLength: len(input),
		InputHash:   hashInput(input),
	}
	if arbitrated == ActionSanitize {
		verdict.Sanitized = sanitize(input, matches)
	}

	verdict.Latency = time.Since(start)
	if f.evalHist != nil {
		f.evalHist.Observe(float64(verdict.Latency.Microseconds())/1000.0, metrics.Labels{"action": string(arbitrated)})
	}

	if arbitrated == ActionBlock || arbitrated == ActionQuarantine {
		if f.rejectCtr != nil {
			f.rejectCtr.Inc(metrics.Labels{"action": string(arbitrated)})
		}
		if f.bus != nil {
			f.bus.EmitRejection(events.RejectionEvent{
				Reason:    events.ReasonPolicyViolation,
				Component: "waf",
				RequestID: requestID,
				Detail: map[string]interface{}{
					"action":       string(arbitrated),
					"input_len":    verdict.InputLength,
					"input_hash":   verdict.InputHash,
					"matched_rule": firstRuleName(matches),
				},
			})
		}
	}

	return verdict
}

// InspectOutput runs only the secret-scanner family against output text and
// sanitizes any matches; it never blocks, since output has already been
// generated and the caller is expected to redact rather than discard it.
func (f *Firewall) InspectOutput(output string) Verdict {
	var matches []Match
	for _, r := range secretRules {
		if !r.Enabled {
			continue
		}
		for _, loc := range r.Pattern.FindAllStringIndex(output, -1) {
			matches = append(matches, Match{Rule: r.Name, Level: r.Level, Start: loc[0], End: loc[1], Text: output[loc[0]:loc[1]]})
		}
	}
	v := Verdict{
		Action:      ActionAllow,
		Matches:     matches,
		InputLength: len(output),
		InputHash:   hashInput(output),
	}
	if len(matches) > 0 {
		v.Action = ActionSanitize
		v.Sanitized = sanitize(output, matches)
	}
	return v
}

func firstRuleName(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Rule
}

func hashInput(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// sanitize rewrites every matched span with a fixed-width redaction marker,
// processing spans right-to-left by start offset so earlier offsets stay
// valid as later ones are rewritten.
func sanitize(input string, matches []Match) string {
	ordered := make([]Match, len(matches))
	copy(ordered, matches)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	out := input
	for _, m := range ordered {
		if m.Start < 0 || m.End > len(out) || m.Start > m.End {
			continue
		}
		out = out[:m.Start] + fmt.Sprintf("[REDACTED:%s]", m.Rule) + out[m.End:]
	}
	return out
}
