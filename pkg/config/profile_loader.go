package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/atprouter/core/pkg/waf"
)

// WAFRuleFile is the YAML shape for an operator-supplied custom rule file:
// additional regex rules layered onto the WAF's built-in set, plus CEL
// eligibility overrides that exempt specific rule firings from arbitration
// (see pkg/waf.Firewall.LoadRuleOverride).
type WAFRuleFile struct {
	Rules     []WAFRuleSpec     `yaml:"rules"`
	Overrides []WAFOverrideSpec `yaml:"overrides"`
}

// WAFRuleSpec is one custom regex rule entry.
type WAFRuleSpec struct {
	Name        string   `yaml:"name"`
	Pattern     string   `yaml:"pattern"`
	AttackType  string   `yaml:"attack_type"`
	Level       string   `yaml:"level"` // low|medium|high|critical
	Action      string   `yaml:"action"`
	Confidence  float64  `yaml:"confidence"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
}

// WAFOverrideSpec is a CEL eligibility expression for an existing (built-in
// or custom) rule, keyed by rule name.
type WAFOverrideSpec struct {
	Rule       string `yaml:"rule"`
	Expression string `yaml:"expression"`
}

// LoadWAFRuleFile reads and parses a custom WAF rule file.
func LoadWAFRuleFile(path string) (*WAFRuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load waf rule file %q: %w", path, err)
	}

	var file WAFRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse waf rule file %q: %w", path, err)
	}
	return &file, nil
}

// CompiledRules compiles every rule spec into a waf.Rule, suitable for the
// extra variadic parameter of waf.New. It returns an error rather than
// panicking (unlike waf.MustRule) because patterns here are operator-
// supplied, not compile-time constants.
func (f *WAFRuleFile) CompiledRules() ([]waf.Rule, error) {
	out := make([]waf.Rule, 0, len(f.Rules))
	for _, spec := range f.Rules {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: compile pattern: %w", spec.Name, err)
		}
		out = append(out, waf.Rule{
			Name:        spec.Name,
			Pattern:     re,
			AttackType:  spec.AttackType,
			Level:       waf.ThreatLevel(spec.Level),
			Action:      waf.Action(spec.Action),
			Enabled:     true,
			Confidence:  spec.Confidence,
			Description: spec.Description,
			Tags:        spec.Tags,
		})
	}
	return out, nil
}

// ApplyOverrides loads every override expression into fw.
func (f *WAFRuleFile) ApplyOverrides(fw *waf.Firewall) error {
	for _, o := range f.Overrides {
		if err := fw.LoadRuleOverride(o.Rule, o.Expression); err != nil {
			return fmt.Errorf("override %q: %w", o.Rule, err)
		}
	}
	return nil
}
