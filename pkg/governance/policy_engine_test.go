package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyEngine_AllowAndDeny(t *testing.T) {
	pe, err := NewPolicyEngine()
	require.NoError(t, err)

	require.NoError(t, pe.LoadPolicy("block-high-threat", `context["threat_level"] != "high"`))

	decision := pe.Evaluate("block-high-threat", "route", "model:gpt-5", "tenant-1", map[string]interface{}{
		"threat_level": "low",
	})
	assert.True(t, decision.Allowed)

	decision = pe.Evaluate("block-high-threat", "route", "model:gpt-5", "tenant-1", map[string]interface{}{
		"threat_level": "high",
	})
	assert.False(t, decision.Allowed)
}

func TestPolicyEngine_UnknownPolicyFailsClosed(t *testing.T) {
	pe, err := NewPolicyEngine()
	require.NoError(t, err)

	decision := pe.Evaluate("missing", "route", "model:x", "tenant-1", nil)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "not found")
}
