package pdp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/atprouter/core/pkg/canonicalize"
)

// NativePDP is the router's built-in policy decision point: a static
// resource allow/deny map, for deployments that don't need a full OPA or
// Cedar sidecar.
type NativePDP struct {
	policyVersion string
	policyHash    string
	rules         map[string]bool // resource → allowed
}

// NewNativePDP creates a static-rules PDP.
// policyVersion identifies the active policy set (e.g., git commit, semver).
func NewNativePDP(policyVersion string, rules map[string]bool) *NativePDP {
	n := &NativePDP{
		policyVersion: policyVersion,
		rules:         rules,
	}
	n.policyHash = n.computePolicyHash()
	return n
}

// Evaluate implements PolicyDecisionPoint.
func (n *NativePDP) Evaluate(ctx context.Context, req *DecisionRequest) (*DecisionResponse, error) {
	if req == nil {
		return &DecisionResponse{
			Allow:      false,
			ReasonCode: "DENY_NIL_REQUEST",
			PolicyRef:  fmt.Sprintf("native:%s", n.policyVersion),
		}, nil
	}

	// Check context deadline (fail-closed on timeout)
	select {
	case <-ctx.Done():
		return &DecisionResponse{
			Allow:      false,
			ReasonCode: "DENY_TIMEOUT",
			PolicyRef:  fmt.Sprintf("native:%s", n.policyVersion),
		}, nil
	default:
	}

	allowed := true
	reasonCode := "ALLOW"

	if n.rules != nil {
		if v, exists := n.rules[req.Resource]; exists {
			allowed = v
			if !allowed {
				reasonCode = "DENY_POLICY"
			}
		}
	}

	resp := &DecisionResponse{
		Allow:      allowed,
		ReasonCode: reasonCode,
		PolicyRef:  fmt.Sprintf("native:%s", n.policyVersion),
	}

	hash, err := ComputeDecisionHash(resp)
	if err != nil {
		return &DecisionResponse{
			Allow:      false,
			ReasonCode: "DENY_HASH_FAILURE",
			PolicyRef:  fmt.Sprintf("native:%s", n.policyVersion),
		}, nil
	}
	resp.DecisionHash = hash

	return resp, nil
}

// Backend implements PolicyDecisionPoint.
func (n *NativePDP) Backend() Backend { return BackendNative }

// PolicyHash implements PolicyDecisionPoint.
func (n *NativePDP) PolicyHash() string { return n.policyHash }

func (n *NativePDP) computePolicyHash() string {
	input := struct {
		Version string          `json:"version"`
		Rules   map[string]bool `json:"rules"`
	}{
		Version: n.policyVersion,
		Rules:   n.rules,
	}
	data, err := canonicalize.JCS(input)
	if err != nil {
		return "sha256:unknown"
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
