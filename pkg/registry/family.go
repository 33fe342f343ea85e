package registry

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// FamilyCompatible reports whether a candidate model's version satisfies a
// family's promotion constraint (e.g. "^1.2.0"), gating shadow→active
// promotion to siblings that respect the family's declared compatibility
// range.
func FamilyCompatible(candidateVersion, constraint string) (bool, error) {
	v, err := semver.NewVersion(candidateVersion)
	if err != nil {
		return false, fmt.Errorf("invalid candidate version %q: %w", candidateVersion, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid family constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}
