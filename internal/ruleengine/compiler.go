package ruleengine

import (
	"fmt"
	"strings"
)

const (
	// MaxTargetUsers limits the number of explicitly granted users on a single flag.
	// Large user lists indicate a design anti-pattern (use roles or a percentage
	// rollout instead) and make every snapshot rebuild proportionally slower.
	MaxTargetUsers = 10_000

	// MaxTargetRoles limits the number of roles a flag can be scoped to.
	MaxTargetRoles = 64
)

// FlagSpec is the raw flag definition handed to the compiler.
// It carries only the fields that influence evaluation.
type FlagSpec struct {
	ID                string
	Name              string
	Enabled           bool
	RolloutPercentage int
	TargetRoles       []string
	TargetUsers       []string
}

// Compile validates a FlagSpec and builds the immutable FeatureFlag used for evaluation.
// Role and user lists are turned into sets for O(1) lookup; blank entries are dropped.
func Compile(spec FlagSpec) (*FeatureFlag, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("flag id is required")
	}

	if spec.RolloutPercentage < 0 || spec.RolloutPercentage > 100 {
		return nil, fmt.Errorf("flag %s: rollout percentage must be between 0 and 100, got %d", spec.ID, spec.RolloutPercentage)
	}

	if len(spec.TargetRoles) > MaxTargetRoles {
		return nil, fmt.Errorf("flag %s: target roles exceed maximum size: %d > %d", spec.ID, len(spec.TargetRoles), MaxTargetRoles)
	}

	if len(spec.TargetUsers) > MaxTargetUsers {
		return nil, fmt.Errorf("flag %s: target users exceed maximum size: %d > %d (use roles or a percentage rollout instead)", spec.ID, len(spec.TargetUsers), MaxTargetUsers)
	}

	return &FeatureFlag{
		ID:                spec.ID,
		Name:              spec.Name,
		Enabled:           spec.Enabled,
		RolloutPercentage: spec.RolloutPercentage,
		roles:             toSet(spec.TargetRoles),
		users:             toSet(spec.TargetUsers),
	}, nil
}

// toSet builds a membership set, skipping blank values.
// A nil map is returned for empty input so that "no restriction" stays cheap.
func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}
	return set
}
