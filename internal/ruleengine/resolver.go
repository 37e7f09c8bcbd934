package ruleengine

// Reason explains which step of the evaluation decided the outcome.
type Reason string

const (
	ReasonDisabled     Reason = "DISABLED"
	ReasonRoleMismatch Reason = "ROLE_MISMATCH"
	ReasonTargetedUser Reason = "TARGETED_USER"
	ReasonRolloutMatch Reason = "ROLLOUT_MATCH"
	ReasonRolloutMiss  Reason = "ROLLOUT_MISS"
	ReasonNotFound     Reason = "NOT_FOUND"
)

// Decision is the outcome of evaluating one flag for one subject.
type Decision struct {
	Available bool   `json:"available"`
	Reason    Reason `json:"reason"`
}

// Evaluate decides the visibility of flag for subject.
//
// Steps run in order and short-circuit:
//  1. Master switch off: nobody sees the flag.
//  2. Role targeting: a non-empty role set excludes every other role.
//  3. Explicit grant: a targeted user sees the flag regardless of the percentage.
//  4. Percentage rollout on the (flag, subject) bucket.
//
// Evaluate only reads the immutable flag, so it is safe for concurrent use.
func Evaluate(flag *FeatureFlag, subject Subject) Decision {
	if flag == nil {
		return Decision{Available: false, Reason: ReasonNotFound}
	}

	if !flag.Enabled {
		return Decision{Available: false, Reason: ReasonDisabled}
	}

	if flag.RestrictsRoles() && !flag.AllowsRole(subject.Role) {
		return Decision{Available: false, Reason: ReasonRoleMismatch}
	}

	if flag.TargetsUsers() && flag.GrantsUser(subject.ID) {
		return Decision{Available: true, Reason: ReasonTargetedUser}
	}

	if inRollout(flag, subject.ID) {
		return Decision{Available: true, Reason: ReasonRolloutMatch}
	}

	return Decision{Available: false, Reason: ReasonRolloutMiss}
}

// IsAvailable is the boolean form of Evaluate.
func IsAvailable(flag *FeatureFlag, subject Subject) bool {
	return Evaluate(flag, subject).Available
}
