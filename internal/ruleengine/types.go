// Package ruleengine provides the core logic for feature flag evaluation.
// It decides whether a single flag is visible to a single subject using the
// master switch, role targeting, explicit user grants and a deterministic
// percentage rollout.
package ruleengine

// Subject represents the entity requesting the flag (The "Who").
// The role is consumed already resolved; the engine never derives it.
type Subject struct {
	// ID is the primary identifier for the user/entity.
	// It is required for explicit grants and percentage rollouts.
	ID string `json:"id"`

	// Role is the caller's resolved role (e.g., "admin", "fan").
	Role string `json:"role"`
}

// FeatureFlag is the evaluation-ready form of a flag.
//
// Instances are produced by Compile and never mutated afterwards, so a single
// pointer can be shared by any number of concurrent readers without locking.
type FeatureFlag struct {
	// ID is the immutable flag identifier. It salts the rollout hash.
	ID string

	// Name is the human-chosen lookup key (e.g., "PHONE_DIALER").
	Name string

	// Enabled is the master switch.
	Enabled bool

	// RolloutPercentage is the share (0-100) of eligible subjects that see the flag.
	RolloutPercentage int

	// Compiled sets for O(1) membership checks.
	roles map[string]struct{}
	users map[string]struct{}
}

// RestrictsRoles reports whether the flag is limited to a set of roles.
func (f *FeatureFlag) RestrictsRoles() bool {
	return len(f.roles) > 0
}

// AllowsRole reports whether role is part of the flag's target roles.
func (f *FeatureFlag) AllowsRole(role string) bool {
	_, ok := f.roles[role]
	return ok
}

// TargetsUsers reports whether the flag has explicit user grants.
func (f *FeatureFlag) TargetsUsers() bool {
	return len(f.users) > 0
}

// GrantsUser reports whether id was explicitly granted access.
func (f *FeatureFlag) GrantsUser(id string) bool {
	if id == "" {
		return false
	}
	_, ok := f.users[id]
	return ok
}
