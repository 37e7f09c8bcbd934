// TODO(scale): Current implementation supports 1% granularity (0-100 buckets).
// Canary releases below 1% would need basis points (0-10000 buckets).
package ruleengine

import (
	"github.com/spaolacci/murmur3"
)

// BucketCount is the number of rollout buckets. Percentages map 1:1 onto buckets.
const BucketCount = 100

// Bucket maps a (flag, subject) pair onto a deterministic position in [0, 100).
//
// The flag identity acts as a salt: a subject who is in the "lucky 10%" for
// flag A is not necessarily in the "lucky 10%" for flag B, which keeps
// gradual rollouts of different flags statistically independent.
//
// The function is pure. Murmur3 (32-bit) gives a good avalanche effect and is
// far cheaper than cryptographic hashes on the evaluation hot path.
func Bucket(flagIdentity, subjectID string) int {
	// Format: "user-123:6f1c2f0e-..." (Subject + Salt)
	key := make([]byte, 0, len(subjectID)+1+len(flagIdentity))
	key = append(key, subjectID...)
	key = append(key, ':')
	key = append(key, flagIdentity...)

	return int(murmur3.Sum32(key) % BucketCount)
}

// inRollout decides the percentage gate for a subject.
// If percentage is 10, buckets 0 to 9 pass.
func inRollout(flag *FeatureFlag, subjectID string) bool {
	if flag.RolloutPercentage >= BucketCount {
		return true
	}
	if flag.RolloutPercentage <= 0 {
		return false
	}

	// Anonymous subjects cannot be bucketed reliably; they only see full rollouts.
	if subjectID == "" {
		return false
	}

	return Bucket(flag.ID, subjectID) < flag.RolloutPercentage
}
