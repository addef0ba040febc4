package experiment

import (
	"github.com/cespare/xxhash/v2"
)

// NewBucketDraw returns a Draw that deterministically buckets a user
// into [0, n) from a hash of the user id, experiment id and a secret
// salt. The same inputs always land in the same bucket, so a user keeps
// the same variant across restarts and devices that share the salt.
func NewBucketDraw(userID, experimentID, salt string) Draw {
	// Delimiters keep ("ab","c") and ("a","bc") from colliding.
	key := userID + ":" + experimentID + ":" + salt
	return func(n int) int {
		if n <= 0 {
			return 0
		}
		return int(xxhash.Sum64String(key) % uint64(n))
	}
}
