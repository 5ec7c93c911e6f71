package flow

import (
	"hash/fnv"

	"github.com/flywheelhq/flywheel/pkg/models"
)

// pickVariant maps a user deterministically into a 0-99 bucket and selects
// the weighted variant covering that bucket. The same user always lands in
// the same bucket for a given split node.
func pickVariant(userID, splitID string, variants []models.SplitVariant) string {
	if len(variants) == 0 {
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte(":"))
	h.Write([]byte(splitID))
	bucket := int(h.Sum32() % 100)

	total := 0
	for _, v := range variants {
		total += v.Weight
	}

	if total <= 0 {
		return variants[0].Handle
	}

	// Scale the cumulative weights onto the 0-99 range.
	cumulative := 0
	for _, v := range variants {
		cumulative += v.Weight * 100 / total
		if bucket < cumulative {
			return v.Handle
		}
	}

	return variants[len(variants)-1].Handle
}
