package flow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flywheelhq/flywheel/pkg/models"
)

func TestPickVariantIsDeterministic(t *testing.T) {
	variants := []models.SplitVariant{
		{Handle: "a", Weight: 50},
		{Handle: "b", Weight: 50},
	}

	first := pickVariant("user-1", "split-1", variants)
	for range 10 {
		assert.Equal(t, first, pickVariant("user-1", "split-1", variants))
	}
}

func TestPickVariantDiffersPerSplitNode(t *testing.T) {
	variants := []models.SplitVariant{
		{Handle: "a", Weight: 50},
		{Handle: "b", Weight: 50},
	}

	// The same user can land in different buckets on different split nodes.
	// With 40 nodes the chance of never diverging is negligible.
	diverged := false
	first := pickVariant("user-1", "split-0", variants)

	for i := 1; i < 40; i++ {
		if pickVariant("user-1", fmt.Sprintf("split-%d", i), variants) != first {
			diverged = true

			break
		}
	}

	assert.True(t, diverged)
}

func TestPickVariantRespectsWeights(t *testing.T) {
	variants := []models.SplitVariant{
		{Handle: "control", Weight: 90},
		{Handle: "treatment", Weight: 10},
	}

	counts := map[string]int{}
	for i := range 1000 {
		counts[pickVariant(fmt.Sprintf("user-%d", i), "split-1", variants)]++
	}

	assert.Greater(t, counts["control"], 800)
	assert.Greater(t, counts["treatment"], 20)
}

func TestPickVariantEdgeCases(t *testing.T) {
	assert.Empty(t, pickVariant("user-1", "split-1", nil))

	zeroWeights := []models.SplitVariant{{Handle: "a"}, {Handle: "b"}}
	assert.Equal(t, "a", pickVariant("user-1", "split-1", zeroWeights))
}
