package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCD(t *testing.T) {
	assert.Equal(t, 20, GCD(40, 60))
	assert.Equal(t, 7, GCD(7, 0))
	assert.Equal(t, 1, GCD(9, 4))
	assert.Equal(t, 1, GCDAll(nil))
	assert.Equal(t, 20, GCDAll([]int{40, 60, 80}))
}

func TestBuildThreeJingles(t *testing.T) {
	loop := Build([]Weighted{{ID: 1, Weight: 40}, {ID: 2, Weight: 60}, {ID: 3, Weight: 80}})

	assert.Equal(t, 20, loop.GCD)
	assert.Equal(t, map[int]int{1: 2, 2: 3, 3: 4}, loop.RepeatCounts)
	require.Equal(t, 9, loop.Len())
	assert.Equal(t, []int{3, 2, 3, 1, 2, 3, 1, 2, 3}, loop.Sequence)
	assertNoAdjacentRepeats(t, loop.Sequence)
}

func TestBuildSingleJingle(t *testing.T) {
	loop := Build([]Weighted{{ID: 7, Weight: 5}})

	assert.Equal(t, 5, loop.GCD)
	assert.Equal(t, []int{7}, loop.Sequence)
	assert.Equal(t, map[int]int{7: 1}, loop.RepeatCounts)
}

func TestBuildEmpty(t *testing.T) {
	loop := Build(nil)

	assert.Equal(t, 0, loop.GCD)
	assert.Empty(t, loop.Sequence)
	assert.Empty(t, loop.RepeatCounts)
}

func TestBuildSkipsNonPositiveWeights(t *testing.T) {
	loop := Build([]Weighted{{ID: 1, Weight: 0}, {ID: 2, Weight: -3}, {ID: 3, Weight: 4}})

	assert.Equal(t, []int{3}, loop.Sequence)
	assert.Equal(t, 4, loop.GCD)
}

func TestBuildMergesDuplicateIDs(t *testing.T) {
	loop := Build([]Weighted{{ID: 1, Weight: 10}, {ID: 2, Weight: 20}, {ID: 1, Weight: 10}})

	assert.Equal(t, map[int]int{1: 1, 2: 1}, loop.RepeatCounts)
	assert.Equal(t, []int{1, 2}, loop.Sequence)
}

func TestBuildForcedRepeatWhenOneDominates(t *testing.T) {
	loop := Build([]Weighted{{ID: 1, Weight: 1}, {ID: 2, Weight: 3}})

	assert.Equal(t, []int{2, 1, 2, 2}, loop.Sequence)
}

func TestBuildProperties(t *testing.T) {
	cases := [][]Weighted{
		{{ID: 1, Weight: 12}, {ID: 2, Weight: 18}},
		{{ID: 1, Weight: 3}, {ID: 2, Weight: 3}, {ID: 3, Weight: 3}},
		{{ID: 10, Weight: 100}, {ID: 11, Weight: 25}, {ID: 12, Weight: 50}, {ID: 13, Weight: 75}},
		{{ID: 5, Weight: 7}, {ID: 6, Weight: 11}, {ID: 8, Weight: 13}},
	}

	for _, items := range cases {
		loop := Build(items)

		weights := make([]int, len(items))
		for i, it := range items {
			weights[i] = it.Weight
		}
		g := GCDAll(weights)
		assert.Equal(t, g, loop.GCD)

		total := 0
		for _, it := range items {
			assert.Equal(t, it.Weight/g, loop.RepeatCounts[it.ID])
			total += it.Weight / g
		}
		assert.Equal(t, total, loop.Len())

		seen := map[int]int{}
		for _, id := range loop.Sequence {
			seen[id]++
		}
		assert.Equal(t, loop.RepeatCounts, seen)

		if feasible(loop.RepeatCounts) {
			assertNoAdjacentRepeats(t, loop.Sequence)
		}

		// deterministic
		assert.Equal(t, loop, Build(items))
	}
}

func feasible(counts map[int]int) bool {
	total, max := 0, 0
	for _, n := range counts {
		total += n
		if n > max {
			max = n
		}
	}
	return max <= total-max+1
}

func assertNoAdjacentRepeats(t *testing.T, seq []int) {
	t.Helper()
	for i := 1; i < len(seq); i++ {
		assert.NotEqual(t, seq[i-1], seq[i], "adjacent repeat at %d in %v", i, seq)
	}
}
