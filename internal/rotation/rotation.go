// Package rotation turns weighted spot counts into a repeating play loop.
package rotation

// Weighted is one entry fed into Build. Weight is the number of spots the
// jingle was booked for.
type Weighted struct {
	ID     int
	Weight int
}

// Loop is the result of Build.
type Loop struct {
	Sequence     []int
	GCD          int
	RepeatCounts map[int]int
}

// Len is the total number of slots in one pass of the loop.
func (l Loop) Len() int { return len(l.Sequence) }

// GCD returns the greatest common divisor of a and b.
func GCD(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// GCDAll folds GCD left to right. An empty slice yields 1.
func GCDAll(values []int) int {
	if len(values) == 0 {
		return 1
	}
	g := values[0]
	for _, v := range values[1:] {
		g = GCD(g, v)
	}
	return g
}

// Build scales the weights down by their GCD and emits the ids so that the
// same id never plays twice in a row unless nothing else is left.
//
// Entries with a non-positive weight are skipped. Repeated ids are merged
// into the first occurrence by summing their weights.
func Build(items []Weighted) Loop {
	order := make([]int, 0, len(items))
	weights := make(map[int]int, len(items))
	for _, it := range items {
		if it.Weight <= 0 {
			continue
		}
		if _, seen := weights[it.ID]; !seen {
			order = append(order, it.ID)
		}
		weights[it.ID] += it.Weight
	}

	if len(order) == 0 {
		return Loop{Sequence: []int{}, GCD: 0, RepeatCounts: map[int]int{}}
	}

	values := make([]int, len(order))
	for i, id := range order {
		values[i] = weights[id]
	}
	g := GCDAll(values)

	counts := make(map[int]int, len(order))
	remaining := make([]int, len(order))
	total := 0
	for i, id := range order {
		n := values[i] / g
		counts[id] = n
		remaining[i] = n
		total += n
	}

	seq := make([]int, 0, total)
	prev := -1 // index into order
	for len(seq) < total {
		pick := -1
		for i := range order {
			if i == prev || remaining[i] == 0 {
				continue
			}
			if pick == -1 || remaining[i] > remaining[pick] {
				pick = i
			}
		}
		if pick == -1 {
			pick = prev
		}
		remaining[pick]--
		seq = append(seq, order[pick])
		prev = pick
	}

	return Loop{Sequence: seq, GCD: g, RepeatCounts: counts}
}
