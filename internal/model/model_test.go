package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlaybackWindowValidate(t *testing.T) {
	cases := []struct {
		window PlaybackWindow
		ok     bool
	}{
		{PlaybackWindow{Start: "08:00", End: "20:00"}, true},
		{PlaybackWindow{Start: "08:00:00", End: "08:00:30"}, true},
		{PlaybackWindow{Start: "20:00", End: "08:00"}, false},
		{PlaybackWindow{Start: "08:00", End: "08:00"}, false},
		{PlaybackWindow{Start: "8am", End: "20:00"}, false},
		{PlaybackWindow{Start: "08:00", End: ""}, false},
	}
	for _, tc := range cases {
		err := tc.window.Validate()
		if tc.ok {
			assert.NoError(t, err, "%+v", tc.window)
		} else {
			assert.ErrorIs(t, err, ErrInvalidInput, "%+v", tc.window)
		}
	}
}

func TestJingleAssignmentEligibleOn(t *testing.T) {
	a := JingleAssignment{StartDate: date(2024, 3, 1), EndDate: date(2024, 3, 31), Spots: 10, IsActive: true}

	assert.True(t, a.EligibleOn(date(2024, 3, 1)))
	assert.True(t, a.EligibleOn(time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, a.EligibleOn(date(2024, 2, 29)))
	assert.False(t, a.EligibleOn(date(2024, 4, 1)))

	a.IsActive = false
	assert.False(t, a.EligibleOn(date(2024, 3, 15)))
}

func TestJingleAssignmentValidate(t *testing.T) {
	ok := JingleAssignment{StartDate: date(2024, 3, 1), EndDate: date(2024, 3, 1), Spots: 1}
	assert.NoError(t, ok.Validate())

	noSpots := ok
	noSpots.Spots = 0
	assert.ErrorIs(t, noSpots.Validate(), ErrInvalidInput)

	backwards := ok
	backwards.EndDate = date(2024, 2, 28)
	assert.ErrorIs(t, backwards.Validate(), ErrInvalidInput)
}

func TestAssignmentPatchApply(t *testing.T) {
	a := JingleAssignment{ID: 1, Spots: 10, IsActive: true, StartDate: date(2024, 3, 1), EndDate: date(2024, 3, 31)}
	spots, off := 25, false

	got := AssignmentPatch{Spots: &spots, IsActive: &off}.Apply(a)
	assert.Equal(t, 25, got.Spots)
	assert.False(t, got.IsActive)
	assert.Equal(t, a.StartDate, got.StartDate)
	assert.Equal(t, 10, a.Spots)
}

func TestScheduleCacheValidity(t *testing.T) {
	day := date(2024, 3, 10)
	order := &PlayOrder{Sequence: []int{1, 2}, GCD: 1}

	sc := Schedule{PlayOrder: order, PlayOrderDate: &day}
	assert.True(t, sc.CacheValidFor(time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)))
	assert.False(t, sc.CacheValidFor(date(2024, 3, 11)))

	sc.Dirty = true
	assert.True(t, sc.StaleFor(day))
	assert.False(t, sc.CacheValidFor(day))

	empty := Schedule{PlayOrder: &PlayOrder{}, PlayOrderDate: &day}
	assert.False(t, empty.StaleFor(day))
	assert.False(t, empty.CacheValidFor(day))

	assert.True(t, Schedule{}.StaleFor(day))
}

func TestPlayOrderScan(t *testing.T) {
	var p PlayOrder
	require.NoError(t, p.Scan([]byte(`{"sequence":[3,2,3],"gcd":20,"repeat_counts":{"2":1,"3":2}}`)))
	assert.Equal(t, []int{3, 2, 3}, p.Sequence)
	assert.Equal(t, 2, p.RepeatCounts[3])

	require.NoError(t, p.Scan(nil))
	assert.True(t, p.Empty())
	assert.Error(t, p.Scan(42))
}

func TestJSONMapValueDefaultsToObject(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	full := JSONMap{"reason": "decoder"}
	v, err = full.Value()
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(v.([]byte), &back))
	assert.Equal(t, "decoder", back["reason"])
}

func TestPlaybackStatusValid(t *testing.T) {
	assert.True(t, PlaybackCrashed.Valid())
	assert.False(t, PlaybackStatus("paused").Valid())
}
