package counting

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func det(classID int, conf float64, id int64) Detection {
	return Detection{ClassID: classID, Confidence: conf, TrackID: id}
}

func TestObserveIgnoresLowConfidence(t *testing.T) {
	a := NewAccumulator()
	for _, c := range []float64{0, 0.01, 0.1, 0.2, 0.249, 0.2499999} {
		a.Observe([]Detection{det(2, c, 1), det(3, c, 2), det(5, c, 3), det(7, c, 4)})
	}
	assert.Equal(t, 0, a.Total())
}

func TestObserveAcceptsThreshold(t *testing.T) {
	a := NewAccumulator()
	a.Observe([]Detection{det(2, MinConfidence, 1)})
	assert.Equal(t, 1, a.Count(Car))
}

func TestObserveIgnoresUnknownClasses(t *testing.T) {
	a := NewAccumulator()
	for _, id := range []int{-1, 0, 1, 4, 6, 8, 15, 79, 1000} {
		a.Observe([]Detection{det(id, 0.99, int64(id+10))})
	}
	assert.Equal(t, 0, a.Total())
}

func TestObserveIgnoresUntracked(t *testing.T) {
	a := NewAccumulator()
	a.Observe([]Detection{det(2, 0.9, Untracked), det(7, 0.9, Untracked)})
	assert.Equal(t, 0, a.Total())
}

func TestObserveIsIdempotent(t *testing.T) {
	a := NewAccumulator()
	for i := 0; i < 50; i++ {
		a.Observe([]Detection{det(5, 0.8, 42)})
	}
	assert.Equal(t, 1, a.Count(Bus))
	assert.Equal(t, 1, a.Total())
}

func TestObserveSameIDDifferentClasses(t *testing.T) {
	// Sets are per class, so an id reported under two classes is counted in both.
	a := NewAccumulator()
	a.Observe([]Detection{det(2, 0.9, 1), det(7, 0.9, 1)})
	want := VehicleCounts{Car: 1, Motorcycle: 0, Bus: 0, Truck: 1}
	if diff := cmp.Diff(want, a.Counts()); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestObserveNewIDAfterChurnIsCountedAgain(t *testing.T) {
	a := NewAccumulator()
	a.Observe([]Detection{det(2, 0.9, 1)})
	a.Observe(nil)
	a.Observe([]Detection{det(2, 0.9, 9)})
	assert.Equal(t, 2, a.Count(Car))
}

func TestCountsAlwaysHasEveryClass(t *testing.T) {
	counts := NewAccumulator().Counts()
	want := VehicleCounts{Car: 0, Motorcycle: 0, Bus: 0, Truck: 0}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		total int
		want  TrafficLevel
	}{
		{0, Low},
		{9, Low},
		{10, Medium},
		{15, Medium},
		{20, Medium},
		{21, High},
		{500, High},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, Classify(tt.total), "Classify(%d)", tt.total)
	}
}

func TestClassFromID(t *testing.T) {
	for id, want := range map[int]VehicleClass{2: Car, 3: Motorcycle, 5: Bus, 7: Truck} {
		got, ok := ClassFromID(id)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := ClassFromID(0)
	assert.False(t, ok)
}

func TestOverlayLines(t *testing.T) {
	got := OverlayLines(VehicleCounts{Car: 3, Truck: 1})
	want := []string{"Car: 3", "Motorcycle: 0", "Bus: 0", "Truck: 1"}
	assert.Equal(t, want, got)
}
