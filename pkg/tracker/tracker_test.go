package tracker

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

func car(x, y int) counting.Detection {
	return counting.Detection{ClassID: 2, Confidence: 0.9, TrackID: counting.Untracked, Box: image.Rect(x, y, x+100, y+50)}
}

func TestGetIoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)
	assert.Equal(t, 1.0, getIoU(a, a))
	assert.Equal(t, 0.0, getIoU(a, image.Rect(20, 20, 30, 30)))
	assert.InDelta(t, 50.0/150.0, getIoU(a, image.Rect(5, 0, 15, 10)), 1e-9)
}

func TestUpdateKeepsIDForOverlappingBoxes(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())

	first := tr.Update([]counting.Detection{car(0, 0), car(500, 0)})
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].TrackID)
	assert.Equal(t, int64(2), first[1].TrackID)

	// both cars move a little; order of detections is swapped
	second := tr.Update([]counting.Detection{car(505, 2), car(8, 3)})
	assert.Equal(t, int64(2), second[0].TrackID)
	assert.Equal(t, int64(1), second[1].TrackID)
	assert.Equal(t, 2, tr.Active())
}

func TestUpdateDoesNotMatchAcrossClasses(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())
	tr.Update([]counting.Detection{car(0, 0)})

	truck := car(0, 0)
	truck.ClassID = 7
	out := tr.Update([]counting.Detection{truck})
	assert.Equal(t, int64(2), out[0].TrackID)
}

func TestUpdateDropsLostTracks(t *testing.T) {
	tr := NewIoUTracker(Config{IoUThreshold: 0.3, MaxLost: 2})
	tr.Update([]counting.Detection{car(0, 0)})

	// occluded for two frames: still remembered
	tr.Update(nil)
	tr.Update(nil)
	out := tr.Update([]counting.Detection{car(0, 0)})
	assert.Equal(t, int64(1), out[0].TrackID)

	// occluded for three frames: a new id is issued
	tr.Update(nil)
	tr.Update(nil)
	tr.Update(nil)
	out = tr.Update([]counting.Detection{car(0, 0)})
	assert.Equal(t, int64(2), out[0].TrackID)
}

func TestUpdateDoesNotMutateInput(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())
	in := []counting.Detection{car(0, 0)}
	tr.Update(in)
	assert.Equal(t, counting.Untracked, in[0].TrackID)
}

func TestNewIoUTrackerDefaults(t *testing.T) {
	tr := NewIoUTracker(Config{})
	assert.Equal(t, DefaultConfig(), tr.cfg)
}

func TestUpdateFollowsFastVehicle(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())
	acc := counting.NewAccumulator()

	// 60px per frame on a 100px wide box leaves too little overlap for the
	// unpredicted box to match
	for i := 0; i < 10; i++ {
		out := tr.Update([]counting.Detection{car(i*60, 0)})
		require.Len(t, out, 1)
		assert.Equal(t, int64(1), out[0].TrackID, "frame %d", i)
		acc.Observe(out)
	}
	assert.Equal(t, 1, acc.Count(counting.Car))
	assert.Equal(t, 1, tr.Active())
}

func TestUpdateFollowsParallelVehicles(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())
	acc := counting.NewAccumulator()

	// one lane going right, one going left
	for i := 0; i < 8; i++ {
		out := tr.Update([]counting.Detection{car(i*70, 0), car(1000-i*70, 300)})
		require.Len(t, out, 2)
		assert.Equal(t, int64(1), out[0].TrackID, "frame %d", i)
		assert.Equal(t, int64(2), out[1].TrackID, "frame %d", i)
		acc.Observe(out)
	}
	assert.Equal(t, 2, acc.Count(counting.Car))
}

func TestUpdateCoastsThroughOcclusion(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())
	for i := 0; i < 5; i++ {
		tr.Update([]counting.Detection{car(i*40, 0)})
	}
	// hidden for two frames while it keeps moving
	tr.Update(nil)
	tr.Update(nil)
	out := tr.Update([]counting.Detection{car(7*40, 0)})
	assert.Equal(t, int64(1), out[0].TrackID)
}

func TestUpdateIgnoresFarDetection(t *testing.T) {
	tr := NewIoUTracker(DefaultConfig())
	tr.Update([]counting.Detection{car(0, 0)})
	out := tr.Update([]counting.Detection{car(400, 0)})
	assert.Equal(t, int64(2), out[0].TrackID)
}

func TestTrackPredictsConstantVelocity(t *testing.T) {
	tr := newTrack(1, car(0, 0))
	for i := 1; i <= 20; i++ {
		tr.predict()
		tr.correct(car(i*10, 0).Box)
	}
	assert.InDelta(t, 10.0, tr.vx, 0.5)
	assert.InDelta(t, 0.0, tr.vy, 0.5)

	tr.predict()
	assert.InDelta(t, 21*10+50, tr.x, 2.0)
	box := tr.predicted()
	assert.InDelta(t, 210, box.Min.X, 2)
	assert.Equal(t, 100, box.Dx())
	assert.Equal(t, 50, box.Dy())
}
