package tracker

import (
	"image"
	"math"
	"sort"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

const (
	DefaultIoUThreshold = 0.3
	DefaultMaxLost      = 30
	DefaultCenterGate   = 1.0

	// Kalman noise terms, in pixels per frame.
	processNoisePos  = 1.0
	processNoiseVel  = 1.0
	measurementNoise = 10.0
	initialPosVar    = 10.0
	initialVelVar    = 100.0
)

type Config struct {
	// IoUThreshold is the minimum overlap between a track's predicted box and a
	// detection for the detection to continue the track.
	IoUThreshold float64
	// MaxLost is how many consecutive frames a track may go unmatched before it is dropped.
	MaxLost int
	// CenterGate bounds the second association pass: a detection left over by the
	// IoU pass may still continue a track when its center lies within CenterGate
	// diagonals of the track's predicted box.
	CenterGate float64
}

func DefaultConfig() Config {
	return Config{IoUThreshold: DefaultIoUThreshold, MaxLost: DefaultMaxLost, CenterGate: DefaultCenterGate}
}

type track struct {
	id      int64
	classID int
	lost    int

	// size of the last matched box
	w, h int

	// Kalman state of the box center: [x, y, vx, vy]
	x, y, vx, vy float64
	// Kalman covariance (4x4, row-major)
	p [16]float64
}

func newTrack(id int64, d counting.Detection) *track {
	cx, cy := center(d.Box)
	tr := &track{id: id, classID: d.ClassID, w: d.Box.Dx(), h: d.Box.Dy(), x: cx, y: cy}
	tr.p = [16]float64{
		initialPosVar, 0, 0, 0,
		0, initialPosVar, 0, 0,
		0, 0, initialVelVar, 0,
		0, 0, 0, initialVelVar,
	}
	return tr
}

// predict advances the track one frame with a constant velocity model.
func (tr *track) predict() {
	tr.x += tr.vx
	tr.y += tr.vy

	// P' = F * P * F^T + Q with dt = 1
	p := tr.p
	var fp [16]float64
	for j := 0; j < 4; j++ {
		fp[0*4+j] = p[0*4+j] + p[2*4+j]
		fp[1*4+j] = p[1*4+j] + p[3*4+j]
		fp[2*4+j] = p[2*4+j]
		fp[3*4+j] = p[3*4+j]
	}
	for i := 0; i < 4; i++ {
		tr.p[i*4+0] = fp[i*4+0] + fp[i*4+2]
		tr.p[i*4+1] = fp[i*4+1] + fp[i*4+3]
		tr.p[i*4+2] = fp[i*4+2]
		tr.p[i*4+3] = fp[i*4+3]
	}
	tr.p[0*4+0] += processNoisePos
	tr.p[1*4+1] += processNoisePos
	tr.p[2*4+2] += processNoiseVel
	tr.p[3*4+3] += processNoiseVel
}

// correct folds a matched box into the state.
func (tr *track) correct(box image.Rectangle) {
	zx, zy := center(box)
	yx, yy := zx-tr.x, zy-tr.y

	s00 := tr.p[0*4+0] + measurementNoise
	s01 := tr.p[0*4+1]
	s10 := tr.p[1*4+0]
	s11 := tr.p[1*4+1] + measurementNoise
	det := s00*s11 - s01*s10
	if det <= 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		// singular covariance: restart from the measurement
		*tr = *newTrack(tr.id, counting.Detection{ClassID: tr.classID, Box: box})
		return
	}
	inv00, inv01 := s11/det, -s01/det
	inv10, inv11 := -s10/det, s00/det

	var k [8]float64
	for i := 0; i < 4; i++ {
		k[i*2+0] = tr.p[i*4+0]*inv00 + tr.p[i*4+1]*inv10
		k[i*2+1] = tr.p[i*4+0]*inv01 + tr.p[i*4+1]*inv11
	}

	tr.x += k[0]*yx + k[1]*yy
	tr.y += k[2]*yx + k[3]*yy
	tr.vx += k[4]*yx + k[5]*yy
	tr.vy += k[6]*yx + k[7]*yy

	// P' = (I - K*H) * P, where H picks the position rows
	var np [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			np[i*4+j] = tr.p[i*4+j] - k[i*2+0]*tr.p[0*4+j] - k[i*2+1]*tr.p[1*4+j]
		}
	}
	tr.p = np
	tr.w, tr.h = box.Dx(), box.Dy()
}

// predicted is the last matched box moved to the predicted center.
func (tr *track) predicted() image.Rectangle {
	minX := int(math.Round(tr.x - float64(tr.w)/2))
	minY := int(math.Round(tr.y - float64(tr.h)/2))
	return image.Rect(minX, minY, minX+tr.w, minY+tr.h)
}

// IoUTracker assigns persistent ids to detections. Each track carries a constant
// velocity Kalman filter on its box center; detections are matched by overlap with
// the predicted boxes first and by center distance second. One tracker serves one
// video; it is not safe for concurrent use.
type IoUTracker struct {
	cfg    Config
	tracks []*track
	lastId int64
}

func NewIoUTracker(cfg Config) *IoUTracker {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	if cfg.MaxLost <= 0 {
		cfg.MaxLost = DefaultMaxLost
	}
	if cfg.CenterGate <= 0 {
		cfg.CenterGate = DefaultCenterGate
	}
	return &IoUTracker{cfg: cfg}
}

type candidate struct {
	track, det int
	// higher is better
	score float64
}

// Update matches the detections of the next frame to existing tracks and returns
// them with TrackID set. Unmatched detections start new tracks.
func (t *IoUTracker) Update(dets []counting.Detection) []counting.Detection {
	out := make([]counting.Detection, len(dets))
	copy(out, dets)

	boxes := make([]image.Rectangle, len(t.tracks))
	for i, tr := range t.tracks {
		tr.predict()
		boxes[i] = tr.predicted()
	}

	trackUsed := make([]bool, len(t.tracks))
	detUsed := make([]bool, len(dets))
	assign := func(cands []candidate) {
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
		for _, c := range cands {
			if trackUsed[c.track] || detUsed[c.det] {
				continue
			}
			trackUsed[c.track] = true
			detUsed[c.det] = true
			tr := t.tracks[c.track]
			tr.correct(dets[c.det].Box)
			tr.lost = 0
			out[c.det].TrackID = tr.id
		}
	}

	var cands []candidate
	for ti, tr := range t.tracks {
		for di, d := range dets {
			if d.ClassID != tr.classID {
				continue
			}
			if iou := getIoU(boxes[ti], d.Box); iou >= t.cfg.IoUThreshold {
				cands = append(cands, candidate{track: ti, det: di, score: iou})
			}
		}
	}
	assign(cands)

	cands = cands[:0]
	for ti, tr := range t.tracks {
		if trackUsed[ti] {
			continue
		}
		gate := t.cfg.CenterGate * diagonal(boxes[ti])
		px, py := center(boxes[ti])
		for di, d := range dets {
			if detUsed[di] || d.ClassID != tr.classID {
				continue
			}
			dx, dy := center(d.Box)
			if dist := math.Hypot(dx-px, dy-py); dist <= gate {
				cands = append(cands, candidate{track: ti, det: di, score: -dist})
			}
		}
	}
	assign(cands)

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.lost++
			if tr.lost > t.cfg.MaxLost {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for i, d := range dets {
		if detUsed[i] {
			continue
		}
		t.lastId++
		t.tracks = append(t.tracks, newTrack(t.lastId, d))
		out[i].TrackID = t.lastId
	}
	return out
}

// Active returns the number of live tracks.
func (t *IoUTracker) Active() int {
	return len(t.tracks)
}

func getIoU(bb1, bb2 image.Rectangle) float64 {
	intersect := bb1.Intersect(bb2)
	if intersect.Empty() {
		return 0.0
	}
	interArea := float64(intersect.Dx() * intersect.Dy())
	unionArea := float64(bb1.Dx()*bb1.Dy()+bb2.Dx()*bb2.Dy()) - interArea
	return interArea / unionArea
}

func center(r image.Rectangle) (float64, float64) {
	return float64(r.Min.X+r.Max.X) / 2, float64(r.Min.Y+r.Max.Y) / 2
}

func diagonal(r image.Rectangle) float64 {
	return math.Hypot(float64(r.Dx()), float64(r.Dy()))
}
