package counting

// MinConfidence is the lowest score a detection needs to be counted. The detector
// applies the same threshold before tracking; the accumulator checks it again.
const MinConfidence = 0.25

// VehicleCounts maps each vehicle class to its number of unique track ids.
type VehicleCounts map[VehicleClass]int

// Total sums the counts of all classes.
func (vc VehicleCounts) Total() int {
	total := 0
	for _, n := range vc {
		total += n
	}
	return total
}

// Accumulator keeps, per vehicle class, the set of track ids seen during one video.
// Sets only grow; an id is never removed or moved to another class.
type Accumulator struct {
	ids map[VehicleClass]map[int64]struct{}
}

func NewAccumulator() *Accumulator {
	a := &Accumulator{ids: make(map[VehicleClass]map[int64]struct{}, len(Classes))}
	for _, c := range Classes {
		a.ids[c] = make(map[int64]struct{})
	}
	return a
}

// Observe feeds the detections of one frame into the accumulator.
func (a *Accumulator) Observe(dets []Detection) {
	for _, d := range dets {
		if d.Confidence < MinConfidence {
			continue
		}
		if !d.Tracked() {
			continue
		}
		class, ok := ClassFromID(d.ClassID)
		if !ok {
			continue
		}
		a.ids[class][d.TrackID] = struct{}{}
	}
}

// Count returns the running unique count for one class.
func (a *Accumulator) Count(c VehicleClass) int {
	return len(a.ids[c])
}

// Counts returns a snapshot of the running counts. Every class is present, zero or not.
func (a *Accumulator) Counts() VehicleCounts {
	counts := make(VehicleCounts, len(Classes))
	for _, c := range Classes {
		counts[c] = len(a.ids[c])
	}
	return counts
}

func (a *Accumulator) Total() int {
	return a.Counts().Total()
}
