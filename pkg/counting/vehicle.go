package counting

import "image"

// VehicleClass is one of the vehicle categories being counted.
type VehicleClass string

const (
	Car        VehicleClass = "Car"
	Motorcycle VehicleClass = "Motorcycle"
	Bus        VehicleClass = "Bus"
	Truck      VehicleClass = "Truck"
)

// Classes lists the vehicle classes in display order.
var Classes = []VehicleClass{Car, Motorcycle, Bus, Truck}

// vehicleClassIDs maps COCO class indices (as emitted by YOLOv8) to vehicle classes.
var vehicleClassIDs = map[int]VehicleClass{
	2: Car,
	3: Motorcycle,
	5: Bus,
	7: Truck,
}

// ClassFromID returns the vehicle class for a detector class id.
func ClassFromID(classID int) (VehicleClass, bool) {
	c, ok := vehicleClassIDs[classID]
	return c, ok
}

// Untracked marks a detection the tracker has not assigned an identity to.
const Untracked int64 = -1

// Detection is a single object reported by the detection+tracking oracle for one frame.
type Detection struct {
	ClassID    int
	Confidence float64
	TrackID    int64
	Box        image.Rectangle
}

// Tracked reports whether the detection carries a track identifier.
func (d Detection) Tracked() bool {
	return d.TrackID >= 0
}
