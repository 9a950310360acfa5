package counting

// TrafficLevel is the coarse classification of the number of unique vehicles in a video.
type TrafficLevel string

const (
	Low    TrafficLevel = "LOW"
	Medium TrafficLevel = "MEDIUM"
	High   TrafficLevel = "HIGH"
)

const (
	mediumFrom = 10
	mediumTo   = 20
)

// Classify maps a total unique-vehicle count to a traffic level.
func Classify(total int) TrafficLevel {
	switch {
	case total < mediumFrom:
		return Low
	case total <= mediumTo:
		return Medium
	default:
		return High
	}
}
