package counting

import "fmt"

// OverlayLines renders the running counts as the text lines burned into each frame,
// one per class in display order.
func OverlayLines(counts VehicleCounts) []string {
	lines := make([]string, 0, len(Classes))
	for _, c := range Classes {
		lines = append(lines, fmt.Sprintf("%s: %d", c, counts[c]))
	}
	return lines
}
