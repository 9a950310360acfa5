package video

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/detector"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
)

const (
	overlayX      = 10
	overlayY      = 30
	overlayStep   = 30
	overlayScale  = 0.7
	overlayThick  = 2
	labelScale    = 0.5
	labelThick    = 1
	boxThickness  = 2
	labelPaddingY = 4
)

var (
	white = color.RGBA{255, 255, 255, 0}

	palette = []color.RGBA{
		{255, 56, 56, 0}, {255, 157, 151, 0}, {255, 112, 31, 0}, {255, 178, 29, 0},
		{207, 210, 49, 0}, {72, 249, 10, 0}, {146, 204, 23, 0}, {61, 219, 134, 0},
		{26, 147, 52, 0}, {0, 212, 187, 0}, {44, 153, 168, 0}, {0, 194, 255, 0},
	}
)

func classColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Annotator draws detection boxes with labels and the running per-class counts.
type Annotator struct{}

func (Annotator) Annotate(f pipeline.Frame, dets []counting.Detection, counts counting.VehicleCounts) error {
	img, err := matOf(f)
	if err != nil {
		return err
	}
	drawRects(&img, dets)
	drawCounts(&img, counts)
	return nil
}

func label(d counting.Detection) string {
	if d.Tracked() {
		return fmt.Sprintf("id:%d %s %.2f", d.TrackID, detector.ClassName(d.ClassID), d.Confidence)
	}
	return fmt.Sprintf("%s %.2f", detector.ClassName(d.ClassID), d.Confidence)
}

func drawRects(img *gocv.Mat, dets []counting.Detection) {
	for _, d := range dets {
		c := classColor(d.ClassID)
		gocv.Rectangle(img, d.Box, c, boxThickness)

		text := label(d)
		size := gocv.GetTextSize(text, gocv.FontHersheySimplex, labelScale, labelThick)
		top := d.Box.Min.Y - size.Y - 2*labelPaddingY
		if top < 0 {
			top = d.Box.Min.Y
		}
		bg := image.Rect(d.Box.Min.X, top, d.Box.Min.X+size.X, top+size.Y+2*labelPaddingY)
		gocv.Rectangle(img, bg, c, -1)
		gocv.PutText(img, text, image.Pt(d.Box.Min.X, top+size.Y+labelPaddingY), gocv.FontHersheySimplex, labelScale, white, labelThick)
	}
}

func drawCounts(img *gocv.Mat, counts counting.VehicleCounts) {
	y := overlayY
	for _, line := range counting.OverlayLines(counts) {
		gocv.PutText(img, line, image.Pt(overlayX, y), gocv.FontHersheySimplex, overlayScale, white, overlayThick)
		y += overlayStep
	}
}
