package oracle

import (
	"fmt"
	"image"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

var detectionFields = []string{"class_id", "confidence", "track_id", "x1", "y1", "x2", "y2"}

// EncodeDetections converts detections into the Track response.
func EncodeDetections(dets []counting.Detection) *structpb.ListValue {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(dets))}
	for _, d := range dets {
		s := &structpb.Struct{Fields: map[string]*structpb.Value{
			"class_id":   structpb.NewNumberValue(float64(d.ClassID)),
			"confidence": structpb.NewNumberValue(d.Confidence),
			"track_id":   structpb.NewNumberValue(float64(d.TrackID)),
			"x1":         structpb.NewNumberValue(float64(d.Box.Min.X)),
			"y1":         structpb.NewNumberValue(float64(d.Box.Min.Y)),
			"x2":         structpb.NewNumberValue(float64(d.Box.Max.X)),
			"y2":         structpb.NewNumberValue(float64(d.Box.Max.Y)),
		}}
		list.Values = append(list.Values, structpb.NewStructValue(s))
	}
	return list
}

// DecodeDetections parses a Track response. Every element must carry all fields.
func DecodeDetections(list *structpb.ListValue) ([]counting.Detection, error) {
	if list == nil {
		return nil, nil
	}
	dets := make([]counting.Detection, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("detection %d: not a struct", i)
		}
		n := make(map[string]float64, len(detectionFields))
		for _, f := range detectionFields {
			fv, ok := s.GetFields()[f]
			if !ok {
				return nil, fmt.Errorf("detection %d: missing field %q", i, f)
			}
			if _, ok := fv.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, fmt.Errorf("detection %d: field %q is not a number", i, f)
			}
			n[f] = fv.GetNumberValue()
		}
		dets = append(dets, counting.Detection{
			ClassID:    int(math.Round(n["class_id"])),
			Confidence: n["confidence"],
			TrackID:    int64(math.Round(n["track_id"])),
			Box: image.Rect(int(math.Round(n["x1"])), int(math.Round(n["y1"])),
				int(math.Round(n["x2"])), int(math.Round(n["y2"]))),
		})
	}
	return dets, nil
}
