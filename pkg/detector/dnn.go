package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

var (
	ratio    = 0.003921568627
	mean     = gocv.NewScalar(0, 0, 0, 0)
	swapRGB  = true
	padValue = gocv.NewScalar(114.0, 114.0, 114.0, 0)
)

// maxWH offsets boxes per class so a single NMS pass does not suppress
// overlapping objects of different classes.
const maxWH = 7680

const (
	DefaultScoreThreshold float32 = 0.25
	DefaultNMSThreshold   float32 = 0.5
	DefaultImageSize              = 640
)

// YoloV8 detector model
type Config struct {
	Model          string
	ImageWidth     int
	ImageHeight    int
	ScoreThreshold float32
	NMSThreshold   float32
	Backend        string
	Target         string
}

func (c *Config) setDefaults() {
	if c.ImageWidth <= 0 {
		c.ImageWidth = DefaultImageSize
	}
	if c.ImageHeight <= 0 {
		c.ImageHeight = DefaultImageSize
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.NMSThreshold <= 0 {
		c.NMSThreshold = DefaultNMSThreshold
	}
}

// Detector wraps a YOLOv8 ONNX network. The network is loaded once and shared by every
// video; Forward calls are serialized.
type Detector struct {
	mu          sync.Mutex
	cfg         Config
	net         gocv.Net
	outputNames []string
	params      gocv.ImageToBlobParams
}

func New(cfg Config) (*Detector, error) {
	cfg.setDefaults()

	info, err := os.Stat(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("model file %s: %w", cfg.Model, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("model file %s is empty", cfg.Model)
	}

	net := gocv.ReadNetFromONNX(cfg.Model)
	if net.Empty() {
		return nil, fmt.Errorf("error reading network model from %s", cfg.Model)
	}
	if err := net.SetPreferableBackend(gocv.ParseNetBackend(cfg.Backend)); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting backend %q: %w", cfg.Backend, err)
	}
	if err := net.SetPreferableTarget(gocv.ParseNetTarget(cfg.Target)); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting target %q: %w", cfg.Target, err)
	}

	outputNames := getOutputNames(&net)
	if len(outputNames) == 0 {
		net.Close()
		return nil, fmt.Errorf("error reading output layer names from %s", cfg.Model)
	}

	return &Detector{
		cfg:         cfg,
		net:         net,
		outputNames: outputNames,
		params: gocv.NewImageToBlobParams(ratio, image.Pt(cfg.ImageWidth, cfg.ImageHeight), mean, swapRGB,
			gocv.MatTypeCV32F, gocv.DataLayoutNCHW, gocv.PaddingModeLetterbox, padValue),
	}, nil
}

// Detect runs the network on img and returns the detections that survive the score
// threshold and NMS, in image coordinates. Track ids are left Untracked.
func (d *Detector) Detect(img gocv.Mat) ([]counting.Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	blob := gocv.BlobFromImageWithParams(img, d.params)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	probs := d.net.ForwardLayers(d.outputNames)
	d.mu.Unlock()
	defer func() {
		for _, prob := range probs {
			prob.Close()
		}
	}()
	if len(probs) == 0 {
		return nil, fmt.Errorf("network returned no output")
	}

	boxes, confidences, classIds := performDetection(probs[0], d.cfg.ScoreThreshold)
	if len(boxes) == 0 {
		return nil, nil
	}

	iboxes := d.params.BlobRectsToImageRects(boxes, image.Pt(img.Cols(), img.Rows()))
	indices := gocv.NMSBoxes(offsetByClass(iboxes, classIds), confidences, d.cfg.ScoreThreshold, d.cfg.NMSThreshold)

	dets := make([]counting.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, counting.Detection{
			ClassID:    classIds[idx],
			Confidence: float64(confidences[idx]),
			TrackID:    counting.Untracked,
			Box:        iboxes[idx],
		})
	}
	return dets, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func getOutputNames(net *gocv.Net) []string {
	var outputLayers []string
	for _, i := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(i)
		layerName := layer.GetName()
		if layerName != "_input" {
			outputLayers = append(outputLayers, layerName)
		}
	}

	return outputLayers
}

// performDetection decodes a YOLOv8 output of shape [1, 4+classes, anchors].
// Boxes are returned in blob coordinates.
func performDetection(out gocv.Mat, scoreThreshold float32) ([]image.Rectangle, []float32, []int) {
	var classIds []int
	var confidences []float32
	var boxes []image.Rectangle

	// needed for yolov8
	transposed := gocv.NewMat()
	defer transposed.Close()
	gocv.TransposeND(out, []int{0, 2, 1}, &transposed)

	rows := transposed.Reshape(1, transposed.Size()[1])
	defer rows.Close()

	cols := rows.Cols()
	for i := 0; i < rows.Rows(); i++ {
		row := rows.RowRange(i, i+1)
		scores := row.ColRange(4, cols)
		_, confidence, _, classIDPoint := gocv.MinMaxLoc(scores)
		scores.Close()
		row.Close()

		if confidence < scoreThreshold {
			continue
		}
		centerX := rows.GetFloatAt(i, 0)
		centerY := rows.GetFloatAt(i, 1)
		width := rows.GetFloatAt(i, 2)
		height := rows.GetFloatAt(i, 3)

		left := centerX - width/2
		top := centerY - height/2
		right := centerX + width/2
		bottom := centerY + height/2

		classIds = append(classIds, classIDPoint.X)
		confidences = append(confidences, confidence)
		boxes = append(boxes, image.Rect(int(left), int(top), int(right), int(bottom)))
	}

	return boxes, confidences, classIds
}

func offsetByClass(boxes []image.Rectangle, classIds []int) []image.Rectangle {
	shifted := make([]image.Rectangle, len(boxes))
	for i, b := range boxes {
		off := image.Pt(classIds[i]*maxWH, classIds[i]*maxWH)
		shifted[i] = b.Add(off)
	}
	return shifted
}
