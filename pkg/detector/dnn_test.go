package detector

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassName(t *testing.T) {
	assert.Equal(t, "car", ClassName(2))
	assert.Equal(t, "motorcycle", ClassName(3))
	assert.Equal(t, "bus", ClassName(5))
	assert.Equal(t, "truck", ClassName(7))
	assert.Equal(t, "toothbrush", ClassName(79))
	assert.Equal(t, "80", ClassName(80))
	assert.Equal(t, "-1", ClassName(-1))
}

func TestOffsetByClass(t *testing.T) {
	boxes := []image.Rectangle{image.Rect(0, 0, 10, 10), image.Rect(0, 0, 10, 10)}
	shifted := offsetByClass(boxes, []int{2, 7})
	assert.False(t, shifted[0].Overlaps(shifted[1]))
	assert.Equal(t, boxes[0].Size(), shifted[0].Size())
	// input untouched
	assert.Equal(t, image.Rect(0, 0, 10, 10), boxes[0])
}

func TestNewRejectsMissingModel(t *testing.T) {
	_, err := New(Config{Model: filepath.Join(t.TempDir(), "missing.onnx")})
	require.Error(t, err)
}

func TestNewRejectsEmptyModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.onnx")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := New(Config{Model: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	c.setDefaults()
	assert.Equal(t, DefaultImageSize, c.ImageWidth)
	assert.Equal(t, DefaultImageSize, c.ImageHeight)
	assert.Equal(t, DefaultScoreThreshold, c.ScoreThreshold)
	assert.Equal(t, DefaultNMSThreshold, c.NMSThreshold)
}
