package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLayout(t *testing.T) {
	layout, boxes, classes, err := resolveLayout(25200, 85)
	require.NoError(t, err)
	assert.Equal(t, layoutRows, layout)
	assert.Equal(t, 25200, boxes)
	assert.Equal(t, 80, classes)

	layout, boxes, classes, err = resolveLayout(84, 8400)
	require.NoError(t, err)
	assert.Equal(t, layoutChannels, layout)
	assert.Equal(t, 8400, boxes)
	assert.Equal(t, 80, classes)

	_, _, _, err = resolveLayout(4, 8400)
	assert.Error(t, err)
}

func TestDecodeOutput_Rows(t *testing.T) {
	spec := ModelSpec{Layout: layoutRows, NumBoxes: 3, NumClasses: 2}
	predictions := []float32{
		// cx, cy, w, h, obj, c0, c1
		50, 50, 20, 20, 0.9, 0.1, 0.8,
		10, 10, 4, 4, 0.2, 0.9, 0.1,
		70, 30, 10, 10, 0.6, 0.9, 0.3,
	}

	cands, err := decodeOutput(predictions, spec, 0.5)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, 1, cands[0].classID)
	assert.InDelta(t, 0.72, cands[0].score, 1e-6)
	assert.Equal(t, [4]float32{40, 40, 60, 60}, cands[0].box)
	assert.Equal(t, 0, cands[1].classID)
	assert.InDelta(t, 0.54, cands[1].score, 1e-6)
}

func TestDecodeOutput_Channels(t *testing.T) {
	spec := ModelSpec{Layout: layoutChannels, NumBoxes: 2, NumClasses: 2}
	predictions := []float32{
		// cx row, cy row, w row, h row, class 0 row, class 1 row
		100, 10,
		100, 10,
		40, 2,
		20, 2,
		0.3, 0.1,
		0.7, 0.2,
	}

	cands, err := decodeOutput(predictions, spec, 0.25)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].classID)
	assert.InDelta(t, 0.7, cands[0].score, 1e-6)
	assert.Equal(t, [4]float32{80, 90, 120, 110}, cands[0].box)
}

func TestDecodeOutput_LengthMismatch(t *testing.T) {
	spec := ModelSpec{Layout: layoutChannels, NumBoxes: 10, NumClasses: 2}
	_, err := decodeOutput(make([]float32, 5), spec, 0.25)
	assert.Error(t, err)
}

func TestDecodeOutput_NeverBelowThreshold(t *testing.T) {
	spec := ModelSpec{Layout: layoutChannels, NumBoxes: 100, NumClasses: 1}
	predictions := make([]float32, 5*100)
	for i := 0; i < 100; i++ {
		predictions[i] = 50
		predictions[100+i] = 50
		predictions[200+i] = 10
		predictions[300+i] = 10
		predictions[400+i] = float32(i) / 100
	}

	for _, threshold := range []float32{0, 0.1, 0.5, 0.99} {
		cands, err := decodeOutput(predictions, spec, threshold)
		require.NoError(t, err)
		for _, c := range cands {
			assert.GreaterOrEqual(t, c.score, threshold)
		}
	}
}

func TestToDetections(t *testing.T) {
	lb := letterbox{scale: 0.5, padX: 0, padY: 80}
	cands := []candidate{
		{box: [4]float32{10, 90, 50, 130}, score: 0.8, classID: 0},
		// entirely inside the padding: collapses after clipping
		{box: [4]float32{10, 0, 50, 40}, score: 0.9, classID: 0},
		{box: [4]float32{300, 300, 400, 400}, score: 1.2, classID: 5},
	}

	dets := toDetections(cands, lb, 640, 480, Labels{"bottle"})

	require.Len(t, dets, 2)
	assert.Equal(t, "bottle", dets[0].Class)
	assert.Equal(t, [4]float32{20, 20, 100, 100}, dets[0].BBox)
	assert.Equal(t, "class_5", dets[1].Class)
	assert.Equal(t, float32(1), dets[1].Confidence)
	assert.Equal(t, [4]float32{600, 440, 640, 480}, dets[1].BBox)
}
