package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedDetector returns the same raw predictions every call, filtered by the
// requested confidence threshold.
type fixedDetector struct {
	raw      []models.Detection
	lastSeen detections.Params
	err      error
}

func (d *fixedDetector) Detect(_ context.Context, _ image.Image, params detections.Params, _ *models.ProcessingTimings) ([]models.Detection, error) {
	d.lastSeen = params
	if d.err != nil {
		return nil, d.err
	}
	var out []models.Detection
	for _, det := range d.raw {
		if det.Confidence >= params.ConfThreshold {
			out = append(out, det)
		}
	}
	return out, nil
}

type unreadyProvider struct{}

func (unreadyProvider) Ready() (detections.Detector, error) {
	return nil, errs.ErrModelNotReady
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img
}

var rawDetections = []models.Detection{
	{Class: "can", ClassID: 1, Confidence: 0.30, BBox: [4]float32{1, 1, 10, 10}},
	{Class: "bottle", ClassID: 0, Confidence: 0.92, BBox: [4]float32{20, 20, 60, 60}},
	{Class: "paper", ClassID: 2, Confidence: 0.55, BBox: [4]float32{5, 30, 40, 90}},
}

func TestInfer_SortedAndRendered(t *testing.T) {
	det := &fixedDetector{raw: rawDetections}
	inf := NewInferencer(StaticProvider{Detector: det}, detections.DefaultParams(), "image")

	res, err := inf.Infer(context.Background(), testImage(100, 100), detections.Params{ConfThreshold: 0.25})
	require.NoError(t, err)

	require.Len(t, res.Detections, 3)
	assert.Equal(t, "bottle", res.Detections[0].Class)
	assert.Equal(t, "paper", res.Detections[1].Class)
	assert.Equal(t, "can", res.Detections[2].Class)
	require.NotNil(t, res.Rendered)
	assert.Equal(t, image.Rect(0, 0, 100, 100), res.Rendered.Bounds())
	assert.NotNil(t, res.Timings)
}

func TestInfer_MonotonicInThreshold(t *testing.T) {
	det := &fixedDetector{raw: rawDetections}
	inf := NewInferencer(StaticProvider{Detector: det}, detections.DefaultParams(), "image")

	prev := -1
	for _, conf := range []float32{0.9, 0.5, 0.3, 0.1} {
		res, err := inf.Infer(context.Background(), testImage(100, 100), detections.Params{ConfThreshold: conf})
		require.NoError(t, err)
		for _, d := range res.Detections {
			assert.GreaterOrEqual(t, d.Confidence, conf)
		}
		assert.GreaterOrEqual(t, len(res.Detections), prev, "lowering the threshold never removes detections")
		prev = len(res.Detections)
	}
}

func TestInfer_NormalizesParams(t *testing.T) {
	det := &fixedDetector{raw: rawDetections}
	defaults := detections.Params{ConfThreshold: 0.4, IoUThreshold: 0.5}
	inf := NewInferencer(StaticProvider{Detector: det}, defaults, "image")

	_, err := inf.Infer(context.Background(), testImage(10, 10), detections.Params{ConfThreshold: 7, IoUThreshold: 0})
	require.NoError(t, err)
	assert.Equal(t, defaults, det.lastSeen)
}

func TestInfer_Errors(t *testing.T) {
	inf := NewInferencer(unreadyProvider{}, detections.DefaultParams(), "image")
	_, err := inf.Infer(context.Background(), testImage(10, 10), detections.DefaultParams())
	assert.ErrorIs(t, err, errs.ErrModelNotReady)

	boom := errors.New("boom")
	inf = NewInferencer(StaticProvider{Detector: &fixedDetector{err: boom}}, detections.DefaultParams(), "image")
	_, err = inf.Infer(context.Background(), testImage(10, 10), detections.DefaultParams())
	assert.ErrorIs(t, err, boom)
}

func TestDecodeAndSaveImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	src.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	_, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)

	out := filepath.Join(t.TempDir(), "result.png")
	require.NoError(t, SaveImage(out, img))
	reopened, err := OpenImage(out)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), reopened.Bounds())

	assert.Error(t, SaveImage(filepath.Join(t.TempDir(), "result.unknown"), img))
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "abc", RequestID(WithRequestID(context.Background(), "abc")))
}
