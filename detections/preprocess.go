package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// letterbox records how a source image was mapped onto the model input so
// boxes can be mapped back.
type letterbox struct {
	scale float32
	padX  float32
	padY  float32
}

// letterboxImage resizes img to fit width x height keeping its aspect ratio
// and centres it on a gray canvas.
func letterboxImage(img image.Image, width, height int) (*image.NRGBA, letterbox) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	scale := math.Min(float64(width)/float64(srcW), float64(height)/float64(srcH))
	newW := max(1, int(math.Round(float64(srcW)*scale)))
	newH := max(1, int(math.Round(float64(srcH)*scale)))

	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas := imaging.New(width, height, color.NRGBA{R: LetterboxFill, G: LetterboxFill, B: LetterboxFill, A: 255})
	padX := (width - newW) / 2
	padY := (height - newH) / 2
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, letterbox{scale: float32(scale), padX: float32(padX), padY: float32(padY)}
}

// fillTensor writes pic into dst as planar RGB scaled to [0,1]. Rows are
// split across workers.
func fillTensor(pic *image.NRGBA, dst []float32) {
	width, height := pic.Rect.Dx(), pic.Rect.Dy()
	channelSize := width * height
	numWorkers := min(runtime.GOMAXPROCS(0), height)
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := pic.Pix[y*pic.Stride:]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					dst[i] = float32(src[x*4]) / 255.0
					dst[channelSize+i] = float32(src[x*4+1]) / 255.0
					dst[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// restoreBox maps a model-space (x1, y1, x2, y2) box back to source pixels
// and clips it to the source bounds.
func restoreBox(box [4]float32, lb letterbox, srcW, srcH int) [4]float32 {
	clip := func(v, limit float32) float32 {
		return float32(math.Max(0, math.Min(float64(limit), float64(v))))
	}
	return [4]float32{
		clip((box[0]-lb.padX)/lb.scale, float32(srcW)),
		clip((box[1]-lb.padY)/lb.scale, float32(srcH)),
		clip((box[2]-lb.padX)/lb.scale, float32(srcW)),
		clip((box[3]-lb.padY)/lb.scale, float32(srcH)),
	}
}
