package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// palette is indexed by class id modulo its length.
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 44, G: 153, B: 168, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
	{R: 100, G: 115, B: 255, A: 255},
	{R: 0, G: 24, B: 236, A: 255},
	{R: 132, G: 56, B: 255, A: 255},
	{R: 82, G: 0, B: 133, A: 255},
	{R: 203, G: 56, B: 255, A: 255},
	{R: 255, G: 149, B: 200, A: 255},
	{R: 255, G: 55, B: 199, A: 255},
}

// ClassColor returns the box colour used for a class id.
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}

// Label is the text drawn above a box.
func Label(d models.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
}

// Annotate returns a copy of img with every detection drawn as a rectangle
// and a filled label tab. img is left untouched.
func Annotate(img image.Image, dets []models.Detection) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	if len(dets) == 0 {
		return dst
	}

	dc := gg.NewContextForRGBA(dst)
	lineWidth := max(2, float64(min(b.Dx(), b.Dy()))/300)
	fontSize := max(10, lineWidth*6)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, d := range dets {
		c := ClassColor(d.ClassID)
		x1, y1 := float64(d.BBox[0]), float64(d.BBox[1])
		w, h := float64(d.BBox[2]-d.BBox[0]), float64(d.BBox[3]-d.BBox[1])

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x1, y1, w, h)
		dc.Stroke()

		text := Label(d)
		tw, th := dc.MeasureString(text)
		pad := lineWidth
		tabH := th + 2*pad
		tabY := y1 - tabH
		if tabY < 0 {
			// no room above the box
			tabY = y1
		}
		dc.DrawRectangle(x1, tabY, tw+2*pad, tabH)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawStringAnchored(text, x1+pad, tabY+pad, 0, 1)
	}
	return dst
}
