package forensics

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// grayImage is a row-major luminance buffer with values in [0, 255]
type grayImage struct {
	w, h int
	pix  []float64
}

// flatten composites img onto an opaque white background. Pixel buffers
// read by the checks then never carry the color of transparent pixels.
func flatten(img image.Image) *image.NRGBA {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return imaging.Clone(img)
	}
	b := img.Bounds()
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
}

func newGrayImage(img image.Image) *grayImage {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	out := &grayImage{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < out.h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < out.w; x++ {
			out.pix[y*out.w+x] = float64(row[x*4])
		}
	}
	return out
}

func (g *grayImage) at(x, y int) float64 {
	return g.pix[y*g.w+x]
}

// atReflect reads with edge pixels mirrored outside the bounds
func (g *grayImage) atReflect(x, y int) float64 {
	return g.at(reflect(x, g.w), reflect(y, g.h))
}

func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// sobel returns the unnormalized 3x3 Sobel gradients at an interior pixel
func (g *grayImage) sobel(x, y int) (gx, gy float64) {
	a, b, c := g.at(x-1, y-1), g.at(x, y-1), g.at(x+1, y-1)
	d, f := g.at(x-1, y), g.at(x+1, y)
	h, i, j := g.at(x-1, y+1), g.at(x, y+1), g.at(x+1, y+1)
	gx = (c + 2*f + j) - (a + 2*d + h)
	gy = (h + 2*i + j) - (a + 2*b + c)
	return gx, gy
}

// fitted returns img scaled down to fit within max pixels on its longer
// side. It reports false and returns img itself when it already fits.
func fitted(img image.Image, max int) (image.Image, bool) {
	b := img.Bounds()
	if max <= 0 || (b.Dx() <= max && b.Dy() <= max) {
		return img, false
	}
	return imaging.Fit(img, max, max, imaging.Lanczos), true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance is the population variance
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}
