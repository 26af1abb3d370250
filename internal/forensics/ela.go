package forensics

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"document-anomaly-service/internal/models"
)

// checkErrorLevel re-encodes the image as JPEG and measures how much each
// pixel moves. Regions edited after the last save recompress differently.
func (e *Engine) checkErrorLevel(img image.Image) (*models.Flag, error) {
	original := flatten(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, original, imaging.JPEG, imaging.JPEGQuality(e.config.ELAQuality)); err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}
	decoded, err := imaging.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode re-encoded image: %w", err)
	}
	resaved := imaging.Clone(decoded)

	if !original.Bounds().Size().Eq(resaved.Bounds().Size()) {
		return nil, nil
	}

	w, h := original.Bounds().Dx(), original.Bounds().Dy()
	total := w * h
	if total == 0 {
		return nil, nil
	}

	var maxDiff, sumDiff float64
	high := 0
	for y := 0; y < h; y++ {
		a := original.Pix[y*original.Stride:]
		b := resaved.Pix[y*resaved.Stride:]
		for x := 0; x < w; x++ {
			o := x * 4
			d := (math.Abs(float64(a[o])-float64(b[o])) +
				math.Abs(float64(a[o+1])-float64(b[o+1])) +
				math.Abs(float64(a[o+2])-float64(b[o+2]))) / 3
			sumDiff += d
			if d > maxDiff {
				maxDiff = d
			}
			if d > e.config.ELAPixelThreshold {
				high++
			}
		}
	}

	if maxDiff <= e.config.ELAMaxDiffThreshold {
		return nil, nil
	}
	fraction := float64(high) / float64(total)
	if fraction <= e.config.ELAMinFraction {
		return nil, nil
	}

	meanDiff := sumDiff / float64(total)
	flag := models.NewFlag(models.FlagELAAnomaly, "Error Level Analysis detected potential editing", models.SeverityHigh,
		[]string{
			fmt.Sprintf("Maximum error level: %.1f", maxDiff),
			fmt.Sprintf("Average error level: %.1f", meanDiff),
			fmt.Sprintf("High-error regions: %.2f%% of image", fraction*100),
		},
		models.WithMetric("max_error", maxDiff),
		models.WithMetric("mean_error", meanDiff),
		models.WithMetric("high_error_fraction", fraction))
	return &flag, nil
}
