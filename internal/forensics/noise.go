package forensics

import (
	"fmt"
	"math"

	"document-anomaly-service/internal/models"
)

// checkNoise compares high-pass energy across fixed-size blocks. Spliced
// regions carry noise from a different source.
func (e *Engine) checkNoise(gray *grayImage) (*models.Flag, error) {
	size := e.config.NoiseBlockSize
	var variances []float64
	for y := 0; y < gray.h-size; y += size {
		for x := 0; x < gray.w-size; x += size {
			variances = append(variances, blockEdgeVariance(gray, x, y, size))
		}
	}
	if len(variances) <= e.config.NoiseMinBlocks {
		return nil, nil
	}

	inconsistency := variance(variances)
	if inconsistency <= e.config.NoiseVarianceThreshold {
		return nil, nil
	}

	flag := models.NewFlag(models.FlagInconsistentNoise, "Inconsistent noise patterns detected across image", models.SeverityMedium,
		[]string{
			fmt.Sprintf("Noise variance inconsistency: %.4f", inconsistency),
			"May indicate copy-paste or splicing manipulation",
		},
		models.WithMetric("variance_of_variance", inconsistency),
		models.WithMetric("blocks", float64(len(variances))))
	return &flag, nil
}

// blockEdgeVariance applies a normalized Sobel magnitude to one block, with
// intensities scaled to [0, 1] and edges mirrored at the block border, and
// returns the variance of the result.
func blockEdgeVariance(gray *grayImage, x0, y0, size int) float64 {
	block := &grayImage{w: size, h: size, pix: make([]float64, size*size)}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			block.pix[y*size+x] = gray.at(x0+x, y0+y) / 255
		}
	}

	magnitudes := make([]float64, 0, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			a, b, c := block.atReflect(x-1, y-1), block.atReflect(x, y-1), block.atReflect(x+1, y-1)
			d, f := block.atReflect(x-1, y), block.atReflect(x+1, y)
			g, h, i := block.atReflect(x-1, y+1), block.atReflect(x, y+1), block.atReflect(x+1, y+1)
			gx := ((c + 2*f + i) - (a + 2*d + g)) / 4
			gy := ((g + 2*h + i) - (a + 2*b + c)) / 4
			magnitudes = append(magnitudes, math.Sqrt((gx*gx+gy*gy)/2))
		}
	}
	return variance(magnitudes)
}
