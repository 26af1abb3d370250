package forensics

import (
	"fmt"
	"math"

	"document-anomaly-service/internal/models"
)

// checkCompressionArtifacts samples the horizontal seam between JPEG blocks
// on the 8-pixel grid. Regions saved at different times have seams of
// different strength.
func (e *Engine) checkCompressionArtifacts(gray *grayImage) (*models.Flag, error) {
	grid := e.config.ArtifactGrid
	var samples []float64
	for y := 0; y < gray.h-2*grid; y += grid {
		for x := 0; x < gray.w-2*grid; x += grid {
			var sum float64
			for k := 0; k < grid; k++ {
				sum += math.Abs(gray.at(x+k, y+grid) - gray.at(x+k, y+grid-1))
			}
			samples = append(samples, sum/float64(grid))
		}
	}
	if len(samples) <= e.config.ArtifactMinSamples {
		return nil, nil
	}

	spread := variance(samples)
	if spread <= e.config.ArtifactVarianceThreshold {
		return nil, nil
	}

	flag := models.NewFlag(models.FlagJPEGArtifacts, "Inconsistent JPEG compression artifacts detected", models.SeverityMedium,
		[]string{
			fmt.Sprintf("Artifact pattern variance: %.1f", spread),
			"Different regions may have been compressed at different times",
		},
		models.WithMetric("artifact_variance", spread))
	return &flag, nil
}
