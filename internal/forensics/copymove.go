package forensics

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"math/rand"
	"sort"

	"github.com/disintegration/imaging"

	"document-anomaly-service/internal/models"
)

const (
	briefPatch = 31
	briefHalf  = briefPatch / 2
	briefBits  = 256
	harrisK    = 0.04
)

type samplePair struct {
	x1, y1, x2, y2 int
}

// briefPattern is the fixed intensity-comparison pattern. Offsets are
// Gaussian around the keypoint and clipped to the patch.
var briefPattern = func() [briefBits]samplePair {
	rng := rand.New(rand.NewSource(31))
	clip := func() int {
		v := int(math.Round(rng.NormFloat64() * briefPatch / 5))
		if v < -briefHalf {
			return -briefHalf
		}
		if v > briefHalf {
			return briefHalf
		}
		return v
	}
	var pattern [briefBits]samplePair
	for i := range pattern {
		pattern[i] = samplePair{clip(), clip(), clip(), clip()}
	}
	return pattern
}()

type keypoint struct {
	x, y     int
	response float64
}

type descriptor [briefBits / 64]uint64

func hamming(a, b descriptor) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// checkCopyMove looks for keypoints whose neighbourhood appears several
// times in the same image, the trace of a region copied and pasted.
func (e *Engine) checkCopyMove(img image.Image) (*models.Flag, error) {
	gray := newGrayImage(img)
	keypoints := harrisKeypoints(gray, e.config.CopyMoveMaxKeypoints)
	if len(keypoints) <= e.config.CopyMoveMinDescriptors {
		return nil, nil
	}

	smoothed := newGrayImage(imaging.Blur(img, 2))
	descriptors := make([]descriptor, len(keypoints))
	for i, kp := range keypoints {
		descriptors[i] = briefDescriptor(smoothed, kp)
	}

	suspicious := 0
	distances := make([]int, len(descriptors))
	for i := range descriptors {
		for j := range descriptors {
			distances[j] = hamming(descriptors[i], descriptors[j])
		}
		nearest := append([]int(nil), distances...)
		sort.Ints(nearest)
		if len(nearest) > e.config.CopyMoveNeighbors {
			nearest = nearest[:e.config.CopyMoveNeighbors]
		}
		if len(nearest) <= e.config.CopyMoveMinGroup {
			continue
		}
		// The closest match is the keypoint itself.
		var sum float64
		for _, d := range nearest[1:] {
			sum += float64(d)
		}
		if sum/float64(len(nearest)-1) < e.config.CopyMoveMaxDistance {
			suspicious++
		}
	}

	if suspicious <= e.config.CopyMoveMinSuspicious {
		return nil, nil
	}

	flag := models.NewFlag(models.FlagCopyMoveSuspected, "Potential copy-move manipulation detected", models.SeverityHigh,
		[]string{
			fmt.Sprintf("Found %d suspicious duplicate regions", suspicious),
			"Regions of the image may have been copied and pasted",
		},
		models.WithMetric("suspicious_matches", float64(suspicious)),
		models.WithMetric("keypoints", float64(len(keypoints))))
	return &flag, nil
}

// harrisKeypoints returns up to max corner points ranked by Harris response.
// Points closer to the border than half a descriptor patch are skipped.
func harrisKeypoints(gray *grayImage, max int) []keypoint {
	w, h := gray.w, gray.h
	if w < briefPatch+2 || h < briefPatch+2 {
		return nil
	}

	ixx := make([]float64, w*h)
	iyy := make([]float64, w*h)
	ixy := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := gray.sobel(x, y)
			i := y*w + x
			ixx[i], iyy[i], ixy[i] = gx*gx, gy*gy, gx*gy
		}
	}

	response := make([]float64, w*h)
	maxResponse := 0.0
	for y := 2; y < h-2; y++ {
		for x := 2; x < w-2; x++ {
			var sxx, syy, sxy float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					i := (y+dy)*w + x + dx
					sxx += ixx[i]
					syy += iyy[i]
					sxy += ixy[i]
				}
			}
			trace := sxx + syy
			r := sxx*syy - sxy*sxy - harrisK*trace*trace
			response[y*w+x] = r
			if r > maxResponse {
				maxResponse = r
			}
		}
	}
	if maxResponse <= 0 {
		return nil
	}

	threshold := 0.01 * maxResponse
	margin := briefHalf + 1
	var points []keypoint
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			r := response[y*w+x]
			if r <= threshold || !isLocalMax(response, w, x, y) {
				continue
			}
			points = append(points, keypoint{x: x, y: y, response: r})
		}
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].response != points[j].response {
			return points[i].response > points[j].response
		}
		if points[i].y != points[j].y {
			return points[i].y < points[j].y
		}
		return points[i].x < points[j].x
	})
	if len(points) > max {
		points = points[:max]
	}
	return points
}

// isLocalMax reports whether (x, y) is the strict maximum of its 3x3
// neighbourhood, with ties going to the earliest pixel in raster order.
func isLocalMax(response []float64, w, x, y int) bool {
	r := response[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := response[(y+dy)*w+x+dx]
			if n > r || (n == r && (dy < 0 || (dy == 0 && dx < 0))) {
				return false
			}
		}
	}
	return true
}

func briefDescriptor(smoothed *grayImage, kp keypoint) descriptor {
	var d descriptor
	for i, p := range briefPattern {
		if smoothed.at(kp.x+p.x1, kp.y+p.y1) < smoothed.at(kp.x+p.x2, kp.y+p.y2) {
			d[i/64] |= 1 << uint(i%64)
		}
	}
	return d
}
