package forensics

import (
	"fmt"
	"math"
	"sort"

	"document-anomaly-service/internal/models"
)

type segment struct {
	x1, y1, x2, y2 int
}

// checkAlignment measures the spread of near-horizontal line angles. Text
// pasted from another source rarely shares the page's baseline angle.
func (e *Engine) checkAlignment(gray *grayImage) (*models.Flag, error) {
	edges := canny(gray, e.config.CannyLow, e.config.CannyHigh)
	segments := houghSegments(edges, gray.w, gray.h, e.config.HoughThreshold,
		e.config.HoughMinLineLength, e.config.HoughMaxLineGap)
	return e.evaluateAngles(segments), nil
}

func (e *Engine) evaluateAngles(segments []segment) *models.Flag {
	if len(segments) <= e.config.AlignmentMinSegments {
		return nil
	}

	var angles []float64
	for _, s := range segments {
		if s.x2 == s.x1 {
			continue
		}
		angle := math.Atan2(float64(s.y2-s.y1), float64(s.x2-s.x1)) * 180 / math.Pi
		if angle > -e.config.AlignmentMaxAngle && angle < e.config.AlignmentMaxAngle {
			angles = append(angles, angle)
		}
	}
	if len(angles) <= e.config.AlignmentMinAngles {
		return nil
	}

	spread := stdDev(angles)
	if spread <= e.config.AlignmentMaxStdDev {
		return nil
	}

	flag := models.NewFlag(models.FlagAlignmentMismatch, "Text alignment inconsistencies detected", models.SeverityMedium,
		[]string{
			fmt.Sprintf("Text baseline angle variance: %.2f°", spread),
			"Text or numbers may have been copied from different sources",
			"Check for overlaid or replaced numbers in financial totals",
		},
		models.WithMetric("angle_std_dev", spread),
		models.WithMetric("segments", float64(len(segments))))
	return &flag
}

// canny returns a thinned edge map: L1 Sobel magnitude, non-maximum
// suppression along the gradient and hysteresis between low and high.
func canny(gray *grayImage, low, high float64) []bool {
	w, h := gray.w, gray.h
	edges := make([]bool, w*h)
	if w < 3 || h < 3 {
		return edges
	}

	mag := make([]float64, w*h)
	gxs := make([]float64, w*h)
	gys := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := gray.sobel(x, y)
			i := y*w + x
			gxs[i], gys[i] = gx, gy
			mag[i] = math.Abs(gx) + math.Abs(gy)
		}
	}

	tan22 := math.Tan(22.5 * math.Pi / 180)
	tan67 := math.Tan(67.5 * math.Pi / 180)

	const (
		none = iota
		weak
		strong
	)
	class := make([]uint8, w*h)
	var stack []int

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gxs[i]), math.Abs(gys[i])
			var a, b float64
			switch {
			case ay <= ax*tan22:
				a, b = mag[i-1], mag[i+1]
			case ay > ax*tan67:
				a, b = mag[i-w], mag[i+w]
			case (gxs[i] > 0) == (gys[i] > 0):
				a, b = mag[i-w-1], mag[i+w+1]
			default:
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m <= a || m < b {
				continue
			}
			if m > high {
				class[i] = strong
				stack = append(stack, i)
			} else {
				class[i] = weak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		edges[i] = true
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if class[n] == weak {
					class[n] = strong
					stack = append(stack, n)
				}
			}
		}
	}
	return edges
}

type houghPeak struct {
	rho, theta int
	votes      int
}

// houghSegments finds line segments in an edge map. Lines are voted in a
// (rho, theta) accumulator with 1 pixel and 1 degree resolution; each
// accumulator peak is then walked across the image to split it into
// segments, bridging gaps up to maxGap and keeping segments at least
// minLength long. Pixels claimed by a segment are not reused.
func houghSegments(edges []bool, w, h, threshold int, minLength, maxGap float64) []segment {
	const thetaBins = 180
	diag := int(math.Ceil(math.Hypot(float64(w), float64(h))))
	rhoBins := 2*diag + 1

	cos := make([]float64, thetaBins)
	sin := make([]float64, thetaBins)
	for t := 0; t < thetaBins; t++ {
		theta := float64(t) * math.Pi / thetaBins
		cos[t], sin[t] = math.Cos(theta), math.Sin(theta)
	}

	acc := make([]int, rhoBins*thetaBins)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !edges[y*w+x] {
				continue
			}
			for t := 0; t < thetaBins; t++ {
				r := int(math.Round(float64(x)*cos[t]+float64(y)*sin[t])) + diag
				acc[r*thetaBins+t]++
			}
		}
	}

	var peaks []houghPeak
	for r := 0; r < rhoBins; r++ {
		for t := 0; t < thetaBins; t++ {
			v := acc[r*thetaBins+t]
			if v < threshold || !isAccumulatorPeak(acc, rhoBins, thetaBins, r, t) {
				continue
			}
			peaks = append(peaks, houghPeak{rho: r - diag, theta: t, votes: v})
		}
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].votes > peaks[j].votes })

	remaining := append([]bool(nil), edges...)
	var segments []segment
	for _, p := range peaks {
		segments = append(segments, walkLine(remaining, w, h, float64(p.rho), cos[p.theta], sin[p.theta], minLength, maxGap)...)
	}
	return segments
}

func isAccumulatorPeak(acc []int, rhoBins, thetaBins, r, t int) bool {
	v := acc[r*thetaBins+t]
	for dr := -1; dr <= 1; dr++ {
		for dt := -1; dt <= 1; dt++ {
			if dr == 0 && dt == 0 {
				continue
			}
			nr, nt := r+dr, t+dt
			if nr < 0 || nr >= rhoBins || nt < 0 || nt >= thetaBins {
				continue
			}
			n := acc[nr*thetaBins+nt]
			if n > v || (n == v && (dr < 0 || (dr == 0 && dt < 0))) {
				return false
			}
		}
	}
	return true
}

// walkLine follows x*cos + y*sin = rho across the image and returns its
// segments, clearing their pixels from edges.
func walkLine(edges []bool, w, h int, rho, cos, sin, minLength, maxGap float64) []segment {
	horizontal := math.Abs(sin) >= math.Abs(cos)
	steps := h
	if horizontal {
		steps = w
	}

	var segments []segment
	var run []int
	gap := 0

	flush := func() {
		if len(run) == 0 {
			return
		}
		first, last := run[0], run[len(run)-1]
		x1, y1, x2, y2 := first%w, first/w, last%w, last/w
		if math.Hypot(float64(x2-x1), float64(y2-y1)) >= minLength {
			segments = append(segments, segment{x1, y1, x2, y2})
			for _, i := range run {
				edges[i] = false
			}
		}
		run = run[:0]
		gap = 0
	}

	for s := 0; s < steps; s++ {
		var x, y int
		if horizontal {
			x = s
			y = int(math.Round((rho - float64(x)*cos) / sin))
		} else {
			y = s
			x = int(math.Round((rho - float64(y)*sin) / cos))
		}

		if x >= 0 && y >= 0 && x < w && y < h && edges[y*w+x] {
			run = append(run, y*w+x)
			gap = 0
			continue
		}
		if len(run) > 0 {
			gap++
			if float64(gap) > maxGap {
				flush()
			}
		}
	}
	flush()
	return segments
}
