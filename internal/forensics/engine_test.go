package forensics

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/pkg/logger"
)

func newTestEngine(t *testing.T, mutate func(c *Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	return e
}

func flatImage(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"quality too high", func(c *Config) { c.ELAQuality = 101 }, true},
		{"quality zero", func(c *Config) { c.ELAQuality = 0 }, true},
		{"tiny noise block", func(c *Config) { c.NoiseBlockSize = 2 }, true},
		{"zero artifact grid", func(c *Config) { c.ArtifactGrid = 0 }, true},
		{"single neighbor", func(c *Config) { c.CopyMoveNeighbors = 1 }, true},
		{"canny high below low", func(c *Config) { c.CannyHigh = 10 }, true},
		{"zero hough threshold", func(c *Config) { c.HoughThreshold = 0 }, true},
		{"negative max dimension", func(c *Config) { c.AnalysisMaxDimension = -1 }, true},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 0
	_, err := New(cfg, logger.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max concurrency")
}

func TestAnalyze_FlatImage(t *testing.T) {
	e := newTestEngine(t, nil)
	data := encodePNG(t, flatImage(200, 200, 128))

	result := e.Analyze(context.Background(), data, "flat.png")

	require.NotNil(t, result)
	assert.True(t, result.Analyzed)
	assert.Equal(t, "flat.png", result.Filename)
	assert.Empty(t, result.Flags)
	assert.False(t, result.ManipulationsDetected)
	assert.Equal(t, Techniques, result.TechniquesUsed)
	assert.Empty(t, result.Error)
}

func TestAnalyze_Undecodable(t *testing.T) {
	e := newTestEngine(t, nil)

	result := e.Analyze(context.Background(), []byte("definitely not an image"), "scan.png")

	require.NotNil(t, result)
	assert.False(t, result.Analyzed)
	assert.Contains(t, result.Error, "could not decode image")
	assert.Empty(t, result.Flags)
}

func TestAnalyze_BrokenPDF(t *testing.T) {
	e := newTestEngine(t, nil)

	result := e.Analyze(context.Background(), []byte("%PDF-1.4\nbroken"), "scan.pdf")

	require.NotNil(t, result)
	assert.False(t, result.Analyzed)
	assert.NotEmpty(t, result.Error)
}

func TestAnalyzeImage_EmptyImage(t *testing.T) {
	e := newTestEngine(t, nil)

	result := e.AnalyzeImage(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 0)), "empty.png")

	assert.False(t, result.Analyzed)
	assert.NotEmpty(t, result.Error)
}

func TestAnalyzeImage_Deterministic(t *testing.T) {
	e := newTestEngine(t, nil)
	img := stripedArtifactImage()

	first := e.AnalyzeImage(context.Background(), img, "a.png")
	second := e.AnalyzeImage(context.Background(), img, "a.png")

	assert.Equal(t, first.ToMap(), second.ToMap())
}

func TestCheckErrorLevel_ChromaCheckerboard(t *testing.T) {
	e := newTestEngine(t, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, red)
			} else {
				img.SetNRGBA(x, y, blue)
			}
		}
	}

	flag, err := e.checkErrorLevel(img)

	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.Equal(t, models.FlagELAAnomaly, flag.Type())
	assert.Equal(t, models.SeverityHigh, flag.Severity())
	assert.Len(t, flag.Details(), 3)
	maxErr, ok := flag.Metric("max_error")
	require.True(t, ok)
	assert.Greater(t, maxErr, 50.0)
}

// strokedImage draws dark strokes on white. Background pixels get the given
// alpha and keep their white color values.
func strokedImage(backgroundAlpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			if y%25 < 3 || x%40 < 2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: backgroundAlpha})
			}
		}
	}
	return img
}

func TestFlatten_TransparentPixelsBecomeWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	flat := flatten(img)

	assert.True(t, flat.Opaque())
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, flat.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, flat.NRGBAAt(1, 0))
}

func TestAnalyze_TransparentBackground(t *testing.T) {
	e := newTestEngine(t, nil)

	transparent := e.Analyze(context.Background(), encodePNG(t, strokedImage(0)), "transparent.png")
	opaque := e.Analyze(context.Background(), encodePNG(t, strokedImage(255)), "opaque.png")

	require.True(t, transparent.Analyzed)
	for _, f := range transparent.Flags {
		assert.NotEqual(t, models.FlagELAAnomaly, f.Type())
	}
	assert.Equal(t, opaque.ToMap()["flags"], transparent.ToMap()["flags"])
}

func TestCheckErrorLevel_TransparentBackground(t *testing.T) {
	e := newTestEngine(t, nil)

	transparent, err := e.checkErrorLevel(strokedImage(0))
	require.NoError(t, err)
	opaque, err := e.checkErrorLevel(strokedImage(255))
	require.NoError(t, err)

	assert.Equal(t, opaque, transparent)
}

func TestCheckErrorLevel_FlatImage(t *testing.T) {
	e := newTestEngine(t, nil)

	flag, err := e.checkErrorLevel(flatImage(64, 64, 200))

	require.NoError(t, err)
	assert.Nil(t, flag)
}

// halfNoiseImage has random pixels on its left half and a flat right half.
func halfNoiseImage() *image.NRGBA {
	rng := rand.New(rand.NewSource(42))
	img := flatImage(769, 129, 128)
	for y := 0; y < 129; y++ {
		for x := 0; x < 384; x++ {
			v := uint8(rng.Intn(256))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestCheckNoise(t *testing.T) {
	gray := newGrayImage(halfNoiseImage())

	t.Run("below default threshold", func(t *testing.T) {
		flag, err := newTestEngine(t, nil).checkNoise(gray)
		require.NoError(t, err)
		assert.Nil(t, flag)
	})

	t.Run("sensitive threshold", func(t *testing.T) {
		e := newTestEngine(t, func(c *Config) { c.NoiseVarianceThreshold = 1e-5 })
		flag, err := e.checkNoise(gray)
		require.NoError(t, err)
		require.NotNil(t, flag)
		assert.Equal(t, models.FlagInconsistentNoise, flag.Type())
		blocks, _ := flag.Metric("blocks")
		assert.Equal(t, 24.0, blocks)
	})

	t.Run("too few blocks", func(t *testing.T) {
		e := newTestEngine(t, func(c *Config) { c.NoiseVarianceThreshold = 1e-5 })
		flag, err := e.checkNoise(newGrayImage(flatImage(200, 200, 10)))
		require.NoError(t, err)
		assert.Nil(t, flag)
	})
}

func TestBlockEdgeVariance_Flat(t *testing.T) {
	gray := newGrayImage(flatImage(64, 64, 77))
	assert.Equal(t, 0.0, blockEdgeVariance(gray, 0, 0, 64))
}

// stripedArtifactImage has hard 8-row bands on its left half so block
// seams there differ sharply from the flat right half.
func stripedArtifactImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			v := uint8(128)
			if x < 64 {
				v = 0
				if (y/8)%2 == 0 {
					v = 255
				}
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestCheckCompressionArtifacts(t *testing.T) {
	e := newTestEngine(t, nil)

	flag, err := e.checkCompressionArtifacts(newGrayImage(stripedArtifactImage()))
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.Equal(t, models.FlagJPEGArtifacts, flag.Type())
	assert.Equal(t, models.SeverityMedium, flag.Severity())
	spread, _ := flag.Metric("artifact_variance")
	assert.Greater(t, spread, 100.0)

	flag, err = e.checkCompressionArtifacts(newGrayImage(flatImage(128, 128, 90)))
	require.NoError(t, err)
	assert.Nil(t, flag)
}

func TestCheckCopyMove_TiledTexture(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const tile = 40
	texture := make([]uint8, tile*tile)
	for i := range texture {
		texture[i] = uint8(rng.Intn(256))
	}
	img := image.NewGray(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			img.SetGray(x, y, color.Gray{Y: texture[(y%tile)*tile+x%tile]})
		}
	}

	e := newTestEngine(t, nil)
	flag, err := e.checkCopyMove(img)

	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.Equal(t, models.FlagCopyMoveSuspected, flag.Type())
	assert.Equal(t, models.SeverityHigh, flag.Severity())
	suspicious, _ := flag.Metric("suspicious_matches")
	assert.Greater(t, suspicious, 10.0)
}

func TestCheckCopyMove_FlatImage(t *testing.T) {
	e := newTestEngine(t, nil)

	flag, err := e.checkCopyMove(flatImage(100, 100, 50))

	require.NoError(t, err)
	assert.Nil(t, flag)
}

func TestCannyAndHough_VerticalStep(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 200))
	for y := 0; y < 200; y++ {
		for x := 50; x < 100; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	gray := newGrayImage(img)

	edges := canny(gray, 50, 150)
	count := 0
	for i, on := range edges {
		if on {
			count++
			assert.Equal(t, 49, i%gray.w)
		}
	}
	assert.Equal(t, 198, count)

	segments := houghSegments(edges, gray.w, gray.h, 100, 30, 10)
	require.Len(t, segments, 1)
	assert.Equal(t, segment{x1: 49, y1: 1, x2: 49, y2: 198}, segments[0])
}

func TestEvaluateAngles(t *testing.T) {
	horizontal := func(n int) []segment {
		out := make([]segment, n)
		for i := range out {
			out[i] = segment{0, i * 10, 100, i * 10}
		}
		return out
	}
	tilted := func(n int) []segment {
		out := make([]segment, n)
		for i := range out {
			dy := 9
			if i%2 == 1 {
				dy = -9
			}
			out[i] = segment{0, 100, 100, 100 + dy}
		}
		return out
	}
	vertical := func(n int) []segment {
		out := make([]segment, n)
		for i := range out {
			out[i] = segment{i, 0, i, 100}
		}
		return out
	}

	tests := []struct {
		name     string
		segments []segment
		flagged  bool
	}{
		{"aligned baselines", horizontal(12), false},
		{"alternating tilt", tilted(12), true},
		{"too few segments", tilted(5), false},
		{"too few usable angles", append(tilted(10), vertical(4)...), false},
		{"steep lines ignored", append(horizontal(12), segment{0, 0, 10, 100}), false},
	}

	e := newTestEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := e.evaluateAngles(tt.segments)
			if !tt.flagged {
				assert.Nil(t, flag)
				return
			}
			require.NotNil(t, flag)
			assert.Equal(t, models.FlagAlignmentMismatch, flag.Type())
			assert.Contains(t, flag.Details()[0], "Text baseline angle variance: 5.14°")
		})
	}
}

func TestReflect(t *testing.T) {
	tests := []struct {
		i, n, want int
	}{
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 0},
		{-2, 5, 1},
		{5, 5, 4},
		{6, 5, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reflect(tt.i, tt.n), "reflect(%d, %d)", tt.i, tt.n)
	}
}

func TestVariance(t *testing.T) {
	assert.Equal(t, 0.0, variance(nil))
	assert.Equal(t, 0.0, variance([]float64{3, 3, 3}))
	assert.InDelta(t, 2.0, variance([]float64{1, 2, 3, 4, 5}), 1e-9)
	assert.InDelta(t, 2.0, stdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestFitted(t *testing.T) {
	img := flatImage(400, 100, 0)

	same, scaled := fitted(img, 2048)
	assert.False(t, scaled)
	assert.Equal(t, img.Bounds(), same.Bounds())

	small, scaled := fitted(img, 200)
	assert.True(t, scaled)
	assert.Equal(t, 200, small.Bounds().Dx())
	assert.Equal(t, 50, small.Bounds().Dy())
}
