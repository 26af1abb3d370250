// Package forensics inspects document images for signs of editing: error
// level analysis, noise consistency, compression artifact consistency,
// copy-move detection and text alignment.
package forensics

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	// Scanned documents also arrive as TIFF, BMP and WebP.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/pdfimage"
	apperrors "document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

// Technique names in reporting order
const (
	TechniqueErrorLevel  = "error_level_analysis"
	TechniqueNoise       = "noise_analysis"
	TechniqueJPEG        = "jpeg_artifact_analysis"
	TechniqueCopyMove    = "copy_move_detection"
	TechniqueAlignment   = "alignment_analysis"
	defaultMaxDimension  = 2048
	defaultMaxConcurrent = 5
)

// Techniques lists every technique in the order results are reported
var Techniques = []string{TechniqueErrorLevel, TechniqueNoise, TechniqueJPEG, TechniqueCopyMove, TechniqueAlignment}

// Config holds the forensics thresholds
type Config struct {
	ELAQuality          int     `mapstructure:"ela_quality" json:"ela_quality"`
	ELAMaxDiffThreshold float64 `mapstructure:"ela_max_diff_threshold" json:"ela_max_diff_threshold"`
	ELAPixelThreshold   float64 `mapstructure:"ela_pixel_threshold" json:"ela_pixel_threshold"`
	ELAMinFraction      float64 `mapstructure:"ela_min_fraction" json:"ela_min_fraction"`

	NoiseBlockSize         int     `mapstructure:"noise_block_size" json:"noise_block_size"`
	NoiseMinBlocks         int     `mapstructure:"noise_min_blocks" json:"noise_min_blocks"`
	NoiseVarianceThreshold float64 `mapstructure:"noise_variance_threshold" json:"noise_variance_threshold"`

	ArtifactGrid              int     `mapstructure:"artifact_grid" json:"artifact_grid"`
	ArtifactMinSamples        int     `mapstructure:"artifact_min_samples" json:"artifact_min_samples"`
	ArtifactVarianceThreshold float64 `mapstructure:"artifact_variance_threshold" json:"artifact_variance_threshold"`

	CopyMoveMaxKeypoints   int     `mapstructure:"copy_move_max_keypoints" json:"copy_move_max_keypoints"`
	CopyMoveMinDescriptors int     `mapstructure:"copy_move_min_descriptors" json:"copy_move_min_descriptors"`
	CopyMoveNeighbors      int     `mapstructure:"copy_move_neighbors" json:"copy_move_neighbors"`
	CopyMoveMinGroup       int     `mapstructure:"copy_move_min_group" json:"copy_move_min_group"`
	CopyMoveMaxDistance    float64 `mapstructure:"copy_move_max_distance" json:"copy_move_max_distance"`
	CopyMoveMinSuspicious  int     `mapstructure:"copy_move_min_suspicious" json:"copy_move_min_suspicious"`

	CannyLow             float64 `mapstructure:"canny_low" json:"canny_low"`
	CannyHigh            float64 `mapstructure:"canny_high" json:"canny_high"`
	HoughThreshold       int     `mapstructure:"hough_threshold" json:"hough_threshold"`
	HoughMinLineLength   float64 `mapstructure:"hough_min_line_length" json:"hough_min_line_length"`
	HoughMaxLineGap      float64 `mapstructure:"hough_max_line_gap" json:"hough_max_line_gap"`
	AlignmentMinSegments int     `mapstructure:"alignment_min_segments" json:"alignment_min_segments"`
	AlignmentMinAngles   int     `mapstructure:"alignment_min_angles" json:"alignment_min_angles"`
	AlignmentMaxAngle    float64 `mapstructure:"alignment_max_angle" json:"alignment_max_angle"`
	AlignmentMaxStdDev   float64 `mapstructure:"alignment_max_std_dev" json:"alignment_max_std_dev"`

	// Copy-move and alignment run on a copy scaled to fit this many pixels.
	AnalysisMaxDimension int `mapstructure:"analysis_max_dimension" json:"analysis_max_dimension"`
	// Maximum checks running at once for one image.
	MaxConcurrency int `mapstructure:"max_concurrency" json:"max_concurrency"`
}

// DefaultConfig returns the default forensics thresholds
func DefaultConfig() *Config {
	return &Config{
		ELAQuality:                95,
		ELAMaxDiffThreshold:       50,
		ELAPixelThreshold:         30,
		ELAMinFraction:            0.01,
		NoiseBlockSize:            64,
		NoiseMinBlocks:            10,
		NoiseVarianceThreshold:    0.02,
		ArtifactGrid:              8,
		ArtifactMinSamples:        10,
		ArtifactVarianceThreshold: 100,
		CopyMoveMaxKeypoints:      500,
		CopyMoveMinDescriptors:    50,
		CopyMoveNeighbors:         10,
		CopyMoveMinGroup:          3,
		CopyMoveMaxDistance:       30,
		CopyMoveMinSuspicious:     10,
		CannyLow:                  50,
		CannyHigh:                 150,
		HoughThreshold:            100,
		HoughMinLineLength:        30,
		HoughMaxLineGap:           10,
		AlignmentMinSegments:      5,
		AlignmentMinAngles:        10,
		AlignmentMaxAngle:         10,
		AlignmentMaxStdDev:        2.0,
		AnalysisMaxDimension:      defaultMaxDimension,
		MaxConcurrency:            defaultMaxConcurrent,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ELAQuality < 1 || c.ELAQuality > 100 {
		return fmt.Errorf("ela quality must be between 1 and 100, got %d", c.ELAQuality)
	}
	if c.NoiseBlockSize < 3 {
		return fmt.Errorf("noise block size must be at least 3, got %d", c.NoiseBlockSize)
	}
	if c.ArtifactGrid < 1 {
		return fmt.Errorf("artifact grid must be positive, got %d", c.ArtifactGrid)
	}
	if c.CopyMoveMaxKeypoints < 1 || c.CopyMoveNeighbors < 2 {
		return fmt.Errorf("copy-move keypoints and neighbors must be positive")
	}
	if c.CannyLow < 0 || c.CannyHigh < c.CannyLow {
		return fmt.Errorf("canny thresholds [%v, %v] are invalid", c.CannyLow, c.CannyHigh)
	}
	if c.HoughThreshold < 1 {
		return fmt.Errorf("hough threshold must be positive, got %d", c.HoughThreshold)
	}
	if c.AnalysisMaxDimension < 0 {
		return fmt.Errorf("analysis max dimension cannot be negative, got %d", c.AnalysisMaxDimension)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	return nil
}

// Engine runs the image forensics checks
type Engine struct {
	config *Config
	logger logger.Logger
}

// New creates a forensics engine
func New(config *Config, log logger.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "forensics", err.Error(), err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Engine{config: config, logger: log.WithComponent("forensics")}, nil
}

// Analyze decodes data and runs every check on it. PDFs are analyzed
// through their first embedded page image. Input that cannot be decoded
// is reported as not analyzed.
func (e *Engine) Analyze(ctx context.Context, data []byte, filename string) *models.ForensicsResult {
	if pdfimage.IsPDF(data) {
		page, err := pdfimage.FirstPageImage(data, filename)
		if err != nil {
			e.logger.WithError(err).Warn("No analyzable image in PDF")
			return &models.ForensicsResult{Analyzed: false, Error: err.Error()}
		}
		data = page.Data
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		derr := apperrors.UnsupportedImageError(apperrors.CodeUndecodableImage, filename, err)
		e.logger.WithError(derr).Warn("Image could not be decoded")
		return &models.ForensicsResult{Analyzed: false, Error: derr.Error()}
	}
	return e.AnalyzeImage(ctx, img, filename)
}

type checkResult struct {
	flag *models.Flag
	err  error
}

// AnalyzeImage runs the five checks concurrently. Each check writes only its
// own slot and flags are merged in technique order. A failing check is
// logged and left out of the flags.
func (e *Engine) AnalyzeImage(ctx context.Context, img image.Image, filename string) *models.ForensicsResult {
	result := &models.ForensicsResult{
		Analyzed:       true,
		Filename:       filename,
		Flags:          []models.Flag{},
		TechniquesUsed: append([]string{}, Techniques...),
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		derr := apperrors.UnsupportedImageError(apperrors.CodeUndecodableImage, filename, fmt.Errorf("empty image"))
		return &models.ForensicsResult{Analyzed: false, Error: derr.Error()}
	}

	img = flatten(img)
	gray := newGrayImage(img)
	small, scaled := fitted(img, e.config.AnalysisMaxDimension)
	smallGray := gray
	if scaled {
		smallGray = newGrayImage(small)
	}

	checks := []func() (*models.Flag, error){
		func() (*models.Flag, error) { return e.checkErrorLevel(img) },
		func() (*models.Flag, error) { return e.checkNoise(gray) },
		func() (*models.Flag, error) { return e.checkCompressionArtifacts(gray) },
		func() (*models.Flag, error) { return e.checkCopyMove(small) },
		func() (*models.Flag, error) { return e.checkAlignment(smallGray) },
	}

	slots := make([]checkResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrency)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = runCheck(Techniques[i], check)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Error = err.Error()
	}

	var errs error
	for i, slot := range slots {
		if slot.err != nil {
			errs = multierr.Append(errs, slot.err)
			continue
		}
		if slot.flag != nil {
			result.Flags = append(result.Flags, *slot.flag)
			e.logger.WithField("technique", Techniques[i]).Debug(slot.flag.Description())
		}
	}
	if errs != nil {
		e.logger.WithError(errs).Warn("Some forensics checks failed")
	}

	result.ManipulationsDetected = len(result.Flags) > 0
	e.logger.WithFields(logger.Fields{
		"filename": filename,
		"flags":    len(result.Flags),
	}).Debug("Image forensics complete")
	return result
}

func runCheck(technique string, check func() (*models.Flag, error)) (res checkResult) {
	defer func() {
		if r := recover(); r != nil {
			res = checkResult{err: apperrors.RecoveredError(technique, r)}
		}
	}()
	flag, err := check()
	if err != nil {
		return checkResult{err: apperrors.UnexpectedError(apperrors.CodeSubCheckFailed, technique, err)}
	}
	return checkResult{flag: flag}
}
