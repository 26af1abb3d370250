// Package patterns runs the text pattern checks: regex checks for reversed
// columns and truncated totals, duplicate transaction lines and page-stamp
// discontinuity.
package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/multierr"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/rules"
	apperrors "document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

// Pattern names in the order they are evaluated
const (
	PatternReversedColumns   = "reversed_columns"
	PatternTruncatedTotal    = "truncated_total"
	PatternDuplicateLines    = "duplicate_lines"
	PatternPageDiscontinuity = "page_discontinuity"
)

type regexCheck struct {
	name        string
	pattern     *regexp.Regexp
	description string
}

var regexChecks = []regexCheck{
	{
		name:        PatternReversedColumns,
		pattern:     regexp.MustCompile(`(?im)^\$[\d,]+\.\d{2}\s+[A-Za-z]`),
		description: "Possible reversed column order detected",
	},
	{
		name:        PatternTruncatedTotal,
		pattern:     regexp.MustCompile(`(?im)(total|sum|subtotal)[\s:]*$`),
		description: "Total label without corresponding amount",
	},
}

// Config holds the pattern check thresholds
type Config struct {
	// Trimmed lines must be longer than this to be compared for duplicates.
	MinDuplicateLineLength int `mapstructure:"min_duplicate_line_length" json:"min_duplicate_line_length"`
	// Number of example lines attached to a duplicate_lines flag.
	MaxDuplicateExamples int `mapstructure:"max_duplicate_examples" json:"max_duplicate_examples"`
}

// DefaultConfig returns the default pattern thresholds
func DefaultConfig() *Config {
	return &Config{
		MinDuplicateLineLength: 20,
		MaxDuplicateExamples:   3,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MinDuplicateLineLength < 0 {
		return fmt.Errorf("min duplicate line length cannot be negative, got %d", c.MinDuplicateLineLength)
	}
	if c.MaxDuplicateExamples <= 0 {
		return fmt.Errorf("max duplicate examples must be positive, got %d", c.MaxDuplicateExamples)
	}
	return nil
}

// Checker runs every pattern check against one document
type Checker struct {
	pages      *PageStampReconciler
	duplicates *DuplicateLineDetector
	logger     logger.Logger
}

// NewChecker creates a pattern checker that excludes lines matching keywords
// from duplicate detection.
func NewChecker(config *Config, keywords *rules.KeywordSet, log logger.Logger) (*Checker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "patterns", err.Error(), err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Checker{
		pages:      NewPageStampReconciler(log),
		duplicates: NewDuplicateLineDetector(config, keywords, log),
		logger:     log.WithComponent("patterns"),
	}, nil
}

// Check evaluates all patterns. actualPageCount is the true page count of
// the file, 0 when unknown. A failing check is recorded in Error and the
// remaining checks still run.
func (c *Checker) Check(content string, actualPageCount int) *models.PatternCheck {
	result := &models.PatternCheck{Flags: []models.Flag{}, PatternsChecked: []string{}}
	lines := strings.Split(content, "\n")

	var errs error
	run := func(name string, fn func() (models.Flag, bool)) {
		result.AddPattern(name)
		flag, ok, err := safeCheck(name, fn)
		if err != nil {
			errs = multierr.Append(errs, err)
			return
		}
		if ok {
			result.Flags = append(result.Flags, flag)
		}
	}

	for _, rc := range regexChecks {
		rc := rc
		run(rc.name, func() (models.Flag, bool) {
			matches := rc.pattern.FindAllStringIndex(content, -1)
			if len(matches) == 0 {
				return models.Flag{}, false
			}
			return models.NewFlag(rc.name, rc.description, models.SeverityMedium, nil,
				models.WithMatchCount(len(matches))), true
		})
	}
	run(PatternDuplicateLines, func() (models.Flag, bool) {
		return c.duplicates.Detect(lines)
	})
	run(PatternPageDiscontinuity, func() (models.Flag, bool) {
		return c.pages.Evaluate(content, actualPageCount)
	})

	if errs != nil {
		result.Error = errs.Error()
		c.logger.WithError(errs).Error("Pattern check failed")
	}
	c.logger.WithField("flags", len(result.Flags)).Debug("Pattern checks complete")
	return result
}

func safeCheck(name string, fn func() (models.Flag, bool)) (flag models.Flag, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoveredError(name, r)
		}
	}()
	flag, ok = fn()
	return flag, ok, nil
}
