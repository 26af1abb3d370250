// Package layout scores OCR text for layout irregularities: garbled lines,
// misaligned amount columns, truncated lines and large blank sections.
package layout

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"document-anomaly-service/internal/models"
	apperrors "document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

var decimalAmountPattern = regexp.MustCompile(`\d+\.\d{2}`)

// Config holds the layout thresholds. The defaults were calibrated against
// scanned statements and have no derivation beyond that.
type Config struct {
	// Documents with fewer lines are not analyzed.
	MinLines int `mapstructure:"min_lines" json:"min_lines"`

	GarbledMinLength    int     `mapstructure:"garbled_min_length" json:"garbled_min_length"`
	GarbledSpecialRatio float64 `mapstructure:"garbled_special_ratio" json:"garbled_special_ratio"`
	GarbledMaxLines     int     `mapstructure:"garbled_max_lines" json:"garbled_max_lines"`
	GarbledPenalty      float64 `mapstructure:"garbled_penalty" json:"garbled_penalty"`

	AlignmentMinLines        int     `mapstructure:"alignment_min_lines" json:"alignment_min_lines"`
	AlignmentMaxStdDev       float64 `mapstructure:"alignment_max_std_dev" json:"alignment_max_std_dev"`
	AlignmentOutlierDistance float64 `mapstructure:"alignment_outlier_distance" json:"alignment_outlier_distance"`
	AlignmentPenalty         float64 `mapstructure:"alignment_penalty" json:"alignment_penalty"`

	TruncationMinLength int     `mapstructure:"truncation_min_length" json:"truncation_min_length"`
	TruncationMaxLines  int     `mapstructure:"truncation_max_lines" json:"truncation_max_lines"`
	TruncationPenalty   float64 `mapstructure:"truncation_penalty" json:"truncation_penalty"`

	BlankMaxRun int `mapstructure:"blank_max_run" json:"blank_max_run"`
}

// DefaultConfig returns the calibrated layout thresholds
func DefaultConfig() *Config {
	return &Config{
		MinLines:                 10,
		GarbledMinLength:         10,
		GarbledSpecialRatio:      0.4,
		GarbledMaxLines:          5,
		GarbledPenalty:           0.6,
		AlignmentMinLines:        10,
		AlignmentMaxStdDev:       20,
		AlignmentOutlierDistance: 30,
		AlignmentPenalty:         0.8,
		TruncationMinLength:      50,
		TruncationMaxLines:       10,
		TruncationPenalty:        0.9,
		BlankMaxRun:              20,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MinLines < 1 {
		return fmt.Errorf("min lines must be positive, got %d", c.MinLines)
	}
	if c.GarbledSpecialRatio <= 0 || c.GarbledSpecialRatio >= 1 {
		return fmt.Errorf("garbled special ratio must be between 0 and 1, got %v", c.GarbledSpecialRatio)
	}
	for name, p := range map[string]float64{
		"garbled":    c.GarbledPenalty,
		"alignment":  c.AlignmentPenalty,
		"truncation": c.TruncationPenalty,
	} {
		if p <= 0 || p > 1 {
			return fmt.Errorf("%s penalty must be in (0, 1], got %v", name, p)
		}
	}
	if c.AlignmentMaxStdDev <= 0 || c.AlignmentOutlierDistance <= 0 {
		return fmt.Errorf("alignment thresholds must be positive")
	}
	if c.GarbledMaxLines < 0 || c.AlignmentMinLines < 0 || c.TruncationMaxLines < 0 || c.BlankMaxRun < 0 {
		return fmt.Errorf("line count thresholds cannot be negative")
	}
	return nil
}

// Analyzer scores document layout
type Analyzer struct {
	config *Config
	logger logger.Logger
}

// NewAnalyzer creates a layout analyzer
func NewAnalyzer(config *Config, log logger.Logger) (*Analyzer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "layout", err.Error(), err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Analyzer{config: config, logger: log.WithComponent("layout")}, nil
}

// state accumulates issues while the checks run. Status only escalates.
type state struct {
	result *models.LayoutCheck
}

func (s *state) escalate(status models.CheckStatus) {
	if status == models.StatusFail || s.result.Status == models.StatusPass {
		s.result.Status = status
	}
}

// Analyze runs the four layout checks. A panic inside a check degrades the
// result to status ERROR.
func (a *Analyzer) Analyze(content string) (result *models.LayoutCheck) {
	result = &models.LayoutCheck{
		Status:  models.StatusPass,
		Score:   1.0,
		Issues:  []string{},
		Details: []models.LayoutDetail{},
	}

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoveredError("layout check", r)
			a.logger.WithError(err).Error("Layout check failed")
			result.Status = models.StatusError
			result.Error = err.Error()
		}
	}()

	lines := strings.Split(content, "\n")
	if len(lines) < a.config.MinLines {
		result.Status = models.StatusNotApplicable
		return result
	}

	s := &state{result: result}
	a.checkGarbled(s, lines)
	a.checkAlignment(s, lines)
	a.checkTruncation(s, lines)
	a.checkBlankBlocks(s, lines)

	if len(result.Issues) == 0 {
		result.Status = models.StatusPass
		result.Score = 1.0
	}

	a.logger.WithFields(logger.Fields{
		"status": result.Status,
		"score":  result.Score,
		"issues": len(result.Issues),
	}).Debug("Layout analysis complete")
	return result
}

func (a *Analyzer) checkGarbled(s *state, lines []string) {
	var garbled []models.LayoutDetail
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if utf8.RuneCountInString(trimmed) <= a.config.GarbledMinLength {
			continue
		}
		alnum, special := 0, 0
		for _, r := range line {
			switch {
			case isAlnum(r):
				alnum++
			case !unicode.IsSpace(r):
				special++
			}
		}
		if alnum > 0 && float64(special)/float64(alnum+special) > a.config.GarbledSpecialRatio {
			garbled = append(garbled, models.LayoutDetail{
				LineNum: i + 1,
				Text:    truncateRunes(trimmed, 100),
				Issue:   "Excessive special characters (possible OCR error)",
			})
		}
	}

	if len(garbled) > a.config.GarbledMaxLines {
		s.result.Issues = append(s.result.Issues, fmt.Sprintf("Found %d lines with OCR artifacts", len(garbled)))
		s.result.Details = append(s.result.Details, firstDetails(garbled, 3)...)
		s.result.Score *= a.config.GarbledPenalty
		s.escalate(models.StatusFail)
	}
}

type amountLine struct {
	lineNum int
	column  int
	text    string
}

func (a *Analyzer) checkAlignment(s *state, lines []string) {
	var amounts []amountLine
	for i, line := range lines {
		column := -1
		if idx := strings.IndexByte(line, '$'); idx >= 0 {
			column = utf8.RuneCountInString(line[:idx])
		} else if loc := decimalAmountPattern.FindStringIndex(line); loc != nil {
			column = utf8.RuneCountInString(line[:loc[0]])
		}
		if column >= 0 {
			amounts = append(amounts, amountLine{
				lineNum: i + 1,
				column:  column,
				text:    truncateRunes(strings.TrimSpace(line), 80),
			})
		}
	}
	if len(amounts) <= a.config.AlignmentMinLines {
		return
	}

	mean, std := columnStats(amounts)
	if std <= a.config.AlignmentMaxStdDev {
		return
	}

	var outliers []models.LayoutDetail
	for _, al := range amounts {
		if math.Abs(float64(al.column)-mean) > a.config.AlignmentOutlierDistance {
			outliers = append(outliers, models.LayoutDetail{
				LineNum: al.lineNum,
				Text:    al.text,
				Issue:   "Amount not aligned with other rows",
			})
			if len(outliers) == 3 {
				break
			}
		}
	}
	if len(outliers) == 0 {
		return
	}

	s.result.Issues = append(s.result.Issues, fmt.Sprintf("Column misalignment detected (std dev: %.1f)", std))
	s.result.Details = append(s.result.Details, outliers...)
	s.result.Score *= a.config.AlignmentPenalty
	s.escalate(models.StatusWarning)
}

// columnStats returns the mean and population standard deviation
func columnStats(amounts []amountLine) (mean, std float64) {
	for _, al := range amounts {
		mean += float64(al.column)
	}
	mean /= float64(len(amounts))

	var variance float64
	for _, al := range amounts {
		d := float64(al.column) - mean
		variance += d * d
	}
	variance /= float64(len(amounts))
	return mean, math.Sqrt(variance)
}

func (a *Analyzer) checkTruncation(s *state, lines []string) {
	var truncated []models.LayoutDetail
	// The last two lines never qualify.
	for i := 0; i+2 < len(lines); i++ {
		stripped := strings.TrimRightFunc(lines[i], unicode.IsSpace)
		if utf8.RuneCountInString(stripped) <= a.config.TruncationMinLength {
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(stripped)
		if !isAlnum(last) {
			continue
		}
		next := strings.TrimLeftFunc(lines[i+1], unicode.IsSpace)
		first, _ := utf8.DecodeRuneInString(next)
		if next == "" || !unicode.IsLower(first) {
			continue
		}
		truncated = append(truncated, models.LayoutDetail{
			LineNum: i + 1,
			Text:    lastRunes(stripped, 50),
			Issue:   "Line appears truncated (continues on next line)",
		})
	}

	if len(truncated) > a.config.TruncationMaxLines {
		s.result.Issues = append(s.result.Issues, fmt.Sprintf("Found %d potentially truncated lines", len(truncated)))
		s.result.Details = append(s.result.Details, firstDetails(truncated, 2)...)
		s.result.Score *= a.config.TruncationPenalty
		s.escalate(models.StatusWarning)
	}
}

func (a *Analyzer) checkBlankBlocks(s *state, lines []string) {
	run, longest, location := 0, 0, 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			run++
			continue
		}
		// Only runs closed by a non-blank line count.
		if run > longest {
			longest = run
			location = i + 1 - run
		}
		run = 0
	}

	if longest > a.config.BlankMaxRun {
		s.result.Issues = append(s.result.Issues, fmt.Sprintf("Large empty section (%d blank lines)", longest))
		s.result.Details = append(s.result.Details, models.LayoutDetail{
			LineNum: location,
			Text:    fmt.Sprintf("[%d blank lines]", longest),
			Issue:   "Possible missing content or page break issue",
		})
		s.escalate(models.StatusWarning)
	}
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func firstDetails(details []models.LayoutDetail, n int) []models.LayoutDetail {
	if len(details) > n {
		return details[:n]
	}
	return details
}
