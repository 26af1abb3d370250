package patterns

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/rules"
	"document-anomaly-service/pkg/logger"
)

var (
	lineAmountPattern = regexp.MustCompile(`\$\s*[\d,]+\.\d{2}|\b[\d,]+\.\d{2}\b`)
	lineDatePattern   = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	lineNumberPattern = regexp.MustCompile(`\b\d{4}\b`)
)

// DuplicateLineDetector finds transaction lines repeated verbatim
type DuplicateLineDetector struct {
	minLength   int
	maxExamples int
	keywords    *rules.KeywordSet
	logger      logger.Logger
}

// NewDuplicateLineDetector creates a detector. A nil keyword set uses the
// embedded boilerplate list.
func NewDuplicateLineDetector(config *Config, keywords *rules.KeywordSet, log logger.Logger) *DuplicateLineDetector {
	if config == nil {
		config = DefaultConfig()
	}
	if keywords == nil {
		keywords = rules.DefaultKeywords()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &DuplicateLineDetector{
		minLength:   config.MinDuplicateLineLength,
		maxExamples: config.MaxDuplicateExamples,
		keywords:    keywords,
		logger:      log.WithComponent("duplicates"),
	}
}

// IsTransactionLine reports whether a trimmed line carries transaction data:
// an amount, or a date together with a 4-digit number.
func (d *DuplicateLineDetector) IsTransactionLine(line string) bool {
	if utf8.RuneCountInString(line) <= d.minLength {
		return false
	}
	if lineAmountPattern.MatchString(line) {
		return true
	}
	return lineDatePattern.MatchString(line) && lineNumberPattern.MatchString(line)
}

// Duplicates returns the repeated transaction lines in first-seen order
func (d *DuplicateLineDetector) Duplicates(lines []string) []string {
	counts := make(map[string]int)
	var order []string
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !d.IsTransactionLine(line) || d.keywords.IsBoilerplate(line) {
			continue
		}
		if counts[line] == 0 {
			order = append(order, line)
		}
		counts[line]++
	}

	var duplicates []string
	for _, line := range order {
		if counts[line] > 1 {
			duplicates = append(duplicates, line)
		}
	}
	return duplicates
}

// Detect returns a duplicate_lines flag when any transaction line repeats
func (d *DuplicateLineDetector) Detect(lines []string) (models.Flag, bool) {
	duplicates := d.Duplicates(lines)
	if len(duplicates) == 0 {
		return models.Flag{}, false
	}
	d.logger.WithFields(logger.Fields{
		"duplicates":       len(duplicates),
		"keywords_version": d.keywords.Version(),
	}).Debug("Found duplicate transaction lines")

	return DuplicateFlag(duplicates, d.maxExamples), true
}

// DuplicateFlag builds the duplicate_lines flag for the given repeated lines
func DuplicateFlag(duplicates []string, maxExamples int) models.Flag {
	examples := duplicates
	if len(examples) > maxExamples {
		examples = examples[:maxExamples]
	}
	return models.NewFlag(models.FlagDuplicateLines,
		fmt.Sprintf("Found %d duplicate transaction lines", len(duplicates)),
		models.SeverityMedium, examples)
}
