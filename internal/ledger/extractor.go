// Package ledger extracts the check ledger printed on bank statements.
package ledger

import (
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"document-anomaly-service/internal/models"
	apperrors "document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

var (
	// check number, M/D or MM-DD date, amount with two decimals
	entryPattern = regexp.MustCompile(`\b(\d{4})\s+(\d{1,2}[-/]\d{1,2})\s+\$?([\d,]+\.\d{2})`)

	// Checked in order; the first pattern that matches anywhere wins.
	// "Paict" is a frequent OCR misread of "Paid".
	summaryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Paper\s+Checks?\s+(?:Paid|Paict|Total)[\s~$]+([\d,]+\.\d{2})`),
		regexp.MustCompile(`(?i)Total\s+(?:Checks?|Debits?)[\s~:$]+([\d,]+\.\d{2})`),
	}
)

// TotalSource records where LedgerSummary.Total came from
type TotalSource string

const (
	TotalFromSummary TotalSource = "summary"
	TotalFromEntries TotalSource = "entries"
	TotalMissing     TotalSource = "none"
)

// Extraction is the parsed ledger of one document
type Extraction struct {
	Entries     []models.LedgerEntry
	Summary     models.LedgerSummary
	TotalSource TotalSource
}

// CheckNumbers returns the unique check numbers in first-seen order
func (e *Extraction) CheckNumbers() []int {
	numbers := make([]int, len(e.Entries))
	for i, entry := range e.Entries {
		numbers[i] = entry.CheckNumber
	}
	return numbers
}

// Extractor parses check ledgers from OCR text
type Extractor struct {
	logger logger.Logger
}

// NewExtractor creates a ledger extractor
func NewExtractor(log logger.Logger) *Extractor {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Extractor{logger: log.WithComponent("ledger")}
}

// Extract parses every check line and the summary total. It never fails: a
// document without a ledger yields a zero count and a nil total.
func (x *Extractor) Extract(text string) *Extraction {
	result := &Extraction{TotalSource: TotalMissing}
	seen := make(map[int]bool)
	sum := decimal.Zero

	for _, m := range entryPattern.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(m[1])
		if err != nil {
			x.skip(apperrors.CodeInvalidNumber, "check_number", m[1], err)
			continue
		}
		if seen[number] {
			continue
		}
		amount, err := models.ParseDecimalFromString(m[3])
		if err != nil {
			x.skip(apperrors.CodeInvalidAmount, "check_amount", m[3], err)
			continue
		}
		seen[number] = true
		sum = sum.Add(amount)
		result.Entries = append(result.Entries, models.LedgerEntry{
			CheckNumber: number,
			Date:        m[2],
			Amount:      amount,
		})
	}

	result.Summary.Count = len(result.Entries)

	if total, ok := x.summaryTotal(text); ok {
		result.Summary.Total = &total
		result.TotalSource = TotalFromSummary
	} else if len(result.Entries) > 0 {
		result.Summary.Total = &sum
		result.TotalSource = TotalFromEntries
	}

	x.logger.WithFields(logger.Fields{
		"entries":      result.Summary.Count,
		"total_source": result.TotalSource,
	}).Debug("Extracted check ledger")

	return result
}

func (x *Extractor) summaryTotal(text string) (decimal.Decimal, bool) {
	for _, pattern := range summaryPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		total, err := models.ParseDecimalFromString(m[1])
		if err != nil {
			x.skip(apperrors.CodeInvalidAmount, "summary_total", m[1], err)
			continue
		}
		return total, true
	}
	return decimal.Zero, false
}

// skip logs a matched value that could not be converted and is left out
func (x *Extractor) skip(code apperrors.ErrorCode, field, value string, err error) {
	x.logger.WithError(apperrors.FormatError(code, field, value, err)).Debug("Skipped unparseable ledger value")
}
