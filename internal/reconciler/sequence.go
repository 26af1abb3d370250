package reconciler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/pkg/logger"
)

// SequenceAnalyzer reports check numbers missing from the ledger sequence
type SequenceAnalyzer struct {
	maxReportedGap int
	logger         logger.Logger
}

// NewSequenceAnalyzer creates a sequence analyzer
func NewSequenceAnalyzer(config *Config, log logger.Logger) *SequenceAnalyzer {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &SequenceAnalyzer{
		maxReportedGap: config.MaxReportedGap,
		logger:         log.WithComponent("sequence"),
	}
}

// MissingNumbers returns the numbers absent between consecutive sorted
// check numbers. Fewer than two distinct numbers yields nil.
func MissingNumbers(checkNumbers []int) []int {
	seen := make(map[int]bool, len(checkNumbers))
	sorted := make([]int, 0, len(checkNumbers))
	for _, n := range checkNumbers {
		if !seen[n] {
			seen[n] = true
			sorted = append(sorted, n)
		}
	}
	if len(sorted) < 2 {
		return nil
	}
	sort.Ints(sorted)

	var missing []int
	for i := 1; i < len(sorted); i++ {
		for n := sorted[i-1] + 1; n < sorted[i]; n++ {
			missing = append(missing, n)
		}
	}
	return missing
}

// Analyze returns a check_sequence_gap flag when a small number of checks
// is missing. Larger gaps usually mean the ledger spans several statements
// and are not reported.
func (a *SequenceAnalyzer) Analyze(checkNumbers []int) (models.Flag, bool) {
	missing := MissingNumbers(checkNumbers)
	if len(missing) == 0 {
		return models.Flag{}, false
	}
	if len(missing) > a.maxReportedGap {
		a.logger.WithField("missing", len(missing)).Debug("Sequence gap too large to report")
		return models.Flag{}, false
	}

	parts := make([]string, len(missing))
	for i, n := range missing {
		parts[i] = strconv.Itoa(n)
	}
	description := fmt.Sprintf(
		"Missing check numbers in sequence: %s. These checks may be unaccounted for on this statement.",
		strings.Join(parts, ", "))

	return models.NewFlag(models.FlagCheckSequenceGap, description, models.SeverityMedium, nil,
		models.WithMissingNumbers(missing)), true
}
