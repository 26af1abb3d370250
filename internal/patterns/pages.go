package patterns

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/rules"
	"document-anomaly-service/pkg/logger"
)

var pageStampPattern = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)

// PageStampReconciler compares "page N of M" stamps with the file's page count
type PageStampReconciler struct {
	logger logger.Logger
}

// NewPageStampReconciler creates a page stamp reconciler
func NewPageStampReconciler(log logger.Logger) *PageStampReconciler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &PageStampReconciler{logger: log.WithComponent("page_stamps")}
}

// Observe returns every page stamp in text order
func (r *PageStampReconciler) Observe(text string) []models.PageStampObservation {
	var observations []models.PageStampObservation
	for _, m := range pageStampPattern.FindAllStringSubmatch(text, -1) {
		page, err1 := strconv.Atoi(m[1])
		declared, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			r.logger.WithField("stamp", m[0]).Debug("Skipping page stamp with unparseable number")
			continue
		}
		observations = append(observations, models.PageStampObservation{PageNumber: page, DeclaredMax: declared})
	}
	return observations
}

// EffectiveStamps resolves mixed numbering systems. When several declared
// totals appear and the file's page count is one of them, only the stamps
// with that total are considered. Otherwise all stamps count against the
// largest declared total.
func EffectiveStamps(observations []models.PageStampObservation, actual int) (found []int, declared int) {
	distinct := make(map[int]bool)
	for _, o := range observations {
		distinct[o.DeclaredMax] = true
		if o.DeclaredMax > declared {
			declared = o.DeclaredMax
		}
	}

	restrict := len(distinct) > 1 && actual > 0 && distinct[actual]
	if restrict {
		declared = actual
	}
	for _, o := range observations {
		if !restrict || o.DeclaredMax == actual {
			found = append(found, o.PageNumber)
		}
	}
	return found, declared
}

// Evaluate returns a page_discontinuity flag when the stamps point to
// missing pages. Documents without stamps or with an unknown page count are
// never flagged.
func (r *PageStampReconciler) Evaluate(text string, actual int) (models.Flag, bool) {
	observations := r.Observe(text)
	if len(observations) == 0 {
		return models.Flag{}, false
	}

	found, declared := EffectiveStamps(observations, actual)
	eval := rules.ClassifyPageStamps(found, declared, actual)

	r.logger.WithFields(logger.Fields{
		"verdict":  eval.Verdict,
		"declared": eval.Declared,
		"actual":   eval.Actual,
	}).Debug("Classified page stamps")

	var issues []string
	severity := models.SeverityLow

	switch eval.Verdict {
	case rules.VerdictStampGaps:
		issues = append(issues, fmt.Sprintf("Page stamps missing for pages %s (PDF has correct %d pages)",
			formatPages(eval.Gaps), eval.Actual))
	case rules.VerdictShortDocument:
		issues = append(issues, fmt.Sprintf("PDF has %d page(s) but page headers declare %d; %d page(s) may be missing",
			eval.Actual, eval.Declared, eval.PagesMissing))
		severity = models.SeverityMedium
		if len(eval.Gaps) > 0 {
			issues = append(issues, fmt.Sprintf("Non-sequential page stamps: pages %s not referenced between pages %d-%d",
				formatPages(eval.Gaps), eval.MinFound, eval.MaxFound))
			severity = models.SeverityHigh
		}
	default:
		return models.Flag{}, false
	}

	return models.NewFlag(models.FlagPageDiscontinuity, "Page numbering inconsistencies detected", severity, issues,
		models.WithFoundPages(eval.Found),
		models.WithDeclaredMax(eval.Declared),
		models.WithActualCount(eval.Actual)), true
}

// formatPages renders pages as "[2, 3, 4]"
func formatPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
