package rules

import "sort"

// PageTableVersion identifies the revision of the page-stamp decision table.
// Bump it together with any change to ClassifyPageStamps.
const PageTableVersion = "5"

// PageVerdict is the outcome of the page-stamp decision table
type PageVerdict string

const (
	// VerdictUnknown means the stamps cannot be judged: no stamps, or an
	// unknown page count.
	VerdictUnknown PageVerdict = "unknown"
	// VerdictIrregularStart means the lowest stamp is below 1.
	VerdictIrregularStart PageVerdict = "irregular_start"
	// VerdictEmbedded means the file has more pages than declared, so the
	// stamps belong to an embedded sub-document.
	VerdictEmbedded PageVerdict = "embedded_subdocument"
	// VerdictContinuation means the file is an excerpt that starts past page 1.
	VerdictContinuation PageVerdict = "continuation"
	// VerdictCoverPage means the page count matches but page 1 carries no stamp.
	VerdictCoverPage PageVerdict = "unstamped_cover"
	// VerdictContaminated means a second numbering system was stamped over
	// the document, e.g. a court batch "page 16 of 17" on a 2-page statement.
	VerdictContaminated PageVerdict = "batch_contamination"
	// VerdictConsistent means the page count matches and no stamp is missing.
	VerdictConsistent PageVerdict = "consistent"
	// VerdictStampGaps means the page count matches but stamps are missing.
	VerdictStampGaps PageVerdict = "stamp_gaps"
	// VerdictShortDocument means the file has fewer pages than declared.
	VerdictShortDocument PageVerdict = "short_document"
)

// Flagged reports whether the verdict is a genuine anomaly
func (v PageVerdict) Flagged() bool {
	return v == VerdictStampGaps || v == VerdictShortDocument
}

// PageEvaluation is the classified result for one set of page stamps
type PageEvaluation struct {
	Verdict      PageVerdict
	Found        []int
	Declared     int
	Actual       int
	MinFound     int
	MaxFound     int
	Gaps         []int
	PagesMissing int
}

// IsFalsePositive reports whether a stored page_discontinuity flag with
// these values would no longer be raised. Unjudgeable values are kept.
func (e PageEvaluation) IsFalsePositive() bool {
	return e.Verdict != VerdictUnknown && !e.Verdict.Flagged()
}

// ClassifyPageStamps applies the page-stamp decision table. Rules are
// evaluated in order and the first match governs:
//
//	actual > declared                 -> embedded sub-document, suppressed
//	actual < declared, min > 1        -> continuation excerpt, suppressed
//	actual == declared, min > 1       -> unstamped cover page, suppressed
//	actual == declared, min == 1      -> flagged only if stamps are missing
//	actual < declared, min == 1       -> suppressed on batch contamination,
//	                                     otherwise flagged as short
func ClassifyPageStamps(found []int, declared, actual int) PageEvaluation {
	set := uniqueSorted(found)
	eval := PageEvaluation{
		Verdict:  VerdictUnknown,
		Found:    set,
		Declared: declared,
		Actual:   actual,
	}
	if len(set) == 0 || declared <= 0 || actual <= 0 {
		return eval
	}

	eval.MinFound = set[0]
	eval.MaxFound = set[len(set)-1]

	switch {
	case actual > declared:
		eval.Verdict = VerdictEmbedded
	case actual < declared && eval.MinFound > 1:
		eval.Verdict = VerdictContinuation
	case actual == declared && eval.MinFound > 1:
		eval.Verdict = VerdictCoverPage
	case eval.MinFound < 1:
		eval.Verdict = VerdictIrregularStart
	case actual == declared:
		// A lone "page 1 of N" stamp proves nothing about the pages after
		// it, so the declared total bounds the search.
		upper := eval.MaxFound
		if upper == 1 {
			upper = declared
		}
		eval.Gaps = missingBetween(set, 1, upper)
		if len(eval.Gaps) > 0 {
			eval.Verdict = VerdictStampGaps
		} else {
			eval.Verdict = VerdictConsistent
		}
	default:
		if isBatchContamination(set, declared, actual) {
			eval.Verdict = VerdictContaminated
			return eval
		}
		eval.Verdict = VerdictShortDocument
		eval.PagesMissing = declared - actual
		eval.Gaps = missingBetween(set, eval.MinFound, eval.MaxFound)
	}
	return eval
}

// isBatchContamination matches found == {1..actual} ∪ {declared-actual+1..declared}
// with the two groups disjoint.
func isBatchContamination(found []int, declared, actual int) bool {
	if len(found) != 2*actual {
		return false
	}
	expected := make(map[int]bool, 2*actual)
	for p := 1; p <= actual; p++ {
		expected[p] = true
	}
	for p := declared - actual + 1; p <= declared; p++ {
		expected[p] = true
	}
	if len(expected) != len(found) {
		return false
	}
	for _, p := range found {
		if !expected[p] {
			return false
		}
	}
	return true
}

func missingBetween(sorted []int, lo, hi int) []int {
	present := make(map[int]bool, len(sorted))
	for _, p := range sorted {
		present[p] = true
	}
	var gaps []int
	for p := lo; p <= hi; p++ {
		if !present[p] {
			gaps = append(gaps, p)
		}
	}
	return gaps
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
