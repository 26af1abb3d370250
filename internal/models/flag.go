package models

import (
	"encoding/json"
	"fmt"
)

// Flag types produced by the detectors
const (
	FlagBalanceMismatch    = "balance_mismatch"
	FlagCheckSequenceGap   = "check_sequence_gap"
	FlagPageDiscontinuity  = "page_discontinuity"
	FlagDuplicateLines     = "duplicate_lines"
	FlagReversedColumns    = "reversed_columns"
	FlagTruncatedTotal     = "truncated_total"
	FlagELAAnomaly         = "ela_anomaly"
	FlagInconsistentNoise  = "inconsistent_noise"
	FlagJPEGArtifacts      = "jpeg_artifact_inconsistency"
	FlagCopyMoveSuspected  = "copy_move_suspected"
	FlagAlignmentMismatch  = "alignment_inconsistency"
	AnomalyLayoutIrregular = "layout_irregularity"
)

// Flag is a single anomaly finding. A Flag is immutable once built: the
// constructor copies every slice it is given and accessors return copies.
type Flag struct {
	flagType    string
	description string
	severity    Severity
	details     []string

	foundPages     []int
	declaredMax    *int
	actualCount    *int
	missingNumbers []int
	matchCount     *int
	metrics        map[string]float64
}

// FlagOption attaches a type-specific field to a Flag under construction
type FlagOption func(*Flag)

// WithFoundPages records the page numbers observed in page stamps
func WithFoundPages(pages []int) FlagOption {
	return func(f *Flag) { f.foundPages = copyInts(pages) }
}

// WithDeclaredMax records the effective declared page total
func WithDeclaredMax(n int) FlagOption {
	return func(f *Flag) { f.declaredMax = &n }
}

// WithActualCount records the true page count of the file
func WithActualCount(n int) FlagOption {
	return func(f *Flag) { f.actualCount = &n }
}

// WithMissingNumbers records the check numbers absent from a sequence
func WithMissingNumbers(numbers []int) FlagOption {
	return func(f *Flag) { f.missingNumbers = copyInts(numbers) }
}

// WithMatchCount records how many times a pattern matched
func WithMatchCount(n int) FlagOption {
	return func(f *Flag) { f.matchCount = &n }
}

// WithMetric records a numeric measurement behind an image finding
func WithMetric(name string, value float64) FlagOption {
	return func(f *Flag) {
		if f.metrics == nil {
			f.metrics = make(map[string]float64)
		}
		f.metrics[name] = value
	}
}

// NewFlag creates an immutable Flag
func NewFlag(flagType, description string, severity Severity, details []string, opts ...FlagOption) Flag {
	f := Flag{
		flagType:    flagType,
		description: description,
		severity:    severity,
		details:     append([]string{}, details...),
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func (f Flag) Type() string          { return f.flagType }
func (f Flag) Description() string   { return f.description }
func (f Flag) Severity() Severity    { return f.severity }
func (f Flag) Details() []string     { return append([]string{}, f.details...) }
func (f Flag) FoundPages() []int     { return copyInts(f.foundPages) }
func (f Flag) MissingNumbers() []int { return copyInts(f.missingNumbers) }

// DeclaredMax returns the declared page total and whether it was set
func (f Flag) DeclaredMax() (int, bool) { return derefInt(f.declaredMax) }

// ActualCount returns the true page count and whether it was set
func (f Flag) ActualCount() (int, bool) { return derefInt(f.actualCount) }

// MatchCount returns the pattern match count and whether it was set
func (f Flag) MatchCount() (int, bool) { return derefInt(f.matchCount) }

// Metric returns a named measurement and whether it was set
func (f Flag) Metric(name string) (float64, bool) {
	v, ok := f.metrics[name]
	return v, ok
}

// String returns a string representation of the Flag
func (f Flag) String() string {
	return fmt.Sprintf("Flag{Type: %s, Severity: %s, Description: %s}", f.flagType, f.severity, f.description)
}

// ToMap converts the flag into a map of primitives for persistence
func (f Flag) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"type":        f.flagType,
		"description": f.description,
		"severity":    string(f.severity),
		"details":     f.Details(),
	}
	if f.foundPages != nil {
		m["found_pages"] = f.FoundPages()
	}
	if f.declaredMax != nil {
		m["declared_max"] = *f.declaredMax
	}
	if f.actualCount != nil {
		m["actual_count"] = *f.actualCount
	}
	if f.missingNumbers != nil {
		m["missing_numbers"] = f.MissingNumbers()
	}
	if f.matchCount != nil {
		m["match_count"] = *f.matchCount
	}
	if len(f.metrics) > 0 {
		metrics := make(map[string]interface{}, len(f.metrics))
		for name, v := range f.metrics {
			metrics[name] = v
		}
		m["metrics"] = metrics
	}
	return m
}

// MarshalJSON implements custom JSON marshaling for Flag
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToMap())
}

func copyInts(in []int) []int {
	if in == nil {
		return nil
	}
	return append([]int{}, in...)
}

func derefInt(p *int) (int, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
