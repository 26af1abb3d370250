package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DocumentType is the coarse category inferred from title and content
type DocumentType string

const (
	DocumentBankStatement      DocumentType = "bank_statement"
	DocumentFinancialStatement DocumentType = "financial_statement"
	DocumentInvoice            DocumentType = "invoice"
	DocumentRentRoll           DocumentType = "rent_roll"
	DocumentCourtFiling        DocumentType = "court_filing"
	DocumentUnknown            DocumentType = "unknown"
)

// HasLedger reports whether balance reconciliation applies to this type
func (d DocumentType) HasLedger() bool {
	return d == DocumentBankStatement || d == DocumentFinancialStatement
}

// BalanceCheck is the outcome of transaction reconciliation
type BalanceCheck struct {
	Status   CheckStatus `json:"status"`
	Issues   []string    `json:"issues"`
	Severity Severity    `json:"severity"`
	// Difference is the absolute amount gap of the last amount mismatch, for display only.
	Difference *decimal.Decimal `json:"difference"`
	Error      string           `json:"error,omitempty"`
}

// NewBalanceCheck returns a passing balance check with no issues
func NewBalanceCheck() *BalanceCheck {
	return &BalanceCheck{Status: StatusPass, Issues: []string{}, Severity: SeverityLow}
}

// NotApplicableBalanceCheck marks a document type without a check ledger
func NotApplicableBalanceCheck() *BalanceCheck {
	return &BalanceCheck{Status: StatusNotApplicable, Issues: []string{}}
}

// ToMap converts the balance check into a map of primitives
func (b *BalanceCheck) ToMap() map[string]interface{} {
	if b == nil {
		return nil
	}
	if b.Status == StatusNotApplicable {
		return map[string]interface{}{"status": string(b.Status)}
	}
	m := map[string]interface{}{
		"status":     string(b.Status),
		"issues":     append([]string{}, b.Issues...),
		"severity":   string(b.Severity),
		"difference": nil,
	}
	if b.Difference != nil {
		m["difference"] = b.Difference.InexactFloat64()
	}
	if b.Error != "" {
		m["error"] = b.Error
	}
	return m
}

// LayoutDetail locates one example of a layout issue
type LayoutDetail struct {
	LineNum int    `json:"line_num"`
	Text    string `json:"text"`
	Issue   string `json:"issue"`
}

// LayoutCheck is the outcome of layout scoring
type LayoutCheck struct {
	Status  CheckStatus    `json:"status"`
	Score   float64        `json:"score"`
	Issues  []string       `json:"issues"`
	Details []LayoutDetail `json:"details"`
	Error   string         `json:"error,omitempty"`
}

// ToMap converts the layout check into a map of primitives
func (l *LayoutCheck) ToMap() map[string]interface{} {
	if l == nil {
		return nil
	}
	details := make([]interface{}, 0, len(l.Details))
	for _, d := range l.Details {
		details = append(details, map[string]interface{}{
			"line_num": d.LineNum,
			"text":     d.Text,
			"issue":    d.Issue,
		})
	}
	m := map[string]interface{}{
		"status":  string(l.Status),
		"score":   l.Score,
		"issues":  append([]string{}, l.Issues...),
		"details": details,
	}
	if l.Error != "" {
		m["error"] = l.Error
	}
	return m
}

// PatternCheck holds every textual and image flag in creation order
type PatternCheck struct {
	Flags           []Flag   `json:"flags"`
	PatternsChecked []string `json:"patterns_checked"`
	Error           string   `json:"error,omitempty"`
}

// ToMap converts the pattern check into a map of primitives
func (p *PatternCheck) ToMap() map[string]interface{} {
	if p == nil {
		return nil
	}
	m := map[string]interface{}{
		"flags":            flagsToMaps(p.Flags),
		"patterns_checked": append([]string{}, p.PatternsChecked...),
	}
	if p.Error != "" {
		m["error"] = p.Error
	}
	return m
}

// AddPattern records a pattern name once, keeping first-seen order
func (p *PatternCheck) AddPattern(name string) {
	for _, existing := range p.PatternsChecked {
		if existing == name {
			return
		}
	}
	p.PatternsChecked = append(p.PatternsChecked, name)
}

// ForensicsResult is the outcome of image forensics
type ForensicsResult struct {
	Analyzed              bool     `json:"analyzed"`
	Filename              string   `json:"filename,omitempty"`
	ManipulationsDetected bool     `json:"manipulations_detected"`
	Flags                 []Flag   `json:"flags"`
	TechniquesUsed        []string `json:"techniques_used"`
	Error                 string   `json:"error,omitempty"`
}

// ToMap converts the forensics result into a map of primitives
func (f *ForensicsResult) ToMap() map[string]interface{} {
	if f == nil {
		return nil
	}
	if !f.Analyzed {
		return map[string]interface{}{"analyzed": false, "error": f.Error}
	}
	m := map[string]interface{}{
		"analyzed":               true,
		"filename":               f.Filename,
		"manipulations_detected": f.ManipulationsDetected,
		"flags":                  flagsToMaps(f.Flags),
		"techniques_used":        append([]string{}, f.TechniquesUsed...),
	}
	if f.Error != "" {
		m["error"] = f.Error
	}
	return m
}

// DetectionResult is the merged outcome of one detection run
type DetectionResult struct {
	HasAnomalies   bool             `json:"has_anomalies"`
	AnomalyTypes   []string         `json:"anomaly_types"`
	DocumentType   DocumentType     `json:"document_type"`
	BalanceCheck   *BalanceCheck    `json:"balance_check"`
	LayoutCheck    *LayoutCheck     `json:"layout_check"`
	PatternCheck   *PatternCheck    `json:"pattern_check"`
	ImageForensics *ForensicsResult `json:"image_forensics"`
	Error          string           `json:"error,omitempty"`
}

// AddAnomalyType appends an anomaly type unless it is already present
func (r *DetectionResult) AddAnomalyType(anomalyType string) {
	for _, existing := range r.AnomalyTypes {
		if existing == anomalyType {
			return
		}
	}
	r.AnomalyTypes = append(r.AnomalyTypes, anomalyType)
}

// Flags returns every merged flag, or nil when no pattern check ran
func (r *DetectionResult) Flags() []Flag {
	if r.PatternCheck == nil {
		return nil
	}
	return append([]Flag{}, r.PatternCheck.Flags...)
}

// ToMap converts the result into a nested map of primitives and lists that
// holds no references back into the engine.
func (r *DetectionResult) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"has_anomalies":   r.HasAnomalies,
		"anomaly_types":   append([]string{}, r.AnomalyTypes...),
		"document_type":   string(r.DocumentType),
		"balance_check":   nilIfEmpty(r.BalanceCheck.ToMap()),
		"layout_check":    nilIfEmpty(r.LayoutCheck.ToMap()),
		"pattern_check":   nilIfEmpty(r.PatternCheck.ToMap()),
		"llm_check":       nil,
		"image_forensics": nilIfEmpty(r.ImageForensics.ToMap()),
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// MarshalJSON serializes the result through ToMap so that JSON output and
// persisted rows share one shape.
func (r *DetectionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

func flagsToMaps(flags []Flag) []interface{} {
	out := make([]interface{}, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.ToMap())
	}
	return out
}

// nilIfEmpty keeps a typed nil map from serializing as an empty object.
func nilIfEmpty(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

// StoredResult is one persisted detection row: the document it belongs to
// and its result in ToMap form.
type StoredResult struct {
	DocumentID string                 `json:"document_id" yaml:"document_id"`
	Title      string                 `json:"title,omitempty" yaml:"title,omitempty"`
	Result     map[string]interface{} `json:"result" yaml:"result"`
}
