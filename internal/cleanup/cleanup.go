// Package cleanup re-evaluates stored detection results after the shared
// rules change. It works from the persisted flag fields alone and never
// re-runs detection.
package cleanup

import (
	"fmt"

	"github.com/spf13/cast"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/patterns"
	"document-anomaly-service/internal/rules"
	"document-anomaly-service/pkg/logger"
)

// Action is what re-evaluation did to one stored flag
type Action string

const (
	ActionRemoved Action = "removed"
	ActionUpdated Action = "updated"
	ActionKept    Action = "kept"
	ActionError   Action = "error"
)

// Outcome records the re-evaluation of one flag on one document
type Outcome struct {
	DocumentID string `json:"document_id" yaml:"document_id"`
	FlagType   string `json:"flag_type" yaml:"flag_type"`
	Action     Action `json:"action" yaml:"action"`
	Reason     string `json:"reason" yaml:"reason"`
}

// Stats counts outcomes for one flag type
type Stats struct {
	Removed int `json:"removed" yaml:"removed"`
	Updated int `json:"updated" yaml:"updated"`
	Kept    int `json:"kept" yaml:"kept"`
	Errors  int `json:"errors" yaml:"errors"`
}

func (s *Stats) add(action Action) {
	switch action {
	case ActionRemoved:
		s.Removed++
	case ActionUpdated:
		s.Updated++
	case ActionKept:
		s.Kept++
	case ActionError:
		s.Errors++
	}
}

// Report is the outcome of one cleanup run
type Report struct {
	RulesVersion      string                `json:"rules_version" yaml:"rules_version"`
	PageTableVersion  string                `json:"page_table_version" yaml:"page_table_version"`
	Results           []models.StoredResult `json:"results" yaml:"results"`
	Outcomes          []Outcome             `json:"outcomes" yaml:"outcomes"`
	PageDiscontinuity Stats                 `json:"page_discontinuity" yaml:"page_discontinuity"`
	DuplicateLines    Stats                 `json:"duplicate_lines" yaml:"duplicate_lines"`
}

// Changed reports how many documents had at least one flag removed or updated
func (r *Report) Changed() int {
	changed := make(map[string]bool)
	for _, o := range r.Outcomes {
		if o.Action == ActionRemoved || o.Action == ActionUpdated {
			changed[o.DocumentID] = true
		}
	}
	return len(changed)
}

// Cleaner applies the current boilerplate list and page table to stored
// results.
type Cleaner struct {
	keywords    *rules.KeywordSet
	maxExamples int
	logger      logger.Logger
}

// NewCleaner creates a cleaner. A nil keyword set uses the embedded list.
func NewCleaner(keywords *rules.KeywordSet, maxExamples int, log logger.Logger) *Cleaner {
	if keywords == nil {
		keywords = rules.DefaultKeywords()
	}
	if maxExamples <= 0 {
		maxExamples = patterns.DefaultConfig().MaxDuplicateExamples
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Cleaner{keywords: keywords, maxExamples: maxExamples, logger: log.WithComponent("cleanup")}
}

// Run re-evaluates every stored result. The input is not modified; the
// report carries rewritten copies in the same order.
func (c *Cleaner) Run(stored []models.StoredResult) *Report {
	report := &Report{
		RulesVersion:     c.keywords.Version(),
		PageTableVersion: rules.PageTableVersion,
		Results:          make([]models.StoredResult, 0, len(stored)),
		Outcomes:         []Outcome{},
	}

	for _, row := range stored {
		result := deepCopyMap(row.Result)
		for _, eval := range []struct {
			flagType string
			fn       func(map[string]interface{}) (Action, string, error)
			stats    *Stats
		}{
			{models.FlagPageDiscontinuity, c.ReevaluatePageDiscontinuity, &report.PageDiscontinuity},
			{models.FlagDuplicateLines, c.ReevaluateDuplicates, &report.DuplicateLines},
		} {
			action, reason, err := eval.fn(result)
			if err != nil {
				action, reason = ActionError, err.Error()
				c.logger.WithError(err).WithField("document_id", row.DocumentID).Warn("Could not re-evaluate stored flag")
			}
			if action == "" {
				continue
			}
			eval.stats.add(action)
			report.Outcomes = append(report.Outcomes, Outcome{
				DocumentID: row.DocumentID,
				FlagType:   eval.flagType,
				Action:     action,
				Reason:     reason,
			})
			c.logger.WithFields(logger.Fields{
				"document_id": row.DocumentID,
				"flag":        eval.flagType,
				"action":      action,
			}).Info(reason)
		}
		report.Results = append(report.Results, models.StoredResult{
			DocumentID: row.DocumentID,
			Title:      row.Title,
			Result:     result,
		})
	}
	return report
}

// ReevaluatePageDiscontinuity removes a stored page_discontinuity flag whose
// found_pages, declared_max and actual_count are suppressed by the current
// page table. An empty action means the result carries no such flag.
func (c *Cleaner) ReevaluatePageDiscontinuity(result map[string]interface{}) (Action, string, error) {
	flags, err := storedFlags(result)
	if err != nil {
		return "", "", err
	}
	flag := findFlag(flags, models.FlagPageDiscontinuity)
	if flag == nil {
		return "", "", nil
	}

	var found []int
	if flag["found_pages"] != nil {
		if found, err = cast.ToIntSliceE(flag["found_pages"]); err != nil {
			return "", "", fmt.Errorf("invalid found_pages: %w", err)
		}
	}
	declared, err := cast.ToIntE(flag["declared_max"])
	if err != nil {
		return "", "", fmt.Errorf("invalid declared_max: %w", err)
	}
	actual, err := cast.ToIntE(flag["actual_count"])
	if err != nil {
		return "", "", fmt.Errorf("invalid actual_count: %w", err)
	}

	eval := rules.ClassifyPageStamps(found, declared, actual)
	summary := fmt.Sprintf("found=%v declared=%d actual=%d verdict=%s", eval.Found, declared, actual, eval.Verdict)
	if !eval.IsFalsePositive() {
		return ActionKept, "real anomaly: " + summary, nil
	}

	setFlags(result, removeFlags(flags, models.FlagPageDiscontinuity))
	removeAnomalyType(result, models.FlagPageDiscontinuity)
	return ActionRemoved, "false positive: " + summary, nil
}

// ReevaluateDuplicates drops stored duplicate examples that the current
// boilerplate list excludes. The flag is removed when none remain and
// rebuilt from the remaining examples otherwise.
func (c *Cleaner) ReevaluateDuplicates(result map[string]interface{}) (Action, string, error) {
	flags, err := storedFlags(result)
	if err != nil {
		return "", "", err
	}
	flag := findFlag(flags, models.FlagDuplicateLines)
	if flag == nil {
		return "", "", nil
	}

	var details []string
	if flag["details"] != nil {
		if details, err = cast.ToStringSliceE(flag["details"]); err != nil {
			return "", "", fmt.Errorf("invalid details: %w", err)
		}
	}
	remaining := c.keywords.FilterBoilerplate(details)
	if len(remaining) == len(details) {
		return ActionKept, fmt.Sprintf("%d duplicate(s) unchanged", len(details)), nil
	}

	if len(remaining) == 0 {
		setFlags(result, removeFlags(flags, models.FlagDuplicateLines))
		removeAnomalyType(result, models.FlagDuplicateLines)
		return ActionRemoved, fmt.Sprintf("all %d duplicate(s) are boilerplate", len(details)), nil
	}

	rebuilt := patterns.DuplicateFlag(remaining, c.maxExamples).ToMap()
	for i, f := range flags {
		if m, ok := f.(map[string]interface{}); ok && cast.ToString(m["type"]) == models.FlagDuplicateLines {
			flags[i] = rebuilt
		}
	}
	setFlags(result, flags)
	result["has_anomalies"] = true
	return ActionUpdated, fmt.Sprintf("%d duplicate(s) reduced to %d", len(details), len(remaining)), nil
}

func storedFlags(result map[string]interface{}) ([]interface{}, error) {
	raw, ok := result["pattern_check"]
	if !ok || raw == nil {
		return nil, nil
	}
	check, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern_check: %w", err)
	}
	if check["flags"] == nil {
		return nil, nil
	}
	flags, err := cast.ToSliceE(check["flags"])
	if err != nil {
		return nil, fmt.Errorf("invalid pattern_check flags: %w", err)
	}
	for i, f := range flags {
		m, err := cast.ToStringMapE(f)
		if err != nil {
			return nil, fmt.Errorf("invalid flag %d: %w", i, err)
		}
		flags[i] = m
	}
	return flags, nil
}

func findFlag(flags []interface{}, flagType string) map[string]interface{} {
	for _, f := range flags {
		if m, ok := f.(map[string]interface{}); ok && cast.ToString(m["type"]) == flagType {
			return m
		}
	}
	return nil
}

func removeFlags(flags []interface{}, flagType string) []interface{} {
	out := make([]interface{}, 0, len(flags))
	for _, f := range flags {
		if m, ok := f.(map[string]interface{}); ok && cast.ToString(m["type"]) == flagType {
			continue
		}
		out = append(out, f)
	}
	return out
}

func setFlags(result map[string]interface{}, flags []interface{}) {
	check := cast.ToStringMap(result["pattern_check"])
	check["flags"] = flags
	result["pattern_check"] = check
}

// removeAnomalyType drops t from anomaly_types and recomputes has_anomalies
// from what remains.
func removeAnomalyType(result map[string]interface{}, t string) {
	types := cast.ToStringSlice(result["anomaly_types"])
	kept := make([]interface{}, 0, len(types))
	for _, existing := range types {
		if existing != t {
			kept = append(kept, existing)
		}
	}
	result["anomaly_types"] = kept
	result["has_anomalies"] = len(kept) > 0
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case map[interface{}]interface{}:
		return deepCopyMap(cast.ToStringMap(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		return append([]string{}, t...)
	case []int:
		return append([]int{}, t...)
	default:
		return v
	}
}
