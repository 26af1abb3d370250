// Package reporter renders detection results, batch runs and cleanup reports.
//
// Supported output formats:
//   - Console: Human-readable sections for terminal display
//   - JSON: The persisted result shape, for programmatic consumption
//   - YAML: The same shape as JSON, for review files
//   - CSV: One row per flag, anomaly record or cleanup outcome
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:        reporter.FormatJSON,
//		TableMaxWidth: 120,
//	})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"document-anomaly-service/internal/cleanup"
	"document-anomaly-service/internal/detector"
	"document-anomaly-service/internal/models"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `mapstructure:"format" json:"format"`

	// Detail level options
	IncludeFlagDetails bool `mapstructure:"include_flag_details" json:"include_flag_details"`
	IncludeLayoutLines bool `mapstructure:"include_layout_lines" json:"include_layout_lines"`
	IncludeRecords     bool `mapstructure:"include_records" json:"include_records"`
	IncludeKept        bool `mapstructure:"include_kept" json:"include_kept"`

	// Console formatting options
	TableMaxWidth int `mapstructure:"table_max_width" json:"table_max_width"`

	// CSV options
	CSVDelimiter rune `mapstructure:"csv_delimiter" json:"csv_delimiter"`
	CSVHeaders   bool `mapstructure:"csv_headers" json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeFlagDetails: true,
		IncludeLayoutLines: false,
		IncludeRecords:     true,
		IncludeKept:        false,
		TableMaxWidth:      120,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	return nil
}

// BatchEntry is one document of a batch run
type BatchEntry struct {
	DocumentID string                  `json:"document_id" yaml:"document_id"`
	Title      string                  `json:"title,omitempty" yaml:"title,omitempty"`
	Result     *models.DetectionResult `json:"-" yaml:"-"`
}

// BatchReport is the outcome of one batch run
type BatchReport struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	RulesVersion string        `json:"rules_version" yaml:"rules_version"`
	Entries      []BatchEntry  `json:"-" yaml:"-"`
}

// BatchSummary aggregates a batch run
type BatchSummary struct {
	Documents     int            `json:"documents" yaml:"documents"`
	WithAnomalies int            `json:"with_anomalies" yaml:"with_anomalies"`
	Errors        int            `json:"errors" yaml:"errors"`
	ByType        map[string]int `json:"by_type" yaml:"by_type"`
}

// Summarize counts documents, anomalous documents and anomaly types
func (b *BatchReport) Summarize() BatchSummary {
	summary := BatchSummary{ByType: map[string]int{}}
	for _, entry := range b.Entries {
		summary.Documents++
		if entry.Result == nil {
			continue
		}
		if entry.Result.Error != "" {
			summary.Errors++
		}
		if entry.Result.HasAnomalies {
			summary.WithAnomalies++
		}
		for _, t := range entry.Result.AnomalyTypes {
			summary.ByType[t]++
		}
	}
	return summary
}

// StoredResults converts the batch into persisted rows
func (b *BatchReport) StoredResults() []models.StoredResult {
	rows := make([]models.StoredResult, 0, len(b.Entries))
	for _, entry := range b.Entries {
		if entry.Result == nil {
			continue
		}
		rows = append(rows, models.StoredResult{
			DocumentID: entry.DocumentID,
			Title:      entry.Title,
			Result:     entry.Result.ToMap(),
		})
	}
	return rows
}

// ReportGenerator renders reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport renders one detection result
func (rg *ReportGenerator) GenerateReport(result *models.DetectionResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("detection result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return encodeJSON(rg.resultOutput(result), writer)
	case FormatYAML:
		return encodeYAML(rg.resultOutput(result), writer)
	case FormatCSV:
		return rg.writeCSV(writer, flagHeaders, rg.flagRows("", result))
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateBatchReport renders a batch run with its summary
func (rg *ReportGenerator) GenerateBatchReport(batch *BatchReport, writer io.Writer) error {
	if batch == nil {
		return fmt.Errorf("batch report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleBatchReport(batch, writer)
	case FormatJSON:
		return encodeJSON(rg.batchOutput(batch), writer)
	case FormatYAML:
		return encodeYAML(rg.batchOutput(batch), writer)
	case FormatCSV:
		var rows [][]string
		for _, entry := range batch.Entries {
			for _, rec := range detector.Records(entry.Result) {
				amount := ""
				if rec.Amount != nil {
					amount = rec.Amount.StringFixed(2)
				}
				rows = append(rows, []string{entry.DocumentID, entry.Title, rec.Type, string(rec.Severity), amount, rec.Description})
			}
		}
		return rg.writeCSV(writer, recordHeaders, rows)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateCleanupReport renders the outcome of a cleanup run
func (rg *ReportGenerator) GenerateCleanupReport(report *cleanup.Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("cleanup report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleCleanupReport(report, writer)
	case FormatJSON:
		return encodeJSON(rg.cleanupOutput(report), writer)
	case FormatYAML:
		return encodeYAML(rg.cleanupOutput(report), writer)
	case FormatCSV:
		var rows [][]string
		for _, o := range rg.visibleOutcomes(report) {
			rows = append(rows, []string{o.DocumentID, o.FlagType, string(o.Action), o.Reason})
		}
		return rg.writeCSV(writer, outcomeHeaders, rows)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *models.DetectionResult, writer io.Writer) error {
	fmt.Fprintf(writer, "ANOMALY DETECTION REPORT\n\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(result, writer)
	fmt.Fprintf(writer, "\n")

	if result.BalanceCheck != nil {
		fmt.Fprintf(writer, "=== BALANCE CHECK ===\n")
		rg.printBalanceCheck(result.BalanceCheck, writer)
		fmt.Fprintf(writer, "\n")
	}

	if result.LayoutCheck != nil {
		fmt.Fprintf(writer, "=== LAYOUT CHECK ===\n")
		rg.printLayoutCheck(result.LayoutCheck, writer)
		fmt.Fprintf(writer, "\n")
	}

	if flags := result.Flags(); len(flags) > 0 {
		fmt.Fprintf(writer, "=== FLAGS ===\n")
		rg.printFlags(flags, writer)
		fmt.Fprintf(writer, "\n")
	}

	if result.ImageForensics != nil {
		fmt.Fprintf(writer, "=== IMAGE FORENSICS ===\n")
		rg.printForensics(result.ImageForensics, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeRecords && result.HasAnomalies {
		fmt.Fprintf(writer, "=== REVIEW QUEUE ===\n")
		rg.printRecords(detector.Records(result), writer)
	}

	return nil
}

func (rg *ReportGenerator) generateConsoleBatchReport(batch *BatchReport, writer io.Writer) error {
	summary := batch.Summarize()

	fmt.Fprintf(writer, "BATCH ANOMALY REPORT\n")
	fmt.Fprintf(writer, "Run ID: %s\n", batch.RunID)
	if !batch.StartedAt.IsZero() {
		fmt.Fprintf(writer, "Started: %s\n", batch.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "Processing Duration: %v\n", batch.Duration)
	if batch.RulesVersion != "" {
		fmt.Fprintf(writer, "Rules Version: %s\n", batch.RulesVersion)
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Documents:      %d\n", summary.Documents)
	fmt.Fprintf(writer, "With anomalies: %d (%.1f%%)\n",
		summary.WithAnomalies, rg.calculatePercentage(summary.WithAnomalies, summary.Documents))
	fmt.Fprintf(writer, "Errors:         %d\n", summary.Errors)
	fmt.Fprintf(writer, "\n")

	if len(summary.ByType) > 0 {
		fmt.Fprintf(writer, "=== ANOMALY TYPES ===\n")
		for _, t := range sortedKeys(summary.ByType) {
			fmt.Fprintf(writer, "%-30s %d\n", t, summary.ByType[t])
		}
		fmt.Fprintf(writer, "\n")
	}

	if summary.WithAnomalies > 0 {
		fmt.Fprintf(writer, "=== DOCUMENTS WITH ANOMALIES ===\n")
		for _, entry := range batch.Entries {
			if entry.Result == nil || !entry.Result.HasAnomalies {
				continue
			}
			fmt.Fprintf(writer, "%s %s\n", entry.DocumentID, rg.truncate(entry.Title, 60))
			if rg.config.IncludeRecords {
				rg.printRecords(detector.Records(entry.Result), writer)
			} else {
				fmt.Fprintf(writer, "  %s\n", strings.Join(entry.Result.AnomalyTypes, ", "))
			}
		}
	}

	return nil
}

func (rg *ReportGenerator) generateConsoleCleanupReport(report *cleanup.Report, writer io.Writer) error {
	fmt.Fprintf(writer, "CLEANUP REPORT\n")
	fmt.Fprintf(writer, "Rules Version: %s\n", report.RulesVersion)
	fmt.Fprintf(writer, "Page Table Version: %s\n\n", report.PageTableVersion)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Documents:         %d\n", len(report.Results))
	fmt.Fprintf(writer, "Documents changed: %d\n\n", report.Changed())

	fmt.Fprintf(writer, "=== %s ===\n", strings.ToUpper(models.FlagPageDiscontinuity))
	rg.printStats(report.PageDiscontinuity, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== %s ===\n", strings.ToUpper(models.FlagDuplicateLines))
	rg.printStats(report.DuplicateLines, writer)

	outcomes := rg.visibleOutcomes(report)
	if len(outcomes) > 0 {
		fmt.Fprintf(writer, "\n=== OUTCOMES ===\n")
		for _, o := range outcomes {
			fmt.Fprintf(writer, "%-12s %-20s %-8s %s\n",
				o.DocumentID, o.FlagType, o.Action, rg.truncate(o.Reason, rg.config.TableMaxWidth-44))
		}
	}

	return nil
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummary(result *models.DetectionResult, writer io.Writer) {
	fmt.Fprintf(writer, "Document Type: %s\n", result.DocumentType)
	fmt.Fprintf(writer, "Has Anomalies: %t\n", result.HasAnomalies)
	if len(result.AnomalyTypes) > 0 {
		fmt.Fprintf(writer, "Anomaly Types: %s\n", strings.Join(result.AnomalyTypes, ", "))
	}
	if result.Error != "" {
		fmt.Fprintf(writer, "Error:         %s\n", result.Error)
	}
}

func (rg *ReportGenerator) printBalanceCheck(check *models.BalanceCheck, writer io.Writer) {
	fmt.Fprintf(writer, "Status:   %s\n", check.Status)
	if check.Status == models.StatusNotApplicable {
		return
	}
	fmt.Fprintf(writer, "Severity: %s\n", check.Severity)
	if check.Difference != nil {
		fmt.Fprintf(writer, "Difference: %s\n", models.FormatMoney(*check.Difference))
	}
	for _, issue := range check.Issues {
		fmt.Fprintf(writer, "  - %s\n", rg.truncate(issue, rg.config.TableMaxWidth-4))
	}
	if check.Error != "" {
		fmt.Fprintf(writer, "Error:    %s\n", check.Error)
	}
}

func (rg *ReportGenerator) printLayoutCheck(check *models.LayoutCheck, writer io.Writer) {
	fmt.Fprintf(writer, "Status: %s\n", check.Status)
	fmt.Fprintf(writer, "Score:  %.2f\n", check.Score)
	for _, issue := range check.Issues {
		fmt.Fprintf(writer, "  - %s\n", issue)
	}
	if rg.config.IncludeLayoutLines {
		for _, d := range check.Details {
			fmt.Fprintf(writer, "  line %d: %s [%s]\n", d.LineNum, rg.truncate(d.Text, 60), d.Issue)
		}
	}
	if check.Error != "" {
		fmt.Fprintf(writer, "Error:  %s\n", check.Error)
	}
}

func (rg *ReportGenerator) printFlags(flags []models.Flag, writer io.Writer) {
	fmt.Fprintf(writer, "Total Flags: %d\n\n", len(flags))
	for i, flag := range flags {
		fmt.Fprintf(writer, "%d. [%s] %s\n", i+1, strings.ToUpper(string(flag.Severity())), flag.Type())
		fmt.Fprintf(writer, "   %s\n", rg.truncate(flag.Description(), rg.config.TableMaxWidth-3))
		if !rg.config.IncludeFlagDetails {
			continue
		}
		for _, detail := range flag.Details() {
			fmt.Fprintf(writer, "     - %s\n", rg.truncate(detail, rg.config.TableMaxWidth-7))
		}
	}
}

func (rg *ReportGenerator) printForensics(f *models.ForensicsResult, writer io.Writer) {
	fmt.Fprintf(writer, "Analyzed: %t\n", f.Analyzed)
	if !f.Analyzed {
		fmt.Fprintf(writer, "Error:    %s\n", f.Error)
		return
	}
	fmt.Fprintf(writer, "File:     %s\n", f.Filename)
	fmt.Fprintf(writer, "Manipulations Detected: %t\n", f.ManipulationsDetected)
	fmt.Fprintf(writer, "Techniques: %s\n", strings.Join(f.TechniquesUsed, ", "))
	if f.Error != "" {
		fmt.Fprintf(writer, "Error:    %s\n", f.Error)
	}
}

func (rg *ReportGenerator) printRecords(records []detector.AnomalyRecord, writer io.Writer) {
	for _, rec := range records {
		fmt.Fprintf(writer, "  %-8s %-28s %s\n",
			strings.ToUpper(string(rec.Severity)), rec.Type, rg.truncate(rec.Description, rg.config.TableMaxWidth-40))
	}
}

func (rg *ReportGenerator) printStats(stats cleanup.Stats, writer io.Writer) {
	fmt.Fprintf(writer, "Removed: %d\n", stats.Removed)
	fmt.Fprintf(writer, "Updated: %d\n", stats.Updated)
	fmt.Fprintf(writer, "Kept:    %d\n", stats.Kept)
	fmt.Fprintf(writer, "Errors:  %d\n", stats.Errors)
}

// Structured output

func (rg *ReportGenerator) resultOutput(result *models.DetectionResult) map[string]interface{} {
	output := result.ToMap()
	if rg.config.IncludeRecords {
		output["records"] = detector.Records(result)
	}
	return output
}

func (rg *ReportGenerator) batchOutput(batch *BatchReport) map[string]interface{} {
	documents := make([]interface{}, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		if entry.Result == nil {
			continue
		}
		doc := map[string]interface{}{
			"document_id": entry.DocumentID,
			"title":       entry.Title,
			"result":      entry.Result.ToMap(),
		}
		if rg.config.IncludeRecords {
			doc["records"] = detector.Records(entry.Result)
		}
		documents = append(documents, doc)
	}

	return map[string]interface{}{
		"run_id":        batch.RunID,
		"started_at":    batch.StartedAt.Format(time.RFC3339),
		"duration":      batch.Duration.String(),
		"rules_version": batch.RulesVersion,
		"summary":       batch.Summarize(),
		"documents":     documents,
	}
}

func (rg *ReportGenerator) cleanupOutput(report *cleanup.Report) map[string]interface{} {
	return map[string]interface{}{
		"rules_version":      report.RulesVersion,
		"page_table_version": report.PageTableVersion,
		"documents":          len(report.Results),
		"documents_changed":  report.Changed(),
		"page_discontinuity": report.PageDiscontinuity,
		"duplicate_lines":    report.DuplicateLines,
		"outcomes":           rg.visibleOutcomes(report),
	}
}

func (rg *ReportGenerator) visibleOutcomes(report *cleanup.Report) []cleanup.Outcome {
	outcomes := make([]cleanup.Outcome, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		if o.Action == cleanup.ActionKept && !rg.config.IncludeKept {
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func encodeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func encodeYAML(v interface{}, writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return encoder.Close()
}

// CSV output

var (
	flagHeaders    = []string{"Document_ID", "Type", "Severity", "Description", "Details"}
	recordHeaders  = []string{"Document_ID", "Title", "Type", "Severity", "Amount", "Description"}
	outcomeHeaders = []string{"Document_ID", "Flag_Type", "Action", "Reason"}
)

func (rg *ReportGenerator) flagRows(documentID string, result *models.DetectionResult) [][]string {
	var rows [][]string
	for _, flag := range result.Flags() {
		details := ""
		if rg.config.IncludeFlagDetails {
			details = strings.Join(flag.Details(), "; ")
		}
		rows = append(rows, []string{documentID, flag.Type(), string(flag.Severity()), flag.Description(), details})
	}
	return rows
}

func (rg *ReportGenerator) writeCSV(writer io.Writer, headers []string, rows [][]string) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for i, row := range rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record %d: %w", i+1, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) truncate(s string, width int) string {
	if width < 10 {
		width = 10
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
