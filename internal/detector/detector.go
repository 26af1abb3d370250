// Package detector runs every anomaly check against one document and merges
// the findings into a single DetectionResult.
//
// The Detector coordinates the whole workflow:
//   - Document type inference from title and content
//   - Ledger extraction, claim reconciliation and check sequence analysis
//     for bank and financial statements
//   - Layout scoring and textual pattern checks for every document
//   - Image forensics when raster or PDF bytes are supplied
//
// A Detector holds only immutable configuration and is safe for concurrent
// use. Each sub-check degrades on failure instead of aborting the run.
//
// Example usage:
//
//	d, err := detector.New(detector.DefaultConfig(), log)
//	if err != nil {
//		return err
//	}
//	result := d.Detect(ctx, models.Document{
//		Metadata: models.DocumentMetadata{Title: "March statement", PageCount: 4},
//		Content:  ocrText,
//	})
//	fmt.Println(result.HasAnomalies, result.AnomalyTypes)
package detector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"document-anomaly-service/internal/forensics"
	"document-anomaly-service/internal/layout"
	"document-anomaly-service/internal/ledger"
	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/patterns"
	"document-anomaly-service/internal/pdfimage"
	"document-anomaly-service/internal/reconciler"
	"document-anomaly-service/internal/rules"
	apperrors "document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

// AnomalyLayoutIrregularity is reported when layout scoring fails
const AnomalyLayoutIrregularity = models.AnomalyLayoutIrregular

const unknownFilename = "unknown"

// Config groups the thresholds of every sub-check
type Config struct {
	Reconciler *reconciler.Config `mapstructure:"reconciler" json:"reconciler"`
	Patterns   *patterns.Config   `mapstructure:"patterns" json:"patterns"`
	Layout     *layout.Config     `mapstructure:"layout" json:"layout"`
	Forensics  *forensics.Config  `mapstructure:"forensics" json:"forensics"`

	// EnableForensics turns image forensics on for documents with bytes.
	EnableForensics bool `mapstructure:"enable_forensics" json:"enable_forensics"`
}

// DefaultConfig returns the default detection configuration
func DefaultConfig() *Config {
	return &Config{
		Reconciler:      reconciler.DefaultConfig(),
		Patterns:        patterns.DefaultConfig(),
		Layout:          layout.DefaultConfig(),
		Forensics:       forensics.DefaultConfig(),
		EnableForensics: true,
	}
}

// Validate validates every nested configuration
func (c *Config) Validate() error {
	if c.Reconciler == nil || c.Patterns == nil || c.Layout == nil || c.Forensics == nil {
		return fmt.Errorf("reconciler, patterns, layout and forensics configuration are required")
	}
	if err := c.Reconciler.Validate(); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	if err := c.Patterns.Validate(); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if err := c.Forensics.Validate(); err != nil {
		return fmt.Errorf("forensics: %w", err)
	}
	return nil
}

// Option customizes a Detector
type Option func(*Detector)

// WithKeywords replaces the embedded boilerplate keyword list
func WithKeywords(keywords *rules.KeywordSet) Option {
	return func(d *Detector) {
		if keywords != nil {
			d.keywords = keywords
		}
	}
}

// Detector runs the anomaly checks for one document at a time
type Detector struct {
	config   *Config
	keywords *rules.KeywordSet

	extractor  *ledger.Extractor
	reconciler *reconciler.TransactionReconciler
	sequence   *reconciler.SequenceAnalyzer
	patterns   *patterns.Checker
	layout     *layout.Analyzer
	forensics  *forensics.Engine

	logger logger.Logger
}

// New creates a detector. A nil config uses DefaultConfig.
func New(config *Config, log logger.Logger, opts ...Option) (*Detector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "detector", err.Error(), err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	d := &Detector{
		config:   config,
		keywords: rules.DefaultKeywords(),
		logger:   log.WithComponent("detector"),
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	d.extractor = ledger.NewExtractor(log)
	if d.reconciler, err = reconciler.NewTransactionReconciler(config.Reconciler, log); err != nil {
		return nil, err
	}
	d.sequence = reconciler.NewSequenceAnalyzer(config.Reconciler, log)
	if d.patterns, err = patterns.NewChecker(config.Patterns, d.keywords, log); err != nil {
		return nil, err
	}
	if d.layout, err = layout.NewAnalyzer(config.Layout, log); err != nil {
		return nil, err
	}
	if config.EnableForensics {
		if d.forensics, err = forensics.New(config.Forensics, log); err != nil {
			return nil, err
		}
	}

	d.logger.WithFields(logger.Fields{
		"rules_version":    d.keywords.Version(),
		"forensics":        config.EnableForensics,
		"page_rules":       rules.PageTableVersion,
		"boilerplate_size": len(d.keywords.Keywords()),
	}).Debug("Detector created")
	return d, nil
}

// Keywords returns the boilerplate keyword list the detector uses
func (d *Detector) Keywords() *rules.KeywordSet {
	return d.keywords
}

// Detect runs every applicable check and merges the findings. Flags are
// ordered balance mismatches, sequence gap, pattern flags, then forensics
// flags. A failure in the merge itself is reported in Error alongside the
// partial result.
func (d *Detector) Detect(ctx context.Context, doc models.Document) (result *models.DetectionResult) {
	result = &models.DetectionResult{AnomalyTypes: []string{}}
	merged := &models.PatternCheck{Flags: []models.Flag{}, PatternsChecked: []string{}}
	result.PatternCheck = merged

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoveredError("detect", r)
			result.Error = err.Error()
			d.logger.WithError(err).Error("Anomaly detection aborted")
		}
	}()

	docType := InferDocumentType(doc.Metadata.Title, doc.Content)
	result.DocumentType = docType
	log := d.logger.WithFields(logger.Fields{
		"title":         doc.Metadata.Title,
		"document_type": docType,
	})
	log.Debug("Starting anomaly detection")

	var errs error

	if docType.HasLedger() {
		balance, sequenceFlag := d.checkLedger(doc.Content)
		result.BalanceCheck = balance
		if balance.Error != "" {
			errs = multierr.Append(errs, fmt.Errorf("balance check: %s", balance.Error))
		}
		if balance.Status == models.StatusFail {
			result.HasAnomalies = true
			result.AddAnomalyType(models.FlagBalanceMismatch)
			merged.Flags = append(merged.Flags, reconciler.MismatchFlags(balance)...)
		}
		if sequenceFlag != nil {
			result.HasAnomalies = true
			result.AddAnomalyType(models.FlagCheckSequenceGap)
			merged.Flags = append(merged.Flags, *sequenceFlag)
		}
	} else {
		result.BalanceCheck = models.NotApplicableBalanceCheck()
	}

	result.LayoutCheck = d.layout.Analyze(doc.Content)
	if result.LayoutCheck.Error != "" {
		errs = multierr.Append(errs, fmt.Errorf("layout check: %s", result.LayoutCheck.Error))
	}
	if result.LayoutCheck.Status == models.StatusFail {
		result.HasAnomalies = true
		result.AddAnomalyType(AnomalyLayoutIrregularity)
	}

	patternResult := d.patterns.Check(doc.Content, d.pageCount(doc))
	for _, name := range patternResult.PatternsChecked {
		merged.AddPattern(name)
	}
	if patternResult.Error != "" {
		merged.Error = patternResult.Error
		errs = multierr.Append(errs, fmt.Errorf("pattern check: %s", patternResult.Error))
	}
	for _, flag := range patternResult.Flags {
		merged.Flags = append(merged.Flags, flag)
		result.HasAnomalies = true
		result.AddAnomalyType(flag.Type())
	}

	if d.forensics != nil && doc.WantsForensics() {
		images := d.forensics.Analyze(ctx, doc.ImageData, filename(doc))
		result.ImageForensics = images
		if images.ManipulationsDetected {
			result.HasAnomalies = true
			for _, flag := range images.Flags {
				merged.Flags = append(merged.Flags, flag)
				result.AddAnomalyType(flag.Type())
			}
		}
	}

	if errs != nil {
		log.WithError(errs).Warn("Some checks degraded")
	}
	log.WithFields(logger.Fields{
		"has_anomalies": result.HasAnomalies,
		"anomaly_types": strings.Join(result.AnomalyTypes, ","),
		"flags":         len(merged.Flags),
	}).Info("Anomaly detection complete")
	return result
}

// checkLedger reconciles claims against the check ledger and looks for
// sequence gaps. A panic degrades the balance check to ERROR.
func (d *Detector) checkLedger(content string) (balance *models.BalanceCheck, sequenceFlag *models.Flag) {
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoveredError("balance check", r)
			d.logger.WithError(err).Error("Balance check failed")
			balance = &models.BalanceCheck{
				Status:   models.StatusError,
				Issues:   []string{},
				Severity: models.SeverityLow,
				Error:    err.Error(),
			}
			sequenceFlag = nil
		}
	}()

	extraction := d.extractor.Extract(content)
	balance = d.reconciler.Reconcile(content, extraction.Summary)
	if flag, ok := d.sequence.Analyze(extraction.CheckNumbers()); ok {
		sequenceFlag = &flag
	}
	return balance, sequenceFlag
}

// pageCount returns the true page count, reading it from the PDF when the
// metadata does not carry one. Bytes count as a PDF by mime type or header.
// 0 means unknown.
func (d *Detector) pageCount(doc models.Document) int {
	if doc.Metadata.PageCount > 0 {
		return doc.Metadata.PageCount
	}
	if len(doc.ImageData) == 0 || !doc.IsPDF() {
		return 0
	}
	n, err := pdfimage.PageCount(doc.ImageData)
	if err != nil {
		d.logger.WithError(err).Debug("Could not read page count from PDF")
		return 0
	}
	return n
}

func filename(doc models.Document) string {
	if doc.Metadata.OriginalFileName != "" {
		return doc.Metadata.OriginalFileName
	}
	return unknownFilename
}

var documentTypeKeywords = []struct {
	docType  models.DocumentType
	keywords []string
}{
	{models.DocumentBankStatement, []string{"statement", "bank", "account summary"}},
	{models.DocumentInvoice, []string{"invoice", "bill", "receipt"}},
	{models.DocumentRentRoll, []string{"rent roll", "rental income"}},
	{models.DocumentCourtFiling, []string{"court", "filing", "legal"}},
}

// InferDocumentType returns the first category whose keywords appear in the
// title or content, case-insensitively.
func InferDocumentType(title, content string) models.DocumentType {
	title = strings.ToLower(title)
	content = strings.ToLower(content)
	for _, category := range documentTypeKeywords {
		for _, kw := range category.keywords {
			if strings.Contains(title, kw) || strings.Contains(content, kw) {
				return category.docType
			}
		}
	}
	return models.DocumentUnknown
}

// AnomalyTags returns the document-store tag names for a result's anomaly
// types.
func AnomalyTags(result *models.DetectionResult) []string {
	if result == nil {
		return nil
	}
	tags := make([]string, 0, len(result.AnomalyTypes))
	for _, t := range result.AnomalyTypes {
		tags = append(tags, "anomaly:"+t)
	}
	return tags
}
