package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"document-anomaly-service/internal/cleanup"
	"document-anomaly-service/internal/models"
	"document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallbacks for output and
// format failures
type SafeReportGenerator struct {
	*ReportGenerator
	fs     afero.Fs
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator. Backup files
// are written through fs; a nil fs uses the OS filesystem.
func NewSafeReportGenerator(config *ReportConfig, fs afero.Fs, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		fs:              fs,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely renders a detection result with fallbacks
func (srg *SafeReportGenerator) GenerateReportSafely(result *models.DetectionResult, writer io.Writer) error {
	if result == nil {
		return errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig, "detection result is required")
	}
	return srg.generate("detection", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateReport(result, w)
	})
}

// GenerateBatchReportSafely renders a batch run with fallbacks
func (srg *SafeReportGenerator) GenerateBatchReportSafely(batch *BatchReport, writer io.Writer) error {
	if batch == nil {
		return errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig, "batch report is required")
	}
	return srg.generate("batch", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateBatchReport(batch, w)
	})
}

// GenerateCleanupReportSafely renders a cleanup report with fallbacks
func (srg *SafeReportGenerator) GenerateCleanupReportSafely(report *cleanup.Report, writer io.Writer) error {
	if report == nil {
		return errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig, "cleanup report is required")
	}
	return srg.generate("cleanup", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateCleanupReport(report, w)
	})
}

type renderFunc func(rg *ReportGenerator, w io.Writer) error

func (srg *SafeReportGenerator) generate(kind string, writer io.Writer, render renderFunc) error {
	if writer == nil {
		return errors.New(errors.CategoryConfiguration, errors.CodeMissingConfig, "report writer is required").
			WithSuggestion("Provide a valid output writer")
	}

	log := srg.logger.WithFields(logger.Fields{
		"report": kind,
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Debug("Starting report generation")

	if err := srg.generateWithFallback(writer, render); err != nil {
		log.WithError(err).Error("Report generation failed")
		return err
	}

	log.Debug("Report generation completed")
	return nil
}

// generateWithFallback renders into a buffer first so that a format
// failure never leaves partial output behind.
func (srg *SafeReportGenerator) generateWithFallback(writer io.Writer, render renderFunc) error {
	var buf bytes.Buffer
	err := render(srg.ReportGenerator, &buf)
	if err == nil {
		if _, werr := writer.Write(buf.Bytes()); werr != nil {
			if srg.shouldAttemptOutputFallback(writer) {
				return srg.generateWithOutputFallback(writer, buf.Bytes(), werr)
			}
			return srg.wrapGenerationError(werr)
		}
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.shouldAttemptFormatFallback() {
		return srg.generateWithFormatFallback(writer, render, err)
	}

	return srg.wrapGenerationError(err)
}

func (srg *SafeReportGenerator) shouldAttemptFormatFallback() bool {
	return srg.config.Format != FormatConsole
}

func (srg *SafeReportGenerator) generateWithFormatFallback(writer io.Writer, render renderFunc, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := render(fallbackGenerator, writer); err != nil {
		return errors.UnexpectedError(
			errors.CodeUnexpectedError,
			"report fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

func (srg *SafeReportGenerator) shouldAttemptOutputFallback(writer io.Writer) bool {
	return namedFile(writer) != ""
}

func (srg *SafeReportGenerator) generateWithOutputFallback(writer io.Writer, report []byte, originalErr error) error {
	originalPath := namedFile(writer)
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	var content bytes.Buffer
	fmt.Fprintf(&content, "NOTE: Report saved to backup location due to error with original output\n")
	fmt.Fprintf(&content, "Original file: %s\n", originalPath)
	fmt.Fprintf(&content, "Original error: %v\n\n", originalErr)
	content.Write(report)

	if err := afero.WriteFile(srg.fs, backupPath, content.Bytes(), 0o644); err != nil {
		return errors.FileError(errors.CodeFileWrite, backupPath,
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err))
	}

	srg.logger.WithField("backup_file", backupPath).Warn("Report written to backup file")
	return nil
}

// wrapGenerationError keeps categorized errors and wraps everything else
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if detectionErr, ok := errors.AsDetectionError(err); ok {
		return detectionErr
	}

	if isSpaceError(err) || os.IsPermission(err) {
		return errors.FileError(errors.CodeFileWrite, "report output", err)
	}

	return errors.UnexpectedError(
		errors.CodeUnexpectedError,
		"report generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

// Utility functions

// namedFile returns the path of writers that are files, or ""
func namedFile(writer io.Writer) string {
	if f, ok := writer.(interface{ Name() string }); ok {
		name := f.Name()
		if name != "" && name != os.Stdout.Name() && name != os.Stderr.Name() {
			return name
		}
	}
	return ""
}

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	if f, ok := writer.(interface{ Name() string }); ok {
		if f.Name() != "" {
			return fmt.Sprintf("file:%s", f.Name())
		}
		return "file:unnamed"
	}
	return fmt.Sprintf("writer:%T", writer)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}
