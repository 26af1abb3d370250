package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code for it
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if detectionErr, ok := errors.AsDetectionError(err); ok {
		return h.handleDetectionError(detectionErr)
	}

	return h.handleGenericError(err)
}

// handleDetectionError prints a DetectionError with its context
func (h *CLIErrorHandler) handleDetectionError(err *errors.DetectionError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles errors without a category
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (manifest paths are relative to the manifest)
• Ensure the output directory exists and is writable`

	case errors.CategoryFormat:
		return `Format error help:
• Metadata files must be a JSON or YAML object
• Stored results must be a list of {document_id, title, result} rows
• Check that page_count is a whole number`

	case errors.CategoryUnsupportedImage:
		return `Image error help:
• Supported formats are JPEG, PNG, GIF, TIFF, BMP, WebP and scanned PDF
• PDFs must embed at least one page image
• Text-only documents can be checked without --image`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'anomalyscan <command> --help' to see all available options
• Try running with default settings first`

	default:
		return `For more help:
• Use 'anomalyscan --help' for general help
• Re-run with --verbose and --log-level debug for details`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// ShowBatchErrors prints the documents that failed during a batch run
func ShowBatchErrors(w io.Writer, processed, total int64, summary *errors.ErrorSummary) {
	if summary == nil || summary.Total == 0 {
		return
	}
	fmt.Fprintf(w, "\n%d of %d documents could not be processed", summary.Total, total)
	if total > 0 {
		fmt.Fprintf(w, " (%.1f%% completed)", float64(processed)/float64(total)*100)
	}
	fmt.Fprintf(w, "\n%v\n", summary)
}
