package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"document-anomaly-service/cmd/anomalyscan/config"
	"document-anomaly-service/internal/detector"
	"document-anomaly-service/internal/reporter"
	"document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

var reportFormats = []string{"console", "json", "yaml", "csv"}

// formatValue is a flag value restricted to a fixed set of output formats.
// Values are stored lower-cased.
type formatValue struct {
	value   string
	allowed []string
}

var _ pflag.Value = (*formatValue)(nil)

func newFormatValue(def string, allowed ...string) *formatValue {
	return &formatValue{value: def, allowed: allowed}
}

func (f *formatValue) String() string { return f.value }

func (f *formatValue) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range f.allowed {
		if s == a {
			f.value = s
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(f.allowed, ", "))
}

func (f *formatValue) Type() string { return "format" }

// bindFlags binds the running command's flags to viper so that config file
// and ANOMALY_* values apply only where the flag was not given.
func bindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "flags", cmd.Name(), err)
	}
	return nil
}

// newDetector builds a detector from the loaded configuration
func newDetector() (*detector.Detector, error) {
	detectorConfig, err := config.LoadDetectorConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if viper.GetBool("no-forensics") {
		detectorConfig.EnableForensics = false
	}

	keywords, err := config.LoadKeywords(appFs, viper.GetString(config.RulesFileKey))
	if err != nil {
		return nil, err
	}

	return detector.New(detectorConfig, logger.GetGlobalLogger(), detector.WithKeywords(keywords))
}

// newReportGenerator builds a safe report generator for the requested format
func newReportGenerator(format string) (*reporter.SafeReportGenerator, error) {
	reportConfig, err := config.CreateReportConfig(viper.GetViper(), format)
	if err != nil {
		return nil, err
	}
	return reporter.NewSafeReportGenerator(reportConfig, appFs, logger.GetGlobalLogger())
}

// openOutput returns the report destination: the named file, or stdout
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, nil, err
	}
	f, err := appFs.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileWrite, path, err)
	}
	return f, f.Close, nil
}

// ensureDir checks that an output directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	ok, err := afero.DirExists(appFs, dir)
	if err != nil || !ok {
		return errors.FileError(errors.CodeFileWrite, dir, err).
			WithSuggestion("Create the output directory first")
	}
	return nil
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}
