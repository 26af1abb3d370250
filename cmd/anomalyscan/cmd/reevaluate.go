package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"document-anomaly-service/cmd/anomalyscan/config"
	"document-anomaly-service/internal/cleanup"
	"document-anomaly-service/internal/patterns"
	"document-anomaly-service/internal/reporter"
	"document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

// reevaluateCmd represents the reevaluate command
var reevaluateCmd = &cobra.Command{
	Use:   "reevaluate",
	Short: "Re-check stored results against the current rules",
	Long: `Reevaluate applies the current boilerplate keyword list and page stamp
table to stored detection results. Page discontinuity flags the table now
suppresses are removed, and duplicate line flags lose the examples that are
now boilerplate. Detection is not re-run.

Examples:
  # Preview what would change
  anomalyscan reevaluate --results results.json --dry-run

  # Rewrite into a new file with an extended keyword list
  anomalyscan reevaluate --results results.json --rules-file boilerplate.toml --output-file cleaned.json`,

	PreRunE: validateReevaluateFlags,
	RunE:    runReevaluate,
}

func init() {
	rootCmd.AddCommand(reevaluateCmd)

	reevaluateCmd.Flags().StringP("results", "r", "", "stored results file, .json or .yaml (required)")
	reevaluateCmd.Flags().StringP("output-file", "o", "", "where to write rewritten rows (default: overwrite --results)")
	reevaluateCmd.Flags().Bool("dry-run", false, "report changes without writing rows")
	reevaluateCmd.Flags().VarP(newFormatValue("console", reportFormats...), "output-format", "f", "report format: console, json, yaml, csv")
	reevaluateCmd.Flags().String("report-file", "", "report file path (default: stdout)")
	reevaluateCmd.Flags().Bool("include-kept", false, "list flags that were kept in the report")
}

func validateReevaluateFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}

	if viper.GetString("results") == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "results", "", nil).
			WithSuggestion("Pass --results with the stored result rows written by 'anomalyscan batch'")
	}

	format := reporter.OutputFormat(viper.GetString("output-format"))
	if !format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, yaml, csv", format))
	}

	if err := ensureDir(dirOf(viper.GetString("output-file"))); err != nil {
		return err
	}
	return ensureDir(dirOf(viper.GetString("report-file")))
}

func runReevaluate(cmd *cobra.Command, args []string) error {
	log := logger.GetGlobalLogger().WithComponent("reevaluate")
	resultsFile := viper.GetString("results")

	keywords, err := config.LoadKeywords(appFs, viper.GetString(config.RulesFileKey))
	if err != nil {
		return err
	}
	detectorConfig, err := config.LoadDetectorConfig(viper.GetViper())
	if err != nil {
		return err
	}
	maxExamples := patterns.DefaultConfig().MaxDuplicateExamples
	if detectorConfig.Patterns != nil {
		maxExamples = detectorConfig.Patterns.MaxDuplicateExamples
	}

	var report *cleanup.Report
	err = logger.Timed(log, "reevaluate stored results", func() error {
		stored, err := config.LoadStoredResults(appFs, resultsFile)
		if err != nil {
			return err
		}
		report = cleanup.NewCleaner(keywords, maxExamples, log).Run(stored)
		return nil
	})
	if err != nil {
		return err
	}

	dryRun := viper.GetBool("dry-run")
	if !dryRun && report.Changed() > 0 {
		target := viper.GetString("output-file")
		if target == "" {
			target = resultsFile
		}
		if err := config.WriteStoredResults(appFs, target, report.Results); err != nil {
			return err
		}
		log.WithFields(logger.Fields{
			"file":    target,
			"changed": report.Changed(),
		}).Info("Stored results rewritten")
	}

	generator, err := newReportGenerator(viper.GetString("output-format"))
	if err != nil {
		return err
	}
	generator.GetConfiguration().IncludeKept = viper.GetBool("include-kept")

	output, closeOutput, err := openOutput(viper.GetString("report-file"))
	if err != nil {
		return err
	}
	defer closeOutput()

	if err := generator.GenerateCleanupReportSafely(report, output); err != nil {
		return err
	}

	if dryRun && viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nDry run: %d document(s) would change, nothing written.\n", report.Changed())
	}
	return nil
}
