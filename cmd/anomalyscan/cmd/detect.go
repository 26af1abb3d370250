package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"document-anomaly-service/cmd/anomalyscan/config"
	"document-anomaly-service/internal/detector"
	"document-anomaly-service/internal/reporter"
	"document-anomaly-service/pkg/errors"
)

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Check one document for anomalies",
	Long: `Detect runs every applicable check against one document: balance and
check sequence reconciliation for statements, page stamp and duplicate line
checks, layout scoring and, when an image or scanned PDF is supplied, image
forensics.

Examples:
  # OCR text only
  anomalyscan detect --text statement.txt --title "Bank statement March" --page-count 4

  # Text, document-store metadata and the scanned PDF
  anomalyscan detect --text scan.txt --meta scan.json --image scan.pdf

  # Machine-readable output
  anomalyscan detect --text scan.txt --output-format json --output-file result.json`,

	PreRunE: validateDetectFlags,
	RunE:    runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringP("text", "t", "", "path to the OCR text file")
	detectCmd.Flags().StringP("meta", "m", "", "path to a JSON or YAML metadata file")
	detectCmd.Flags().StringP("image", "i", "", "path to the scanned image or PDF")
	detectCmd.Flags().String("title", "", "document title (overrides metadata)")
	detectCmd.Flags().Int("page-count", 0, "true page count (overrides metadata)")
	detectCmd.Flags().String("mime-type", "", "mime type of the image file (overrides metadata)")
	detectCmd.Flags().VarP(newFormatValue("console", reportFormats...), "output-format", "f", "output format: console, json, yaml, csv")
	detectCmd.Flags().StringP("output-file", "o", "", "output file path (default: stdout)")
	detectCmd.Flags().Bool("no-forensics", false, "skip image forensics")
}

func detectInput() config.DocumentInput {
	return config.DocumentInput{
		ID:        "detect",
		TextFile:  viper.GetString("text"),
		MetaFile:  viper.GetString("meta"),
		ImageFile: viper.GetString("image"),
		Title:     viper.GetString("title"),
		PageCount: viper.GetInt("page-count"),
		MimeType:  viper.GetString("mime-type"),
	}
}

func validateDetectFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}

	if err := detectInput().Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "text", "", err).
			WithSuggestion("Pass --text with the OCR output, --image with the scan, or both")
	}

	format := reporter.OutputFormat(viper.GetString("output-format"))
	if !format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, yaml, csv", format))
	}

	return ensureDir(dirOf(viper.GetString("output-file")))
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	doc, err := config.LoadDocument(appFs, detectInput())
	if err != nil {
		return err
	}

	d, err := newDetector()
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Checking %q (%d characters, %d image bytes)...\n",
			doc.Metadata.Title, len(doc.Content), len(doc.ImageData))
	}

	result := d.Detect(ctx, doc)

	generator, err := newReportGenerator(viper.GetString("output-format"))
	if err != nil {
		return err
	}
	output, closeOutput, err := openOutput(viper.GetString("output-file"))
	if err != nil {
		return err
	}
	defer closeOutput()

	if err := generator.GenerateReportSafely(result, output); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nDocument type: %s\n", result.DocumentType)
		fmt.Fprintf(os.Stderr, "Anomalies: %t %v\n", result.HasAnomalies, result.AnomalyTypes)
		if tags := detector.AnomalyTags(result); len(tags) > 0 {
			fmt.Fprintf(os.Stderr, "Tags: %v\n", tags)
		}
	}

	return nil
}
