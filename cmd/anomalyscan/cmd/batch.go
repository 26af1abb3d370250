package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"document-anomaly-service/cmd/anomalyscan/config"
	"document-anomaly-service/internal/detector"
	"document-anomaly-service/internal/reporter"
	"document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

const maxWorkers = 64

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Check every document listed in a manifest",
	Long: `Batch runs detection over the documents listed in a YAML or JSON manifest
using a bounded pool of workers, prints a summary report and optionally
writes one stored result row per document for later re-evaluation.

Manifest format:
  documents:
    - id: "1042"
      text: scans/1042.txt
      meta: scans/1042.json
      image: scans/1042.pdf
    - id: "1043"
      text: scans/1043.txt
      title: Rent roll 2024
      page_count: 3

Examples:
  anomalyscan batch --manifest documents.yaml
  anomalyscan batch --manifest documents.yaml --workers 8 --results-file results.json
  anomalyscan batch --manifest documents.yaml --output-format yaml --output-file report.yaml`,

	PreRunE: validateBatchFlags,
	RunE:    runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("manifest", "", "path to the document manifest (required)")
	batchCmd.Flags().IntP("workers", "w", 4, "documents processed at once")
	batchCmd.Flags().VarP(newFormatValue("console", reportFormats...), "output-format", "f", "output format: console, json, yaml, csv")
	batchCmd.Flags().StringP("output-file", "o", "", "report file path (default: stdout)")
	batchCmd.Flags().String("results-file", "", "write stored result rows here (.json, .yaml)")
	batchCmd.Flags().Bool("no-forensics", false, "skip image forensics")
}

func validateBatchFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd); err != nil {
		return err
	}

	if viper.GetString("manifest") == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "manifest", "", nil).
			WithSuggestion("Pass --manifest with the list of documents to check")
	}

	workers := viper.GetInt("workers")
	if workers < 1 || workers > maxWorkers {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", workers,
			fmt.Errorf("workers must be between 1 and %d", maxWorkers))
	}

	format := reporter.OutputFormat(viper.GetString("output-format"))
	if !format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, yaml, csv", format))
	}

	if err := ensureDir(dirOf(viper.GetString("output-file"))); err != nil {
		return err
	}
	return ensureDir(dirOf(viper.GetString("results-file")))
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	manifest, err := config.LoadManifest(appFs, viper.GetString("manifest"))
	if err != nil {
		return err
	}

	d, err := newDetector()
	if err != nil {
		return err
	}

	batch, failures := runDocuments(ctx, d, manifest, viper.GetInt("workers"))

	if resultsFile := viper.GetString("results-file"); resultsFile != "" {
		if err := config.WriteStoredResults(appFs, resultsFile, batch.StoredResults()); err != nil {
			return err
		}
	}

	generator, err := newReportGenerator(viper.GetString("output-format"))
	if err != nil {
		return err
	}
	output, closeOutput, err := openOutput(viper.GetString("output-file"))
	if err != nil {
		return err
	}
	defer closeOutput()

	if err := generator.GenerateBatchReportSafely(batch, output); err != nil {
		return err
	}

	total := int64(len(manifest.Documents))
	ShowBatchErrors(os.Stderr, total-int64(failures.Total), total, failures)
	if failures.Total == len(manifest.Documents) {
		return failures.Errors[0]
	}
	return nil
}

// runDocuments detects every manifest document on a bounded worker pool.
// Entries keep manifest order. Documents that cannot be loaded have no
// result and are reported in the returned summary.
func runDocuments(ctx context.Context, d *detector.Detector, manifest *config.Manifest, workers int) (*reporter.BatchReport, *errors.ErrorSummary) {
	log := logger.GetGlobalLogger().WithComponent("batch")
	batch := &reporter.BatchReport{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		RulesVersion: d.Keywords().Version(),
		Entries:      make([]reporter.BatchEntry, len(manifest.Documents)),
	}

	progress := logger.NewBatchProgress(log, len(manifest.Documents), 0)

	var mu sync.Mutex
	var loadErrors []*errors.DetectionError

	p := pool.New().WithMaxGoroutines(workers)
	for i, in := range manifest.Documents {
		p.Go(func() {
			entry := reporter.BatchEntry{DocumentID: in.ID, Title: in.Title}
			defer func() { batch.Entries[i] = entry }()

			doc, err := config.LoadDocument(appFs, in)
			if err != nil {
				detectionErr := errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeFileNotFound, "loading document "+in.ID)
				detectionErr.WithContext("document_id", in.ID)
				mu.Lock()
				loadErrors = append(loadErrors, detectionErr)
				mu.Unlock()
				progress.Record(logger.OutcomeFailed)
				return
			}
			if entry.Title == "" {
				entry.Title = doc.Metadata.Title
			}

			entry.Result = d.Detect(ctx, doc)
			switch {
			case entry.Result.Error != "":
				progress.Record(logger.OutcomeFailed)
			case entry.Result.HasAnomalies:
				progress.Record(logger.OutcomeFlagged)
			default:
				progress.Record(logger.OutcomeClean)
			}
		})
	}
	p.Wait()

	counts := progress.Finish()
	batch.Duration = time.Since(batch.StartedAt)

	log.WithFields(logger.Fields{
		"run_id":        batch.RunID,
		"documents":     len(batch.Entries),
		"flagged":       counts.Flagged,
		"load_failures": len(loadErrors),
	}).Info("Batch complete")

	return batch, errors.NewErrorSummary(loadErrors)
}
