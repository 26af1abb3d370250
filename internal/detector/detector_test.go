package detector

import (
	"bytes"
	"context"
	"image"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/internal/rules"
	"document-anomaly-service/pkg/logger"
)

const statementText = `Account Summary
4 Checks $600.00
Check Number Date Amount
1001 03/01 $100.00
1002 03/02 $200.00
1005 03/05 $50.00`

func newTestDetector(t *testing.T, mutate func(c *Config)) *Detector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	d, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	return d
}

func flatPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 120, 120))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 240, 240, 240, 255
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func flagTypes(result *models.DetectionResult) []string {
	types := []string{}
	for _, f := range result.Flags() {
		types = append(types, f.Type())
	}
	return types
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"default", func(c *Config) {}, ""},
		{"missing layout", func(c *Config) { c.Layout = nil }, "required"},
		{"bad reconciler", func(c *Config) { c.Reconciler.MaxReportedGap = -1 }, "reconciler"},
		{"bad patterns", func(c *Config) { c.Patterns.MaxDuplicateExamples = 0 }, "patterns"},
		{"bad layout", func(c *Config) { c.Layout.MinLines = 0 }, "layout"},
		{"bad forensics", func(c *Config) { c.Forensics.MaxConcurrency = 0 }, "forensics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout = nil

	d, err := New(cfg, logger.NewNopLogger())
	assert.Nil(t, d)
	assert.Error(t, err)
}

func TestInferDocumentType(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		content  string
		expected models.DocumentType
	}{
		{"statement title", "March Statement", "", models.DocumentBankStatement},
		{"bank in content", "scan", "First National BANK", models.DocumentBankStatement},
		{"invoice", "Invoice 42", "Amount due", models.DocumentInvoice},
		{"receipt content", "", "Store receipt", models.DocumentInvoice},
		{"rent roll", "2024 Rent Roll", "", models.DocumentRentRoll},
		{"court filing", "Motion", "Supreme Court of the State", models.DocumentCourtFiling},
		{"bank wins over invoice", "Invoice", "bank wire details", models.DocumentBankStatement},
		{"unknown", "notes", "lorem ipsum", models.DocumentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferDocumentType(tt.title, tt.content))
		})
	}
}

func TestDetect_BankStatement(t *testing.T) {
	d := newTestDetector(t, nil)

	result := d.Detect(context.Background(), models.Document{
		Metadata: models.DocumentMetadata{Title: "March Statement", PageCount: 1},
		Content:  statementText,
	})

	require.NotNil(t, result)
	assert.Empty(t, result.Error)
	assert.Equal(t, models.DocumentBankStatement, result.DocumentType)
	assert.True(t, result.HasAnomalies)
	assert.Equal(t, []string{models.FlagBalanceMismatch, models.FlagCheckSequenceGap}, result.AnomalyTypes)

	require.NotNil(t, result.BalanceCheck)
	assert.Equal(t, models.StatusFail, result.BalanceCheck.Status)
	require.NotNil(t, result.BalanceCheck.Difference)
	assert.True(t, decimal.RequireFromString("250").Equal(*result.BalanceCheck.Difference))

	flags := result.Flags()
	require.Len(t, flags, 2)
	assert.Equal(t, models.FlagBalanceMismatch, flags[0].Type())
	assert.Equal(t, "Transaction mismatch: Statement claims 4 Checks totaling $600.00, but statement shows actual total of $350.00. Missing 1 transaction(s) worth $250.00.", flags[0].Description())
	assert.Equal(t, models.SeverityHigh, flags[0].Severity())
	assert.Equal(t, models.FlagCheckSequenceGap, flags[1].Type())
	assert.Equal(t, []int{1003, 1004}, flags[1].MissingNumbers())

	assert.Equal(t, models.StatusNotApplicable, result.LayoutCheck.Status)
	assert.Nil(t, result.ImageForensics)
	assert.ElementsMatch(t,
		[]string{"reversed_columns", "truncated_total", "duplicate_lines", "page_discontinuity"},
		result.PatternCheck.PatternsChecked)
}

func TestDetect_NonLedgerDocument(t *testing.T) {
	d := newTestDetector(t, nil)
	content := "Invoice 42\n03/15 Payment applied ref 4821 $1,250.00\n03/15 Payment applied ref 4821 $1,250.00\n4 Checks"

	result := d.Detect(context.Background(), models.Document{
		Metadata: models.DocumentMetadata{Title: "Invoice 42"},
		Content:  content,
	})

	assert.Equal(t, models.DocumentInvoice, result.DocumentType)
	require.NotNil(t, result.BalanceCheck)
	assert.Equal(t, models.StatusNotApplicable, result.BalanceCheck.Status)
	assert.Equal(t, map[string]interface{}{"status": "NOT_APPLICABLE"}, result.BalanceCheck.ToMap())
	assert.True(t, result.HasAnomalies)
	assert.Equal(t, []string{models.FlagDuplicateLines}, result.AnomalyTypes)
	assert.Equal(t, []string{models.FlagDuplicateLines}, flagTypes(result))
}

func TestDetect_PageStampGaps(t *testing.T) {
	d := newTestDetector(t, nil)

	result := d.Detect(context.Background(), models.Document{
		Metadata: models.DocumentMetadata{Title: "notes", PageCount: 4},
		Content:  "Page 1 of 4\nMeeting notes",
	})

	require.Equal(t, []string{models.FlagPageDiscontinuity}, flagTypes(result))
	flag := result.Flags()[0]
	assert.Equal(t, models.SeverityLow, flag.Severity())
	assert.Equal(t, []int{1}, flag.FoundPages())
	assert.Equal(t, []string{"Page stamps missing for pages [2, 3, 4] (PDF has correct 4 pages)"}, flag.Details())
}

func TestDetect_LayoutFailure(t *testing.T) {
	d := newTestDetector(t, nil)
	content := strings.Repeat("##$$%%^^&&**ab\n", 12)

	result := d.Detect(context.Background(), models.Document{
		Metadata: models.DocumentMetadata{Title: "scan"},
		Content:  content,
	})

	assert.Equal(t, models.StatusFail, result.LayoutCheck.Status)
	assert.True(t, result.HasAnomalies)
	assert.Equal(t, []string{AnomalyLayoutIrregularity}, result.AnomalyTypes)
	assert.Empty(t, result.Flags())
}

func TestDetect_CleanDocument(t *testing.T) {
	d := newTestDetector(t, nil)

	result := d.Detect(context.Background(), models.Document{
		Metadata: models.DocumentMetadata{Title: "letter"},
		Content:  "Dear reader,\nThank you for your time.",
	})

	assert.False(t, result.HasAnomalies)
	assert.Empty(t, result.AnomalyTypes)
	assert.Empty(t, result.Flags())
	assert.Equal(t, models.DocumentUnknown, result.DocumentType)
	assert.Empty(t, AnomalyTags(result))
}

func TestDetect_Forensics(t *testing.T) {
	png := flatPNG(t)

	tests := []struct {
		name     string
		mutate   func(c *Config)
		mimeType string
		analyzed bool
		ran      bool
	}{
		{"image mime type", nil, "image/png", true, true},
		{"empty mime type", nil, "", true, true},
		{"text mime type", nil, "text/plain", false, false},
		{"forensics disabled", func(c *Config) { c.EnableForensics = false }, "image/png", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, tt.mutate)
			result := d.Detect(context.Background(), models.Document{
				Metadata:  models.DocumentMetadata{Title: "scan", MimeType: tt.mimeType, OriginalFileName: "scan.png"},
				Content:   "hello",
				ImageData: png,
			})

			if !tt.ran {
				assert.Nil(t, result.ImageForensics)
				return
			}
			require.NotNil(t, result.ImageForensics)
			assert.Equal(t, tt.analyzed, result.ImageForensics.Analyzed)
			assert.Equal(t, "scan.png", result.ImageForensics.Filename)
			assert.False(t, result.ImageForensics.ManipulationsDetected)
			assert.False(t, result.HasAnomalies)
		})
	}
}

func TestDetect_UndecodableImage(t *testing.T) {
	d := newTestDetector(t, nil)

	result := d.Detect(context.Background(), models.Document{
		Metadata:  models.DocumentMetadata{Title: "scan", MimeType: "image/jpeg"},
		Content:   "hello",
		ImageData: []byte("not a jpeg"),
	})

	require.NotNil(t, result.ImageForensics)
	assert.False(t, result.ImageForensics.Analyzed)
	assert.NotEmpty(t, result.ImageForensics.Error)
	assert.False(t, result.HasAnomalies)
	assert.Empty(t, result.Error)
}

func TestDetect_BrokenPDFPageCount(t *testing.T) {
	d := newTestDetector(t, func(c *Config) { c.EnableForensics = false })

	result := d.Detect(context.Background(), models.Document{
		Metadata:  models.DocumentMetadata{Title: "notes", MimeType: "application/pdf"},
		Content:   "Page 1 of 4\nMeeting notes",
		ImageData: []byte("%PDF-1.4\nbroken"),
	})

	// Unknown page count never flags.
	assert.Empty(t, result.Error)
	assert.Empty(t, result.Flags())
}

func TestPageCount_PDFByMimeType(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewLogger(&logger.Config{Level: logger.DebugLevel, Format: logger.JSONFormat, Writer: &buf})
	require.NoError(t, err)
	d, err := New(DefaultConfig(), log)
	require.NoError(t, err)

	tests := []struct {
		name       string
		mime       string
		wantParsed bool
	}{
		{"pdf mime without header", "application/pdf", true},
		{"png mime without header", "image/png", false},
		{"no mime without header", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			n := d.pageCount(models.Document{
				Metadata:  models.DocumentMetadata{MimeType: tt.mime},
				ImageData: []byte("scanner preamble then garbage"),
			})

			assert.Equal(t, 0, n)
			assert.Equal(t, tt.wantParsed, strings.Contains(buf.String(), "Could not read page count from PDF"))
		})
	}
}

func TestDetect_Idempotent(t *testing.T) {
	d := newTestDetector(t, nil)
	doc := models.Document{
		Metadata:  models.DocumentMetadata{Title: "March Statement", PageCount: 2},
		Content:   statementText + "\nPage 1 of 3",
		ImageData: flatPNG(t),
	}

	first := d.Detect(context.Background(), doc)
	second := d.Detect(context.Background(), doc)

	assert.Equal(t, first.ToMap(), second.ToMap())
}

func TestDetect_CustomKeywords(t *testing.T) {
	keywords, err := rules.ParseKeywords([]byte(`
version = "test"

[[group]]
name = "payments"
keywords = ["payment applied"]
`))
	require.NoError(t, err)

	d, err := New(DefaultConfig(), logger.NewNopLogger(), WithKeywords(keywords))
	require.NoError(t, err)
	assert.Equal(t, "test", d.Keywords().Version())

	result := d.Detect(context.Background(), models.Document{
		Metadata: models.DocumentMetadata{Title: "Invoice 42"},
		Content:  "03/15 Payment applied ref 4821 $1,250.00\n03/15 Payment applied ref 4821 $1,250.00",
	})
	assert.Empty(t, result.Flags())
}

func TestAnomalyTags(t *testing.T) {
	result := &models.DetectionResult{AnomalyTypes: []string{"balance_mismatch", "ela_anomaly"}}
	assert.Equal(t, []string{"anomaly:balance_mismatch", "anomaly:ela_anomaly"}, AnomalyTags(result))
	assert.Nil(t, AnomalyTags(nil))
}

func TestRecords(t *testing.T) {
	diff := func(s string) *decimal.Decimal {
		d := decimal.RequireFromString(s)
		return &d
	}

	tests := []struct {
		name        string
		difference  *decimal.Decimal
		severity    models.Severity
		description string
	}{
		{"critical", diff("1500"), models.SeverityCritical, "Balance mismatch detected: difference of $1,500.00"},
		{"high", diff("250"), models.SeverityHigh, "Balance mismatch detected: difference of $250.00"},
		{"medium", diff("10.01"), models.SeverityMedium, "Balance mismatch detected: difference of $10.01"},
		{"low", diff("10"), models.SeverityLow, "Balance mismatch detected: difference of $10.00"},
		{"count only", nil, models.SeverityLow, "Balance mismatch detected: difference of $0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &models.DetectionResult{
				AnomalyTypes: []string{models.FlagBalanceMismatch},
				BalanceCheck: &models.BalanceCheck{Status: models.StatusFail, Difference: tt.difference},
			}
			records := Records(result)
			require.Len(t, records, 1)
			assert.Equal(t, tt.severity, records[0].Severity)
			assert.Equal(t, tt.description, records[0].Description)
		})
	}

	result := &models.DetectionResult{
		AnomalyTypes: []string{AnomalyLayoutIrregularity, models.FlagDuplicateLines},
		LayoutCheck:  &models.LayoutCheck{Status: models.StatusFail, Score: 0.6},
	}
	records := Records(result)
	require.Len(t, records, 2)
	assert.Equal(t, "Layout irregularity: score 0.60", records[0].Description)
	assert.Equal(t, models.SeverityMedium, records[0].Severity)
	assert.Equal(t, "Anomaly detected: duplicate_lines", records[1].Description)
	assert.Nil(t, records[1].Amount)
}
