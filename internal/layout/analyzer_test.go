package layout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-anomaly-service/internal/models"
	"document-anomaly-service/pkg/logger"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(DefaultConfig(), logger.NewNopLogger())
	require.NoError(t, err)
	return a
}

func repeat(line string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = line
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"zero min lines", func(c *Config) { c.MinLines = 0 }, true},
		{"ratio out of range", func(c *Config) { c.GarbledSpecialRatio = 1.2 }, true},
		{"zero penalty", func(c *Config) { c.AlignmentPenalty = 0 }, true},
		{"negative std dev", func(c *Config) { c.AlignmentMaxStdDev = -1 }, true},
		{"negative blank run", func(c *Config) { c.BlankMaxRun = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestAnalyzer_NotApplicable(t *testing.T) {
	result := newTestAnalyzer(t).Analyze("one\ntwo\nthree")
	assert.Equal(t, models.StatusNotApplicable, result.Status)
	assert.Equal(t, 1.0, result.Score)
	assert.Empty(t, result.Issues)
}

func TestAnalyzer_CleanDocument(t *testing.T) {
	lines := repeat("Regular statement line with ordinary words", 15)
	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusPass, result.Status)
	assert.Equal(t, 1.0, result.Score)
	assert.Empty(t, result.Issues)
	assert.Empty(t, result.Details)
}

func TestAnalyzer_Garbled(t *testing.T) {
	lines := append(repeat("@@@@ #### %%%% abc", 6), repeat("plain words on a line", 6)...)
	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusFail, result.Status)
	assert.InDelta(t, 0.6, result.Score, 1e-9)
	assert.Equal(t, []string{"Found 6 lines with OCR artifacts"}, result.Issues)
	require.Len(t, result.Details, 3)
	assert.Equal(t, models.LayoutDetail{
		LineNum: 1,
		Text:    "@@@@ #### %%%% abc",
		Issue:   "Excessive special characters (possible OCR error)",
	}, result.Details[0])
}

func TestAnalyzer_ColumnMisalignment(t *testing.T) {
	indented := strings.Repeat(" ", 60) + "$100.00 rent"
	lines := append(repeat("$100.00 rent", 6), repeat(indented, 5)...)
	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusWarning, result.Status)
	assert.InDelta(t, 0.8, result.Score, 1e-9)
	assert.Equal(t, []string{"Column misalignment detected (std dev: 29.9)"}, result.Issues)
	require.Len(t, result.Details, 3)
	for i, d := range result.Details {
		assert.Equal(t, 7+i, d.LineNum)
		assert.Equal(t, "$100.00 rent", d.Text)
		assert.Equal(t, "Amount not aligned with other rows", d.Issue)
	}
}

func TestAnalyzer_Truncation(t *testing.T) {
	long := strings.Repeat("word ", 11) + "end"
	var lines []string
	for i := 0; i < 11; i++ {
		lines = append(lines, long, "and the sentence continues")
	}
	lines = append(lines, "Closing line.", "Footer")

	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusWarning, result.Status)
	assert.InDelta(t, 0.9, result.Score, 1e-9)
	assert.Equal(t, []string{"Found 11 potentially truncated lines"}, result.Issues)
	require.Len(t, result.Details, 2)
	assert.Equal(t, 1, result.Details[0].LineNum)
	assert.Equal(t, 3, result.Details[1].LineNum)
	assert.Equal(t, long[len(long)-50:], result.Details[0].Text)
}

func TestAnalyzer_BlankBlock(t *testing.T) {
	lines := append([]string{"start"}, repeat("", 21)...)
	lines = append(lines, "end")

	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusWarning, result.Status)
	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, []string{"Large empty section (21 blank lines)"}, result.Issues)
	assert.Equal(t, []models.LayoutDetail{{
		LineNum: 2,
		Text:    "[21 blank lines]",
		Issue:   "Possible missing content or page break issue",
	}}, result.Details)
}

func TestAnalyzer_TrailingBlankRunIgnored(t *testing.T) {
	lines := append([]string{"start"}, repeat("   ", 30)...)
	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusPass, result.Status)
	assert.Equal(t, 1.0, result.Score)
}

func TestAnalyzer_FailTakesPrecedence(t *testing.T) {
	lines := append(repeat("@@@@ #### %%%% abc", 6), "start")
	lines = append(lines, repeat("", 25)...)
	lines = append(lines, "end")

	result := newTestAnalyzer(t).Analyze(strings.Join(lines, "\n"))

	assert.Equal(t, models.StatusFail, result.Status)
	assert.Len(t, result.Issues, 2)
	assert.InDelta(t, 0.6, result.Score, 1e-9)
}

func TestAnalyzer_Idempotent(t *testing.T) {
	a := newTestAnalyzer(t)
	content := strings.Join(append(repeat("@@@@ #### %%%% abc", 6), repeat("text", 6)...), "\n")
	assert.Equal(t, a.Analyze(content), a.Analyze(content))
}
