package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeywords(t *testing.T) {
	set := DefaultKeywords()

	assert.NotEmpty(t, set.Version())
	assert.Contains(t, set.Keywords(), "nyscef")
	assert.Contains(t, set.Keywords(), "apy ")
	assert.Len(t, set.Groups(), 4)
}

func TestKeywordSet_IsBoilerplate(t *testing.T) {
	set := DefaultKeywords()

	tests := []struct {
		line     string
		expected bool
	}{
		{"STATEMENT PERIOD 01/01/2024 - 01/31/2024 $1,234.56", true},
		{"FILED: NEW YORK COUNTY CLERK 03/15/2024 09:12 AM", true},
		{"RECEIVED NYSCEF: 03/15/2024", true},
		{"APY Earned 0.01%", true},
		{"Happy holidays from all of us", false},
		{"01/15 ACH PAYMENT ACME CORP 1,200.00", false},
		{"POS PURCHASE GROCERY MART 45.67", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, set.IsBoilerplate(tt.line))
		})
	}
}

func TestKeywordSet_FilterBoilerplate(t *testing.T) {
	set := DefaultKeywords()
	lines := []string{
		"Page 1 of 3 Statement Date 01/31/2024",
		"01/15 ACH PAYMENT ACME CORP 1,200.00",
		"CONFIDENTIAL 01/31/2024 1,200.00",
	}

	assert.Equal(t, []string{"01/15 ACH PAYMENT ACME CORP 1,200.00"}, set.FilterBoilerplate(lines))
}

func TestParseKeywords(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		set, err := ParseKeywords([]byte(`
version = "test-1"

[[group]]
name = "custom"
keywords = ["Wire Fee", "wire fee", "SWIFT"]
`))
		require.NoError(t, err)
		assert.Equal(t, "test-1", set.Version())
		assert.Equal(t, []string{"wire fee", "swift"}, set.Keywords())
		assert.True(t, set.IsBoilerplate("INTL WIRE FEE 25.00 01/02/2024"))
	})

	tests := []struct {
		name string
		data string
	}{
		{"missing version", `[[group]]
name = "x"
keywords = ["a"]`},
		{"empty keyword", `version = "1"
[[group]]
name = "x"
keywords = ["  "]`},
		{"no keywords", `version = "1"`},
		{"invalid toml", `version = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeywords([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestClassifyPageStamps(t *testing.T) {
	tests := []struct {
		name         string
		found        []int
		declared     int
		actual       int
		verdict      PageVerdict
		gaps         []int
		pagesMissing int
	}{
		{
			name:     "no stamps",
			found:    nil,
			declared: 0,
			actual:   3,
			verdict:  VerdictUnknown,
		},
		{
			name:     "unknown page count",
			found:    []int{1, 3},
			declared: 3,
			actual:   0,
			verdict:  VerdictUnknown,
		},
		{
			name:     "embedded sub-document",
			found:    []int{1, 2, 3, 4},
			declared: 4,
			actual:   183,
			verdict:  VerdictEmbedded,
		},
		{
			name:     "continuation excerpt",
			found:    []int{3, 4},
			declared: 6,
			actual:   2,
			verdict:  VerdictContinuation,
		},
		{
			name:     "unstamped cover page",
			found:    []int{2, 3},
			declared: 3,
			actual:   2,
			verdict:  VerdictContinuation,
		},
		{
			name:     "unstamped cover page with matching count",
			found:    []int{2, 3},
			declared: 3,
			actual:   3,
			verdict:  VerdictCoverPage,
		},
		{
			name:     "all stamps present",
			found:    []int{1, 2, 3},
			declared: 3,
			actual:   3,
			verdict:  VerdictConsistent,
		},
		{
			name:     "trailing stamp missing",
			found:    []int{1, 2},
			declared: 3,
			actual:   3,
			verdict:  VerdictConsistent,
		},
		{
			name:     "internal stamp gap",
			found:    []int{1, 2, 4},
			declared: 4,
			actual:   4,
			verdict:  VerdictStampGaps,
			gaps:     []int{3},
		},
		{
			name:     "single first-page stamp",
			found:    []int{1},
			declared: 4,
			actual:   4,
			verdict:  VerdictStampGaps,
			gaps:     []int{2, 3, 4},
		},
		{
			name:     "batch contamination",
			found:    []int{1, 2, 16, 17},
			declared: 17,
			actual:   2,
			verdict:  VerdictContaminated,
		},
		{
			name:         "short document",
			found:        []int{1, 2},
			declared:     4,
			actual:       2,
			verdict:      VerdictShortDocument,
			pagesMissing: 2,
		},
		{
			name:         "short document with internal gap",
			found:        []int{1, 3},
			declared:     4,
			actual:       2,
			verdict:      VerdictShortDocument,
			gaps:         []int{2},
			pagesMissing: 2,
		},
		{
			name:     "page zero stamp",
			found:    []int{0, 1, 2},
			declared: 3,
			actual:   3,
			verdict:  VerdictIrregularStart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := ClassifyPageStamps(tt.found, tt.declared, tt.actual)
			assert.Equal(t, tt.verdict, eval.Verdict)
			assert.Equal(t, tt.gaps, eval.Gaps)
			assert.Equal(t, tt.pagesMissing, eval.PagesMissing)
		})
	}
}

func TestPageEvaluation_IsFalsePositive(t *testing.T) {
	assert.True(t, ClassifyPageStamps([]int{1, 2, 16, 17}, 17, 2).IsFalsePositive())
	assert.True(t, ClassifyPageStamps([]int{2, 3}, 3, 3).IsFalsePositive())
	assert.False(t, ClassifyPageStamps([]int{1, 3}, 4, 2).IsFalsePositive())
	assert.False(t, ClassifyPageStamps(nil, 4, 2).IsFalsePositive())
	assert.False(t, ClassifyPageStamps([]int{1, 2}, 2, 0).IsFalsePositive())
}

func TestClassifyPageStamps_DuplicateStamps(t *testing.T) {
	eval := ClassifyPageStamps([]int{2, 1, 2, 1}, 2, 2)
	assert.Equal(t, []int{1, 2}, eval.Found)
	assert.Equal(t, VerdictConsistent, eval.Verdict)
}
