// Package reconciler compares the transaction counts and totals a statement
// claims about itself against its parsed check ledger.
package reconciler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"document-anomaly-service/internal/models"
	apperrors "document-anomaly-service/pkg/errors"
	"document-anomaly-service/pkg/logger"
)

var (
	claimPattern = regexp.MustCompile(`(?i)(\d+)\s+(Addition|Subtraction|Deposit|Withdrawal|Check|Debit|Credit)s?`)

	// Applied to the text right after a claim: whitespace, OCR noise such as
	// "~4 2,887.90", then the amount run.
	claimedAmountPattern = regexp.MustCompile(`^\s+[~\-+$\s]*([\d\s,.]+)`)
	amountRunPattern     = regexp.MustCompile(`([\d,\s]+\.\d{2})`)
)

// Config holds the reconciliation thresholds
type Config struct {
	MinClaimCount int `mapstructure:"min_claim_count" json:"min_claim_count"`
	MaxClaimCount int `mapstructure:"max_claim_count" json:"max_claim_count"`

	// A claimed amount this many times above (or below) the ledger total is
	// considered an OCR misread and goes through digit correction.
	OCRHighRatio float64 `mapstructure:"ocr_high_ratio" json:"ocr_high_ratio"`
	OCRLowRatio  float64 `mapstructure:"ocr_low_ratio" json:"ocr_low_ratio"`
	// Minimum digits in the integer part before correction is attempted.
	OCRMinDigits int `mapstructure:"ocr_min_digits" json:"ocr_min_digits"`

	// Claimed amounts outside (MinClaimedAmount, MaxClaimedAmount) are discarded.
	MinClaimedAmount float64 `mapstructure:"min_claimed_amount" json:"min_claimed_amount"`
	MaxClaimedAmount float64 `mapstructure:"max_claimed_amount" json:"max_claimed_amount"`

	// Sequence gaps with more missing numbers than this are not reported.
	MaxReportedGap int `mapstructure:"max_reported_gap" json:"max_reported_gap"`
}

// DefaultConfig returns the thresholds calibrated against scanned statements
func DefaultConfig() *Config {
	return &Config{
		MinClaimCount:    1,
		MaxClaimCount:    1000,
		OCRHighRatio:     3.0,
		OCRLowRatio:      0.3,
		OCRMinDigits:     4,
		MinClaimedAmount: 0.01,
		MaxClaimedAmount: 1000000,
		MaxReportedGap:   5,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MinClaimCount < 0 || c.MaxClaimCount < c.MinClaimCount {
		return fmt.Errorf("claim count range [%d, %d] is invalid", c.MinClaimCount, c.MaxClaimCount)
	}
	if c.OCRHighRatio <= 1 {
		return fmt.Errorf("ocr high ratio must be greater than 1, got %v", c.OCRHighRatio)
	}
	if c.OCRLowRatio <= 0 || c.OCRLowRatio >= 1 {
		return fmt.Errorf("ocr low ratio must be between 0 and 1, got %v", c.OCRLowRatio)
	}
	if c.OCRMinDigits < 2 {
		return fmt.Errorf("ocr min digits must be at least 2, got %d", c.OCRMinDigits)
	}
	if c.MaxClaimedAmount <= c.MinClaimedAmount {
		return fmt.Errorf("claimed amount range (%v, %v) is invalid", c.MinClaimedAmount, c.MaxClaimedAmount)
	}
	if c.MaxReportedGap < 0 {
		return fmt.Errorf("max reported gap cannot be negative, got %d", c.MaxReportedGap)
	}
	return nil
}

// TransactionReconciler checks claimed counts and totals against the ledger
type TransactionReconciler struct {
	config *Config
	logger logger.Logger
}

// NewTransactionReconciler creates a reconciler with the given thresholds
func NewTransactionReconciler(config *Config, log logger.Logger) (*TransactionReconciler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "reconciler", err.Error(), err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &TransactionReconciler{
		config: config,
		logger: log.WithComponent("reconciler"),
	}, nil
}

// ParseClaims finds every "<N> <Type>s" claim with a plausible count.
// Counts that do not convert are returned as format errors and skipped.
func (r *TransactionReconciler) ParseClaims(text string) ([]models.TransactionClaim, []*apperrors.DetectionError) {
	var claims []models.TransactionClaim
	var skipped []*apperrors.DetectionError

	for _, loc := range claimPattern.FindAllStringSubmatchIndex(text, -1) {
		countText := text[loc[2]:loc[3]]
		count, err := strconv.Atoi(countText)
		if err != nil {
			skipped = append(skipped, apperrors.FormatError(apperrors.CodeInvalidNumber, "claimed_count", countText, err))
			continue
		}
		if count < r.config.MinClaimCount || count > r.config.MaxClaimCount {
			continue
		}
		txType, err := models.ParseTransactionType(text[loc[4]:loc[5]])
		if err != nil {
			skipped = append(skipped, apperrors.FormatError(apperrors.CodeInvalidDocument, "transaction_type", text[loc[4]:loc[5]], err))
			continue
		}
		claims = append(claims, models.TransactionClaim{
			ClaimedCount:    count,
			TransactionType: txType,
			Offset:          loc[1],
		})
	}
	return claims, skipped
}

// Reconcile compares every outflow claim against the ledger summary. The
// result fails when any claimed count differs from a non-empty ledger.
func (r *TransactionReconciler) Reconcile(text string, ledger models.LedgerSummary) *models.BalanceCheck {
	result := models.NewBalanceCheck()

	claims, skipped := r.ParseClaims(text)
	for _, claim := range claims {
		if !claim.TransactionType.IsOutflow() {
			continue
		}
		if ledger.Count == 0 || ledger.Count == claim.ClaimedCount {
			continue
		}
		missing := claim.ClaimedCount - ledger.Count

		claimed, ok, err := r.claimedAmount(text, claim, ledger)
		if err != nil {
			skipped = append(skipped, err)
		}

		if ok && ledger.HasTotal() {
			diff := claimed.Sub(*ledger.Total).Abs()
			result.Difference = &diff
			result.Issues = append(result.Issues, fmt.Sprintf(
				"Transaction mismatch: Statement claims %d %ss totaling %s, but statement shows actual total of %s. Missing %d transaction(s) worth %s.",
				claim.ClaimedCount, claim.TransactionType, models.FormatMoney(claimed),
				models.FormatMoney(*ledger.Total), missing, models.FormatMoney(diff)))
		} else {
			result.Issues = append(result.Issues, fmt.Sprintf(
				"Transaction count mismatch: Claims %d %ss but only %d items found. Missing %d transaction(s).",
				claim.ClaimedCount, claim.TransactionType, ledger.Count, missing))
		}
	}

	for _, err := range skipped {
		r.logger.WithError(err).Debug("Skipped unparseable claim text")
	}

	if len(result.Issues) > 0 {
		result.Status = models.StatusFail
		result.Severity = models.SeverityHigh
		r.logger.WithField("issues", len(result.Issues)).Info("Transaction reconciliation failed")
	}
	return result
}

// MismatchFlags turns each reconciliation issue into a balance_mismatch flag
func MismatchFlags(check *models.BalanceCheck) []models.Flag {
	if check == nil || check.Status != models.StatusFail {
		return nil
	}
	flags := make([]models.Flag, 0, len(check.Issues))
	for _, issue := range check.Issues {
		flags = append(flags, models.NewFlag(models.FlagBalanceMismatch, issue, check.Severity, nil))
	}
	return flags
}

// claimedAmount reads the total printed right after a claim, correcting a
// likely OCR misread of the leading digit.
func (r *TransactionReconciler) claimedAmount(text string, claim models.TransactionClaim, ledger models.LedgerSummary) (decimal.Decimal, bool, *apperrors.DetectionError) {
	m := claimedAmountPattern.FindStringSubmatch(text[claim.Offset:])
	if m == nil {
		return decimal.Zero, false, nil
	}
	run := amountRunPattern.FindStringSubmatch(strings.TrimSpace(m[1]))
	if run == nil {
		return decimal.Zero, false, nil
	}

	claimed, err := models.ParseDecimalFromString(run[1])
	if err != nil {
		return decimal.Zero, false, apperrors.FormatError(apperrors.CodeInvalidAmount, "claimed_amount", run[1], err)
	}

	if ledger.HasTotal() {
		corrected := CorrectOCRAmount(claimed, *ledger.Total, r.config)
		if !corrected.Equal(claimed) {
			r.logger.WithFields(logger.Fields{
				"raw":       claimed.StringFixed(2),
				"corrected": corrected.StringFixed(2),
			}).Debug("Adjusted claimed total toward ledger total")
		}
		claimed = corrected
	}

	if claimed.LessThanOrEqual(decimal.NewFromFloat(r.config.MinClaimedAmount)) ||
		claimed.GreaterThanOrEqual(decimal.NewFromFloat(r.config.MaxClaimedAmount)) {
		return decimal.Zero, false, nil
	}
	return claimed, true, nil
}
