package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

// Severity grades how urgently a finding needs review
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// String returns the string representation of Severity
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// CheckStatus is the outcome of a balance or layout check
type CheckStatus string

const (
	StatusPass          CheckStatus = "PASS"
	StatusWarning       CheckStatus = "WARNING"
	StatusFail          CheckStatus = "FAIL"
	StatusNotApplicable CheckStatus = "NOT_APPLICABLE"
	StatusError         CheckStatus = "ERROR"
)

// String returns the string representation of CheckStatus
func (s CheckStatus) String() string {
	return string(s)
}

// TransactionType is the noun a statement uses when it claims a count
type TransactionType string

const (
	TransactionAddition    TransactionType = "Addition"
	TransactionSubtraction TransactionType = "Subtraction"
	TransactionDeposit     TransactionType = "Deposit"
	TransactionWithdrawal  TransactionType = "Withdrawal"
	TransactionCheck       TransactionType = "Check"
	TransactionDebit       TransactionType = "Debit"
	TransactionCredit      TransactionType = "Credit"
)

// ParseTransactionType normalizes a matched claim noun such as "SUBTRACTIONS"
func ParseTransactionType(s string) (TransactionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "s")

	for _, t := range []TransactionType{
		TransactionAddition, TransactionSubtraction, TransactionDeposit,
		TransactionWithdrawal, TransactionCheck, TransactionDebit, TransactionCredit,
	} {
		if strings.ToLower(string(t)) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type: %s", s)
}

// IsOutflow reports whether claims of this type are reconciled against the
// check ledger.
func (t TransactionType) IsOutflow() bool {
	return t == TransactionSubtraction || t == TransactionCheck || t == TransactionDebit
}

// LedgerEntry is one parsed check line
type LedgerEntry struct {
	CheckNumber int             `json:"check_number"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
}

// String returns a string representation of the LedgerEntry
func (e LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{Check: %d, Date: %s, Amount: %s}", e.CheckNumber, e.Date, e.Amount.StringFixed(2))
}

// LedgerSummary is the authoritative count and total of the check ledger.
// Total is nil when neither a summary line nor any entry was found.
type LedgerSummary struct {
	Count int              `json:"count"`
	Total *decimal.Decimal `json:"total"`
}

// HasTotal reports whether a non-zero total is available for comparison
func (s LedgerSummary) HasTotal() bool {
	return s.Total != nil && !s.Total.IsZero()
}

// TransactionClaim is a count the document asserts about itself,
// e.g. "13 Subtractions".
type TransactionClaim struct {
	ClaimedCount    int             `json:"claimed_count"`
	TransactionType TransactionType `json:"transaction_type"`
	// Offset is the byte offset just past the claim in the source text.
	Offset int `json:"-"`
}

// PageStampObservation is one "page N of M" occurrence
type PageStampObservation struct {
	PageNumber  int `json:"page_number"`
	DeclaredMax int `json:"declared_max"`
}

// ParseDecimalFromString parses a money value, tolerating currency symbols,
// thousands separators and stray spaces left behind by OCR.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// FormatMoney renders an amount the way statements print it, e.g. "$12,887.90".
// Negative amounts keep the sign after the currency symbol.
func FormatMoney(d decimal.Decimal) string {
	digits := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	whole, cents, _ := strings.Cut(digits, ".")
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = moneyPrinter.Sprintf("%d", n)
	}
	return "$" + sign + whole + "." + cents
}
