package detector

import (
	"fmt"

	"github.com/shopspring/decimal"

	"document-anomaly-service/internal/models"
)

var (
	criticalDifference = decimal.NewFromInt(1000)
	highDifference     = decimal.NewFromInt(100)
	mediumDifference   = decimal.NewFromInt(10)
)

// AnomalyRecord is the review-queue entry for one anomaly type
type AnomalyRecord struct {
	Type        string           `json:"type" yaml:"type"`
	Description string           `json:"description" yaml:"description"`
	Severity    models.Severity  `json:"severity" yaml:"severity"`
	Amount      *decimal.Decimal `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// Records returns one record per anomaly type in result order
func Records(result *models.DetectionResult) []AnomalyRecord {
	if result == nil {
		return nil
	}
	records := make([]AnomalyRecord, 0, len(result.AnomalyTypes))
	for _, t := range result.AnomalyTypes {
		records = append(records, record(t, result))
	}
	return records
}

func record(anomalyType string, result *models.DetectionResult) AnomalyRecord {
	switch anomalyType {
	case models.FlagBalanceMismatch:
		diff := decimal.Zero
		if result.BalanceCheck != nil && result.BalanceCheck.Difference != nil {
			diff = *result.BalanceCheck.Difference
		}
		return AnomalyRecord{
			Type:        anomalyType,
			Description: fmt.Sprintf("Balance mismatch detected: difference of %s", models.FormatMoney(diff)),
			Severity:    differenceSeverity(diff),
			Amount:      &diff,
		}
	case AnomalyLayoutIrregularity:
		score := 0.0
		if result.LayoutCheck != nil {
			score = result.LayoutCheck.Score
		}
		return AnomalyRecord{
			Type:        anomalyType,
			Description: fmt.Sprintf("Layout irregularity: score %.2f", score),
			Severity:    models.SeverityMedium,
		}
	default:
		return AnomalyRecord{
			Type:        anomalyType,
			Description: fmt.Sprintf("Anomaly detected: %s", anomalyType),
			Severity:    models.SeverityMedium,
		}
	}
}

func differenceSeverity(diff decimal.Decimal) models.Severity {
	switch {
	case diff.GreaterThan(criticalDifference):
		return models.SeverityCritical
	case diff.GreaterThan(highDifference):
		return models.SeverityHigh
	case diff.GreaterThan(mediumDifference):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
