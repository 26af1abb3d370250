package reconciler

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CorrectOCRAmount fixes a claimed total whose leading digit was misread by
// OCR, e.g. "42,887.90" for "12,887.90". When raw is implausibly far from
// reference, two alternates are tried: the leading digit dropped, and the
// leading digit replaced by "1". The candidate closest to reference wins and
// ties keep raw.
func CorrectOCRAmount(raw, reference decimal.Decimal, config *Config) decimal.Decimal {
	if config == nil {
		config = DefaultConfig()
	}
	if reference.IsZero() || raw.IsNegative() {
		return raw
	}

	high := reference.Mul(decimal.NewFromFloat(config.OCRHighRatio))
	low := reference.Mul(decimal.NewFromFloat(config.OCRLowRatio))
	if !raw.GreaterThan(high) && !raw.LessThan(low) {
		return raw
	}

	fixed := raw.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")
	if len(intPart) < config.OCRMinDigits {
		return raw
	}

	best := raw
	bestDistance := raw.Sub(reference).Abs()
	for _, candidate := range []string{
		intPart[1:] + "." + frac,
		"1" + intPart[1:] + "." + frac,
	} {
		alt, err := decimal.NewFromString(candidate)
		if err != nil {
			continue
		}
		if d := alt.Sub(reference).Abs(); d.LessThan(bestDistance) {
			best, bestDistance = alt, d
		}
	}
	return best
}
